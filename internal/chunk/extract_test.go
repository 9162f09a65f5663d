package chunk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseSource(t *testing.T, source, language string) *Tree {
	t.Helper()
	p := NewParser()
	t.Cleanup(p.Close)
	tree, err := p.Parse(context.Background(), []byte(source), language)
	require.NoError(t, err)
	return tree
}

func findRange(ranges []NodeRange, kind, symbol string) *NodeRange {
	for i := range ranges {
		if ranges[i].Kind == kind && ranges[i].Symbol == symbol {
			return &ranges[i]
		}
	}
	return nil
}

func TestExtractJavaScriptFunctions(t *testing.T) {
	source := `function getUserScore(userId) {
  return scores[userId];
}

const computeAverage = (values) => {
  return values.reduce((a, b) => a + b, 0) / values.length;
};

class ScoreKeeper {
  record(value) {
    this.values.push(value);
  }
}
`
	ranges := ExtractRanges(parseSource(t, source, "javascript"))

	fn := findRange(ranges, KindFunction, "getUserScore")
	require.NotNil(t, fn)
	assert.Equal(t, 1, fn.StartLine)
	assert.Equal(t, 3, fn.EndLine)

	assert.NotNil(t, findRange(ranges, KindFunction, "computeAverage"))
	assert.NotNil(t, findRange(ranges, KindClass, "ScoreKeeper"))
	assert.NotNil(t, findRange(ranges, KindMethod, "record"))
}

func TestExtractExpressRoute(t *testing.T) {
	source := `app.post("/users/:userId/score/recompute", async (req, res) => {
  const score = await recompute(req.params.userId);
  res.json(score);
});
`
	ranges := ExtractRanges(parseSource(t, source, "javascript"))

	var route *NodeRange
	for i := range ranges {
		if ranges[i].Kind == KindRoute {
			route = &ranges[i]
			break
		}
	}
	require.NotNil(t, route)
	assert.Equal(t, "POST /users/:userId/score/recompute", route.Symbol)
}

func TestExtractPythonSymbols(t *testing.T) {
	source := `class ScoreService:
    def __init__(self):
        self.scores = {}

    def get_score(self, user_id):
        return self.scores.get(user_id)


def standalone(x):
    return x * 2
`
	ranges := ExtractRanges(parseSource(t, source, "python"))

	assert.NotNil(t, findRange(ranges, KindClass, "ScoreService"))
	assert.NotNil(t, findRange(ranges, KindMethod, "get_score"))
	assert.NotNil(t, findRange(ranges, KindFunction, "standalone"))
	assert.Nil(t, findRange(ranges, KindFunction, "get_score"))
}

func TestExtractPythonDecoratedRoute(t *testing.T) {
	source := `@app.post("/items")
def create_item(payload):
    return save(payload)
`
	ranges := ExtractRanges(parseSource(t, source, "python"))

	route := findRange(ranges, KindRoute, "create_item")
	require.NotNil(t, route)
	assert.Equal(t, 1, route.StartLine)
}

func TestExtractUnsupportedLanguage(t *testing.T) {
	p := NewParser()
	defer p.Close()
	_, err := p.Parse(context.Background(), []byte("x"), "cobol")
	assert.Error(t, err)
}

func TestExtractDeterministic(t *testing.T) {
	source := `function a() { return 1; }
function b() { return 2; }
`
	first := ExtractRanges(parseSource(t, source, "javascript"))
	second := ExtractRanges(parseSource(t, source, "javascript"))
	assert.Equal(t, first, second)
}
