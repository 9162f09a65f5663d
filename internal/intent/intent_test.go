package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenizeSplitsCamelAndSnake(t *testing.T) {
	toks := Tokenize("getUserScore compute_final HTTPServer")
	assert.Contains(t, toks, "getuserscore")
	assert.Contains(t, toks, "get")
	assert.Contains(t, toks, "user")
	assert.Contains(t, toks, "score")
	assert.Contains(t, toks, "compute")
	assert.Contains(t, toks, "final")
	assert.Contains(t, toks, "http")
	assert.Contains(t, toks, "server")
}

func TestKeywordsStopFiltered(t *testing.T) {
	kws := Keywords("what does the api endpoint do for userScore")
	assert.NotContains(t, kws, "what")
	assert.NotContains(t, kws, "the")
	assert.NotContains(t, kws, "api")
	assert.NotContains(t, kws, "endpoint")
	assert.Contains(t, kws, "user")
	assert.Contains(t, kws, "score")
}

func TestExtractRouteSignalExpress(t *testing.T) {
	text := `app.post("/users/:userId/score/recompute", async (req, res) => {})`
	sig := ExtractRouteSignal(text, "")
	require.NotNil(t, sig)
	assert.Equal(t, "POST", sig.Method)
	assert.Equal(t, "create", sig.Intent)
	assert.Equal(t, "recompute", sig.Resource)
	assert.Equal(t, "/users/:userId/score/recompute", sig.Path)
	assert.Contains(t, sig.StructuralTerms, "recompute")
	assert.Contains(t, sig.StructuralTerms, "score")
}

func TestExtractRouteSignalPythonDecorator(t *testing.T) {
	text := "@router.delete(\"/items/{item_id}\")\ndef remove_item(item_id: int): ..."
	sig := ExtractRouteSignal(text, "remove_item")
	require.NotNil(t, sig)
	assert.Equal(t, "DELETE", sig.Method)
	assert.Equal(t, "delete", sig.Intent)
	assert.Equal(t, "item", sig.Resource)
}

func TestExtractRouteSignalNone(t *testing.T) {
	assert.Nil(t, ExtractRouteSignal("function add(a, b) { return a + b }", "add"))
}

func TestResourceFromSymbolFallback(t *testing.T) {
	// Bare verb in text, resource guessed from symbol name.
	sig := ExtractRouteSignal("# get users from storage\ndef get_users(): ...", "get_users")
	require.NotNil(t, sig)
	assert.Equal(t, "GET", sig.Method)
	assert.Equal(t, "user", sig.Resource)
}

func TestSingularize(t *testing.T) {
	assert.Equal(t, "category", singularize("categories"))
	assert.Equal(t, "user", singularize("users"))
	assert.Equal(t, "class", singularize("class"))
	assert.Equal(t, "gas", singularize("gas"))
}

func TestInferQuerySignal(t *testing.T) {
	sig := InferQuerySignal("create new user score")
	assert.Contains(t, sig.Intents, "create")
	assert.Contains(t, sig.StructuralTerms, "user")
	assert.Contains(t, sig.StructuralTerms, "score")
	assert.Contains(t, sig.IntentTags(), "create_resource")

	sig = InferQuerySignal("DELETE endpoint for sessions")
	assert.Contains(t, sig.Methods, "delete")
	assert.Contains(t, sig.Intents, "delete")
}

func TestExtractMetadataRoute(t *testing.T) {
	text := `app.post("/users/:userId/score/recompute", handler)`
	meta := ExtractMetadata("src/server.js", "route", "", text)
	assert.True(t, meta.IsRouteHandler)
	assert.Equal(t, "POST", meta.RouteMethod)
	assert.Equal(t, "create", meta.RouteIntent)
	assert.Equal(t, "recompute", meta.RouteResource)
	assert.Contains(t, meta.IntentTags, "create_resource")
	assert.Contains(t, meta.IntentTags, "route_handler")
}

func TestExtractMetadataNoiseTags(t *testing.T) {
	meta := ExtractMetadata("scripts/seed_users.py", "function", "seed", "def seed(): insert_all()")
	assert.Contains(t, meta.IntentTags, "seed_data")
	assert.Contains(t, meta.IntentTags, "script")

	meta = ExtractMetadata("tests/test_score.py", "function", "test_score", "def test_score(): pass")
	assert.Contains(t, meta.IntentTags, "test_script")
}

func TestExtractMetadataSymbolVerbs(t *testing.T) {
	meta := ExtractMetadata("src/svc.py", "function", "update_profile", "def update_profile(): ...")
	assert.Contains(t, meta.IntentTags, "update_resource")
}
