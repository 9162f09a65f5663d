package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriterFormats(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)

	w.Line("plain")
	w.Linef("count %d", 3)
	w.Field("files", 12)
	w.Successf("indexed %s", "repo")
	w.Warningf("skipped %d files", 2)

	out := buf.String()
	assert.Contains(t, out, "plain\n")
	assert.Contains(t, out, "count 3\n")
	assert.Contains(t, out, "  files:          12\n")
	assert.Contains(t, out, "✓ indexed repo\n")
	assert.Contains(t, out, "! skipped 2 files\n")
}
