package chunk

import (
	"fmt"
	"strings"
)

// EmbeddingText renders the canonical embedding input for a chunk.
// Only the metadata block is embedded; raw source never is.
func (c *Chunk) EmbeddingText() string {
	var b strings.Builder

	fmt.Fprintf(&b, "File: %s\n", c.Path)
	symbol := c.Symbol
	if symbol == "" {
		symbol = "(none)"
	}
	fmt.Fprintf(&b, "Symbol: %s\n", symbol)
	fmt.Fprintf(&b, "Type: %s\n", c.Kind)
	fmt.Fprintf(&b, "Intent: %s\n", strings.Join(c.IntentTags, "; "))
	if c.HTTPMethod != "" {
		fmt.Fprintf(&b, "HTTP method: %s\n", c.HTTPMethod)
	}
	if c.Resource != "" {
		fmt.Fprintf(&b, "Resource: %s\n", c.Resource)
	}
	summary := c.Summary
	if summary == "" {
		summary = c.Description
	}
	fmt.Fprintf(&b, "Summary: %s\n", summary)
	fmt.Fprintf(&b, "Keywords: %s", strings.Join(c.Keywords, " "))

	return b.String()
}
