package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

const rerankSystemPrompt = `You rank code search candidates. Given a query and a numbered list of code locations, respond with strict JSON only, no prose, no code fences:
{"order": [candidate numbers, best first], "selection": {"file": "<path>", "line": <line>, "reason": "<one short sentence>"}}
The selection must name one of the listed files and a line inside its listed range.`

// rerankPayload is the JSON contract expected from the model.
type rerankPayload struct {
	Order     []int      `json:"order"`
	Selection *Selection `json:"selection"`
}

// buildRerankPrompt renders the user message for a rerank call.
func buildRerankPrompt(query string, candidates []Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\nCandidates:\n", query)
	for i, c := range candidates {
		symbol := c.Symbol
		if symbol == "" {
			symbol = "(no symbol)"
		}
		fmt.Fprintf(&b, "%d. %s:%d-%d %s", i+1, c.File, c.StartLine, c.EndLine, symbol)
		if c.Summary != "" {
			fmt.Fprintf(&b, " -- %s", c.Summary)
		}
		fmt.Fprintf(&b, " (score %.3f)\n", c.Score)
	}
	return b.String()
}

// ParseRerankResponse parses and validates a model rerank response
// against the candidate set. Out-of-range order entries are dropped.
// A selection naming an unknown file is rejected; a line outside the
// named file's ranges is clamped to the nearest candidate's start.
func ParseRerankResponse(text string, candidates []Candidate) (*RerankResult, error) {
	cleaned := stripCodeFences(text)

	var payload rerankPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, fmt.Errorf("parsing rerank response: %w", err)
	}

	result := &RerankResult{}

	seen := make(map[int]bool)
	for _, n := range payload.Order {
		idx := n - 1
		if idx < 0 || idx >= len(candidates) || seen[idx] {
			continue
		}
		seen[idx] = true
		result.Order = append(result.Order, idx)
	}

	if payload.Selection != nil {
		if sel := validateSelection(payload.Selection, candidates); sel != nil {
			result.Selection = sel
		}
	}

	if result.Order == nil && result.Selection == nil {
		return nil, fmt.Errorf("rerank response carried no usable ordering or selection")
	}
	return result, nil
}

func validateSelection(sel *Selection, candidates []Candidate) *Selection {
	var sameFile *Candidate
	for i := range candidates {
		c := &candidates[i]
		if c.File != sel.File {
			continue
		}
		if sel.Line >= c.StartLine && sel.Line <= c.EndLine {
			return sel
		}
		if sameFile == nil {
			sameFile = c
		}
	}
	if sameFile != nil {
		// Line outside every listed range; snap to the first candidate
		// in that file.
		return &Selection{File: sel.File, Line: sameFile.StartLine, Reason: sel.Reason}
	}
	return nil
}

// stripCodeFences removes a surrounding markdown code fence if present.
func stripCodeFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	if i := strings.LastIndex(trimmed, "```"); i >= 0 {
		trimmed = trimmed[:i]
	}
	return strings.TrimSpace(trimmed)
}
