package chunk

import "regexp"

var tokenRE = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*|\d+|\S`)

// EstimateTokens approximates the model token count of text. Raw
// identifier/punctuation tokens undercount subword tokenization, so the
// count is scaled by 1.3.
func EstimateTokens(text string) int {
	n := len(tokenRE.FindAllString(text, -1))
	return int(float64(n) * 1.3)
}
