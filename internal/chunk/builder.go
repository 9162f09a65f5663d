package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/xtrc-dev/xtrc/internal/intent"
)

// mergeMaxGapLines bounds how far apart two small ranges may be and
// still merge into one chunk.
const mergeMaxGapLines = 40

// Builder converts declaration ranges into token-bounded chunks for
// one repository.
type Builder struct {
	// Repo identifies the repository and keeps chunk ids distinct
	// across repositories with identical files.
	Repo string

	MinTokens    int
	MaxTokens    int
	TargetTokens int
}

// NewBuilder creates a Builder with the given token bounds. repo is
// the repository identifier folded into every chunk id.
func NewBuilder(repo string, minTokens, maxTokens, targetTokens int) *Builder {
	return &Builder{
		Repo:         repo,
		MinTokens:    minTokens,
		MaxTokens:    maxTokens,
		TargetTokens: targetTokens,
	}
}

type draft struct {
	startLine int
	endLine   int
	symbol    string
	kind      string
	text      string
}

func (d draft) tokens() int {
	return EstimateTokens(d.text)
}

// Build produces the chunks for one file. path is repo-relative,
// fileHash is the digest of the file bytes.
func (b *Builder) Build(path, language, fileHash, content string, ranges []NodeRange) []Chunk {
	drafts := b.initialDrafts(content, ranges)
	drafts = b.splitLargeDrafts(drafts)
	drafts = b.mergeSmallDrafts(drafts)

	chunks := make([]Chunk, 0, len(drafts))
	for _, d := range drafts {
		meta := intent.ExtractMetadata(path, d.kind, d.symbol, d.text)

		kind := d.kind
		// A captured route path is the strong registration signal.
		if meta.RoutePath != "" && kind != KindClass {
			kind = KindRoute
		}

		description := describe(path, d, kind, meta)
		keywords := buildKeywords(path, d, description, meta)

		contentHash := hashText(d.text)
		chunkID := hashText(fmt.Sprintf("%s|%s|%d|%d|%s|%s", b.Repo, path, d.startLine, d.endLine, d.symbol, contentHash))

		c := Chunk{
			ChunkID:     chunkID,
			Path:        path,
			Language:    language,
			StartLine:   d.startLine,
			EndLine:     d.endLine,
			Symbol:      d.symbol,
			Kind:        kind,
			Text:        d.text,
			ContentHash: contentHash,
			FileHash:    fileHash,
			Tokens:      d.tokens(),
			Description: description,
			IntentTags:  meta.IntentTags,
			Keywords:    keywords,
		}
		if kind == KindRoute {
			c.HTTPMethod = meta.RouteMethod
			c.RoutePath = meta.RoutePath
			c.Resource = meta.RouteResource
		}
		chunks = append(chunks, c)
	}

	return chunks
}

// initialDrafts slices the file by declaration ranges, falling back to
// whole-file blocks when the parser found nothing.
func (b *Builder) initialDrafts(content string, ranges []NodeRange) []draft {
	lines := strings.Split(content, "\n")
	if len(ranges) == 0 {
		return b.sliceFileFallback(lines)
	}

	ordered := make([]NodeRange, len(ranges))
	copy(ordered, ranges)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].StartLine != ordered[j].StartLine {
			return ordered[i].StartLine < ordered[j].StartLine
		}
		return ordered[i].EndLine < ordered[j].EndLine
	})

	var drafts []draft
	for _, r := range ordered {
		start := r.StartLine
		if start < 1 {
			start = 1
		}
		end := r.EndLine
		if end < start {
			end = start
		}
		if end > len(lines) {
			end = len(lines)
		}
		text := strings.TrimSpace(strings.Join(lines[start-1:end], "\n"))
		if text == "" {
			continue
		}
		drafts = append(drafts, draft{
			startLine: start,
			endLine:   end,
			symbol:    r.Symbol,
			kind:      r.Kind,
			text:      text,
		})
	}

	if len(drafts) == 0 {
		return b.sliceFileFallback(lines)
	}
	return drafts
}

func (b *Builder) sliceFileFallback(lines []string) []draft {
	if len(lines) == 0 {
		return nil
	}
	content := strings.Join(lines, "\n")
	if strings.TrimSpace(content) == "" {
		return nil
	}
	if EstimateTokens(content) <= b.MaxTokens {
		return []draft{{
			startLine: 1,
			endLine:   len(lines),
			kind:      KindBlock,
			text:      content,
		}}
	}

	var drafts []draft
	for _, part := range b.splitTextByLines(content, 1) {
		drafts = append(drafts, draft{
			startLine: part.start,
			endLine:   part.end,
			kind:      KindBlock,
			text:      part.text,
		})
	}
	return drafts
}

// splitLargeDrafts shards drafts above the max token bound. Shards
// inherit symbol and kind with an index suffix.
func (b *Builder) splitLargeDrafts(drafts []draft) []draft {
	var out []draft
	for _, d := range drafts {
		if d.tokens() <= b.MaxTokens {
			out = append(out, d)
			continue
		}
		parts := b.splitTextByLines(d.text, d.startLine)
		for i, part := range parts {
			symbol := d.symbol
			if symbol != "" && len(parts) > 1 {
				symbol = fmt.Sprintf("%s#%d", d.symbol, i+1)
			}
			out = append(out, draft{
				startLine: part.start,
				endLine:   part.end,
				symbol:    symbol,
				kind:      d.kind,
				text:      part.text,
			})
		}
	}
	return out
}

type textPart struct {
	text  string
	start int
	end   int
}

// splitTextByLines accumulates lines toward the target token count,
// cutting at the target once the minimum is reached and hard-cutting
// at the maximum.
func (b *Builder) splitTextByLines(text string, startLine int) []textPart {
	lines := strings.Split(text, "\n")
	var parts []textPart
	var current []string
	currentTokens := 0
	blockStart := startLine

	for idx, line := range lines {
		lineTokens := EstimateTokens(line)
		projected := currentTokens + lineTokens
		if len(current) > 0 && projected > b.TargetTokens && currentTokens >= b.MinTokens {
			endLine := blockStart + len(current) - 1
			parts = append(parts, textPart{strings.Join(current, "\n"), blockStart, endLine})
			blockStart = startLine + idx
			current = nil
			currentTokens = 0
		}

		current = append(current, line)
		currentTokens += lineTokens

		if currentTokens >= b.MaxTokens {
			endLine := blockStart + len(current) - 1
			parts = append(parts, textPart{strings.Join(current, "\n"), blockStart, endLine})
			blockStart = endLine + 1
			current = nil
			currentTokens = 0
		}
	}

	if len(current) > 0 {
		endLine := blockStart + len(current) - 1
		parts = append(parts, textPart{strings.Join(current, "\n"), blockStart, endLine})
	}

	return parts
}

// mergeSmallDrafts coalesces adjacent undersized drafts while staying
// within the max token bound and a bounded line gap.
func (b *Builder) mergeSmallDrafts(drafts []draft) []draft {
	if len(drafts) == 0 {
		return nil
	}

	sorted := make([]draft, len(drafts))
	copy(sorted, drafts)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].startLine != sorted[j].startLine {
			return sorted[i].startLine < sorted[j].startLine
		}
		return sorted[i].endLine < sorted[j].endLine
	})

	var merged []draft
	var buffer []draft

	flush := func() {
		if len(buffer) == 0 {
			return
		}
		if len(buffer) == 1 {
			merged = append(merged, buffer[0])
		} else {
			texts := make([]string, len(buffer))
			for i, part := range buffer {
				texts[i] = part.text
			}
			merged = append(merged, draft{
				startLine: buffer[0].startLine,
				endLine:   buffer[len(buffer)-1].endLine,
				kind:      KindBlock,
				text:      strings.Join(texts, "\n\n"),
			})
		}
		buffer = nil
	}

	for _, d := range sorted {
		if d.tokens() >= b.MinTokens {
			flush()
			merged = append(merged, d)
			continue
		}

		if len(buffer) == 0 {
			buffer = append(buffer, d)
			continue
		}

		texts := make([]string, len(buffer))
		for i, part := range buffer {
			texts[i] = part.text
		}
		currentTokens := EstimateTokens(strings.Join(texts, "\n\n"))
		gap := d.startLine - buffer[len(buffer)-1].endLine
		if currentTokens+d.tokens() <= b.MaxTokens && gap <= mergeMaxGapLines {
			buffer = append(buffer, d)
		} else {
			flush()
			buffer = append(buffer, d)
		}
	}
	flush()

	// Fold a still-tiny tail into its predecessor when that fits.
	if len(merged) >= 2 && merged[len(merged)-1].tokens() < b.MinTokens {
		tail := merged[len(merged)-1]
		prev := merged[len(merged)-2]
		combined := prev.text + "\n\n" + tail.text
		if EstimateTokens(combined) <= b.MaxTokens {
			merged = merged[:len(merged)-2]
			merged = append(merged, draft{
				startLine: prev.startLine,
				endLine:   tail.endLine,
				symbol:    prev.symbol,
				kind:      prev.kind,
				text:      combined,
			})
		}
	}

	return merged
}

// describe renders the human-readable chunk pointer.
func describe(path string, d draft, kind string, meta intent.Metadata) string {
	preview := ""
	trimmed := strings.TrimSpace(d.text)
	if trimmed != "" {
		firstLine := strings.TrimSpace(strings.SplitN(trimmed, "\n", 2)[0])
		if len(firstLine) > 120 {
			firstLine = firstLine[:120]
		}
		preview = firstLine
	}

	var suffix strings.Builder
	if meta.RouteMethod != "" {
		verb := meta.RouteIntent
		if verb == "" {
			verb = "unknown"
		}
		fmt.Fprintf(&suffix, " Intent: %s resource. HTTP method: %s.", verb, meta.RouteMethod)
		if meta.RouteResource != "" {
			fmt.Fprintf(&suffix, " Resource: %s.", meta.RouteResource)
		}
		if meta.RoutePath != "" {
			fmt.Fprintf(&suffix, " Path: %s.", meta.RoutePath)
		}
	}
	if len(meta.IntentTags) > 0 {
		fmt.Fprintf(&suffix, " Tags: %s.", strings.Join(meta.IntentTags, ", "))
	}

	switch {
	case kind == KindClass && d.symbol != "":
		return strings.TrimSpace(fmt.Sprintf("Class %s in %s. Starts with: %s%s", d.symbol, path, preview, suffix.String()))
	case kind == KindRoute:
		name := d.symbol
		if name == "" {
			name = "unnamed route"
		}
		return strings.TrimSpace(fmt.Sprintf("Route handler %s in %s. Starts with: %s%s", name, path, preview, suffix.String()))
	case kind == KindMethod && d.symbol != "":
		return strings.TrimSpace(fmt.Sprintf("Method %s in %s. Starts with: %s%s", d.symbol, path, preview, suffix.String()))
	case kind == KindFunction && d.symbol != "":
		return strings.TrimSpace(fmt.Sprintf("Function %s in %s. Starts with: %s%s", d.symbol, path, preview, suffix.String()))
	default:
		return strings.TrimSpace(fmt.Sprintf("Major code block in %s (lines %d-%d). Starts with: %s%s",
			path, d.startLine, d.endLine, preview, suffix.String()))
	}
}

// buildKeywords assembles the keyword set from the description, a
// bounded slice of the source, route context, and structural terms.
func buildKeywords(path string, d draft, description string, meta intent.Metadata) []string {
	source := d.text
	if len(source) > 4000 {
		source = source[:4000]
	}
	pieces := []string{description, source}
	if meta.RouteMethod != "" {
		routeContext := []string{
			fmt.Sprintf("Intent: %s resource", meta.RouteIntent),
			fmt.Sprintf("HTTP method: %s", meta.RouteMethod),
		}
		if meta.RouteResource != "" {
			routeContext = append(routeContext, "Resource: "+meta.RouteResource)
		}
		if meta.RoutePath != "" {
			routeContext = append(routeContext, "Path: "+meta.RoutePath)
		}
		pieces = append(pieces, strings.Join(routeContext, "\n"))
	}

	set := intent.KeywordSet(strings.Join(pieces, "\n"))
	for _, term := range meta.StructuralTerms {
		set[term] = true
	}
	for _, tok := range intent.Keywords(path) {
		set[tok] = true
	}

	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
