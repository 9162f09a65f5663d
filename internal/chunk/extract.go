package chunk

import (
	"regexp"
	"sort"
	"strings"
)

// majorBlockMinLines is the minimum span for an unclaimed top-level
// node to become a block range.
const majorBlockMinLines = 15

var (
	routeCallRE   = regexp.MustCompile(`(?i)\.(get|post|put|delete|patch|route|use)\s*\(`)
	pathArgRE     = regexp.MustCompile(`\(\s*['"]/[^'")]*['"]`)
	defNameRE     = regexp.MustCompile(`def\s+([A-Za-z_][A-Za-z0-9_]*)`)
	callMethodRE  = regexp.MustCompile(`\.([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
	callPathArgRE = regexp.MustCompile(`\(\s*['"](/[^'"]*)['"]`)
)

// skippedTopLevelTypes never become block ranges on their own.
var skippedTopLevelTypes = map[string]bool{
	"import_statement":      true,
	"import_from_statement": true,
	"lexical_declaration":   true,
	"variable_declaration":  true,
	"comment":               true,
	"expression_statement":  true,
	"package_clause":        true,
	"import_declaration":    true,
}

// ExtractRanges walks a parsed tree and returns the named declaration
// ranges: functions, methods, classes, and route registrations, plus
// block ranges for large top-level regions nothing else claimed.
// Deterministic: ranges are deduplicated and sorted by position.
func ExtractRanges(tree *Tree) []NodeRange {
	var ranges []NodeRange

	collect := collectScript
	if tree.Language == "python" {
		collect = collectPython
	} else if tree.Language == "go" {
		collect = collectGo
	}
	walk(tree.Root, false, func(n *Node, inClass bool) {
		collect(n, tree.Source, inClass, &ranges)
	})

	addMajorBlocks(tree.Root, tree.Source, &ranges)

	type key struct {
		kind, symbol string
		start, end   int
	}
	seen := make(map[key]bool, len(ranges))
	unique := ranges[:0]
	for _, r := range ranges {
		k := key{r.Kind, r.Symbol, r.StartLine, r.EndLine}
		if seen[k] {
			continue
		}
		seen[k] = true
		unique = append(unique, r)
	}

	sort.Slice(unique, func(i, j int) bool {
		if unique[i].StartLine != unique[j].StartLine {
			return unique[i].StartLine < unique[j].StartLine
		}
		if unique[i].EndLine != unique[j].EndLine {
			return unique[i].EndLine < unique[j].EndLine
		}
		return unique[i].Kind < unique[j].Kind
	})

	return unique
}

// walk visits every node depth-first, tracking class scope.
func walk(n *Node, inClass bool, fn func(*Node, bool)) {
	fn(n, inClass)
	childInClass := inClass || n.Type == "class_definition" || n.Type == "class_declaration"
	for _, child := range n.Children {
		walk(child, childInClass, fn)
	}
}

func collectPython(n *Node, source []byte, inClass bool, out *[]NodeRange) {
	switch n.Type {
	case "function_definition", "async_function_definition":
		kind := KindFunction
		if inClass {
			kind = KindMethod
		}
		*out = append(*out, NodeRange{
			Kind:      kind,
			Symbol:    childIdentifier(n, source, "identifier"),
			StartLine: n.StartLine(),
			EndLine:   n.EndLine(),
			Text:      n.GetContent(source),
		})

	case "class_definition":
		*out = append(*out, NodeRange{
			Kind:      KindClass,
			Symbol:    childIdentifier(n, source, "identifier"),
			StartLine: n.StartLine(),
			EndLine:   n.EndLine(),
			Text:      n.GetContent(source),
		})

	case "decorated_definition":
		text := n.GetContent(source)
		if routeCallRE.MatchString(text) || strings.Contains(text, "@app") {
			symbol := ""
			if m := defNameRE.FindStringSubmatch(text); m != nil {
				symbol = m[1]
			}
			*out = append(*out, NodeRange{
				Kind:      KindRoute,
				Symbol:    symbol,
				StartLine: n.StartLine(),
				EndLine:   n.EndLine(),
				Text:      text,
			})
		}

	case "call":
		text := n.GetContent(source)
		if routeCallRE.MatchString(text) && pathArgRE.MatchString(text) {
			*out = append(*out, NodeRange{
				Kind:      KindRoute,
				StartLine: n.StartLine(),
				EndLine:   n.EndLine(),
				Text:      text,
			})
		}
	}
}

func collectScript(n *Node, source []byte, inClass bool, out *[]NodeRange) {
	switch n.Type {
	case "function_declaration", "generator_function_declaration":
		*out = append(*out, NodeRange{
			Kind:      KindFunction,
			Symbol:    childIdentifier(n, source, "identifier"),
			StartLine: n.StartLine(),
			EndLine:   n.EndLine(),
			Text:      n.GetContent(source),
		})

	case "class_declaration":
		*out = append(*out, NodeRange{
			Kind:      KindClass,
			Symbol:    childIdentifier(n, source, "identifier"),
			StartLine: n.StartLine(),
			EndLine:   n.EndLine(),
			Text:      n.GetContent(source),
		})

	case "method_definition":
		*out = append(*out, NodeRange{
			Kind:      KindMethod,
			Symbol:    childIdentifier(n, source, "property_identifier"),
			StartLine: n.StartLine(),
			EndLine:   n.EndLine(),
			Text:      n.GetContent(source),
		})

	case "variable_declarator":
		if hasFunctionValue(n) {
			*out = append(*out, NodeRange{
				Kind:      KindFunction,
				Symbol:    childIdentifier(n, source, "identifier"),
				StartLine: n.StartLine(),
				EndLine:   n.EndLine(),
				Text:      n.GetContent(source),
			})
		}

	case "call_expression":
		text := n.GetContent(source)
		if routeCallRE.MatchString(text) && pathArgRE.MatchString(text) {
			*out = append(*out, NodeRange{
				Kind:      KindRoute,
				Symbol:    routeName(text),
				StartLine: n.StartLine(),
				EndLine:   n.EndLine(),
				Text:      text,
			})
		}
	}
}

func collectGo(n *Node, source []byte, inClass bool, out *[]NodeRange) {
	switch n.Type {
	case "function_declaration":
		*out = append(*out, NodeRange{
			Kind:      KindFunction,
			Symbol:    childIdentifier(n, source, "identifier"),
			StartLine: n.StartLine(),
			EndLine:   n.EndLine(),
			Text:      n.GetContent(source),
		})

	case "method_declaration":
		*out = append(*out, NodeRange{
			Kind:      KindMethod,
			Symbol:    childIdentifier(n, source, "field_identifier"),
			StartLine: n.StartLine(),
			EndLine:   n.EndLine(),
			Text:      n.GetContent(source),
		})

	case "type_declaration":
		if n.EndLine()-n.StartLine()+1 >= 3 {
			*out = append(*out, NodeRange{
				Kind:      KindClass,
				Symbol:    typeSpecName(n, source),
				StartLine: n.StartLine(),
				EndLine:   n.EndLine(),
				Text:      n.GetContent(source),
			})
		}
	}
}

// addMajorBlocks appends block ranges for large top-level nodes not
// already covered by a named range.
func addMajorBlocks(root *Node, source []byte, ranges *[]NodeRange) {
	occupied := make([][2]int, 0, len(*ranges))
	for _, r := range *ranges {
		occupied = append(occupied, [2]int{r.StartLine, r.EndLine})
	}

	for _, child := range root.Children {
		if !child.IsNamed || skippedTopLevelTypes[child.Type] {
			continue
		}
		start, end := child.StartLine(), child.EndLine()
		if end-start+1 < majorBlockMinLines {
			continue
		}
		covered := false
		for _, o := range occupied {
			if start >= o[0] && end <= o[1] {
				covered = true
				break
			}
		}
		if covered {
			continue
		}
		*ranges = append(*ranges, NodeRange{
			Kind:      KindBlock,
			StartLine: start,
			EndLine:   end,
			Text:      child.GetContent(source),
		})
		occupied = append(occupied, [2]int{start, end})
	}
}

func childIdentifier(n *Node, source []byte, identType string) string {
	if c := n.FindChildByType(identType); c != nil {
		return c.GetContent(source)
	}
	return ""
}

func typeSpecName(n *Node, source []byte) string {
	if spec := n.FindChildByType("type_spec"); spec != nil {
		return childIdentifier(spec, source, "type_identifier")
	}
	return ""
}

func hasFunctionValue(n *Node) bool {
	for _, child := range n.Children {
		switch child.Type {
		case "arrow_function", "function", "function_expression":
			return true
		}
	}
	return false
}

// routeName builds a "METHOD /path" label for anonymous route chunks.
func routeName(text string) string {
	m := callMethodRE.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	name := strings.ToUpper(m[1])
	if p := callPathArgRE.FindStringSubmatch(text); p != nil {
		return strings.TrimSpace(name + " " + p[1])
	}
	return name
}
