package intent

import (
	"regexp"
	"sort"
	"strings"
)

// httpIntentMap maps HTTP verbs to intent verbs.
var httpIntentMap = map[string]string{
	"post":   "create",
	"put":    "update",
	"patch":  "update",
	"delete": "delete",
	"get":    "read",
}

// intentAliases maps intent verbs to the query words that imply them.
var intentAliases = map[string][]string{
	"create": {"create", "add", "new", "insert", "post", "register", "submit"},
	"update": {"update", "edit", "modify", "put", "patch", "change"},
	"delete": {"delete", "remove", "destroy", "drop"},
	"read":   {"read", "get", "fetch", "find", "list", "show", "retrieve"},
}

var (
	jsRouteRE = regexp.MustCompile(`(?i)\.\s*(get|post|put|delete|patch)\s*\(\s*['"]([^'"]+)['"]`)
	pyRouteRE = regexp.MustCompile(`(?i)@[A-Za-z_][A-Za-z0-9_.]*(?:router|app)?\.?\s*(get|post|put|delete|patch)\s*\(\s*['"]([^'"]+)['"]`)
	methodRE  = regexp.MustCompile(`(?i)\b(get|post|put|delete|patch)\b`)
)

// RouteSignal describes an HTTP route registration found in chunk source.
type RouteSignal struct {
	// Method is the uppercase HTTP verb.
	Method string
	// Intent is the mapped intent verb (create, read, update, delete).
	Intent string
	// Resource is the last non-parameter path segment, singularized.
	Resource string
	// Path is the registered route path, when present in the source.
	Path string
	// StructuralTerms are the route-derived keyword additions.
	StructuralTerms []string
}

// QuerySignal is the intent information derived from a user query.
type QuerySignal struct {
	Intents         []string
	Methods         []string
	StructuralTerms []string
}

// IntentTags returns the query intents as closed-vocabulary tags.
func (q QuerySignal) IntentTags() []string {
	tags := make([]string, 0, len(q.Intents))
	for _, in := range q.Intents {
		tags = append(tags, in+"_resource")
	}
	return tags
}

// ExtractRouteSignal detects an HTTP route registration in chunk text.
// Express-style calls and Python decorators are matched first; a bare
// HTTP verb in the text is a weaker fallback. Returns nil when no verb
// is found.
func ExtractRouteSignal(text, symbolName string) *RouteSignal {
	var method, path string

	if m := jsRouteRE.FindStringSubmatch(text); m != nil {
		method, path = strings.ToLower(m[1]), m[2]
	} else if m := pyRouteRE.FindStringSubmatch(text); m != nil {
		method, path = strings.ToLower(m[1]), m[2]
	} else if m := methodRE.FindStringSubmatch(text); m != nil {
		method = strings.ToLower(m[1])
	}

	if method == "" {
		return nil
	}
	verb, ok := httpIntentMap[method]
	if !ok {
		return nil
	}

	var resource string
	if path != "" {
		resource = extractResource(path)
	} else {
		resource = resourceFromSymbol(symbolName)
	}

	terms := map[string]bool{method: true, verb: true}
	if path != "" {
		for _, seg := range pathSegments(path) {
			for _, tok := range Tokenize(seg) {
				terms[tok] = true
			}
		}
	}
	if resource != "" {
		terms[resource] = true
	}
	if symbolName != "" {
		for _, tok := range Tokenize(symbolName) {
			terms[tok] = true
		}
	}

	return &RouteSignal{
		Method:          strings.ToUpper(method),
		Intent:          verb,
		Resource:        resource,
		Path:            path,
		StructuralTerms: sortedKeys(terms),
	}
}

// InferQuerySignal derives intents, HTTP methods, and structural terms
// from a raw user query.
func InferQuerySignal(query string) QuerySignal {
	tokens := Tokenize(query)
	tokenSet := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		tokenSet[t] = true
	}

	methods := make(map[string]bool)
	for t := range tokenSet {
		if _, ok := httpIntentMap[t]; ok {
			methods[t] = true
		}
	}

	intents := make(map[string]bool)
	for verb, aliases := range intentAliases {
		for _, alias := range aliases {
			if tokenSet[alias] {
				intents[verb] = true
				break
			}
		}
	}
	for m := range methods {
		intents[httpIntentMap[m]] = true
	}

	structural := make(map[string]bool)
	for t := range tokenSet {
		if !stopTerms[t] {
			structural[t] = true
		}
	}
	for m := range methods {
		structural[m] = true
	}
	for in := range intents {
		structural[in] = true
	}

	return QuerySignal{
		Intents:         sortedKeys(intents),
		Methods:         sortedKeys(methods),
		StructuralTerms: sortedKeys(structural),
	}
}

// pathSegments splits a route path, dropping parameter segments like
// ":id" and "{id}".
func pathSegments(path string) []string {
	normalized := strings.TrimSpace(path)
	if normalized == "" {
		return nil
	}
	if strings.HasPrefix(normalized, "http://") || strings.HasPrefix(normalized, "https://") {
		rest := normalized[strings.Index(normalized, "//")+2:]
		if i := strings.Index(rest, "/"); i >= 0 {
			normalized = rest[i:]
		} else {
			normalized = ""
		}
	}

	var segments []string
	for _, seg := range strings.Split(strings.Trim(normalized, "/"), "/") {
		if seg == "" || strings.HasPrefix(seg, ":") {
			continue
		}
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			continue
		}
		segments = append(segments, seg)
	}
	return segments
}

// extractResource returns the last non-parameter path segment,
// singularized.
func extractResource(path string) string {
	segments := pathSegments(path)
	if len(segments) == 0 {
		return ""
	}
	tokens := Tokenize(segments[len(segments)-1])
	if len(tokens) == 0 {
		return ""
	}
	return singularize(tokens[0])
}

// resourceFromSymbol guesses the resource from a handler name when the
// route path is unavailable.
func resourceFromSymbol(symbolName string) string {
	if symbolName == "" {
		return ""
	}
	verbs := map[string]bool{
		"create": true, "update": true, "delete": true,
		"get": true, "post": true, "put": true, "patch": true,
	}
	for _, ident := range identifierRE.FindAllString(symbolName, -1) {
		for _, tok := range splitIdentifier(ident) {
			if len(tok) <= 1 || verbs[tok] {
				continue
			}
			return singularize(tok)
		}
	}
	return ""
}

func singularize(value string) string {
	if strings.HasSuffix(value, "ies") && len(value) > 4 {
		return value[:len(value)-3] + "y"
	}
	if strings.HasSuffix(value, "s") && !strings.HasSuffix(value, "ss") && len(value) > 3 {
		return value[:len(value)-1]
	}
	return value
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
