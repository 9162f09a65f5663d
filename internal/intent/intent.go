package intent

import (
	"strings"
)

var (
	noisePathHints = []string{
		"seed", "seeds", "migration", "migrations", "fixture", "fixtures",
		"dummy", "mock", "test", "tests", "spec", "script", "scripts",
	}

	loggingHints   = []string{"log", "logger", "logging", "audit", "trace"}
	analyticsHints = []string{"analytics", "metric", "metrics", "telemetry", "tracking", "event"}

	createHints = []string{"create", "insert", "add", "register", "new", "post"}
	updateHints = []string{"update", "modify", "edit", "patch", "put", "upsert"}
	deleteHints = []string{"delete", "remove", "destroy", "drop"}
	readHints   = []string{"get", "fetch", "read", "list", "find", "retrieve", "query"}
)

// NoiseTags mark chunks that the scorer penalizes: seed data,
// migrations, tests, and loose scripts.
var NoiseTags = map[string]bool{
	"seed_data":        true,
	"migration_script": true,
	"test_script":      true,
	"script":           true,
}

// Metadata is the structural enrichment attached to a chunk.
type Metadata struct {
	// IntentTags from the closed vocabulary plus advisory tags
	// (logging, analytics, route_handler, noise tags).
	IntentTags []string
	// RouteMethod is the uppercase HTTP verb for route chunks.
	RouteMethod string
	// RoutePath is the registered path, when found.
	RoutePath string
	// RouteIntent is the mapped intent verb for route chunks.
	RouteIntent string
	// RouteResource is the primary resource of the route.
	RouteResource string
	// StructuralTerms supplement the keyword set.
	StructuralTerms []string
	// IsRouteHandler marks chunks that register HTTP handlers.
	IsRouteHandler bool
}

// ExtractMetadata derives intent metadata from a chunk's location,
// symbol, and source text using pattern matching only.
func ExtractMetadata(filePath, symbolKind, symbol, text string) Metadata {
	probe := text
	if len(probe) > 8000 {
		probe = probe[:8000]
	}
	terms := make(map[string]bool)
	for _, tok := range Tokenize(filePath + "\n" + symbol + "\n" + probe) {
		terms[tok] = true
	}

	route := ExtractRouteSignal(text, symbol)

	tags := make(map[string]bool)
	if route != nil {
		tags[route.Intent+"_resource"] = true
		tags["route_handler"] = true
	}

	lowPath := strings.ToLower(filePath)
	if containsAny(lowPath, noisePathHints) || hasAnyTerm(terms, []string{"fixture", "fixtures", "mock"}) {
		if strings.Contains(lowPath, "seed") {
			tags["seed_data"] = true
		}
		if strings.Contains(lowPath, "migration") {
			tags["migration_script"] = true
		}
		if containsAny(lowPath, []string{"test", "spec"}) {
			tags["test_script"] = true
		}
		if strings.Contains(lowPath, "script") {
			tags["script"] = true
		}
	}

	if hasAnyTerm(terms, loggingHints) {
		tags["logging"] = true
	}
	if hasAnyTerm(terms, analyticsHints) {
		tags["analytics"] = true
	}

	if hasAnyTerm(terms, createHints) {
		tags["create_resource"] = true
	}
	if hasAnyTerm(terms, updateHints) {
		tags["update_resource"] = true
	}
	if hasAnyTerm(terms, deleteHints) {
		tags["delete_resource"] = true
	}
	if hasAnyTerm(terms, readHints) {
		tags["read_resource"] = true
	}

	structural := make(map[string]bool, len(terms))
	for t := range terms {
		structural[t] = true
	}

	meta := Metadata{
		IntentTags:      sortedKeys(tags),
		StructuralTerms: nil,
		IsRouteHandler:  route != nil || symbolKind == "route",
	}
	if route != nil {
		meta.RouteMethod = route.Method
		meta.RoutePath = route.Path
		meta.RouteIntent = route.Intent
		meta.RouteResource = route.Resource
		for _, t := range route.StructuralTerms {
			structural[t] = true
		}
		structural[strings.ToLower(route.Method)] = true
		structural[route.Intent] = true
		if route.Resource != "" {
			for _, tok := range Tokenize(route.Resource) {
				structural[tok] = true
			}
		}
	}
	meta.StructuralTerms = sortedKeys(structural)

	return meta
}

func containsAny(value string, candidates []string) bool {
	for _, c := range candidates {
		if strings.Contains(value, c) {
			return true
		}
	}
	return false
}

func hasAnyTerm(terms map[string]bool, candidates []string) bool {
	for _, c := range candidates {
		if terms[c] {
			return true
		}
	}
	return false
}
