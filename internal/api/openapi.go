package api

import (
	"net/http"
	"strconv"
	"strings"
)

// buildOpenAPIDoc returns an OpenAPI 3.1 document covering every route.
func buildOpenAPIDoc(routes []route) map[string]any {
	paths := map[string]any{
		"/healthz": map[string]any{
			"get": map[string]any{
				"operationId": "healthz",
				"summary":     "Service health",
				"tags":        []string{"ops"},
				"responses":   map[string]any{"200": map[string]any{"description": "OK"}},
			},
		},
	}

	for _, rt := range routes {
		item, ok := paths[rt.path].(map[string]any)
		if !ok {
			item = map[string]any{}
			paths[rt.path] = item
		}
		item[strings.ToLower(rt.method)] = buildOperation(rt)
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "trialmatch",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

func buildOperation(rt route) map[string]any {
	responses := map[string]any{
		strconv.Itoa(rt.status): map[string]any{"description": http.StatusText(rt.status)},
		"401":                   map[string]any{"description": "Missing or invalid bearer token"},
		"403":                   map[string]any{"description": "Insufficient scope"},
	}
	if rt.body || strings.Contains(rt.path, "{id}") {
		responses["400"] = map[string]any{"description": "Bad request"}
	}
	if strings.Contains(rt.path, "{id}") {
		responses["404"] = map[string]any{"description": "Not found"}
	}
	if rt.tag == "match" && rt.method == http.MethodPost && rt.path != "/api/match-trials" {
		responses["502"] = map[string]any{"description": "Worker failed"}
		responses["503"] = map[string]any{"description": "Worker timed out"}
	}

	op := map[string]any{
		"operationId": operationID(rt),
		"summary":     rt.summary,
		"tags":        []string{rt.tag},
		"responses":   responses,
		"security":    []any{map[string]any{"BearerAuth": rt.scopes}},
	}
	if strings.Contains(rt.path, "{id}") {
		op["parameters"] = []any{map[string]any{
			"name":     "id",
			"in":       "path",
			"required": true,
			"schema":   map[string]any{"type": "string"},
		}}
	}
	if rt.body {
		op["requestBody"] = map[string]any{
			"required": true,
			"content": map[string]any{
				"application/json": map[string]any{"schema": map[string]any{}},
			},
		}
	}
	return op
}

// operationID turns "GET /api/patients/{id}" into "get_patients_id".
func operationID(rt route) string {
	p := strings.TrimPrefix(rt.path, "/api")
	p = strings.NewReplacer("{", "", "}", "", "-", "_").Replace(p)
	parts := []string{strings.ToLower(rt.method)}
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			parts = append(parts, seg)
		}
	}
	return strings.Join(parts, "_")
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.routes()))
}
