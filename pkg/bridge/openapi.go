package bridge

import (
	"fmt"
	"html"
	"net/http"

	"github.com/google/jsonschema-go/jsonschema"
)

// openapiDoc builds the OpenAPI 3.1 document for a single mount. Routes are
// relative to the mount prefix, so the same document works whether the bridge
// serves one backend or many.
func (b *Bridge) openapiDoc(m *Mount) map[string]any {
	doc := b.baseDoc(m.Name, fmt.Sprintf("Tools exposed by the %q backend.", m.Name))
	paths := doc["paths"].(map[string]any)
	for _, rt := range m.routes {
		paths["/"+rt.Tool.Name] = b.toolPathItem(rt)
	}
	return doc
}

// globalDoc merges every mounted backend into one document, namespacing each
// tool route under its backend prefix.
func (b *Bridge) globalDoc(mounts []*Mount) map[string]any {
	doc := b.baseDoc(b.opts.Title, b.opts.Description)
	paths := doc["paths"].(map[string]any)
	for _, m := range mounts {
		for _, rt := range m.routes {
			item := b.toolPathItem(rt)
			post := item["post"].(map[string]any)
			post["tags"] = []string{m.Name}
			post["operationId"] = m.Name + "_" + rt.Tool.Name
			paths["/"+m.Name+"/"+rt.Tool.Name] = item
		}
	}
	return doc
}

func (b *Bridge) baseDoc(title, description string) map[string]any {
	info := map[string]any{
		"title":   title,
		"version": b.opts.Version,
	}
	if description != "" {
		info["description"] = description
	}
	doc := map[string]any{
		"openapi": "3.1.0",
		"info":    info,
		"paths":   map[string]any{},
	}
	if b.opts.APIKey != "" {
		doc["components"] = map[string]any{
			"securitySchemes": map[string]any{
				"HTTPBearer": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		}
		doc["security"] = []map[string]any{{"HTTPBearer": []string{}}}
	}
	return doc
}

func (b *Bridge) toolPathItem(rt toolRoute) map[string]any {
	summary := rt.Tool.Name
	description := rt.Tool.Description
	if rt.Tool.Annotations != nil && rt.Tool.Annotations.Title != "" {
		summary = rt.Tool.Annotations.Title
	}
	post := map[string]any{
		"summary":     summary,
		"operationId": rt.Tool.Name,
		"requestBody": map[string]any{
			"required": requestBodyRequired(rt.Binder.DocSchema()),
			"content": map[string]any{
				"application/json": map[string]any{
					"schema": rt.Binder.DocSchema(),
				},
			},
		},
		"responses": map[string]any{
			"200": map[string]any{
				"description": "Successful tool invocation.",
				"content": map[string]any{
					"application/json": map[string]any{
						"schema": map[string]any{},
					},
				},
			},
			"422": map[string]any{
				"description": "Request body failed schema validation.",
			},
		},
	}
	if description != "" {
		post["description"] = description
	}
	return map[string]any{"post": post}
}

func requestBodyRequired(schema *jsonschema.Schema) bool {
	return schema != nil && len(schema.Required) > 0
}

// writeDocsPage serves the interactive documentation shell. The viewer is
// loaded from a CDN; specURL is resolved relative to the page so the same
// template serves the global and per-backend docs.
func writeDocsPage(w http.ResponseWriter, title, specURL string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, docsTemplate, html.EscapeString(title), html.EscapeString(specURL))
}

const docsTemplate = `<!DOCTYPE html>
<html>
<head>
  <title>%s</title>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui.css"/>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({url: %q, dom_id: "#swagger-ui"});
  </script>
</body>
</html>
`
