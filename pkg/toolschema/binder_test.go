package toolschema

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
)

func timeToolSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"timezone": {Type: "string", Description: "IANA timezone name"},
			"format": {
				Type:    "string",
				Enum:    []any{"iso", "unix"},
				Default: json.RawMessage(`"iso"`),
			},
		},
		Required: []string{"timezone"},
	}
}

func bindFields(t *testing.T, b *Binder, body string) []FieldError {
	t.Helper()
	_, err := b.Bind([]byte(body))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Bind(%s) error = %v, want *ValidationError", body, err)
	}
	return verr.Fields
}

func TestSchemaForWireFormats(t *testing.T) {
	t.Parallel()

	// Client-side discovery delivers input schemas as decoded JSON maps.
	wire := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"timezone": map[string]any{"type": "string"},
		},
		"required": []any{"timezone"},
	}
	schema, err := SchemaFor(wire)
	if err != nil {
		t.Fatalf("SchemaFor(map): %v", err)
	}
	if schema.Type != "object" || len(schema.Required) != 1 || schema.Required[0] != "timezone" {
		t.Fatalf("SchemaFor(map) = %+v", schema)
	}
	fields := bindFields(t, Compile(schema), `{}`)
	if len(fields) != 1 || fields[0].Path != "timezone" {
		t.Fatalf("fields = %+v, want one error at timezone", fields)
	}

	typed := timeToolSchema()
	schema, err = SchemaFor(typed)
	if err != nil {
		t.Fatalf("SchemaFor(*Schema): %v", err)
	}
	if schema != typed {
		t.Fatalf("SchemaFor(*Schema) did not pass the schema through")
	}

	schema, err = SchemaFor(json.RawMessage(`{"type": "object"}`))
	if err != nil {
		t.Fatalf("SchemaFor(RawMessage): %v", err)
	}
	if schema.Type != "object" {
		t.Fatalf("SchemaFor(RawMessage) = %+v", schema)
	}

	schema, err = SchemaFor(nil)
	if err != nil || schema != nil {
		t.Fatalf("SchemaFor(nil) = %v, %v, want nil, nil", schema, err)
	}

	if _, err := SchemaFor([]any{"not", "a", "schema"}); err == nil {
		t.Fatalf("SchemaFor(array) succeeded, want error")
	}
}

func TestBindValidBody(t *testing.T) {
	t.Parallel()

	b := Compile(timeToolSchema())
	args, err := b.Bind([]byte(`{"timezone": "UTC", "format": "unix"}`))
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if args["timezone"] != "UTC" || args["format"] != "unix" {
		t.Fatalf("Bind = %v", args)
	}
}

func TestBindInjectsDefaults(t *testing.T) {
	t.Parallel()

	b := Compile(timeToolSchema())
	args, err := b.Bind([]byte(`{"timezone": "UTC"}`))
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if args["format"] != "iso" {
		t.Fatalf("default not injected: %v", args)
	}
}

func TestBindMissingRequiredField(t *testing.T) {
	t.Parallel()

	fields := bindFields(t, Compile(timeToolSchema()), `{}`)
	if len(fields) != 1 || fields[0].Path != "timezone" {
		t.Fatalf("fields = %+v, want one error at timezone", fields)
	}
}

func TestBindEmptyBodyIsEmptyObject(t *testing.T) {
	t.Parallel()

	b := Compile(&jsonschema.Schema{Type: "object"})
	args, err := b.Bind(nil)
	if err != nil {
		t.Fatalf("Bind(nil): %v", err)
	}
	if len(args) != 0 {
		t.Fatalf("Bind(nil) = %v, want empty object", args)
	}

	// A required field still fails on an empty body.
	fields := bindFields(t, Compile(timeToolSchema()), "")
	if len(fields) != 1 || fields[0].Path != "timezone" {
		t.Fatalf("fields = %+v", fields)
	}
}

func TestBindCollectsAllErrors(t *testing.T) {
	t.Parallel()

	schema := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"name":  {Type: "string"},
			"count": {Type: "integer"},
		},
		Required: []string{"name", "count"},
	}
	fields := bindFields(t, Compile(schema), `{"count": "three"}`)
	if len(fields) != 2 {
		t.Fatalf("fields = %+v, want 2 errors", fields)
	}
	paths := map[string]bool{}
	for _, f := range fields {
		paths[f.Path] = true
	}
	if !paths["name"] || !paths["count"] {
		t.Fatalf("fields = %+v, want errors at name and count", fields)
	}
}

func TestBindNestedArrayPaths(t *testing.T) {
	t.Parallel()

	schema := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"filters": {
				Type: "array",
				Items: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"name": {Type: "string"},
					},
					Required: []string{"name"},
				},
			},
		},
	}
	fields := bindFields(t, Compile(schema), `{"filters": [{"name": "ok"}, {"name": 7}, {}]}`)
	if len(fields) != 2 {
		t.Fatalf("fields = %+v, want 2 errors", fields)
	}
	paths := map[string]bool{}
	for _, f := range fields {
		paths[f.Path] = true
	}
	if !paths["filters[1].name"] || !paths["filters[2].name"] {
		t.Fatalf("fields = %+v, want indexed paths", fields)
	}
}

func TestBindEnumViolation(t *testing.T) {
	t.Parallel()

	fields := bindFields(t, Compile(timeToolSchema()), `{"timezone": "UTC", "format": "rfc3339"}`)
	if len(fields) != 1 || fields[0].Path != "format" {
		t.Fatalf("fields = %+v, want one error at format", fields)
	}
}

func TestBindIntegerRejectsFractions(t *testing.T) {
	t.Parallel()

	schema := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"count": {Type: "integer"},
		},
	}
	b := Compile(schema)
	if _, err := b.Bind([]byte(`{"count": 3}`)); err != nil {
		t.Fatalf("Bind integral: %v", err)
	}
	// Large integers survive without float rounding.
	args, err := b.Bind([]byte(`{"count": 9007199254740993}`))
	if err != nil {
		t.Fatalf("Bind large integer: %v", err)
	}
	if args["count"].(json.Number).String() != "9007199254740993" {
		t.Fatalf("large integer mangled: %v", args["count"])
	}
	fields := bindFields(t, b, `{"count": 3.5}`)
	if len(fields) != 1 || fields[0].Path != "count" {
		t.Fatalf("fields = %+v", fields)
	}
}

func TestBindUnknownFieldsPassThrough(t *testing.T) {
	t.Parallel()

	b := Compile(timeToolSchema())
	args, err := b.Bind([]byte(`{"timezone": "UTC", "extra": {"nested": true}}`))
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if _, ok := args["extra"]; !ok {
		t.Fatalf("unknown field dropped: %v", args)
	}
}

func TestBindMalformedJSON(t *testing.T) {
	t.Parallel()

	b := Compile(timeToolSchema())
	for _, body := range []string{`{"timezone"`, `[1, 2]`, `"text"`, `{} trailing`} {
		if _, err := b.Bind([]byte(body)); err == nil {
			t.Fatalf("Bind(%s) accepted malformed body", body)
		}
	}
}

func TestCompositionFallsBackToPassthrough(t *testing.T) {
	t.Parallel()

	schema := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"value": {
				AnyOf: []*jsonschema.Schema{
					{Type: "string"},
					{Type: "integer"},
				},
			},
		},
	}
	b := Compile(schema)
	for _, body := range []string{`{"value": "x"}`, `{"value": 3}`, `{"value": [true]}`} {
		if _, err := b.Bind([]byte(body)); err != nil {
			t.Fatalf("Bind(%s): %v", body, err)
		}
	}
}

func TestCompileResolvesLocalRefs(t *testing.T) {
	t.Parallel()

	schema := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"point": {Ref: "#/$defs/point"},
		},
		Defs: map[string]*jsonschema.Schema{
			"point": {
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"x": {Type: "number"},
				},
				Required: []string{"x"},
			},
		},
	}
	b := Compile(schema)
	if _, err := b.Bind([]byte(`{"point": {"x": 1.5}}`)); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	fields := bindFields(t, b, `{"point": {}}`)
	if len(fields) != 1 || fields[0].Path != "point.x" {
		t.Fatalf("fields = %+v, want one error at point.x", fields)
	}
}

func TestCompileNilSchemaAcceptsAnyObject(t *testing.T) {
	t.Parallel()

	b := Compile(nil)
	if _, err := b.Bind([]byte(`{"anything": [1, "two", null]}`)); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if doc := b.DocSchema(); doc == nil || doc.Type != "object" {
		t.Fatalf("DocSchema() = %+v, want object schema", doc)
	}
}

func TestDocSchemaKeepsDescriptionsAndRequired(t *testing.T) {
	t.Parallel()

	doc := Compile(timeToolSchema()).DocSchema()
	if doc.Type != "object" {
		t.Fatalf("DocSchema().Type = %q", doc.Type)
	}
	if doc.Properties["timezone"].Description != "IANA timezone name" {
		t.Fatalf("description lost: %+v", doc.Properties["timezone"])
	}
	if len(doc.Required) != 1 || doc.Required[0] != "timezone" {
		t.Fatalf("required lost: %v", doc.Required)
	}
	if len(doc.Properties["format"].Enum) != 2 {
		t.Fatalf("enum lost: %+v", doc.Properties["format"])
	}
}
