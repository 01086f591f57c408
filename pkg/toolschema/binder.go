package toolschema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// FieldError locates one validation problem within a request body. Path uses
// dotted/indexed notation ("timezone", "filters[2].name"); an empty path
// refers to the body as a whole.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError carries the exhaustive set of field problems found in one
// request body. Validation never stops at the first failure.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 1 {
		f := e.Fields[0]
		if f.Path == "" {
			return fmt.Sprintf("toolschema: %s", f.Message)
		}
		return fmt.Sprintf("toolschema: %s: %s", f.Path, f.Message)
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		if f.Path == "" {
			parts[i] = f.Message
		} else {
			parts[i] = f.Path + ": " + f.Message
		}
	}
	return fmt.Sprintf("toolschema: %d validation errors: %s", len(e.Fields), strings.Join(parts, "; "))
}

type kind int

const (
	kindAny kind = iota
	kindObject
	kindArray
	kindString
	kindNumber
	kindInteger
	kindBoolean
	kindNull
)

func (k kind) String() string {
	switch k {
	case kindObject:
		return "object"
	case kindArray:
		return "array"
	case kindString:
		return "string"
	case kindNumber:
		return "number"
	case kindInteger:
		return "integer"
	case kindBoolean:
		return "boolean"
	case kindNull:
		return "null"
	default:
		return "any"
	}
}

type node struct {
	kind kind

	// object
	propNames []string
	props     map[string]*node
	required  []string
	defaults  map[string]any

	// array
	items *node

	// scalar constraints
	enum []json.RawMessage

	doc *jsonschema.Schema
}

// Binder validates decoded request bodies against a compiled tool input
// schema and produces the call payload forwarded to the backend. A Binder is
// immutable and safe for concurrent use; identical input always yields an
// identical payload or an identical error set.
type Binder struct {
	root *node
	doc  *jsonschema.Schema
}

const maxCompileDepth = 64

// SchemaFor converts a tool's wire-format input schema into a typed schema
// tree. Backends declare schemas as arbitrary JSON, which arrives client-side
// as a decoded map; a value that does not marshal into a schema document is an
// error and the caller falls back to an accept-anything binder.
func SchemaFor(v any) (*jsonschema.Schema, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case *jsonschema.Schema:
		return s, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("toolschema: encode input schema: %w", err)
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("toolschema: decode input schema: %w", err)
	}
	return &schema, nil
}

// Compile walks the schema tree once and returns the derived Binder. A nil
// schema compiles to a binder that accepts any JSON object.
func Compile(schema *jsonschema.Schema) *Binder {
	c := &compiler{root: schema}
	n := c.compile(schema, 0)
	doc := n.doc
	if doc == nil || (doc.Type == "" && len(doc.Types) == 0) {
		doc = &jsonschema.Schema{Type: "object"}
		if n.doc != nil {
			doc.Description = n.doc.Description
		}
	}
	return &Binder{root: n, doc: doc}
}

// DocSchema returns the sanitized schema fragment used for API documentation:
// the supported subset of the input schema with descriptions, enumerations,
// defaults, required flags, and nesting preserved.
func (b *Binder) DocSchema() *jsonschema.Schema { return b.doc }

type compiler struct {
	root *jsonschema.Schema
}

func (c *compiler) compile(s *jsonschema.Schema, depth int) *node {
	if depth > maxCompileDepth {
		return anyNode(s)
	}
	if s == nil {
		return anyNode(nil)
	}
	if s.Ref != "" {
		resolved := c.resolveRef(s.Ref)
		if resolved == nil {
			return anyNode(s)
		}
		return c.compile(resolved, depth+1)
	}
	// Composition keywords cannot be represented as a single field validator;
	// fall back to passthrough rather than rejecting the tool.
	if len(s.AnyOf) > 0 || len(s.OneOf) > 0 || len(s.AllOf) > 0 || s.Not != nil {
		return anyNode(s)
	}

	typ := s.Type
	if typ == "" {
		switch {
		case len(s.Types) == 1:
			typ = s.Types[0]
		case len(s.Types) > 1:
			return anyNode(s)
		case len(s.Properties) > 0 || len(s.Required) > 0:
			typ = "object"
		case s.Items != nil:
			typ = "array"
		default:
			return anyNode(s)
		}
	}

	switch typ {
	case "object":
		return c.compileObject(s, depth)
	case "array":
		n := &node{kind: kindArray, items: c.compile(s.Items, depth+1)}
		n.doc = &jsonschema.Schema{
			Type:        "array",
			Description: s.Description,
			Items:       n.items.doc,
		}
		return n
	case "string", "number", "integer", "boolean", "null":
		return c.compileScalar(s, typ)
	default:
		return anyNode(s)
	}
}

func (c *compiler) compileObject(s *jsonschema.Schema, depth int) *node {
	n := &node{
		kind:     kindObject,
		props:    make(map[string]*node, len(s.Properties)),
		defaults: make(map[string]any),
		required: append([]string(nil), s.Required...),
	}
	for name := range s.Properties {
		n.propNames = append(n.propNames, name)
	}
	sort.Strings(n.propNames)
	sort.Strings(n.required)

	docProps := make(map[string]*jsonschema.Schema, len(s.Properties))
	for _, name := range n.propNames {
		prop := s.Properties[name]
		child := c.compile(prop, depth+1)
		n.props[name] = child
		docProps[name] = child.doc
		if prop != nil && len(prop.Default) > 0 {
			if v, err := decodeJSON(prop.Default); err == nil {
				n.defaults[name] = v
			}
		}
	}
	n.doc = &jsonschema.Schema{
		Type:        "object",
		Description: s.Description,
		Properties:  docProps,
		Required:    n.required,
	}
	return n
}

func (c *compiler) compileScalar(s *jsonschema.Schema, typ string) *node {
	n := &node{}
	switch typ {
	case "string":
		n.kind = kindString
	case "number":
		n.kind = kindNumber
	case "integer":
		n.kind = kindInteger
	case "boolean":
		n.kind = kindBoolean
	case "null":
		n.kind = kindNull
	}
	doc := &jsonschema.Schema{
		Type:        typ,
		Description: s.Description,
		Format:      s.Format,
		Default:     s.Default,
	}
	if len(s.Enum) > 0 {
		doc.Enum = append([]any(nil), s.Enum...)
		for _, v := range s.Enum {
			if raw, err := json.Marshal(v); err == nil {
				n.enum = append(n.enum, raw)
			}
		}
	}
	n.doc = doc
	return n
}

// resolveRef follows local "#/$defs/<name>" references against the root
// schema. Anything else is treated as unrepresentable.
func (c *compiler) resolveRef(ref string) *jsonschema.Schema {
	const prefix = "#/$defs/"
	if c.root == nil || !strings.HasPrefix(ref, prefix) {
		return nil
	}
	name := strings.TrimPrefix(ref, prefix)
	if strings.Contains(name, "/") {
		return nil
	}
	return c.root.Defs[name]
}

func anyNode(s *jsonschema.Schema) *node {
	doc := &jsonschema.Schema{}
	if s != nil {
		doc.Description = s.Description
	}
	return &node{kind: kindAny, doc: doc}
}

// Bind decodes body, validates it against the compiled schema, injects
// defaults for absent optional fields, and returns the call payload. An empty
// body binds like "{}". On failure it returns a *ValidationError listing
// every offending field.
func (b *Binder) Bind(body []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		trimmed = []byte("{}")
	}
	value, err := decodeJSON(trimmed)
	if err != nil {
		return nil, &ValidationError{Fields: []FieldError{{Message: "request body is not valid JSON"}}}
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, &ValidationError{Fields: []FieldError{{Message: "request body must be a JSON object"}}}
	}

	var errs []FieldError
	out := b.root.validate(obj, "", &errs)
	if len(errs) > 0 {
		return nil, &ValidationError{Fields: errs}
	}
	result, ok := out.(map[string]any)
	if !ok {
		result = obj
	}
	return result, nil
}

func (n *node) validate(v any, path string, errs *[]FieldError) any {
	switch n.kind {
	case kindAny:
		return v
	case kindObject:
		return n.validateObject(v, path, errs)
	case kindArray:
		arr, ok := v.([]any)
		if !ok {
			addErr(errs, path, "must be an array")
			return v
		}
		out := make([]any, len(arr))
		for i, elem := range arr {
			out[i] = n.items.validate(elem, fmt.Sprintf("%s[%d]", path, i), errs)
		}
		return out
	case kindString:
		s, ok := v.(string)
		if !ok {
			addErr(errs, path, "must be a string")
			return v
		}
		n.checkEnum(s, path, errs)
		return s
	case kindNumber:
		num, ok := v.(json.Number)
		if !ok {
			addErr(errs, path, "must be a number")
			return v
		}
		n.checkEnum(num, path, errs)
		return num
	case kindInteger:
		num, ok := v.(json.Number)
		if !ok || !isIntegral(num) {
			addErr(errs, path, "must be an integer")
			return v
		}
		n.checkEnum(num, path, errs)
		return num
	case kindBoolean:
		bv, ok := v.(bool)
		if !ok {
			addErr(errs, path, "must be a boolean")
			return v
		}
		n.checkEnum(bv, path, errs)
		return bv
	case kindNull:
		if v != nil {
			addErr(errs, path, "must be null")
		}
		return v
	default:
		return v
	}
}

func (n *node) validateObject(v any, path string, errs *[]FieldError) any {
	obj, ok := v.(map[string]any)
	if !ok {
		addErr(errs, path, "must be an object")
		return v
	}
	for _, name := range n.required {
		if _, present := obj[name]; !present {
			addErr(errs, joinPath(path, name), "required field is missing")
		}
	}
	out := make(map[string]any, len(obj))
	for k, val := range obj {
		if child, known := n.props[k]; known {
			out[k] = child.validate(val, joinPath(path, k), errs)
		} else {
			// Unknown fields pass through untouched; the config schema is
			// permissive and backends may accept more than they declare.
			out[k] = val
		}
	}
	for name, def := range n.defaults {
		if _, present := out[name]; !present {
			out[name] = def
		}
	}
	return out
}

func (n *node) checkEnum(v any, path string, errs *[]FieldError) {
	if len(n.enum) == 0 {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		addErr(errs, path, "must be one of the allowed values")
		return
	}
	for _, allowed := range n.enum {
		if bytes.Equal(raw, allowed) {
			return
		}
	}
	addErr(errs, path, "must be one of the allowed values")
}

func addErr(errs *[]FieldError, path, msg string) {
	*errs = append(*errs, FieldError{Path: path, Message: msg})
}

func joinPath(parent, field string) string {
	if parent == "" {
		return field
	}
	return parent + "." + field
}

func isIntegral(num json.Number) bool {
	if _, err := num.Int64(); err == nil {
		return true
	}
	s := num.String()
	return !strings.ContainsAny(s, ".eE")
}

// decodeJSON decodes with UseNumber so numeric payloads survive the
// round-trip to the backend without float coercion.
func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	// Trailing garbage after the document is still malformed input.
	if dec.More() {
		return nil, fmt.Errorf("unexpected trailing data")
	}
	return v, nil
}
