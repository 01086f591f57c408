// Package toolschema compiles the input schema a backend declares for a tool
// into a runtime validator and an OpenAPI-compatible documentation fragment.
// The schema tree is walked once at mount time; the resulting Binder decodes
// and validates request bodies without re-parsing the schema per request,
// collects every field error instead of failing fast, and falls back to an
// untyped passthrough for schema constructs it cannot represent so a tool is
// never rejected outright for partial schema fidelity.
package toolschema
