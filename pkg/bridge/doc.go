// Package bridge republishes the tool catalogs of MCP backends as
// schema-validated HTTP endpoints with OpenAPI documentation. It owns the
// topology registry of mounted backends, generates one POST route per
// discovered tool, gates inbound requests behind a shared-secret auth layer,
// and hot-reloads the whole multi-backend topology from a declarative config
// file without disturbing backends whose configuration did not change.
package bridge
