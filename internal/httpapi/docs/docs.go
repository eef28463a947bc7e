// Package docs embeds the hand-authored OpenAPI document for the HTTP
// surface in internal/httpapi. The handlers carry no swag annotations,
// so `swag init` does not produce it; see DESIGN.md for why this copy is
// checked in.
package docs

import _ "embed"

//go:embed swagger.json
var SwaggerJSON []byte
