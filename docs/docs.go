// Package docs carries the OpenAPI description of the knowledge API.
package docs

import _ "embed"

// OpenAPI is the YAML document served at /docs/openapi.yaml.
//
//go:embed openapi.yaml
var OpenAPI []byte
