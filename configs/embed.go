// Package configs embeds the configuration templates written by
// 'entityidx init'.
package configs

import _ "embed"

// ProjectConfigTemplate is written to .entityidx.yaml in the project root.
// Every option is present and commented out at its default.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
