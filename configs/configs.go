// Package configs holds the configuration files shipped with the binary.
package configs

import "embed"

// FS is looked up when a configuration name is not an existing path.
//
//go:embed *.yaml
var FS embed.FS
