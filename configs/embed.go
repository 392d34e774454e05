// Package configs provides the embedded configuration template for crawldex.
//
// The template is embedded at build time so `crawldex config init` works from
// any binary. Its values mirror config.NewConfig(); commented keys document
// the options that have no useful default.
package configs

import _ "embed"

// ConfigTemplate is written by `crawldex config init` to ./crawldex.yaml.
//
//go:embed crawldex.example.yaml
var ConfigTemplate string
