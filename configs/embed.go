// Package configs embeds the configuration templates written by
// `careindex config init`.
package configs

import _ "embed"

// ConfigTemplate is the commented default configuration, written to the
// user config path or, with --project, to .careindex.yaml.
//
//go:embed careindex.example.yaml
var ConfigTemplate string

// SitesTemplate is an example trusted-sites file.
//
//go:embed trusted-sites.example.yaml
var SitesTemplate string
