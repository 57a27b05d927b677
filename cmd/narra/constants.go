package main

// Defaults for CLI flags. Zero values on other analysis flags select the
// configured analysis defaults.
const (
	DefaultRankLimit        = 10
	DefaultInvestigateDepth = 2
	DefaultCompareWindow    = "recent:5"
)

// Valid output formats.
var validFormats = []string{formatYAML, formatJSON}
