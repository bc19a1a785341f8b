// Package migrations embeds the goose SQL migrations so a single binary
// can bring its schema up to date at startup.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// Dir is the directory passed to goose inside the embedded FS.
const Dir = "."
