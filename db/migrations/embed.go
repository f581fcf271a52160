// Package migrations embeds the goose migration files so the binaries can
// apply the schema through goose on startup.
package migrations

import "embed"

// FS holds every *.sql migration, ordered by file name.
//
//go:embed *.sql
var FS embed.FS
