// Package migrations embeds the goose migration files for the SQLite backend.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
