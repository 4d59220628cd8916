// Package migrations embeds the goose migrations for the media API
// database.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
