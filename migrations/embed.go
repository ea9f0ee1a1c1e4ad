// Package migrations embeds the SQL migrations (ordered: 001, 002, ...).
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
