// Package migrations embeds the service's PostgreSQL schema.
package migrations

import "embed"

// FS holds the numbered .sql files, applied in version order
//
//go:embed *.sql
var FS embed.FS
