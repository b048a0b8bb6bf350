package migrations

import "embed"

// FS contains embedded Postgres migrations for the order store.
//
//go:embed *.sql
var FS embed.FS
