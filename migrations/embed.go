package migrations

import "embed"

// FS contains the embedded postgres schema migrations.
//
//go:embed *.sql
var FS embed.FS
