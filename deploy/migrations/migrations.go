package migrations

import "embed"

// Files exposes the SQL migration files for deployment tooling.
//
//go:embed *.sql
var Files embed.FS
