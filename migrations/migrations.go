package migrations

import "embed"

// FS holds the goose migrations of every service, one directory per service.
//
//go:embed order/*.sql payment/*.sql notification/*.sql
var FS embed.FS
