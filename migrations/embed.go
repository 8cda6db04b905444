// Package migrations holds the Postgres schema for projects, API keys,
// survey plans and SDK config.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
