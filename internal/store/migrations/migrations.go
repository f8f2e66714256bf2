// Package migrations embeds the schema migrations applied by cmd/migrate and
// the store integration tests.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
