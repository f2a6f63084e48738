// Package migrations embeds the SQL schema applied at startup by the
// postgres store backend.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
