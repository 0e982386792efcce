// Package migrations embeds the SQL schema migrations applied by goose.
package migrations

import "embed"

// FS holds one directory per schema: sqlite and postgres for the credential
// store, media for the per-account media database.
//
//go:embed sqlite/*.sql postgres/*.sql media/*.sql
var FS embed.FS
