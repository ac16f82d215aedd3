// Package db embeds the SQL migration files shipped with the binary.
package db

import "embed"

// Migrations holds the schema migration files, applied in lexical order.
//
//go:embed migrations/*.sql
var Migrations embed.FS
