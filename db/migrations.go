// Package db carries the SQL schema migrations.
package db

import "embed"

// Migrations holds the schema migrations for builds tagged embed_migrations
//
//go:embed migrations/*.sql
var Migrations embed.FS
