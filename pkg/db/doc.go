// Package db provides database connection utilities for Torvus Console.
//
// The workflow stores use GORM over PostgreSQL. The audit store uses a plain
// database/sql handle so it can live in a separate database.
//
// # Connection
//
//	database, err := db.Connect(db.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Connections are opened with TranslateError so unique index conflicts
// surface as gorm.ErrDuplicatedKey. IsUniqueViolation also accepts the raw
// lib/pq error for code paths that bypass GORM.
//
// # Environment Variables
//
//   - DATABASE_URL: PostgreSQL connection string (required)
//   - AUDIT_DATABASE_URL: audit database (defaults to DATABASE_URL)
//   - TORVUS_LOG_LEVEL: Set to "debug" for SQL query logging
package db
