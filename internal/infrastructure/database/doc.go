// Package database provides the SQLite connection layer: lifecycle,
// pragmas, health checks, and embedded schema migrations.
//
// Migrations are .sql files compiled into the binary by the migrations
// package and applied in version order, each in its own transaction.
package database
