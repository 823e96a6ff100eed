// Package storage provides storage implementations for job persistence.
//
// This package includes:
//   - RedisStorage: a single-node Redis store built on Lua scripts
//   - GormStorage: a GORM store for SQLite and PostgreSQL
//   - Open: selects and connects a store from a Config
//
// The Storage interface is defined in pkg/core and must be implemented
// by any custom storage backend.
package storage
