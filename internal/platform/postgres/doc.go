// Package postgres provides PostgreSQL-backed implementations of the storage
// interfaces defined in internal/store. It owns the schema migrations, the
// mapping between domain entities and rows, and the translation of driver
// errors into store sentinel errors.
package postgres
