// Package storage provides persistence backends for quota records.
//
// # Overview
//
// Every backend implements quota.Store and keys records by the pair
// (namespace, identity key), so a guest fingerprint can never collide with a
// user id:
//
//   - Memory: fast in-process storage (default, no persistence)
//   - SQLite: file-based persistence for single-instance deployments
//   - PostgreSQL: shared durable store for multi-instance deployments
//   - Redis: low-latency shared store with per-namespace expiry index
//
// # Atomicity
//
// Store.Update is an atomic read-modify-write of one record. Memory uses its
// mutex, SQL backends a transaction (row lock on PostgreSQL, the single writer
// connection on SQLite), Redis a WATCH/MULTI transaction. Nothing spans more
// than one record.
//
// # Usage
//
//	backend, err := storage.NewSQLiteBackend("data/quota.db")
//	if err != nil {
//	    return err
//	}
//	defer backend.Close()
//
//	engine := quota.NewEngine(backend, quota.EngineConfig{Limits: limits})
package storage
