// Package sqlite is a live-listener remote.Store on SQLite.
//
// Documents are stored as canonical JSON keyed by their full path. Every
// write bumps a per-collection version counter in the same transaction.
// Subscriptions are woken in-process right after a commit and also poll the
// version counter, so writes from other processes sharing the database file
// are observed within one poll interval.
//
// Schema (managed by goose migrations):
//
//	documents(path PK, account_id, collection, doc_id, data, revision, created_seq)
//	collection_versions(account_id, collection, version)
//
// Snapshots are in creation order (created_seq). Merge writes shallow-merge
// top-level keys inside the write transaction.
package sqlite
