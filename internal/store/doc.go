// Package store holds the shared key-value store backends. Each subpackage
// implements ingest.Store for one backend; this package must not import
// database drivers or concrete clients.
package store
