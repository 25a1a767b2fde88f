// Package audit is the durable record of completed transfers.
//
// The server writes one entry per download after it has sent the whole
// archive and the terminal marker. Entries are never updated; the only
// destructive operation is Clear, which empties the log.
//
// Store keeps entries in a SQLite database through a zombiezen
// connection pool. Every caller takes its own connection, so request
// handlers can record concurrently; SQLite serializes the writes.
package audit
