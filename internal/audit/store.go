package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"filedrop/internal/models"
)

// Sink is what the server needs from an audit log.
type Sink interface {
	Record(ctx context.Context, entry models.AuditEntry) error
	ListAll(ctx context.Context) ([]models.AuditEntry, error)
	Clear(ctx context.Context) (int, error)
}

const timestampLayout = "2006-01-02 15:04:05"

const schema = `
CREATE TABLE IF NOT EXISTS download_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
	client_ip TEXT,
	filename TEXT,
	original_size INTEGER,
	compressed_size INTEGER,
	compression_ratio REAL,
	save_path TEXT,
	archive_digest TEXT
);
`

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA temp_store=MEMORY",
}

type Config struct {
	// Path of the database file; created when missing.
	Path string
	// PoolSize defaults to 4.
	PoolSize int
	Logger   *slog.Logger
}

// Store is a SQLite-backed Sink. It is safe for concurrent use.
type Store struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	path   string
}

var _ Sink = (*Store)(nil)

func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("audit: database path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("audit: opening %s: %w", cfg.Path, err)
	}

	logger.Debug("audit store opened", "path", cfg.Path, "pool_size", poolSize)
	return &Store{pool: pool, logger: logger, path: cfg.Path}, nil
}

func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("audit: closing %s: %w", s.path, err)
	}
	return nil
}

// Record appends entry. A zero Timestamp means now.
func (s *Store) Record(ctx context.Context, entry models.AuditEntry) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("audit: take connection: %w", err)
	}
	defer s.pool.Put(conn)

	timestamp := entry.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	err = sqlitex.Execute(conn, `
		INSERT INTO download_log
			(timestamp, client_ip, filename, original_size, compressed_size,
			 compression_ratio, save_path, archive_digest)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				timestamp.UTC().Format(timestampLayout),
				entry.ClientAddress,
				entry.Filename,
				entry.OriginalSize,
				entry.CompressedSize,
				entry.CompressionRatio,
				entry.SavedPath,
				entry.ArchiveDigest,
			},
		})
	if err != nil {
		return fmt.Errorf("audit: insert %s: %w", entry.Filename, err)
	}

	s.logger.Info("audit entry recorded",
		"id", conn.LastInsertRowID(),
		"filename", entry.Filename,
		"client", entry.ClientAddress,
	)
	return nil
}

// ListAll returns every entry, newest first.
func (s *Store) ListAll(ctx context.Context) ([]models.AuditEntry, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: take connection: %w", err)
	}
	defer s.pool.Put(conn)

	entries := []models.AuditEntry{}
	err = sqlitex.Execute(conn, `
		SELECT id, timestamp, client_ip, filename, original_size, compressed_size,
		       compression_ratio, save_path, archive_digest
		FROM download_log
		ORDER BY timestamp DESC, id DESC`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				entries = append(entries, scanEntry(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	return entries, nil
}

// Clear deletes every entry and reports how many were removed.
func (s *Store) Clear(ctx context.Context) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("audit: take connection: %w", err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, "DELETE FROM download_log", nil); err != nil {
		return 0, fmt.Errorf("audit: clear: %w", err)
	}
	deleted := conn.Changes()
	s.logger.Info("audit log cleared", "deleted", deleted)
	return deleted, nil
}

func scanEntry(stmt *sqlite.Stmt) models.AuditEntry {
	timestamp, _ := time.ParseInLocation(timestampLayout, stmt.ColumnText(1), time.UTC)
	return models.AuditEntry{
		ID:               stmt.ColumnInt64(0),
		Timestamp:        timestamp,
		ClientAddress:    stmt.ColumnText(2),
		Filename:         stmt.ColumnText(3),
		OriginalSize:     stmt.ColumnInt64(4),
		CompressedSize:   stmt.ColumnInt64(5),
		CompressionRatio: stmt.ColumnFloat(6),
		SavedPath:        stmt.ColumnText(7),
		ArchiveDigest:    stmt.ColumnText(8),
	}
}

func prepareConnection(conn *sqlite.Conn) error {
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("audit: %s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("audit: schema: %w", err)
	}
	return nil
}
