package models

import "time"

// AuditEntry records one transfer the server completed. SavedPath is the
// server-side archive path that was streamed.
type AuditEntry struct {
	ID               int64     `json:"id" cbor:"1,keyasint"`
	Timestamp        time.Time `json:"timestamp" cbor:"2,keyasint"`
	ClientAddress    string    `json:"client_ip" cbor:"3,keyasint"`
	Filename         string    `json:"filename" cbor:"4,keyasint"`
	OriginalSize     int64     `json:"original_size" cbor:"5,keyasint"`
	CompressedSize   int64     `json:"compressed_size" cbor:"6,keyasint"`
	CompressionRatio float64   `json:"compression_ratio" cbor:"7,keyasint"`
	SavedPath        string    `json:"save_path" cbor:"8,keyasint"`
	ArchiveDigest    string    `json:"archive_digest,omitempty" cbor:"9,keyasint,omitempty"`
}

type AuditListResult struct {
	Entries       []AuditEntry `json:"entries"`
	TotalEntries  int          `json:"total_entries"`
	OperationTime string       `json:"operation_time"`
}

type AuditClearResult struct {
	DeletedCount  int    `json:"deleted_count"`
	OperationTime string `json:"operation_time"`
}

type AuditExportResult struct {
	Format        string        `json:"format"`
	OutputPath    string        `json:"output_path,omitempty"`
	TotalEntries  int           `json:"total_entries"`
	SizeBytes     int64         `json:"size_bytes"`
	OperationTime string        `json:"operation_time"`
	Mirror        *MirrorResult `json:"mirror,omitempty"`
}
