package models

import "time"

type ArchiveInfo struct {
	ArchivePath      string    `json:"archive_path"`
	SourceName       string    `json:"source_name"`
	SourcePath       string    `json:"source_path"`
	Format           string    `json:"format"`
	CompressedSize   int64     `json:"compressed_size"`
	OriginalSize     int64     `json:"original_size"`
	CompressionRatio float64   `json:"compression_ratio"`
	Digest           string    `json:"digest"`
	CreatedAt        time.Time `json:"created_at"`
}
