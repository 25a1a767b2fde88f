package models

type DownloadResult struct {
	Server           string        `json:"server"`
	Filename         string        `json:"filename"`
	SavedPath        string        `json:"saved_path"`
	Format           string        `json:"format,omitempty"`
	OriginalSize     uint64        `json:"original_size"`
	CompressedSize   uint64        `json:"compressed_size"`
	CompressionRatio float64       `json:"compression_ratio"`
	ArchiveSize      uint64        `json:"archive_size"`
	SavedBytes       int64         `json:"saved_bytes"`
	SavedHuman       string        `json:"saved_human"`
	OperationTime    string        `json:"operation_time"`
	DownloadDuration string        `json:"download_duration"`
	Mirror           *MirrorResult `json:"mirror,omitempty"`
}

type MirrorResult struct {
	BucketName string `json:"bucket_name"`
	RemotePath string `json:"remote_path"`
	Size       int64  `json:"size"`
	SizeHuman  string `json:"size_human"`
}
