package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"filedrop/internal/protocol"
)

func newTestProvider(t *testing.T, format Format) (*Provider, string) {
	t.Helper()

	sourceDir := t.TempDir()
	provider, err := New(Config{Dir: sourceDir, WorkDir: t.TempDir(), Format: format})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return provider, sourceDir
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    Format
		extension   string
		expectError bool
	}{
		{"Zip", "zip", FormatZip, ".zip", false},
		{"Default", "", FormatZip, ".zip", false},
		{"Zstd", "zstd", FormatZstd, ".zst", false},
		{"LZ4", "lz4", FormatLZ4, ".lz4", false},
		{"Unknown", "rar", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			format, err := ParseFormat(tt.input)
			if (err != nil) != tt.expectError {
				t.Fatalf("ParseFormat(%q) error = %v, expectError %v", tt.input, err, tt.expectError)
			}
			if format != tt.expected {
				t.Errorf("ParseFormat(%q) = %s, want %s", tt.input, format, tt.expected)
			}
			if err == nil && format.Extension() != tt.extension {
				t.Errorf("Extension() = %s, want %s", format.Extension(), tt.extension)
			}
		})
	}
}

func TestNewRejectsSharedWorkDir(t *testing.T) {
	dir := t.TempDir()
	if _, err := New(Config{Dir: dir, WorkDir: dir}); err == nil {
		t.Error("New() with WorkDir == Dir should return error")
	}
	if _, err := New(Config{}); err == nil {
		t.Error("New() without Dir should return error")
	}
	if _, err := New(Config{Dir: dir, Format: "rar"}); err == nil {
		t.Error("New() with unknown format should return error")
	}
}

func TestList(t *testing.T) {
	provider, sourceDir := newTestProvider(t, FormatZip)

	entries, err := provider.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("List() on empty directory = %v, want no entries", entries)
	}

	if err := os.WriteFile(filepath.Join(sourceDir, "b.txt"), []byte("bravo"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(sourceDir, "a.txt"), []byte("alpha!"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	if err := os.Mkdir(filepath.Join(sourceDir, "subdir"), 0755); err != nil {
		t.Fatalf("Failed to create subdirectory: %v", err)
	}

	entries, err = provider.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	expected := []protocol.FileEntry{{Name: "a.txt", Size: 6}, {Name: "b.txt", Size: 5}}
	if len(entries) != len(expected) {
		t.Fatalf("List() = %v, want %v", entries, expected)
	}
	for i := range expected {
		if entries[i] != expected[i] {
			t.Errorf("List()[%d] = %v, want %v", i, entries[i], expected[i])
		}
	}
}

func TestCompressFormats(t *testing.T) {
	content := []byte(strings.Repeat("filedrop compresses repetitive text well. ", 500))

	tests := []struct {
		format Format
		decode func(t *testing.T, path string) []byte
	}{
		{FormatZip, readZip},
		{FormatZstd, readZstd},
		{FormatLZ4, readLZ4},
	}

	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			provider, sourceDir := newTestProvider(t, tt.format)
			if err := os.WriteFile(filepath.Join(sourceDir, "notes.txt"), content, 0644); err != nil {
				t.Fatalf("Failed to create test file: %v", err)
			}

			info, err := provider.Compress("notes.txt")
			if err != nil {
				t.Fatalf("Compress() error = %v", err)
			}
			defer provider.Cleanup(info.ArchivePath)

			stat, err := os.Stat(info.ArchivePath)
			if err != nil {
				t.Fatalf("Archive file was not created: %v", err)
			}
			if filepath.Dir(info.ArchivePath) == sourceDir {
				t.Errorf("archive %s was written into the source directory", info.ArchivePath)
			}
			if !strings.HasSuffix(info.ArchivePath, tt.format.Extension()) {
				t.Errorf("ArchivePath = %s, want suffix %s", info.ArchivePath, tt.format.Extension())
			}
			if info.CompressedSize != stat.Size() {
				t.Errorf("CompressedSize = %d, on disk %d", info.CompressedSize, stat.Size())
			}
			if info.OriginalSize != int64(len(content)) {
				t.Errorf("OriginalSize = %d, want %d", info.OriginalSize, len(content))
			}
			if info.CompressionRatio <= 0 || info.CompressionRatio >= 100 {
				t.Errorf("CompressionRatio = %.2f, want between 0 and 100", info.CompressionRatio)
			}
			if len(info.Digest) != 64 {
				t.Errorf("Digest = %q, want 64 hex characters", info.Digest)
			}
			if info.Format != tt.format.String() {
				t.Errorf("Format = %s, want %s", info.Format, tt.format)
			}

			if decoded := tt.decode(t, info.ArchivePath); !bytes.Equal(decoded, content) {
				t.Error("decoded archive differs from source file")
			}
		})
	}
}

func TestCompressEmptyFile(t *testing.T) {
	provider, sourceDir := newTestProvider(t, FormatZip)
	if err := os.WriteFile(filepath.Join(sourceDir, "empty.txt"), nil, 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	info, err := provider.Compress("empty.txt")
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	defer provider.Cleanup(info.ArchivePath)

	if info.OriginalSize != 0 {
		t.Errorf("OriginalSize = %d, want 0", info.OriginalSize)
	}
	if info.CompressionRatio != 0 {
		t.Errorf("CompressionRatio = %.2f, want 0", info.CompressionRatio)
	}
}

func TestCompressMissing(t *testing.T) {
	provider, sourceDir := newTestProvider(t, FormatZip)
	if err := os.Mkdir(filepath.Join(sourceDir, "subdir"), 0755); err != nil {
		t.Fatalf("Failed to create subdirectory: %v", err)
	}

	for _, name := range []string{"missing.txt", "", ".", "..", "../secret", "subdir", "a/b"} {
		t.Run(name, func(t *testing.T) {
			_, err := provider.Compress(name)
			if !errors.Is(err, protocol.ErrSourceNotFound) {
				t.Errorf("Compress(%q) error = %v, want ErrSourceNotFound", name, err)
			}
		})
	}
}

func TestCleanup(t *testing.T) {
	provider, sourceDir := newTestProvider(t, FormatZip)
	if err := os.WriteFile(filepath.Join(sourceDir, "x.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	info, err := provider.Compress("x.txt")
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}

	provider.Cleanup(info.ArchivePath)
	if _, err := os.Stat(info.ArchivePath); !os.IsNotExist(err) {
		t.Errorf("archive was not removed: %v", err)
	}

	// A second cleanup is a no-op.
	provider.Cleanup(info.ArchivePath)
}

func readZip(t *testing.T, path string) []byte {
	t.Helper()
	reader, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("Failed to open archive: %v", err)
	}
	defer reader.Close()

	if len(reader.File) != 1 {
		t.Fatalf("Archive contains %d files, want 1", len(reader.File))
	}
	rc, err := reader.File[0].Open()
	if err != nil {
		t.Fatalf("Failed to open archive entry: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("Failed to read archive entry: %v", err)
	}
	return data
}

func readZstd(t *testing.T, path string) []byte {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open archive: %v", err)
	}
	defer file.Close()

	decoder, err := zstd.NewReader(file)
	if err != nil {
		t.Fatalf("Failed to create zstd reader: %v", err)
	}
	defer decoder.Close()
	data, err := io.ReadAll(decoder)
	if err != nil {
		t.Fatalf("Failed to decode zstd archive: %v", err)
	}
	return data
}

func readLZ4(t *testing.T, path string) []byte {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open archive: %v", err)
	}
	defer file.Close()

	data, err := io.ReadAll(lz4.NewReader(file))
	if err != nil {
		t.Fatalf("Failed to decode lz4 archive: %v", err)
	}
	return data
}
