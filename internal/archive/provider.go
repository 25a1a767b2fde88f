package archive

import (
	"archive/zip"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"

	"filedrop/internal/models"
	"filedrop/internal/protocol"
	"filedrop/pkg/utils"
)

// Provider serves the regular files of one directory and compresses them
// on request into a work directory.
type Provider struct {
	dir     string
	workDir string
	format  Format
	logger  *slog.Logger
}

type Config struct {
	// Dir holds the files offered to clients.
	Dir string
	// WorkDir receives transient archives. Defaults to os.TempDir(). It
	// must not be Dir, or archives would show up in listings.
	WorkDir string
	Format  Format
	Logger  *slog.Logger
}

func New(cfg Config) (*Provider, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("archive: source directory is required")
	}
	if _, err := ParseFormat(string(cfg.Format)); err != nil {
		return nil, err
	}
	format := cfg.Format
	if format == "" {
		format = FormatZip
	}
	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create source directory: %w", err)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	if same, err := sameDir(cfg.Dir, workDir); err == nil && same {
		return nil, fmt.Errorf("archive: work directory must differ from source directory %s", cfg.Dir)
	}

	return &Provider{dir: cfg.Dir, workDir: workDir, format: format, logger: logger}, nil
}

func (p *Provider) Dir() string { return p.dir }

func (p *Provider) Format() Format { return p.format }

// List returns the regular files of the source directory sorted by name.
func (p *Provider) List() ([]protocol.FileEntry, error) {
	dirEntries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read source directory: %w", err)
	}

	entries := make([]protocol.FileEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if !de.Type().IsRegular() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to stat %s: %w", de.Name(), err)
		}
		entries = append(entries, protocol.FileEntry{Name: de.Name(), Size: info.Size()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Compress archives one file of the source directory. The caller owns
// the returned archive and removes it with Cleanup. Unknown names return
// an error wrapping protocol.ErrSourceNotFound; any other failure wraps
// protocol.ErrCompression.
func (p *Provider) Compress(name string) (*models.ArchiveInfo, error) {
	sourcePath, info, err := p.resolve(name)
	if err != nil {
		return nil, err
	}

	out, err := os.CreateTemp(p.workDir, name+"-*"+p.format.Extension())
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create archive file: %v", protocol.ErrCompression, err)
	}
	archivePath := out.Name()
	createdAt := time.Now()

	hasher := blake3.New()
	if err := p.write(io.MultiWriter(out, hasher), sourcePath, info); err != nil {
		out.Close()
		p.Cleanup(archivePath)
		return nil, fmt.Errorf("%w: %s: %v", protocol.ErrCompression, name, err)
	}

	stat, err := out.Stat()
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		p.Cleanup(archivePath)
		return nil, fmt.Errorf("%w: failed to finalize archive: %v", protocol.ErrCompression, err)
	}

	originalSize := info.Size()
	compressedSize := stat.Size()

	p.logger.Debug("archive created",
		"file", name,
		"archive", archivePath,
		"format", p.format,
		"original_size", originalSize,
		"compressed_size", compressedSize,
	)

	return &models.ArchiveInfo{
		ArchivePath:      archivePath,
		SourceName:       name,
		SourcePath:       sourcePath,
		Format:           p.format.String(),
		CompressedSize:   compressedSize,
		OriginalSize:     originalSize,
		CompressionRatio: protocol.CompressionRatio(uint64(originalSize), uint64(compressedSize)),
		Digest:           hex.EncodeToString(hasher.Sum(nil)),
		CreatedAt:        createdAt,
	}, nil
}

// Cleanup removes a transient archive. Failures are logged, not returned.
func (p *Provider) Cleanup(archivePath string) {
	if err := utils.CleanupTempFile(archivePath); err != nil {
		p.logger.Warn("failed to remove transient archive", "archive", archivePath, "error", err)
		return
	}
	p.logger.Debug("transient archive removed", "archive", archivePath)
}

func (p *Provider) resolve(name string) (string, os.FileInfo, error) {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return "", nil, fmt.Errorf("%w: %q", protocol.ErrSourceNotFound, name)
	}

	sourcePath := filepath.Join(p.dir, name)
	info, err := os.Stat(sourcePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil, fmt.Errorf("%w: %q", protocol.ErrSourceNotFound, name)
		}
		return "", nil, fmt.Errorf("%w: cannot access %q: %v", protocol.ErrCompression, name, err)
	}
	if !info.Mode().IsRegular() {
		return "", nil, fmt.Errorf("%w: %q is not a regular file", protocol.ErrSourceNotFound, name)
	}
	return sourcePath, info, nil
}

func (p *Provider) write(w io.Writer, sourcePath string, info os.FileInfo) error {
	file, err := os.Open(sourcePath)
	if err != nil {
		return err
	}
	defer file.Close()

	switch p.format {
	case FormatZstd:
		return writeZstd(w, file)
	case FormatLZ4:
		return writeLZ4(w, file)
	default:
		return writeZip(w, file, info)
	}
}

func writeZip(w io.Writer, src io.Reader, info os.FileInfo) error {
	zipWriter := zip.NewWriter(w)

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = filepath.ToSlash(info.Name())
	header.Method = zip.Deflate

	entry, err := zipWriter.CreateHeader(header)
	if err != nil {
		return err
	}
	if _, err := io.Copy(entry, src); err != nil {
		return err
	}
	return zipWriter.Close()
}

func writeZstd(w io.Writer, src io.Reader) error {
	encoder, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	if _, err := io.Copy(encoder, src); err != nil {
		encoder.Close()
		return err
	}
	return encoder.Close()
}

func writeLZ4(w io.Writer, src io.Reader) error {
	encoder := lz4.NewWriter(w)
	if _, err := io.Copy(encoder, src); err != nil {
		encoder.Close()
		return err
	}
	return encoder.Close()
}

func sameDir(a, b string) (bool, error) {
	infoA, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	infoB, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	return os.SameFile(infoA, infoB), nil
}
