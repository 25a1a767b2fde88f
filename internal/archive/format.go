package archive

import "fmt"

// Format identifies the archive encoding produced for a download.
type Format string

const (
	FormatZip  Format = "zip"
	FormatZstd Format = "zstd"
	FormatLZ4  Format = "lz4"
)

func ParseFormat(name string) (Format, error) {
	switch Format(name) {
	case FormatZip, FormatZstd, FormatLZ4:
		return Format(name), nil
	case "":
		return FormatZip, nil
	default:
		return "", fmt.Errorf("unknown archive format: %q", name)
	}
}

// Extension returns the file suffix for archives of this format,
// including the leading dot.
func (f Format) Extension() string {
	switch f {
	case FormatZstd:
		return ".zst"
	case FormatLZ4:
		return ".lz4"
	default:
		return ".zip"
	}
}

func (f Format) String() string {
	return string(f)
}
