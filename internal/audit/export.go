package audit

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"filedrop/internal/models"
)

type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportCBOR ExportFormat = "cbor"
)

func ParseExportFormat(name string) (ExportFormat, error) {
	switch ExportFormat(name) {
	case ExportJSON, ExportCBOR:
		return ExportFormat(name), nil
	case "":
		return ExportJSON, nil
	default:
		return "", fmt.Errorf("unknown export format: %q", name)
	}
}

func (f ExportFormat) Extension() string {
	return "." + string(f)
}

func (f ExportFormat) ContentType() string {
	if f == ExportCBOR {
		return "application/cbor"
	}
	return "application/json"
}

var exportEncMode = func() cbor.EncMode {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("audit: cbor encoder mode: %v", err))
	}
	return mode
}()

// Export writes entries to w and returns the number of bytes written.
// CBOR output is deterministic: the same entries always produce the
// same bytes.
func Export(w io.Writer, entries []models.AuditEntry, format ExportFormat) (int64, error) {
	var (
		data []byte
		err  error
	)
	switch format {
	case ExportCBOR:
		data, err = exportEncMode.Marshal(entries)
	case ExportJSON:
		data, err = json.MarshalIndent(entries, "", "  ")
	default:
		return 0, fmt.Errorf("unknown export format: %q", format)
	}
	if err != nil {
		return 0, fmt.Errorf("audit: encoding %s export: %w", format, err)
	}

	n, err := w.Write(data)
	if err != nil {
		return int64(n), fmt.Errorf("audit: writing export: %w", err)
	}
	return int64(n), nil
}

// DecodeCBOR reads an export produced with ExportCBOR.
func DecodeCBOR(data []byte) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	if err := cbor.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("audit: decoding cbor export: %w", err)
	}
	return entries, nil
}
