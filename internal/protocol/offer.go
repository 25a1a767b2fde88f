package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Offer is the server's reply to a download request. A successful offer
// carries the size and compression metadata; a failed one a message.
type Offer struct {
	Success        bool
	OriginalSize   uint64
	CompressedSize uint64
	Ratio          float64
	// Format names the archive encoding ("zip", "zstd", "lz4"). Older
	// servers omit it.
	Format  string
	Message string
	// Legacy is set when the offer lacked the compressed size field.
	Legacy bool
}

func SuccessOffer(originalSize, compressedSize uint64, format string) Offer {
	return Offer{
		Success:        true,
		OriginalSize:   originalSize,
		CompressedSize: compressedSize,
		Ratio:          CompressionRatio(originalSize, compressedSize),
		Format:         format,
	}
}

func ErrorOffer(message string) Offer {
	return Offer{Message: message}
}

func (o Offer) Encode() string {
	if !o.Success {
		return StatusError + FieldSeparator + o.Message
	}
	fields := []string{
		StatusSuccess,
		FormatSize(o.OriginalSize),
		FormatSize(o.CompressedSize),
		FormatRatio(o.Ratio),
	}
	if o.Format != "" {
		fields = append(fields, o.Format)
	}
	return strings.Join(fields, FieldSeparator)
}

// ParseOffer decodes an offer token. Success offers with three fields
// (status, original size, ratio) are accepted and flagged Legacy; the
// compressed size then defaults to 0.
func ParseOffer(token string) (Offer, error) {
	if !strings.HasPrefix(token, StatusSuccess) {
		message := strings.TrimPrefix(token, StatusError+FieldSeparator)
		if message == "" {
			message = "unknown server error"
		}
		return ErrorOffer(message), nil
	}

	parts := strings.Split(token, FieldSeparator)
	if parts[0] != StatusSuccess || len(parts) < 3 {
		return Offer{}, fmt.Errorf("%w: malformed offer %q", ErrProtocol, token)
	}

	offer := Offer{Success: true}
	var err error
	if offer.OriginalSize, err = strconv.ParseUint(parts[1], 10, 64); err != nil {
		return Offer{}, fmt.Errorf("%w: invalid original size %q", ErrProtocol, parts[1])
	}

	ratioField := parts[2]
	if len(parts) == 3 {
		offer.Legacy = true
	} else {
		if offer.CompressedSize, err = strconv.ParseUint(parts[2], 10, 64); err != nil {
			return Offer{}, fmt.Errorf("%w: invalid compressed size %q", ErrProtocol, parts[2])
		}
		ratioField = parts[3]
	}
	if offer.Ratio, err = strconv.ParseFloat(ratioField, 64); err != nil {
		return Offer{}, fmt.Errorf("%w: invalid ratio %q", ErrProtocol, ratioField)
	}
	if len(parts) >= 5 {
		offer.Format = parts[4]
	}
	return offer, nil
}
