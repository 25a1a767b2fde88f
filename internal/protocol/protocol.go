// Package protocol implements the filedrop wire protocol: text control
// tokens exchanged in lock-step over one TCP connection, followed by a raw
// payload stream for downloads.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
)

const (
	CmdList     = "LIST"
	CmdDownload = "DOWNLOAD"
	CmdExit     = "EXIT"

	StatusSuccess = "SUCCESS"
	StatusError   = "ERROR"

	MsgReady        = "READY"
	MsgSizeReceived = "SIZE_RECEIVED"
	MsgFileEnd      = "FILE_END"

	FieldSeparator = "|"
	EntrySeparator = ";"

	// ChunkSize is the payload frame size; the last frame may be shorter.
	ChunkSize = 8192
	// MaxControlSize bounds a single control token read.
	MaxControlSize = 4096
)

var (
	ErrConnectionFailure = errors.New("connection failure")
	ErrPeerClosed        = errors.New("peer closed connection")
	ErrTimeout           = errors.New("timeout")
	ErrProtocol          = errors.New("protocol error")
	ErrSourceNotFound    = errors.New("source file not found")
	ErrCompression       = errors.New("compression failed")
	ErrSizeMismatch      = errors.New("size mismatch")
	ErrRejected          = errors.New("download rejected by server")
	ErrCancelled         = errors.New("download cancelled")
)

// CompressionRatio returns the share of the original size saved by
// compression, in percent. An empty original yields 0.
func CompressionRatio(originalSize, compressedSize uint64) float64 {
	if originalSize == 0 {
		return 0.0
	}
	return (1 - float64(compressedSize)/float64(originalSize)) * 100
}

// FormatRatio renders a ratio with two fractional digits, e.g. "60.00".
func FormatRatio(ratio float64) string {
	return strconv.FormatFloat(ratio, 'f', 2, 64)
}

// FormatSize renders a payload size token.
func FormatSize(size uint64) string {
	return strconv.FormatUint(size, 10)
}

// ParseSize parses the decimal size token sent ahead of the payload.
func ParseSize(token string) (uint64, error) {
	if token == "" {
		return 0, fmt.Errorf("%w: empty size", ErrProtocol)
	}
	for _, r := range token {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: invalid size %q", ErrProtocol, token)
		}
	}
	size, err := strconv.ParseUint(token, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid size %q: %v", ErrProtocol, token, err)
	}
	return size, nil
}

// ChunkSizes lists the frame sizes used to send a payload of total bytes.
func ChunkSizes(total uint64) []int {
	sizes := make([]int, 0, total/ChunkSize+1)
	for remaining := total; remaining > 0; {
		n := uint64(ChunkSize)
		if remaining < n {
			n = remaining
		}
		sizes = append(sizes, int(n))
		remaining -= n
	}
	return sizes
}
