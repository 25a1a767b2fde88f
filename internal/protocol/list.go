package protocol

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// EmptyList is sent for an empty listing: a stream cannot carry a
// zero-length message, and a lone separator decodes to no entries.
const EmptyList = EntrySeparator

// FileEntry is one row of a LIST response.
type FileEntry struct {
	Name string
	Size int64
}

// EscapeName percent-encodes the separator characters (and anything else
// outside the unreserved set) so a name always survives as one field.
func EscapeName(name string) string {
	return url.PathEscape(name)
}

func UnescapeName(field string) (string, error) {
	name, err := url.PathUnescape(field)
	if err != nil {
		return "", fmt.Errorf("%w: invalid escaped name %q: %v", ErrProtocol, field, err)
	}
	return name, nil
}

// EncodeList renders entries as "name|size;name|size". An empty set is
// the empty string.
func EncodeList(entries []FileEntry) string {
	pairs := make([]string, 0, len(entries))
	for _, e := range entries {
		pairs = append(pairs, EscapeName(e.Name)+FieldSeparator+strconv.FormatInt(e.Size, 10))
	}
	return strings.Join(pairs, EntrySeparator)
}

func DecodeList(payload string) ([]FileEntry, error) {
	if payload == "" {
		return []FileEntry{}, nil
	}
	pairs := strings.Split(payload, EntrySeparator)
	entries := make([]FileEntry, 0, len(pairs))
	for _, pair := range pairs {
		if pair == "" {
			continue
		}
		name, size, ok := strings.Cut(pair, FieldSeparator)
		if !ok {
			return nil, fmt.Errorf("%w: list entry %q has no size", ErrProtocol, pair)
		}
		decoded, err := UnescapeName(name)
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseInt(size, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: list entry %q has invalid size", ErrProtocol, pair)
		}
		entries = append(entries, FileEntry{Name: decoded, Size: n})
	}
	return entries, nil
}
