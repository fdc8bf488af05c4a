// Package pagination implements opaque keyset cursors for list endpoints.
// A cursor is two values joined by "|" and base64url encoded; clients must
// treat it as an opaque token.
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100
)

var errMalformed = errors.New("malformed cursor")

type Params struct {
	Limit  int
	Cursor string
}

// Cursor orders rows newest first by (CreatedAt, ID).
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// SequenceCursor points into an append-only stream ordered by
// (Version, Position), such as stock movements.
type SequenceCursor struct {
	Version  int64
	Position int
}

// NormalizeLimit clamps limit into [1, MaxLimit], mapping non-positive values
// to DefaultLimit.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// LimitWithBuffer is the row count to fetch so an extra row signals a next page.
func LimitWithBuffer(limit int) int { return NormalizeLimit(limit) + 1 }

func EncodeCursor(c Cursor) string {
	return pack(c.CreatedAt.UTC().Format(time.RFC3339Nano), c.ID.String())
}

// ParseCursor returns nil, nil for a blank value.
func ParseCursor(value string) (*Cursor, error) {
	at, id, err := unpack(value)
	if err != nil || at == "" {
		return nil, err
	}
	var c Cursor
	if c.CreatedAt, err = time.Parse(time.RFC3339Nano, at); err != nil {
		return nil, fmt.Errorf("%w: timestamp: %v", errMalformed, err)
	}
	if c.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: id: %v", errMalformed, err)
	}
	return &c, nil
}

func EncodeSequenceCursor(c SequenceCursor) string {
	return pack(strconv.FormatInt(c.Version, 10), strconv.Itoa(c.Position))
}

// ParseSequenceCursor returns nil, nil for a blank value.
func ParseSequenceCursor(value string) (*SequenceCursor, error) {
	version, position, err := unpack(value)
	if err != nil || version == "" {
		return nil, err
	}
	var c SequenceCursor
	if c.Version, err = strconv.ParseInt(version, 10, 64); err != nil {
		return nil, fmt.Errorf("%w: version: %v", errMalformed, err)
	}
	if c.Position, err = strconv.Atoi(position); err != nil {
		return nil, fmt.Errorf("%w: position: %v", errMalformed, err)
	}
	return &c, nil
}

func pack(first, second string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(first + "|" + second))
}

// unpack returns two empty strings and no error for a blank token.
func unpack(token string) (string, string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", errMalformed, err)
	}
	first, second, ok := strings.Cut(string(raw), "|")
	if !ok || first == "" {
		return "", "", errMalformed
	}
	return first, second, nil
}
