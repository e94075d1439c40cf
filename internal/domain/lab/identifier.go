package lab

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// IDKind selects an identifier namespace.
type IDKind string

const (
	KindTest   IDKind = "test"
	KindGroup  IDKind = "group"
	KindReport IDKind = "report"
)

type idFormat struct {
	prefix string
	width  int
}

var idFormats = map[IDKind]idFormat{
	KindTest:   {prefix: "TEST", width: 4},
	KindGroup:  {prefix: "GRP", width: 4},
	KindReport: {prefix: "REP", width: 3},
}

// SequenceRepository hands out the next number of a kind's sequence. It must
// run inside the caller's transaction so the number is consumed only if the
// insert that uses it commits.
type SequenceRepository interface {
	Next(ctx context.Context, kind IDKind) (int64, error)
}

// Allocator produces formatted, monotonically increasing identifiers.
type Allocator struct {
	seq SequenceRepository
}

func NewAllocator(seq SequenceRepository) *Allocator {
	return &Allocator{seq: seq}
}

// Next returns the next identifier of kind, e.g. "GRP-0007".
func (a *Allocator) Next(ctx context.Context, kind IDKind) (string, error) {
	if _, ok := idFormats[kind]; !ok {
		return "", fmt.Errorf("unknown identifier kind: %s", kind)
	}
	n, err := a.seq.Next(ctx, kind)
	if err != nil {
		return "", fmt.Errorf("allocate %s identifier: %w", kind, err)
	}
	return FormatIdentifier(kind, n), nil
}

// FormatIdentifier renders n with the kind's prefix and zero padding.
// Numbers wider than the padding are printed in full.
func FormatIdentifier(kind IDKind, n int64) string {
	f := idFormats[kind]
	return fmt.Sprintf("%s-%0*d", f.prefix, f.width, n)
}

// ParseIdentifier validates s against kind's format and returns its number.
func ParseIdentifier(kind IDKind, s string) (int64, error) {
	f, ok := idFormats[kind]
	if !ok {
		return 0, fmt.Errorf("unknown identifier kind: %s", kind)
	}
	digits, found := strings.CutPrefix(s, f.prefix+"-")
	if !found || len(digits) < f.width {
		return 0, invalid("malformed %s identifier %q", kind, s)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, invalid("malformed %s identifier %q", kind, s)
		}
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n < 1 {
		return 0, invalid("malformed %s identifier %q", kind, s)
	}
	return n, nil
}
