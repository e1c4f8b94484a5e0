package segkey

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	// Separator joins segments in the display form of a key (e.g. "entry/1/order").
	Separator = "/"

	sepByte byte = 0x00 // segment separator in the storage encoding
	escByte byte = 0x01 // escape prefix for 0x00 and 0x01 inside a segment
)

// ErrMalformed is returned by Decode for byte sequences that are not a valid key encoding.
var ErrMalformed = errors.New("segkey: malformed key encoding")

// --------------------------------------------------------------------------
// SegKey (static root)
// --------------------------------------------------------------------------

// SegKey is a static, reusable namespace root. Every data kind owns exactly one
// root, declared once as a package level value (see Register).
type SegKey struct {
	root string
}

// New creates a root from a single segment. It panics if the root is empty or
// contains the display separator, since roots are compile time constants and
// a bad root is a programming error.
func New(root string) SegKey {
	if root == "" {
		panic("segkey: empty root")
	}
	if strings.Contains(root, Separator) {
		panic(fmt.Sprintf("segkey: root %q must be a single segment", root))
	}
	return SegKey{root: root}
}

// Name returns the root segment.
func (k SegKey) Name() string { return k.root }

// String returns the root segment.
func (k SegKey) String() string { return k.root }

// IsZero reports whether k was never initialised.
func (k SegKey) IsZero() bool { return k.root == "" }

// Buf returns the root as a one segment SegKeyBuf.
func (k SegKey) Buf() SegKeyBuf {
	return SegKeyBuf{segs: []string{k.root}}
}

// Join appends a runtime segment to the root.
func (k SegKey) Join(segment string) SegKeyBuf {
	return SegKeyBuf{segs: []string{k.root, segment}}
}

// --------------------------------------------------------------------------
// SegKeyBuf (owned, joined key)
// --------------------------------------------------------------------------

// SegKeyBuf is an immutable sequence of segments. Joining never modifies the
// receiver, so a SegKeyBuf can be shared freely between goroutines.
type SegKeyBuf struct {
	segs []string
}

// Join returns a new key with segment appended.
func (b SegKeyBuf) Join(segment string) SegKeyBuf {
	segs := make([]string, len(b.segs), len(b.segs)+1)
	copy(segs, b.segs)
	return SegKeyBuf{segs: append(segs, segment)}
}

// JoinAll appends several segments at once.
func (b SegKeyBuf) JoinAll(segments ...string) SegKeyBuf {
	segs := make([]string, 0, len(b.segs)+len(segments))
	segs = append(segs, b.segs...)
	return SegKeyBuf{segs: append(segs, segments...)}
}

// Len returns the number of segments.
func (b SegKeyBuf) Len() int { return len(b.segs) }

// IsZero reports whether the key has no segments.
func (b SegKeyBuf) IsZero() bool { return len(b.segs) == 0 }

// Segments returns a copy of the segments.
func (b SegKeyBuf) Segments() []string {
	out := make([]string, len(b.segs))
	copy(out, b.segs)
	return out
}

// Segment returns the i-th segment.
func (b SegKeyBuf) Segment(i int) string { return b.segs[i] }

// Last returns the final segment or "" for an empty key.
func (b SegKeyBuf) Last() string {
	if len(b.segs) == 0 {
		return ""
	}
	return b.segs[len(b.segs)-1]
}

// Root returns the first segment as a SegKey.
func (b SegKeyBuf) Root() SegKey {
	if len(b.segs) == 0 {
		return SegKey{}
	}
	return SegKey{root: b.segs[0]}
}

// HasRoot reports whether the first segment equals root.
func (b SegKeyBuf) HasRoot(root SegKey) bool {
	return len(b.segs) > 0 && b.segs[0] == root.root
}

// Parent returns the key without its last segment.
func (b SegKeyBuf) Parent() (SegKeyBuf, bool) {
	if len(b.segs) <= 1 {
		return SegKeyBuf{}, false
	}
	return SegKeyBuf{segs: b.segs[:len(b.segs)-1:len(b.segs)-1]}, true
}

// HasPrefix reports whether every segment of prefix matches the leading segments of b.
func (b SegKeyBuf) HasPrefix(prefix SegKeyBuf) bool {
	if len(prefix.segs) > len(b.segs) {
		return false
	}
	for i, s := range prefix.segs {
		if b.segs[i] != s {
			return false
		}
	}
	return true
}

// TrimPrefix returns the segments of b that follow prefix.
func (b SegKeyBuf) TrimPrefix(prefix SegKeyBuf) ([]string, bool) {
	if !b.HasPrefix(prefix) {
		return nil, false
	}
	rest := make([]string, len(b.segs)-len(prefix.segs))
	copy(rest, b.segs[len(prefix.segs):])
	return rest, true
}

// Equal reports whether both keys have identical segment sequences.
func (b SegKeyBuf) Equal(o SegKeyBuf) bool {
	if len(b.segs) != len(o.segs) {
		return false
	}
	for i := range b.segs {
		if b.segs[i] != o.segs[i] {
			return false
		}
	}
	return true
}

// Compare orders keys lexicographically over their segments. The result always
// agrees with bytes.Compare(b.Bytes(), o.Bytes()).
func (b SegKeyBuf) Compare(o SegKeyBuf) int {
	n := min(len(b.segs), len(o.segs))
	for i := 0; i < n; i++ {
		if c := strings.Compare(b.segs[i], o.segs[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(b.segs) < len(o.segs):
		return -1
	case len(b.segs) > len(o.segs):
		return 1
	}
	return 0
}

// String returns the display form, segments joined by Separator.
func (b SegKeyBuf) String() string {
	return strings.Join(b.segs, Separator)
}

// --------------------------------------------------------------------------
// Storage encoding
// --------------------------------------------------------------------------

// Bytes returns the storage encoding of the key. Segments are separated by
// 0x00; 0x00 and 0x01 inside a segment are escaped so that byte order equals
// segment order.
func (b SegKeyBuf) Bytes() []byte {
	size := len(b.segs)
	for _, s := range b.segs {
		size += len(s)
	}
	out := make([]byte, 0, size)
	for i, s := range b.segs {
		if i > 0 {
			out = append(out, sepByte)
		}
		out = appendEscaped(out, s)
	}
	return out
}

// Prefix returns the scan prefix that matches all keys below b (b itself excluded).
// Scanning "entry/1" therefore never matches "entry/10/...".
func (b SegKeyBuf) Prefix() []byte {
	return append(b.Bytes(), sepByte)
}

func appendEscaped(dst []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case sepByte:
			dst = append(dst, escByte, 0x01)
		case escByte:
			dst = append(dst, escByte, 0x02)
		default:
			dst = append(dst, c)
		}
	}
	return dst
}

// Decode parses a storage encoding produced by SegKeyBuf.Bytes.
func Decode(data []byte) (SegKeyBuf, error) {
	if len(data) == 0 {
		return SegKeyBuf{}, ErrMalformed
	}

	var (
		segs []string
		cur  bytes.Buffer
	)
	for i := 0; i < len(data); i++ {
		switch c := data[i]; c {
		case sepByte:
			segs = append(segs, cur.String())
			cur.Reset()
		case escByte:
			if i+1 >= len(data) {
				return SegKeyBuf{}, fmt.Errorf("%w: dangling escape at offset %d", ErrMalformed, i)
			}
			i++
			switch data[i] {
			case 0x01:
				cur.WriteByte(sepByte)
			case 0x02:
				cur.WriteByte(escByte)
			default:
				return SegKeyBuf{}, fmt.Errorf("%w: invalid escape 0x%02x at offset %d", ErrMalformed, data[i], i)
			}
		default:
			cur.WriteByte(c)
		}
	}
	segs = append(segs, cur.String())
	return SegKeyBuf{segs: segs}, nil
}

// FromSegments builds a key from raw segments, mainly for tools and tests.
func FromSegments(segments ...string) SegKeyBuf {
	segs := make([]string, len(segments))
	copy(segs, segments)
	return SegKeyBuf{segs: segs}
}

// Parse splits a display form key ("entry/1/order") into segments.
func Parse(s string) SegKeyBuf {
	if s == "" {
		return SegKeyBuf{}
	}
	return SegKeyBuf{segs: strings.Split(s, Separator)}
}
