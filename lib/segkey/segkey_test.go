package segkey

import (
	"bytes"
	"sort"
	"strings"
	"testing"
)

func TestJoinAndString(t *testing.T) {
	root := New("entry")
	key := root.Join("1").Join("order")

	if got := key.String(); got != "entry/1/order" {
		t.Errorf("Expected entry/1/order, got %s", got)
	}
	if key.Len() != 3 {
		t.Errorf("Expected 3 segments, got %d", key.Len())
	}
	if !key.HasRoot(root) {
		t.Errorf("Expected key to have root %s", root)
	}
	if key.Last() != "order" {
		t.Errorf("Expected last segment order, got %s", key.Last())
	}
}

func TestJoinDoesNotAlias(t *testing.T) {
	base := New("entry").Join("1")
	a := base.Join("order")
	b := base.Join("expanded")

	if a.String() != "entry/1/order" || b.String() != "entry/1/expanded" {
		t.Errorf("Join must not share backing arrays: %s, %s", a, b)
	}
	if base.Len() != 2 {
		t.Errorf("Join must not modify the receiver")
	}
}

func TestEqualAndCompare(t *testing.T) {
	a := New("entry").Join("1")
	b := FromSegments("entry", "1")
	c := New("entry").Join("2")

	if !a.Equal(b) {
		t.Errorf("Expected %s == %s", a, b)
	}
	if a.Equal(c) {
		t.Errorf("Expected %s != %s", a, c)
	}
	if a.Compare(c) >= 0 || c.Compare(a) <= 0 || a.Compare(b) != 0 {
		t.Errorf("Unexpected ordering between %s and %s", a, c)
	}
}

// The segment order must match the byte order of the encoding, otherwise
// backends would return prefix scans in a different order than Compare.
func TestCompareMatchesByteOrder(t *testing.T) {
	keys := []SegKeyBuf{
		FromSegments("a"),
		FromSegments("a", "x"),
		FromSegments("a-b", "x"),
		FromSegments("a.b"),
		FromSegments("ab"),
		FromSegments("a", ""),
		FromSegments("a\x00", "y"),
		FromSegments("a\x01"),
		FromSegments("a", "x", "1"),
		FromSegments("b"),
		FromSegments("a ", "z"),
	}

	for _, x := range keys {
		for _, y := range keys {
			segOrder := x.Compare(y)
			byteOrder := bytes.Compare(x.Bytes(), y.Bytes())
			if sign(segOrder) != sign(byteOrder) {
				t.Errorf("Order mismatch for %q vs %q: segments=%d bytes=%d", x.Segments(), y.Segments(), segOrder, byteOrder)
			}
		}
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	keys := []SegKeyBuf{
		FromSegments("entry", "1", "order"),
		FromSegments("variable", "with/slash"),
		FromSegments("x", "\x00\x01\x02", ""),
		FromSegments("single"),
	}

	for _, k := range keys {
		decoded, err := Decode(k.Bytes())
		if err != nil {
			t.Fatalf("Decode(%q) failed: %v", k.Segments(), err)
		}
		if !decoded.Equal(k) {
			t.Errorf("Round trip mismatch: %q != %q", decoded.Segments(), k.Segments())
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, data := range [][]byte{nil, {0x61, 0x01}, {0x61, 0x01, 0x07}} {
		if _, err := Decode(data); err == nil {
			t.Errorf("Expected error decoding %v", data)
		}
	}
}

func TestPrefixScanSemantics(t *testing.T) {
	root := New("entry")
	stored := []SegKeyBuf{
		root.Join("1").Join("order"),
		root.Join("1").Join("expanded"),
		root.Join("2").Join("order"),
		root.Join("10").Join("order"),
	}

	encoded := make([][]byte, len(stored))
	for i, k := range stored {
		encoded[i] = k.Bytes()
	}
	sort.Slice(encoded, func(i, j int) bool { return bytes.Compare(encoded[i], encoded[j]) < 0 })

	prefix := root.Join("1").Prefix()
	var matched []string
	for _, e := range encoded {
		if bytes.HasPrefix(e, prefix) {
			k, _ := Decode(e)
			matched = append(matched, k.String())
		}
	}

	want := []string{"entry/1/expanded", "entry/1/order"}
	if strings.Join(matched, ",") != strings.Join(want, ",") {
		t.Errorf("Expected %v, got %v", want, matched)
	}
}

func TestParentAndTrimPrefix(t *testing.T) {
	key := Parse("entry/1/order")
	parent, ok := key.Parent()
	if !ok || parent.String() != "entry/1" {
		t.Errorf("Unexpected parent %s", parent)
	}

	rest, ok := key.TrimPrefix(New("entry").Buf())
	if !ok || strings.Join(rest, "|") != "1|order" {
		t.Errorf("Unexpected rest %v", rest)
	}

	if _, ok := key.TrimPrefix(New("variable").Buf()); ok {
		t.Errorf("Expected TrimPrefix with foreign root to fail")
	}
}

func TestNewPanicsOnInvalidRoot(t *testing.T) {
	for _, root := range []string{"", "a/b"} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("Expected panic for root %q", root)
				}
			}()
			New(root)
		}()
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	Register("segkey_test_root", "test")

	defer func() {
		if recover() == nil {
			t.Errorf("Expected panic on duplicate root")
		}
	}()
	Register("segkey_test_root", "other")
}

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	}
	return 0
}
