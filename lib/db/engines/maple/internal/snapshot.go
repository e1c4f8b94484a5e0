package internal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

const (
	MagicNum        = "MAPLESKV" // File format identifier
	SnapshotVersion = 1          // Snapshot format version
)

// ErrBadSnapshot marks a snapshot that is truncated or fails its checksum.
var ErrBadSnapshot = errors.New("maple: bad snapshot")

// WriteSnapshot writes all items of t to w.
//
// Layout (little endian):
//
//	magic[8] version:u8 commitVersion:u64 count:u64
//	count * (tableLen:u16 table keyLen:u32 key valueLen:u32 value)
//	crc32(IEEE) of everything before:u32
func WriteSnapshot(w io.Writer, t *Tree, commitVersion uint64) error {
	crc := crc32.NewIEEE()
	bw := bufio.NewWriterSize(io.MultiWriter(w, crc), 1024*1024) // 1 MB buffer

	if _, err := bw.WriteString(MagicNum); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(SnapshotVersion)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, commitVersion); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(t.Len())); err != nil {
		return err
	}

	var werr error
	t.Ascend(func(it Item) bool {
		if werr = binary.Write(bw, binary.LittleEndian, uint16(len(it.Table))); werr != nil {
			return false
		}
		if _, werr = bw.WriteString(it.Table); werr != nil {
			return false
		}
		if werr = binary.Write(bw, binary.LittleEndian, uint32(len(it.Key))); werr != nil {
			return false
		}
		if _, werr = bw.Write(it.Key); werr != nil {
			return false
		}
		if werr = binary.Write(bw, binary.LittleEndian, uint32(len(it.Value))); werr != nil {
			return false
		}
		_, werr = bw.Write(it.Value)
		return werr == nil
	})
	if werr != nil {
		return werr
	}

	// flush the payload through the checksum before appending the checksum itself
	if err := bw.Flush(); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, crc.Sum32())
}

// ReadSnapshot restores a tree written by WriteSnapshot. Any structural problem
// yields an error wrapping ErrBadSnapshot.
func ReadSnapshot(r io.Reader, degree int) (*Tree, uint64, error) {
	crc := crc32.NewIEEE()
	br := io.TeeReader(bufio.NewReaderSize(r, 1024*1024), crc)

	fail := func(what string, err error) (*Tree, uint64, error) {
		return nil, 0, fmt.Errorf("%w: %s: %v", ErrBadSnapshot, what, err)
	}

	magic := make([]byte, len(MagicNum))
	if _, err := io.ReadFull(br, magic); err != nil {
		return fail("header", err)
	}
	if string(magic) != MagicNum {
		return nil, 0, fmt.Errorf("%w: magic number mismatch", ErrBadSnapshot)
	}

	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return fail("version", err)
	}
	if version != SnapshotVersion {
		return nil, 0, fmt.Errorf("%w: unsupported version %d (expected %d)", ErrBadSnapshot, version, SnapshotVersion)
	}

	var commitVersion, count uint64
	if err := binary.Read(br, binary.LittleEndian, &commitVersion); err != nil {
		return fail("commit version", err)
	}
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return fail("count", err)
	}

	t := NewTree(degree)
	for i := uint64(0); i < count; i++ {
		var tableLen uint16
		if err := binary.Read(br, binary.LittleEndian, &tableLen); err != nil {
			return fail("table length", err)
		}
		table := make([]byte, tableLen)
		if _, err := io.ReadFull(br, table); err != nil {
			return fail("table", err)
		}

		key, err := readBlob(br)
		if err != nil {
			return fail("key", err)
		}
		value, err := readBlob(br)
		if err != nil {
			return fail("value", err)
		}

		t.ReplaceOrInsert(Item{Table: string(table), Key: key, Value: value})
	}

	expected := crc.Sum32()
	var stored uint32
	if err := binary.Read(br, binary.LittleEndian, &stored); err != nil {
		return fail("checksum", err)
	}
	if stored != expected {
		return nil, 0, fmt.Errorf("%w: checksum mismatch", ErrBadSnapshot)
	}
	return t, commitVersion, nil
}

// maxBlob bounds a single key or value so a corrupt length cannot trigger a huge allocation.
const maxBlob = 1 << 30

func readBlob(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if n > maxBlob {
		return nil, fmt.Errorf("length %d exceeds limit", n)
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}
