// Package cfb reads and writes compound binary files (OLE structured
// storage), the container used by legacy Word documents and by
// password-protected OOXML packages.
package cfb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf16"
)

var (
	ErrNotCompound = errors.New("cfb: not a compound file")
	ErrCorrupt     = errors.New("cfb: corrupt compound file")
	ErrNotFound    = errors.New("cfb: entry not found")
)

// Signature is the magic number at the start of every compound file.
var Signature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

const (
	freeSect   uint32 = 0xFFFFFFFF
	endOfChain uint32 = 0xFFFFFFFE
	fatSect    uint32 = 0xFFFFFFFD
	difSect    uint32 = 0xFFFFFFFC
	noStream   uint32 = 0xFFFFFFFF
	maxRegSect uint32 = 0xFFFFFFFA

	headerSize     = 512
	dirEntrySize   = 128
	headerDIFAT    = 109
	miniCutoff     = 4096
	miniSectorSize = 64
)

// EntryType is the kind of a directory entry.
type EntryType byte

const (
	TypeUnknown EntryType = 0
	TypeStorage EntryType = 1
	TypeStream  EntryType = 2
	TypeRoot    EntryType = 5
)

// Entry is a storage or stream in the directory.
type Entry struct {
	Name string
	// Path is the slash-separated path below the root.
	Path string
	Type EntryType
	Size int64

	start              uint32
	left, right, child uint32
}

// IsCompoundFile reports whether data starts with the compound file
// signature.
func IsCompoundFile(data []byte) bool { return bytes.HasPrefix(data, Signature) }

// Reader gives access to the streams of a compound file.
type Reader struct {
	r          io.ReaderAt
	size       int64
	sectorSize int
	fat        []uint32
	miniFAT    []uint32
	entries    []*Entry
	miniStream []byte
}

// NewReader parses the header, allocation tables and directory.
func NewReader(r io.ReaderAt, size int64) (*Reader, error) {
	hdr := make([]byte, headerSize)
	if _, err := r.ReadAt(hdr, 0); err != nil {
		return nil, ErrNotCompound
	}
	if !IsCompoundFile(hdr) {
		return nil, ErrNotCompound
	}
	le := binary.LittleEndian
	major := le.Uint16(hdr[0x1A:])
	shift := le.Uint16(hdr[0x1E:])
	if (major != 3 || shift != 9) && (major != 4 || shift != 12) {
		return nil, fmt.Errorf("%w: version %d, sector shift %d", ErrCorrupt, major, shift)
	}
	rd := &Reader{r: r, size: size, sectorSize: 1 << shift}

	numFAT := le.Uint32(hdr[0x2C:])
	firstDir := le.Uint32(hdr[0x30:])
	firstMiniFAT := le.Uint32(hdr[0x3C:])
	firstDIFAT := le.Uint32(hdr[0x44:])
	numDIFAT := le.Uint32(hdr[0x48:])

	if int64(numFAT)*int64(rd.sectorSize) > size {
		return nil, fmt.Errorf("%w: %d FAT sectors exceed file size", ErrCorrupt, numFAT)
	}
	fatSectors := make([]uint32, 0, numFAT)
	for i := 0; i < headerDIFAT && uint32(len(fatSectors)) < numFAT; i++ {
		fatSectors = append(fatSectors, le.Uint32(hdr[0x4C+4*i:]))
	}
	per := rd.sectorSize/4 - 1
	next := firstDIFAT
	for i := uint32(0); i < numDIFAT && uint32(len(fatSectors)) < numFAT; i++ {
		if next > maxRegSect {
			return nil, fmt.Errorf("%w: short DIFAT chain", ErrCorrupt)
		}
		buf, err := rd.sector(next)
		if err != nil {
			return nil, err
		}
		for j := 0; j < per && uint32(len(fatSectors)) < numFAT; j++ {
			fatSectors = append(fatSectors, le.Uint32(buf[4*j:]))
		}
		next = le.Uint32(buf[4*per:])
	}
	if uint32(len(fatSectors)) != numFAT {
		return nil, fmt.Errorf("%w: found %d of %d FAT sectors", ErrCorrupt, len(fatSectors), numFAT)
	}
	for _, s := range fatSectors {
		buf, err := rd.sector(s)
		if err != nil {
			return nil, err
		}
		for j := 0; j < rd.sectorSize; j += 4 {
			rd.fat = append(rd.fat, le.Uint32(buf[j:]))
		}
	}

	dir, err := rd.readChain(firstDir, -1)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}
	for off := 0; off+dirEntrySize <= len(dir); off += dirEntrySize {
		rd.entries = append(rd.entries, parseEntry(dir[off:off+dirEntrySize], major))
	}
	if len(rd.entries) == 0 || rd.entries[0].Type != TypeRoot {
		return nil, fmt.Errorf("%w: missing root entry", ErrCorrupt)
	}

	if firstMiniFAT <= maxRegSect {
		mf, err := rd.readChain(firstMiniFAT, -1)
		if err != nil {
			return nil, fmt.Errorf("read mini FAT: %w", err)
		}
		for j := 0; j+4 <= len(mf); j += 4 {
			rd.miniFAT = append(rd.miniFAT, le.Uint32(mf[j:]))
		}
		root := rd.entries[0]
		if root.start <= maxRegSect {
			rd.miniStream, err = rd.readChain(root.start, root.Size)
			if err != nil {
				return nil, fmt.Errorf("read mini stream: %w", err)
			}
		}
	}
	if err := rd.buildPaths(); err != nil {
		return nil, err
	}
	return rd, nil
}

func parseEntry(b []byte, major uint16) *Entry {
	le := binary.LittleEndian
	nameLen := int(le.Uint16(b[0x40:]))
	if nameLen > 64 {
		nameLen = 64
	}
	u := make([]uint16, 0, 32)
	for i := 0; i+1 < nameLen; i += 2 {
		c := le.Uint16(b[i:])
		if c == 0 {
			break
		}
		u = append(u, c)
	}
	size := int64(le.Uint64(b[0x78:]))
	if major == 3 {
		size = int64(le.Uint32(b[0x78:]))
	}
	return &Entry{
		Name:  string(utf16.Decode(u)),
		Type:  EntryType(b[0x42]),
		left:  le.Uint32(b[0x44:]),
		right: le.Uint32(b[0x48:]),
		child: le.Uint32(b[0x4C:]),
		start: le.Uint32(b[0x74:]),
		Size:  size,
	}
}

// buildPaths walks the sibling trees below each storage.
func (rd *Reader) buildPaths() error {
	seen := make([]bool, len(rd.entries))
	var visit func(id uint32, prefix string, depth int) error
	visit = func(id uint32, prefix string, depth int) error {
		if id == noStream {
			return nil
		}
		if int(id) >= len(rd.entries) || seen[id] || depth > 256 {
			return fmt.Errorf("%w: bad directory tree", ErrCorrupt)
		}
		seen[id] = true
		e := rd.entries[id]
		e.Path = prefix + e.Name
		if err := visit(e.left, prefix, depth+1); err != nil {
			return err
		}
		if err := visit(e.right, prefix, depth+1); err != nil {
			return err
		}
		if e.Type == TypeStorage {
			return visit(e.child, e.Path+"/", depth+1)
		}
		return nil
	}
	return visit(rd.entries[0].child, "", 0)
}

func (rd *Reader) sector(n uint32) ([]byte, error) {
	off := int64(n+1) * int64(rd.sectorSize)
	if off+int64(rd.sectorSize) > rd.size {
		// The last sector of a file may be truncated.
		if off >= rd.size {
			return nil, fmt.Errorf("%w: sector %d beyond end of file", ErrCorrupt, n)
		}
	}
	buf := make([]byte, rd.sectorSize)
	k, err := rd.r.ReadAt(buf, off)
	if err != nil && !(errors.Is(err, io.EOF) && k > 0) {
		return nil, fmt.Errorf("%w: read sector %d: %v", ErrCorrupt, n, err)
	}
	return buf, nil
}

// readChain follows a FAT chain. A non-negative size truncates the result.
func (rd *Reader) readChain(start uint32, size int64) ([]byte, error) {
	var out []byte
	for n, steps := start, 0; n != endOfChain; steps++ {
		if n > maxRegSect || int(n) >= len(rd.fat) || steps > len(rd.fat) {
			return nil, fmt.Errorf("%w: broken chain at sector %d", ErrCorrupt, n)
		}
		buf, err := rd.sector(n)
		if err != nil {
			return nil, err
		}
		out = append(out, buf...)
		if size >= 0 && int64(len(out)) >= size {
			break
		}
		n = rd.fat[n]
	}
	if size >= 0 {
		if int64(len(out)) < size {
			return nil, fmt.Errorf("%w: stream shorter than its size", ErrCorrupt)
		}
		out = out[:size]
	}
	return out, nil
}

func (rd *Reader) readMiniChain(start uint32, size int64) ([]byte, error) {
	out := make([]byte, 0, size)
	for n, steps := start, 0; n != endOfChain && int64(len(out)) < size; steps++ {
		if int(n) >= len(rd.miniFAT) || steps > len(rd.miniFAT) {
			return nil, fmt.Errorf("%w: broken mini chain at %d", ErrCorrupt, n)
		}
		off := int(n) * miniSectorSize
		if off+miniSectorSize > len(rd.miniStream) {
			return nil, fmt.Errorf("%w: mini sector %d outside mini stream", ErrCorrupt, n)
		}
		out = append(out, rd.miniStream[off:off+miniSectorSize]...)
		n = rd.miniFAT[n]
	}
	if int64(len(out)) < size {
		return nil, fmt.Errorf("%w: mini stream shorter than its size", ErrCorrupt)
	}
	return out[:size], nil
}

// Entries returns every storage and stream except the root.
func (rd *Reader) Entries() []*Entry {
	var out []*Entry
	for _, e := range rd.entries[1:] {
		if e.Path != "" && (e.Type == TypeStream || e.Type == TypeStorage) {
			out = append(out, e)
		}
	}
	return out
}

// Find returns the entry at path, compared case-insensitively.
func (rd *Reader) Find(path string) (*Entry, bool) {
	for _, e := range rd.entries[1:] {
		if e.Path != "" && strings.EqualFold(e.Path, path) {
			return e, true
		}
	}
	return nil, false
}

// Has reports whether a stream or storage exists at path.
func (rd *Reader) Has(path string) bool {
	_, ok := rd.Find(path)
	return ok
}

// ReadStream returns the content of the stream at path.
func (rd *Reader) ReadStream(path string) ([]byte, error) {
	e, ok := rd.Find(path)
	if !ok || e.Type != TypeStream {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if e.Size == 0 {
		return []byte{}, nil
	}
	if e.Size < miniCutoff {
		return rd.readMiniChain(e.start, e.Size)
	}
	return rd.readChain(e.start, e.Size)
}
