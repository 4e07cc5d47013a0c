package cfb

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode/utf16"
)

const sectorSize = 512

// Writer builds a version 3 compound file in memory.
type Writer struct {
	root *wnode
}

type wnode struct {
	name     string
	typ      EntryType
	data     []byte
	children []*wnode

	id          uint32
	left, right uint32
	child       uint32
	start       uint32
}

// NewWriter returns an empty compound file.
func NewWriter() *Writer {
	return &Writer{root: &wnode{name: "Root Entry", typ: TypeRoot}}
}

// AddStream stores data at a slash-separated path, creating storages
// along the way. Adding an existing path replaces its data.
func (w *Writer) AddStream(path string, data []byte) error {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	dir := w.root
	for i, p := range parts {
		if p == "" || len(utf16.Encode([]rune(p))) > 31 {
			return fmt.Errorf("cfb: invalid entry name %q", p)
		}
		last := i == len(parts)-1
		var found *wnode
		for _, c := range dir.children {
			if strings.EqualFold(c.name, p) {
				found = c
				break
			}
		}
		switch {
		case found == nil && last:
			dir.children = append(dir.children, &wnode{name: p, typ: TypeStream, data: data})
			return nil
		case found == nil:
			found = &wnode{name: p, typ: TypeStorage}
			dir.children = append(dir.children, found)
		case last && found.typ != TypeStream:
			return fmt.Errorf("cfb: %s is a storage", path)
		case last:
			found.data = data
			return nil
		case found.typ != TypeStorage:
			return fmt.Errorf("cfb: %s is a stream", strings.Join(parts[:i+1], "/"))
		}
		dir = found
	}
	return nil
}

// compareNames orders siblings the way compound file readers expect:
// shorter names first, then by upper-cased code units.
func compareNames(a, b string) int {
	ua, ub := utf16.Encode([]rune(strings.ToUpper(a))), utf16.Encode([]rune(strings.ToUpper(b)))
	if len(ua) != len(ub) {
		return len(ua) - len(ub)
	}
	for i := range ua {
		if ua[i] != ub[i] {
			return int(ua[i]) - int(ub[i])
		}
	}
	return 0
}

// layout assigns directory IDs in preorder and links each storage's
// children as a balanced binary search tree.
func (w *Writer) layout() []*wnode {
	var nodes []*wnode
	var walk func(n *wnode)
	walk = func(n *wnode) {
		n.id = uint32(len(nodes))
		n.left, n.right, n.child = noStream, noStream, noStream
		nodes = append(nodes, n)
		sort.Slice(n.children, func(i, j int) bool {
			return compareNames(n.children[i].name, n.children[j].name) < 0
		})
		for _, c := range n.children {
			walk(c)
		}
		n.child = balance(n.children)
	}
	walk(w.root)
	return nodes
}

func balance(sorted []*wnode) uint32 {
	if len(sorted) == 0 {
		return noStream
	}
	mid := len(sorted) / 2
	n := sorted[mid]
	n.left = balance(sorted[:mid])
	n.right = balance(sorted[mid+1:])
	return n.id
}

func sectorsFor(n int) int { return (n + sectorSize - 1) / sectorSize }

// WriteTo serializes the compound file.
func (w *Writer) WriteTo(out io.Writer) (int64, error) {
	nodes := w.layout()

	// Small streams live in the mini stream.
	var mini []byte
	var miniFAT []uint32
	var big []*wnode
	for _, n := range nodes {
		if n.typ != TypeStream {
			continue
		}
		switch {
		case len(n.data) == 0:
			n.start = endOfChain
		case len(n.data) < miniCutoff:
			n.start = uint32(len(miniFAT))
			count := (len(n.data) + miniSectorSize - 1) / miniSectorSize
			for i := 0; i < count; i++ {
				next := uint32(len(miniFAT) + 1)
				if i == count-1 {
					next = endOfChain
				}
				miniFAT = append(miniFAT, next)
			}
			mini = append(mini, n.data...)
			if pad := len(mini) % miniSectorSize; pad != 0 {
				mini = append(mini, make([]byte, miniSectorSize-pad)...)
			}
		default:
			big = append(big, n)
		}
	}

	nDir := (len(nodes) + 3) / 4
	nMiniFAT := sectorsFor(len(miniFAT) * 4)
	nMini := sectorsFor(len(mini))
	nData := 0
	for _, n := range big {
		nData += sectorsFor(len(n.data))
	}
	nFAT, nDIFAT := 0, 0
	for {
		total := nFAT + nDIFAT + nDir + nMiniFAT + nMini + nData
		f := (total + sectorSize/4 - 1) / (sectorSize / 4)
		d := 0
		if f > headerDIFAT {
			per := sectorSize/4 - 1
			d = (f - headerDIFAT + per - 1) / per
		}
		if f == nFAT && d == nDIFAT {
			break
		}
		nFAT, nDIFAT = f, d
	}

	fat := make([]uint32, nFAT*sectorSize/4)
	for i := range fat {
		fat[i] = freeSect
	}
	next := uint32(0)
	alloc := func(count int, mark uint32) uint32 {
		if count == 0 {
			return endOfChain
		}
		first := next
		for i := 0; i < count; i++ {
			switch {
			case mark != 0:
				fat[next] = mark
			case i == count-1:
				fat[next] = endOfChain
			default:
				fat[next] = next + 1
			}
			next++
		}
		return first
	}
	fatStart := alloc(nFAT, fatSect)
	difatStart := alloc(nDIFAT, difSect)
	dirStart := alloc(nDir, 0)
	miniFATStart := alloc(nMiniFAT, 0)
	w.root.start = alloc(nMini, 0)
	for _, n := range big {
		n.start = alloc(sectorsFor(len(n.data)), 0)
	}

	le := binary.LittleEndian
	hdr := make([]byte, headerSize)
	copy(hdr, Signature)
	le.PutUint16(hdr[0x18:], 0x3E)
	le.PutUint16(hdr[0x1A:], 3)
	le.PutUint16(hdr[0x1C:], 0xFFFE)
	le.PutUint16(hdr[0x1E:], 9)
	le.PutUint16(hdr[0x20:], 6)
	le.PutUint32(hdr[0x2C:], uint32(nFAT))
	le.PutUint32(hdr[0x30:], dirStart)
	le.PutUint32(hdr[0x38:], miniCutoff)
	le.PutUint32(hdr[0x3C:], miniFATStart)
	le.PutUint32(hdr[0x40:], uint32(nMiniFAT))
	le.PutUint32(hdr[0x44:], difatStart)
	le.PutUint32(hdr[0x48:], uint32(nDIFAT))
	for i := 0; i < headerDIFAT; i++ {
		v := freeSect
		if i < nFAT {
			v = fatStart + uint32(i)
		}
		le.PutUint32(hdr[0x4C+4*i:], v)
	}

	body := make([]byte, 0, (nFAT+nDIFAT+nDir+nMiniFAT+nMini+nData)*sectorSize)
	for _, v := range fat {
		body = le.AppendUint32(body, v)
	}
	per := sectorSize/4 - 1
	for d := 0; d < nDIFAT; d++ {
		for j := 0; j < per; j++ {
			idx := headerDIFAT + d*per + j
			v := freeSect
			if idx < nFAT {
				v = fatStart + uint32(idx)
			}
			body = le.AppendUint32(body, v)
		}
		link := endOfChain
		if d < nDIFAT-1 {
			link = difatStart + uint32(d+1)
		}
		body = le.AppendUint32(body, link)
	}

	for _, n := range nodes {
		body = append(body, dirEntry(n, len(mini))...)
	}
	for i := len(nodes); i < nDir*4; i++ {
		body = append(body, emptyEntry()...)
	}
	for _, v := range miniFAT {
		body = le.AppendUint32(body, v)
	}
	for i := len(miniFAT); i < nMiniFAT*sectorSize/4; i++ {
		body = le.AppendUint32(body, freeSect)
	}
	body = appendPadded(body, mini)
	for _, n := range big {
		body = appendPadded(body, n.data)
	}

	k1, err := out.Write(hdr)
	if err != nil {
		return int64(k1), err
	}
	k2, err := out.Write(body)
	return int64(k1 + k2), err
}

func appendPadded(dst, data []byte) []byte {
	dst = append(dst, data...)
	if pad := len(data) % sectorSize; pad != 0 {
		dst = append(dst, make([]byte, sectorSize-pad)...)
	}
	return dst
}

func dirEntry(n *wnode, miniSize int) []byte {
	le := binary.LittleEndian
	b := make([]byte, dirEntrySize)
	name := utf16.Encode([]rune(n.name))
	for i, c := range name {
		le.PutUint16(b[2*i:], c)
	}
	le.PutUint16(b[0x40:], uint16(2*(len(name)+1)))
	b[0x42] = byte(n.typ)
	b[0x43] = 1 // black
	le.PutUint32(b[0x44:], n.left)
	le.PutUint32(b[0x48:], n.right)
	le.PutUint32(b[0x4C:], n.child)
	size := len(n.data)
	start := n.start
	switch n.typ {
	case TypeRoot:
		size = miniSize
	case TypeStorage:
		start = 0
	}
	le.PutUint32(b[0x74:], start)
	le.PutUint64(b[0x78:], uint64(size))
	return b
}

func emptyEntry() []byte {
	b := make([]byte, dirEntrySize)
	le := binary.LittleEndian
	le.PutUint32(b[0x44:], noStream)
	le.PutUint32(b[0x48:], noStream)
	le.PutUint32(b[0x4C:], noStream)
	return b
}
