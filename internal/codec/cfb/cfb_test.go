package cfb

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

func build(t *testing.T, streams map[string][]byte) *Reader {
	t.Helper()
	w := NewWriter()
	for path, data := range streams {
		if err := w.AddStream(path, data); err != nil {
			t.Fatalf("AddStream(%s): %v", path, err)
		}
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if buf.Len()%512 != 0 {
		t.Fatalf("file size %d is not a multiple of the sector size", buf.Len())
	}
	r, err := NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	return r
}

func TestRoundTrip(t *testing.T) {
	large := bytes.Repeat([]byte("0123456789abcdef"), 1000) // 16000 bytes
	streams := map[string][]byte{
		"EncryptionInfo":              []byte("small stream"),
		"EncryptedPackage":            large,
		"\x06DataSpaces/Version":      bytes.Repeat([]byte{7}, 70),
		"\x06DataSpaces/DataSpaceMap": {1, 2, 3},
		"Empty":                       {},
		"exactly4096":                 bytes.Repeat([]byte{9}, 4096),
	}
	r := build(t, streams)
	for path, want := range streams {
		got, err := r.ReadStream(path)
		if err != nil {
			t.Fatalf("ReadStream(%q): %v", path, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("%q: got %d bytes, want %d", path, len(got), len(want))
		}
	}
	if !r.Has("\x06DataSpaces") {
		t.Error("storage missing")
	}
	if !r.Has("encryptioninfo") {
		t.Error("lookup should ignore case")
	}
	if _, err := r.ReadStream("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if got := len(r.Entries()); got != len(streams)+1 {
		t.Errorf("entries: got %d, want %d", got, len(streams)+1)
	}
}

func TestManyStreams(t *testing.T) {
	streams := make(map[string][]byte)
	for i := 0; i < 300; i++ {
		streams[fmt.Sprintf("s%03d", i)] = bytes.Repeat([]byte{byte(i)}, 100+i*37)
	}
	r := build(t, streams)
	for path, want := range streams {
		got, err := r.ReadStream(path)
		if err != nil || !bytes.Equal(got, want) {
			t.Fatalf("%s: mismatch (err %v)", path, err)
		}
	}
}

func TestLargeFileUsesDIFAT(t *testing.T) {
	// More than 109 FAT sectors requires DIFAT sectors.
	big := bytes.Repeat([]byte{0xAB}, 128*512*115)
	r := build(t, map[string][]byte{"big": big})
	got, err := r.ReadStream("big")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, big) {
		t.Error("large stream mismatch")
	}
}

func TestAddStreamErrors(t *testing.T) {
	w := NewWriter()
	if err := w.AddStream("dir/file", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := w.AddStream("dir", []byte("x")); err == nil {
		t.Error("expected error replacing a storage with a stream")
	}
	if err := w.AddStream("dir/file/sub", []byte("x")); err == nil {
		t.Error("expected error descending into a stream")
	}
	if err := w.AddStream("a-name-that-is-much-longer-than-31", nil); err == nil {
		t.Error("expected error for long name")
	}
}

func TestRejectsGarbage(t *testing.T) {
	if _, err := NewReader(bytes.NewReader([]byte("PK\x03\x04 not a compound file at all")), 36); !errors.Is(err, ErrNotCompound) {
		t.Errorf("expected ErrNotCompound, got %v", err)
	}
	w := NewWriter()
	_ = w.AddStream("a", bytes.Repeat([]byte{1}, 9000))
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	cut := buf.Bytes()[:1024]
	if _, err := NewReader(bytes.NewReader(cut), int64(len(cut))); err == nil {
		t.Error("expected error for truncated file")
	}
}
