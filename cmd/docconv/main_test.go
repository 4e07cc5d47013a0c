package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dgallion1/docforge/internal/codec"
	"github.com/dgallion1/docforge/internal/doctree"
	"github.com/dgallion1/docforge/internal/formats"
	"github.com/dgallion1/docforge/internal/split"
)

func runCmd(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeFile(t *testing.T, dir, name, data string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestRunUsage(t *testing.T) {
	tests := []struct {
		args []string
		want int
	}{
		{nil, exitUsage},
		{[]string{"help"}, exitOK},
		{[]string{"shred", "a.docx"}, exitUsage},
		{[]string{"convert"}, exitUsage},
		{[]string{"convert", "-bogus", "a.txt"}, exitUsage},
		{[]string{"convert", "-h"}, exitOK},
		{[]string{"compare", "-o", "x.docx", "only.txt"}, exitUsage},
	}
	for _, tt := range tests {
		if code, _, stderr := runCmd(t, tt.args...); code != tt.want {
			t.Errorf("run(%q) = %d, want %d; stderr: %s", tt.args, code, tt.want, stderr)
		}
	}
}

func TestDetect(t *testing.T) {
	dir := t.TempDir()
	rtf := writeFile(t, dir, "a.rtf", `{\rtf1\ansi hello}`)
	txt := writeFile(t, dir, "b.txt", "plain words\n")
	code, stdout, _ := runCmd(t, "detect", rtf, txt)
	if code != exitOK {
		t.Fatalf("exit %d", code)
	}
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], "\tRTF\t") || !strings.Contains(lines[1], "\tText\t") {
		t.Errorf("output = %q", stdout)
	}

	if code, _, _ := runCmd(t, "detect", filepath.Join(dir, "missing")); code != exitError {
		t.Errorf("missing file exit = %d", code)
	}
}

func TestConvert(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "notes.txt", "alpha\nbeta\n")
	out := filepath.Join(dir, "notes.html")
	code, stdout, stderr := runCmd(t, "convert", "-o", out, in)
	if code != exitOK {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if strings.TrimSpace(stdout) != out {
		t.Errorf("stdout = %q", stdout)
	}
	html := readFile(t, out)
	if !strings.Contains(html, "alpha") || !strings.Contains(html, "<p") {
		t.Errorf("html = %q", html)
	}

	noExt := filepath.Join(dir, "result")
	if code, _, _ := runCmd(t, "convert", "-o", noExt, in); code != exitUsage {
		t.Errorf("unknown output extension exit = %d", code)
	}
	if code, _, _ := runCmd(t, "convert", "-o", noExt, "-format", "txt", "-options", `{"paragraph_break":"\n"}`, in); code != exitOK {
		t.Errorf("explicit format exit = %d", code)
	}
	if got := readFile(t, noExt); !strings.HasPrefix(got, "alpha\nbeta") {
		t.Errorf("text = %q", got)
	}
	if code, _, _ := runCmd(t, "convert", "-o", out, "-load-options", `{"nope":1}`, in); code != exitError {
		t.Errorf("bad load options exit = %d", code)
	}
	if code, _, _ := runCmd(t, "convert", "-o", out, "-license", "disabled", in); code != exitError {
		t.Errorf("disabled license exit = %d", code)
	}
}

func TestCompare(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "the quick brown fox\n")
	b := writeFile(t, dir, "b.txt", "the slow brown fox\n")
	out := filepath.Join(dir, "diff.docx")
	if code, _, stderr := runCmd(t, "compare", "-o", out, "-author", "ed", a, b); code != exitOK {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	doc, err := formats.Registry().LoadFile(context.Background(), out, codec.LoadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	revs := doc.Revisions()
	if len(revs) == 0 {
		t.Fatal("no revisions in compared document")
	}
	for _, r := range revs {
		if r.Author != "ed" {
			t.Errorf("revision author = %q", r.Author)
		}
	}
}

func TestMerge(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "first file\n")
	b := writeFile(t, dir, "b.txt", "second file\n")
	out := filepath.Join(dir, "all.txt")
	if code, _, stderr := runCmd(t, "merge", "-o", out, "-mode", "merge_formatting", a, b); code != exitOK {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	got := readFile(t, out)
	if i, j := strings.Index(got, "first file"), strings.Index(got, "second file"); i < 0 || j < i {
		t.Errorf("merged = %q", got)
	}
	if code, _, _ := runCmd(t, "merge", "-o", out, "-mode", "shuffle", a, b); code != exitUsage {
		t.Errorf("bad mode exit = %d", code)
	}
}

func TestMailMerge(t *testing.T) {
	dir := t.TempDir()
	doc := doctree.NewDocument()
	bld := doctree.NewBuilder(doc)
	bld.Write("Hi ")
	if _, err := bld.InsertMergeField("First"); err != nil {
		t.Fatal(err)
	}
	tmpl := filepath.Join(dir, "letter.docx")
	opts, err := formats.ParseSaveOptions(codec.DOCX, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := formats.Registry().SaveFile(context.Background(), tmpl, doc, codec.DOCX, opts); err != nil {
		t.Fatal(err)
	}
	data := writeFile(t, dir, "people.yaml", "- first: Ann\n- first: '  Bob  '\n")
	out := filepath.Join(dir, "letters.txt")
	if code, _, stderr := runCmd(t, "mailmerge", "-data", data, "-o", out, tmpl); code != exitOK {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	got := readFile(t, out)
	if !strings.Contains(got, "Hi Ann") || !strings.Contains(got, "Hi Bob") {
		t.Errorf("letters = %q", got)
	}

	if code, _, _ := runCmd(t, "mailmerge", "-o", out, tmpl); code != exitUsage {
		t.Errorf("missing -data exit = %d", code)
	}
	bad := writeFile(t, dir, "people.xml", "<x/>")
	if code, _, _ := runCmd(t, "mailmerge", "-data", bad, "-o", out, tmpl); code != exitUsage {
		t.Errorf("unknown data format exit = %d", code)
	}
}

func TestCleanup(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "a.txt", "text\n")
	out := filepath.Join(dir, "clean.docx")
	code, _, stderr := runCmd(t, "cleanup", "-duplicates", "-o", out, in)
	if code != exitOK {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if !strings.Contains(stderr, "removed") {
		t.Errorf("stderr = %q", stderr)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatal(err)
	}
}

func TestSplit(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "guide.md", "# Install\n\nRun it.\n\n# Use It\n\nType things.\n")
	outDir := filepath.Join(dir, "parts")
	if code, _, stderr := runCmd(t, "split", "-o", outDir, "-format", "txt", in); code != exitOK {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	for name, want := range map[string]string{"01-install.txt": "Run it.", "02-use-it.txt": "Type things."} {
		got := readFile(t, filepath.Join(outDir, name))
		if !strings.Contains(got, want) {
			t.Errorf("%s = %q", name, got)
		}
	}
	if code, _, _ := runCmd(t, "split", "-o", outDir, "-by", "chapters", in); code != exitUsage {
		t.Errorf("bad split mode exit = %d", code)
	}
}

func TestPartFilename(t *testing.T) {
	tests := []struct {
		part split.Part
		want string
	}{
		{split.Part{Index: 0, Breadcrumb: []string{"Intro"}}, "01-intro"},
		{split.Part{Index: 2, Breadcrumb: []string{"Setup", "Step 2: Go!"}}, "03-setup-step-2-go"},
		{split.Part{Index: 4}, "05"},
		{split.Part{Index: 9, Breadcrumb: []string{"***"}}, "10"},
	}
	for _, tt := range tests {
		if got := partFilename(tt.part); got != tt.want {
			t.Errorf("partFilename(%v) = %q, want %q", tt.part.Breadcrumb, got, tt.want)
		}
	}
}
