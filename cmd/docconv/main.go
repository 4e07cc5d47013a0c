// Command docconv loads, converts and reworks documents from the
// command line.
//
//	docconv detect FILE...
//	docconv convert [flags] -o OUT IN
//	docconv compare [flags] -o OUT ORIGINAL REVISED
//	docconv merge [flags] -o OUT IN...
//	docconv mailmerge [flags] -data FILE -o OUT TEMPLATE
//	docconv cleanup [flags] -o OUT IN
//	docconv split [flags] -o DIR IN
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgallion1/docforge/internal/cleanup"
	"github.com/dgallion1/docforge/internal/codec"
	"github.com/dgallion1/docforge/internal/compare"
	"github.com/dgallion1/docforge/internal/doctree"
	"github.com/dgallion1/docforge/internal/formats"
	"github.com/dgallion1/docforge/internal/license"
	"github.com/dgallion1/docforge/internal/mailmerge"
	"github.com/dgallion1/docforge/internal/merge"
	"github.com/dgallion1/docforge/internal/split"
)

// Exit codes.
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

var errUsage = errors.New("usage")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, env *env, args []string) error
}

var commands = []command{
	{"detect", "FILE...", runDetect},
	{"convert", "-o OUT IN", runConvert},
	{"compare", "-o OUT ORIGINAL REVISED", runCompare},
	{"merge", "-o OUT IN...", runMerge},
	{"mailmerge", "-data FILE -o OUT TEMPLATE", runMailMerge},
	{"cleanup", "-o OUT IN", runCleanup},
	{"split", "-o DIR IN", runSplit},
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return exitUsage
	}
	name := args[0]
	if name == "-h" || name == "--help" || name == "help" {
		usage(stdout)
		return exitOK
	}
	for _, c := range commands {
		if c.name != name {
			continue
		}
		e := &env{stdout: stdout, stderr: stderr}
		err := c.run(context.Background(), e, args[1:])
		switch {
		case err == nil:
			return exitOK
		case errors.Is(err, flag.ErrHelp):
			return exitOK
		case errors.Is(err, errUsage):
			fmt.Fprintf(stderr, "%v\nusage: docconv %s %s\n", err, c.name, c.usage)
			return exitUsage
		}
		fmt.Fprintf(stderr, "docconv %s: %v\n", c.name, err)
		return exitError
	}
	fmt.Fprintf(stderr, "docconv: unknown command %q\n", name)
	usage(stderr)
	return exitUsage
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: docconv <command> [flags] [args]")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-10s %s\n", c.name, c.usage)
	}
}

// env holds what every command shares: output streams, the flags common
// to all commands and the codec registry built from them.
type env struct {
	stdout, stderr io.Writer

	password    string
	licenseMode string
	verbose     bool
	loadOpts    string

	log *slog.Logger
	reg *codec.Registry
}

func (e *env) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	fs.StringVar(&e.password, "password", "", "password of encrypted inputs")
	fs.StringVar(&e.licenseMode, "license", "full", "license mode: full, evaluation or disabled")
	fs.BoolVar(&e.verbose, "v", false, "debug logging")
	fs.StringVar(&e.loadOpts, "load-options", "", "format specific load options as JSON")
	return fs
}

func (e *env) logger() *slog.Logger {
	if e.log == nil {
		level := slog.LevelWarn
		if e.verbose {
			level = slog.LevelDebug
		}
		e.log = slog.New(slog.NewTextHandler(e.stderr, &slog.HandlerOptions{Level: level}))
	}
	return e.log
}

func (e *env) registry() (*codec.Registry, error) {
	if e.reg == nil {
		lic, err := license.ForMode(e.licenseMode)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errUsage, err)
		}
		e.reg = formats.Registry(codec.WithLicense(lic), codec.WithLogger(e.logger()))
	}
	return e.reg, nil
}

func (e *env) load(ctx context.Context, path string) (*doctree.Document, error) {
	reg, err := e.registry()
	if err != nil {
		return nil, err
	}
	opts := codec.LoadOptions{Password: e.password, Logger: e.logger()}
	if e.loadOpts != "" {
		info, err := codec.DetectFile(path)
		if err != nil {
			return nil, err
		}
		if opts.Specific, err = formats.ParseLoadSpecific(info.Format, json.RawMessage(e.loadOpts)); err != nil {
			return nil, err
		}
	}
	start := time.Now()
	doc, err := reg.LoadFile(ctx, path, opts)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	e.logger().Debug("loaded", "path", path, "duration_ms", time.Since(start).Milliseconds())
	return doc, nil
}

// output describes where and how a command saves its result.
type output struct {
	path    string
	format  string
	options string
}

func (o *output) register(fs *flag.FlagSet) {
	fs.StringVar(&o.path, "o", "", "output file")
	fs.StringVar(&o.format, "format", "", "output format; inferred from -o when empty")
	fs.StringVar(&o.options, "options", "", "save options of the output format as JSON")
}

func (o *output) resolve() (codec.Format, codec.SaveOptions, error) {
	if o.path == "" {
		return codec.Unknown, nil, fmt.Errorf("%w: -o is required", errUsage)
	}
	var f codec.Format
	if o.format != "" {
		var err error
		if f, err = codec.ParseFormat(o.format); err != nil {
			return codec.Unknown, nil, err
		}
	} else if f = codec.FormatFromExtension(o.path); f == codec.Unknown {
		return codec.Unknown, nil, fmt.Errorf("%w: cannot infer the format of %s; use -format", errUsage, o.path)
	}
	opts, err := formats.ParseSaveOptions(f, json.RawMessage(o.options))
	if err != nil {
		return codec.Unknown, nil, err
	}
	return f, opts, nil
}

func (e *env) save(ctx context.Context, o *output, doc *doctree.Document) error {
	f, opts, err := o.resolve()
	if err != nil {
		return err
	}
	return e.saveAs(ctx, o.path, doc, f, opts)
}

func (e *env) saveAs(ctx context.Context, path string, doc *doctree.Document, f codec.Format, opts codec.SaveOptions) error {
	reg, err := e.registry()
	if err != nil {
		return err
	}
	opts.Common().Logger = e.logger()
	if err := reg.SaveFile(ctx, path, doc, f, opts); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	fmt.Fprintln(e.stdout, path)
	return nil
}

func parse(fs *flag.FlagSet, args []string, minArgs, maxArgs int) ([]string, error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", errUsage, err)
	}
	rest := fs.Args()
	if len(rest) < minArgs || (maxArgs >= 0 && len(rest) > maxArgs) {
		return nil, fmt.Errorf("%w: wrong number of arguments", errUsage)
	}
	return rest, nil
}

func runDetect(_ context.Context, e *env, args []string) error {
	fs := e.flags("detect")
	paths, err := parse(fs, args, 1, -1)
	if err != nil {
		return err
	}
	var failed error
	for _, path := range paths {
		info, err := codec.DetectFile(path)
		if err != nil {
			fmt.Fprintf(e.stderr, "%s: %v\n", path, err)
			failed = err
			continue
		}
		fmt.Fprintf(e.stdout, "%s\t%s\tencrypted=%t\tsigned=%t", path, info.Format, info.IsEncrypted, info.HasDigitalSignature)
		if info.Encoding != "" {
			fmt.Fprintf(e.stdout, "\tencoding=%s", info.Encoding)
		}
		fmt.Fprintln(e.stdout)
	}
	return failed
}

func runConvert(ctx context.Context, e *env, args []string) error {
	fs := e.flags("convert")
	var out output
	out.register(fs)
	rest, err := parse(fs, args, 1, 1)
	if err != nil {
		return err
	}
	doc, err := e.load(ctx, rest[0])
	if err != nil {
		return err
	}
	return e.save(ctx, &out, doc)
}

func runCompare(ctx context.Context, e *env, args []string) error {
	fs := e.flags("compare")
	var out output
	out.register(fs)
	var (
		opts   compare.Options
		author string
		chars  bool
	)
	fs.StringVar(&author, "author", "docconv", "author of the revisions")
	fs.BoolVar(&chars, "chars", false, "compare character by character instead of by word")
	fs.BoolVar(&opts.IgnoreFormatting, "ignore-formatting", false, "ignore formatting changes")
	fs.BoolVar(&opts.IgnoreCaseChanges, "ignore-case", false, "ignore case changes")
	fs.BoolVar(&opts.IgnoreHeadersAndFooters, "ignore-headers", false, "ignore headers and footers")
	fs.BoolVar(&opts.IgnoreTables, "ignore-tables", false, "ignore tables")
	fs.BoolVar(&opts.IgnoreFields, "ignore-fields", false, "ignore fields")
	fs.BoolVar(&opts.IgnoreComments, "ignore-comments", false, "ignore comments")
	fs.BoolVar(&opts.IgnoreTextboxes, "ignore-textboxes", false, "ignore text boxes")
	fs.BoolVar(&opts.IgnoreFootnotes, "ignore-footnotes", false, "ignore footnotes")
	rest, err := parse(fs, args, 2, 2)
	if err != nil {
		return err
	}
	if chars {
		opts.Granularity = compare.CharLevel
	}
	original, err := e.load(ctx, rest[0])
	if err != nil {
		return err
	}
	revised, err := e.load(ctx, rest[1])
	if err != nil {
		return err
	}
	if err := compare.Compare(original, revised, author, time.Now(), opts); err != nil {
		return err
	}
	e.logger().Info("compared", "revisions", len(original.Revisions()))
	return e.save(ctx, &out, original)
}

func runMerge(ctx context.Context, e *env, args []string) error {
	fs := e.flags("merge")
	var out output
	out.register(fs)
	var (
		opts merge.Options
		mode string
	)
	fs.StringVar(&mode, "mode", "keep_source_formatting", "keep_source_formatting, merge_formatting or keep_destination_layout")
	fs.BoolVar(&opts.KeepSourceNumbering, "keep-numbering", false, "restart list numbering for each input")
	inputs, err := parse(fs, args, 1, -1)
	if err != nil {
		return err
	}
	if opts.Mode, err = merge.ParseMode(mode); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	docs := make([]*doctree.Document, 0, len(inputs))
	for _, path := range inputs {
		doc, err := e.load(ctx, path)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}
	merged, err := merge.Merge(docs, opts)
	if err != nil {
		return err
	}
	return e.save(ctx, &out, merged)
}

func runMailMerge(ctx context.Context, e *env, args []string) error {
	fs := e.flags("mailmerge")
	var out output
	out.register(fs)
	var (
		opts                       mailmerge.Options
		data, dataFormat, source  string
		regions, cleanupAll, trim bool
	)
	fs.StringVar(&data, "data", "", "merge data file (.json, .yaml or .csv)")
	fs.StringVar(&dataFormat, "data-format", "", "data format; inferred from -data when empty")
	fs.StringVar(&source, "source", "", "region name the top-level records fill")
	fs.BoolVar(&regions, "regions", false, "merge TableStart/TableEnd regions")
	fs.BoolVar(&cleanupAll, "cleanup", false, "remove empty paragraphs, unused regions and unused fields")
	fs.BoolVar(&trim, "trim", true, "trim spaces around string values")
	rest, err := parse(fs, args, 1, 1)
	if err != nil {
		return err
	}
	if data == "" {
		return fmt.Errorf("%w: -data is required", errUsage)
	}
	opts.TrimWhitespace = trim
	opts.Logger = e.logger()
	if cleanupAll {
		opts.Cleanup = mailmerge.RemoveEmptyParagraphs | mailmerge.RemoveUnusedRegions | mailmerge.RemoveUnusedFields
	}
	ds, err := readDataSource(data, dataFormat, source)
	if err != nil {
		return err
	}
	tmpl, err := e.load(ctx, rest[0])
	if err != nil {
		return err
	}
	var merged *doctree.Document
	if regions {
		merged, err = mailmerge.ExecuteWithRegions(tmpl, ds, opts)
	} else {
		merged, err = mailmerge.Execute(tmpl, ds, opts)
	}
	if err != nil {
		return err
	}
	return e.save(ctx, &out, merged)
}

func readDataSource(path, format, name string) (*mailmerge.DataSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if format == "" {
		format = strings.TrimPrefix(filepath.Ext(path), ".")
	}
	switch strings.ToLower(format) {
	case "json":
		return mailmerge.FromJSON(f, name)
	case "yaml", "yml":
		return mailmerge.FromYAML(f, name)
	case "csv":
		return mailmerge.FromCSV(f, name)
	}
	return nil, fmt.Errorf("%w: unknown data format %q", errUsage, format)
}

func runCleanup(ctx context.Context, e *env, args []string) error {
	fs := e.flags("cleanup")
	var out output
	out.register(fs)
	var opts cleanup.Options
	fs.BoolVar(&opts.UnusedStyles, "styles", true, "remove unused custom styles")
	fs.BoolVar(&opts.UnusedBuiltinStyles, "builtin-styles", false, "remove unused built-in styles too")
	fs.BoolVar(&opts.UnusedLists, "lists", true, "remove unused list definitions")
	fs.BoolVar(&opts.DuplicateStyle, "duplicates", false, "fold duplicate styles into their first copy")
	rest, err := parse(fs, args, 1, 1)
	if err != nil {
		return err
	}
	doc, err := e.load(ctx, rest[0])
	if err != nil {
		return err
	}
	r := cleanup.Cleanup(doc, opts)
	fmt.Fprintf(e.stderr, "removed %d styles, %d duplicate styles, %d lists\n", r.UnusedStylesRemoved, r.DuplicatesRemoved, r.ListsRemoved)
	return e.save(ctx, &out, doc)
}

func runSplit(ctx context.Context, e *env, args []string) error {
	fs := e.flags("split")
	var (
		dir, by, format, options string
		level, maxTokens        int
	)
	fs.StringVar(&dir, "o", "", "output directory")
	fs.StringVar(&by, "by", "headings", "split by headings, sections or size")
	fs.IntVar(&level, "level", 1, "deepest heading level that starts a part")
	fs.IntVar(&maxTokens, "max-tokens", 1500, "estimated token budget per part when splitting by size")
	fs.StringVar(&format, "format", "docx", "format of the parts")
	fs.StringVar(&options, "options", "", "save options of the part format as JSON")
	rest, err := parse(fs, args, 1, 1)
	if err != nil {
		return err
	}
	if dir == "" {
		return fmt.Errorf("%w: -o is required", errUsage)
	}
	f, err := codec.ParseFormat(format)
	if err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	doc, err := e.load(ctx, rest[0])
	if err != nil {
		return err
	}

	var parts []split.Part
	switch by {
	case "headings":
		parts, err = split.ByHeadings(doc, level)
	case "sections":
		parts, err = split.BySections(doc)
	case "size":
		parts, err = split.BySize(doc, maxTokens)
	default:
		return fmt.Errorf("%w: unknown split mode %q", errUsage, by)
	}
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, p := range parts {
		opts, err := formats.ParseSaveOptions(f, json.RawMessage(options))
		if err != nil {
			return err
		}
		path := filepath.Join(dir, partFilename(p)+f.Extension())
		if err := e.saveAs(ctx, path, p.Doc, f, opts); err != nil {
			return err
		}
	}
	return nil
}

// partFilename is "NN-title" with the title reduced to a safe slug.
func partFilename(p split.Part) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(p.Title()) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if len(slug) > 48 {
		slug = strings.TrimSuffix(slug[:48], "-")
	}
	if slug == "" {
		return fmt.Sprintf("%02d", p.Index+1)
	}
	return fmt.Sprintf("%02d-%s", p.Index+1, slug)
}
