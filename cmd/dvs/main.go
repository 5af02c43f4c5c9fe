// Command dvs inspects, decodes, transcodes and degrades DVS event
// recordings (EVT2, EVT3 and DAT).
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/banshee-data/dvs.codec/internal/config"
	"github.com/banshee-data/dvs.codec/internal/dvs"
	"github.com/banshee-data/dvs.codec/internal/dvs/stream"
	"github.com/banshee-data/dvs.codec/internal/fsutil"
	"github.com/banshee-data/dvs.codec/internal/monitoring"
	"github.com/banshee-data/dvs.codec/internal/streamio"
	"github.com/banshee-data/dvs.codec/internal/timeutil"
	"github.com/banshee-data/dvs.codec/internal/version"
)

// errUsage marks errors caused by bad invocation; they exit with status 2.
var errUsage = errors.New("usage error")

// app carries the process environment so subcommands can run in tests.
type app struct {
	fsys   fsutil.FileSystem
	stdout io.Writer
	stderr io.Writer
	clock  timeutil.Clock
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{fsys: fsutil.OSFileSystem{}, stdout: os.Stdout, stderr: os.Stderr, clock: timeutil.RealClock{}}
	if err := a.run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "dvs: %v\n", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) < 1 {
		a.printUsage()
		return fmt.Errorf("%w: missing command", errUsage)
	}

	command, rest := args[0], args[1:]
	switch command {
	case "info":
		return a.runInfo(ctx, rest)
	case "decode":
		return a.runDecode(ctx, rest)
	case "transcode":
		return a.runTranscode(ctx, rest)
	case "loss":
		return a.runLoss(ctx, rest)
	case "catalog":
		return a.runCatalog(rest)
	case "migrate":
		return a.runMigrate(rest)
	case "version", "--version":
		fmt.Fprintln(a.stdout, version.String())
		return nil
	case "help", "-h", "--help":
		a.printUsage()
		return nil
	default:
		a.printUsage()
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}
}

func (a *app) printUsage() {
	fmt.Fprint(a.stderr, `dvs - DVS event stream codec

Usage: dvs <command> [options]

Commands:
  info       Print the header and an event summary of a recording
  decode     Write events as CSV (timestamp,x,y,polarity)
  transcode  Convert a recording between evt2, evt3 and dat
  loss       Simulate a bandwidth-limited link and write the surviving events
  catalog    List recordings and loss runs stored in the catalog
  migrate    Manage the catalog schema (up, down, version)
  version    Show build information

Paths ending in .zst or .lz4 are (de)compressed transparently.
RAW files do not name their encoding: pass --format evt2 or --format evt3.
`)
}

// commonFlags are shared by every subcommand that reads a recording.
type commonFlags struct {
	configPath string
	format     string
	onError    string
	verbose    bool
	dbPath     string
	record     bool

	cfg *config.CodecConfig
}

func (c *commonFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "JSON or YAML settings file")
	fs.StringVarP(&c.format, "format", "f", "", "input encoding: evt2, evt3 or dat")
	fs.StringVar(&c.onError, "on-error", "", "abort or skip on undecodable words (default abort)")
	fs.BoolVarP(&c.verbose, "verbose", "v", false, "log progress details")
	fs.StringVar(&c.dbPath, "db", "", "catalog database path")
	fs.BoolVar(&c.record, "record", false, "store the result in the catalog")
}

// resolve loads the config file and applies it beneath explicit flags.
func (c *commonFlags) resolve() error {
	monitoring.SetVerbose(c.verbose)
	c.cfg = &config.CodecConfig{}
	if c.configPath != "" {
		cfg, err := config.Load(c.configPath)
		if err != nil {
			return err
		}
		c.cfg = cfg
	}
	return nil
}

func (c *commonFlags) policy() (stream.ErrorPolicy, error) {
	if c.onError == "" {
		return c.cfg.GetOnError(), nil
	}
	p, err := stream.ParseErrorPolicy(c.onError)
	if err != nil {
		return p, fmt.Errorf("%w: %v", errUsage, err)
	}
	return p, nil
}

func (c *commonFlags) databasePath() string {
	if c.dbPath != "" {
		return c.dbPath
	}
	return c.cfg.GetDatabasePath()
}

// inputFormat picks the decoder: flag, then config, then a .dat/.evt2/.evt3
// file name. The header is never consulted.
func (c *commonFlags) inputFormat(path string) (dvs.Format, error) {
	if c.format != "" {
		f, err := dvs.ParseFormat(c.format)
		if err != nil {
			return f, fmt.Errorf("%w: %v", errUsage, err)
		}
		return f, nil
	}
	if f := c.cfg.GetInputFormat(); f != dvs.FormatUnknown {
		return f, nil
	}
	if f := streamio.FormatFromPath(path); f != dvs.FormatUnknown {
		return f, nil
	}
	return dvs.FormatUnknown, fmt.Errorf("%w: cannot tell the encoding of %s; pass --format", errUsage, path)
}

// recording is an open input stream.
type recording struct {
	path   string
	format dvs.Format
	reader *stream.Reader
	closer io.Closer
}

func (r *recording) Close() error { return r.closer.Close() }

func (a *app) openRecording(c *commonFlags, path string) (*recording, error) {
	format, err := c.inputFormat(path)
	if err != nil {
		return nil, err
	}
	f, err := streamio.Open(a.fsys, path)
	if err != nil {
		return nil, err
	}
	r, err := stream.NewReader(f, format)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if md := r.Header().Metadata(); md.Format != dvs.FormatUnknown && md.Format != format {
		monitoring.Logf("warning: %s header says %s but decoding as %s", path, md.Format, format)
	}
	monitoring.Debugf("%s: %d header lines, events start at byte %d", path, len(r.Header().Lines), r.Header().Size)
	return &recording{path: path, format: format, reader: r, closer: f}, nil
}

// readEvents drains a recording, applying the error policy. It returns the
// events, their statistics and the number of skipped words.
func readEvents(ctx context.Context, rec *recording, policy stream.ErrorPolicy, keep bool) ([]dvs.DVSEvent, dvs.Stats, uint64, error) {
	md := rec.reader.Header().Metadata()
	stats := dvs.Stats{Width: uint16(md.Width), Height: uint16(md.Height)}
	var events []dvs.DVSEvent
	var skipped uint64
	for ev, err := range rec.reader.EventsContext(ctx) {
		if err != nil {
			if policy == stream.Skip && stream.Resumable(err) {
				skipped++
				monitoring.Debugf("%s: skipping word: %v", rec.path, err)
				continue
			}
			return events, stats, skipped, fmt.Errorf("%s: %w", rec.path, err)
		}
		stats.Add(ev)
		if keep {
			events = append(events, ev)
		}
	}
	return events, stats, skipped, nil
}

// parseFlags parses args, mapping pflag's help sentinel to a nil error.
func parseFlags(fs *pflag.FlagSet, args []string) (bool, error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", errUsage, err)
	}
	return true, nil
}
