package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/banshee-data/dvs.codec/internal/db"
	"github.com/banshee-data/dvs.codec/internal/dvs"
	"github.com/banshee-data/dvs.codec/internal/dvs/stream"
	"github.com/banshee-data/dvs.codec/internal/loss"
	"github.com/banshee-data/dvs.codec/internal/monitoring"
	"github.com/banshee-data/dvs.codec/internal/streamio"
)

func (a *app) runInfo(ctx context.Context, args []string) error {
	var c commonFlags
	fs := pflag.NewFlagSet("info", pflag.ContinueOnError)
	fs.SetOutput(a.stderr)
	c.register(fs)
	if ok, err := parseFlags(fs, args); !ok {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: info takes exactly one recording", errUsage)
	}
	if err := c.resolve(); err != nil {
		return err
	}
	policy, err := c.policy()
	if err != nil {
		return err
	}

	path := fs.Arg(0)
	rec, err := a.openRecording(&c, path)
	if err != nil {
		return err
	}
	defer rec.Close()

	info, err := a.fsys.Stat(path)
	if err != nil {
		return err
	}

	start := a.clock.Now()
	_, stats, skipped, err := readEvents(ctx, rec, policy, false)
	if err != nil {
		return err
	}
	monitoring.Debugf("%s: decoded %d words in %v", path, rec.reader.Words(), a.clock.Since(start))

	h := rec.reader.Header()
	md := h.Metadata()
	fmt.Fprintf(a.stdout, "file:        %s\n", path)
	fmt.Fprintf(a.stdout, "size:        %d bytes\n", info.Size())
	fmt.Fprintf(a.stdout, "format:      %s\n", rec.format)
	if md.Width > 0 && md.Height > 0 {
		fmt.Fprintf(a.stdout, "geometry:    %dx%d\n", md.Width, md.Height)
	}
	fmt.Fprintf(a.stdout, "header:      %d lines, %d bytes\n", len(h.Lines), h.Size)
	for _, line := range h.Lines {
		fmt.Fprintf(a.stdout, "  %s\n", line)
	}
	fmt.Fprintf(a.stdout, "words:       %d\n", rec.reader.Words())
	fmt.Fprintf(a.stdout, "events:      %d (on %d, off %d)\n", stats.Events, stats.OnEvents, stats.OffEvents)
	if stats.Events > 0 {
		fmt.Fprintf(a.stdout, "timestamps:  %d .. %d (%d µs)\n", stats.First, stats.Last, stats.Duration())
		fmt.Fprintf(a.stdout, "max x,y:     %d,%d\n", stats.MaxX, stats.MaxY)
	}
	if !stats.Monotonic() {
		fmt.Fprintf(a.stdout, "regressions: %d\n", stats.Regressions)
	}
	if stats.OutOfBounds > 0 {
		fmt.Fprintf(a.stdout, "out of bounds: %d\n", stats.OutOfBounds)
	}
	if skipped > 0 {
		fmt.Fprintf(a.stdout, "skipped:     %d words\n", skipped)
	}

	if !c.record {
		return nil
	}
	r, err := a.recordRecording(&c, rec, stats, skipped)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "recorded:    %s\n", r.RecordingID)
	return nil
}

func (a *app) recordRecording(c *commonFlags, rec *recording, stats dvs.Stats, skipped uint64) (*db.Recording, error) {
	catalog, err := a.openCatalog(c)
	if err != nil {
		return nil, err
	}
	defer catalog.Close()

	h := rec.reader.Header()
	r := db.NewRecording(rec.path, rec.format, h.Size, len(h.Lines), stats)
	r.SkippedWords = skipped
	if err := catalog.RecordRecording(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (a *app) openCatalog(c *commonFlags) (*db.DB, error) {
	catalog, err := db.NewDB(c.databasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	catalog.SetClock(a.clock)
	return catalog, nil
}

func (a *app) runDecode(ctx context.Context, args []string) error {
	var c commonFlags
	var output string
	var limit uint64
	fs := pflag.NewFlagSet("decode", pflag.ContinueOnError)
	fs.SetOutput(a.stderr)
	c.register(fs)
	fs.StringVarP(&output, "output", "o", "", "CSV destination (default stdout)")
	fs.Uint64Var(&limit, "limit", 0, "stop after this many events (0 = all)")
	if ok, err := parseFlags(fs, args); !ok {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: decode takes exactly one recording", errUsage)
	}
	if err := c.resolve(); err != nil {
		return err
	}
	policy, err := c.policy()
	if err != nil {
		return err
	}

	rec, err := a.openRecording(&c, fs.Arg(0))
	if err != nil {
		return err
	}
	defer rec.Close()

	if output == "" {
		_, err := writeCSV(ctx, a.stdout, rec, policy, limit)
		return err
	}
	f, err := streamio.Create(a.fsys, output)
	if err != nil {
		return err
	}
	n, err := writeCSV(ctx, f, rec, policy, limit)
	if err = errors.Join(err, f.Close()); err != nil {
		return a.discard(output, err)
	}
	monitoring.Logf("wrote %d events to %s", n, output)
	return nil
}

// writeCSV streams events as "timestamp,x,y,polarity" rows.
func writeCSV(ctx context.Context, dst io.Writer, rec *recording, policy stream.ErrorPolicy, limit uint64) (uint64, error) {
	bw := bufio.NewWriter(dst)
	if _, err := bw.WriteString("timestamp,x,y,polarity\n"); err != nil {
		return 0, err
	}

	var n uint64
	var line []byte
	for ev, err := range rec.reader.EventsContext(ctx) {
		if err != nil {
			if policy == stream.Skip && stream.Resumable(err) {
				monitoring.Debugf("%s: skipping word: %v", rec.path, err)
				continue
			}
			return n, fmt.Errorf("%s: %w", rec.path, err)
		}
		line = strconv.AppendUint(line[:0], ev.Timestamp, 10)
		line = append(line, ',')
		line = strconv.AppendUint(line, uint64(ev.X), 10)
		line = append(line, ',')
		line = strconv.AppendUint(line, uint64(ev.Y), 10)
		line = append(line, ',')
		line = strconv.AppendUint(line, uint64(ev.Polarity), 10)
		line = append(line, '\n')
		if _, err := bw.Write(line); err != nil {
			return n, err
		}
		if n++; limit > 0 && n >= limit {
			break
		}
	}
	return n, bw.Flush()
}

// outputFlags describe where and how an encoded recording is written.
type outputFlags struct {
	output   string
	to       string
	compress string
}

func (o *outputFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&o.output, "output", "o", "", "destination recording (required)")
	fs.StringVarP(&o.to, "to", "t", "", "output encoding: evt2, evt3 or dat")
	fs.StringVar(&o.compress, "compress", "", "append .zst or .lz4 to the output: none, zstd or lz4")
}

// resolve returns the output path with any compression suffix applied and
// the encoding to write. The encoding falls back to the config file, then
// the output file name, then the input encoding.
func (o *outputFlags) resolve(c *commonFlags, input dvs.Format) (string, dvs.Format, error) {
	if o.output == "" {
		return "", dvs.FormatUnknown, fmt.Errorf("%w: --output is required", errUsage)
	}

	comp := c.cfg.GetCompression()
	if o.compress != "" {
		var err error
		if comp, err = streamio.ParseCompression(o.compress); err != nil {
			return "", dvs.FormatUnknown, fmt.Errorf("%w: %v", errUsage, err)
		}
	}
	path := o.output
	if existing, _ := streamio.Detect(path); existing == streamio.CompressionNone {
		path += comp.Ext()
	}

	format := input
	switch {
	case o.to != "":
		f, err := dvs.ParseFormat(o.to)
		if err != nil {
			return "", dvs.FormatUnknown, fmt.Errorf("%w: %v", errUsage, err)
		}
		format = f
	case c.cfg.GetOutputFormat() != dvs.FormatUnknown:
		format = c.cfg.GetOutputFormat()
	case streamio.FormatFromPath(path) != dvs.FormatUnknown:
		format = streamio.FormatFromPath(path)
	}
	return path, format, nil
}

// createWriter opens path and writes the input header retargeted to format.
func (a *app) createWriter(rec *recording, path string, format dvs.Format) (*stream.Writer, io.Closer, error) {
	f, err := streamio.Create(a.fsys, path)
	if err != nil {
		return nil, nil, err
	}
	w, err := stream.NewWriter(f, format, rec.reader.Header().Retarget(format))
	if err != nil {
		return nil, nil, a.discard(path, errors.Join(err, f.Close()))
	}
	return w, f, nil
}

// discard removes a partially written output and returns err.
func (a *app) discard(path string, err error) error {
	if rmErr := a.fsys.Remove(path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
		monitoring.Logf("warning: could not remove partial output %s: %v", path, rmErr)
	}
	return err
}

func (a *app) runTranscode(ctx context.Context, args []string) error {
	var c commonFlags
	var o outputFlags
	var from, until uint64
	fs := pflag.NewFlagSet("transcode", pflag.ContinueOnError)
	fs.SetOutput(a.stderr)
	c.register(fs)
	o.register(fs)
	fs.Uint64Var(&from, "from", 0, "drop events before this timestamp (µs)")
	fs.Uint64Var(&until, "until", 0, "drop events at or after this timestamp (µs, 0 = no limit)")
	if ok, err := parseFlags(fs, args); !ok {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: transcode takes exactly one recording", errUsage)
	}
	if err := c.resolve(); err != nil {
		return err
	}
	policy, err := c.policy()
	if err != nil {
		return err
	}

	rec, err := a.openRecording(&c, fs.Arg(0))
	if err != nil {
		return err
	}
	defer rec.Close()

	path, format, err := o.resolve(&c, rec.format)
	if err != nil {
		return err
	}
	w, closer, err := a.createWriter(rec, path, format)
	if err != nil {
		return err
	}

	var keep stream.Filter
	if from > 0 || until > 0 {
		keep = func(ev dvs.DVSEvent) bool {
			return ev.Timestamp >= from && (until == 0 || ev.Timestamp < until)
		}
	}

	start := a.clock.Now()
	res, err := stream.Transcode(ctx, rec.reader, w, policy, keep)
	err = errors.Join(err, closer.Close())
	if err != nil {
		return a.discard(path, fmt.Errorf("transcode %s to %s: %w", rec.path, path, err))
	}

	fmt.Fprintf(a.stdout, "%s (%s) -> %s (%s): %d events, %d bytes",
		rec.path, rec.format, path, format, res.Stats.Events, res.Written)
	if res.Skipped > 0 {
		fmt.Fprintf(a.stdout, ", %d words skipped", res.Skipped)
	}
	fmt.Fprintln(a.stdout)
	monitoring.Debugf("transcode took %v", a.clock.Since(start))

	if c.record {
		if _, err := a.recordRecording(&c, rec, res.Stats, res.Skipped); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) runLoss(ctx context.Context, args []string) error {
	var c commonFlags
	var o outputFlags
	var (
		chunkMs, bandwidth, bits float64
		strategy                 string
	)
	fs := pflag.NewFlagSet("loss", pflag.ContinueOnError)
	fs.SetOutput(a.stderr)
	c.register(fs)
	o.register(fs)
	fs.Float64Var(&chunkMs, "chunk-ms", 0, "chunk length in milliseconds (default 50)")
	fs.Float64Var(&bandwidth, "bandwidth", 0, "link bandwidth in Mbit/s (default 25)")
	fs.Float64Var(&bits, "bits-per-event", 0, "bits each event costs on the link (default 32)")
	fs.StringVar(&strategy, "strategy", "", "which events to drop: tail or uniform (default tail)")
	if ok, err := parseFlags(fs, args); !ok {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: loss takes exactly one recording", errUsage)
	}
	if err := c.resolve(); err != nil {
		return err
	}
	policy, err := c.policy()
	if err != nil {
		return err
	}

	params := c.cfg.GetLossParams()
	if fs.Changed("chunk-ms") {
		params.ChunkMs = chunkMs
	}
	if fs.Changed("bandwidth") {
		params.BandwidthMbps = bandwidth
	}
	if fs.Changed("bits-per-event") {
		params.BitsPerEvent = bits
	}
	if strategy != "" {
		if params.Strategy, err = loss.ParseStrategy(strategy); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
	}
	if err := params.Validate(); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	rec, err := a.openRecording(&c, fs.Arg(0))
	if err != nil {
		return err
	}
	defer rec.Close()

	path, format, err := o.resolve(&c, rec.format)
	if err != nil {
		return err
	}

	events, stats, skipped, err := readEvents(ctx, rec, policy, true)
	if err != nil {
		return err
	}
	kept, report, err := loss.Apply(events, params)
	if err != nil {
		return err
	}

	w, closer, err := a.createWriter(rec, path, format)
	if err != nil {
		return err
	}
	err = w.Write(kept...)
	if err == nil {
		err = w.Flush()
	}
	if err = errors.Join(err, closer.Close()); err != nil {
		return a.discard(path, fmt.Errorf("write %s: %w", path, err))
	}

	fmt.Fprintf(a.stdout, "budget:      %d events per %gms chunk (%s)\n", params.Budget(), params.ChunkMs, params.Strategy)
	fmt.Fprintf(a.stdout, "chunks:      %d, %d saturated, %.1f ± %.1f events\n",
		report.Chunks, report.Saturated, report.ChunkMean, report.ChunkStdDev)
	fmt.Fprintf(a.stdout, "events:      %d -> %d (%.2f%% dropped)\n",
		report.InputEvents, report.OutputEvents, 100*report.DropRate())
	fmt.Fprintf(a.stdout, "rate:        %.3f -> %.3f Mbit/s over %.3fs\n",
		report.OriginalMbps, report.LossyMbps, report.Duration)
	fmt.Fprintf(a.stdout, "output:      %s (%s, %d bytes)\n", path, format, w.Written())

	if !c.record {
		return nil
	}
	r, err := a.recordRecording(&c, rec, stats, skipped)
	if err != nil {
		return err
	}
	catalog, err := a.openCatalog(&c)
	if err != nil {
		return err
	}
	defer catalog.Close()
	run := &db.LossRun{
		RecordingID:   r.RecordingID,
		Strategy:      params.Strategy.String(),
		ChunkMs:       params.ChunkMs,
		BandwidthMbps: params.BandwidthMbps,
		BitsPerEvent:  params.BitsPerEvent,
		InputEvents:   report.InputEvents,
		OutputEvents:  report.OutputEvents,
		Chunks:        report.Chunks,
		Saturated:     report.Saturated,
		OriginalMbps:  report.OriginalMbps,
		LossyMbps:     report.LossyMbps,
		OutputPath:    path,
	}
	if err := catalog.RecordLossRun(run); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "recorded:    %s (run %s)\n", r.RecordingID, run.RunID)
	return nil
}
