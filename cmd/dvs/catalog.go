package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
)

func (a *app) runCatalog(args []string) error {
	var c commonFlags
	fs := pflag.NewFlagSet("catalog", pflag.ContinueOnError)
	fs.SetOutput(a.stderr)
	fs.StringVar(&c.configPath, "config", "", "JSON or YAML settings file")
	fs.StringVar(&c.dbPath, "db", "", "catalog database path")
	fs.BoolVarP(&c.verbose, "verbose", "v", false, "log progress details")
	if ok, err := parseFlags(fs, args); !ok {
		return err
	}
	if err := c.resolve(); err != nil {
		return err
	}

	action := "list"
	if fs.NArg() > 0 {
		action = fs.Arg(0)
	}
	catalog, err := a.openCatalog(&c)
	if err != nil {
		return err
	}
	defer catalog.Close()

	switch action {
	case "list", "ls":
		recs, err := catalog.Recordings()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tFORMAT\tEVENTS\tSPAN(s)\tINGESTED\tPATH")
		for _, r := range recs {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%.3f\t%s\t%s\n",
				r.RecordingID, r.Format, r.Events, r.DurationSeconds(), r.IngestedAt.Format(time.RFC3339), r.Path)
		}
		return tw.Flush()

	case "runs":
		if fs.NArg() != 2 {
			return fmt.Errorf("%w: catalog runs <recording-id>", errUsage)
		}
		rec, err := catalog.GetRecording(fs.Arg(1))
		if err != nil {
			return err
		}
		runs, err := catalog.LossRuns(rec.RecordingID)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.stdout, rec.String())
		tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "RUN\tSTRATEGY\tCHUNK(ms)\tMBPS\tIN\tOUT\tSATURATED\tOUTPUT")
		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%g\t%g\t%d\t%d\t%d/%d\t%s\n",
				r.RunID, r.Strategy, r.ChunkMs, r.BandwidthMbps, r.InputEvents, r.OutputEvents,
				r.Saturated, r.Chunks, r.OutputPath)
		}
		return tw.Flush()

	case "rm":
		if fs.NArg() != 2 {
			return fmt.Errorf("%w: catalog rm <recording-id>", errUsage)
		}
		if err := catalog.DeleteRecording(fs.Arg(1)); err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "removed %s\n", fs.Arg(1))
		return nil
	}
	return fmt.Errorf("%w: unknown catalog action %q (want list, runs or rm)", errUsage, action)
}

func (a *app) runMigrate(args []string) error {
	var c commonFlags
	fs := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	fs.SetOutput(a.stderr)
	fs.StringVar(&c.configPath, "config", "", "JSON or YAML settings file")
	fs.StringVar(&c.dbPath, "db", "", "catalog database path")
	if ok, err := parseFlags(fs, args); !ok {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: migrate up|down|version", errUsage)
	}
	if err := c.resolve(); err != nil {
		return err
	}

	// NewDB migrates up on open.
	catalog, err := a.openCatalog(&c)
	if err != nil {
		return err
	}
	defer catalog.Close()

	switch fs.Arg(0) {
	case "up":
	case "down":
		if err := catalog.MigrateDown(); err != nil {
			return err
		}
	case "version":
	default:
		return fmt.Errorf("%w: unknown migrate action %q (want up, down or version)", errUsage, fs.Arg(0))
	}

	v, dirty, err := catalog.MigrateVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "schema version %d", v)
	if dirty {
		fmt.Fprint(a.stdout, " (dirty)")
	}
	fmt.Fprintln(a.stdout)
	return nil
}
