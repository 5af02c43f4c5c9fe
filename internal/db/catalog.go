package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/dvs.codec/internal/dvs"
)

// ErrNotFound is returned when a catalog lookup matches no row.
var ErrNotFound = errors.New("not found")

// Recording summarises one decoded recording file.
type Recording struct {
	RecordingID    string
	Path           string
	Format         dvs.Format
	Width          int
	Height         int
	HeaderSize     int64
	HeaderLines    int
	Events         uint64
	OnEvents       uint64
	OffEvents      uint64
	FirstTimestamp dvs.Timestamp
	LastTimestamp  dvs.Timestamp
	Regressions    uint64
	SkippedWords   uint64
	IngestedAt     time.Time
}

// DurationSeconds is the span between the first and last event.
func (r *Recording) DurationSeconds() float64 {
	if r.LastTimestamp <= r.FirstTimestamp {
		return 0
	}
	return float64(r.LastTimestamp-r.FirstTimestamp) / 1e6
}

func (r *Recording) String() string {
	return fmt.Sprintf("%s %s %s %dx%d events=%d span=%.3fs",
		r.RecordingID, r.Format, r.Path, r.Width, r.Height, r.Events, r.DurationSeconds())
}

// NewRecording fills a Recording from decode statistics.
func NewRecording(path string, format dvs.Format, headerSize int64, headerLines int, s dvs.Stats) Recording {
	return Recording{
		Path:           path,
		Format:         format,
		Width:          int(s.Width),
		Height:         int(s.Height),
		HeaderSize:     headerSize,
		HeaderLines:    headerLines,
		Events:         s.Events,
		OnEvents:       s.OnEvents,
		OffEvents:      s.OffEvents,
		FirstTimestamp: s.First,
		LastTimestamp:  s.Last,
		Regressions:    s.Regressions,
	}
}

// LossRun records one bandwidth loss simulation.
type LossRun struct {
	RunID         string
	RecordingID   string
	Strategy      string
	ChunkMs       float64
	BandwidthMbps float64
	BitsPerEvent  float64
	InputEvents   int
	OutputEvents  int
	Chunks        int
	Saturated     int
	OriginalMbps  float64
	LossyMbps     float64
	OutputPath    string
	CreatedAt     time.Time
}

// RecordRecording inserts rec. An empty RecordingID is replaced with a new
// UUID and a zero IngestedAt with the current time; both are written back.
func (db *DB) RecordRecording(rec *Recording) error {
	if rec.RecordingID == "" {
		rec.RecordingID = uuid.New().String()
	}
	if rec.IngestedAt.IsZero() {
		rec.IngestedAt = db.clock.Now()
	}

	_, err := db.Exec(`
		INSERT INTO recordings (
			recording_id, path, format, width, height, header_size, header_lines,
			events, on_events, off_events, first_timestamp, last_timestamp,
			regressions, skipped_words, ingested_unix_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RecordingID, rec.Path, rec.Format.String(), rec.Width, rec.Height,
		rec.HeaderSize, rec.HeaderLines,
		int64(rec.Events), int64(rec.OnEvents), int64(rec.OffEvents),
		int64(rec.FirstTimestamp), int64(rec.LastTimestamp),
		int64(rec.Regressions), int64(rec.SkippedWords),
		rec.IngestedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert recording: %w", err)
	}
	return nil
}

const recordingColumns = `
	recording_id, path, format, width, height, header_size, header_lines,
	events, on_events, off_events, first_timestamp, last_timestamp,
	regressions, skipped_words, ingested_unix_ns`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecording(s scanner) (Recording, error) {
	var (
		rec                                       Recording
		format                                    string
		events, on, off, first, last, regr, skips int64
		ingested                                  int64
	)
	err := s.Scan(
		&rec.RecordingID, &rec.Path, &format, &rec.Width, &rec.Height,
		&rec.HeaderSize, &rec.HeaderLines,
		&events, &on, &off, &first, &last, &regr, &skips, &ingested,
	)
	if err != nil {
		return rec, err
	}
	rec.Format, _ = dvs.ParseFormat(format)
	rec.Events, rec.OnEvents, rec.OffEvents = uint64(events), uint64(on), uint64(off)
	rec.FirstTimestamp, rec.LastTimestamp = dvs.Timestamp(first), dvs.Timestamp(last)
	rec.Regressions, rec.SkippedWords = uint64(regr), uint64(skips)
	rec.IngestedAt = time.Unix(0, ingested).UTC()
	return rec, nil
}

// GetRecording looks a recording up by id.
func (db *DB) GetRecording(id string) (*Recording, error) {
	row := db.QueryRow(`SELECT `+recordingColumns+` FROM recordings WHERE recording_id = ?`, id)
	rec, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("recording %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get recording: %w", err)
	}
	return &rec, nil
}

// Recordings lists the catalog, most recently ingested first.
func (db *DB) Recordings() ([]Recording, error) {
	rows, err := db.Query(`SELECT ` + recordingColumns + ` FROM recordings ORDER BY ingested_unix_ns DESC, recording_id`)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()

	var out []Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteRecording removes a recording and, through the foreign key, its
// loss runs.
func (db *DB) DeleteRecording(id string) error {
	res, err := db.Exec(`DELETE FROM recordings WHERE recording_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete recording: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("recording %s: %w", id, ErrNotFound)
	}
	return nil
}

// RecordLossRun inserts run. RunID and CreatedAt are filled in when empty.
func (db *DB) RecordLossRun(run *LossRun) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = db.clock.Now()
	}

	_, err := db.Exec(`
		INSERT INTO loss_runs (
			run_id, recording_id, strategy, chunk_ms, bandwidth_mbps, bits_per_event,
			input_events, output_events, chunks, saturated, original_mbps, lossy_mbps,
			output_path, created_unix_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.RecordingID, run.Strategy, run.ChunkMs, run.BandwidthMbps, run.BitsPerEvent,
		run.InputEvents, run.OutputEvents, run.Chunks, run.Saturated, run.OriginalMbps, run.LossyMbps,
		run.OutputPath, run.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert loss run: %w", err)
	}
	return nil
}

// LossRuns lists the loss runs for a recording in creation order.
func (db *DB) LossRuns(recordingID string) ([]LossRun, error) {
	rows, err := db.Query(`
		SELECT run_id, recording_id, strategy, chunk_ms, bandwidth_mbps, bits_per_event,
		       input_events, output_events, chunks, saturated, original_mbps, lossy_mbps,
		       output_path, created_unix_ns
		FROM loss_runs
		WHERE recording_id = ?
		ORDER BY created_unix_ns, run_id`, recordingID)
	if err != nil {
		return nil, fmt.Errorf("list loss runs: %w", err)
	}
	defer rows.Close()

	var out []LossRun
	for rows.Next() {
		var run LossRun
		var created int64
		if err := rows.Scan(
			&run.RunID, &run.RecordingID, &run.Strategy, &run.ChunkMs, &run.BandwidthMbps, &run.BitsPerEvent,
			&run.InputEvents, &run.OutputEvents, &run.Chunks, &run.Saturated, &run.OriginalMbps, &run.LossyMbps,
			&run.OutputPath, &created,
		); err != nil {
			return nil, fmt.Errorf("scan loss run: %w", err)
		}
		run.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, run)
	}
	return out, rows.Err()
}
