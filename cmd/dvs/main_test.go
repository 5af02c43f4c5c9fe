package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/dvs.codec/internal/db"
	"github.com/banshee-data/dvs.codec/internal/dvs"
	"github.com/banshee-data/dvs.codec/internal/dvs/evt2"
	"github.com/banshee-data/dvs.codec/internal/dvs/stream"
	"github.com/banshee-data/dvs.codec/internal/fsutil"
	"github.com/banshee-data/dvs.codec/internal/monitoring"
	"github.com/banshee-data/dvs.codec/internal/testutil"
	"github.com/banshee-data/dvs.codec/internal/timeutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

type testApp struct {
	*app
	mem    *fsutil.MemoryFileSystem
	out    *bytes.Buffer
	errOut *bytes.Buffer
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	mem := fsutil.NewMemoryFileSystem()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	return &testApp{
		app: &app{
			fsys:   mem,
			stdout: out,
			stderr: errOut,
			clock:  timeutil.NewMockClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)),
		},
		mem:    mem,
		out:    out,
		errOut: errOut,
	}
}

func (a *testApp) exec(t *testing.T, args ...string) error {
	t.Helper()
	a.out.Reset()
	return a.run(context.Background(), args)
}

func evt2File(t *testing.T, events []dvs.DVSEvent, lines ...string) []byte {
	t.Helper()
	words, err := evt2.EncodeAll(events)
	require.NoError(t, err)
	body := make([]byte, len(words)*evt2.WordSize)
	for i, w := range words {
		evt2.PutUint32(body[i*evt2.WordSize:], w)
	}
	return testutil.WithHeader(body, lines...)
}

func readBack(t *testing.T, a *testApp, path string, format dvs.Format) (*stream.Reader, []dvs.DVSEvent) {
	t.Helper()
	data, err := a.mem.ReadFile(path)
	require.NoError(t, err)
	r, err := stream.NewReader(bytes.NewReader(data), format)
	require.NoError(t, err)
	events, err := r.ReadAll(context.Background())
	require.NoError(t, err)
	return r, events
}

var sample = []dvs.DVSEvent{
	{Timestamp: 64, X: 1, Y: 2, Polarity: dvs.PolarityOn},
	{Timestamp: 70, X: 3, Y: 4, Polarity: dvs.PolarityOff},
}

func TestRun_Usage(t *testing.T) {
	a := newTestApp(t)

	err := a.exec(t)
	assert.ErrorIs(t, err, errUsage)

	err = a.exec(t, "frobnicate")
	assert.ErrorIs(t, err, errUsage)
	assert.Contains(t, a.errOut.String(), "Usage: dvs <command>")

	require.NoError(t, a.exec(t, "help"))
	require.NoError(t, a.exec(t, "info", "--help"))
}

func TestRun_Version(t *testing.T) {
	a := newTestApp(t)
	require.NoError(t, a.exec(t, "version"))
	assert.True(t, strings.HasPrefix(a.out.String(), "dvs "))
}

func TestDecode_CSV(t *testing.T) {
	a := newTestApp(t)
	a.mem.WriteFile("in.raw", evt2File(t, sample, "% evt 2.0"))

	require.NoError(t, a.exec(t, "decode", "--format", "evt2", "in.raw"))
	assert.Equal(t, "timestamp,x,y,polarity\n64,1,2,1\n70,3,4,0\n", a.out.String())

	require.NoError(t, a.exec(t, "decode", "-f", "evt2", "--limit", "1", "in.raw"))
	assert.Equal(t, "timestamp,x,y,polarity\n64,1,2,1\n", a.out.String())
}

func TestDecode_ToFile(t *testing.T) {
	a := newTestApp(t)
	a.mem.WriteFile("in.evt2", evt2File(t, sample))

	require.NoError(t, a.exec(t, "decode", "-o", "events.csv.zst", "in.evt2"))
	assert.Empty(t, a.out.String())
	names := a.mem.Names()
	assert.Contains(t, names, "events.csv.zst")
}

func TestDecode_FormatRequired(t *testing.T) {
	a := newTestApp(t)
	a.mem.WriteFile("in.raw", evt2File(t, sample))

	err := a.exec(t, "decode", "in.raw")
	assert.ErrorIs(t, err, errUsage)

	err = a.exec(t, "decode", "--format", "evt4", "in.raw")
	assert.ErrorIs(t, err, errUsage)
}

func TestDecode_MissingFile(t *testing.T) {
	a := newTestApp(t)
	err := a.exec(t, "decode", "-f", "evt2", "nope.raw")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestInfo(t *testing.T) {
	a := newTestApp(t)
	a.mem.WriteFile("in.raw", evt2File(t, sample, "% evt 2.0", "% geometry 640x480", "% end"))

	require.NoError(t, a.exec(t, "info", "-f", "evt2", "in.raw"))
	out := a.out.String()
	assert.Contains(t, out, "size:        47 bytes")
	assert.Contains(t, out, "format:      evt2")
	assert.Contains(t, out, "geometry:    640x480")
	assert.Contains(t, out, "header:      3 lines")
	assert.Contains(t, out, "events:      2 (on 1, off 1)")
	assert.Contains(t, out, "timestamps:  64 .. 70 (6 µs)")
	assert.NotContains(t, out, "skipped")
}

func TestInfo_ErrorPolicy(t *testing.T) {
	a := newTestApp(t)
	body := evt2File(t, sample)
	bad := make([]byte, evt2.WordSize)
	evt2.PutUint32(bad, 0xE0000000)
	a.mem.WriteFile("in.evt2", append(bad, body...))

	err := a.exec(t, "info", "in.evt2")
	assert.ErrorIs(t, err, dvs.ErrUnsupportedEventType)

	require.NoError(t, a.exec(t, "info", "--on-error", "skip", "in.evt2"))
	assert.Contains(t, a.out.String(), "events:      2")
	assert.Contains(t, a.out.String(), "skipped:     1 words")

	err = a.exec(t, "info", "--on-error", "retry", "in.evt2")
	assert.ErrorIs(t, err, errUsage)
}

func TestTranscode_RoundTrip(t *testing.T) {
	a := newTestApp(t)
	events := testutil.SensorEvents(7, 2000, 40, 300)
	a.mem.WriteFile("in.raw", evt2File(t, events, "% evt 2.0", "% geometry 640x480", "% format EVT2;height=480;width=640"))

	require.NoError(t, a.exec(t, "transcode", "-f", "evt2", "--to", "evt3", "-o", "out.raw", "--compress", "zstd", "in.raw"))
	assert.Contains(t, a.out.String(), "-> out.raw.zst (evt3)")

	require.NoError(t, a.exec(t, "transcode", "-f", "evt3", "-o", "back.dat", "out.raw.zst"))

	r, got := readBack(t, a, "back.dat", dvs.FormatDAT)
	assert.Equal(t, events, got)
	md := r.Header().Metadata()
	assert.Equal(t, 640, md.Width)
	assert.Equal(t, 480, md.Height)
	assert.Equal(t, dvs.FormatUnknown, md.Format)
}

func TestTranscode_Window(t *testing.T) {
	a := newTestApp(t)
	a.mem.WriteFile("in.evt2", evt2File(t, sample))

	require.NoError(t, a.exec(t, "transcode", "--from", "65", "-o", "out.evt2", "in.evt2"))
	_, got := readBack(t, a, "out.evt2", dvs.FormatEVT2)
	assert.Equal(t, sample[1:], got)

	require.NoError(t, a.exec(t, "transcode", "--until", "65", "-o", "out.evt2", "in.evt2"))
	_, got = readBack(t, a, "out.evt2", dvs.FormatEVT2)
	assert.Equal(t, sample[:1], got)
}

func TestTranscode_OutputRequired(t *testing.T) {
	a := newTestApp(t)
	a.mem.WriteFile("in.evt2", evt2File(t, sample))
	err := a.exec(t, "transcode", "in.evt2")
	assert.ErrorIs(t, err, errUsage)
}

func TestTranscode_RemovesPartialOutput(t *testing.T) {
	a := newTestApp(t)
	bad := make([]byte, evt2.WordSize)
	evt2.PutUint32(bad, 0xE0000000)
	a.mem.WriteFile("in.evt2", append(evt2File(t, sample), bad...))

	err := a.exec(t, "transcode", "--to", "evt3", "-o", "out.evt3", "in.evt2")
	assert.ErrorIs(t, err, dvs.ErrUnsupportedEventType)
	assert.NotContains(t, a.mem.Names(), "out.evt3")

	require.NoError(t, a.exec(t, "transcode", "--on-error", "skip", "--to", "evt3", "-o", "out.evt3", "in.evt2"))
	assert.Contains(t, a.mem.Names(), "out.evt3")
}

func TestLoss_RemovesPartialOutput(t *testing.T) {
	a := newTestApp(t)
	// 33-bit timestamps fit EVT2 but not DAT.
	a.mem.WriteFile("in.evt2", evt2File(t, []dvs.DVSEvent{{Timestamp: 1 << 33, X: 1}}))

	err := a.exec(t, "loss", "--to", "dat", "-o", "out.dat", "in.evt2")
	assert.ErrorIs(t, err, dvs.ErrEncodeRange)
	assert.NotContains(t, a.mem.Names(), "out.dat")
}

func burst(n int) []dvs.DVSEvent {
	events := make([]dvs.DVSEvent, n)
	for i := range events {
		events[i] = dvs.DVSEvent{Timestamp: uint64(i), X: uint16(i), Y: 1, Polarity: dvs.PolarityOn}
	}
	return events
}

func TestLoss(t *testing.T) {
	a := newTestApp(t)
	a.mem.WriteFile("in.evt2", evt2File(t, burst(10)))

	// 0.128 Mbit/s over 1ms at 32 bits per event is 4 events.
	require.NoError(t, a.exec(t, "loss", "--bandwidth", "0.128", "--chunk-ms", "1",
		"--to", "dat", "-o", "out.dat", "in.evt2"))
	out := a.out.String()
	assert.Contains(t, out, "budget:      4 events per 1ms chunk (tail)")
	assert.Contains(t, out, "events:      10 -> 4 (60.00% dropped)")

	_, got := readBack(t, a, "out.dat", dvs.FormatDAT)
	assert.Equal(t, burst(10)[:4], got)
}

func TestLoss_InvalidParams(t *testing.T) {
	a := newTestApp(t)
	a.mem.WriteFile("in.evt2", evt2File(t, sample))

	err := a.exec(t, "loss", "--bandwidth", "-1", "-o", "out.evt2", "in.evt2")
	assert.ErrorIs(t, err, errUsage)
	err = a.exec(t, "loss", "--strategy", "random", "-o", "out.evt2", "in.evt2")
	assert.ErrorIs(t, err, errUsage)
}

func TestLoss_ConfigDefaults(t *testing.T) {
	a := newTestApp(t)
	a.mem.WriteFile("in.raw", evt2File(t, burst(10)))

	cfgPath := filepath.Join(t.TempDir(), "dvs.yaml")
	cfg := "input_format: evt2\noutput_format: evt3\nchunk_ms: 1\nbandwidth_mbps: 0.16\nloss_strategy: uniform\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	require.NoError(t, a.exec(t, "loss", "--config", cfgPath, "-o", "out.raw", "in.raw"))
	assert.Contains(t, a.out.String(), "budget:      5 events per 1ms chunk (uniform)")

	_, got := readBack(t, a, "out.raw", dvs.FormatEVT3)
	assert.Len(t, got, 5)
}

func TestCatalog(t *testing.T) {
	a := newTestApp(t)
	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	a.mem.WriteFile("in.evt2", evt2File(t, burst(10), "% evt 2.0"))

	require.NoError(t, a.exec(t, "info", "--record", "--db", dbPath, "in.evt2"))
	_, id, ok := strings.Cut(a.out.String(), "recorded:    ")
	require.True(t, ok)
	id = strings.TrimSpace(id)

	require.NoError(t, a.exec(t, "loss", "--record", "--db", dbPath, "--bandwidth", "0.128",
		"--chunk-ms", "1", "-o", "out.evt2", "in.evt2"))

	require.NoError(t, a.exec(t, "catalog", "--db", dbPath))
	list := a.out.String()
	assert.Contains(t, list, id)
	assert.Equal(t, 3, strings.Count(list, "\n"), "header plus two recordings")

	require.NoError(t, a.exec(t, "catalog", "--db", dbPath, "runs", id))
	assert.NotContains(t, a.out.String(), "tail")

	require.NoError(t, a.exec(t, "catalog", "--db", dbPath, "rm", id))
	err := a.exec(t, "catalog", "--db", dbPath, "rm", id)
	assert.ErrorIs(t, err, db.ErrNotFound)

	err = a.exec(t, "catalog", "--db", dbPath, "prune")
	assert.ErrorIs(t, err, errUsage)
}

func TestLoss_RecordsRun(t *testing.T) {
	a := newTestApp(t)
	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	a.mem.WriteFile("in.evt2", evt2File(t, burst(10)))

	require.NoError(t, a.exec(t, "loss", "--record", "--db", dbPath, "--bandwidth", "0.128",
		"--chunk-ms", "1", "-o", "out.evt2", "in.evt2"))
	_, rest, ok := strings.Cut(a.out.String(), "recorded:    ")
	require.True(t, ok)
	id, _, _ := strings.Cut(rest, " ")

	require.NoError(t, a.exec(t, "catalog", "--db", dbPath, "runs", id))
	out := a.out.String()
	assert.Contains(t, out, "tail")
	assert.Contains(t, out, "out.evt2")
	assert.Contains(t, out, "1/1")
}

func TestMigrate(t *testing.T) {
	a := newTestApp(t)
	dbPath := filepath.Join(t.TempDir(), "catalog.db")

	require.NoError(t, a.exec(t, "migrate", "--db", dbPath, "version"))
	assert.Equal(t, "schema version 2\n", a.out.String())

	require.NoError(t, a.exec(t, "migrate", "--db", dbPath, "down"))
	assert.Equal(t, "schema version 1\n", a.out.String())

	require.NoError(t, a.exec(t, "migrate", "--db", dbPath, "up"))
	assert.Equal(t, "schema version 2\n", a.out.String())

	err := a.exec(t, "migrate", "--db", dbPath, "sideways")
	assert.ErrorIs(t, err, errUsage)
}
