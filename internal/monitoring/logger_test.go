package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})
	Logf("decoded %d events", 3)
	if len(got) != 1 || got[0] != "decoded 3 events" {
		t.Fatalf("custom logger got %q", got)
	}

	SetLogger(nil)
	Logf("dropped")
	if len(got) != 1 {
		t.Errorf("no-op logger should not reach previous logger, got %q", got)
	}
}

func TestDebugf(t *testing.T) {
	original := Logf
	defer func() {
		Logf = original
		SetVerbose(false)
	}()

	calls := 0
	SetLogger(func(string, ...interface{}) { calls++ })

	Debugf("hidden")
	if calls != 0 {
		t.Errorf("Debugf logged while quiet")
	}
	SetVerbose(true)
	Debugf("shown")
	if calls != 1 {
		t.Errorf("Debugf calls = %d, want 1", calls)
	}
}
