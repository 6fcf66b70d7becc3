package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func bufferLogger(t *testing.T, level Level) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l, err := NewLogger(&Config{Level: level, Format: JSONFormat, Output: WriterOutput, Writer: &buf, DisableTimestamp: true})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	return l, &buf
}

func lines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "default", config: *DefaultConfig()},
		{name: "server", config: *ServerConfig()},
		{name: "bad level", config: Config{Level: "loud", Format: TextFormat, Output: StdoutOutput}, wantErr: true},
		{name: "bad format", config: Config{Level: InfoLevel, Format: "xml", Output: StdoutOutput}, wantErr: true},
		{name: "file without path", config: Config{Level: InfoLevel, Format: TextFormat, Output: FileOutput}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.config.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLogger_FieldsSurviveChaining(t *testing.T) {
	l, buf := bufferLogger(t, InfoLevel)
	l.WithComponent("lifecycle").WithField("record_id", "TR-2024-003").Info("applied")
	l.Debug("hidden")

	got := lines(t, buf)
	if len(got) != 1 {
		t.Fatalf("got %d lines, want 1", len(got))
	}
	if got[0]["component"] != "lifecycle" || got[0]["record_id"] != "TR-2024-003" || got[0]["msg"] != "applied" {
		t.Errorf("entry = %v", got[0])
	}
}

func TestProgressTracker_Observer(t *testing.T) {
	var seen []ProgressStats
	tracker := NewProgressTracker(ProgressConfig{
		Operation: "parse",
		Total:     4,
		Logger:    Discard(),
		Observer:  func(s ProgressStats) { seen = append(seen, s) },
	})

	tracker.Increment()
	tracker.Add(2)
	tracker.Update(4)
	tracker.Complete()

	if len(seen) != 3 {
		t.Fatalf("observer called %d times, want 3", len(seen))
	}
	want := []int64{1, 3, 4}
	for i, s := range seen {
		if s.Current != want[i] {
			t.Errorf("update %d current = %d, want %d", i, s.Current, want[i])
		}
	}
	if stats := tracker.GetStats(); stats.Percentage != 100 {
		t.Errorf("percentage = %v, want 100", stats.Percentage)
	}
}

func TestProgressStats_String(t *testing.T) {
	withTotal := ProgressStats{Operation: "parse", Total: 10, Current: 5, Percentage: 50}
	if !strings.Contains(withTotal.String(), "5/10 (50.0%)") {
		t.Errorf("String() = %q", withTotal.String())
	}
	open := ProgressStats{Operation: "stream", Current: 7}
	if !strings.Contains(open.String(), "7 processed") {
		t.Errorf("String() = %q", open.String())
	}
}

func TestTimedOperation(t *testing.T) {
	l, buf := bufferLogger(t, InfoLevel)

	if err := TimedOperation("daily_summary", l, func() error { return nil }); err != nil {
		t.Fatalf("TimedOperation() error = %v", err)
	}
	wantErr := fmt.Errorf("ledger down")
	if err := TimedOperation("daily_summary", l, func() error { return wantErr }); err != wantErr {
		t.Fatalf("TimedOperation() error = %v, want %v", err, wantErr)
	}

	got := lines(t, buf)
	if len(got) != 2 {
		t.Fatalf("got %d lines, want 2", len(got))
	}
	if got[0]["status"] != "success" || got[0]["operation"] != "daily_summary" {
		t.Errorf("success entry = %v", got[0])
	}
	if got[1]["status"] != "error" || got[1]["error"] != "ledger down" {
		t.Errorf("error entry = %v", got[1])
	}
}

func TestOperationLogger_StepKeepsSharedFields(t *testing.T) {
	l, buf := bufferLogger(t, InfoLevel)
	op := NewOperationLogger("statement_ingest", l).WithField("job_id", "job-1")
	op.Step("parsing")
	op.Warning("2 invalid rows skipped")

	got := lines(t, buf)
	if len(got) != 2 {
		t.Fatalf("got %d lines, want 2", len(got))
	}
	for _, entry := range got {
		if entry["job_id"] != "job-1" || entry["operation"] != "statement_ingest" {
			t.Errorf("entry = %v", entry)
		}
	}
	if got[0]["step"] != "parsing" {
		t.Errorf("step = %v", got[0]["step"])
	}
	if _, leaked := got[1]["step"]; leaked {
		t.Error("step field leaked into later entries")
	}
}
