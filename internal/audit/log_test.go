package audit

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"execution-core/internal/schema"
)

func TestLogAppendAssignsMonotonicSeq(t *testing.T) {
	l := NewLog()
	for i := 0; i < 5; i++ {
		entry, err := l.Append(KindStageIntake, "corr-1", map[string]int{"i": i})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if entry.Seq != uint64(i+1) {
			t.Fatalf("seq = %d, want %d", entry.Seq, i+1)
		}
	}
	if l.Len() != 5 || l.LastSeq() != 5 {
		t.Fatalf("len=%d lastSeq=%d", l.Len(), l.LastSeq())
	}
}

func TestLogPayloadFrozenAtAppend(t *testing.T) {
	l := NewLog()
	payload := map[string]string{"state": "CREATED"}
	if _, err := l.Append(KindStageIntake, "corr-1", payload); err != nil {
		t.Fatalf("Append: %v", err)
	}
	payload["state"] = "MUTATED"

	entries := l.Entries()
	if strings.Contains(string(entries[0].Payload), "MUTATED") {
		t.Fatal("payload mutated after append")
	}
}

func TestLogConcurrentAppendsStayOrdered(t *testing.T) {
	l := NewLog()
	var lastSeq uint64
	var orderMu sync.Mutex
	ordered := true
	l.AddSink(func(entry Entry) {
		orderMu.Lock()
		if entry.Seq != lastSeq+1 {
			ordered = false
		}
		lastSeq = entry.Seq
		orderMu.Unlock()
	})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if _, err := l.Append(KindStageValidate, "corr", nil); err != nil {
					t.Errorf("Append: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if !ordered {
		t.Fatal("sinks observed a sequence gap")
	}
	if l.LastSeq() != 400 {
		t.Fatalf("lastSeq = %d, want 400", l.LastSeq())
	}
}

func TestLogQueries(t *testing.T) {
	l := NewLog()
	mustAppend(t, l, KindStageIntake, "corr-a")
	mustAppend(t, l, KindStageValidate, "corr-a")
	mustAppend(t, l, KindStageIntake, "corr-b")

	if got := len(l.ByKind(KindStageIntake)); got != 2 {
		t.Fatalf("ByKind = %d, want 2", got)
	}
	byCorr := l.ByCorrelation("corr-a")
	if len(byCorr) != 2 {
		t.Fatalf("ByCorrelation = %d, want 2", len(byCorr))
	}
	if byCorr[0].Seq >= byCorr[1].Seq {
		t.Fatal("ByCorrelation not in append order")
	}
}

func TestAppendReconSummaryShape(t *testing.T) {
	l := NewLog()
	summary := schema.ReconSummary{
		RunID:      "run-1",
		TotalDiffs: 2,
		TopDiffs: []schema.ReconDiff{
			{DiffID: "POS-BTC-USD", Type: schema.DiffTypePosition, Severity: schema.SeverityFail},
			{DiffID: "CASH", Type: schema.DiffTypeCash, Severity: schema.SeverityWarn},
		},
	}
	if err := l.AppendReconSummary(summary); err != nil {
		t.Fatalf("AppendReconSummary: %v", err)
	}

	entries := l.Entries()
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if entries[0].Kind != KindReconSummary {
		t.Fatalf("first kind = %s, want RECON_SUMMARY", entries[0].Kind)
	}
	for _, entry := range entries[1:] {
		if entry.Kind != KindReconDiff {
			t.Fatalf("kind = %s, want RECON_DIFF", entry.Kind)
		}
		if entry.CorrelationID != "run-1" {
			t.Fatalf("diff correlation = %s, want run-1", entry.CorrelationID)
		}
	}
}

func TestExportJSONL(t *testing.T) {
	ts := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	l := NewLog().WithClock(func() time.Time { return ts })
	mustAppend(t, l, KindStageIntake, "corr-a")
	mustAppend(t, l, KindStageValidate, "corr-a")

	var buf bytes.Buffer
	if err := l.ExportJSONL(&buf); err != nil {
		t.Fatalf("ExportJSONL: %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if !strings.Contains(lines[0], `"seq":1`) || !strings.Contains(lines[1], `"seq":2`) {
		t.Fatalf("unexpected export:\n%s", buf.String())
	}
}

func mustAppend(t *testing.T, l *Log, kind Kind, corr string) {
	t.Helper()
	if _, err := l.Append(kind, corr, nil); err != nil {
		t.Fatalf("Append: %v", err)
	}
}
