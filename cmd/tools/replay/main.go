package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/bytedance/sonic"

	"execution-core/internal/audit"
	"execution-core/internal/ledger"
	"execution-core/internal/ops"
	"execution-core/internal/recorder"
	"execution-core/internal/schema"
)

// eventPayload mirrors the STAGE_EXECUTION_EVENT audit payload fields the
// replay needs.
type eventPayload struct {
	ClientOrderID string        `json:"clientOrderId"`
	EventKind     string        `json:"eventKind"`
	Fills         []schema.Fill `json:"fills"`
}

func main() {
	dir := flag.String("dir", "data/audit", "Audit WAL directory")
	prefix := flag.String("prefix", "", "WAL file prefix (default: audit)")
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	noChecksum := flag.Bool("no-checksum", false, "Disable checksum validation")
	maxPayload := flag.Int("max-payload", 0, "Max payload size in bytes (0=unlimited)")
	snapshotPath := flag.String("snapshot", "", "Snapshot to verify against (default: <dir>/positions.json)")
	verify := flag.Bool("verify", true, "Verify rebuilt positions against the snapshot")
	verbose := flag.Bool("print", false, "Print every audit entry")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	pb, err := recorder.NewPlayback(recorder.PlaybackConfig{
		Dir:             *dir,
		FilePrefix:      *prefix,
		DisableChecksum: *noChecksum,
		MaxPayloadSize:  *maxPayload,
	})
	if err != nil {
		log.Fatalf("playback init failed: %v", err)
	}

	positions := ledger.NewPositionLedger(loaded.Registry, loaded.InitialCash)
	counts := make(map[audit.Kind]int)
	var total int
	var lastSeq uint64

	err = pb.Run(context.Background(), func(entry audit.Entry) error {
		total++
		counts[entry.Kind]++
		lastSeq = entry.Seq
		if *verbose {
			fmt.Printf("%06d seq=%d kind=%s corr=%s len=%d\n",
				total, entry.Seq, entry.Kind, entry.CorrelationID, len(entry.Payload))
		}
		if entry.Kind != audit.KindStageEvent {
			return nil
		}
		var payload eventPayload
		if err := sonic.ConfigStd.Unmarshal(entry.Payload, &payload); err != nil {
			return fmt.Errorf("decode event payload seq %d: %w", entry.Seq, err)
		}
		for _, fill := range payload.Fills {
			if err := positions.ApplyFill(fill); err != nil {
				return fmt.Errorf("apply fill %s seq %d: %w", fill.FillID, entry.Seq, err)
			}
		}
		return nil
	})
	if err != nil {
		log.Fatalf("playback run failed: %v", err)
	}

	actual := positions.Snapshot(lastSeq)
	if *verify {
		path := *snapshotPath
		if path == "" {
			path = *dir + "/positions.json"
		}
		expected, err := ledger.ReadSnapshot(path)
		if err != nil {
			log.Fatalf("read snapshot failed: %v", err)
		}
		if err := ledger.CompareSnapshots(expected, actual); err != nil {
			log.Fatalf("snapshot mismatch: %v", err)
		}
		fmt.Printf("snapshot verified: positions=%d cash=%d\n", len(actual.Positions), actual.Cash)
	}
	fmt.Printf("replay completed: entries=%d counts=%v positions=%d cash=%d\n",
		total, counts, positions.Count(), actual.Cash)
}
