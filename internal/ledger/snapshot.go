package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"execution-core/internal/schema"
)

// Snapshot captures cash and positions at a point in time. LastSeq is the
// audit log sequence observed when the snapshot was taken, so a replay can
// tell where the snapshot ends and the tail begins.
type Snapshot struct {
	Timestamp int64           `json:"timestamp"`
	LastSeq   uint64          `json:"lastSeq"`
	Cash      schema.Notional `json:"cash"`
	Positions []PositionEntry `json:"positions"`
}

// PositionEntry is a single symbol position entry.
type PositionEntry struct {
	SymbolID schema.SymbolID `json:"symbolId"`
	Qty      schema.Quantity `json:"qty"`
}

// Snapshot builds a consistent point-in-time snapshot under the ledger
// mutex. Entries are sorted by symbol id so identical state always renders
// identically.
func (l *PositionLedger) Snapshot(lastSeq uint64) Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := make([]PositionEntry, 0, len(l.positions))
	for symbolID, qty := range l.positions {
		entries = append(entries, PositionEntry{SymbolID: symbolID, Qty: qty})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].SymbolID < entries[j].SymbolID
	})
	return Snapshot{
		Timestamp: time.Now().UTC().UnixNano(),
		LastSeq:   lastSeq,
		Cash:      l.cash,
		Positions: entries,
	}
}

// ApplySnapshot replaces cash and positions with the snapshot contents.
func (l *PositionLedger) ApplySnapshot(snapshot Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cash = snapshot.Cash
	for key := range l.positions {
		delete(l.positions, key)
	}
	for _, entry := range snapshot.Positions {
		l.positions[entry.SymbolID] = entry.Qty
	}
}

// WriteSnapshot writes a snapshot to disk as JSON.
func WriteSnapshot(path string, snapshot Snapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadSnapshot loads a snapshot from disk.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// CompareSnapshots checks if two snapshots hold the same cash and
// positions.
func CompareSnapshots(expected, actual Snapshot) error {
	if expected.Cash != actual.Cash {
		return fmt.Errorf("snapshot cash mismatch: expected=%d actual=%d", expected.Cash, actual.Cash)
	}
	if len(expected.Positions) != len(actual.Positions) {
		return fmt.Errorf("snapshot length mismatch: expected=%d actual=%d", len(expected.Positions), len(actual.Positions))
	}
	expectedMap := make(map[schema.SymbolID]schema.Quantity, len(expected.Positions))
	for _, entry := range expected.Positions {
		expectedMap[entry.SymbolID] = entry.Qty
	}
	for _, entry := range actual.Positions {
		want, ok := expectedMap[entry.SymbolID]
		if !ok {
			return fmt.Errorf("snapshot missing symbol: %d", entry.SymbolID)
		}
		if want != entry.Qty {
			return fmt.Errorf("snapshot qty mismatch: symbol=%d expected=%d actual=%d", entry.SymbolID, want, entry.Qty)
		}
	}
	return nil
}
