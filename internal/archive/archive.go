package archive

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/logs"

	"execution-core/internal/audit"
	"execution-core/internal/bus"
	"execution-core/internal/schema"
	"execution-core/pkg/conn"
	"execution-core/pkg/exception"
)

// AuditRecord is the database row for one audit entry.
type AuditRecord struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	Seq           uint64 `gorm:"uniqueIndex"`
	Kind          string `gorm:"index;size:64"`
	CorrelationID string `gorm:"index;size:64"`
	Timestamp     int64
	Payload       string `gorm:"type:jsonb"`
	CreatedAt     time.Time
}

// TableName keeps the table name stable across gorm naming strategies.
func (AuditRecord) TableName() string { return "audit_entries" }

// ReconSummaryRecord is the database row for one reconciliation run,
// denormalized from the RECON_SUMMARY audit entry for direct querying.
type ReconSummaryRecord struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	RunID       string `gorm:"uniqueIndex;size:64"`
	SessionID   string `gorm:"index;size:64"`
	Timestamp   int64
	TotalDiffs  int
	MaxSeverity string `gorm:"size:16"`
	HasFail     bool
	HasCritical bool
	Summary     string `gorm:"type:jsonb"`
	CreatedAt   time.Time
}

func (ReconSummaryRecord) TableName() string { return "recon_summaries" }

// Archiver drains the audit queue into PostgreSQL in batches. It is
// optional: a nil Archiver is safe to skip wiring entirely.
type Archiver struct {
	client    *conn.Client
	batchSize int
	interval  time.Duration
}

// NewArchiver creates an archiver on an open connection and migrates the
// schema.
func NewArchiver(client *conn.Client, batchSize int, interval time.Duration) (*Archiver, error) {
	if client == nil || client.DB() == nil {
		return nil, exception.ErrNilInstance
	}
	if batchSize <= 0 {
		batchSize = 256
	}
	if interval <= 0 {
		interval = time.Second
	}
	if err := client.DB().AutoMigrate(&AuditRecord{}, &ReconSummaryRecord{}); err != nil {
		return nil, err
	}
	return &Archiver{client: client, batchSize: batchSize, interval: interval}, nil
}

// Run consumes the queue until the context is done, flushing batches by
// size or interval.
func (a *Archiver) Run(ctx context.Context, queue *bus.Queue) {
	batch := make([]AuditRecord, 0, a.batchSize)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	defer a.flush(&batch)

	done := make(chan struct{})
	entries := make(chan audit.Entry, a.batchSize)
	go func() {
		defer close(done)
		queue.Run(ctx, func(entry audit.Entry) {
			select {
			case entries <- entry:
			case <-ctx.Done():
			}
		})
		close(entries)
	}()

	for {
		select {
		case <-ctx.Done():
			<-done
			a.drain(entries, &batch)
			return
		case <-ticker.C:
			a.flush(&batch)
		case entry, ok := <-entries:
			if !ok {
				return
			}
			batch = append(batch, toRecord(entry))
			a.recordSummary(entry)
			if len(batch) >= a.batchSize {
				a.flush(&batch)
			}
		}
	}
}

func (a *Archiver) drain(entries chan audit.Entry, batch *[]AuditRecord) {
	for entry := range entries {
		*batch = append(*batch, toRecord(entry))
		a.recordSummary(entry)
	}
	a.flush(batch)
}

// recordSummary denormalizes RECON_SUMMARY entries into their own table.
func (a *Archiver) recordSummary(entry audit.Entry) {
	if entry.Kind != audit.KindReconSummary {
		return
	}
	var summary schema.ReconSummary
	if err := sonic.ConfigStd.Unmarshal(entry.Payload, &summary); err != nil {
		logs.Errorf("decode recon summary seq %d, err: %+v", entry.Seq, err)
		return
	}
	record := ReconSummaryRecord{
		RunID:       summary.RunID,
		SessionID:   summary.SessionID,
		Timestamp:   summary.Timestamp,
		TotalDiffs:  summary.TotalDiffs,
		MaxSeverity: summary.MaxSeverity.String(),
		HasFail:     summary.HasFail,
		HasCritical: summary.HasCritical,
		Summary:     string(entry.Payload),
	}
	if err := a.client.DB().Create(&record).Error; err != nil {
		logs.Errorf("archive recon summary %s, err: %+v", summary.RunID, err)
	}
}

func (a *Archiver) flush(batch *[]AuditRecord) {
	if len(*batch) == 0 {
		return
	}
	if err := a.client.DB().CreateInBatches(*batch, a.batchSize).Error; err != nil {
		logs.Errorf("archive audit batch of %d, err: %+v", len(*batch), err)
	}
	*batch = (*batch)[:0]
}

func toRecord(entry audit.Entry) AuditRecord {
	return AuditRecord{
		Seq:           entry.Seq,
		Kind:          string(entry.Kind),
		CorrelationID: entry.CorrelationID,
		Timestamp:     entry.Timestamp,
		Payload:       string(entry.Payload),
	}
}
