package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// Archiver implements domain.Archiver. Trade history is read from the trade
// store and written as JSONL; state snapshots are single JSON documents.
// Archived rows stay in the primary store.
type Archiver struct {
	writer  domain.BlobWriter
	trades  domain.TradeStore
	audit   domain.AuditStore
	backend domain.Backend
	now     func() time.Time
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, trades domain.TradeStore, audit domain.AuditStore, backend domain.Backend) *Archiver {
	return &Archiver{
		writer:  writer,
		trades:  trades,
		audit:   audit,
		backend: backend,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// snapshot is the document written by ArchiveSnapshot.
type snapshot struct {
	TakenAt   time.Time               `json:"taken_at"`
	Backend   domain.Backend          `json:"backend"`
	Positions []domain.Position       `json:"positions"`
	Risk      domain.RiskControlState `json:"risk"`
}

// ArchiveTrades uploads every trade closed at or after since to
// archive/trades/YYYY/MM/DD/<since>_<now>.jsonl and returns the count.
// Nothing is written when there are no trades.
func (a *Archiver) ArchiveTrades(ctx context.Context, since time.Time) (int64, error) {
	until := a.now()
	trades, err := a.trades.List(ctx, domain.ListOpts{Since: &since, Until: &until})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := tradesPath(since, until)
	if err := a.put(ctx, path, buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	count := int64(len(trades))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.trades", map[string]any{
			"path":  path,
			"count": count,
			"since": since.Format(time.RFC3339),
			"until": until.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive trades audit log: %w", err)
		}
	}
	return count, nil
}

// ArchiveSnapshot writes the open positions and risk state to a
// timestamped key and to snapshots/latest.json.
func (a *Archiver) ArchiveSnapshot(ctx context.Context, positions []domain.Position, risk domain.RiskControlState) error {
	if positions == nil {
		positions = []domain.Position{}
	}
	doc := snapshot{
		TakenAt:   a.now(),
		Backend:   a.backend,
		Positions: positions,
		Risk:      risk,
	}
	buf, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("s3blob: snapshot marshal: %w", err)
	}
	for _, path := range []string{snapshotPath(doc.TakenAt), "snapshots/latest.json"} {
		if err := a.put(ctx, path, buf, "application/json"); err != nil {
			return fmt.Errorf("s3blob: snapshot upload: %w", err)
		}
	}
	return nil
}

// put switches to a multipart upload once the payload reaches the minimum
// part size.
func (a *Archiver) put(ctx context.Context, path string, data []byte, contentType string) error {
	if int64(len(data)) >= minPartSize {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(data), minPartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(data), contentType)
}

// tradesPath partitions trade archives by the day of the window end.
//
//	archive/trades/2026/03/01/20260301T000000Z_20260301T010000Z.jsonl
func tradesPath(since, until time.Time) string {
	const stamp = "20060102T150405Z"
	return fmt.Sprintf("archive/trades/%s/%s_%s.jsonl",
		until.UTC().Format("2006/01/02"), since.UTC().Format(stamp), until.UTC().Format(stamp))
}

// snapshotPath is snapshots/YYYY/MM/DD/HHMMSS.json.
func snapshotPath(t time.Time) string {
	return "snapshots/" + t.UTC().Format("2006/01/02/150405") + ".json"
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*Archiver)(nil)
