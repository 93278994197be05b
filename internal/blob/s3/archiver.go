package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// TradeRecordSource is the read side the archiver needs from the journal.
type TradeRecordSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error)
}

// TradeRecordPruner is implemented by journals that can drop archived rows.
// The archiver prunes only after every month file is confirmed uploaded.
type TradeRecordPruner interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Archiver implements domain.Archiver: it exports trade records older than a
// cutoff to JSONL files, one per calendar month, at
// archive/trade_records/YYYY-MM.jsonl.
type Archiver struct {
	writer  domain.BlobWriter
	records TradeRecordSource
	audit   domain.AuditStore
	logger  *slog.Logger
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, records TradeRecordSource, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:  writer,
		records: records,
		audit:   audit,
		logger:  logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveCutoff returns the first instant of the UTC month containing
// now-retention. Archiving whole months means each month file is written
// once, complete, and never overwritten with a partial month.
func ArchiveCutoff(now time.Time, retention time.Duration) time.Time {
	t := now.Add(-retention).UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// ArchiveTradeRecords uploads every record before the cutoff and returns how
// many were archived.
func (a *Archiver) ArchiveTradeRecords(ctx context.Context, before time.Time) (int64, error) {
	recs, err := a.records.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trade records query: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	byMonth := make(map[string][]domain.TradeRecord)
	for _, r := range recs {
		month := r.Timestamp.UTC().Format("2006-01")
		byMonth[month] = append(byMonth[month], r)
	}
	months := make([]string, 0, len(byMonth))
	for m := range byMonth {
		months = append(months, m)
	}
	sort.Strings(months)

	paths := make([]string, 0, len(months))
	for _, m := range months {
		path := archivePath("trade_records", m)
		if err := a.upload(ctx, path, byMonth[m]); err != nil {
			return 0, err
		}
		paths = append(paths, path)
		a.logger.Info("archived trade records",
			slog.String("path", path),
			slog.Int("count", len(byMonth[m])),
		)
	}

	count := int64(len(recs))
	var pruned int64
	if p, ok := a.records.(TradeRecordPruner); ok {
		pruned, err = p.DeleteBefore(ctx, before)
		if err != nil {
			return count, fmt.Errorf("s3blob: prune archived trade records: %w", err)
		}
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.trade_records", map[string]any{
			"paths":  paths,
			"count":  count,
			"pruned": pruned,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive trade records audit log: %w", err)
		}
	}
	return count, nil
}

func (a *Archiver) upload(ctx context.Context, path string, recs []domain.TradeRecord) error {
	buf, err := marshalJSONL(recs)
	if err != nil {
		return fmt.Errorf("s3blob: archive %s marshal: %w", path, err)
	}

	if int64(len(buf)) >= minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive %s upload: %w", path, err)
	}

	ok, err := a.writer.Exists(ctx, path)
	if err != nil {
		return fmt.Errorf("s3blob: archive %s verify: %w", path, err)
	}
	if !ok {
		return fmt.Errorf("s3blob: archive %s verify: object missing after upload", path)
	}
	return nil
}

// archivePath builds the object key for one month of a record kind:
//
//	archive/trade_records/2026-01.jsonl
func archivePath(kind, month string) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, month)
}

// marshalJSONL serialises records as newline-delimited JSON.
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
