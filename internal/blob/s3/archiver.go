package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"

	// multipartThreshold is the journal size above which uploads switch to
	// the multipart manager.
	multipartThreshold = 16 * 1024 * 1024
)

// JournalArchiver implements domain.Archiver. It copies the full journal of
// each settled market to one JSONL object and records the upload in the
// audit log. Archived rows stay in the primary store; pruning them is a
// separate operator step.
type JournalArchiver struct {
	journal domain.Journal
	markets domain.MarketStore
	reader  domain.BlobReader
	writer  domain.BlobWriter
	audit   domain.AuditStore
	logger  *slog.Logger
}

// NewArchiver creates a JournalArchiver.
func NewArchiver(
	journal domain.Journal,
	markets domain.MarketStore,
	reader domain.BlobReader,
	writer domain.BlobWriter,
	audit domain.AuditStore,
	logger *slog.Logger,
) *JournalArchiver {
	return &JournalArchiver{
		journal: journal,
		markets: markets,
		reader:  reader,
		writer:  writer,
		audit:   audit,
		logger:  logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveMarket uploads the journal of a settled market and returns its
// object path. An object that already exists is left untouched.
func (a *JournalArchiver) ArchiveMarket(ctx context.Context, m domain.Market) (string, error) {
	if m.State != domain.MarketSettled || m.SettledAt == nil {
		return "", fmt.Errorf("s3blob: archive market %s in state %s: %w", m.ID, m.State, domain.ErrInvalidState)
	}
	path := ArchivePath(m.ID, *m.SettledAt)

	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return "", err
	}
	if exists {
		return path, nil
	}

	events, err := a.journal.Load(ctx, m.ID)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive market %s: %w", m.ID, err)
	}
	buf, err := marshalJSONL(events)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive market %s marshal: %w", m.ID, err)
	}

	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive market %s upload: %w", m.ID, err)
	}

	if err := a.audit.Log(ctx, "archive.market", map[string]any{
		"market_id": m.ID,
		"path":      path,
		"events":    len(events),
		"bytes":     len(buf),
	}); err != nil {
		return path, fmt.Errorf("s3blob: archive market %s audit log: %w", m.ID, err)
	}
	return path, nil
}

// ArchiveSettledBefore archives every market settled before the cutoff and
// returns how many were uploaded or already present. It keeps going past
// individual failures and reports the first one.
func (a *JournalArchiver) ArchiveSettledBefore(ctx context.Context, before time.Time) (int64, error) {
	markets, err := a.markets.ListSettledBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list settled markets: %w", err)
	}

	var (
		count    int64
		firstErr error
	)
	for _, m := range markets {
		if ctx.Err() != nil {
			return count, ctx.Err()
		}
		path, err := a.ArchiveMarket(ctx, m)
		if err != nil {
			a.logger.WarnContext(ctx, "archive market failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		a.logger.DebugContext(ctx, "market archived",
			slog.String("market_id", m.ID),
			slog.String("path", path),
		)
		count++
	}
	return count, firstErr
}

// ArchivePath partitions archives by settlement month:
//
//	archive/ledger/2025-01/{market_id}.jsonl
func ArchivePath(marketID string, settledAt time.Time) string {
	return fmt.Sprintf("archive/ledger/%s/%s.jsonl", settledAt.UTC().Format("2006-01"), marketID)
}

// marshalJSONL encodes records as newline-delimited JSON.
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
var _ domain.Archiver = (*JournalArchiver)(nil)
