package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/store/memstore"
)

type fakeBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	failOn  string
}

func newFakeBlob() *fakeBlob { return &fakeBlob{objects: make(map[string][]byte)} }

func (f *fakeBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if path == f.failOn {
		return errors.New("boom")
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[path] = b
	f.puts++
	return nil
}

func (f *fakeBlob) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return f.Put(ctx, path, data, jsonlContentType)
}

func (f *fakeBlob) Get(_ context.Context, path string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (f *fakeBlob) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.BlobInfo
	for p, b := range f.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	return out, nil
}

func (f *fakeBlob) Exists(_ context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[path]
	return ok, nil
}

func seedSettled(t *testing.T, j *memstore.Journal, ms *memstore.MarketStore, id string, settledAt time.Time) domain.Market {
	t.Helper()
	ctx := context.Background()
	m := domain.Market{ID: id, State: domain.MarketSettled, SettledAt: &settledAt, Version: 3}
	for seq, kind := range []domain.EventKind{
		domain.EventMarketCreated, domain.EventMarketLocked, domain.EventSettlementAuthorized,
	} {
		if err := j.Append(ctx, domain.LedgerEvent{MarketID: id, Seq: int64(seq + 1), Kind: kind}); err != nil {
			t.Fatal(err)
		}
	}
	if err := ms.Upsert(ctx, m); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestArchivePath(t *testing.T) {
	at := time.Date(2025, 3, 31, 23, 0, 0, 0, time.FixedZone("x", -3*3600))
	if got, want := ArchivePath("m1", at), "archive/ledger/2025-04/m1.jsonl"; got != want {
		t.Fatalf("ArchivePath = %q, want %q", got, want)
	}
}

func TestArchiveMarket(t *testing.T) {
	ctx := context.Background()
	j, ms, audit := memstore.NewJournal(), memstore.NewMarketStore(), memstore.NewAuditStore()
	blob := newFakeBlob()
	a := NewArchiver(j, ms, blob, blob, audit, slog.New(slog.DiscardHandler))

	m := seedSettled(t, j, ms, "m1", time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC))
	path, err := a.ArchiveMarket(ctx, m)
	if err != nil {
		t.Fatalf("ArchiveMarket: %v", err)
	}
	if path != "archive/ledger/2025-01/m1.jsonl" {
		t.Fatalf("path = %q", path)
	}

	sc := bufio.NewScanner(bytes.NewReader(blob.objects[path]))
	var seqs []int64
	for sc.Scan() {
		var ev domain.LedgerEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("line %d: %v", len(seqs)+1, err)
		}
		seqs = append(seqs, ev.Seq)
	}
	if len(seqs) != 3 || seqs[0] != 1 || seqs[2] != 3 {
		t.Fatalf("archived seqs = %v", seqs)
	}

	// A second run finds the object and uploads nothing.
	if _, err := a.ArchiveMarket(ctx, m); err != nil {
		t.Fatal(err)
	}
	if blob.puts != 1 {
		t.Fatalf("puts = %d, want 1", blob.puts)
	}

	entries, _ := audit.List(ctx, domain.AuditFilter{})
	if len(entries) != 1 || entries[0].Event != "archive.market" {
		t.Fatalf("audit entries = %+v", entries)
	}
}

func TestArchiveMarket_RejectsUnsettled(t *testing.T) {
	blob := newFakeBlob()
	a := NewArchiver(memstore.NewJournal(), memstore.NewMarketStore(), blob, blob, memstore.NewAuditStore(), slog.New(slog.DiscardHandler))

	_, err := a.ArchiveMarket(context.Background(), domain.Market{ID: "m1", State: domain.MarketLocked})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}

func TestArchiveSettledBefore(t *testing.T) {
	ctx := context.Background()
	j, ms := memstore.NewJournal(), memstore.NewMarketStore()
	blob := newFakeBlob()
	a := NewArchiver(j, ms, blob, blob, memstore.NewAuditStore(), slog.New(slog.DiscardHandler))

	jan := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	seedSettled(t, j, ms, "old1", jan)
	seedSettled(t, j, ms, "old2", jan.Add(time.Hour))
	seedSettled(t, j, ms, "fresh", jan.AddDate(0, 3, 0))
	blob.failOn = ArchivePath("old2", jan.Add(time.Hour))

	n, err := a.ArchiveSettledBefore(ctx, jan.AddDate(0, 1, 0))
	if err == nil {
		t.Fatal("expected the failed upload to be reported")
	}
	if n != 1 {
		t.Fatalf("archived = %d, want 1", n)
	}
	if ok, _ := blob.Exists(ctx, ArchivePath("fresh", jan.AddDate(0, 3, 0))); ok {
		t.Fatal("market settled after the cutoff was archived")
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		in   string
		ssl  bool
		want string
	}{
		{"https://s3.example.com", false, "https://s3.example.com"},
		{"minio:9000", false, "http://minio:9000"},
		{"localhost:9000", true, "https://localhost:9000"},
	}
	for _, tt := range tests {
		if got := normaliseEndpoint(tt.in, tt.ssl); got != tt.want {
			t.Errorf("normaliseEndpoint(%q, %v) = %q, want %q", tt.in, tt.ssl, got, tt.want)
		}
	}
}
