package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeArchiver struct {
	before time.Time
	n      int64
	err    error
}

func (f *fakeArchiver) ArchiveSettledBefore(_ context.Context, before time.Time) (int64, error) {
	f.before = before
	return f.n, f.err
}

func TestArchiver_RunUsesRetention(t *testing.T) {
	now := time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC)
	fa := &fakeArchiver{n: 4}
	a := NewArchiver(fa, 30, testLogger())
	a.now = func() time.Time { return now }

	n, err := a.Run(context.Background())
	if err != nil || n != 4 {
		t.Fatalf("Run = %d, %v", n, err)
	}
	if want := now.AddDate(0, 0, -30); !fa.before.Equal(want) {
		t.Fatalf("cutoff = %s, want %s", fa.before, want)
	}

	fa.err = errors.New("s3 down")
	if _, err := a.Run(context.Background()); !errors.Is(err, fa.err) {
		t.Fatalf("err = %v", err)
	}
}

func TestSchedule_Next(t *testing.T) {
	base := time.Date(2025, 1, 1, 10, 7, 30, 0, time.UTC) // Wednesday
	tests := []struct {
		expr string
		want time.Time
	}{
		{"* * * * *", time.Date(2025, 1, 1, 10, 8, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2025, 1, 1, 10, 15, 0, 0, time.UTC)},
		{"0 3 * * *", time.Date(2025, 1, 2, 3, 0, 0, 0, time.UTC)},
		{"30 2-4 * * 1", time.Date(2025, 1, 6, 2, 30, 0, 0, time.UTC)},
		{"0 0 1 2,3 *", time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)},
		{"10-40/10 10 * * *", time.Date(2025, 1, 1, 10, 10, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			s, err := parseCron(tt.expr)
			if err != nil {
				t.Fatal(err)
			}
			got, err := s.next(base)
			if err != nil {
				t.Fatal(err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("next = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseCron_Invalid(t *testing.T) {
	for _, expr := range []string{
		"",
		"* * * *",
		"60 * * * *",
		"* 24 * * *",
		"*/0 * * * *",
		"5-1 * * * *",
		"a * * * *",
		"* * 0 * *",
	} {
		if err := ValidateCron(expr); err == nil {
			t.Errorf("ValidateCron(%q) accepted", expr)
		}
	}
	if _, err := (schedule{dom: cronField{31: true}, month: cronField{2: true}}).next(time.Now()); err == nil {
		t.Error("impossible schedule found a time")
	}
}

func TestOrchestrator(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{}, 2)
	o := NewOrchestrator(testLogger()).
		Add("a", func(ctx context.Context) error { started <- struct{}{}; <-ctx.Done(); return ctx.Err() }).
		Add("b", func(ctx context.Context) error { started <- struct{}{}; <-ctx.Done(); return ctx.Err() })

	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	<-started
	<-started
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("clean shutdown returned %v", err)
	}

	boom := errors.New("boom")
	o = NewOrchestrator(testLogger()).
		Add("ok", func(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }).
		Add("bad", func(context.Context) error { return boom })
	if err := o.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}
