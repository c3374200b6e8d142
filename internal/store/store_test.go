package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"futures-bot/internal/core"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := New(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s, dir
}

func TestAppendOrderWritesDailyFile(t *testing.T) {
	s, dir := newTestStore(t)
	at := time.Date(2024, 3, 9, 23, 59, 0, 0, time.UTC)
	entry := JournalEntry{
		Time:   at,
		Mode:   "testnet",
		Action: ActionPlaced,
		Order: core.Order{
			ID:     "42",
			Symbol: "BTCUSDT",
			Side:   core.Buy,
			Type:   core.Limit,
			Qty:    decimal.RequireFromString("0.002"),
			Price:  decimal.RequireFromString("60000"),
		},
	}
	if err := s.AppendOrder(entry); err != nil {
		t.Fatalf("AppendOrder() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "orders", "2024-03-09.jsonl")); err != nil {
		t.Fatalf("journal file missing: %v", err)
	}

	got, err := s.Recent(5)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Recent() len = %d, want 1", len(got))
	}
	if got[0].Order.ID != "42" || !got[0].Order.Price.Equal(decimal.NewFromInt(60000)) {
		t.Fatalf("Recent()[0] = %+v", got[0])
	}
	if !got[0].Time.Equal(at) {
		t.Fatalf("Recent()[0].Time = %s, want %s", got[0].Time, at)
	}
}

func TestRecentNewestFirstAcrossDays(t *testing.T) {
	s, dir := newTestStore(t)
	day1 := time.Date(2024, 3, 8, 10, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)
	for i, at := range []time.Time{day1, day1.Add(time.Minute), day2, day2.Add(time.Minute)} {
		entry := JournalEntry{Time: at, Action: ActionPlaced, Order: core.Order{ID: string(rune('a' + i))}}
		if err := s.AppendOrder(entry); err != nil {
			t.Fatalf("AppendOrder() error = %v", err)
		}
	}
	// A corrupt line must not hide the rest of the day.
	f, err := os.OpenFile(filepath.Join(dir, "orders", "2024-03-08.jsonl"), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	_, _ = f.WriteString("{broken\n")
	_ = f.Close()

	got, err := s.Recent(3)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	want := []string{"d", "c", "b"}
	if len(got) != len(want) {
		t.Fatalf("Recent() len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Order.ID != want[i] {
			t.Fatalf("Recent()[%d].Order.ID = %q, want %q", i, got[i].Order.ID, want[i])
		}
	}
}

func TestRecentEmpty(t *testing.T) {
	s, _ := newTestStore(t)
	got, err := s.Recent(10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Recent() len = %d, want 0", len(got))
	}
	if got, _ := s.Recent(0); got != nil {
		t.Fatalf("Recent(0) = %v, want nil", got)
	}
}

func TestSessionStatusRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)

	started := time.Now().UTC().Add(-time.Minute)
	in := SessionStatus{
		Mode:         "testnet",
		PID:          1234,
		StartedAt:    started,
		RulesLoaded:  true,
		SymbolCount:  300,
		OrdersPlaced: 2,
		LastError:    " margin is insufficient ",
	}
	if err := s.SaveSessionStatus(in); err != nil {
		t.Fatalf("SaveSessionStatus() error = %v", err)
	}

	out, ok, err := s.LoadSessionStatus()
	if err != nil {
		t.Fatalf("LoadSessionStatus() error = %v", err)
	}
	if !ok {
		t.Fatalf("LoadSessionStatus() ok = false, want true")
	}
	if out.Mode != in.Mode || out.PID != in.PID || out.SymbolCount != in.SymbolCount || out.OrdersPlaced != 2 {
		t.Fatalf("LoadSessionStatus() mismatch: got %+v want %+v", out, in)
	}
	if out.LastError != "margin is insufficient" {
		t.Fatalf("LastError = %q", out.LastError)
	}
	if out.UpdatedAt.IsZero() {
		t.Fatalf("updated_at should be set")
	}
}

func TestLoadSessionStatusNotExist(t *testing.T) {
	s, _ := newTestStore(t)
	_, ok, err := s.LoadSessionStatus()
	if err != nil {
		t.Fatalf("LoadSessionStatus() error = %v", err)
	}
	if ok {
		t.Fatalf("LoadSessionStatus() ok = true, want false")
	}
}
