package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/pulse-link-core/internal/infrastructure/database"
	_ "github.com/nerrad567/pulse-link-core/migrations"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return NewStore(db)
}

func TestRecordAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, strength := range []float64{0.2, 0.6, 0.9} {
		if err := s.Record(ctx, uint32(i+1), "vibrate", strength, "play"); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		time.Sleep(2 * time.Millisecond) // distinct timestamps
	}

	entries, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}

	// Most recent first.
	if entries[0].Strength != 0.9 || entries[2].Strength != 0.2 {
		t.Errorf("order = [%v %v %v], want newest first",
			entries[0].Strength, entries[1].Strength, entries[2].Strength)
	}
	if entries[0].ID == "" || entries[0].ID == entries[1].ID {
		t.Errorf("entries must carry unique ids")
	}
	if entries[0].CreatedAt.IsZero() {
		t.Errorf("created_at not populated")
	}
}

func TestRecentLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.Record(ctx, 1, "vibrate", 0.5, "audio_level"); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	entries, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("got %d entries, want 2", len(entries))
	}
}

func TestRecentForDevice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Record(ctx, 1, "vibrate", 0.3, "scene_change"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := s.Record(ctx, 2, "vibrate", 0.6, "scene_change"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	entries, err := s.RecentForDevice(ctx, 2, 10)
	if err != nil {
		t.Fatalf("RecentForDevice failed: %v", err)
	}
	if len(entries) != 1 || entries[0].DeviceID != 2 {
		t.Errorf("entries = %+v, want a single device-2 entry", entries)
	}
}

func TestCommandIssuedObserver(t *testing.T) {
	s := newTestStore(t)

	s.CommandIssued(7, 0.9, "scene_change")

	entries, err := s.Recent(context.Background(), 1)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.DeviceID != 7 || e.Command != "vibrate" || e.Strength != 0.9 || e.Source != "scene_change" {
		t.Errorf("entry = %+v, want recorded vibrate for device 7", e)
	}
}

func TestPrune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Plant one stale row directly; Record always stamps now.
	old := time.Now().UTC().Add(-48 * time.Hour).Format(timeFormat)
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO command_history (id, device_id, command, strength, source, created_at)
		VALUES ('stale', 1, 'vibrate', 0.5, 'play', ?)
	`, old); err != nil {
		t.Fatalf("planting stale row: %v", err)
	}
	if err := s.Record(ctx, 1, "vibrate", 0.5, "play"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	removed, err := s.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	entries, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("got %d entries after prune, want 1", len(entries))
	}
}
