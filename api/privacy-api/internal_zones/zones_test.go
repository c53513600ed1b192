package internal_zones

import (
	"context"
	"testing"
	"time"

	internal_entity "github.com/homemicai/internal/entity"
	"github.com/homemicai/pkg/commons"
	"github.com/homemicai/pkg/connectors"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	logger, err := commons.NewApplicationLogger(commons.Name("test-zones"), commons.Level("debug"))
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}
	db, err := connectors.NewSqliteConnector(":memory:", logger)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(internal_entity.All()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewService(logger, db)
}

func activeCount(t *testing.T, s *Service, nodeId string) int {
	t.Helper()
	var count int64
	if err := s.db.DB(context.Background()).Model(&internal_entity.PrivacyZone{}).
		Where("node_id = ? AND active = ?", nodeId, true).
		Count(&count).Error; err != nil {
		t.Fatal(err)
	}
	return int(count)
}

func TestMuteTwiceKeepsSingleActiveZone(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if _, err := s.Mute(ctx, "n1", "guests over", 0); err != nil {
		t.Fatalf("Mute: %v", err)
	}
	second, err := s.Mute(ctx, "n1", "phone call", 0)
	if err != nil {
		t.Fatalf("Mute: %v", err)
	}

	if got := activeCount(t, s, "n1"); got != 1 {
		t.Fatalf("expected exactly 1 active zone, got %d", got)
	}
	zone, err := s.Status(ctx, "n1")
	if err != nil {
		t.Fatal(err)
	}
	if zone == nil || zone.Id != second.Id {
		t.Errorf("the newest zone must be the active one")
	}
}

func TestUnmuteScopedToOneNode(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	s.Mute(ctx, "n1", "", 0)
	s.Mute(ctx, "n2", "", 0)

	closed, err := s.Unmute(ctx, "n1")
	if err != nil {
		t.Fatalf("Unmute: %v", err)
	}
	if closed != 1 {
		t.Errorf("expected 1 closed zone, got %d", closed)
	}
	if got := activeCount(t, s, "n1"); got != 0 {
		t.Errorf("n1 still has %d active zones", got)
	}
	if got := activeCount(t, s, "n2"); got != 1 {
		t.Errorf("n2 must stay muted, has %d active zones", got)
	}
}

func TestStatusLazyExpiry(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	start := time.Now()
	s.clock = func() time.Time { return start }
	if _, err := s.Mute(ctx, "n1", "dinner", 30*time.Minute); err != nil {
		t.Fatal(err)
	}

	// Before expiry the node is muted.
	zone, err := s.Status(ctx, "n1")
	if err != nil {
		t.Fatal(err)
	}
	if zone == nil {
		t.Fatal("expected node to be muted before expiry")
	}

	// After expiry the same read reports unmuted and persists it.
	s.clock = func() time.Time { return start.Add(31 * time.Minute) }
	zone, err = s.Status(ctx, "n1")
	if err != nil {
		t.Fatal(err)
	}
	if zone != nil {
		t.Fatal("expected expired zone to stop muting")
	}
	if got := activeCount(t, s, "n1"); got != 0 {
		t.Errorf("expired zone must be persisted inactive, %d still active", got)
	}
}

func TestIndefiniteMuteDoesNotExpire(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	start := time.Now()
	s.clock = func() time.Time { return start }
	s.Mute(ctx, "n1", "", 0)

	s.clock = func() time.Time { return start.Add(240 * time.Hour) }
	zone, err := s.Status(ctx, "n1")
	if err != nil {
		t.Fatal(err)
	}
	if zone == nil {
		t.Error("indefinite mute must stay active")
	}
}

func TestUnmuteAll(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	s.Mute(ctx, "n1", "", 0)
	s.Mute(ctx, "n2", "", 0)
	s.Mute(ctx, "n3", "", 0)

	closed, err := s.UnmuteAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if closed != 3 {
		t.Errorf("expected 3 closed zones, got %d", closed)
	}
	for _, id := range []string{"n1", "n2", "n3"} {
		if got := activeCount(t, s, id); got != 0 {
			t.Errorf("node %s still has %d active zones", id, got)
		}
	}
}

func TestListActiveOnly(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	s.Mute(ctx, "n1", "first", 0)
	s.Mute(ctx, "n1", "second", 0) // deactivates the first

	all, err := s.List(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	active, err := s.List(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || len(active) != 1 {
		t.Errorf("expected 2 total / 1 active, got %d / %d", len(all), len(active))
	}
}
