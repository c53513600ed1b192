package internal_registry

import (
	"context"
	"testing"
	"time"

	internal_entity "github.com/homemicai/internal/entity"
	"github.com/homemicai/pkg/commons"
	"github.com/homemicai/pkg/connectors"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	logger, err := commons.NewApplicationLogger(commons.Name("test-registry"), commons.Level("debug"))
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
	return NewRegistry(logger, db)
}

func TestCreateAndGet(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	node, err := r.Create(ctx, "Living Room", "Downstairs")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if node.Id == "" {
		t.Fatal("expected generated id")
	}

	got, err := r.Get(ctx, node.Id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Living Room" || got.Location != "Downstairs" {
		t.Errorf("unexpected node %+v", got)
	}
	if got.Status != internal_entity.NodeStatusOnline {
		t.Errorf("fresh node should derive online, got %s", got.Status)
	}
}

func TestGetUnknownNode(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Get(context.Background(), "nope"); err != ErrNodeNotFound {
		t.Errorf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestTouchMovesLastSeenForward(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	node, err := r.Create(ctx, "Kitchen", "Kitchen")
	if err != nil {
		t.Fatal(err)
	}
	before := node.LastSeen

	r.clock = func() time.Time { return before.Add(30 * time.Second) }
	if err := r.Touch(ctx, node.Id, 12.5, "10.0.0.42"); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	got, err := r.Get(ctx, node.Id)
	if err != nil {
		t.Fatal(err)
	}
	if !got.LastSeen.After(before) {
		t.Errorf("last_seen did not advance: %v -> %v", before, got.LastSeen)
	}
	if got.Latency != 12.5 {
		t.Errorf("expected latency 12.5, got %v", got.Latency)
	}
	if got.IpAddress != "10.0.0.42" {
		t.Errorf("expected address recorded, got %q", got.IpAddress)
	}
}

func TestTouchUnknownNode(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Touch(context.Background(), "nope", 0, ""); err != ErrNodeNotFound {
		t.Errorf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestStatusDerivesOfflineAfterThreshold(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	node, err := r.Create(ctx, "Office", "Upstairs")
	if err != nil {
		t.Fatal(err)
	}

	r.clock = func() time.Time { return node.LastSeen.Add(internal_entity.LivenessThreshold + time.Second) }
	got, err := r.Get(ctx, node.Id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != internal_entity.NodeStatusOffline {
		t.Errorf("expected offline after threshold, got %s", got.Status)
	}
}

func TestDeriveHealthAggregation(t *testing.T) {
	tests := []struct {
		name     string
		nodes    int
		stale    int
		expected string
	}{
		{"zero nodes is degraded", 0, 0, HealthDegraded},
		{"all fresh is healthy", 3, 0, HealthHealthy},
		{"one stale is degraded", 3, 1, HealthDegraded},
		{"all stale is offline", 3, 3, HealthOffline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry(t)
			ctx := context.Background()

			base := time.Now()
			for i := 0; i < tt.nodes; i++ {
				node, err := r.Create(ctx, "node", "room")
				if err != nil {
					t.Fatal(err)
				}
				if i < tt.stale {
					stale := base.Add(-internal_entity.LivenessThreshold - time.Minute).UTC()
					if err := r.db.DB(ctx).Model(node).Update("last_seen", stale).Error; err != nil {
						t.Fatal(err)
					}
				}
			}

			r.clock = func() time.Time { return base }
			health, err := r.DeriveHealth(ctx)
			if err != nil {
				t.Fatalf("DeriveHealth: %v", err)
			}
			if health.Overall != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, health.Overall)
			}
			if len(health.Nodes) != tt.nodes {
				t.Errorf("expected %d node entries, got %d", tt.nodes, len(health.Nodes))
			}
		})
	}
}

func TestUpdateDoesNotTouchLiveness(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	node, err := r.Create(ctx, "Hall", "Hall")
	if err != nil {
		t.Fatal(err)
	}
	before := node.LastSeen

	name := "Hallway"
	filtering := false
	updated, err := r.Update(ctx, node.Id, NodeUpdate{Name: &name, AudioFiltering: &filtering})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Name != "Hallway" || updated.AudioFiltering {
		t.Errorf("update not applied: %+v", updated)
	}

	got, err := r.Get(ctx, node.Id)
	if err != nil {
		t.Fatal(err)
	}
	if !got.LastSeen.Equal(before) {
		t.Errorf("update must not move last_seen: %v -> %v", before, got.LastSeen)
	}
}

func TestDelete(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	node, err := r.Create(ctx, "Garage", "Garage")
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Delete(ctx, node.Id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := r.Get(ctx, node.Id); err != ErrNodeNotFound {
		t.Errorf("expected ErrNodeNotFound after delete, got %v", err)
	}
	if err := r.Delete(ctx, node.Id); err != ErrNodeNotFound {
		t.Errorf("expected ErrNodeNotFound for double delete, got %v", err)
	}
}
