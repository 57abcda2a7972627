package audit

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/bragi_flows/internal/events"
	"github.com/friendsincode/bragi_flows/internal/models"
)

func newTestService(t *testing.T) (*Service, *events.Bus) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.AuditLog{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	bus := events.NewBus()
	return NewService(db, bus, zerolog.Nop()), bus
}

func waitForEntries(t *testing.T, svc *Service, want int) []models.AuditLog {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		entries, total, err := svc.Query(context.Background(), QueryFilters{})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if int(total) >= want {
			return entries
		}
		if time.Now().After(deadline) {
			t.Fatalf("have %d entries, want %d", total, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunRecordsBusEvents(t *testing.T) {
	svc, bus := newTestService(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()

	// Give the subscriptions a moment to register.
	time.Sleep(20 * time.Millisecond)

	bus.Publish(events.EventFlowCreated, events.Payload{
		"flow_id": "f1",
		"name":    "Morning Show",
		"status":  "active",
	})
	bus.Publish(events.EventConflictFound, events.Payload{
		"flow_id":   "f1",
		"flow_name": "Morning Show",
		"conflicts": 2,
		"source":    "sweep",
	})

	entries := waitForEntries(t, svc, 2)

	byAction := make(map[models.AuditAction]models.AuditLog, len(entries))
	for _, entry := range entries {
		byAction[entry.Action] = entry
	}

	created, ok := byAction[models.AuditActionFlowCreate]
	if !ok {
		t.Fatalf("no flow.create entry in %+v", entries)
	}
	if created.FlowID != "f1" || created.FlowName != "Morning Show" {
		t.Fatalf("created entry=%+v", created)
	}
	if created.Details["status"] != "active" {
		t.Fatalf("details=%v, want status retained", created.Details)
	}

	conflict, ok := byAction[models.AuditActionConflictFound]
	if !ok {
		t.Fatalf("no schedule.conflict entry in %+v", entries)
	}
	if conflict.Details["source"] != "sweep" {
		t.Fatalf("conflict details=%v", conflict.Details)
	}
}

func TestRunIgnoresDispatchEmissions(t *testing.T) {
	svc, bus := newTestService(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)

	bus.Publish(events.EventActionDispatch, events.Payload{"flow_id": "f1"})
	bus.Publish(events.EventFlowDeleted, events.Payload{"flow_id": "f1"})

	entries := waitForEntries(t, svc, 1)
	for _, entry := range entries {
		if entry.Action != models.AuditActionFlowDelete {
			t.Fatalf("unexpected entry %+v", entry)
		}
	}
}

func TestQueryFilters(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	seed := []models.AuditLog{
		{Action: models.AuditActionFlowCreate, FlowID: "a", Timestamp: base},
		{Action: models.AuditActionFlowToggle, FlowID: "a", Timestamp: base.Add(time.Hour)},
		{Action: models.AuditActionFlowCreate, FlowID: "b", Timestamp: base.Add(2 * time.Hour)},
	}
	for i := range seed {
		if err := svc.Log(ctx, &seed[i]); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	entries, total, err := svc.Query(ctx, QueryFilters{FlowID: "a"})
	if err != nil {
		t.Fatalf("query by flow: %v", err)
	}
	if total != 2 || len(entries) != 2 {
		t.Fatalf("flow filter: total=%d len=%d", total, len(entries))
	}
	// Newest first.
	if entries[0].Action != models.AuditActionFlowToggle {
		t.Fatalf("order: first entry %+v", entries[0])
	}

	since := base.Add(90 * time.Minute)
	entries, total, err = svc.Query(ctx, QueryFilters{Since: &since})
	if err != nil {
		t.Fatalf("query by since: %v", err)
	}
	if total != 1 || entries[0].FlowID != "b" {
		t.Fatalf("since filter: total=%d entries=%+v", total, entries)
	}

	_, total, err = svc.Query(ctx, QueryFilters{Action: models.AuditActionFlowCreate})
	if err != nil {
		t.Fatalf("query by action: %v", err)
	}
	if total != 2 {
		t.Fatalf("action filter: total=%d, want 2", total)
	}

	entries, total, err = svc.Query(ctx, QueryFilters{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("paged query: %v", err)
	}
	if total != 3 || len(entries) != 1 {
		t.Fatalf("pagination: total=%d len=%d", total, len(entries))
	}
}
