package flows

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_flows/internal/conflict"
	"github.com/friendsincode/bragi_flows/internal/events"
	"github.com/friendsincode/bragi_flows/internal/models"
	"github.com/friendsincode/bragi_flows/internal/store"
)

func newSweepService(t *testing.T) (*Service, store.Store, *events.Bus) {
	t.Helper()
	st := store.NewGormStore(openFlowsTestDB(t))
	bus := events.NewBus()
	return New(st, conflict.NewDetector(zerolog.Nop()), bus, 0, zerolog.Nop()), st, bus
}

func TestSweepReportsConflictsWithoutMutating(t *testing.T) {
	svc, st, bus := newSweepService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, morningDraft("Morning Show")); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Force a colliding flow past admission, then activate it behind the
	// service's back. The sweep is what catches this drift.
	competing := morningDraft("Competing Show")
	competing.Force = true
	forced, err := svc.Create(ctx, competing)
	if err != nil {
		t.Fatalf("force create: %v", err)
	}
	forced.Status = models.FlowActive
	if err := st.SaveFlow(ctx, forced); err != nil {
		t.Fatalf("activate forced flow: %v", err)
	}

	clear := morningDraft("Midday Show")
	clear.Schedule.StartTime = "10:00"
	clear.Schedule.EndTime = "12:00"
	if _, err := svc.Create(ctx, clear); err != nil {
		t.Fatalf("create clear flow: %v", err)
	}

	conflictEvents := bus.Subscribe(events.EventConflictFound)
	completeEvents := bus.Subscribe(events.EventSweepComplete)

	result, err := svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Checked != 3 {
		t.Fatalf("checked=%d, want 3", result.Checked)
	}
	if result.Conflicted != 2 {
		t.Fatalf("conflicted=%d, want 2", result.Conflicted)
	}
	if result.Malformed != 0 {
		t.Fatalf("malformed=%d, want 0", result.Malformed)
	}

	if got := len(conflictEvents); got != 2 {
		t.Fatalf("have %d conflict events, want 2", got)
	}
	payload := <-conflictEvents
	if payload["source"] != "sweep" {
		t.Fatalf("conflict event source=%v, want sweep", payload["source"])
	}

	select {
	case payload := <-completeEvents:
		if payload["conflicted"] != 2 {
			t.Fatalf("sweep event conflicted=%v, want 2", payload["conflicted"])
		}
	default:
		t.Fatal("no sweep-complete event published")
	}

	// The sweep only reports; the drifted flow stays active.
	after, err := st.GetFlow(ctx, forced.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if after.Status != models.FlowActive {
		t.Fatalf("status=%s after sweep, want active", after.Status)
	}
}

func TestSweepCountsMalformedSchedules(t *testing.T) {
	svc, st, _ := newSweepService(t)
	ctx := context.Background()

	broken := &models.Flow{
		ID:          "broken",
		Name:        "Broken Clock",
		TriggerType: models.TriggerScheduled,
		Status:      models.FlowActive,
		Actions:     morningDraft("x").Actions,
		Schedule: &models.Schedule{
			Recurrence: models.RecurrenceDaily,
			StartTime:  "25:99",
			EndTime:    "26:00",
		},
	}
	if err := st.SaveFlow(ctx, broken); err != nil {
		t.Fatalf("save: %v", err)
	}

	result, err := svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Checked != 1 || result.Malformed != 1 || result.Conflicted != 0 {
		t.Fatalf("result=%+v, want 1 checked, 1 malformed", result)
	}
}

func TestSweepSkipsManualAndPausedFlows(t *testing.T) {
	svc, st, _ := newSweepService(t)
	ctx := context.Background()

	manual := &models.Flow{
		ID:          "manual",
		Name:        "Request Hour",
		TriggerType: models.TriggerManual,
		Status:      models.FlowActive,
		Actions:     morningDraft("x").Actions,
	}
	if err := st.SaveFlow(ctx, manual); err != nil {
		t.Fatalf("save manual: %v", err)
	}

	flow, err := svc.Create(ctx, morningDraft("Morning Show"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Toggle(ctx, flow.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}

	result, err := svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Checked != 0 {
		t.Fatalf("checked=%d, want 0", result.Checked)
	}
}
