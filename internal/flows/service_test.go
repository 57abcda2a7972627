package flows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/bragi_flows/internal/actions"
	"github.com/friendsincode/bragi_flows/internal/conflict"
	"github.com/friendsincode/bragi_flows/internal/events"
	"github.com/friendsincode/bragi_flows/internal/models"
	"github.com/friendsincode/bragi_flows/internal/store"
)

func openFlowsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Flow{}, &models.FlowRun{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	st := store.NewGormStore(openFlowsTestDB(t))
	return New(st, conflict.NewDetector(zerolog.Nop()), events.NewBus(), 0, zerolog.Nop()), st
}

func morningDraft(name string) Draft {
	return Draft{
		Name:        name,
		TriggerType: models.TriggerScheduled,
		Actions: actions.ActionList{
			actions.PlayGenre{Genre: "happy", DurationMinutes: 45},
			actions.PlayCommercials{Count: 2},
			actions.PlayGenre{Genre: "mizrahi", DurationMinutes: 30},
		},
		Schedule: &models.Schedule{
			Recurrence: models.RecurrenceWeekly,
			StartTime:  "08:00",
			EndTime:    "10:00",
			DaysOfWeek: []int{1, 2, 3, 4, 5},
		},
	}
}

func TestCreatePersistsValidFlow(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	flow, err := svc.Create(ctx, morningDraft("Morning Show"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if flow.ID == "" {
		t.Fatal("expected generated id")
	}
	if flow.Status != models.FlowActive {
		t.Fatalf("status=%s, want active", flow.Status)
	}

	loaded, err := svc.Get(ctx, flow.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(loaded.Actions) != 3 {
		t.Fatalf("loaded %d actions, want 3", len(loaded.Actions))
	}
	if loaded.Actions[1].Kind() != actions.KindPlayCommercials {
		t.Fatalf("action 1 kind=%s, want play_commercials", loaded.Actions[1].Kind())
	}
}

func TestCreateRejectsInvalidDrafts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*Draft)
	}{
		{"empty name", func(d *Draft) { d.Name = "" }},
		{"no actions", func(d *Draft) { d.Actions = nil }},
		{"scheduled without schedule", func(d *Draft) { d.Schedule = nil }},
		{"manual with schedule", func(d *Draft) { d.TriggerType = models.TriggerManual }},
		{"unknown trigger", func(d *Draft) { d.TriggerType = "cron" }},
		{"invalid action", func(d *Draft) {
			d.Actions = actions.ActionList{actions.PlayGenre{Genre: "happy"}}
		}},
		{"malformed schedule", func(d *Draft) {
			d.Schedule = &models.Schedule{Recurrence: models.RecurrenceWeekly, StartTime: "08:00"}
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			draft := morningDraft("Broken")
			tc.mutate(&draft)
			_, err := svc.Create(ctx, draft)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("got %v, want ValidationError", err)
			}
		})
	}
}

func TestCreateRejectsOverlapAndForcePersistsDisabled(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, morningDraft("Morning Show")); err != nil {
		t.Fatalf("create first: %v", err)
	}

	overlapping := morningDraft("Competing Show")
	overlapping.Schedule.StartTime = "09:00"
	overlapping.Schedule.EndTime = "11:00"

	_, err := svc.Create(ctx, overlapping)
	var cerr *ConflictError
	if !errors.As(err, &cerr) {
		t.Fatalf("got %v, want ConflictError", err)
	}
	if len(cerr.Conflicts) == 0 {
		t.Fatal("expected conflict details")
	}
	if cerr.Conflicts[0].FlowName != "Morning Show" {
		t.Fatalf("conflict names %q", cerr.Conflicts[0].FlowName)
	}

	// Nothing was persisted by the rejected create.
	all, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("have %d flows after rejection, want 1", len(all))
	}

	overlapping.Force = true
	forced, err := svc.Create(ctx, overlapping)
	if err != nil {
		t.Fatalf("forced create: %v", err)
	}
	if forced.Status != models.FlowDisabled {
		t.Fatalf("forced flow status=%s, want disabled", forced.Status)
	}
}

func TestCreateAllowsBackToBackWindows(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, morningDraft("Morning Show")); err != nil {
		t.Fatalf("create first: %v", err)
	}

	adjacent := morningDraft("Midday Show")
	adjacent.Schedule.StartTime = "10:00"
	adjacent.Schedule.EndTime = "12:00"
	if _, err := svc.Create(ctx, adjacent); err != nil {
		t.Fatalf("back-to-back windows must not conflict: %v", err)
	}
}

func TestUpdatePatchesAndReChecks(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	flow, err := svc.Create(ctx, morningDraft("Morning Show"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	evening := morningDraft("Evening Show")
	evening.Schedule.StartTime = "20:00"
	evening.Schedule.EndTime = "22:00"
	other, err := svc.Create(ctx, evening)
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	// Renaming only keeps the schedule; the flow must not conflict with its
	// own prior occurrences.
	newName := "Morning Show v2"
	updated, err := svc.Update(ctx, flow.ID, Patch{Name: &newName})
	if err != nil {
		t.Fatalf("rename update: %v", err)
	}
	if updated.Name != newName {
		t.Fatalf("name=%q, want %q", updated.Name, newName)
	}

	// Moving onto the other flow's window is rejected whole.
	collision := &models.Schedule{
		Recurrence: models.RecurrenceWeekly,
		StartTime:  "21:00",
		EndTime:    "23:00",
		DaysOfWeek: []int{1, 2, 3, 4, 5},
	}
	_, err = svc.Update(ctx, flow.ID, Patch{Schedule: collision})
	var cerr *ConflictError
	if !errors.As(err, &cerr) {
		t.Fatalf("got %v, want ConflictError", err)
	}
	if cerr.Conflicts[0].FlowID != other.ID {
		t.Fatalf("conflict names %q, want %q", cerr.Conflicts[0].FlowID, other.ID)
	}

	// Rejection left the stored flow untouched.
	loaded, err := svc.Get(ctx, flow.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Schedule.StartTime != "08:00" {
		t.Fatalf("schedule mutated to %q after rejected update", loaded.Schedule.StartTime)
	}
}

func TestUpdateRejectsRunningFlow(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	flow, err := svc.Create(ctx, morningDraft("Morning Show"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.BeginRun(ctx, flow.ID, models.TriggerManual, false); err != nil {
		t.Fatalf("begin run: %v", err)
	}

	newName := "Renamed"
	_, err = svc.Update(ctx, flow.ID, Patch{Name: &newName})
	var serr *InvalidStateError
	if !errors.As(err, &serr) {
		t.Fatalf("got %v, want InvalidStateError", err)
	}
	if serr.Status != models.FlowRunning {
		t.Fatalf("error status=%s, want running", serr.Status)
	}
}

func TestToggleTransitions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	flow, err := svc.Create(ctx, morningDraft("Morning Show"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	paused, err := svc.Toggle(ctx, flow.ID)
	if err != nil {
		t.Fatalf("toggle to paused: %v", err)
	}
	if paused.Status != models.FlowPaused {
		t.Fatalf("status=%s, want paused", paused.Status)
	}

	active, err := svc.Toggle(ctx, flow.ID)
	if err != nil {
		t.Fatalf("toggle back: %v", err)
	}
	if active.Status != models.FlowActive {
		t.Fatalf("status=%s, want active", active.Status)
	}
}

func TestToggleDisabledReChecksConflicts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, morningDraft("Morning Show")); err != nil {
		t.Fatalf("create: %v", err)
	}

	forced := morningDraft("Competing Show")
	forced.Force = true
	disabled, err := svc.Create(ctx, forced)
	if err != nil {
		t.Fatalf("forced create: %v", err)
	}
	if disabled.Status != models.FlowDisabled {
		t.Fatalf("status=%s, want disabled", disabled.Status)
	}

	// The window is still claimed, so re-enabling is refused.
	_, err = svc.Toggle(ctx, disabled.ID)
	var cerr *ConflictError
	if !errors.As(err, &cerr) {
		t.Fatalf("got %v, want ConflictError", err)
	}

	// Paused flows do not claim their windows; now the toggle succeeds.
	first, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, f := range first {
		if f.Status == models.FlowActive {
			if _, err := svc.Toggle(ctx, f.ID); err != nil {
				t.Fatalf("pause active flow: %v", err)
			}
		}
	}
	enabled, err := svc.Toggle(ctx, disabled.ID)
	if err != nil {
		t.Fatalf("re-enable after window freed: %v", err)
	}
	if enabled.Status != models.FlowActive {
		t.Fatalf("status=%s, want active", enabled.Status)
	}
}

func TestDeleteRemovesFlow(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	flow, err := svc.Create(ctx, morningDraft("Morning Show"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Delete(ctx, flow.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	_, err = svc.Get(ctx, flow.ID)
	var nerr *NotFoundError
	if !errors.As(err, &nerr) {
		t.Fatalf("got %v, want NotFoundError", err)
	}
	var derr *NotFoundError
	if err := svc.Delete(ctx, flow.ID); !errors.As(err, &derr) {
		t.Fatalf("second delete got %v, want NotFoundError", err)
	}
}

func TestActionMutations(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	flow, err := svc.Create(ctx, morningDraft("Morning Show"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Insert a jingle between the first genre block and the commercials.
	updated, err := svc.AddAction(ctx, flow.ID, actions.GenerateJingle{Text: "station id"}, 1)
	if err != nil {
		t.Fatalf("add action: %v", err)
	}
	if len(updated.Actions) != 4 {
		t.Fatalf("have %d actions, want 4", len(updated.Actions))
	}
	if updated.Actions[1].Kind() != actions.KindGenerateJingle {
		t.Fatalf("action 1 kind=%s, want generate_jingle", updated.Actions[1].Kind())
	}

	// Out-of-range insert index appends.
	updated, err = svc.AddAction(ctx, flow.ID, actions.Wait{DurationMinutes: 1}, 99)
	if err != nil {
		t.Fatalf("append action: %v", err)
	}
	if updated.Actions[len(updated.Actions)-1].Kind() != actions.KindWait {
		t.Fatal("expected wait appended at the end")
	}

	updated, err = svc.ReorderActions(ctx, flow.ID, 0, 2)
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if updated.Actions[2].Kind() != actions.KindPlayGenre {
		t.Fatalf("action 2 kind=%s after reorder, want play_genre", updated.Actions[2].Kind())
	}

	if _, err := svc.ReorderActions(ctx, flow.ID, 0, 99); err == nil {
		t.Fatal("expected reorder range error")
	}

	updated, err = svc.RemoveAction(ctx, flow.ID, 0)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(updated.Actions) != 4 {
		t.Fatalf("have %d actions after remove, want 4", len(updated.Actions))
	}
}

func TestRemoveActionKeepsListNonEmpty(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	flow, err := svc.Create(ctx, Draft{
		Name:        "Single Action",
		TriggerType: models.TriggerManual,
		Actions:     actions.ActionList{actions.Wait{DurationMinutes: 5}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = svc.RemoveAction(ctx, flow.ID, 0)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("got %v, want ValidationError", err)
	}
}

func TestBeginRunIsMutuallyExclusive(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	flow, err := svc.Create(ctx, morningDraft("Morning Show"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	handle, err := svc.BeginRun(ctx, flow.ID, models.TriggerScheduled, false)
	if err != nil {
		t.Fatalf("begin run: %v", err)
	}

	if _, err := svc.BeginRun(ctx, flow.ID, models.TriggerManual, false); err == nil {
		t.Fatal("second begin on a running flow must fail")
	}

	running, err := svc.Get(ctx, flow.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if running.Status != models.FlowRunning {
		t.Fatalf("status=%s, want running", running.Status)
	}
	if running.RunCount != 1 {
		t.Fatalf("run count=%d, want 1", running.RunCount)
	}
	if running.LastRun == nil {
		t.Fatal("expected last run timestamp")
	}

	if err := svc.FinishRun(ctx, handle, nil); err != nil {
		t.Fatalf("finish run: %v", err)
	}

	finished, err := svc.Get(ctx, flow.ID)
	if err != nil {
		t.Fatalf("get after finish: %v", err)
	}
	if finished.Status != models.FlowActive {
		t.Fatalf("status=%s after finish, want active", finished.Status)
	}

	runs, err := svc.Runs(ctx, flow.ID, 10)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("have %d runs, want 1", len(runs))
	}
	if runs[0].FinishedAt == nil {
		t.Fatal("run record never closed")
	}
}

func TestBeginRunRejectsDisabledFlow(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, morningDraft("Morning Show")); err != nil {
		t.Fatalf("create: %v", err)
	}
	forced := morningDraft("Competing Show")
	forced.Force = true
	disabled, err := svc.Create(ctx, forced)
	if err != nil {
		t.Fatalf("forced create: %v", err)
	}

	_, err = svc.BeginRun(ctx, disabled.ID, models.TriggerManual, false)
	var serr *InvalidStateError
	if !errors.As(err, &serr) {
		t.Fatalf("got %v, want InvalidStateError", err)
	}
}

func TestDryRunLeavesNoTrace(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	flow, err := svc.Create(ctx, morningDraft("Morning Show"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	handle, err := svc.BeginRun(ctx, flow.ID, models.TriggerManual, true)
	if err != nil {
		t.Fatalf("dry begin: %v", err)
	}
	if err := svc.FinishRun(ctx, handle, nil); err != nil {
		t.Fatalf("dry finish: %v", err)
	}

	loaded, err := svc.Get(ctx, flow.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Status != models.FlowActive || loaded.RunCount != 0 || loaded.LastRun != nil {
		t.Fatalf("dry run left traces: status=%s count=%d lastRun=%v", loaded.Status, loaded.RunCount, loaded.LastRun)
	}
	runs, err := svc.Runs(ctx, flow.ID, 10)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("dry run persisted %d run records", len(runs))
	}
}

func TestFinishRunKeepsConcurrentStatusChange(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	flow, err := svc.Create(ctx, morningDraft("Morning Show"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	handle, err := svc.BeginRun(ctx, flow.ID, models.TriggerScheduled, false)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	// Something else parked the flow while the run was in flight. The
	// restore is last-writer-wins: FinishRun must not stomp that change.
	parked, err := st.GetFlow(ctx, flow.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	parked.Status = models.FlowPaused
	if err := st.SaveFlow(ctx, parked); err != nil {
		t.Fatalf("park flow: %v", err)
	}

	if err := svc.FinishRun(ctx, handle, nil); err != nil {
		t.Fatalf("finish: %v", err)
	}
	after, err := svc.Get(ctx, flow.ID)
	if err != nil {
		t.Fatalf("get after finish: %v", err)
	}
	if after.Status != models.FlowPaused {
		t.Fatalf("status=%s, want paused kept", after.Status)
	}
	if after.RunCount != 1 {
		t.Fatalf("run count=%d, want monotonic 1", after.RunCount)
	}
}

func TestUpcomingOrdersByStartThenPriority(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	low := morningDraft("Low Priority")
	low.Priority = 1
	if _, err := svc.Create(ctx, low); err != nil {
		t.Fatalf("create low: %v", err)
	}

	high := morningDraft("High Priority")
	high.Priority = 9
	high.Force = true // same window on purpose
	forced, err := svc.Create(ctx, high)
	if err != nil {
		t.Fatalf("create high: %v", err)
	}

	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	upcoming, err := svc.Upcoming(ctx, from, 24*time.Hour)
	if err != nil {
		t.Fatalf("upcoming: %v", err)
	}
	if len(upcoming) != 1 {
		t.Fatalf("have %d occurrences, want 1 (disabled flow excluded)", len(upcoming))
	}
	if upcoming[0].FlowName != "Low Priority" {
		t.Fatalf("unexpected flow %q", upcoming[0].FlowName)
	}
	if upcoming[0].Occurrence.Start.Hour() != 8 {
		t.Fatalf("occurrence starts at %v, want 08:00", upcoming[0].Occurrence.Start)
	}

	// Force the disabled flow active behind the service's back; the view now
	// carries both, same start instant, priority descending.
	forced.Status = models.FlowActive
	if err := st.SaveFlow(ctx, forced); err != nil {
		t.Fatalf("activate forced flow: %v", err)
	}

	upcoming, err = svc.Upcoming(ctx, from, 24*time.Hour)
	if err != nil {
		t.Fatalf("upcoming: %v", err)
	}
	if len(upcoming) != 2 {
		t.Fatalf("have %d occurrences, want 2", len(upcoming))
	}
	if upcoming[0].FlowName != "High Priority" || upcoming[1].FlowName != "Low Priority" {
		t.Fatalf("tie break out of order: %q then %q", upcoming[0].FlowName, upcoming[1].FlowName)
	}
}
