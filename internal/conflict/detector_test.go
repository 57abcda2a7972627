package conflict

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_flows/internal/models"
	"github.com/friendsincode/bragi_flows/internal/recurrence"
)

func weekdayMorning(id, name string, start, end string, days []int) models.Flow {
	return models.Flow{
		ID:          id,
		Name:        name,
		TriggerType: models.TriggerScheduled,
		Status:      models.FlowActive,
		Schedule: &models.Schedule{
			Recurrence: models.RecurrenceWeekly,
			StartTime:  start,
			EndTime:    end,
			DaysOfWeek: days,
		},
	}
}

func expandFlow(t *testing.T, flow models.Flow, from, to time.Time) []models.Occurrence {
	t.Helper()
	occs, err := recurrence.Expand(flow.Schedule, from, to)
	if err != nil {
		t.Fatalf("expand %s: %v", flow.Name, err)
	}
	return occs
}

func TestFindConflictsOverlappingWindows(t *testing.T) {
	detector := NewDetector(zerolog.Nop())
	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 14)

	existing := weekdayMorning("existing", "Morning Show", "08:00", "10:00", []int{1, 2, 3, 4, 5})
	candidate := weekdayMorning("candidate", "Drive Time", "09:00", "11:00", []int{1, 3})

	conflicts := detector.FindConflicts(expandFlow(t, candidate, from, to), candidate.ID, []models.Flow{existing}, from, to)
	if len(conflicts) != 1 {
		t.Fatalf("got %d conflicts, want 1", len(conflicts))
	}
	c := conflicts[0]
	if c.FlowID != "existing" {
		t.Fatalf("conflict names flow %q, want existing", c.FlowID)
	}
	if c.Window.Start.Hour() != 9 || c.Window.End.Hour() != 10 {
		t.Fatalf("overlap window %v..%v, want 09:00..10:00", c.Window.Start, c.Window.End)
	}
	if c.Reason == "" {
		t.Fatal("expected a human-readable reason")
	}
}

func TestFindConflictsBackToBackWindowsDoNotConflict(t *testing.T) {
	detector := NewDetector(zerolog.Nop())
	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 14)

	existing := weekdayMorning("existing", "Morning Show", "08:00", "10:00", []int{1, 2, 3, 4, 5})
	candidate := weekdayMorning("candidate", "Midday", "10:00", "12:00", []int{1, 2, 3, 4, 5})

	conflicts := detector.FindConflicts(expandFlow(t, candidate, from, to), candidate.ID, []models.Flow{existing}, from, to)
	if len(conflicts) != 0 {
		t.Fatalf("got %d conflicts for back-to-back windows, want 0", len(conflicts))
	}
}

func TestFindConflictsExcludesCandidateItself(t *testing.T) {
	detector := NewDetector(zerolog.Nop())
	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 14)

	flow := weekdayMorning("self", "Morning Show", "08:00", "10:00", []int{1})
	conflicts := detector.FindConflicts(expandFlow(t, flow, from, to), flow.ID, []models.Flow{flow}, from, to)
	if len(conflicts) != 0 {
		t.Fatalf("flow conflicts with itself: %+v", conflicts)
	}
}

func TestFindConflictsIgnoresUnschedulableFlows(t *testing.T) {
	detector := NewDetector(zerolog.Nop())
	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 14)

	candidate := weekdayMorning("candidate", "Drive Time", "08:00", "10:00", []int{1})
	occs := expandFlow(t, candidate, from, to)

	paused := weekdayMorning("paused", "Paused Show", "08:00", "10:00", []int{1})
	paused.Status = models.FlowPaused

	disabled := weekdayMorning("disabled", "Disabled Show", "08:00", "10:00", []int{1})
	disabled.Status = models.FlowDisabled

	manual := weekdayMorning("manual", "Manual Show", "08:00", "10:00", []int{1})
	manual.TriggerType = models.TriggerManual

	conflicts := detector.FindConflicts(occs, candidate.ID, []models.Flow{paused, disabled, manual}, from, to)
	if len(conflicts) != 0 {
		t.Fatalf("got %d conflicts from unschedulable flows, want 0", len(conflicts))
	}

	running := weekdayMorning("running", "Running Show", "08:00", "10:00", []int{1})
	running.Status = models.FlowRunning
	conflicts = detector.FindConflicts(occs, candidate.ID, []models.Flow{running}, from, to)
	if len(conflicts) != 1 {
		t.Fatalf("running flows must participate, got %d conflicts", len(conflicts))
	}
}

func TestFindConflictsMalformedScheduleFailsClosed(t *testing.T) {
	detector := NewDetector(zerolog.Nop())
	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 14)

	candidate := weekdayMorning("candidate", "Drive Time", "08:00", "10:00", []int{1})

	broken := models.Flow{
		ID:          "broken",
		Name:        "Broken Show",
		TriggerType: models.TriggerScheduled,
		Status:      models.FlowActive,
		Schedule:    &models.Schedule{Recurrence: models.RecurrenceWeekly, StartTime: "25:99", EndTime: "10:00", DaysOfWeek: []int{1}},
	}

	conflicts := detector.FindConflicts(expandFlow(t, candidate, from, to), candidate.ID, []models.Flow{broken}, from, to)
	if len(conflicts) != 1 {
		t.Fatalf("got %d conflicts, want 1", len(conflicts))
	}
	c := conflicts[0]
	if c.FlowID != "broken" {
		t.Fatalf("conflict names %q, want broken", c.FlowID)
	}
	if !c.Window.Start.Equal(from) || !c.Window.End.Equal(to) {
		t.Fatalf("fail-closed window %v..%v should span the whole horizon", c.Window.Start, c.Window.End)
	}
}

func TestFindConflictsSortedByStart(t *testing.T) {
	detector := NewDetector(zerolog.Nop())
	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 7)

	candidate := weekdayMorning("candidate", "All Week", "08:00", "10:00", []int{1, 2, 3, 4, 5})
	later := weekdayMorning("later", "Wednesday Show", "09:00", "11:00", []int{3})
	earlier := weekdayMorning("earlier", "Monday Show", "09:00", "11:00", []int{1})

	conflicts := detector.FindConflicts(expandFlow(t, candidate, from, to), candidate.ID, []models.Flow{later, earlier}, from, to)
	if len(conflicts) != 2 {
		t.Fatalf("got %d conflicts, want 2", len(conflicts))
	}
	if conflicts[0].FlowID != "earlier" || conflicts[1].FlowID != "later" {
		t.Fatalf("conflicts out of start order: %s then %s", conflicts[0].FlowID, conflicts[1].FlowID)
	}
}
