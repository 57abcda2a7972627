package actions

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEstimatedDurations(t *testing.T) {
	defaults := DefaultDurations()

	tests := []struct {
		name   string
		action Action
		want   time.Duration
	}{
		{"genre by wall time", PlayGenre{Genre: "happy", DurationMinutes: 45}, 45 * time.Minute},
		{"genre by song count", PlayGenre{Genre: "happy", SongCount: 4}, 4 * defaults.SongLength},
		{"genre wall time wins over count", PlayGenre{Genre: "happy", DurationMinutes: 10, SongCount: 99}, 10 * time.Minute},
		{"content resolved", PlayContent{ContentID: "c1", DurationSeconds: 120}, 2 * time.Minute},
		{"content unresolved", PlayContent{ContentID: "c1"}, 0},
		{"commercials", PlayCommercials{Count: 3}, 3 * defaults.CommercialSpot},
		{"scheduled commercials duration bound", PlayScheduledCommercials{MaxDurationSeconds: 90}, 90 * time.Second},
		{"scheduled commercials tighter bound wins", PlayScheduledCommercials{MaxDurationSeconds: 300, MaxCount: 2}, 2 * defaults.CommercialSpot},
		{"scheduled commercials no bound", PlayScheduledCommercials{}, defaults.CommercialSpot},
		{"wait", Wait{DurationMinutes: 5}, 5 * time.Minute},
		{"set volume", SetVolume{Level: 80}, defaults.SetVolume},
		{"fade volume", FadeVolume{Target: 20, DurationSeconds: 10}, 10 * time.Second},
		{"announcement with audio", Announcement{Text: "hi", AudioSeconds: 12}, 12 * time.Second},
		{"announcement fallback", Announcement{Text: "hi"}, defaults.Announcement},
		{"time check", TimeCheck{Format: "24h", Language: "en"}, defaults.TimeCheck},
		{"generate jingle", GenerateJingle{Text: "station id"}, defaults.GenerateJingle},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.action.EstimatedDuration(defaults); got != tc.want {
				t.Fatalf("EstimatedDuration=%s, want %s", got, tc.want)
			}
		})
	}
}

func TestValidateRejectsBadFields(t *testing.T) {
	tests := []struct {
		name   string
		action Action
	}{
		{"genre without name", PlayGenre{DurationMinutes: 10}},
		{"genre without bound", PlayGenre{Genre: "happy"}},
		{"content without id", PlayContent{}},
		{"show without id", PlayShow{}},
		{"commercials zero count", PlayCommercials{}},
		{"scheduled commercials negative limit", PlayScheduledCommercials{MaxCount: -1}},
		{"jingle without id", PlayJingle{}},
		{"wait zero minutes", Wait{}},
		{"volume out of range", SetVolume{Level: 120}},
		{"fade target out of range", FadeVolume{Target: -1, DurationSeconds: 5}},
		{"fade without span", FadeVolume{Target: 50}},
		{"announcement without text", Announcement{}},
		{"time check without format", TimeCheck{Language: "en"}},
		{"generate jingle without text", GenerateJingle{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.action.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestActionListCodecRoundTrip(t *testing.T) {
	original := ActionList{
		PlayGenre{Genre: "mizrahi", DurationMinutes: 30},
		PlayCommercials{Count: 2, Batch: "morning"},
		Announcement{Text: "top of the hour", Voice: "maya"},
		Wait{DurationMinutes: 1},
	}

	encoded, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded ActionList
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded) != len(original) {
		t.Fatalf("decoded %d actions, want %d", len(decoded), len(original))
	}
	for i := range original {
		if decoded[i].Kind() != original[i].Kind() {
			t.Fatalf("action %d kind=%q, want %q", i, decoded[i].Kind(), original[i].Kind())
		}
	}

	genre, ok := decoded[0].(PlayGenre)
	if !ok {
		t.Fatalf("action 0 decoded as %T, want PlayGenre", decoded[0])
	}
	if genre.Genre != "mizrahi" || genre.DurationMinutes != 30 {
		t.Fatalf("unexpected payload: %+v", genre)
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	if _, err := Decode(json.RawMessage(`{"type":"play_vinyl"}`)); err == nil {
		t.Fatal("expected error for unknown action type")
	}
}

func TestActionListValidateRequiresEntries(t *testing.T) {
	if err := (ActionList{}).Validate(); err == nil {
		t.Fatal("expected error for empty list")
	}
	list := ActionList{PlayGenre{Genre: "happy", DurationMinutes: 10}, PlayCommercials{}}
	if err := list.Validate(); err == nil {
		t.Fatal("expected error for invalid second action")
	}
}

func TestNeedsContentResolution(t *testing.T) {
	if !NeedsContentResolution(PlayContent{ContentID: "c1"}) {
		t.Fatal("unresolved content should need resolution")
	}
	if NeedsContentResolution(PlayContent{ContentID: "c1", DurationSeconds: 60}) {
		t.Fatal("resolved content should not need resolution")
	}
	if NeedsContentResolution(PlayGenre{Genre: "happy", DurationMinutes: 10}) {
		t.Fatal("genre actions never need resolution")
	}
}

func TestTotalDuration(t *testing.T) {
	defaults := DefaultDurations()
	list := ActionList{
		PlayGenre{Genre: "happy", DurationMinutes: 45},
		PlayCommercials{Count: 2},
		PlayContent{ContentID: "c1"}, // unresolved, contributes nothing
	}
	want := 45*time.Minute + 2*defaults.CommercialSpot
	if got := list.TotalDuration(defaults); got != want {
		t.Fatalf("TotalDuration=%s, want %s", got, want)
	}
}
