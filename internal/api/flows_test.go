/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/bragi_flows/internal/actions"
	"github.com/friendsincode/bragi_flows/internal/auth"
	"github.com/friendsincode/bragi_flows/internal/conflict"
	"github.com/friendsincode/bragi_flows/internal/dispatch"
	"github.com/friendsincode/bragi_flows/internal/events"
	"github.com/friendsincode/bragi_flows/internal/flows"
	"github.com/friendsincode/bragi_flows/internal/models"
	"github.com/friendsincode/bragi_flows/internal/store"
)

var testSecret = []byte("api-test-secret")

func newTestRouter(t *testing.T) (chi.Router, string) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Flow{}, &models.FlowRun{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	st := store.NewGormStore(db)
	bus := events.NewBus()
	defaults := actions.Defaults{
		SetVolume:      5 * time.Second,
		Announcement:   30 * time.Second,
		TimeCheck:      5 * time.Second,
		GenerateJingle: 20 * time.Second,
		CommercialSpot: 30 * time.Second,
		SongLength:     210 * time.Second,
	}
	flowSvc := flows.New(st, conflict.NewDetector(zerolog.Nop()), bus, 0, zerolog.Nop())
	dispatcher := dispatch.New(flowSvc, bus, nil, defaults, zerolog.Nop())

	a := New(flowSvc, dispatcher, nil, nil, nil, nil, nil, bus, defaults, testSecret, zerolog.Nop())
	router := chi.NewRouter()
	a.Routes(router)

	token, err := auth.Issue(testSecret, auth.Claims{UserID: "t1"}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return router, token
}

func doRequest(t *testing.T, router chi.Router, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func weeklyDraftBody(name, startTime, endTime string) map[string]any {
	return map[string]any{
		"name":         name,
		"trigger_type": "scheduled",
		"actions": []map[string]any{
			{"type": "play_genre", "genre": "happy", "duration_minutes": 45},
			{"type": "play_jingle", "jingle_id": "station-id"},
		},
		"schedule": map[string]any{
			"recurrence":   "weekly",
			"start_time":   startTime,
			"end_time":     endTime,
			"days_of_week": []int{1, 2, 3, 4, 5},
		},
	}
}

func TestFlowEndpointsRequireAuth(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/flows", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", rec.Code)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/v1/flows", "not-a-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status=%d, want 401", rec.Code)
	}
}

func TestFlowCreateMapsErrorTaxonomy(t *testing.T) {
	router, token := newTestRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/flows", token, weeklyDraftBody("Morning Show", "08:00", "10:00"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status=%d, body=%s", rec.Code, rec.Body.String())
	}
	var created models.Flow
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created flow: %v", err)
	}
	if created.ID == "" || created.Status != models.FlowActive {
		t.Fatalf("unexpected created flow: %+v", created)
	}

	// Overlapping window on the same weekdays is a hard block.
	rec = doRequest(t, router, http.MethodPost, "/api/v1/flows", token, weeklyDraftBody("Competing Show", "09:00", "11:00"))
	if rec.Code != http.StatusConflict {
		t.Fatalf("conflict status=%d, body=%s", rec.Code, rec.Body.String())
	}
	var conflictResp struct {
		Error     string           `json:"error"`
		Conflicts []map[string]any `json:"conflicts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &conflictResp); err != nil {
		t.Fatalf("decode conflict response: %v", err)
	}
	if conflictResp.Error != "schedule_conflict" || len(conflictResp.Conflicts) == 0 {
		t.Fatalf("expected schedule_conflict with details, got %+v", conflictResp)
	}

	// Empty action list fails validation.
	invalid := weeklyDraftBody("No Actions", "14:00", "15:00")
	invalid["actions"] = []map[string]any{}
	rec = doRequest(t, router, http.MethodPost, "/api/v1/flows", token, invalid)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("validation status=%d, body=%s", rec.Code, rec.Body.String())
	}
}

func TestFlowGetUnknownReturns404(t *testing.T) {
	router, token := newTestRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/flows/"+uuid.NewString(), token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rec.Code)
	}
}

func TestFlowSimulateReturnsTimeline(t *testing.T) {
	router, token := newTestRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/flows", token, weeklyDraftBody("Evening Show", "20:00", "22:00"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status=%d, body=%s", rec.Code, rec.Body.String())
	}
	var created models.Flow
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created flow: %v", err)
	}

	rec = doRequest(t, router, http.MethodGet, fmt.Sprintf("/api/v1/flows/%s/simulate", created.ID), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("simulate status=%d, body=%s", rec.Code, rec.Body.String())
	}
	var sim dispatch.Simulation
	if err := json.Unmarshal(rec.Body.Bytes(), &sim); err != nil {
		t.Fatalf("decode simulation: %v", err)
	}
	if len(sim.Steps) != 2 {
		t.Fatalf("steps=%d, want 2", len(sim.Steps))
	}
	if sim.TotalDuration != 45*time.Minute {
		t.Fatalf("total=%s, want 45m", sim.TotalDuration)
	}
	// The jingle has no stored length, so its step is flagged for review.
	if !sim.Steps[1].Invalid {
		t.Fatalf("expected unresolved jingle step to be marked invalid: %+v", sim.Steps[1])
	}
}

func TestActionMutationsKeepListNonEmpty(t *testing.T) {
	router, token := newTestRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/flows", token, weeklyDraftBody("Night Show", "23:00", "23:30"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status=%d, body=%s", rec.Code, rec.Body.String())
	}
	var created models.Flow
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created flow: %v", err)
	}

	base := "/api/v1/flows/" + created.ID + "/actions"
	rec = doRequest(t, router, http.MethodDelete, base+"/1", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("remove status=%d, body=%s", rec.Code, rec.Body.String())
	}

	// Removing the last remaining action must be rejected.
	rec = doRequest(t, router, http.MethodDelete, base+"/0", token, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("remove-last status=%d, want 422, body=%s", rec.Code, rec.Body.String())
	}
}
