package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"voicenote-backend/internal/domain"
	"voicenote-backend/internal/http/middleware"
	"voicenote-backend/internal/services"
)

const (
	entityID = "3c2b1a09-8f7e-4d6c-9b5a-4f3e2d1c0b9a"
	usageID  = "5a4b3c2d-1e0f-4a9b-8c7d-6e5f4a3b2c1d"
)

func jsonReq(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestCreateEntity(t *testing.T) {
	usage := &fakeUsageSvc{
		createEntityFn: func(_ context.Context, owner, name, typ, desc string) (*domain.Entity, error) {
			if owner != testSID {
				t.Errorf("owner = %q, want session id", owner)
			}
			return &domain.Entity{ID: entityID, Name: name, Type: typ, Description: desc}, nil
		},
	}
	r := newRouter(New(&fakeNoteSvc{}, usage, &fakeQuotaSvc{}))

	// identity required
	w := httptest.NewRecorder()
	r.ServeHTTP(w, jsonReq(http.MethodPost, "/entities", `{"name":"Anna","type":"person"}`))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no identity: %d", w.Code)
	}

	// binding failure
	w = httptest.NewRecorder()
	req := jsonReq(http.MethodPost, "/entities", `{"type":"person"}`)
	req.Header.Set(middleware.HeaderSessionID, testSID)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing name: %d", w.Code)
	}

	// success
	w = httptest.NewRecorder()
	req = jsonReq(http.MethodPost, "/entities", `{"name":"Anna","type":"person","description":"colleague"}`)
	req.Header.Set(middleware.HeaderSessionID, testSID)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"Anna"`) {
		t.Fatalf("entity not echoed: %s", w.Body.String())
	}
}

func TestListEntities(t *testing.T) {
	usage := &fakeUsageSvc{
		listEntitiesFn: func(_ context.Context, owner string) ([]domain.Entity, error) {
			if owner != "u1" {
				t.Errorf("owner = %q, want the user id to win", owner)
			}
			return []domain.Entity{{ID: entityID, Name: "Anna", Type: "person"}}, nil
		},
	}
	r := newRouter(New(&fakeNoteSvc{}, usage, &fakeQuotaSvc{}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/entities", nil)
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set(middleware.HeaderSessionID, testSID)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"entities"`) {
		t.Fatalf("list: %d %s", w.Code, w.Body.String())
	}
}

func TestGetEntityUsageAndStats(t *testing.T) {
	usage := &fakeUsageSvc{
		byEntityFn: func(_ context.Context, id string) ([]domain.EntityUsage, error) {
			if id != entityID {
				return nil, services.ErrEntityNotFound
			}
			return []domain.EntityUsage{{ID: usageID, EntityID: id, WasUsed: true}}, nil
		},
		statsFn: func(_ context.Context, id string) (services.EntityStats, error) {
			if id != entityID {
				return services.EntityStats{}, services.ErrEntityNotFound
			}
			return services.EntityStats{TotalUsage: 4, CorrectUsage: 2, CorrectedCount: 1, CorrectionRate: 25}, nil
		},
	}
	r := newRouter(New(&fakeNoteSvc{}, usage, &fakeQuotaSvc{}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/entities/"+entityID+"/usage", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"usages"`) {
		t.Fatalf("usage: %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/entities/"+entityID+"/stats", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("stats: %d", w.Code)
	}

	// uuid guard applies to both routes
	for _, path := range []string{"/entities/abc/usage", "/entities/abc/stats"} {
		w = httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: %d, want 400", path, w.Code)
		}
	}

	// unknown entity maps to 404
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/entities/9e107d9d-3729-4b1e-8a4f-111111111111/stats", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing entity: %d", w.Code)
	}
}

func TestUpdateUsage(t *testing.T) {
	var gotCorrected bool
	var gotOrig, gotCorr *string
	usage := &fakeUsageSvc{
		updateFn: func(_ context.Context, id string, wc bool, o, c2 *string) error {
			if id != usageID {
				return services.ErrUsageNotFound
			}
			gotCorrected, gotOrig, gotCorr = wc, o, c2
			return nil
		},
	}
	r := newRouter(New(&fakeNoteSvc{}, usage, &fakeQuotaSvc{}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, jsonReq(http.MethodPatch, "/usage/"+usageID,
		`{"was_corrected":true,"original_text":"Crackow","corrected_text":"Kraków"}`))
	if w.Code != http.StatusNoContent {
		t.Fatalf("update: %d %s", w.Code, w.Body.String())
	}
	if !gotCorrected || gotOrig == nil || *gotOrig != "Crackow" || gotCorr == nil || *gotCorr != "Kraków" {
		t.Fatalf("payload not forwarded: %v %v %v", gotCorrected, gotOrig, gotCorr)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, jsonReq(http.MethodPatch, "/usage/abc", `{"was_corrected":false}`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad uuid: %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, jsonReq(http.MethodPatch, "/usage/"+usageID, `{nope`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad json: %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, jsonReq(http.MethodPatch, "/usage/9e107d9d-3729-4b1e-8a4f-111111111111", `{"was_corrected":false}`))
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown usage row: %d", w.Code)
	}
}
