package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/luvidal/jogiscraper/internal/request"
	"github.com/luvidal/jogiscraper/internal/store"
	"github.com/luvidal/jogiscraper/pkg/types"
)

type fakeService struct {
	submit func(request.Submission) (types.Request, error)
}

func (f *fakeService) Submit(_ context.Context, sub request.Submission) (types.Request, error) {
	if f.submit != nil {
		return f.submit(sub)
	}
	return types.Request{ID: 1, Status: types.StatusPending}, nil
}

func (f *fakeService) Get(_ context.Context, id int64) (types.Request, error) {
	if id == 404 {
		return types.Request{}, store.ErrNotFound
	}
	return types.Request{ID: id, Status: types.StatusCompleted}, nil
}

func (f *fakeService) List(context.Context, int) ([]types.Request, error) {
	return []types.Request{{ID: 1}}, nil
}

func (f *fakeService) Delete(_ context.Context, id int64) (bool, error) {
	return id != 404, nil
}

func (f *fakeService) Catalog(context.Context) ([]types.DocumentType, error) {
	return []types.DocumentType{{ID: "carpeta", Origin: "SII", Enabled: true}}, nil
}

func newTestServer(svc Service) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(svc, nil, "internal-key", logger)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: decode body %q: %v", method, path, rr.Body.String(), err)
	}
	return rr, env
}

func TestHealthAndCatalog(t *testing.T) {
	srv := newTestServer(&fakeService{})

	rr, env := doJSON(t, srv, http.MethodGet, "/health", nil, nil)
	if rr.Code != http.StatusOK || !env.Success {
		t.Fatalf("health: %d %+v", rr.Code, env)
	}
	rr, env = doJSON(t, srv, http.MethodGet, "/api/documents", nil, nil)
	if rr.Code != http.StatusOK || !env.Success {
		t.Fatalf("documents: %d %+v", rr.Code, env)
	}
}

func TestCreateRequestMapsPayload(t *testing.T) {
	var got request.Submission
	srv := newTestServer(&fakeService{submit: func(sub request.Submission) (types.Request, error) {
		got = sub
		return types.Request{ID: 9, Status: types.StatusPending}, nil
	}})

	rr, env := doJSON(t, srv, http.MethodPost, "/api/requests", CreateRequestPayload{
		Rut:        "12.345.678-5",
		Claveunica: "s3cret",
		Email:      "owner@example.com",
		Documents:  []string{"carpeta"},
		Delivery:   []string{"email"},
	}, nil)
	if rr.Code != http.StatusAccepted || !env.Success {
		t.Fatalf("create: %d %+v", rr.Code, env)
	}
	if got.Subject != "12.345.678-5" || got.Secret != "s3cret" || got.Contact != "owner@example.com" {
		t.Fatalf("submission mapping: %+v", got)
	}
	// the credential must never appear in the response body
	if strings.Contains(rr.Body.String(), "s3cret") {
		t.Fatal("secret echoed in response")
	}
}

func TestCreateRequestErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"validation", &request.ValidationError{Field: "rut", Reason: "bad"}, http.StatusBadRequest},
		{"conflict", &request.ConflictError{Overlapping: []string{"carpeta"}}, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(&fakeService{submit: func(request.Submission) (types.Request, error) {
				return types.Request{}, tc.err
			}})
			rr, env := doJSON(t, srv, http.MethodPost, "/api/requests", CreateRequestPayload{}, nil)
			if rr.Code != tc.code || env.Success || env.Error == "" {
				t.Fatalf("%s: %d %+v", tc.name, rr.Code, env)
			}
		})
	}
}

func TestGetRequest(t *testing.T) {
	srv := newTestServer(&fakeService{})

	rr, _ := doJSON(t, srv, http.MethodGet, "/api/requests/7", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get: %d", rr.Code)
	}
	rr, _ = doJSON(t, srv, http.MethodGet, "/api/requests/404", nil, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing request: %d", rr.Code)
	}
	rr, _ = doJSON(t, srv, http.MethodGet, "/api/requests/not-a-number", nil, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad id: %d", rr.Code)
	}
}

func TestDeleteRequiresInternalKey(t *testing.T) {
	srv := newTestServer(&fakeService{})

	rr, _ := doJSON(t, srv, http.MethodDelete, "/api/requests/7", nil, nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("missing key: %d", rr.Code)
	}
	rr, _ = doJSON(t, srv, http.MethodDelete, "/api/requests/7", nil,
		map[string]string{"X-Internal-Key": "internal-key"})
	if rr.Code != http.StatusOK {
		t.Fatalf("with key: %d", rr.Code)
	}
}

func TestProgressDisabled(t *testing.T) {
	srv := newTestServer(&fakeService{})
	rr, _ := doJSON(t, srv, http.MethodGet, "/api/requests/7/progress", nil, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("progress without redis: %d", rr.Code)
	}
}
