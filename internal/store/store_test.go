package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/luvidal/jogiscraper/internal/config"
	"github.com/luvidal/jogiscraper/pkg/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db")
	s, err := New(config.SQLConfig{
		Driver:      "sqlite",
		DSN:         dsn,
		AutoMigrate: true,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSeedCatalog(t *testing.T) {
	s := testStore(t)
	docs, err := s.ListDocumentTypes(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 8 {
		t.Fatalf("catalog has %d entries, want 8", len(docs))
	}
	// enabled entries sort first
	if !docs[0].Enabled {
		t.Fatalf("catalog order wrong: %+v", docs[0])
	}
	byID := make(map[string]types.DocumentType)
	for _, d := range docs {
		byID[d.ID] = d
	}
	if !byID["carpeta"].Enabled || byID["carpeta"].Origin != "SII" {
		t.Fatalf("carpeta entry: %+v", byID["carpeta"])
	}
	if byID["deuda"].Enabled {
		t.Fatal("deuda should be seeded disabled")
	}
}

func TestRequestRoundtrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id, err := s.CreateRequest(ctx, NewRequest{
		Subject:       "12345678-5",
		Contact:       "owner@example.com",
		DocumentTypes: []string{"carpeta", "declaracion"},
		Channels:      []string{"email"},
		Secret:        "s3cret",
		SupportingID:  "100200300",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id == 0 {
		t.Fatal("id not assigned")
	}

	req, err := s.GetRequest(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if req.Status != types.StatusPending {
		t.Errorf("status = %s", req.Status)
	}
	if len(req.DocumentTypes) != 2 || req.DocumentTypes[0] != "carpeta" {
		t.Errorf("documents = %v", req.DocumentTypes)
	}
	if req.Credentials.Secret != "s3cret" || req.Credentials.SupportingID != "100200300" {
		t.Errorf("credentials not loaded: %+v", req.Credentials)
	}
	if req.CompletedAt != nil {
		t.Error("new request should have no completion time")
	}
}

func TestActiveRequestsBySubject(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first, err := s.CreateRequest(ctx, NewRequest{
		Subject: "12345678-5", Contact: "a@example.com",
		DocumentTypes: []string{"carpeta"}, Channels: []string{"email"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateRequest(ctx, NewRequest{
		Subject: "11111111-1", Contact: "b@example.com",
		DocumentTypes: []string{"carpeta"}, Channels: []string{"email"},
	}); err != nil {
		t.Fatal(err)
	}

	active, err := s.ActiveRequestsBySubject(ctx, "12345678-5")
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].ID != first {
		t.Fatalf("active = %+v", active)
	}

	// terminal requests drop out of the guard window
	if err := s.UpdateStatus(ctx, first, types.StatusCompleted); err != nil {
		t.Fatal(err)
	}
	active, err = s.ActiveRequestsBySubject(ctx, "12345678-5")
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 0 {
		t.Fatalf("completed request still active: %+v", active)
	}
}

func TestUpdateStatusStampsCompletion(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id, err := s.CreateRequest(ctx, NewRequest{
		Subject: "12345678-5", Contact: "a@example.com",
		DocumentTypes: []string{"carpeta"}, Channels: []string{"email"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateStatus(ctx, id, types.StatusProcessing); err != nil {
		t.Fatal(err)
	}
	req, _ := s.GetRequest(ctx, id)
	if req.CompletedAt != nil {
		t.Fatal("processing must not stamp completion")
	}

	if err := s.UpdateStatus(ctx, id, types.StatusFailed); err != nil {
		t.Fatal(err)
	}
	req, _ = s.GetRequest(ctx, id)
	if req.Status != types.StatusFailed || req.CompletedAt == nil {
		t.Fatalf("terminal update: %+v", req)
	}
}

func TestSaveResults(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id, err := s.CreateRequest(ctx, NewRequest{
		Subject: "12345678-5", Contact: "a@example.com",
		DocumentTypes: []string{"carpeta"}, Channels: []string{"email"},
	})
	if err != nil {
		t.Fatal(err)
	}

	results := []types.DocumentResult{
		{DocumentType: "carpeta", Success: true, Payload: "cGRm"},
	}
	if err := s.SaveResults(ctx, id, results, types.StatusCompleted); err != nil {
		t.Fatal(err)
	}

	req, err := s.GetRequest(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if req.Status != types.StatusCompleted || req.CompletedAt == nil {
		t.Fatalf("after save: %+v", req)
	}
	if len(req.Results) != 1 || req.Results[0].Payload != "cGRm" {
		t.Fatalf("results = %+v", req.Results)
	}
}

func TestDeleteAndNotFound(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.GetRequest(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing request: %v", err)
	}

	id, err := s.CreateRequest(ctx, NewRequest{
		Subject: "12345678-5", Contact: "a@example.com",
		DocumentTypes: []string{"carpeta"}, Channels: []string{"email"},
	})
	if err != nil {
		t.Fatal(err)
	}

	existed, err := s.DeleteRequest(ctx, id)
	if err != nil || !existed {
		t.Fatalf("delete: %v existed=%v", err, existed)
	}
	existed, err = s.DeleteRequest(ctx, id)
	if err != nil || existed {
		t.Fatalf("second delete: %v existed=%v", err, existed)
	}
}

func TestRebind(t *testing.T) {
	s := &Store{driver: "postgres"}
	got := s.rebind("INSERT INTO t (a, b) VALUES (?, ?)")
	if got != "INSERT INTO t (a, b) VALUES ($1, $2)" {
		t.Fatalf("rebind = %q", got)
	}
	s.driver = "sqlite"
	if got := s.rebind("SELECT ?"); got != "SELECT ?" {
		t.Fatalf("sqlite rebind = %q", got)
	}
}
