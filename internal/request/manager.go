// Package request owns the request lifecycle: submission validation, the
// duplicate-suppression guard, queued fulfillment across the portal
// adapters, and terminal status aggregation.
package request

import (
	"context"
	"log/slog"
	"net/mail"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/luvidal/jogiscraper/internal/portal"
	"github.com/luvidal/jogiscraper/internal/store"
	"github.com/luvidal/jogiscraper/pkg/types"
)

// Store is the persistence surface the manager depends on.
type Store interface {
	CreateRequest(ctx context.Context, req store.NewRequest) (int64, error)
	ActiveRequestsBySubject(ctx context.Context, subject string) ([]types.Request, error)
	GetRequest(ctx context.Context, id int64) (types.Request, error)
	ListRequests(ctx context.Context, limit int) ([]types.Request, error)
	UpdateStatus(ctx context.Context, id int64, status types.Status) error
	SaveResults(ctx context.Context, id int64, results []types.DocumentResult, status types.Status) error
	DeleteRequest(ctx context.Context, id int64) (bool, error)
	ListDocumentTypes(ctx context.Context) ([]types.DocumentType, error)
}

// AdapterSource resolves document types to their retrieval adapters.
type AdapterSource interface {
	Lookup(id string) (portal.Adapter, bool)
}

// Dispatcher delivers a finished request over its configured channels.
// Delivery is best effort and never changes the request outcome.
type Dispatcher interface {
	Dispatch(ctx context.Context, req types.Request)
}

// ProgressSink receives live fulfillment snapshots. May be nil.
type ProgressSink interface {
	Update(ctx context.Context, id int64, status types.Status, current string, done, total int)
}

// Submission is the raw client input for a new request.
type Submission struct {
	Subject       string
	Secret        string
	SupportingID  string
	Contact       string
	DocumentTypes []string
	Channels      []string
}

// Manager coordinates the whole request lifecycle.
type Manager struct {
	store      Store
	adapters   AdapterSource
	pool       *WorkerPool
	dispatcher Dispatcher
	progress   ProgressSink
	logger     *slog.Logger

	// guards the check-then-insert window of the duplicate guard so two
	// simultaneous submissions for one subject cannot both pass.
	mu sync.Mutex
}

// NewManager wires the lifecycle coordinator. dispatcher and progress may
// be nil; the pool must not be.
func NewManager(st Store, adapters AdapterSource, pool *WorkerPool, dispatcher Dispatcher, progress ProgressSink, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:      st,
		adapters:   adapters,
		pool:       pool,
		dispatcher: dispatcher,
		progress:   progress,
		logger:     logger,
	}
}

// Submit validates a submission, runs the duplicate guard, persists the
// pending request, and queues it for fulfillment. A full queue fails the
// request immediately rather than blocking the caller.
func (m *Manager) Submit(ctx context.Context, sub Submission) (types.Request, error) {
	sub, err := m.validate(ctx, sub)
	if err != nil {
		return types.Request{}, err
	}

	m.mu.Lock()
	active, err := m.store.ActiveRequestsBySubject(ctx, sub.Subject)
	if err != nil {
		m.mu.Unlock()
		return types.Request{}, err
	}
	if overlap := overlapping(sub.DocumentTypes, active); len(overlap) > 0 {
		m.mu.Unlock()
		return types.Request{}, &ConflictError{Overlapping: overlap}
	}
	id, err := m.store.CreateRequest(ctx, store.NewRequest{
		Subject:       sub.Subject,
		Contact:       sub.Contact,
		DocumentTypes: sub.DocumentTypes,
		Channels:      sub.Channels,
		Secret:        sub.Secret,
		SupportingID:  sub.SupportingID,
	})
	m.mu.Unlock()
	if err != nil {
		return types.Request{}, err
	}

	req := types.Request{
		ID:            id,
		Subject:       sub.Subject,
		Contact:       sub.Contact,
		DocumentTypes: sub.DocumentTypes,
		Channels:      sub.Channels,
		Status:        types.StatusPending,
		CreatedAt:     time.Now().UTC(),
		Credentials: types.Credentials{
			Subject:      sub.Subject,
			Secret:       sub.Secret,
			SupportingID: sub.SupportingID,
		},
	}

	if err := m.pool.TrySubmit(func(jobCtx context.Context) { m.fulfill(jobCtx, req) }); err != nil {
		m.logger.Error("could not queue request", "id", id, "error", err)
		if uerr := m.store.UpdateStatus(ctx, id, types.StatusFailed); uerr != nil {
			m.logger.Error("could not fail unqueued request", "id", id, "error", uerr)
		}
		req.Status = types.StatusFailed
		return req, nil
	}

	m.logger.Info("request queued", "id", id, "subject", sub.Subject,
		"documents", len(sub.DocumentTypes))
	return req, nil
}

// validate normalises and checks every submission field, consulting the
// catalog for document type existence and enablement.
func (m *Manager) validate(ctx context.Context, sub Submission) (Submission, error) {
	sub.Subject = NormalizeRUT(sub.Subject)
	if !ValidRUT(sub.Subject) {
		return sub, &ValidationError{Field: "rut", Reason: "verifier digit does not match"}
	}
	sub.Subject = FormatRUT(sub.Subject)

	if strings.TrimSpace(sub.Secret) == "" {
		return sub, &ValidationError{Field: "claveunica", Reason: "must not be empty"}
	}

	sub.Contact = strings.ToLower(strings.TrimSpace(sub.Contact))
	if _, err := mail.ParseAddress(sub.Contact); err != nil {
		return sub, &ValidationError{Field: "email", Reason: "not a valid address"}
	}

	sub.DocumentTypes = dedupe(sub.DocumentTypes)
	if len(sub.DocumentTypes) == 0 {
		return sub, &ValidationError{Field: "documents", Reason: "at least one document type required"}
	}
	catalog, err := m.store.ListDocumentTypes(ctx)
	if err != nil {
		return sub, err
	}
	known := make(map[string]bool, len(catalog))
	for _, doc := range catalog {
		known[doc.ID] = doc.Enabled
	}
	for _, id := range sub.DocumentTypes {
		enabled, ok := known[id]
		if !ok {
			return sub, &ValidationError{Field: "documents", Reason: "unknown type " + id}
		}
		if !enabled {
			return sub, &ValidationError{Field: "documents", Reason: "type " + id + " is disabled"}
		}
	}

	sub.Channels = dedupe(sub.Channels)
	if len(sub.Channels) == 0 {
		return sub, &ValidationError{Field: "delivery", Reason: "at least one channel required"}
	}
	for _, ch := range sub.Channels {
		if !types.KnownChannel(ch) {
			return sub, &ValidationError{Field: "delivery", Reason: "unknown channel " + ch}
		}
	}
	return sub, nil
}

// fulfill runs every document of a request in submission order. One
// document failing, erroring, or crashing never stops its siblings; the
// terminal status is aggregated from the per-document outcomes.
func (m *Manager) fulfill(ctx context.Context, req types.Request) {
	logger := m.logger.With("id", req.ID)
	if err := m.store.UpdateStatus(ctx, req.ID, types.StatusProcessing); err != nil {
		logger.Error("could not mark request processing", "error", err)
	}
	req.Status = types.StatusProcessing

	job := portal.Job{Credentials: req.Credentials, Contact: req.Contact}
	total := len(req.DocumentTypes)
	results := make([]types.DocumentResult, 0, total)

	for i, docType := range req.DocumentTypes {
		m.snapshot(ctx, req.ID, types.StatusProcessing, docType, i, total)
		results = append(results, m.fetchOne(ctx, docType, job, logger))
	}

	status := terminalStatus(results)
	if err := m.store.SaveResults(ctx, req.ID, results, status); err != nil {
		logger.Error("could not persist results", "error", err)
		if uerr := m.store.UpdateStatus(ctx, req.ID, types.StatusFailed); uerr != nil {
			logger.Error("could not fail unpersisted request", "error", uerr)
		}
		status = types.StatusFailed
		results = nil
	}

	now := time.Now().UTC()
	req.Status = status
	req.Results = results
	req.CompletedAt = &now
	m.snapshot(ctx, req.ID, status, "", total, total)
	logger.Info("request finished", "status", status)

	if m.dispatcher != nil {
		m.dispatcher.Dispatch(ctx, req)
	}
}

// fetchOne resolves and runs one adapter, converting errors and panics
// into failure results.
func (m *Manager) fetchOne(ctx context.Context, docType string, job portal.Job, logger *slog.Logger) (res types.DocumentResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("adapter crashed", "type", docType, "panic", r)
			res = types.DocumentResult{
				DocumentType: docType,
				Error:        "internal error during retrieval",
			}
		}
	}()

	adapter, ok := m.adapters.Lookup(docType)
	if !ok {
		return types.DocumentResult{
			DocumentType: docType,
			Error:        "no retrieval flow for this document type",
		}
	}
	out, err := adapter.Fetch(ctx, job)
	if err != nil {
		logger.Warn("document retrieval failed", "type", docType, "error", err)
		return types.DocumentResult{DocumentType: docType, Error: err.Error()}
	}
	out.DocumentType = docType
	return out
}

func (m *Manager) snapshot(ctx context.Context, id int64, status types.Status, current string, done, total int) {
	if m.progress == nil {
		return
	}
	m.progress.Update(ctx, id, status, current, done, total)
}

// Get returns one request by id.
func (m *Manager) Get(ctx context.Context, id int64) (types.Request, error) {
	return m.store.GetRequest(ctx, id)
}

// List returns the most recent requests.
func (m *Manager) List(ctx context.Context, limit int) ([]types.Request, error) {
	return m.store.ListRequests(ctx, limit)
}

// Delete removes a request, reporting whether it existed.
func (m *Manager) Delete(ctx context.Context, id int64) (bool, error) {
	return m.store.DeleteRequest(ctx, id)
}

// Catalog lists the document-type catalog.
func (m *Manager) Catalog(ctx context.Context) ([]types.DocumentType, error) {
	return m.store.ListDocumentTypes(ctx)
}

// terminalStatus maps per-document outcomes onto the request status:
// everything succeeded, everything failed, or a mix.
func terminalStatus(results []types.DocumentResult) types.Status {
	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	switch {
	case len(results) == 0 || succeeded == 0:
		return types.StatusFailed
	case succeeded == len(results):
		return types.StatusCompleted
	default:
		return types.StatusPartial
	}
}

// overlapping intersects the requested types with every active request's
// types, returning the sorted overlap.
func overlapping(requested []string, active []types.Request) []string {
	inFlight := make(map[string]bool)
	for _, req := range active {
		for _, id := range req.DocumentTypes {
			inFlight[id] = true
		}
	}
	var out []string
	for _, id := range requested {
		if inFlight[id] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// dedupe removes duplicates while preserving first-seen order.
func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
