// Package portal implements the per-institution retrieval flows. Each
// adapter drives one document type end to end: open a browser session (or
// an HTTP client for API-backed registries), authenticate with the
// requester's credentials, navigate to the document, and return it as a
// base64 payload. Adapters are registered under the catalog identifier of
// the document type they serve.
package portal

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/luvidal/jogiscraper/internal/browser"
	"github.com/luvidal/jogiscraper/internal/captcha"
	"github.com/luvidal/jogiscraper/internal/config"
	"github.com/luvidal/jogiscraper/pkg/types"
)

// navRetries is how many extra attempts portal navigations get before an
// adapter gives up on a page load.
const navRetries = 2

// Job is one adapter invocation: the requester's credentials plus the
// contact address some registries need to address the certificate to.
type Job struct {
	Credentials types.Credentials
	Contact     string
}

// Adapter retrieves a single document type. Fetch returns a successful
// DocumentResult or an error; callers convert errors into failure results
// so one document never aborts its siblings.
type Adapter interface {
	ID() string
	Fetch(ctx context.Context, job Job) (types.DocumentResult, error)
}

// Registry maps catalog identifiers to their adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// Deps carries the shared infrastructure adapters are built on.
type Deps struct {
	Broker *browser.Broker
	Solver *captcha.Solver
	Civil  config.CivilAPIConfig
	Logger *slog.Logger
}

// NewRegistry builds the registry with every production adapter wired in.
// Document types without an adapter degrade to failure results at
// fulfillment time rather than being rejected up front, so the catalog can
// list types ahead of their flows.
func NewRegistry(deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	r := &Registry{adapters: make(map[string]Adapter)}

	// shared across all browser flows so concurrent workers cannot hammer
	// one institution
	throttle := NewThrottle(15*time.Second, 6)

	r.Register(&carpetaAdapter{broker: deps.Broker, throttle: throttle, logger: deps.Logger})
	r.Register(&declaracionAdapter{broker: deps.Broker, throttle: throttle, logger: deps.Logger})
	r.Register(&formulario22Adapter{broker: deps.Broker, throttle: throttle, logger: deps.Logger})
	r.Register(&deudaAdapter{broker: deps.Broker, throttle: throttle, logger: deps.Logger})
	r.Register(&cotizacionesAdapter{broker: deps.Broker, solver: deps.Solver, throttle: throttle, logger: deps.Logger})
	r.Register(&noMatrimonioAdapter{broker: deps.Broker, throttle: throttle, logger: deps.Logger})
	r.Register(newCivilAdapter("matrimonio", "/registro-civil/matrimonio", deps.Civil, deps.Logger))
	r.Register(newCivilAdapter("nacimiento", "/registro-civil/nacimiento", deps.Civil, deps.Logger))

	return r
}

// Register adds or replaces the adapter for its document type.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.ID()] = a
}

// Lookup returns the adapter for a catalog identifier.
func (r *Registry) Lookup(id string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	return a, ok
}

// IDs lists the registered document types in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func successResult(docType, message, payload string) types.DocumentResult {
	return types.DocumentResult{
		DocumentType: docType,
		Success:      true,
		Message:      message,
		Payload:      payload,
	}
}
