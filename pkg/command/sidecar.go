package command

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/maand-sh/maand/pkg/log"
	"github.com/maand-sh/maand/pkg/storage"
	"github.com/maand-sh/maand/pkg/types"
	"github.com/maand-sh/maand/pkg/vars"
)

// Sidecar is the local HTTP endpoint command plugins call back through
// (spec.md §4.K, §9): a narrow {kv_get, kv_put, demands} surface. One
// Sidecar serves every concurrent allocation of a single command
// invocation; requests disambiguate via the X-ALLOCATION-ID header, as
// spec.md §9 specifies.
type Sidecar struct {
	store storage.Tx

	mu       sync.Mutex
	contexts map[string]*AllocationContext

	listener net.Listener
	server   *http.Server
}

// AllocationContext is the per-allocation state the sidecar needs to
// answer a request: which job/event this invocation belongs to (for the
// kv_put gate) and its resolved demands.
type AllocationContext struct {
	Job     string
	Event   types.HookEvent
	Demands []Demand
}

// NewSidecar builds a sidecar bound to tx for the duration of one command
// invocation across all its allocations.
func NewSidecar(store storage.Tx) *Sidecar {
	return &Sidecar{store: store, contexts: map[string]*AllocationContext{}}
}

// Register associates allocationID (the host_id) with its context before
// dispatching that allocation's subprocess.
func (s *Sidecar) Register(allocationID string, ctx *AllocationContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[allocationID] = ctx
}

// Unregister drops an allocation's context once its invocation completes.
func (s *Sidecar) Unregister(allocationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, allocationID)
}

// Start listens on loopback on an OS-assigned port and returns its
// address (host:port), for MAAND_SIDECAR_ADDR.
func (s *Sidecar) Start() (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("start command sidecar: %w", err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/kv_get", s.handleKVGet)
	mux.HandleFunc("/kv_put", s.handleKVPut)
	mux.HandleFunc("/demands", s.handleDemands)
	s.server = &http.Server{Handler: mux}

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.WithComponent("command").Error().Err(err).Msg("command sidecar stopped")
		}
	}()
	return ln.Addr().String(), nil
}

// Stop shuts the sidecar down.
func (s *Sidecar) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Sidecar) contextFor(r *http.Request) (*AllocationContext, bool) {
	id := r.Header.Get("X-ALLOCATION-ID")
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, ok := s.contexts[id]
	return ctx, ok
}

type kvGetRequest struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
}

type kvGetResponse struct {
	Value string `json:"value"`
	Found bool   `json:"found"`
}

func (s *Sidecar) handleKVGet(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.contextFor(r); !ok {
		http.Error(w, "unknown allocation", http.StatusForbidden)
		return
	}
	var req kvGetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	value, found, err := s.store.Get(req.Namespace, req.Key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, kvGetResponse{Value: value, Found: found})
}

type kvPutRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *Sidecar) handleKVPut(w http.ResponseWriter, r *http.Request) {
	allocCtx, ok := s.contextFor(r)
	if !ok {
		http.Error(w, "unknown allocation", http.StatusForbidden)
		return
	}
	var req kvPutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// kv_put gate (spec.md §4.K): only during non-health_check events, only
	// to job/<self>, and the key must already be in canonical lowercase
	// form and not a reserved derived name.
	if allocCtx.Event == types.EventHealthCheck {
		http.Error(w, "kv_put is not permitted during health_check", http.StatusForbidden)
		return
	}
	if err := vars.ValidateWriteKey(req.Key); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	ns := "job/" + allocCtx.Job
	if err := s.store.Put(ns, req.Key, req.Value, 0); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *Sidecar) handleDemands(w http.ResponseWriter, r *http.Request) {
	allocCtx, ok := s.contextFor(r)
	if !ok {
		http.Error(w, "unknown allocation", http.StatusForbidden)
		return
	}
	demands := allocCtx.Demands
	if demands == nil {
		demands = []Demand{}
	}
	writeJSON(w, demands)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
