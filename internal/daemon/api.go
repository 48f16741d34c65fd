// internal/daemon/api.go
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/colebrumley/amitrigger/internal/ami"
	"github.com/colebrumley/amitrigger/internal/catalog"
	"github.com/colebrumley/amitrigger/internal/config"
)

const maxHistoryLimit = 500

// serveHTTP runs the health, API and webhook endpoints until ctx is done.
func (d *Daemon) serveHTTP(ctx context.Context) error {
	addr := net.JoinHostPort(d.config.Daemon.ListenAddress, strconv.Itoa(d.config.Daemon.ListenPort))
	d.httpServer = &http.Server{
		Addr:              addr,
		Handler:           d.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		d.logger.Info("starting HTTP server", "address", addr)
		if err := d.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return d.httpServer.Shutdown(shutdownCtx)
}

// Handler returns the daemon's HTTP routes.
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", rateLimitHandler(60, d.handleHealth))
	mux.HandleFunc("/api/triggers", rateLimitHandler(30, d.handleAPITriggers))
	mux.HandleFunc("/api/history", rateLimitHandler(30, d.handleAPIHistory))
	mux.HandleFunc("/api/actions", rateLimitHandler(30, d.handleAPIActions))
	mux.HandleFunc("POST /api/triggers/{name}/poll", rateLimitHandler(10, d.handleAPIPoll))
	mux.HandleFunc("/api/test-filter", rateLimitHandler(10, d.handleAPITestFilter))

	// Webhook handler (catch-all)
	mux.HandleFunc("/", rateLimitHandler(10, func(w http.ResponseWriter, r *http.Request) {
		d.mu.RLock()
		wh, ok := d.webhooks[r.URL.Path]
		d.mu.RUnlock()

		if !ok {
			http.NotFound(w, r)
			return
		}

		if wh.HandleRequest(r, d.events) {
			w.WriteHeader(http.StatusAccepted)
			w.Write([]byte("OK"))
		} else {
			http.Error(w, "Forbidden", http.StatusForbidden)
		}
	}))

	return mux
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	d.mu.RLock()
	enabled := len(d.triggers)
	loaded := enabled + len(d.disabled)
	d.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"version":          d.version,
		"uptime":           time.Since(d.startTime).Truncate(time.Second).String(),
		"triggers_loaded":  loaded,
		"triggers_enabled": enabled,
		"state_db":         d.stateDB != nil,
	})
}

// TriggerStatus is one entry of GET /api/triggers.
type TriggerStatus struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Enabled     bool       `json:"enabled"`
	DryRun      bool       `json:"dry_run"`
	Schedule    string     `json:"schedule"`
	NextPoll    *time.Time `json:"next_poll,omitempty"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	Filters     int        `json:"filters"`
	Webhook     string     `json:"webhook,omitempty"`
	Polling     bool       `json:"polling"`
	LastAction  string     `json:"last_action,omitempty"`
}

// Triggers returns the status of every loaded definition, sorted by name.
func (d *Daemon) Triggers(ctx context.Context) []TriggerStatus {
	d.mu.RLock()
	out := make([]TriggerStatus, 0, len(d.triggers)+len(d.disabled))
	for _, rt := range d.triggers {
		st := triggerStatus(rt.def)
		next := rt.sources.Scheduled.Next()
		if !next.IsZero() {
			st.NextPoll = &next
		}
		last := rt.engine.LastRun()
		st.LastRun = &last
		st.Polling = rt.engine.Running()
		out = append(out, st)
	}
	for _, def := range d.disabled {
		out = append(out, triggerStatus(def))
	}
	d.mu.RUnlock()

	if d.stateDB != nil {
		for i := range out {
			if s, err := d.stateDB.GetLastActionState(ctx, out[i].Name); err == nil {
				out[i].LastAction = s
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func triggerStatus(def *config.TriggerDef) TriggerStatus {
	st := TriggerStatus{
		Name:        def.Name,
		Description: def.Description,
		Enabled:     def.Enabled,
		DryRun:      def.DryRun,
		Schedule:    def.ScheduleSpec(),
		Filters:     len(def.Filters),
	}
	if def.Webhook != nil {
		st.Webhook = def.Webhook.ListenPath
	}
	return st
}

func (d *Daemon) handleAPITriggers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, d.Triggers(r.Context()))
}

func (d *Daemon) handleAPIHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if d.stateDB == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}

	q := r.URL.Query()
	records, err := d.stateDB.GetEvaluations(r.Context(), q.Get("trigger"), q.Get("outcome"), queryLimit(r))
	if err != nil {
		http.Error(w, fmt.Sprintf("querying history: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (d *Daemon) handleAPIActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if d.stateDB == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}

	q := r.URL.Query()
	records, err := d.stateDB.GetActions(r.Context(), q.Get("trigger"), q.Get("state"), queryLimit(r))
	if err != nil {
		http.Error(w, fmt.Sprintf("querying actions: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (d *Daemon) handleAPIPoll(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := d.Poll(name, map[string]any{"remote_addr": r.RemoteAddr}); err != nil {
		status := http.StatusNotFound
		switch {
		case errors.Is(err, ErrQueueFull):
			status = http.StatusServiceUnavailable
		case errors.Is(err, ErrTriggerDisabled):
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "trigger": name})
}

// TestFilterRequest is the body of POST /api/test-filter. When Trigger names
// a loaded definition its credentials and region are used unless overridden.
type TestFilterRequest struct {
	Trigger string     `json:"trigger,omitempty"`
	Region  string     `json:"region,omitempty"`
	Profile string     `json:"profile,omitempty"`
	Filter  ami.Filter `json:"filter"`
}

// TestFilter runs f once against the catalog through the shared client pool.
func (d *Daemon) TestFilter(ctx context.Context, req TestFilterRequest) (*ami.Preview, error) {
	if err := config.ValidateFilter(req.Filter); err != nil {
		return nil, err
	}

	def := &config.TriggerDef{Region: req.Region, CredentialsID: req.Profile}
	if req.Trigger != "" {
		d.mu.RLock()
		if rt, ok := d.triggers[req.Trigger]; ok {
			def = rt.def
		} else if off, ok := d.disabled[req.Trigger]; ok {
			def = off
		}
		d.mu.RUnlock()
	}
	cfg := catalog.ConfigFor(d.config, def)
	if req.Region != "" {
		cfg.Region = req.Region
	}
	if req.Profile != "" {
		cfg.Profile = req.Profile
	}

	cat, err := d.pool.Get(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return ami.PreviewFilter(ctx, cat, req.Filter)
}

func (d *Daemon) handleAPITestFilter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req TestFilterRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024)).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}

	preview, err := d.TestFilter(r.Context(), req)
	if err != nil {
		if errors.Is(err, config.ErrInvalidFilter) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func queryLimit(r *http.Request) int {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// rateLimitHandler wraps an HTTP handler with a simple token-bucket rate limiter.
func rateLimitHandler(requestsPerMinute int, handler http.HandlerFunc) http.HandlerFunc {
	var mu sync.Mutex
	tokens := requestsPerMinute
	lastRefill := time.Now()

	return func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		now := time.Now()
		refill := int(now.Sub(lastRefill).Minutes() * float64(requestsPerMinute))
		if refill > 0 {
			tokens = min(tokens+refill, requestsPerMinute)
			lastRefill = now
		}

		if tokens <= 0 {
			mu.Unlock()
			w.Header().Set("Retry-After", "60")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		tokens--
		mu.Unlock()

		handler(w, r)
	}
}
