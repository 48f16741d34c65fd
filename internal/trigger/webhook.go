// internal/trigger/webhook.go
package trigger

import (
	"crypto/subtle"
	"net/http"
	"os"

	"github.com/colebrumley/amitrigger/internal/config"
)

// Webhook lets an HTTP POST force a poll, e.g. from an image pipeline
// that just published an AMI. The daemon's shared HTTP server routes
// requests to HandleRequest.
type Webhook struct {
	passive
	listenPath    string
	requireSecret bool
	secretHeader  string
	secret        string
}

// NewWebhook creates a webhook trigger. The secret is read from the
// configured environment variable once at construction.
func NewWebhook(name string, cfg *config.Webhook) *Webhook {
	var secret string
	if cfg.RequireSecret && cfg.SecretEnvVar != "" {
		secret = os.Getenv(cfg.SecretEnvVar)
	}

	return &Webhook{
		passive:       passive{name: name},
		listenPath:    cfg.ListenPath,
		requireSecret: cfg.RequireSecret,
		secretHeader:  cfg.SecretHeader,
		secret:        secret,
	}
}

func (w *Webhook) ListenPath() string {
	return w.listenPath
}

// HandleRequest checks an incoming request and queues a poll. It returns
// false when the request is rejected or the queue is full.
func (w *Webhook) HandleRequest(r *http.Request, events chan<- Event) bool {
	if r.Method != http.MethodPost {
		return false
	}

	// A required secret with no value configured rejects everything.
	if w.requireSecret {
		got := r.Header.Get(w.secretHeader)
		if w.secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(w.secret)) != 1 {
			return false
		}
	}

	return queue(events, w.name, SourceWebhook, map[string]any{
		"http_path":   r.URL.Path,
		"remote_addr": r.RemoteAddr,
	})
}
