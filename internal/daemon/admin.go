package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/matheus3301/relay/internal/session"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Admin serves /metrics and /healthz over TCP when metrics_addr is configured.
type Admin struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewAdmin returns nil when addr is empty.
func NewAdmin(addr string, mgr *session.Manager, logger *zap.Logger) *Admin {
	if addr == "" {
		return nil
	}
	return &Admin{
		srv: &http.Server{
			Addr:              addr,
			Handler:           newAdminRouter(mgr),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

func newAdminRouter(mgr *session.Manager) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		info := mgr.Info()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"state":     info.State,
			"connected": info.Connected,
		})
	})
	return r
}

// Start listens in the background. A nil Admin does nothing.
func (a *Admin) Start() error {
	if a == nil {
		return nil
	}
	ln, err := net.Listen("tcp", a.srv.Addr)
	if err != nil {
		return err
	}
	a.logger.Info("admin server starting", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := a.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("admin server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the server down.
func (a *Admin) Stop(ctx context.Context) {
	if a == nil {
		return
	}
	if err := a.srv.Shutdown(ctx); err != nil {
		a.logger.Warn("admin server shutdown", zap.Error(err))
	}
}
