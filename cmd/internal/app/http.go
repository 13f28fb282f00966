package app

import (
	"encoding/json"
	"net/http"
	"time"

	"whatsroom/cmd/internal/realtime"
	"whatsroom/cmd/internal/roomapi"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func newRouter(
	log Logger,
	cfg Config,
	dbPool *pgxpool.Pool,
	dbEnabled bool,
	promReg *prometheus.Registry,
	rooms *roomapi.Handler,
	ws *realtime.Gateway,
) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "service": ServiceName})
	}).Methods(http.MethodGet)

	r.HandleFunc("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if cfg.ReadinessRequireDB && !dbEnabled {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": "db not configured"})
			return
		}

		if dbEnabled && dbPool != nil {
			if err := PingDB(req.Context(), dbPool, 2*time.Second); err != nil {
				log.Info("readyz.db.not_ready", "err", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": "db not ready"})
				return
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	rooms.Register(r)

	r.HandleFunc("/ws", ws.HandleWS)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "Not found"})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
