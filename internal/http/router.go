package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"finesync/internal/auth"
	"finesync/internal/config"
	"finesync/internal/fines"
	"finesync/internal/http/handler"
	mw "finesync/internal/http/middleware"
	"finesync/internal/synctask"
)

func NewRouter(
	cfg config.Config,
	gdb *gorm.DB,
	jwtSvc *auth.JWT,
	proc *synctask.Processor,
	seeder *synctask.Seeder,
	fineStore *fines.Store,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(mw.CORS(cfg.CORSAllowedOrigins, cfg.CORSAllowCredentials))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	th := &handler.TokenHandler{JWT: jwtSvc, APIKeyHash: cfg.APIKeyHash, APIKey: cfg.APIKey}
	r.Post("/auth/token", th.Token)

	sh := &handler.SyncHandler{Processor: proc, Seeder: seeder}
	r.Route("/sync", func(r chi.Router) {
		r.Use(auth.RequireAuth(jwtSvc))

		r.Post("/run", sh.Run)
		r.Post("/cycle/reset", sh.ResetCycle)
		r.Post("/seed", sh.Seed)
	})

	taskH := &handler.TaskHandler{DB: gdb, Seeder: seeder}
	r.Route("/tasks", func(r chi.Router) {
		r.Use(auth.RequireAuth(jwtSvc))

		r.Post("/", taskH.Create)
		r.Get("/", taskH.List)
	})

	fineH := &handler.FineHandler{Store: fineStore}
	r.With(auth.RequireAuth(jwtSvc)).Get("/vehicles/{plate}/fines", fineH.List)

	return r
}
