package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	sharedmiddleware "firesync/internal/shared/middleware"
)

// NewRouter builds the API router.
func NewRouter(sync *SyncHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(sharedmiddleware.SecurityHeaders)
	r.Use(sharedmiddleware.Tracing)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/connections", sync.HandleCreateConnection)
		r.Route("/connections/{connectionID}", func(r chi.Router) {
			r.Get("/", sync.HandleGetConnection)
			r.Get("/accounts", sync.HandleListAccounts)
			r.Post("/sync", sync.HandleTriggerSync)
			r.Get("/sync", sync.HandleSyncStatus)
		})
		r.Put("/accounts/{accountID}/primary", sync.HandleSetPrimary)
	})

	return r
}
