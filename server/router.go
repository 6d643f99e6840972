package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes constructs the HTTP router: auth endpoints, task CRUD, and the
// static SPA fallback.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger))
	r.Use(a.SessionMiddleware)

	r.Get("/api/auth/google/login", a.handleLogin)
	r.Get("/api/auth/google/callback", a.handleCallback)
	r.With(a.RequireAuth, a.VerifyCSRF).Post("/api/auth/logout", a.handleLogout)

	r.With(a.RequireAuth).Get("/api/user", a.handleUser)

	r.Route("/api/tasks", func(r chi.Router) {
		r.Use(a.RequireAuth)
		r.Get("/", a.handleListTasks)
		r.With(a.VerifyCSRF).Post("/", a.handleCreateTask)
		r.With(a.VerifyCSRF).Put("/{id}", a.handleUpdateTask)
		r.With(a.VerifyCSRF).Delete("/{id}", a.handleDeleteTask)
	})

	r.NotFound(a.handleStatic)

	return r
}
