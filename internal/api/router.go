package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-identity/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware. The access log sits outside recovery so a panic
	// is still recorded as a 500.
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.accessLogMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	live := func(code string) func(http.Handler) http.Handler {
		return s.requirePermission(code, auth.StrategyLive)
	}
	snapshot := func(code string) func(http.Handler) http.Handler {
		return s.requirePermission(code, auth.StrategySnapshot)
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		r.Get("/auth/public-key", s.handlePublicKey)
		r.Post("/auth/refresh", s.handleRefresh)

		// Credential endpoints, limited per client IP
		r.Group(func(r chi.Router) {
			r.Use(s.rateLimitMiddleware)
			r.Post("/auth/send-code", s.handleSendCode)
			r.Post("/auth/register", s.handleRegister)
			r.Put("/auth/session", s.handleRegister)
			r.Post("/auth/login", s.handleLogin)
			r.Post("/auth/session", s.handleLogin)
		})

		// Session stream (auth via ticket, validated in handler)
		r.Get("/admin/sessions/stream", s.handleSessionStream)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/logout", s.handleLogout)
			r.Delete("/auth/session", s.handleLogout)
			r.Get("/auth/me", s.handleMe)
			r.Put("/auth/me/password", s.handleChangePassword)
			r.With(live(auth.PermAdminUsersRead)).Post("/auth/ws-ticket", s.handleWSTicket)

			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", s.handleListSessions)
				r.Post("/heartbeat", s.handleHeartbeat)
				r.Delete("/{id}", s.handleCloseSession)
			})

			r.With(snapshot(auth.PermStatsRead)).Get("/users/me/stats", s.handleMyStats)
			r.With(snapshot(auth.PermStatsWrite)).Post("/users/me/stats", s.handleReportStats)

			// Companion app only
			r.Route("/client", func(r chi.Router) {
				r.Use(s.requireCompanion)
				r.With(snapshot(auth.PermSyncDownload)).Get("/settings", s.handleGetClientSettings)
				r.With(snapshot(auth.PermSyncUpload)).Patch("/settings", s.handlePatchClientSettings)
			})

			// Admin endpoints always check grants against the store.
			r.Route("/admin", func(r chi.Router) {
				r.Group(func(r chi.Router) {
					r.Use(live(auth.PermAdminUsersRead))
					r.Get("/users", s.handleAdminListUsers)
					r.Get("/users/{id}", s.handleAdminGetUser)
					r.Get("/users/{id}/sessions", s.handleAdminUserSessions)
					r.Get("/sessions/users/{id}", s.handleAdminUserSessions)
					r.Get("/roles", s.handleAdminListRoles)
					r.Get("/roles/{id}/users", s.handleAdminRoleUsers)
					r.Get("/permissions", s.handleAdminListPermissions)
					r.Get("/permissions/{id}/roles", s.handleAdminPermissionRoles)
					r.Get("/api-logs", s.handleAdminAccessLogs)
					r.Get("/stats", s.handleAdminStats)
					r.Get("/audit", s.handleAdminAuditLog)
				})

				r.Group(func(r chi.Router) {
					r.Use(live(auth.PermAdminUsersWrite))
					r.Put("/users/{id}/roles", s.handleAdminSetUserRoles)
					r.Patch("/users/{id}/client-access", s.handleAdminSetClientAccess)
				})

				r.Group(func(r chi.Router) {
					r.Use(live(auth.PermAdminRolesWrite))
					r.Post("/roles", s.handleAdminCreateRole)
					r.Put("/roles/{id}", s.handleAdminUpdateRole)
					r.Put("/roles/{id}/permissions", s.handleAdminSetRolePermissions)
					r.Delete("/roles/{id}", s.handleAdminDeleteRole)
					r.Post("/permissions", s.handleAdminCreatePermission)
					r.Put("/permissions/{id}", s.handleAdminUpdatePermission)
					r.Delete("/permissions/{id}", s.handleAdminDeletePermission)
				})
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
