package routes

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/sardorbek21324/Home/controllers/admins"
	"github.com/sardorbek21324/Home/middleware"
)

func SetAdminRoutes(api *mux.Router, h *admins.Handler) {
	// Rate limiter for admin login: 5 attempts per IP per minute
	adminLoginLimiter := middleware.NewIPRateLimiter(5, time.Minute)

	// Public admin routes
	api.Handle("/admin/login", adminLoginLimiter.Middleware(http.HandlerFunc(admins.Login))).Methods(http.MethodPost)

	// Protected admin routes
	adminRouter := api.PathPrefix("/admin").Subrouter()
	adminRouter.Use(middleware.AdminAuthMiddleware)

	adminRouter.Handle("/logout", http.HandlerFunc(admins.Logout)).Methods(http.MethodPost)

	// Chore catalog
	adminRouter.Handle("/templates", http.HandlerFunc(h.ListTemplates)).Methods(http.MethodGet)
	adminRouter.Handle("/templates", http.HandlerFunc(h.CreateTemplate)).Methods(http.MethodPost)

	// Task instances and manual scheduling actions
	adminRouter.Handle("/tasks", http.HandlerFunc(h.ListTasks)).Methods(http.MethodGet)
	adminRouter.Handle("/tasks/regenerate", http.HandlerFunc(h.RegenerateToday)).Methods(http.MethodPost)
	adminRouter.Handle("/tasks/{id:[0-9]+}/reannounce", http.HandlerFunc(h.ReannounceTask)).Methods(http.MethodPost)
	adminRouter.Handle("/tasks/{id:[0-9]+}/proof", http.HandlerFunc(h.ProofLink)).Methods(http.MethodGet)
	adminRouter.Handle("/jobs", http.HandlerFunc(h.ListJobs)).Methods(http.MethodGet)

	// Scoring
	adminRouter.Handle("/scores", http.HandlerFunc(h.Leaderboard)).Methods(http.MethodGet)

	// Adaptive reward knobs and advisor
	adminRouter.Handle("/adaptive-config", http.HandlerFunc(h.GetAdaptiveConfig)).Methods(http.MethodGet)
	adminRouter.Handle("/adaptive-config", http.HandlerFunc(h.UpdateAdaptiveConfig)).Methods(http.MethodPut)
	adminRouter.Handle("/advisor/stats", http.HandlerFunc(h.AdvisorStats)).Methods(http.MethodGet)
	adminRouter.Handle("/advisor/health", http.HandlerFunc(h.AdvisorHealth)).Methods(http.MethodGet)
}
