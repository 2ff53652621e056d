package routes

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/sardorbek21324/Home/controllers/admins"
	"github.com/sardorbek21324/Home/controllers/telegram"
	"github.com/sardorbek21324/Home/middleware"
)

// Deps are the wired controllers the router mounts.
type Deps struct {
	Admin   *admins.Handler
	Webhook *telegram.Handler
}

func InitRouter(deps Deps) *mux.Router {
	r := mux.NewRouter()

	// Health check endpoint for Docker health checks (root level)
	r.Handle("/health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    "healthy",
			"timestamp": time.Now().Unix(),
			"service":   "homebot-api",
		})
	})).Methods(http.MethodGet)

	// CORS for the admin panel; origins from CORS_ALLOWED_ORIGINS.
	origins := []string{"http://localhost:3000", "http://127.0.0.1:3000"}
	if originsEnv := os.Getenv("CORS_ALLOWED_ORIGINS"); originsEnv != "" {
		for _, p := range strings.Split(originsEnv, ",") {
			if o := strings.TrimSpace(p); o != "" {
				origins = append(origins, o)
			}
		}
	}
	r.Use(func(next http.Handler) http.Handler {
		return handlers.CORS(
			handlers.AllowedOrigins(origins),
			handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"}),
			handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Requested-With", "X-Request-ID"}),
			handlers.AllowCredentials(),
		)(next)
	})

	setWebhookRoutes(r, deps.Webhook)
	SetAdminRoutes(r, deps.Admin)

	return r
}

// setWebhookRoutes mounts the Telegram webhook behind a rate limit and an
// optional shared-secret header check.
func setWebhookRoutes(r *mux.Router, h *telegram.Handler) {
	limiter := middleware.NewWebhookLimiter(120, time.Minute, splitEnvList("WEBHOOK_IP_WHITELIST"))
	endpoint := http.Handler(http.HandlerFunc(h.Webhook))
	if secret := os.Getenv("TELEGRAM_WEBHOOK_SECRET"); secret != "" {
		inner := endpoint
		endpoint = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-Telegram-Bot-Api-Secret-Token") != secret {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			inner.ServeHTTP(w, r)
		})
	}
	r.Handle("/telegram/webhook", limiter.Middleware(endpoint)).Methods(http.MethodPost)
}

func splitEnvList(key string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(key), ",") {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
