package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/joho/godotenv"

	"github.com/sardorbek21324/Home/advisor"
	adminctl "github.com/sardorbek21324/Home/controllers/admins"
	tgctl "github.com/sardorbek21324/Home/controllers/telegram"
	"github.com/sardorbek21324/Home/database"
	"github.com/sardorbek21324/Home/engine"
	"github.com/sardorbek21324/Home/middleware"
	"github.com/sardorbek21324/Home/notify"
	"github.com/sardorbek21324/Home/routes"
	"github.com/sardorbek21324/Home/scheduler"
	"github.com/sardorbek21324/Home/store"
	"github.com/sardorbek21324/Home/utils"
)

func main() {
	// Load .env if present without overwriting already-set variables.
	if envMap, err := godotenv.Read(); err == nil {
		for k, v := range envMap {
			if os.Getenv(k) == "" {
				os.Setenv(k, v)
			}
		}
	}

	for _, envVar := range []string{"DB_HOST", "DB_USER", "DB_NAME", "JWT_SECRET", "TELEGRAM_BOT_TOKEN"} {
		if os.Getenv(envVar) == "" {
			log.Fatalf("Required environment variable %s is not set", envVar)
		}
	}

	db, err := database.Connect()
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	st := store.NewGorm(db)
	bot := notify.NewTelegram(os.Getenv("TELEGRAM_BOT_TOKEN"), os.Getenv("TELEGRAM_API_URL"))
	adaptive := advisor.NewController(st)
	advice := advisor.NewAdviceClient()

	engCfg := engineConfigFromEnv()
	eng := engine.New(st, engCfg)

	schedCfg := schedulerConfigFromEnv()
	sched := scheduler.New(st, eng, engCfg, bot, adaptive, schedCfg).WithAdvice(advice)
	archive := utils.NewProofArchive()
	if archive != nil {
		sched = sched.WithArchive(archive)
	}
	sched.Start()
	defer sched.Shutdown()

	admin := adminctl.NewHandler(st, sched, adaptive, advice)
	admin.Archive = archive

	router := routes.InitRouter(routes.Deps{
		Admin:   admin,
		Webhook: tgctl.NewHandler(st, sched, bot),
	})

	// Access log -> security headers -> request id -> body cap -> timeout -> recovery
	handler := handlers.LoggingHandler(os.Stdout,
		middleware.SecurityHeadersMiddleware(
			middleware.RequestIDMiddleware(
				middleware.MaxBodyMiddleware(
					middleware.TimeoutMiddleware(
						middleware.RecoveryMiddleware(router),
					),
				),
			),
		),
	)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on port %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("Server exited")
}

func envInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
	}
	return def
}

func engineConfigFromEnv() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.DeferStepMinutes = envInt("HOMEBOT_DEFER_STEP_MIN", cfg.DeferStepMinutes)
	cfg.CancelGraceMinutes = envInt("HOMEBOT_CANCEL_GRACE_MIN", cfg.CancelGraceMinutes)
	cfg.VoteWaitMinutes = envInt("HOMEBOT_VOTE_WAIT_MIN", cfg.VoteWaitMinutes)
	cfg.ReannounceCooldownMinutes = envInt("HOMEBOT_REANNOUNCE_COOLDOWN_MIN", cfg.ReannounceCooldownMinutes)
	cfg.MinReviewers = envInt("HOMEBOT_MIN_REVIEWERS", cfg.MinReviewers)
	return cfg
}

func schedulerConfigFromEnv() scheduler.Config {
	cfg := scheduler.DefaultConfig()
	cfg.MaxActiveAnnounced = envInt("HOMEBOT_MAX_ACTIVE", cfg.MaxActiveAnnounced)
	cfg.AnnounceCutoffMinutes = envInt("HOMEBOT_ANNOUNCE_CUTOFF_MIN", cfg.AnnounceCutoffMinutes)
	cfg.GenerationHour = envInt("HOMEBOT_GENERATION_HOUR", cfg.GenerationHour)
	if raw := os.Getenv("HOMEBOT_QUIET_HOURS"); raw != "" {
		quiet, err := scheduler.ParseQuietHours(raw)
		if err != nil {
			log.Fatalf("invalid HOMEBOT_QUIET_HOURS: %v", err)
		}
		cfg.Quiet = quiet
	}
	return cfg
}
