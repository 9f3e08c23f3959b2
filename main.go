package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/zalogate/zalogate/internal/auth"
	"github.com/zalogate/zalogate/internal/bridge"
	"github.com/zalogate/zalogate/internal/config"
	"github.com/zalogate/zalogate/internal/credstore"
	"github.com/zalogate/zalogate/internal/database"
	"github.com/zalogate/zalogate/internal/handlers"
	"github.com/zalogate/zalogate/internal/logging"
	"github.com/zalogate/zalogate/internal/middleware"
	"github.com/zalogate/zalogate/internal/notify"
	"github.com/zalogate/zalogate/internal/platform"
	"github.com/zalogate/zalogate/internal/proxypool"
	"github.com/zalogate/zalogate/internal/relay"
	"github.com/zalogate/zalogate/internal/session"
	"github.com/zalogate/zalogate/internal/webhook"
)

func main() {
	// Handle CLI commands before starting the server
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--create-admin":
			runCLICommand("create-admin")
			return
		case "--reset-password":
			runCLICommand("reset-password")
			return
		}
	}

	config.Load()
	logging.Init()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	if err := ensureAdmin(); err != nil {
		log.Fatalf("Admin seed: %v", err)
	}

	log.Printf("Config: AuthDisabled=%v, Bridge=%s, MaxAccountsPerProxy=%d",
		config.Cfg.AuthDisabled, config.Cfg.BridgeURL, config.Cfg.MaxAccountsPerProxy)

	// Operator session store
	sessionStore := auth.NewSessionStore()
	handlers.SessionStore = sessionStore

	// Proxy pool, backed by the proxies table
	pool, err := proxypool.New(proxypool.NewDBStore(database.DB), config.Cfg.MaxAccountsPerProxy)
	if err != nil {
		log.Fatalf("Proxy pool init: %v", err)
	}
	handlers.Proxies = pool

	// Webhook routing and delivery
	routes := webhook.NewRouteTable(
		config.Cfg.MessageWebhookURL,
		config.Cfg.GroupEventWebhookURL,
		config.Cfg.ReactionWebhookURL,
	)
	if config.Cfg.WebhookRoutesFile != "" {
		if err := routes.LoadFile(config.Cfg.WebhookRoutesFile); err != nil {
			log.Fatalf("Webhook routes: %v", err)
		}
	}
	sender := webhook.NewClient(config.Cfg.WebhookTimeout, config.Cfg.LoginSuccessWebhookURL)

	// UI notification websocket hub
	hub := notify.NewHub()

	// Session manager over the zca bridge sidecar
	manager := session.NewManager(
		session.Config{
			Cooldown:       config.Cfg.ReloginCooldown,
			MaxAttempts:    config.Cfg.MaxRetryAttempts,
			ResetAfter:     config.Cfg.RetryResetAfter,
			RetryDelayCap:  config.Cfg.RetryDelayCap,
			HealthInterval: config.Cfg.HealthCheckInterval,
		},
		bridge.NewConnector(config.Cfg.BridgeURL),
		credstore.New(database.DB),
		pool,
		relay.New(routes, sender),
	)
	manager.OnLoginSuccess(func(profile *platform.Profile, trackingID, proxyURL string) {
		sender.NotifyLoginSuccess(profile, trackingID, proxyURL)
		hub.Broadcast("login_success")
	})
	handlers.Sessions = manager

	// Periodic maintenance
	scheduler := cron.New()
	scheduler.AddFunc("@every 10m", sessionStore.Cleanup)
	scheduler.AddFunc("@every 15m", func() { proxypool.SweepAlive(pool) })
	scheduler.Start()
	defer scheduler.Stop()

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// Health (no auth)
	r.Get("/health", handlers.HealthCheck)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Auth endpoints (no auth required)
		r.Post("/auth/login", handlers.Login)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(sessionStore))

			r.Post("/auth/logout", handlers.Logout)
			r.Get("/auth/me", handlers.GetCurrentUser)

			// Account sessions
			r.Post("/login", handlers.AccountLogin)
			r.Get("/accounts", handlers.ListAccounts)
			r.Get("/accounts/{ownId}", handlers.GetAccount)
			r.Delete("/accounts/{ownId}", handlers.DeleteAccount)

			// Messaging passthrough
			r.Get("/findUser", handlers.FindUser)
			r.Post("/message", handlers.SendMessage)

			// Proxies
			r.Get("/proxies", handlers.ListProxies)
			r.Post("/proxies", handlers.AddProxy)
			r.Delete("/proxies", handlers.RemoveProxy)
			r.Post("/proxies/check", handlers.CheckProxy)

			// Notifications websocket
			r.Get("/ws", hub.Handle)

			// Admin-only routes
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin)

				r.Get("/users", handlers.ListUsers)
				r.Post("/users", handlers.CreateUser)
				r.Delete("/users/{id}", handlers.DeleteUser)
				r.Put("/users/{id}/password", handlers.ChangePassword)

				r.Get("/server-logs", handlers.GetServerLogs)
				r.Delete("/server-logs", handlers.ClearServerLogs)
			})
		})
	})

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Restore stored accounts once the server is up
	go manager.Bootstrap(sigCtx)

	<-sigCtx.Done()
	log.Println("Shutting down...")

	manager.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

// ensureAdmin seeds the default admin account on first boot so the service
// is usable before any operator exists.
func ensureAdmin() error {
	count, err := database.UserCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := auth.HashPassword(config.Cfg.AdminDefaultPassword)
	if err != nil {
		return err
	}
	if err := database.CreateUser(&database.User{
		Username:     "admin",
		PasswordHash: hash,
		Role:         "admin",
	}); err != nil {
		return err
	}
	log.Printf("Seeded default admin user (change the password immediately)")
	return nil
}

func runCLICommand(command string) {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	username := fs.String("username", "", "Username")
	password := fs.String("password", "", "Password")
	fs.Parse(os.Args[2:])

	if *username == "" || *password == "" {
		fmt.Fprintf(os.Stderr, "Usage: zalogate --%s --username <user> --password <pass>\n", command)
		os.Exit(1)
	}

	config.Load()
	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	hash, err := auth.HashPassword(*password)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}

	switch command {
	case "create-admin":
		user := &database.User{
			Username:     *username,
			PasswordHash: hash,
			Role:         "admin",
		}
		if err := database.CreateUser(user); err != nil {
			log.Fatalf("Failed to create admin: %v", err)
		}
		fmt.Printf("Admin user '%s' created successfully.\n", *username)

	case "reset-password":
		user, err := database.GetUserByUsername(*username)
		if err != nil {
			log.Fatalf("User '%s' not found", *username)
		}
		if err := database.UpdateUserPassword(user.ID, hash); err != nil {
			log.Fatalf("Failed to update password: %v", err)
		}
		fmt.Printf("Password reset for '%s'.\n", *username)
	}
}
