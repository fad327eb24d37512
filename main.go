package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cfg "github.com/example/accountd/internal/config"
	"github.com/gorilla/mux"
	_ "modernc.org/sqlite"
)

var jwtSecret []byte

type App struct {
	DB   Store
	Mail Mailer
	// from config
	ClientURL          string
	RevealUnknownEmail bool
	AllowedOrigins     []string
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write json: %v", err)
	}
}

func newRouter(app *App) *mux.Router {
	r := mux.NewRouter()

	r.Use(SecurityHeaders)
	r.Use(app.Logging)
	r.Use(app.CORS)

	// Health check endpoints (no auth required)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")
	r.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if p, ok := app.DB.(interface{ ping() bool }); ok {
			if !p.ping() {
				w.WriteHeader(503)
				w.Write([]byte(`{"ready":false}`))
				return
			}
		}
		w.WriteHeader(200)
		w.Write([]byte(`{"ready":true}`))
	}).Methods("GET")

	// User endpoints
	u := r.PathPrefix("/api/users").Subrouter()
	u.HandleFunc("/register", app.HandleRegister).Methods("POST")
	u.HandleFunc("/login", app.HandleLogin).Methods("POST")
	u.HandleFunc("/forgot-password", app.HandleForgotPassword).Methods("POST")
	u.HandleFunc("/reset-password", app.HandleResetPasswordForm).Methods("GET")
	u.HandleFunc("/reset-password", app.HandleResetPassword).Methods("POST")
	u.HandleFunc("/deactivate", app.RequireAuth(app.HandleDeactivate)).Methods("PATCH")
	u.HandleFunc("/update", app.RequireAuth(app.HandleUpdateDetails)).Methods("PATCH")
	u.HandleFunc("/update-password", app.RequireAuth(app.HandleUpdatePassword)).Methods("PATCH")

	// Admin endpoints
	ad := r.PathPrefix("/api/admin").Subrouter()
	ad.HandleFunc("/register", app.HandleAdminRegister).Methods("POST")
	ad.HandleFunc("/login", app.HandleAdminLogin).Methods("POST")
	ad.HandleFunc("/users", app.RequireAuth(app.HandleAdminListUsers)).Methods("GET")
	ad.HandleFunc("/users/{id}", app.RequireAuth(app.HandleAdminUpdateUser)).Methods("PATCH")
	ad.HandleFunc("/users/{id}", app.RequireAuth(app.HandleAdminDeleteUser)).Methods("DELETE")

	return r
}

func main() {
	c, err := cfg.New()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	jwtSecret = []byte(c.JwtSecret)

	var db Store
	switch c.DBAdapter {
	case "sqlite":
		s, err := NewSQLiteDB(c.SQLiteFile)
		if err != nil {
			log.Fatalf("sqlite init: %v", err)
		}
		db = s
	case "postgres":
		dsn, err := c.BuildPostgresDSN()
		if err != nil {
			log.Fatalf("postgres config error: %v", err)
		}

		log.Println("Applying database migrations...")
		if err := ApplyMigrations("./migrations", dsn); err != nil {
			log.Printf("migrations warning: %v", err)
		}

		p, err := NewPostgresDB(dsn)
		if err != nil {
			log.Fatalf("postgres init: %v", err)
		}
		db = p
		log.Println("Connected to PostgreSQL database")
	case "memory":
		log.Println("Using in-memory database (not recommended for production)")
		db = NewMemoryDB()
	default:
		log.Fatalf("unsupported DB_ADAPTER: %s (supported: postgres, sqlite, memory)", c.DBAdapter)
	}

	app := &App{
		DB:                 db,
		Mail:               NewMailer(c),
		ClientURL:          c.ClientURL,
		RevealUnknownEmail: c.RevealUnknownEmail,
		AllowedOrigins:     c.AllowedOrigins,
	}
	r := newRouter(app)

	srv := &http.Server{Handler: r, Addr: ":" + c.Port, ReadTimeout: 5 * time.Second, WriteTimeout: 10 * time.Second}

	go func() {
		fmt.Println("Starting server on", c.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if closer, ok := app.DB.(interface{ close() error }); ok {
		_ = closer.close()
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("shutdown failed:%+v", err)
	}
	fmt.Println("Server exited properly")
}
