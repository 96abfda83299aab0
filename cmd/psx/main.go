package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"

	sq "github.com/elgris/sqrl"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/pentops/log.go/log"
	"github.com/pentops/sqrlx.go/sqrlx"
	"github.com/pressly/goose"

	"github.com/SkillGG/psx/service"
)

type config struct {
	databaseURL   string
	bind          string
	migrationsDir string
}

func loadConfig() config {
	// missing .env is fine, env vars may come from the environment
	_ = godotenv.Load()

	cfg := config{
		databaseURL:   os.Getenv("DATABASE_URL"),
		bind:          os.Getenv("BIND"),
		migrationsDir: os.Getenv("MIGRATIONS_DIR"),
	}
	if cfg.bind == "" {
		cfg.bind = ":8080"
	}
	if cfg.migrationsDir == "" {
		cfg.migrationsDir = "./ext/db"
	}
	return cfg
}

func main() {
	ctx := context.Background()
	cfg := loadConfig()

	if cfg.databaseURL == "" {
		log.Fatal(ctx, "DATABASE_URL is required")
	}

	conn, err := sql.Open("postgres", cfg.databaseURL)
	if err != nil {
		log.Fatalf(ctx, "open database: %s", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		log.Fatalf(ctx, "ping database: %s", err)
	}

	if err := goose.Up(conn, cfg.migrationsDir); err != nil {
		log.Fatalf(ctx, "migrate: %s", err)
	}

	db, err := sqrlx.New(conn, sq.Dollar)
	if err != nil {
		log.Fatalf(ctx, "wrap database: %s", err)
	}

	server := service.NewServer(db)
	log.WithField(ctx, "bind", cfg.bind).Info("serving catalog")
	if err := http.ListenAndServe(cfg.bind, server); err != nil {
		log.Fatalf(ctx, "serve: %s", err)
	}
}
