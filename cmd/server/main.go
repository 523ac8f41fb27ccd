package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tillpoint/backend/internal/cache"
	"tillpoint/backend/internal/config"
	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/erp"
	"tillpoint/backend/internal/httpapi"
	"tillpoint/backend/internal/printing"
	"tillpoint/backend/internal/service"
	"tillpoint/backend/internal/store"
	"tillpoint/backend/internal/store/memory"
	pgstore "tillpoint/backend/internal/store/postgres"
	sqlitestore "tillpoint/backend/internal/store/sqlite"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, closers, err := openRepository(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	if err := ensureAdmin(ctx, repo, cfg.SeedAdminPassword); err != nil {
		log.Fatalf("seed admin: %v", err)
	}

	rateCache := cache.RateCache(cache.NoopRateCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisRateCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop cache", err)
		} else {
			rateCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("cache: redis")
		}
	} else {
		log.Println("cache: noop")
	}

	svc := service.New(repo, newERP(cfg), rateCache, newPrinter(cfg), service.Config{
		DefaultTerminalID: cfg.TerminalID,
		StoreName:         cfg.StoreName,
		DefaultVATRate:    cfg.DefaultVATRate,
		RateTTL:           cfg.FXRateTTL,
		DefaultEURRate:    cfg.DefaultEURRate,
		Location:          cfg.Location,
		Layout: printing.Layout{
			LineFeeds: cfg.PrintLineFeeds,
			Cut:       cfg.PrintCut,
			StoreName: cfg.StoreName,
		},
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.ERPTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("till backend listening on %s (terminal %s)", cfg.Address(), cfg.TerminalID)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

// openRepository picks Postgres, then SQLite, then the seeded in-memory store.
func openRepository(ctx context.Context, cfg config.Config) (store.Repository, []func() error, error) {
	closers := make([]func() error, 0, 2)

	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		log.Println("repository: postgres")
		return pg, append(closers, pg.Close), nil
	case cfg.SQLitePath != "":
		lite, err := sqlitestore.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite %s: %w", cfg.SQLitePath, err)
		}
		log.Printf("repository: sqlite (%s)", cfg.SQLitePath)
		return lite, append(closers, lite.Close), nil
	default:
		log.Println("repository: in-memory")
		return memory.NewSeeded(), closers, nil
	}
}

// ensureAdmin creates the first admin account on an empty user table.
func ensureAdmin(ctx context.Context, repo store.Repository, password string) error {
	users, err := repo.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) > 0 {
		return nil
	}
	if len(password) < 8 {
		log.Println("[auth] WARN: no users exist and SEED_ADMIN_PASSWORD is unset or shorter than 8 characters; nobody can sign in")
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return repo.CreateUser(ctx, domain.UserAccount{
		Username:    "admin",
		Password:    string(hash),
		Role:        domain.RoleAdmin,
		DisplayName: "Manager",
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	})
}

func newERP(cfg config.Config) service.ERP {
	if cfg.MockERP() {
		log.Println("erp: in-process mock ledger")
		return erp.NewMock()
	}
	log.Printf("erp: %s", cfg.ERPBaseURL)
	return erp.NewClient(erp.Config{
		BaseURL:   cfg.ERPBaseURL,
		APIKey:    cfg.ERPAPIKey,
		APISecret: cfg.ERPAPISecret,
		Timeout:   cfg.ERPTimeout,
	})
}

func newPrinter(cfg config.Config) printing.Printer {
	switch {
	case cfg.PrintAgentURL != "":
		log.Printf("printer: agent %s", cfg.PrintAgentURL)
		return printing.NewAgentPrinter(cfg.PrintAgentURL, 10*time.Second)
	case cfg.PrinterAddr != "":
		log.Printf("printer: network %s", cfg.PrinterAddr)
		return printing.NewNetworkPrinter(cfg.PrinterAddr)
	default:
		log.Println("printer: log only")
		return printing.LogPrinter{}
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if !cfg.MockERP() && (cfg.ERPAPIKey == "" || cfg.ERPAPISecret == "") {
		return fmt.Errorf("ERP_API_KEY and ERP_API_SECRET are required when ERP_BASE_URL is set")
	}
	return nil
}
