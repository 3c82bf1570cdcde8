package portal

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Mfalmeh/skyfi-tadipa-portal/internal/ironwifi"
	"github.com/Mfalmeh/skyfi-tadipa-portal/internal/middleware"
	"github.com/Mfalmeh/skyfi-tadipa-portal/internal/momo"
	"github.com/Mfalmeh/skyfi-tadipa-portal/internal/sms"
	"github.com/go-chi/chi/v5"
	"golang.org/x/exp/slog"
	_ "github.com/lib/pq"
)

// App is the main application. It wires the repository, the upstream
// clients and the HTTP server, and is responsible for starting and stopping
// them.
type App struct {
	srv     *http.Server
	wg      *sync.WaitGroup
	Addr    string
	logger  *slog.Logger
	config  *Config
	service *Service
	db      *sql.DB
	done    chan struct{}
}

func NewApp(logger *slog.Logger, config *Config) *App {
	logger = logger.With(slog.String("app", "portal"))

	if config == nil {
		config = DefaultConfig()
	}

	return &App{
		wg:     &sync.WaitGroup{},
		logger: logger,
		config: config,
		done:   make(chan struct{}),
	}
}

func (a *App) Start() error {
	a.logger.Info("starting app...")

	router := chi.NewRouter()
	router.Use(middleware.NewStructuredLogger(a.logger))

	var repository *Repository
	switch a.config.RepoBackend {
	case "pg":
		if a.config.DatabaseURL == "" {
			return fmt.Errorf("database url is required for pg backend")
		}
		db, err := sql.Open("postgres", a.config.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxIdleConns(5)
		db.SetMaxOpenConns(10)
		if err := db.Ping(); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		a.db = db
		repository = NewPGRepository(db)
		if err := repository.Migrate(context.Background()); err != nil {
			return fmt.Errorf("migrating transactions table: %w", err)
		}
	case "mem", "":
		repository = NewRepository()
	default:
		return fmt.Errorf("unsupported repo backend %q", a.config.RepoBackend)
	}

	gateway := momo.New(a.config.Momo)
	issuer := ironwifi.New(a.config.IronWifi)
	notifier := sms.New(a.config.SMS)

	a.service = NewService(a.logger, repository, gateway, issuer, notifier, a.config)

	api := NewAPI(a.service)
	api.AppendRoutes(router)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	router.Get("/-/live", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	router.Get("/-/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := repository.Ping(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	// Credential check against the MoMo sandbox before going live.
	router.Get("/dev/momo/token", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		if _, err := gateway.AccessToken(ctx); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"success":true}`))
	})

	// Periodically drop idle rate-limit windows.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-a.done:
				return
			case <-ticker.C:
				a.service.SweepRateLimiter()
			}
		}
	}()

	l, err := net.Listen("tcp", a.config.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening tcp port: %w", err)
	}

	a.Addr = l.Addr().String()

	a.srv = &http.Server{
		Handler: router,
	}

	a.wg.Add(1)
	go func() {
		a.logger.Info("http server started", slog.String("addr", a.Addr))

		if err := a.srv.Serve(l); err != nil {
			if err != http.ErrServerClosed {
				a.logger.Error("starting http server", "err", err)
			}

			a.logger.Info("http server stopped")
		}

		a.wg.Done()
	}()

	return nil
}

func (a *App) Shutdown() {
	a.logger.Info("shutting down app...")

	a.srv.Shutdown(context.Background())

	close(a.done)
	a.service.Close()

	if a.db != nil {
		a.db.Close()
	}

	a.wg.Wait()

	a.logger.Info("app stopped")
}
