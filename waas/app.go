package waas

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"golang.org/x/exp/slog"

	"github.com/Te-De-CX/Waas/internal/middleware"
	"github.com/Te-De-CX/Waas/internal/security"
	"github.com/Te-De-CX/Waas/internal/verify"
)

// App is the main application, it wires credentials, the processor client,
// the webhook and the ledger recorder and runs the HTTP server.
type App struct {
	srv     *http.Server
	wg      *sync.WaitGroup
	Addr    string
	logger  *slog.Logger
	config  *Config
	closers []io.Closer

	// Recorder overrides the configured ledger backend when set before Start.
	Recorder Recorder
	// ClientOptions are passed to the processor client.
	ClientOptions []ClientOption
}

func NewApp(logger *slog.Logger, config *Config) *App {
	logger = logger.With(slog.String("app", "waas"))

	if config == nil {
		config = DefaultConfig()
	}

	return &App{
		wg:     &sync.WaitGroup{},
		logger: logger,
		config: config,
	}
}

// Start opens the signing key, the ledger and the listener, then serves in
// the background. Resources opened before a failure are closed again.
func (a *App) Start() error {
	a.logger.Info("starting app...")

	if err := a.start(); err != nil {
		a.closeAll()
		return err
	}
	return nil
}

func (a *App) start() error {
	creds, closer, err := LoadCredentials(a.config)
	if err != nil {
		return err
	}
	if closer != nil {
		a.closers = append(a.closers, closer)
	}
	a.logger.Info("credentials loaded", slog.Any("credentials", creds))

	recorder := a.Recorder
	if recorder == nil {
		recorder, err = a.openRecorder()
		if err != nil {
			return err
		}
	}

	client, err := NewClient(a.logger, a.config, creds, a.ClientOptions...)
	if err != nil {
		return fmt.Errorf("creating processor client: %w", err)
	}

	webhook, err := a.newWebhook(creds, recorder)
	if err != nil {
		return err
	}

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(middleware.NewStructuredLogger(a.logger))
	router.Use(chimw.Recoverer)

	api := NewAPI(client, webhook)
	api.AppendRoutes(router)

	router.Get("/-/live", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	router.Get("/-/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := recorder.Ping(ctx); err != nil {
			http.Error(w, "ledger not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	l, err := net.Listen("tcp", a.config.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listening tcp port: %w", err)
	}

	a.Addr = l.Addr().String()

	a.srv = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
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

// LoadCredentials opens the configured signing key, if any, and builds the
// merchant credentials. The closer is nil unless a token session was opened.
func LoadCredentials(cfg *Config) (*security.Credentials, io.Closer, error) {
	signingKey, closer, err := openSigningKey(cfg.OPay.PKCS11)
	if err != nil {
		return nil, nil, fmt.Errorf("opening signing key: %w", err)
	}
	creds, err := cfg.Credentials(signingKey)
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, nil, fmt.Errorf("loading credentials: %w", err)
	}
	return creds, closer, nil
}

func (a *App) newWebhook(creds *security.Credentials, recorder Recorder) (*Webhook, error) {
	var opts []verify.CallbackOption
	if a.config.Callback.RequireSignature {
		opts = append(opts, verify.RequireSignature())
	}
	if a.config.Callback.MaxSkew > 0 {
		opts = append(opts, verify.WithMaxSkew(a.config.Callback.MaxSkew, time.Now))
	}
	if a.config.Callback.Template != "" {
		tpl, err := security.ParseTemplate(a.config.Callback.Template)
		if err != nil {
			return nil, fmt.Errorf("callback template: %w", err)
		}
		opts = append(opts, verify.WithCallbackTemplate(tpl))
	}
	verifier, err := verify.NewCallbackVerifier(creds, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating callback verifier: %w", err)
	}
	return NewWebhook(a.logger, verifier, recorder), nil
}

func (a *App) openRecorder() (Recorder, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch a.config.Ledger.Backend {
	case "pg":
		db, err := sql.Open("postgres", a.config.Ledger.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxIdleConns(5)
		db.SetMaxOpenConns(10)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		a.closers = append(a.closers, db)
		rec := NewPGRecorder(db)
		if err := rec.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return rec, nil
	case "redis":
		rec, err := NewRedisRecorder(ctx, a.config.Ledger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rec)
		return rec, nil
	case "mem", "":
		a.logger.Warn("using in-memory ledger; events are lost on restart")
		return NewMemoryRecorder(), nil
	default:
		return nil, fmt.Errorf("unsupported ledger backend %s", a.config.Ledger.Backend)
	}
}

func (a *App) Shutdown() {
	a.logger.Info("shutting down app...")

	if a.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.srv.Shutdown(ctx)
	}

	a.wg.Wait()
	a.closeAll()

	a.logger.Info("app stopped")
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Error("closing resource", "err", err)
		}
	}
	a.closers = nil
}
