package routes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"usdengine/core/events"
	"usdengine/core/types"
	"usdengine/gateway/middleware"
	"usdengine/native/cdp"
	"usdengine/native/oracle"
	"usdengine/native/token"
)

// EventLog serves an account's persisted event history, newest first.
type EventLog interface {
	AccountEvents(ctx context.Context, account string, limit int) ([]types.Event, error)
}

// Reconciler writes a supply reconciliation snapshot and returns its location.
type Reconciler interface {
	Export(ctx context.Context) (string, error)
}

type Config struct {
	Engine        *cdp.Engine
	Ledger        *token.Ledger
	Feeds         *oracle.Directory
	Bus           *events.Bus
	Journal       EventLog
	Recon         Reconciler
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	Idempotency   *middleware.IdempotencyStore
	CORS          middleware.CORSConfig
	Logger        *slog.Logger
}

type api struct {
	engine  *cdp.Engine
	ledger  *token.Ledger
	feeds   *oracle.Directory
	bus     *events.Bus
	journal EventLog
	recon   Reconciler
	logger  *slog.Logger

	// scopedStreams limits non-admin event streams to the caller's account.
	scopedStreams bool
	wsOrigins     []string
}

func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("routes: engine required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("routes: token ledger required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &api{
		engine:  cfg.Engine,
		ledger:  cfg.Ledger,
		feeds:   cfg.Feeds,
		bus:     cfg.Bus,
		journal: cfg.Journal,
		recon:   cfg.Recon,
		logger:  logger,

		scopedStreams: cfg.Authenticator.Enabled(),
		wsOrigins:     originPatterns(cfg.CORS.AllowedOrigins),
	}

	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))
	obs := cfg.Observability
	if obs != nil {
		r.Use(obs.Middleware)
		r.Handle("/metrics", obs.MetricsHandler())
	}
	r.Get("/healthz", a.health)

	r.Route("/v1", func(v chi.Router) {
		if cfg.Authenticator != nil {
			v.Use(cfg.Authenticator.Middleware())
		}
		if cfg.RateLimiter != nil {
			v.Use(cfg.RateLimiter.Middleware("cdp"))
		}

		v.Get("/collaterals", a.listCollaterals)
		v.Get("/collaterals/{index}", a.getCollateral)
		v.Get("/positions/{account}", a.getPosition)
		v.Get("/mintable", a.getMintable)
		v.Get("/burnable", a.getBurnable)
		v.Get("/supply", a.getSupply)
		v.Get("/tokens/{token}/balances/{account}", a.getBalance)
		v.Get("/accounts/{account}/events", a.accountEvents)
		v.Get("/events/ws", a.streamEvents)

		v.Group(func(w chi.Router) {
			if cfg.Idempotency != nil {
				w.Use(cfg.Idempotency.Middleware)
			}
			w.Post("/tokens/approve", a.approve)
			w.Post("/deposit-and-mint", a.depositAndMint)
			w.Post("/deposit", a.deposit)
			w.Post("/redeem", a.redeemForUsd)
			w.Post("/redeem-collateral", a.redeemCollateral)
			w.Post("/mint", a.mint)
			w.Post("/burn", a.burn)
		})

		v.Route("/admin", func(ad chi.Router) {
			if cfg.Authenticator != nil {
				ad.Use(cfg.Authenticator.Middleware(middleware.ScopeAdmin))
			}
			if cfg.Idempotency != nil {
				ad.Use(cfg.Idempotency.Middleware)
			}
			ad.Post("/feeds", a.updateFeeds)
			ad.Post("/weth", a.updateWeth)
			ad.Post("/prices", a.updatePrice)
			ad.Post("/recon", a.reconcile)
		})
	})
	return r, nil
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	if _, err := a.engine.Admin(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

var errUnauthenticated = errors.New("caller identity required")

// caller resolves the account the request acts for from the token subject.
func caller(r *http.Request) (cdp.Call, error) {
	subject, ok := middleware.Subject(r.Context())
	if !ok {
		return cdp.Call{}, errUnauthenticated
	}
	addr, err := parseAddress("subject", subject)
	if err != nil {
		return cdp.Call{}, err
	}
	return cdp.Call{Caller: addr}, nil
}
