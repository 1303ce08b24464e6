// Package server exposes research runs over HTTP and hosts the
// recurring-run scheduler.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/alphy/config"
	"github.com/mohammad-safakhou/alphy/internal/llm"
	"github.com/mohammad-safakhou/alphy/internal/research"
	"github.com/mohammad-safakhou/alphy/internal/store"
	"github.com/mohammad-safakhou/alphy/internal/telemetry"
	"github.com/mohammad-safakhou/alphy/tools/web_fetch"
	"github.com/mohammad-safakhou/alphy/tools/web_search"
)

// Server holds the HTTP API's shared dependencies.
type Server struct {
	cfg    *config.Config
	ctrl   *research.Controller
	store  *store.Store
	tele   *telemetry.Telemetry
	logger *log.Logger
}

// Run assembles dependencies and serves until the listener fails.
func Run(cfg *config.Config) error {
	srv, rdb, err := newServer(cfg)
	if err != nil {
		return err
	}

	if cfg.Worker.CronSpec != "" && len(cfg.Worker.Categories) > 0 && srv.store != nil {
		sched := &Scheduler{
			Cfg:    cfg,
			Store:  srv.store,
			Rdb:    rdb,
			Launch: srv.launch,
			Stop:   make(chan struct{}),
		}
		sched.Start()
		defer close(sched.Stop)
	}

	e := srv.router()
	srv.logger.Printf("listening on %s", cfg.Server.Addr)
	return e.Start(cfg.Server.Addr)
}

// RunWorker runs only the recurring-run scheduler, for deployments that
// split the cron worker from the API. Blocks until the context ends.
func RunWorker(ctx context.Context, cfg *config.Config) error {
	if cfg.Worker.CronSpec == "" || len(cfg.Worker.Categories) == 0 {
		return fmt.Errorf("worker.cron_spec and worker.categories must be configured")
	}
	srv, rdb, err := newServer(cfg)
	if err != nil {
		return err
	}
	if srv.store == nil {
		return fmt.Errorf("worker requires postgres storage")
	}

	sched := &Scheduler{
		Cfg:    cfg,
		Store:  srv.store,
		Rdb:    rdb,
		Launch: srv.launch,
		Stop:   make(chan struct{}),
	}
	sched.Start()
	srv.logger.Printf("worker running, cron %q for %v", cfg.Worker.CronSpec, cfg.Worker.Categories)

	<-ctx.Done()
	close(sched.Stop)
	return nil
}

// newServer wires the controller, search stack and optional store.
func newServer(cfg *config.Config) (*Server, *redis.Client, error) {
	tele := telemetry.New(cfg.Telemetry)

	provider, err := llm.NewProvider(cfg.LLM)
	if err != nil {
		return nil, nil, err
	}

	searcher, rdb, err := buildSearcher(cfg)
	if err != nil {
		return nil, nil, err
	}
	fetcher := web_fetch.NewFetcher(cfg.Search.Timeout, 0)
	registry := research.NewRegistry(searcher, fetcher, cfg.Search.MaxResults)
	ctrl := research.NewController(cfg, provider, registry, tele)

	var st *store.Store
	if dsn := cfg.Storage.Postgres.DSN(); dsn != "" {
		if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
			log.Printf("[SERVER] migrations: %v", err)
		}
		st, err = store.New(context.Background(), dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
		}
	}

	return &Server{
		cfg:    cfg,
		ctrl:   ctrl,
		store:  st,
		tele:   tele,
		logger: log.New(log.Writer(), "[SERVER] ", log.LstdFlags),
	}, rdb, nil
}

// buildSearcher builds the web searcher, wrapped with a redis cache when
// redis is configured. The redis client is shared with the scheduler.
func buildSearcher(cfg *config.Config) (web_search.WebSearcher, *redis.Client, error) {
	provider := web_search.Provider(cfg.Search.Provider)
	apiKey := cfg.Search.BraveAPIKey
	if provider == web_search.SerperProvider {
		apiKey = cfg.Search.SerperAPIKey
	}
	searcher, err := web_search.NewWebSearcher(provider, apiKey)
	if err != nil {
		return nil, nil, err
	}

	if cfg.Storage.Redis.Host == "" {
		return searcher, nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port),
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})
	pctx, cancel := context.WithTimeout(context.Background(), cfg.Storage.Redis.Timeout)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		log.Printf("[SERVER] redis unavailable, search cache disabled: %v", err)
		return searcher, nil, nil
	}
	return web_search.NewCachedSearcher(searcher, rdb, cfg.Search.CacheTTL), rdb, nil
}

func (s *Server) router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]any{"error": msg})
		}
	}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.tele.Registry(), promhttp.HandlerOpts{})))

	api := e.Group("/api")
	api.POST("/runs", s.createRun)
	api.GET("/runs", s.listRuns)
	api.GET("/runs/:id", s.getRun)
	api.GET("/runs/:id/report", s.getReport)
	return e
}

func (s *Server) createRun(c echo.Context) error {
	var req research.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Categories) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "categories are required")
	}
	runID := s.launch(req)
	return c.JSON(http.StatusAccepted, map[string]string{"run_id": runID})
}

// launch starts a run in the background and persists its lifecycle when
// a store is configured.
func (s *Server) launch(req research.Request) string {
	if req.RunID == "" {
		req.RunID = uuid.New().String()
	}
	runID := req.RunID

	go func() {
		ctx := context.Background()
		if s.store != nil {
			if err := s.store.CreateRun(ctx, runID, req.Categories, req.Mode); err != nil {
				s.logger.Printf("run %s: persisting start: %v", runID, err)
			}
		}

		state, err := s.ctrl.Run(ctx, req)

		if s.store == nil {
			return
		}
		pctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err != nil {
			_ = s.store.FinishRun(pctx, runID, store.RunStatusFailed, err.Error())
			return
		}
		if serr := s.store.SaveReport(pctx, runID, state.ReportText, state.Report); serr != nil {
			s.logger.Printf("run %s: persisting report: %v", runID, serr)
		}
		_ = s.store.FinishRun(pctx, runID, store.RunStatusCompleted, "")
	}()

	return runID
}

func (s *Server) getRun(c echo.Context) error {
	id := c.Param("id")
	if status, ok := s.ctrl.Status(id); ok {
		return c.JSON(http.StatusOK, status)
	}
	if s.store != nil {
		rec, err := s.store.GetRun(c.Request().Context(), id)
		if err == nil {
			return c.JSON(http.StatusOK, rec)
		}
	}
	return echo.NewHTTPError(http.StatusNotFound, "run not found")
}

func (s *Server) listRuns(c echo.Context) error {
	if s.store == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "run persistence is not configured")
	}
	runs, err := s.store.ListRuns(c.Request().Context(), 50)
	if err != nil {
		return err
	}
	if runs == nil {
		runs = []store.RunRecord{}
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) getReport(c echo.Context) error {
	if s.store == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "run persistence is not configured")
	}
	text, report, err := s.store.GetReport(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "report not found")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"report_text": text,
		"report":      report,
	})
}
