package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/liamcoop/ruleengine/catalog"
	"github.com/liamcoop/ruleengine/config"
	"github.com/liamcoop/ruleengine/execlog"
	"github.com/liamcoop/ruleengine/harness"
	"github.com/liamcoop/ruleengine/internal/logger"
	"github.com/liamcoop/ruleengine/internal/metrics"
	"github.com/liamcoop/ruleengine/offered"
	"github.com/liamcoop/ruleengine/pack"
	"github.com/liamcoop/ruleengine/regression"
	"github.com/liamcoop/ruleengine/rules"
	"github.com/liamcoop/ruleengine/tools"
)

// Modes of serving rules.
const (
	ModePack     = "pack"
	ModePostgres = "postgres"
)

type Server struct {
	cfg      *config.Config
	db       *sql.DB
	live     *pack.Live
	fixed    *pack.Runtime
	execlog  *execlog.SQLiteStore
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	runner   *regression.Runner
	schedule *regression.Scheduler
	pruner   *cron.Cron
	logger   *slog.Logger
	router   *chi.Mux
}

// NewServer serves the YAML pack at cfg.Pack.Path when set, and the
// postgres catalog and rules otherwise.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
		logger:   logger.Logger.With("component", "server"),
	}
	s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.metrics = metrics.New(s.registry)

	if cfg.ExecLog.Path != "" {
		store, err := execlog.Open(cfg.ExecLog.Path)
		if err != nil {
			return nil, err
		}
		s.execlog = store
	}

	opts := s.runtimeOptions()
	if cfg.Pack.Path != "" {
		live, err := pack.NewLive(cfg.Pack.Path, logger.Logger.With("component", "pack"), opts...)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to load rule pack: %w", err)
		}
		s.live = live
	} else {
		db, err := openDB(cfg.Database)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.db = db
		rt, err := assemblePostgres(ctx, db, opts...)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.fixed = rt
	}

	s.runner = regression.NewRunner(currentSource{s}, currentTester{s},
		regression.WithConcurrency(cfg.Regression.Concurrency),
		regression.WithMetrics(s.metrics),
		regression.WithLogger(logger.Logger.With("component", "regression")),
	)
	schedule, err := regression.NewScheduler(s.runner, cfg.Regression.Schedule)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.schedule = schedule

	s.setupRoutes()
	return s, nil
}

func openDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// assemblePostgres loads the catalog and contexts stored in db and serves
// the rules stored next to them.
func assemblePostgres(ctx context.Context, db *sql.DB, opts ...pack.Option) (*pack.Runtime, error) {
	cat, contexts, err := catalog.LoadPostgres(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	cat.Freeze()
	opts = append(opts, pack.WithRuleStore(rules.NewPostgresRuleStore(db)))
	rt, err := pack.Assemble(cat, contexts, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble runtime: %w", err)
	}
	return rt, nil
}

func (s *Server) runtimeOptions() []pack.Option {
	defs := make([]tools.ErrorDefinition, len(s.cfg.Engine.ErrorDefinitions))
	for i, d := range s.cfg.Engine.ErrorDefinitions {
		defs[i] = tools.ErrorDefinition{Code: d.Code, Kind: d.Kind, Message: d.Message}
	}

	engineOpts := []rules.Option{
		rules.WithStepBudget(s.cfg.Engine.StepBudget),
		rules.WithCache(rules.NewInMemoryRulesCache(rules.CacheConfig{TTL: s.cfg.Engine.CacheTTL})),
		rules.WithMetrics(s.metrics),
		rules.WithLogger(logger.Logger.With("component", "rules")),
	}
	if s.execlog != nil {
		engineOpts = append(engineOpts, rules.WithRecorder(s.execlog))
	}

	return []pack.Option{
		pack.WithDateLayout(s.cfg.Engine.DateLayout),
		pack.WithErrorDefinitions(defs...),
		pack.WithEngineOptions(engineOpts...),
		pack.WithProductOptions(
			offered.WithMetrics(s.metrics),
			offered.WithLogger(logger.Logger.With("component", "offered")),
		),
	}
}

// runtime returns the runtime serving the current request.
func (s *Server) runtime() *pack.Runtime {
	if s.live != nil {
		return s.live.Runtime()
	}
	return s.fixed
}

func (s *Server) mode() string {
	if s.live != nil {
		return ModePack
	}
	return ModePostgres
}

func (s *Server) harness() *harness.Harness {
	rt := s.runtime()
	return harness.New(rt.Engine,
		harness.WithPassingMarker(rt.Engine.Store()),
		harness.WithMetrics(s.metrics),
		harness.WithLogger(logger.Logger.With("component", "harness")),
	)
}

// currentSource lists the validated rules of the current runtime.
type currentSource struct{ s *Server }

func (c currentSource) ValidatedRules() ([]*rules.Rule, error) {
	return c.s.runtime().Engine.ValidatedRules()
}

// currentTester tests rules against the current runtime.
type currentTester struct{ s *Server }

func (c currentTester) RunAll(ctx context.Context, rule *rules.Rule) (*harness.Report, error) {
	return c.s.harness().RunAll(ctx, rule)
}

// Start runs the background jobs until ctx is done: pack watching, the
// regression schedule and execution log pruning.
func (s *Server) Start(ctx context.Context) error {
	if s.live != nil && s.cfg.Pack.Watch {
		go func() {
			if err := s.live.Watch(ctx, s.cfg.Pack.Debounce); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("pack watcher stopped", "error", err)
			}
		}()
	}
	if err := s.schedule.Start(ctx); err != nil {
		return err
	}
	if s.execlog != nil && s.cfg.ExecLog.RetentionDays > 0 {
		s.pruner = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
		if _, err := s.pruner.AddFunc(s.cfg.ExecLog.PruneSchedule, func() { s.pruneExecutions(ctx) }); err != nil {
			return fmt.Errorf("failed to schedule execution pruning: %w", err)
		}
		s.pruner.Start()
	}
	return nil
}

func (s *Server) pruneExecutions(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.cfg.ExecLog.RetentionDays)
	n, err := s.execlog.Prune(ctx, cutoff)
	if err != nil {
		logger.Error("failed to prune executions", "error", err)
		return
	}
	s.logger.Info("executions pruned", "deleted", n, "cutoff", cutoff)
}

// Close stops the background jobs and releases the stores.
func (s *Server) Close() {
	if s.schedule != nil {
		s.schedule.Stop()
	}
	if s.pruner != nil {
		<-s.pruner.Stop().Done()
	}
	if s.execlog != nil {
		if err := s.execlog.Close(); err != nil {
			s.logger.Warn("failed to close execution log", "error", err)
		}
	}
	if s.db != nil {
		s.db.Close()
	}
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))

	if s.cfg.Metrics.Enabled {
		r.Handle(s.cfg.Metrics.Path, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Post("/", s.handleCreateRule)

			r.Route("/{ruleId}", func(r chi.Router) {
				r.Get("/", s.handleGetRule)
				r.Put("/", s.handleUpdateRule)
				r.Delete("/", s.handleDeleteRule)
				r.Post("/validate", s.handleValidateRule)
				r.Post("/execute", s.handleExecuteRule)
				r.Get("/executions", s.handleListExecutions)
				r.Post("/tests", s.handleRunTests)
				r.Post("/tests/from-execution", s.handleTestFromExecution)
			})
		})

		r.Route("/products/{code}", func(r chi.Router) {
			r.Post("/results/{kind}", s.handleGetResult)
			r.Post("/price", s.handlePrice)
			r.Post("/eligibility", s.handleEligibility)
		})

		r.Get("/contexts/{contextId}/tree", s.handleContextTree)

		r.Get("/regression", s.handleLastRegression)
		r.Post("/regression", s.handleRunRegression)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
