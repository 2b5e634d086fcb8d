package couponqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BranchIntl/couponqueue/config"
	"github.com/BranchIntl/couponqueue/core"
	"github.com/BranchIntl/couponqueue/httpapi"
	"github.com/BranchIntl/couponqueue/registry"
	"github.com/BranchIntl/couponqueue/results"
	"github.com/BranchIntl/couponqueue/schedulers"
	"github.com/BranchIntl/couponqueue/schedulers/cron"
	"github.com/BranchIntl/couponqueue/schedulers/local"
	"github.com/BranchIntl/couponqueue/schedulers/rabbitmq"
	"github.com/BranchIntl/couponqueue/statistics"
	"github.com/BranchIntl/couponqueue/statistics/noop"
	promstats "github.com/BranchIntl/couponqueue/statistics/prometheus"
	redisstats "github.com/BranchIntl/couponqueue/statistics/redis"
	"github.com/BranchIntl/couponqueue/store"
	"github.com/BranchIntl/couponqueue/store/memory"
	"github.com/BranchIntl/couponqueue/store/pebble"
	"github.com/BranchIntl/couponqueue/store/redis"
	"github.com/BranchIntl/couponqueue/store/sqlite"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Service is a processor wired to the store, scheduler and metrics a
// Config selects
type Service struct {
	config    *config.Config
	store     store.Store
	processor *core.Processor
	scheduler schedulers.Scheduler
	metrics   *prometheus.Registry
	counters  *redisstats.RedisStatistics

	local  *local.Scheduler
	cron   *cron.Scheduler
	rabbit *rabbitmq.Scheduler

	closeOnce sync.Once
	closeErr  error
}

// New builds a Service from cfg. Handlers resolve the work item classes;
// options are applied after the ones derived from cfg.
func New(ctx context.Context, cfg *config.Config, handlers *registry.Registry, options ...core.ProcessorOption) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{config: cfg}

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	s.store = st

	if err := s.buildScheduler(ctx); err != nil {
		s.Close()
		return nil, err
	}

	stats, err := s.buildStatistics(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}

	p := cfg.Processor
	defaults := []core.ProcessorOption{
		core.WithTimeLimit(p.TimeLimit.Duration, p.TimeMargin.Duration),
		core.WithMemoryLimit(int64(p.MemoryLimit), p.MemoryFactor),
		core.WithStaleAfter(p.StaleAfter.Duration),
		core.WithStatistics(stats),
		core.WithResults(results.NewStore(st, p.ResultsKey)),
	}

	s.processor, err = core.NewProcessor(p.Identifier, st, handlers, s.scheduler, append(defaults, options...)...)
	if err != nil {
		s.Close()
		return nil, err
	}

	slog.Info("Service created",
		"identifier", p.Identifier,
		"store", cfg.Store.Type,
		"scheduler", cfg.Scheduler.Type,
		"statistics", stats.Type())
	return s, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Type {
	case "redis":
		options := redis.DefaultOptions()
		options.URI = cfg.RedisURL
		options.Namespace = cfg.Namespace
		st := redis.NewStore(options)
		if err := st.Connect(ctx); err != nil {
			return nil, err
		}
		return st, nil
	case "sqlite":
		return sqlite.New(cfg.Path)
	case "pebble":
		return pebble.Open(cfg.Path)
	default:
		return memory.NewStore(), nil
	}
}

func (s *Service) buildScheduler(ctx context.Context) error {
	sc := s.config.Scheduler
	switch sc.Type {
	case "local":
		s.local = local.New(s.run, sc.Delay.Duration)
		s.scheduler = s.local
	case "cron":
		s.cron = cron.New(s.run, cron.WithSpec(sc.CronSpec))
		if err := s.cron.Validate(); err != nil {
			return err
		}
		s.scheduler = healthcheck{s.cron}
	case "rabbitmq":
		options := rabbitmq.DefaultOptions()
		options.URI = sc.RabbitMQURL
		options.Queue = sc.Queue
		s.rabbit = rabbitmq.NewScheduler(options)
		if err := s.rabbit.Connect(ctx); err != nil {
			return err
		}
		s.scheduler = s.rabbit
	default:
		s.scheduler = schedulers.Noop{}
	}
	return nil
}

// healthcheck keeps the cron entry registered after a run completes, so a
// run dispatched by another process is still picked up
type healthcheck struct {
	*cron.Scheduler
}

func (healthcheck) Clear(ctx context.Context, identifier string) error {
	return nil
}

func (s *Service) buildStatistics(ctx context.Context) (statistics.Statistics, error) {
	var backends statistics.Multi

	if s.config.HTTP.Metrics {
		s.metrics = prometheus.NewRegistry()
		s.metrics.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		stats, err := promstats.NewStatistics(s.metrics, promstats.DefaultOptions())
		if err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
		backends = append(backends, stats)
	}

	if sc := s.config.Statistics; sc.RedisURL != "" {
		options := redisstats.DefaultOptions()
		options.URI = sc.RedisURL
		options.Namespace = sc.Namespace
		s.counters = redisstats.NewStatistics(options)
		if err := s.counters.Connect(ctx); err != nil {
			return nil, err
		}
		backends = append(backends, s.counters)
	}

	switch len(backends) {
	case 0:
		return noop.NewStatistics(), nil
	case 1:
		return backends[0], nil
	default:
		return backends, nil
	}
}

// run is the RunFunc every scheduler calls back into
func (s *Service) run(ctx context.Context, identifier string) error {
	if identifier != s.processor.Identifier() {
		slog.Warn("Ignoring trigger for unknown identifier", "identifier", identifier)
		return nil
	}
	outcome, err := s.processor.Run(ctx)
	if s.local != nil && (outcome == core.OutcomeLocked || outcome == core.OutcomeFailed) {
		s.retry(ctx)
	}
	return err
}

// retry re-arms the local timer while work is left, so a lock left by a
// crashed worker is taken over once it turns stale
func (s *Service) retry(ctx context.Context) {
	identifier := s.processor.Identifier()

	// an unreachable store counts as work left
	if running, err := s.processor.IsRunning(ctx); err == nil && !running {
		return
	}
	if err := s.local.ScheduleNext(ctx, identifier); err != nil {
		slog.Warn("Failed to re-arm local scheduler", "identifier", identifier, "error", err)
	}
}

// Processor returns the wired processor
func (s *Service) Processor() *core.Processor {
	return s.processor
}

// Store returns the key-value store
func (s *Service) Store() store.Store {
	return s.store
}

// Metrics returns the Prometheus registry, or nil when metrics are off
func (s *Service) Metrics() *prometheus.Registry {
	return s.metrics
}

// Counters returns the shared Redis counters, or nil when not configured
func (s *Service) Counters() *redisstats.RedisStatistics {
	return s.counters
}

// Router returns the HTTP status API for the processor
func (s *Service) Router() *mux.Router {
	var gatherer prometheus.Gatherer
	if s.metrics != nil {
		gatherer = s.metrics
	}
	return httpapi.NewRouter(s.processor, gatherer)
}

// Work runs the trigger sources until ctx is cancelled. It kicks one
// invocation right away so a run left behind by a previous worker resumes.
func (s *Service) Work(ctx context.Context) error {
	if err := s.run(ctx, s.processor.Identifier()); err != nil {
		slog.Error("Initial run failed", "identifier", s.processor.Identifier(), "error", err)
	}

	if s.cron != nil {
		if err := s.cron.ScheduleNext(ctx, s.processor.Identifier()); err != nil {
			return err
		}
		s.cron.Start()
	}

	if s.rabbit != nil {
		return s.rabbit.Consume(ctx, s.run)
	}

	<-ctx.Done()
	return nil
}

// Close stops the scheduler and closes the store
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		if s.cron != nil {
			s.cron.Stop()
		}
		if s.local != nil {
			s.keep(s.local.Close())
		}
		if s.rabbit != nil {
			s.keep(s.rabbit.Close())
		}
		if s.counters != nil {
			s.keep(s.counters.Close())
		}
		if s.store != nil {
			s.keep(s.store.Close())
		}
		slog.Info("Service closed")
	})
	return s.closeErr
}

func (s *Service) keep(err error) {
	if err != nil && s.closeErr == nil {
		s.closeErr = err
	}
}
