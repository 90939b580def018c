package cli

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aretw0/pergola"
	"github.com/aretw0/pergola/internal/config"
	"github.com/aretw0/pergola/internal/logging"
	"github.com/aretw0/pergola/internal/presentation/tui"
	httpAdapter "github.com/aretw0/pergola/pkg/adapters/http"
	"github.com/aretw0/pergola/pkg/adapters/process"
	redisAdapter "github.com/aretw0/pergola/pkg/adapters/redis"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/observability"
	"github.com/aretw0/pergola/pkg/ports"
)

// ServeOptions configures the bridge daemon.
type ServeOptions struct {
	ConfigPath string
	Address    string
	Banner     bool
}

// shutdownTimeout bounds how long outstanding requests may run once a
// termination signal arrives.
const shutdownTimeout = 5 * time.Second

// RunServe starts the bridge daemon: the browser transport, plus Redis and
// local programs when configured, all feeding one hub. Blocks until a
// termination signal or a fatal transport error.
func RunServe(opts ServeOptions) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Level())

	if opts.Banner {
		tui.PrintBanner()
	}

	// The HTTP server doubles as the hub's feed, so it exists before the
	// hub does. Roster and CORS bind late; handlers only run once the
	// listener starts, by which point the hub is assigned.
	var hub *pergola.Hub
	server := httpAdapter.New(
		httpAdapter.WithLogger(logger),
		httpAdapter.WithCORS(func(origin string) bool {
			if hub == nil {
				return false
			}
			norm, err := domain.NormalizeOrigin(origin)
			if err != nil {
				return false
			}
			return slices.Contains(hub.Origins(), norm)
		}),
	)
	feeds := []ports.Feed{server}

	var transport *redisAdapter.Transport
	if cfg.Redis.Address != "" {
		redisOpts := []redisAdapter.Option{redisAdapter.WithLogger(logger)}
		if cfg.Redis.Prefix != "" {
			redisOpts = append(redisOpts, redisAdapter.WithPrefix(cfg.Redis.Prefix))
		}
		transport = redisAdapter.New(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, redisOpts...)
		defer transport.Close()
		feeds = append(feeds, transport)
	}

	var host *process.Host
	if cfg.Programs.Path != "" {
		programs, err := process.LoadPrograms(cfg.Programs.Path)
		if err != nil {
			return err
		}
		if len(programs) > 0 {
			host = process.NewHost(
				process.WithRegistry(programs),
				process.WithLogger(logger),
			)
			feeds = append(feeds, host)
		}
	}

	var extra []pergola.Option
	if host != nil {
		// Local peers post from pinned local:// origins; admit them.
		extra = append(extra, pergola.WithOrigins(host.Origins()...))
	}
	if cfg.Metrics.Enabled {
		metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
		extra = append(extra, pergola.WithLifecycleHooks(metrics.Hooks()))
	}

	hub, err = buildHub(cfg, logger, ports.Merge(feeds...), extra...)
	if err != nil {
		return err
	}
	defer hub.Close()
	server.SetRoster(hub)
	server.SetAttacher(hub)

	sc := NewSignalContext(context.Background())
	defer sc.Cancel()

	hubErrors := make(chan error, 1)
	go func() {
		hubErrors <- hub.Run(sc)
	}()

	if cfg.Catalog.Watch && hub.Catalog() != nil {
		go func() {
			if err := hub.WatchCatalog(sc); err != nil {
				logger.Warn("catalog watch unavailable", "error", err)
			}
		}()
	}

	if transport != nil {
		go func() {
			if err := transport.Run(sc, hub); err != nil {
				logger.Warn("redis control loop ended", "error", err)
			}
		}()
	}

	if host != nil {
		defer host.Close()
		if err := host.StartAll(sc, hub); err != nil {
			return fmt.Errorf("starting local programs: %w", err)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/", server.Handler())
	if cfg.Metrics.Enabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	address := cfg.HTTP.Address
	if opts.Address != "" {
		address = opts.Address
	}
	srv := &http.Server{
		Addr:    address,
		Handler: mux,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("bridge listening", "address", address, "peers", len(hub.Peers()), "origins", len(hub.Origins()))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case err := <-hubErrors:
		if err != nil {
			return fmt.Errorf("bridge error: %w", err)
		}
		return nil

	case <-sc.Done():
		printSystemMessage("Start shutdown... Signal: %v", sc.Signal())

		// Give outstanding requests a deadline for completion.
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("graceful shutdown did not complete", "timeout", shutdownTimeout, "error", err)
			if err := srv.Close(); err != nil {
				logger.Error("error killing server", "error", err)
			}
		}
		printSystemMessage("Bridge stopped gracefully.")
	}
	return nil
}
