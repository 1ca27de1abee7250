package container

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"rcie/adapters/gateway"
	"rcie/adapters/postgres"
	"rcie/internal"
	"rcie/internal/api"
	"rcie/internal/config"
	"rcie/internal/errors"
	"rcie/internal/migration"
	"rcie/internal/observability"
	"rcie/internal/workflow"
	"rcie/ports"

	"github.com/jmoiron/sqlx"
)

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config
	Logger *internal.Logger

	// Infrastructure
	DB      *sqlx.DB
	Metrics *observability.Collector

	// Adapters
	Gateway *gateway.Client
	History ports.HistoryStore

	// Workflow
	Controller *workflow.Controller
	Status     *api.StatusServer

	statusServer *http.Server
}

// New creates a new dependency injection container
func New(cfg *config.Config, logger *internal.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	return &Container{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewCollector("rcie"),
	}, nil
}

// Init builds the gateway client, the history backend and the controller.
func (c *Container) Init(ctx context.Context, opts ...gateway.Option) error {
	if err := c.initGateway(opts...); err != nil {
		return fmt.Errorf("failed to initialize gateway client: %w", err)
	}
	if err := c.initHistory(ctx); err != nil {
		return fmt.Errorf("failed to initialize history store: %w", err)
	}
	if err := c.initWorkflow(); err != nil {
		return fmt.Errorf("failed to initialize workflow controller: %w", err)
	}

	c.Logger.Info("[Container] initialized (gateway %s, history %s, ordering %s)",
		c.Gateway.BaseURL(), c.Config.History.Backend, c.Controller.Ordering())
	return nil
}

func (c *Container) initGateway(opts ...gateway.Option) error {
	gc := c.Config.Gateway
	opts = append([]gateway.Option{gateway.WithLogger(c.Logger), gateway.WithObserver(c.Metrics)}, opts...)
	client, err := gateway.NewClient(gateway.Config{
		BaseURL:            gc.BaseURL,
		Timeout:            gc.Timeout,
		BreakerEnabled:     gc.Breaker.Enabled,
		BreakerMaxFailures: gc.Breaker.MaxFailures,
		BreakerOpenTimeout: gc.Breaker.OpenTimeout,
	}, opts...)
	if err != nil {
		return err
	}
	c.Gateway = client
	return nil
}

func (c *Container) initHistory(ctx context.Context) error {
	switch c.Config.History.Backend {
	case "postgres":
		db, err := postgres.Open(ctx, c.Config.History.DatabaseURL)
		if err != nil {
			return err
		}
		if err := migration.NewRunner().Run(ctx, db); err != nil {
			db.Close()
			return err
		}
		c.DB = db
		c.History = postgres.NewHistoryStore(db)
	case "gateway", "":
		c.History = c.Gateway
	default:
		return errors.ConfigInvalid(fmt.Sprintf("unknown history backend %q", c.Config.History.Backend))
	}
	return nil
}

func (c *Container) initWorkflow() error {
	ctrl, err := workflow.New(workflow.Options{
		Gateway:  c.Gateway,
		History:  c.History,
		Logger:   c.Logger,
		Metrics:  c.Metrics,
		Dataset:  c.Config.Workflow.DefaultDataset,
		Ordering: workflow.ParseOrdering(c.Config.Workflow.DiscoveryOrdering),
	})
	if err != nil {
		return err
	}
	c.Controller = ctrl
	return nil
}

// StartStatus serves the status API on Config.Status.Addr. It is a no-op
// when no address is configured.
func (c *Container) StartStatus() {
	addr := c.Config.Status.Addr
	if addr == "" || c.Controller == nil {
		return
	}
	c.Status = api.NewStatusServer(c.Controller, c.Metrics, c.Logger)
	c.statusServer = &http.Server{
		Addr:              addr,
		Handler:           c.Status.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		c.Logger.Info("[Container] status API listening on %s", addr)
		if err := c.statusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.Logger.Error("[Container] status API stopped: %v", err)
		}
	}()
}

// Close releases every resource the container opened.
func (c *Container) Close(ctx context.Context) error {
	if c.statusServer != nil {
		if err := c.statusServer.Shutdown(ctx); err != nil {
			c.Logger.Warn("[Container] status API shutdown: %v", err)
		}
	}
	if c.Status != nil {
		c.Status.Close()
	}
	if c.Controller != nil {
		c.Controller.Close()
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			return errors.DatabaseError("failed to close history database", err)
		}
	}
	_ = c.Logger.Sync()
	return nil
}
