// Package app wires configuration, infrastructure and components.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/acme/autodialer/internal/concurrency"
	"github.com/acme/autodialer/internal/config"
	"github.com/acme/autodialer/internal/feed"
	"github.com/acme/autodialer/internal/infra/db"
	"github.com/acme/autodialer/internal/infra/redis"
	"github.com/acme/autodialer/internal/interpreter"
	"github.com/acme/autodialer/internal/queue"
	"github.com/acme/autodialer/internal/repository"
	pgrepo "github.com/acme/autodialer/internal/repository/postgres"
	scyllarepo "github.com/acme/autodialer/internal/repository/scylla"
	"github.com/acme/autodialer/internal/scheduler"
	"github.com/acme/autodialer/internal/telephony"
	telephonyMock "github.com/acme/autodialer/internal/telephony/mock"
	"github.com/acme/autodialer/internal/telephony/twilio"
	"github.com/acme/autodialer/internal/validate"
	"github.com/acme/autodialer/pkg/logger"
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	// lazily initialised components
	components struct {
		once            sync.Once
		repositories    *repositories
		statusPublisher *queue.StatusPublisher
		provider        telephony.Provider
		engine          *scheduler.Engine
		feed            *feed.Service
		interpreter     *interpreter.Interpreter
	}
}

type repositories struct {
	Campaign  repository.CampaignRepository
	CallStore repository.CallStore
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}

	scylla, err := db.NewScylla(cfg.Scylla)
	if err != nil {
		return nil, fmt.Errorf("bootstrap scylla: %w", err)
	}

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}

	kafka, err := queue.NewKafka(cfg.Kafka)
	if err != nil {
		return nil, fmt.Errorf("bootstrap kafka: %w", err)
	}

	return &Container{
		Config:   cfg,
		Logger:   lg,
		Postgres: pg,
		Scylla:   scylla,
		Redis:    redisClient,
		Kafka:    kafka,
	}, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		cfg := c.Config
		policy := validate.Policy{
			SandboxPrefix: cfg.Dialer.SandboxPrefix,
			MaxBatchSize:  cfg.Dialer.MaxBatchSize,
		}

		repos := &repositories{
			Campaign:  pgrepo.NewCampaignRepository(c.Postgres.DB()),
			CallStore: scyllarepo.NewCallStore(c.Scylla.Session()),
		}

		var provider telephony.Provider
		if cfg.Twilio.UseMock {
			provider = telephonyMock.NewProvider(0)
		} else {
			// Credentials may still be absent here. The provider then
			// reports not ready and the scheduler skips records with
			// missing_credentials rather than failing bootstrap.
			provider = twilio.NewProvider(cfg.Twilio, policy)
		}

		publisher := queue.NewStatusPublisher(c.Kafka, cfg.Kafka.StatusTopic)
		lock := concurrency.NewDialLock(c.Redis.Inner(), cfg.Dialer.LockTTL)

		engine := scheduler.NewEngine(
			repos.CallStore,
			repos.Campaign,
			provider,
			publisher,
			lock,
			cfg.Dialer,
			cfg.Twilio.FromNumber,
			c.Logger.Named("scheduler"),
		)

		c.components.repositories = repos
		c.components.statusPublisher = publisher
		c.components.provider = provider
		c.components.engine = engine
		c.components.feed = feed.NewService(repos.CallStore, repos.Campaign, c.Redis.Inner())
		c.components.interpreter = interpreter.New(cfg.AI, cfg.Dialer.DefaultMessage)
	})
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *repositories {
	c.initComponents()
	return c.components.repositories
}

// Engine exposes the campaign scheduler.
func (c *Container) Engine() *scheduler.Engine {
	c.initComponents()
	return c.components.engine
}

// Feed exposes the status feed service.
func (c *Container) Feed() *feed.Service {
	c.initComponents()
	return c.components.feed
}

// Interpreter exposes the prompt interpreter.
func (c *Container) Interpreter() *interpreter.Interpreter {
	c.initComponents()
	return c.components.interpreter
}

// StatusPublisher exposes the Kafka status publisher.
func (c *Container) StatusPublisher() *queue.StatusPublisher {
	c.initComponents()
	return c.components.statusPublisher
}

// EnsureTopics creates the Kafka topics this deployment relies on.
func (c *Container) EnsureTopics(ctx context.Context) error {
	return c.Kafka.EnsureTopics(ctx, []string{c.Config.Kafka.StatusTopic}, 3, 1)
}

// Close releases infrastructure connections.
func (c *Container) Close() {
	if c.components.statusPublisher != nil {
		_ = c.components.statusPublisher.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.Scylla != nil {
		_ = c.Scylla.Close()
	}
	if c.Postgres != nil {
		_ = c.Postgres.Close()
	}
	c.Logger.Sync()
}
