package app

import (
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"

	batchDomain "github.com/allisson/batchdonations/internal/batch/domain"
	batchHTTP "github.com/allisson/batchdonations/internal/batch/http"
	batchRepository "github.com/allisson/batchdonations/internal/batch/repository"
	batchMySQL "github.com/allisson/batchdonations/internal/batch/repository/mysql"
	batchService "github.com/allisson/batchdonations/internal/batch/service"
	batchUseCase "github.com/allisson/batchdonations/internal/batch/usecase"
	"github.com/allisson/batchdonations/internal/config"
)

// RedisClient returns the redis client used by the redis run lock.
func (c *Container) RedisClient() *redis.Client {
	c.redisClientInit.Do(func() {
		c.redisClient = batchService.NewRedisClient(batchService.RedisConfig{
			Host:     c.config.RedisHost,
			Port:     c.config.RedisPort,
			Password: c.config.RedisPassword,
			DB:       c.config.RedisDB,
		})
	})
	return c.redisClient
}

// BatchRepository returns the batch repository based on database driver.
func (c *Container) BatchRepository() (batchUseCase.BatchRepository, error) {
	var err error
	c.batchRepositoryInit.Do(func() {
		c.batchRepository, err = c.initBatchRepository()
		if err != nil {
			c.initErrors["batchRepository"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["batchRepository"]; exists {
		return nil, storedErr
	}
	return c.batchRepository, nil
}

// DonationExecutor returns the donation processor client, rate limited when configured.
func (c *Container) DonationExecutor() batchUseCase.DonationExecutor {
	c.donationExecutorInit.Do(func() {
		c.donationExecutor = c.initDonationExecutor()
	})
	return c.donationExecutor
}

// FraudCheck returns the fraud gate, or nil when it is disabled.
func (c *Container) FraudCheck() batchUseCase.FraudCheck {
	c.fraudCheckInit.Do(func() {
		if c.config.FraudCheckEnabled {
			c.fraudCheck = batchService.NewThresholdFraudCheck(c.config.FraudCheckMaxAmount)
		}
	})
	return c.fraudCheck
}

// RunLocker returns the per-batch run lock for the configured backend.
func (c *Container) RunLocker() (batchUseCase.RunLocker, error) {
	var err error
	c.runLockerInit.Do(func() {
		c.runLocker, err = c.initRunLocker()
		if err != nil {
			c.initErrors["runLocker"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["runLocker"]; exists {
		return nil, storedErr
	}
	return c.runLocker, nil
}

// Orchestrator returns the worker pool that runs batch items.
func (c *Container) Orchestrator() (*batchUseCase.Orchestrator, error) {
	var err error
	c.orchestratorInit.Do(func() {
		c.orchestrator, err = c.initOrchestrator()
		if err != nil {
			c.initErrors["orchestrator"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["orchestrator"]; exists {
		return nil, storedErr
	}
	return c.orchestrator, nil
}

// RetryCoordinator returns the coordinator of retry passes.
func (c *Container) RetryCoordinator() (*batchUseCase.RetryCoordinator, error) {
	var err error
	c.retryCoordinatorInit.Do(func() {
		c.retryCoordinator, err = c.initRetryCoordinator()
		if err != nil {
			c.initErrors["retryCoordinator"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["retryCoordinator"]; exists {
		return nil, storedErr
	}
	return c.retryCoordinator, nil
}

// BatchUseCase returns the batch use case.
func (c *Container) BatchUseCase() (batchUseCase.BatchUseCase, error) {
	var err error
	c.batchUseCaseInit.Do(func() {
		c.batchUseCase, err = c.initBatchUseCase()
		if err != nil {
			c.initErrors["batchUseCase"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["batchUseCase"]; exists {
		return nil, storedErr
	}
	return c.batchUseCase, nil
}

// QueueWorker returns the worker that drains queued batches.
func (c *Container) QueueWorker() (*batchUseCase.QueueWorker, error) {
	var err error
	c.queueWorkerInit.Do(func() {
		c.queueWorker, err = c.initQueueWorker()
		if err != nil {
			c.initErrors["queueWorker"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["queueWorker"]; exists {
		return nil, storedErr
	}
	return c.queueWorker, nil
}

// BatchHandler returns the HTTP handler for batch administration.
func (c *Container) BatchHandler() (*batchHTTP.BatchHandler, error) {
	var err error
	c.batchHandlerInit.Do(func() {
		c.batchHandler, err = c.initBatchHandler()
		if err != nil {
			c.initErrors["batchHandler"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["batchHandler"]; exists {
		return nil, storedErr
	}
	return c.batchHandler, nil
}

func (c *Container) initBatchRepository() (batchUseCase.BatchRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for batch repository: %w", err)
	}

	switch c.config.DBDriver {
	case "postgres":
		return batchRepository.NewPostgreSQLBatchRepository(db), nil
	case "mysql":
		return batchMySQL.NewMySQLBatchRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

func (c *Container) initDonationExecutor() batchUseCase.DonationExecutor {
	var executor batchService.DonationExecutor
	if c.config.DonationProcessorDryRun {
		executor = batchService.NewDryRunExecutor(c.Logger())
	} else {
		executor = batchService.NewHTTPExecutor(batchService.HTTPExecutorConfig{
			BaseURL: c.config.DonationProcessorURL,
			Timeout: c.config.DonationProcessorTimeout,
			APIKey:  c.config.DonationProcessorAPIKey,
		})
	}

	if c.config.DonationProcessorRateLimitPerSec > 0 {
		return batchService.NewRateLimitedExecutor(
			executor,
			c.config.DonationProcessorRateLimitPerSec,
			c.config.DonationProcessorBurst,
		)
	}
	return executor
}

func (c *Container) initRunLocker() (batchUseCase.RunLocker, error) {
	switch c.config.RunLockBackend {
	case config.RunLockBackendMemory, "":
		return batchService.NewMemoryRunLocker(), nil
	case config.RunLockBackendRedis:
		return batchService.NewRedisRunLocker(c.RedisClient(), c.config.RunLockTTL), nil
	default:
		return nil, fmt.Errorf("unsupported run lock backend: %s", c.config.RunLockBackend)
	}
}

func (c *Container) initOrchestrator() (*batchUseCase.Orchestrator, error) {
	repo, err := c.BatchRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get batch repository for orchestrator: %w", err)
	}

	locker, err := c.RunLocker()
	if err != nil {
		return nil, fmt.Errorf("failed to get run locker for orchestrator: %w", err)
	}

	businessMetrics, err := c.BusinessMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get business metrics for orchestrator: %w", err)
	}

	engineMetrics, err := c.EngineMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get engine metrics for orchestrator: %w", err)
	}

	orchestrator := batchUseCase.NewOrchestrator(
		batchUseCase.OrchestratorConfig{
			Workers:     c.config.BatchWorkers,
			FlushEvery:  c.config.BatchFlushEvery,
			ItemTimeout: c.config.BatchItemTimeout,
			WorkerID:    c.workerID(),
		},
		repo,
		c.DonationExecutor(),
		c.FraudCheck(),
		locker,
		nil,
		businessMetrics,
		c.Logger(),
	)
	return orchestrator.WithEngineMetrics(engineMetrics), nil
}

func (c *Container) initRetryCoordinator() (*batchUseCase.RetryCoordinator, error) {
	orchestrator, err := c.Orchestrator()
	if err != nil {
		return nil, fmt.Errorf("failed to get orchestrator for retry coordinator: %w", err)
	}

	txManager, err := c.TxManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get tx manager for retry coordinator: %w", err)
	}

	repo, err := c.BatchRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get batch repository for retry coordinator: %w", err)
	}

	return batchUseCase.NewRetryCoordinator(orchestrator, txManager, repo, c.Logger()), nil
}

func (c *Container) initBatchUseCase() (batchUseCase.BatchUseCase, error) {
	txManager, err := c.TxManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get tx manager for batch use case: %w", err)
	}

	repo, err := c.BatchRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get batch repository for batch use case: %w", err)
	}

	orchestrator, err := c.Orchestrator()
	if err != nil {
		return nil, fmt.Errorf("failed to get orchestrator for batch use case: %w", err)
	}

	retry, err := c.RetryCoordinator()
	if err != nil {
		return nil, fmt.Errorf("failed to get retry coordinator for batch use case: %w", err)
	}

	baseUseCase := batchUseCase.NewBatchUseCase(
		batchUseCase.Config{
			Limits: batchDomain.Limits{
				MaxItems:      c.config.BatchMaxItems,
				MaxItemAmount: c.config.BatchMaxItemAmount,
			},
			DefaultMaxRetries: c.config.BatchDefaultMaxRetries,
			SkipDuplicates:    c.config.BatchSkipDuplicates,
		},
		txManager,
		repo,
		orchestrator,
		retry,
		c.Logger(),
	)

	// Wrap with metrics if enabled
	if c.config.MetricsEnabled {
		businessMetrics, err := c.BusinessMetrics()
		if err != nil {
			return nil, fmt.Errorf("failed to get business metrics for batch use case: %w", err)
		}
		return batchUseCase.NewBatchUseCaseWithMetrics(baseUseCase, businessMetrics), nil
	}

	return baseUseCase, nil
}

func (c *Container) initQueueWorker() (*batchUseCase.QueueWorker, error) {
	repo, err := c.BatchRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get batch repository for queue worker: %w", err)
	}

	useCase, err := c.BatchUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get batch use case for queue worker: %w", err)
	}

	return batchUseCase.NewQueueWorker(
		batchUseCase.QueueWorkerConfig{
			Interval: c.config.BatchWorkerInterval,
			PollSize: c.config.BatchWorkerPollSize,
		},
		repo,
		useCase,
		c.Logger(),
	), nil
}

func (c *Container) initBatchHandler() (*batchHTTP.BatchHandler, error) {
	useCase, err := c.BatchUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get batch use case for batch handler: %w", err)
	}
	return batchHTTP.NewBatchHandler(useCase, c.Logger()), nil
}

// workerID falls back to the hostname so claimed batches name the process that runs them.
func (c *Container) workerID() string {
	if c.config.BatchWorkerID != "" {
		return c.config.BatchWorkerID
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return ""
}
