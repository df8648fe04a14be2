package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/missedcall-ai-platform/internal/calls"
	"github.com/wolfman30/missedcall-ai-platform/internal/clinic"
	appconfig "github.com/wolfman30/missedcall-ai-platform/internal/config"
	"github.com/wolfman30/missedcall-ai-platform/internal/conversation"
	"github.com/wolfman30/missedcall-ai-platform/internal/events"
	"github.com/wolfman30/missedcall-ai-platform/internal/followup"
	"github.com/wolfman30/missedcall-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/missedcall-ai-platform/internal/voicemail"
	"github.com/wolfman30/missedcall-ai-platform/pkg/logging"
)

const (
	threadLockTTL     = 15 * time.Second
	enqueueTimeout    = 3 * time.Second
	memoryQueueBuffer = 256
)

// Services is the shared object graph behind the API server, the worker and the lambda.
type Services struct {
	Config   *appconfig.Config
	Logger   *logging.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Pool  *pgxpool.Pool
	Redis *redis.Client

	// ClinicStore and ClinicCache are nil without Postgres and Redis respectively.
	ClinicStore *clinic.PostgresStore
	ClinicCache *clinic.CachedDirectory
	Directory   clinic.Directory

	Calls     calls.Store
	Threads   calls.ThreadStore
	Locker    calls.ThreadLocker
	Claimer   events.Claimer
	Messenger conversation.ReplyMessenger
	LLM       conversation.LLMClient

	Queue      followup.Queue
	Jobs       *followup.JobStore
	Publisher  *followup.Publisher
	Dispatcher *followup.Dispatcher
	Relay      *voicemail.Relay
	Ingestor   *calls.Ingestor
	Engine     *conversation.Engine
}

// Build wires every component from config. Postgres, Redis, DynamoDB and the
// object store are optional; in-memory stand-ins cover local development.
func Build(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (*Services, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s := &Services{
		Config:   cfg,
		Logger:   logger,
		Registry: reg,
		Metrics:  metrics.New(reg),
	}

	pool, err := BuildPostgresPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	s.Pool = pool
	s.Redis = BuildRedisClient(ctx, cfg, logger, true)

	s.wireStores()
	if cfg.IsProduction() && s.Pool == nil {
		s.Close()
		return nil, fmt.Errorf("bootstrap: DATABASE_URL is required in production")
	}

	llm, provider, err := BuildLLMClient(ctx, cfg, awsCfg, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.LLM = llm
	messenger, smsProvider := BuildOutboundMessenger(cfg, logger)
	s.Messenger = messenger

	if err := s.wireJobs(cfg, awsCfg); err != nil {
		s.Close()
		return nil, err
	}

	store, err := BuildObjectStore(ctx, cfg, awsCfg, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	notifier, emailProvider := BuildNotifier(cfg, awsCfg, logger)

	s.Dispatcher = followup.NewDispatcher(followup.DispatcherDeps{
		Directory: s.Directory,
		Calls:     s.Calls,
		LLM:       s.LLM,
		Messenger: s.Messenger,
		Claimer:   s.Claimer,
		Metrics:   s.Metrics,
		Logger:    logger,
	}, followup.DispatcherConfig{
		DefaultDelay:   cfg.DefaultFollowUpDelay,
		LookupBuffer:   cfg.FollowUpLookupBuffer,
		LookupAttempts: cfg.FollowUpLookupAttempts,
		LookupDelay:    cfg.FollowUpLookupDelay,
	})
	s.Relay = voicemail.NewRelay(voicemail.RelayDeps{
		Fetcher:   voicemail.NewHTTPFetcher(cfg.TwilioAccountSID, cfg.TwilioAuthToken),
		Store:     store,
		Notifier:  notifier,
		Directory: s.Directory,
		Calls:     s.Calls,
		Claimer:   s.Claimer,
		Metrics:   s.Metrics,
		Logger:    logger,
	})
	s.Ingestor = calls.NewIngestor(s.Calls, s.Directory, s.Publisher, logger,
		calls.WithClassifier(calls.Classifier{MinTalkTime: cfg.MissedCallMinTalkTime}),
		calls.WithEnqueueTimeout(enqueueTimeout),
		calls.WithIngestorMetrics(s.Metrics),
		calls.WithEnqueueClaimer(s.Claimer),
	)
	s.Engine = conversation.NewEngine(conversation.EngineDeps{
		Directory: s.Directory,
		Calls:     s.Calls,
		Threads:   s.Threads,
		Locker:    s.Locker,
		LLM:       s.LLM,
		Messenger: s.Messenger,
		Metrics:   s.Metrics,
		Logger:    logger,
	}, conversation.EngineConfig{
		ReplyCap:     cfg.ReplyCap,
		HistoryLimit: cfg.ReplyHistory,
	})

	logger.Info("services wired",
		"postgres", s.Pool != nil,
		"redis", s.Redis != nil,
		"llm", provider,
		"sms", smsProvider,
		"email", emailProvider,
		"archive", store != nil,
		"memory_queue", cfg.UseMemoryQueue,
	)
	return s, nil
}

func (s *Services) wireStores() {
	if s.Pool != nil {
		s.ClinicStore = clinic.NewPostgresStore(s.Pool)
		s.Directory = s.ClinicStore
		s.Calls = calls.NewPostgresStore(s.Pool)
		s.Threads = calls.NewPostgresThreadStore(s.Pool)
		s.Claimer = events.NewProcessedStore(s.Pool)
	} else {
		s.Logger.Warn("DATABASE_URL not set; using in-memory call store and no clinic directory")
		mem := calls.NewMemoryStore()
		s.Calls = mem
		s.Threads = mem
		s.Claimer = events.NewMemoryProcessedStore()
	}

	if s.Redis != nil {
		s.Locker = calls.NewRedisThreadLocker(s.Redis, threadLockTTL)
		if s.ClinicStore != nil {
			s.ClinicCache = clinic.NewCachedDirectory(s.ClinicStore, s.Redis, s.Config.ClinicCacheTTL, s.Logger)
			s.Directory = s.ClinicCache
		}
	} else {
		s.Locker = calls.NewLocalThreadLocker()
	}
}

func (s *Services) wireJobs(cfg *appconfig.Config, awsCfg aws.Config) error {
	if cfg.UseMemoryQueue {
		s.Queue = followup.NewMemoryQueue(memoryQueueBuffer)
	} else {
		if cfg.JobsQueueURL == "" {
			return fmt.Errorf("bootstrap: JOBS_QUEUE_URL required unless USE_MEMORY_QUEUE=true")
		}
		s.Queue = followup.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.JobsQueueURL)
	}

	var recorder followup.JobRecorder
	if cfg.JobsTable != "" {
		s.Jobs = followup.NewJobStore(dynamodb.NewFromConfig(awsCfg), cfg.JobsTable, s.Logger)
		recorder = s.Jobs
	}
	s.Publisher = followup.NewPublisher(s.Queue, recorder, s.Logger)
	return nil
}

// NewWorker builds a queue consumer over the shared dispatcher and relay.
func (s *Services) NewWorker(opts ...followup.WorkerOption) *followup.Worker {
	opts = append([]followup.WorkerOption{
		followup.WithWorkerCount(s.Config.WorkerCount),
		followup.WithWorkerMetrics(s.Metrics),
	}, opts...)
	if s.Jobs != nil {
		opts = append(opts, followup.WithJobUpdater(s.Jobs))
	}
	return followup.NewWorker(s.Dispatcher, s.Publisher, s.Relay, s.Queue, s.Logger, opts...)
}

// Close releases pooled connections and stops in-memory timers.
func (s *Services) Close() {
	if mq, ok := s.Queue.(*followup.MemoryQueue); ok {
		mq.Close()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
}
