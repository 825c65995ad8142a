// internal/app/app.go

// Package app wires configuration, infrastructure clients and the compliance
// services together for the binaries under cmd/.
package app

import (
	"context"
	"fmt"
	"time"

	"compliance-workflow/internal/common/aws"
	"compliance-workflow/internal/common/config"
	"compliance-workflow/internal/common/database"
	"compliance-workflow/internal/common/logger"
	"compliance-workflow/internal/common/observability"
	"compliance-workflow/internal/common/validation"
	"compliance-workflow/internal/services/activity"
	"compliance-workflow/internal/services/approvals"
	"compliance-workflow/internal/services/escalation"
	"compliance-workflow/internal/services/forms"
	"compliance-workflow/internal/services/notify"
	"compliance-workflow/internal/services/sweeper"
	"compliance-workflow/internal/services/txn"
	"compliance-workflow/internal/store/postgres"
)

// App holds every long-lived dependency of a running process.
type App struct {
	Config        *config.Config
	Logger        logger.Logger
	Observability *observability.Observability

	Postgres *database.PostgresClient
	Redis    *database.RedisClient
	Search   *database.ElasticsearchClient // nil when indexing is disabled

	Notifier   *notify.Service
	Runner     *txn.Runner
	Forms      *forms.Service
	Approvals  *approvals.Service
	Escalation *escalation.Service
	Sweeper    *sweeper.Service
}

// New connects to Postgres and Redis and builds the services. Elasticsearch,
// SES and SNS are optional and only wired when configured.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: log}

	obs, err := observability.New(cfg.App.Name)
	if err != nil {
		log.Warn("observability exporter unavailable", map[string]interface{}{"error": err.Error()})
	}
	a.Observability = obs

	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		return nil, err
	}
	if err := pg.WaitReady(ctx, 30*time.Second); err != nil {
		pg.Close()
		return nil, fmt.Errorf("postgres not ready: %w", err)
	}
	a.Postgres = pg
	log.Info("PostgreSQL connected successfully", nil)

	rdb, err := database.NewRedis(cfg.Database.Redis)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Redis = rdb
	if err := rdb.Ping(ctx); err != nil {
		// Redis only backs the stats cache and the sweep lock, both of which
		// degrade gracefully.
		log.Warn("redis unavailable at startup", map[string]interface{}{"error": err.Error()})
	} else {
		log.Info("Redis connected successfully", nil)
	}

	var indexer activity.Indexer
	if cfg.Database.Elasticsearch.Enabled() {
		es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := es.Ping(ctx); err != nil {
			log.Warn("elasticsearch unavailable at startup", map[string]interface{}{"error": err.Error()})
		}
		a.Search = es
		indexer = es
	}

	notifyOpts, err := deliveryOptions(ctx, cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	st := postgres.New(pg.DB, log, postgres.WithMaxRetries(cfg.Database.Postgres.TxMaxRetries))

	a.Notifier = notify.NewService(&notify.Config{
		Concurrency: cfg.Workflow.NotificationConcurrency,
		Async:       cfg.Workflow.AsyncDelivery,
		LinkBaseURL: cfg.Workflow.LinkBaseURL,
	}, st, log, notifyOpts...)

	recorder := activity.NewRecorder(indexer, cfg.Database.Elasticsearch.ActivityIndex, log)
	a.Runner = txn.NewRunner(st, recorder, a.Notifier, log)

	validator, err := validation.NewPayloadValidator()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Forms = forms.NewService(a.Runner, validator, log)

	approvalsCfg := approvals.LoadConfig()
	approvalsCfg.StatsCacheTTL = config.GetDuration(cfg.Workflow.StatsCacheTTL)
	a.Approvals = approvals.NewService(a.Runner, a.Forms, log,
		approvals.WithStatsCache(approvals.NewRedisStatsCache(rdb.Client, approvalsCfg.StatsCacheKey, approvalsCfg.StatsCacheTTL)))

	a.Escalation = escalation.NewService(&escalation.Config{
		ResponseWindow: time.Duration(cfg.Workflow.ResponseWindowHours) * time.Hour,
	}, a.Runner, log)

	sweepCfg := sweeper.LoadConfig()
	sweepCfg.BatchSize = cfg.Workflow.SweepBatchSize
	sweepCfg.Interval = config.GetDuration(cfg.Workflow.SweepInterval)
	sweepCfg.LockTTL = config.GetDuration(cfg.Workflow.SweepLockTTL)
	sweepCfg.InstanceID = cfg.App.InstanceID
	a.Sweeper = sweeper.NewService(sweepCfg, a.Runner, a.Escalation, log,
		sweeper.WithLock(rdb.Client),
		sweeper.WithObservability(obs))

	return a, nil
}

func deliveryOptions(ctx context.Context, cfg *config.Config, log logger.Logger) ([]notify.Option, error) {
	var opts []notify.Option
	awsCfg := cfg.Integrations.AWS
	if awsCfg.SES.Enabled {
		ses, err := aws.NewSESClient(ctx, awsCfg.Region, awsCfg.SES.FromEmail)
		if err != nil {
			return nil, err
		}
		opts = append(opts, notify.WithEmail(ses))
		log.Info("email delivery enabled", map[string]interface{}{"from": awsCfg.SES.FromEmail})
	}
	if awsCfg.SNS.Enabled {
		sns, err := aws.NewSNSClient(ctx, awsCfg.Region, awsCfg.SNS.SenderID)
		if err != nil {
			return nil, err
		}
		opts = append(opts, notify.WithSMS(sns))
		log.Info("sms delivery enabled", nil)
	}
	return opts, nil
}

// Ready reports whether the hard dependencies answer.
func (a *App) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := a.Postgres.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	return nil
}

// Close waits for background deliveries and releases every client.
func (a *App) Close() {
	if a.Notifier != nil {
		a.Notifier.Wait()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("redis close failed", map[string]interface{}{"error": err.Error()})
		}
	}
	if a.Postgres != nil {
		if err := a.Postgres.Close(); err != nil {
			a.Logger.Warn("postgres close failed", map[string]interface{}{"error": err.Error()})
		}
	}
	if err := a.Observability.Shutdown(context.Background()); err != nil {
		a.Logger.Warn("observability shutdown failed", map[string]interface{}{"error": err.Error()})
	}
}
