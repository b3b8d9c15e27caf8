package main

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sells-group/leadflow/internal/config"
	"github.com/sells-group/leadflow/internal/enrich"
	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/internal/notify"
	"github.com/sells-group/leadflow/internal/pipeline"
	"github.com/sells-group/leadflow/internal/resilience"
	"github.com/sells-group/leadflow/internal/scrape"
	"github.com/sells-group/leadflow/internal/store"
	anthropicpkg "github.com/sells-group/leadflow/pkg/anthropic"
)

// pipelineEnv holds the store, registry and notification plumbing needed by
// the serve and run commands.
type pipelineEnv struct {
	Store    store.Store
	Registry *pipeline.Registry
	Hub      *notify.Hub
	Relay    *notify.RedisRelay // nil without notify.redis_url
	AMQP     *notify.AMQPRelay  // nil without notify.amqp_url

	redis    *redis.Client
	amqpConn *amqp.Connection
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.redis != nil {
		_ = pe.redis.Close()
	}
	if pe.amqpConn != nil {
		_ = pe.amqpConn.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline sets up the store, adapters, hub and registry. Callers should
// defer env.Close(), start env.Registry.Run for retention and start the
// relays with runRelays.
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	st, err := openStore(ctx, mode)
	if err != nil {
		return nil, err
	}
	env := &pipelineEnv{Store: st}

	var relays []notify.Relay
	if cfg.Notify.RedisURL != "" {
		rdb, err := notify.NewRedisClient(ctx, cfg.Notify.RedisURL)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.redis = rdb
		env.Relay = notify.NewRedisRelay(rdb, cfg.Notify.ChannelPrefix)
		relays = append(relays, env.Relay)
	}
	if cfg.Notify.AMQPURL != "" {
		conn, ch, err := notify.DialAMQP(cfg.Notify.AMQPURL, cfg.Notify.AMQPExchange)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.amqpConn = conn
		env.AMQP = notify.NewAMQPRelay(ch, cfg.Notify.AMQPExchange)
		relays = append(relays, env.AMQP)
	}

	env.Hub = notify.NewHub(cfg.Notify.MinInterval, relays...)
	env.Registry = pipeline.NewRegistry(st, buildAdapters(cfg), env.Hub, registryConfig(cfg))

	zap.L().Info("pipeline ready",
		zap.String("store", cfg.Store.Driver),
		zap.Bool("redis_relay", env.Relay != nil),
		zap.Bool("amqp_relay", env.AMQP != nil),
		zap.Bool("llm_classifier", cfg.Anthropic.Key != ""),
	)
	return env, nil
}

// buildAdapters wires the default scraping, classification, discovery and
// verification adapters. The LLM classifier is used only with an API key.
func buildAdapters(c *config.Config) pipeline.Adapters {
	fetcher := scrape.NewLocalFetcher(scrape.Options{
		Timeout:     c.Scrape.Timeout,
		UserAgent:   c.Scrape.UserAgent,
		RatePerHost: c.Scrape.RatePerHost,
		MaxBodyKB:   c.Scrape.MaxBodyKB,
	})
	// MX checks cannot confirm a mailbox, so every score stays below
	// enrich.VerifiedThreshold and addresses are stored with verified=false.
	// Only a mailbox-level Verifier can mark an address verified.
	verifier := enrich.NewMXVerifier(c.Verify.MXTimeout)
	heuristic := enrich.NewHeuristicClassifier(fetcher)

	var classifier enrich.Classifier = heuristic
	if c.Anthropic.Key != "" {
		client := anthropicpkg.NewClient(c.Anthropic.Key)
		classifier = enrich.NewLLMClassifier(heuristic, client, c.Anthropic.Model, c.Anthropic.MaxTokens)
	}

	return pipeline.Adapters{
		Classifier: classifier,
		Discoverer: enrich.NewSiteDiscoverer(fetcher, verifier, 0),
		Verifier:   verifier,
	}
}

func registryConfig(c *config.Config) pipeline.Config {
	return pipeline.Config{
		Workers: map[model.Step]int{
			model.StepClassify: c.Pipeline.ClassifyWorkers,
			model.StepDiscover: c.Pipeline.DiscoverWorkers,
			model.StepVerify:   c.Pipeline.VerifyWorkers,
		},
		Retention:       c.Pipeline.Retention,
		JanitorInterval: c.Pipeline.JanitorInterval,
		StoreRetry: resilience.Policy{
			Attempts: c.Store.RetryAttempts,
			Backoff:  c.Store.RetryBackoff,
		},
		BreakerFailures: c.Store.BreakerFailures,
		BreakerCooldown: c.Store.BreakerCooldown,
	}
}

// runRelays publishes relayed snapshots until ctx ends.
func (pe *pipelineEnv) runRelays(ctx context.Context) {
	if pe.Relay != nil {
		go pe.Relay.Run(ctx)
	}
	if pe.AMQP != nil {
		go pe.AMQP.Run(ctx)
	}
}
