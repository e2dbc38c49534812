// Command choreoctl runs the choreography control-plane tool surface: the
// HTTP endpoint a Conductor/Strategist/Worker agent calls to create, read,
// and advance a workflow's control-plane documents (spec §4.8).
//
// # Configuration
//
// Environment variables (see config.Config for the full list and defaults):
//
//	REDIS_URL                      - document store and lease backend (default: "localhost:6379")
//	AGENT_RUNTIME_BASE_URL         - agent-runtime service base URL (default: "http://localhost:8283")
//	LISTEN_ADDR                    - tool surface listen address (default: ":8443")
//	SCHEMA_DIR, WORKFLOW_DIR, SKILLS_DIR - workflow/skill source directories
//	AUDIT_ARCHIVE_ENABLED, MONGO_URI, MONGO_DATABASE - optional durable audit archive
//
// A YAML config file may be passed as the first argument; environment
// variables always take precedence over it.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	openaisdk "github.com/openai/openai-go"
	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/choreoflow/choreoctl/agentruntime"
	"github.com/choreoflow/choreoctl/auditstore"
	auditmongoclient "github.com/choreoflow/choreoctl/auditstore/mongo/clients/mongo"
	auditmongo "github.com/choreoflow/choreoctl/auditstore/mongo"
	"github.com/choreoflow/choreoctl/config"
	"github.com/choreoflow/choreoctl/controlplane"
	"github.com/choreoflow/choreoctl/docstore"
	"github.com/choreoflow/choreoctl/eventstream"
	"github.com/choreoflow/choreoctl/modelselect"
	"github.com/choreoflow/choreoctl/session"
	"github.com/choreoflow/choreoctl/telemetry"
	"github.com/choreoflow/choreoctl/toolsurface"
	"github.com/choreoflow/choreoctl/validator"
)

func main() {
	var yamlPath string
	if len(os.Args) > 1 {
		yamlPath = os.Args[1]
	}
	if err := run(yamlPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(yamlPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(yamlPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := telemetry.NewClueLogger()
	tracer := telemetry.NewClueTracer()
	metrics := telemetry.NewClueMetrics()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn(ctx, "close redis", "error", err.Error())
		}
	}()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}

	docs := docstore.NewRedisStore(rdb)
	cp := controlplane.NewStore(docs, controlplane.WithTelemetry(tracer, metrics))

	rt := agentruntime.NewHTTPRuntime(agentruntime.HTTPClientConfig{
		BaseURL:           cfg.AgentRuntimeBaseURL,
		RequestsPerSecond: cfg.AgentRuntimeRequestsPerSecond,
		Burst:             cfg.AgentRuntimeBurst,
		Timeout:           cfg.AgentRuntimeTimeout,
	})

	tools, err := agentruntime.NewToolCache(ctx, rdb, "choreoctl-tools", rt, 5*time.Minute)
	if err != nil {
		return fmt.Errorf("create tool cache: %w", err)
	}

	events, err := eventstream.New(eventstream.Options{Redis: rdb})
	if err != nil {
		return fmt.Errorf("create event stream client: %w", err)
	}
	defer func() {
		if err := events.Close(ctx); err != nil {
			logger.Warn(ctx, "close event stream", "error", err.Error())
		}
	}()
	notifier := controlplane.NewNotifier(cp, rt, eventstream.NewNotifier(events), controlplane.WithNotifierTelemetry(tracer, metrics))
	finalizer := controlplane.NewFinalizer(cp, rt, controlplane.WithFinalizerTelemetry(tracer, metrics))

	modelRegistry, err := buildModelRegistry(*cfg)
	if err != nil {
		return fmt.Errorf("build model registry: %w", err)
	}

	sessionMgr := session.NewManager(rt, session.Options{
		DefaultCompanionModel: cfg.DefaultCompanionModel,
		Logger:                logger,
	})

	schemaJSON, err := os.ReadFile(filepath.Join(cfg.SchemaDir, "workflow.schema.json"))
	if err != nil {
		return fmt.Errorf("read workflow schema: %w", err)
	}

	var archiver auditstore.Store
	if cfg.AuditArchiveEnabled {
		store, closeMongo, err := buildAuditArchiver(ctx, *cfg)
		if err != nil {
			return fmt.Errorf("build audit archiver: %w", err)
		}
		defer closeMongo()
		archiver = store
	}

	registry := toolsurface.NewRegistry()
	toolsurface.RegisterControlPlane(registry, cp, notifier, finalizer, archiver)
	if err := toolsurface.RegisterValidator(registry, schemaJSON, cfg.WorkflowDir, cfg.SkillsDir, validator.FileLoader{}); err != nil {
		return fmt.Errorf("register validator tool: %w", err)
	}
	toolsurface.RegisterBootstrap(registry, rt, cp, validator.FileLoader{}, tools)
	toolsurface.RegisterSession(registry, sessionMgr)
	toolsurface.RegisterModelSelect(registry, modelRegistry)

	srv := toolsurface.NewServer(cfg.ListenAddr, registry, toolsurface.ServerOptions{
		Allowlist: toolsurface.AllowlistOptions{
			Enabled:        cfg.EnableDNSRebindingProtection,
			AllowedHosts:   cfg.AllowedHosts,
			AllowedOrigins: cfg.AllowedOrigins,
		},
		Logger: logger,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "tool surface listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("tool surface server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildModelRegistry wires AMSP's per-tier model clients (spec's DOMAIN
// STACK table): tier 0 via openai-go, tiers 1-2 always via anthropic-sdk-go,
// tier 3 via anthropic-sdk-go or, when cfg.Tier3UsesBedrock, AWS Bedrock.
// Every SDK client reads its credentials from the process environment
// (ANTHROPIC_API_KEY, OPENAI_API_KEY, the AWS default credential chain),
// matching features/model/{anthropic,openai,bedrock}/client.go's own
// environment-first construction.
func buildModelRegistry(cfg config.Config) (*modelselect.Registry, error) {
	modelIDs := cfg.ModelIDsByTier
	if modelIDs == nil {
		modelIDs = modelselect.DefaultModelIDs()
	}
	pricing := cfg.PricingByTier
	if pricing == nil {
		pricing = modelselect.DefaultPricing()
	}

	anthropicClient := anthropicsdk.NewClient()
	openaiClient := openaisdk.NewClient()

	byTier := map[int]modelselect.Client{
		0: modelselect.NewOpenAIClient(openaiClient, modelIDs[0], pricing[0]),
		1: modelselect.NewAnthropicClient(anthropicClient, modelIDs[1], pricing[1]),
		2: modelselect.NewAnthropicClient(anthropicClient, modelIDs[2], pricing[2]),
	}

	if cfg.Tier3UsesBedrock {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.BedrockRegion))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		brt := bedrockruntime.NewFromConfig(awsCfg)
		byTier[3] = modelselect.NewBedrockClient(brt, modelIDs[3], pricing[3])
	} else {
		byTier[3] = modelselect.NewAnthropicClient(anthropicClient, modelIDs[3], pricing[3])
	}

	return modelselect.NewRegistry(byTier)
}

// buildAuditArchiver connects to MongoDB and builds the durable audit
// archive (spec's DOMAIN STACK table: auditstore/mongo). The returned
// close func disconnects the Mongo client; callers must defer it.
func buildAuditArchiver(ctx context.Context, cfg config.Config) (*auditmongo.Store, func(), error) {
	mc, err := mongodriver.Connect(mongooptions.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to mongo: %w", err)
	}
	closeFn := func() {
		if err := mc.Disconnect(); err != nil {
			fmt.Fprintf(os.Stderr, "disconnect mongo: %v\n", err)
		}
	}

	client, err := auditmongoclient.New(auditmongoclient.Options{
		Client:   mc,
		Database: cfg.MongoDatabase,
	})
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("create audit mongo client: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("ping mongo: %w", err)
	}
	store, err := auditmongo.NewStore(client)
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("create audit store: %w", err)
	}
	return store, closeFn, nil
}
