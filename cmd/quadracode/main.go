// Command quadracode runs one runtime identity: it loads the configured
// profile, connects the mailbox and checkpoint stores, builds the reasoning
// graph for the selected model provider and polls the identity's mailbox
// until terminated. Agent profiles additionally expose a health/debug HTTP
// surface and keep themselves registered with the agent registry.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	goredis "github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/clue/debug"
	"goa.design/clue/health"
	"goa.design/clue/log"
	"goa.design/pulse/rmap"

	checkpointmongo "github.com/quadracode/quadracode/features/checkpoint/mongo"
	mailredis "github.com/quadracode/quadracode/features/mail/redis"
	"github.com/quadracode/quadracode/features/model/anthropic"
	"github.com/quadracode/quadracode/features/model/bedrock"
	"github.com/quadracode/quadracode/features/model/middleware"
	"github.com/quadracode/quadracode/features/model/openai"
	registryhttp "github.com/quadracode/quadracode/features/registry/http"
	"github.com/quadracode/quadracode/runtime/graph"
	graphinmem "github.com/quadracode/quadracode/runtime/graph/inmem"
	"github.com/quadracode/quadracode/runtime/model"
	"github.com/quadracode/quadracode/runtime/profile"
	"github.com/quadracode/quadracode/runtime/registration"
	"github.com/quadracode/quadracode/runtime/runner"
	"github.com/quadracode/quadracode/runtime/telemetry"
	"github.com/quadracode/quadracode/runtime/tools"
)

func main() {
	var (
		configF = flag.String("config", "", "Path to the YAML configuration file")
		dbgF    = flag.Bool("debug", false, "Enable debug logs and the pprof surface")
	)
	flag.Parse()

	// Setup logger.
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	cfg, err := loadConfig(*configF)
	if err != nil {
		log.Fatalf(ctx, err, "invalid configuration")
	}

	// Resolve profile and identity; both are fatal when missing.
	prof, err := profile.Load(profileName())
	if err != nil {
		log.Fatalf(ctx, err, "cannot load profile %q", profileName())
	}
	identity, err := runner.ResolveIdentity(prof)
	if err != nil {
		log.Fatalf(ctx, err, "cannot resolve runtime identity")
	}
	log.Print(ctx, log.KV{K: "profile", V: prof.Name}, log.KV{K: "identity", V: identity})

	// Messaging substrate. Redis is the one hard requirement.
	if cfg.Redis.Addr == "" {
		log.Fatalf(ctx, fmt.Errorf("redis.addr is not configured"), "missing messaging configuration")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Errorf(ctx, err, "close redis")
		}
	}()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf(ctx, err, "cannot reach redis at %s", cfg.Redis.Addr)
	}

	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewClueMetrics()

	mailClient, err := mailredis.New(mailredis.Options{
		Redis:     rdb,
		KeyPrefix: cfg.Mailbox.Prefix,
		MaxLen:    cfg.Mailbox.MaxLen,
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		log.Fatalf(ctx, err, "cannot build mailbox client")
	}

	// Checkpoint store: Mongo when configured, per-process memory otherwise.
	var (
		checkpointer graph.Checkpointer
		pingers      = []health.Pinger{mailClient}
	)
	if cfg.Mongo.URI != "" {
		mc, err := mongodriver.Connect(mongooptions.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			log.Fatalf(ctx, err, "cannot connect to mongo at %s", cfg.Mongo.URI)
		}
		defer func() {
			if err := mc.Disconnect(context.WithoutCancel(ctx)); err != nil {
				log.Errorf(ctx, err, "disconnect mongo")
			}
		}()
		cp, err := checkpointmongo.New(checkpointmongo.Options{
			Client:   mc,
			Database: cfg.Mongo.Database,
		})
		if err != nil {
			log.Fatalf(ctx, err, "cannot build checkpoint store")
		}
		checkpointer = cp
		pingers = append(pingers, cp)
	} else {
		log.Print(ctx, log.KV{K: "msg", V: "mongo not configured, using in-memory checkpoints"})
		checkpointer = graphinmem.New()
	}

	modelClient, err := buildModelClient(ctx, cfg.Model, rdb)
	if err != nil {
		log.Fatalf(ctx, err, "cannot build model client")
	}

	g, err := graph.New(graph.Options{
		Model:        modelClient,
		Checkpointer: checkpointer,
		Tools:        tools.NewRegistry(),
		SystemPrompt: prof.SystemPrompt,
		Logger:       logger,
		Metrics:      metrics,
	})
	if err != nil {
		log.Fatalf(ctx, err, "cannot build reasoning graph")
	}

	// Agent profiles register with the registry and expose a health surface.
	var reg *registration.Integration
	if prof.Name == profile.NameAgent && autoregisterEnabled() {
		if cfg.Registry.URL == "" {
			log.Fatalf(ctx, fmt.Errorf("registry.url is not configured"), "agent profile requires a registry")
		}
		var opts []registryhttp.Option
		if cfg.Registry.Token != "" {
			opts = append(opts, registryhttp.WithBearerToken(cfg.Registry.Token))
		}
		regClient, err := registryhttp.New(cfg.Registry.URL, opts...)
		if err != nil {
			log.Fatalf(ctx, err, "cannot build registry client")
		}
		reg, err = registration.New(registration.Options{
			Client:   regClient,
			AgentID:  identity,
			Host:     agentHost(),
			Port:     agentPort(),
			Interval: heartbeatInterval(),
			Logger:   logger,
			Metrics:  metrics,
		})
		if err != nil {
			log.Fatalf(ctx, err, "cannot build registration integration")
		}
	}

	run, err := runner.New(runner.Options{
		Profile:      prof,
		Client:       mailClient,
		Graph:        g,
		Identity:     identity,
		Registration: reg,
		Logger:       logger,
		Metrics:      metrics,
	})
	if err != nil {
		log.Fatalf(ctx, err, "cannot build runtime loop")
	}

	// Channel shared by the signal handler and server goroutines to notify
	// the main goroutine when to stop.
	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	var healthSrv *http.Server
	if prof.Name == profile.NameAgent {
		healthSrv = startHealthServer(ctx, pingers, *dbgF, errc, &wg)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		run.Run(ctx)
	}()

	log.Printf(ctx, "exiting (%v)", <-errc)
	cancel()
	if healthSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer shutdownCancel()
		if err := healthSrv.Shutdown(shutdownCtx); err != nil {
			log.Errorf(ctx, err, "shutdown health server")
		}
	}
	wg.Wait()
	log.Printf(ctx, "exited")
}

// buildModelClient constructs the configured provider adapter and wraps it in
// the adaptive rate limiter when a tokens-per-minute budget is set. The
// limiter coordinates across processes through a Pulse replicated map keyed
// by provider.
func buildModelClient(ctx context.Context, cfg ModelConfig, rdb *goredis.Client) (model.Client, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "anthropic"
	}

	var (
		client model.Client
		err    error
	)
	switch provider {
	case "anthropic":
		client, err = anthropic.NewFromAPIKey(os.Getenv(envAnthropicKey), cfg.Name)
	case "openai":
		client, err = openai.NewFromAPIKey(os.Getenv(envOpenAIKey), cfg.Name)
	case "bedrock":
		awscfg, cfgErr := awsconfig.LoadDefaultConfig(ctx)
		if cfgErr != nil {
			return nil, fmt.Errorf("load aws config: %w", cfgErr)
		}
		client, err = bedrock.New(bedrock.Options{
			Runtime:      bedrockruntime.NewFromConfig(awscfg),
			DefaultModel: cfg.Name,
			MaxTokens:    cfg.MaxTokens,
			Temperature:  float32(cfg.Temperature),
		})
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("build %s client: %w", provider, err)
	}

	if cfg.TPM > 0 {
		budget, err := rmap.Join(ctx, "quadracode-model-budget", rdb)
		if err != nil {
			log.Errorf(ctx, err, "cannot join shared model budget, rate limiting locally")
			budget = nil
		}
		limiter := middleware.NewAdaptiveRateLimiter(ctx, budget, provider, cfg.TPM, cfg.MaxTPM)
		client = limiter.Middleware()(client)
	}
	return client, nil
}

// startHealthServer exposes the health and optional debug handlers on the
// agent host/port that the registry probes.
func startHealthServer(ctx context.Context, pingers []health.Pinger, dbg bool, errc chan error, wg *sync.WaitGroup) *http.Server {
	mux := http.NewServeMux()
	checker := health.NewChecker(pingers...)
	mux.Handle("/healthz", health.Handler(checker))
	mux.Handle("/livez", health.Handler(checker))
	if dbg {
		debug.MountPprofHandlers(mux)
		debug.MountDebugLogEnabler(mux)
	}

	var handler http.Handler = mux
	handler = log.HTTP(ctx)(handler)

	addr := net.JoinHostPort(agentHost(), strconv.Itoa(agentPort()))
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 60 * time.Second}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf(ctx, "health surface listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()
	return srv
}
