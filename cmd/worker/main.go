// Worker is the legislator website's backend.
//
// It serves the homepage cards and the legislator activity listing, aggregated from the
// news, RSS and legislative APIs, and runs the site's chat assistant.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sethvargo/go-envconfig"
	"github.com/sethvargo/go-retry"
	_ "golang.org/x/crypto/x509roots/fallback"

	"github.com/juchunko/site-worker/internal/agg"
	"github.com/juchunko/site-worker/internal/api"
	"github.com/juchunko/site-worker/internal/chat"
	"github.com/juchunko/site-worker/internal/chat/claude"
	"github.com/juchunko/site-worker/internal/edgecache"
	"github.com/juchunko/site-worker/internal/fetch"
	"github.com/juchunko/site-worker/internal/legislative"
	"github.com/juchunko/site-worker/internal/logger"
	"github.com/juchunko/site-worker/internal/metrics"
	"github.com/juchunko/site-worker/internal/news"
	"github.com/juchunko/site-worker/internal/rss"
	"github.com/juchunko/site-worker/internal/vector"
)

type config struct {
	Port int `env:"PORT, default=8787"`

	// Only set behind a proxy that overwrites X-Forwarded-For, the chat rate limit keys on it
	TrustProxy bool `env:"TRUST_PROXY, default=false"`

	// Which format to use for logging: either text or json
	LoggerFormat string `env:"LOGGER_FORMAT, default=text"`

	AnthropicAPIKey   string `env:"ANTHROPIC_API_KEY, required"`
	AnthropicBaseURL  string `env:"ANTHROPIC_BASE_URL"`
	ChatModel         string `env:"CHAT_MODEL"`
	ChatMaxSteps      int    `env:"CHAT_MAX_STEPS, default=5"`
	ChatMaxTokens     int64  `env:"CHAT_MAX_TOKENS, default=2048"`
	ChatRatePerMinute int    `env:"CHAT_RATE_PER_MINUTE, default=10"`

	NewsAPIURL        string `env:"NEWS_API_URL, default=https://aifferent.juchunko.com/api/news"`
	BlogRSSURL        string `env:"BLOG_RSS_URL, default=https://blog.juchunko.com/rss.xml"`
	TranspalRSSURL    string `env:"TRANSPAL_RSS_URL, default=https://transpal.juchunko.com/rss.xml"`
	LegislativeAPIURL string `env:"LEGISLATIVE_API_URL, default=https://ly.govapi.tw/v2"`
	LegislatorTerm    int    `env:"LEGISLATOR_TERM, default=11"`
	LegislatorName    string `env:"LEGISLATOR_NAME, default=葛如鈞"`
	ContentBaseURL    string `env:"CONTENT_BASE_URL, default=https://github.com/DrJuChunKoO/juchunko.com/raw/refs/heads/astro/"`
	SiteBaseURL       string `env:"SITE_BASE_URL, default=https://juchunko.com"`

	// The semantic chat tools are only offered when this is set
	VectorDatabaseURL string `env:"VECTOR_DATABASE_URL"`
	EmbeddingAPIURL   string `env:"EMBEDDING_API_URL, default=https://api.openai.com/v1/embeddings"`
	EmbeddingAPIKey   string `env:"EMBEDDING_API_KEY"`
	EmbeddingModel    string `env:"EMBEDDING_MODEL, default=text-embedding-3-small"`

	CacheSize    int           `env:"CACHE_SIZE, default=512"`
	MaxPrefetch  int           `env:"MAX_PREFETCH, default=1000"`
	FetchTimeout time.Duration `env:"FETCH_TIMEOUT, default=10s"`
}

func main() {
	ctx := context.Background()

	// Parse the config
	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	slog.SetDefault(logger.New(os.Stderr, cfg.LoggerFormat))

	// Start the application
	if err := runWorker(ctx, cfg); err != nil {
		slog.Error("error running", "error", err)
		os.Exit(1)
	}
}

func runWorker(ctx context.Context, cfg config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	var (
		f          = fetch.New(cfg.FetchTimeout, collector)
		newsClient = news.NewClient(f, cfg.NewsAPIURL)
		aggregator = agg.New(agg.Config{
			BlogRSSURL:     cfg.BlogRSSURL,
			TranspalRSSURL: cfg.TranspalRSSURL,
			MaxPrefetch:    cfg.MaxPrefetch,
		},
			newsClient,
			rss.NewClient(f),
			legislative.NewClient(f, cfg.LegislativeAPIURL, cfg.LegislatorTerm, cfg.LegislatorName),
		)
	)

	// Left as a nil interface when there's no vector database
	var index chat.SiteIndex
	if cfg.VectorDatabaseURL != "" {
		pool, err := dialVectorDB(ctx, cfg.VectorDatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		// Article urls come from the model, so they get the guarded client
		reader, err := vector.NewReader(fetch.NewSafe(cfg.FetchTimeout, collector), cfg.CacheSize)
		if err != nil {
			return fmt.Errorf("error creating article reader: %w", err)
		}
		index = vector.NewService(
			vector.NewStore(pool),
			vector.NewEmbedder(f, cfg.EmbeddingAPIURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel),
			reader,
		)
	} else {
		slog.Info("no vector database configured, semantic tools disabled")
	}

	tools := chat.NewRegistry(chat.ToolsConfig{
		News:        newsClient,
		Content:     f,
		ContentBase: cfg.ContentBaseURL,
		SiteBase:    cfg.SiteBaseURL,
		Index:       index,
		Observer:    collector,
	})
	model := claude.New(claude.Config{
		APIKey:    cfg.AnthropicAPIKey,
		BaseURL:   cfg.AnthropicBaseURL,
		Model:     cfg.ChatModel,
		MaxTokens: cfg.ChatMaxTokens,
	})
	gateway := chat.NewGateway(chat.GatewayConfig{
		SiteBase: cfg.SiteBaseURL,
		MaxSteps: cfg.ChatMaxSteps,
	}, model, tools, collector)

	cache, err := edgecache.New(cfg.CacheSize, collector)
	if err != nil {
		return fmt.Errorf("error creating edge cache: %w", err)
	}
	limiter := api.NewLimiter(cfg.ChatRatePerMinute)

	srvr := api.NewServer(api.ServerConfig{Port: cfg.Port, TrustProxy: cfg.TrustProxy}, api.Params{
		Aggregator: aggregator,
		Chat:       gateway,
		Cache:      cache.Middleware,
		Limiter:    limiter,
		Metrics:    metrics.Handler(reg),
	})

	var g run.Group
	g.Add(func() error {
		slog.Info("serving", "port", cfg.Port)
		if err := srvr.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("error serving: %w", err)
		}
		return nil
	}, func(error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srvr.Shutdown(ctx); err != nil {
			slog.Error("error shutting down server", "error", err)
		}
	})

	sweepCtx, stopSweep := context.WithCancel(ctx)
	g.Add(func() error {
		return limiter.Run(sweepCtx)
	}, func(error) {
		stopSweep()
	})

	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	err = g.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		slog.Info("shut down", "signal", sig.Signal)
		return nil
	}
	return err
}

// Retry until the database is ready, but not forever.
func dialVectorDB(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	var pool *pgxpool.Pool
	backoff := retry.WithMaxRetries(6, retry.NewFibonacci(time.Second))
	if err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		p, err := vector.Connect(ctx, dsn)
		if err != nil {
			slog.Warn("vector database not ready", "error", err)
			return retry.RetryableError(err)
		}
		pool = p

		return nil
	}); err != nil {
		return nil, fmt.Errorf("error connecting to vector database: %w", err)
	}

	return pool, nil
}
