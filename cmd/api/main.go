package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/mkalas/ragline/internal/agent"
	"github.com/mkalas/ragline/internal/ai"
	"github.com/mkalas/ragline/internal/chat"
	"github.com/mkalas/ragline/internal/config"
	"github.com/mkalas/ragline/internal/db"
	"github.com/mkalas/ragline/internal/httpapi"
	"github.com/mkalas/ragline/internal/httpapi/handlers"
	applog "github.com/mkalas/ragline/internal/log"
	"github.com/mkalas/ragline/internal/ratelimit"
	"github.com/mkalas/ragline/internal/retrieval"
	"github.com/mkalas/ragline/internal/store/rabbitmq"
	"github.com/mkalas/ragline/internal/store/redisstore"
	"github.com/mkalas/ragline/internal/tools"
)

func main() {
	cfg := config.Load()
	var level slog.Level
	if os.Getenv("LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := applog.New(applog.Config{Level: level, JSON: true})

	gdb := db.Connect(cfg.DBDSN)
	if err := db.AutoMigrate(gdb); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	repo := chat.NewRepo(gdb)

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()

	ctx := context.Background()

	pgStore, err := retrieval.NewPGStore(ctx, cfg.VectorDSN)
	if err != nil {
		log.Fatalf("vector store: %v", err)
	}
	defer pgStore.Close()

	// Ollama serves embeddings in both provider modes; OpenRouter has no
	// embeddings endpoint.
	ollama := ai.NewOllamaProvider(cfg.OllamaBaseURL, cfg.OllamaModel)
	ollama.EmbedModel = cfg.OllamaEmbedModel

	reg := ai.NewRegistry()
	reg.Register("ollama", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		if model == "" {
			model = cfg.OllamaModel
		}
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, model), nil
	})
	reg.Register("openrouter", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		if model == "" {
			model = cfg.OpenRouterModel
		}
		return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, model,
			cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})

	provider, err := reg.Get(ctx, cfg.AIProvider, "")
	if err != nil {
		log.Fatalf("unsupported AI_PROVIDER=%q: %v", cfg.AIProvider, err)
	}

	assembler := retrieval.NewAssembler(pgStore, ollama, rds,
		retrieval.NewExpander(nil), logger)

	toolReg := tools.NewRegistry()
	toolReg.Register(tools.NewWebSearchTool(cfg.SearchBaseURL, cfg.SearchAPIKey, rds, 0))
	toolReg.Register(tools.NewChartTool())

	orch := agent.NewOrchestrator(ai.ToolCapable(provider), toolReg, logger)

	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatalf("rabbit: %v", err)
	}
	defer pub.Close()

	history := chat.NewHistoryResolver(repo, cfg.History, pub, logger)

	svc := chat.NewService(repo, assembler, orch, history, provider, cfg, logger)

	limiter := ratelimit.New(ratelimit.NewRedisCounterStore(rds.Client()))

	h := handlers.NewHandler(svc, repo, limiter, cfg, logger)
	r := httpapi.NewRouter(h, cfg)

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	logger.Info("api listening", "addr", addr)
	if err := r.Run(addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
