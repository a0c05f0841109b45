package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mianshi-ai/coachd/internal/agent"
	"github.com/mianshi-ai/coachd/internal/asr"
	"github.com/mianshi-ai/coachd/internal/coach"
	"github.com/mianshi-ai/coachd/internal/config"
	"github.com/mianshi-ai/coachd/internal/httpapi"
	"github.com/mianshi-ai/coachd/internal/llm"
	"github.com/mianshi-ai/coachd/internal/observability"
	"github.com/mianshi-ai/coachd/internal/prompt"
	"github.com/mianshi-ai/coachd/internal/session"
	"github.com/mianshi-ai/coachd/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	st, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}
	defer st.Close()
	if cfg.DatabaseURL == "" {
		log.Printf("store: in-memory (no DATABASE_URL)")
	} else {
		log.Printf("store: postgres")
	}

	adapter, err := llm.NewAdapter(llm.Config{
		Mode:         cfg.LLMAdapterMode,
		HTTPURL:      cfg.LLMHTTPURL,
		APIKey:       cfg.LLMAPIKey,
		PrimaryModel: cfg.LLMPrimaryModel,
		FastModel:    cfg.LLMFastModel,
	})
	if err != nil {
		log.Fatalf("llm adapter init failed: %v", err)
	}

	transcriber, err := asr.NewTranscriber(asr.Config{
		Mode:    cfg.ASRAdapterMode,
		HTTPURL: cfg.ASRHTTPURL,
		APIKey:  cfg.ASRAPIKey,
	})
	if err != nil {
		log.Fatalf("asr adapter init failed: %v", err)
	}

	profile, err := config.LoadProjectProfile(cfg.ProjectProfilePath)
	if err != nil {
		log.Fatalf("project profile load failed: %v", err)
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
	})

	budget := prompt.DefaultBudget()
	budget.Total = cfg.ContextTokenBudget
	budget.SummaryAfterTurns = cfg.SummaryAfterTurns
	builder := prompt.NewBuilder(budget, adapter)

	var classifier agent.Classifier = agent.NewLLMClassifier(adapter)
	if _, mock := adapter.(*llm.MockAdapter); mock {
		// The rule classifier keeps routing deterministic when no model
		// gateway is configured.
		classifier = agent.NewRuleClassifier()
		log.Printf("routing: rule classifier (mock llm adapter)")
	}

	orchestrator := coach.New(
		sessions,
		agent.NewSupervisor(classifier),
		agent.NewInterviewer(adapter, transcriber),
		agent.NewChat(adapter, builder),
		st,
		metrics,
	)

	api := httpapi.New(cfg, sessions, orchestrator, st, metrics, profile)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 5*time.Second)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
