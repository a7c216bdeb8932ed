package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"planwise/internal/api"
	"planwise/internal/config"
	"planwise/internal/db"
	"planwise/internal/embedding"
	"planwise/internal/engine"
	"planwise/internal/gap"
	"planwise/internal/llm"
	"planwise/internal/logging"
	"planwise/internal/manualtask"
	"planwise/internal/outcome"
	"planwise/internal/progress"
	redisdb "planwise/internal/redis"
	"planwise/internal/reflection"
	"planwise/internal/secrets"
	"planwise/internal/scoring"
	"planwise/internal/session"
	"planwise/internal/task"
)

// vectorSearch pairs the embedder with the vector store for consumers that
// need both ends of a semantic query.
type vectorSearch struct {
	*embedding.Embedder
	*embedding.Store
}

func main() {
	cfg, err := config.LoadConfig("config.json")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	if err := db.Init(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "DB init error: %v\n", err)
		os.Exit(1)
	}
	rdb := redisdb.NewClient(cfg)

	store, err := embedding.NewStore(cfg.Engine.Qdrant.URL, cfg.Engine.Qdrant.Collection, cfg.Engine.Qdrant.APIKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Qdrant init error: %v\n", err)
		os.Exit(1)
	}
	embedder := embedding.NewEmbedder(cfg.Engine.EmbeddingModel.URL, cfg.Engine.EmbeddingModel.Name)
	search := vectorSearch{Embedder: embedder, Store: store}

	apiKey := os.Getenv("LLM_API_KEY")
	generatorChat := llm.NewClient(cfg.Engine.GeneratorModel, apiKey, 60*time.Second)
	evaluatorChat := llm.NewClient(cfg.Engine.EvaluatorModel, apiKey, 60*time.Second)
	interpreterChat := llm.NewClient(cfg.Engine.InterpreterModel, apiKey, 30*time.Second)

	plog := logging.NewProcessingLogger(db.DB)

	// Core services
	outcomes := outcome.NewService(db.DB)
	var integrations *outcome.Integrations
	if key := cfg.EncryptionKeyBytes(); key != nil {
		box, err := secrets.NewBox(key)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Encryption key error: %v\n", err)
			os.Exit(1)
		}
		integrations = outcome.NewIntegrations(db.DB, box)
	}
	tasks := task.NewService(db.DB, embedder, store)
	extractor := task.NewExtractor(tasks, interpreterChat)
	quality := task.NewQualityEvaluator(interpreterChat)

	controller := session.NewController(db.DB, outcomes, nil)

	// Strategic scoring
	queue := scoring.NewRetryQueue(plog, cfg.TestMode)
	estimator := scoring.NewEstimator(evaluatorChat)
	scores := scoring.NewService(controller, tasks, outcomes, estimator, queue)

	// Reflections and context adjustment
	interpreter := reflection.NewInterpreter(interpreterChat)
	reflections := reflection.NewService(db.DB, interpreter, controller, tasks)

	// Prioritization pipeline
	loop := engine.NewLoop(engine.NewGenerator(generatorChat), engine.NewEvaluator(evaluatorChat))
	orchestrator := engine.NewOrchestrator(controller, outcomes, tasks, reflections, loop, scores)
	controller.SetRunner(orchestrator)

	// Debounced re-adjustment on reflection toggles
	debouncer := reflection.NewDebouncer(func(ctx context.Context, userID string) error {
		active, err := outcomes.GetActive(ctx, userID)
		if err != nil {
			return err
		}
		sess, err := controller.GetLatestCompleted(ctx, userID, active.ID)
		if err != nil {
			return err
		}
		_, err = reflections.AdjustPriorities(ctx, sess.ID, nil)
		return err
	}, rdb)
	reflections.SetRecomputer(debouncer)

	// Gap analysis
	detector := gap.NewDetector(store)
	bridger := gap.NewBridger(generatorChat, search)
	gaps := gap.NewService(detector, bridger, controller, outcomes, store)
	acceptor := gap.NewAcceptor(db.DB, tasks, controller, gaps)
	coverage := gap.NewCoveragePipeline(evaluatorChat, cfg.Engine.CoverageThreshold, cfg.Engine.CoverageFallbackThreshold)

	// Manual task placement
	manualTasks := manualtask.NewService(db.DB, tasks, outcomes, controller, generatorChat)
	outcomes.SetInvalidator(manualTasks)

	streamer := progress.NewStreamer(controller, scores)

	r := api.SetupRouter(cfg, api.Deps{
		Outcomes:    outcomes,
		Sessions:    controller,
		Scores:      scores,
		Gaps:        gaps,
		Acceptor:    acceptor,
		Coverage:    coverage,
		Reflections: reflections,
		ManualTasks: manualTasks,
		Tasks:       tasks,
		Extractor:   extractor,
		Quality:     quality,
		Streamer:    streamer,
		PLog:        plog,

		Integrations: integrations,
	})
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("Starting server on %s%s\n", addr, cfg.Server.Subpath)
	if err := r.Run(addr); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}
