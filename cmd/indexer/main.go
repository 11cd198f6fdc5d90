// The indexer is the operational tool around the retrieval core: it builds
// or rebuilds the vector index from JSON source documents, prints index
// statistics, runs smoke-test queries, and replays labeled datasets for
// threshold calibration.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/ehr-chatbot/backend/internal/cache/redis"
	"github.com/ehr-chatbot/backend/internal/embedding"
	"github.com/ehr-chatbot/backend/internal/evaluation"
	"github.com/ehr-chatbot/backend/internal/ingestion"
	"github.com/ehr-chatbot/backend/internal/retriever"
	"github.com/ehr-chatbot/backend/internal/router"
	"github.com/ehr-chatbot/backend/internal/vector"
	"github.com/ehr-chatbot/backend/internal/vector/memory"
	"github.com/ehr-chatbot/backend/internal/vector/milvus"
	"github.com/ehr-chatbot/backend/pkg/config"
	applogger "github.com/ehr-chatbot/backend/pkg/logger"
)

func main() {
	app := &cli.App{
		Name:  "indexer",
		Usage: "build, inspect, and exercise the Q&A vector index",
		Commands: []*cli.Command{
			{
				Name:  "build",
				Usage: "index every JSON source file into the existing (or new) collection",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "data-dir",
						Usage: "directory of JSON source files (defaults to config)",
					},
				},
				Action: runBuild,
			},
			{
				Name:  "rebuild",
				Usage: "drop the collection and index from scratch",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "data-dir",
						Usage: "directory of JSON source files (defaults to config)",
					},
					&cli.BoolFlag{
						Name:  "yes",
						Usage: "confirm deleting the existing collection",
					},
				},
				Action: runRebuild,
			},
			{
				Name:   "stats",
				Usage:  "print index statistics",
				Action: runStats,
			},
			{
				Name:  "query",
				Usage: "run one query end to end and print the routed response",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "condition",
						Usage:    "selected condition id",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "local",
						Usage: "build a throwaway in-memory index from the data dir instead of using Milvus",
					},
				},
				ArgsUsage: "<query text>",
				Action:    runQuery,
			},
			{
				Name:  "evaluate",
				Usage: "replay a labeled query dataset and report routing accuracy",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "dataset",
						Usage:    "JSON file of labeled queries",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "local",
						Usage: "build a throwaway in-memory index from the data dir instead of using Milvus",
					},
				},
				Action: runEvaluate,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setup() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if err := applogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
		return nil, err
	}

	return cfg, nil
}

func newEmbedder(cfg *config.Config) (*embedding.Client, error) {
	return embedding.NewClient(
		cfg.Embedding.APIKey,
		cfg.Embedding.Model,
		cfg.Embedding.Dimension,
		cfg.Embedding.BatchSize,
		cfg.Embedding.TimeoutSec,
		nil,
	)
}

func newMilvus(cfg *config.Config) (*milvus.Client, error) {
	return milvus.NewClient(
		cfg.Milvus.Endpoint,
		cfg.Milvus.CollectionName,
		cfg.Embedding.Dimension,
		cfg.Milvus.DistanceMetric,
	)
}

func dataDir(c *cli.Context, cfg *config.Config) string {
	if dir := c.String("data-dir"); dir != "" {
		return dir
	}
	return cfg.Ingestion.DataDir
}

func runBuild(c *cli.Context) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer applogger.Sync()

	index, err := newMilvus(cfg)
	if err != nil {
		return err
	}
	defer index.Close()

	ctx := context.Background()
	if err := index.EnsureCollection(ctx); err != nil {
		return err
	}

	return buildInto(ctx, c, cfg, index)
}

func runRebuild(c *cli.Context) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer applogger.Sync()

	if !c.Bool("yes") {
		return fmt.Errorf("rebuild deletes the existing collection; pass --yes to confirm")
	}

	index, err := newMilvus(cfg)
	if err != nil {
		return err
	}
	defer index.Close()

	ctx := context.Background()
	if err := index.RecreateCollection(ctx); err != nil {
		return err
	}

	// Cached embeddings may predate a model or dimension change.
	if cfg.Redis.Enabled {
		cache, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer cache.Close()
		if err := cache.InvalidateEmbeddings(ctx); err != nil {
			return err
		}
	}

	return buildInto(ctx, c, cfg, index)
}

func buildInto(ctx context.Context, c *cli.Context, cfg *config.Config, index vector.Index) error {
	loader, err := ingestion.NewLoader(dataDir(c, cfg))
	if err != nil {
		return err
	}

	embedder, err := newEmbedder(cfg)
	if err != nil {
		return err
	}

	builder := ingestion.NewBuilder(loader, embedder, index, cfg.Ingestion.BatchSize)

	report, err := builder.Build(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Indexed %d items (%d conditions, %d topics) in %s\n",
		report.Items, report.Conditions, report.Topics, report.Duration.Round(10*time.Millisecond))
	fmt.Printf("Items in index: %d\n", report.Indexed)

	return nil
}

func runStats(c *cli.Context) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer applogger.Sync()

	index, err := newMilvus(cfg)
	if err != nil {
		return err
	}
	defer index.Close()

	ctx := context.Background()
	if err := index.Ready(ctx); err != nil {
		return err
	}

	count, err := index.Count(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Collection:           %s\n", cfg.Milvus.CollectionName)
	fmt.Printf("Items:                %d\n", count)
	fmt.Printf("Embedding model:      %s (dim %d)\n", cfg.Embedding.Model, cfg.Embedding.Dimension)
	fmt.Printf("High threshold:       %.2f\n", cfg.Search.HighConfidenceThreshold)
	fmt.Printf("Medium threshold:     %.2f\n", cfg.Search.MediumConfidenceThreshold)
	fmt.Printf("Mismatch diff:        %.2f\n", cfg.Search.MismatchDiffThreshold)

	return nil
}

// newRouter wires the full retrieval stack, either against Milvus or against
// a throwaway in-memory index built from the source directory.
func newRouter(ctx context.Context, c *cli.Context, cfg *config.Config) (*router.Router, func(), error) {
	embedder, err := newEmbedder(cfg)
	if err != nil {
		return nil, nil, err
	}

	var index vector.Index
	cleanup := func() {}

	if c.Bool("local") {
		store := memory.NewStore()
		loader, err := ingestion.NewLoader(cfg.Ingestion.DataDir)
		if err != nil {
			return nil, nil, err
		}
		builder := ingestion.NewBuilder(loader, embedder, store, cfg.Ingestion.BatchSize)
		if _, err := builder.Build(ctx); err != nil {
			return nil, nil, err
		}
		index = store
	} else {
		milvusClient, err := newMilvus(cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := milvusClient.Ready(ctx); err != nil {
			milvusClient.Close()
			return nil, nil, err
		}
		index = milvusClient
		cleanup = func() { milvusClient.Close() }
	}

	engine, err := retriever.New(embedder, index, cfg.Search)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	return router.New(engine, cfg.Search), cleanup, nil
}

func runQuery(c *cli.Context) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer applogger.Sync()

	queryText := c.Args().First()
	if queryText == "" {
		return fmt.Errorf("usage: indexer query --condition <id> <query text>")
	}

	ctx := context.Background()
	responseRouter, cleanup, err := newRouter(ctx, c, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	response := responseRouter.Route(ctx, queryText, c.String("condition"))

	out, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	return nil
}

func runEvaluate(c *cli.Context) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer applogger.Sync()

	items, err := evaluation.LoadDataset(c.String("dataset"))
	if err != nil {
		return err
	}

	ctx := context.Background()
	responseRouter, cleanup, err := newRouter(ctx, c, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	evaluator := evaluation.NewEvaluator(responseRouter)

	report, err := evaluator.Evaluate(ctx, items)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	applogger.Info("Evaluation finished",
		zap.Float64("accuracy", report.Accuracy),
	)

	return nil
}
