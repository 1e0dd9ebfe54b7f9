// Copyright 2025 The Grimoire Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	grimoire "github.com/grimoiredb/grimoire"
	"github.com/grimoiredb/grimoire/ai"
	"github.com/grimoiredb/grimoire/core"
	"github.com/grimoiredb/grimoire/ingest"
	"github.com/grimoiredb/grimoire/search"
	"github.com/grimoiredb/grimoire/storage"
)

func main() {
	app := &cli.App{
		Name:  "grimoire",
		Usage: "Intelligent storage placement and hybrid retrieval engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "data",
				Aliases: []string{"d"},
				Usage:   "Data directory holding both stores",
			},
			&cli.StringFlag{
				Name:  "embedding-host",
				Usage: "Embedding service host URL",
				Value: "http://localhost:11434/v1",
			},
			&cli.StringFlag{
				Name:  "embedding-model",
				Usage: "Embedding model name",
				Value: "embeddinggemma",
			},
			&cli.IntFlag{
				Name:  "embedding-dim",
				Usage: "Embedding vector dimensionality",
				Value: 768,
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "ingest",
				Usage:  "Classify and place one document",
				Action: ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "locator",
						Usage:    "Source locator identifying the document",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "file",
						Usage: "Content file path, or - for stdin",
						Value: "-",
					},
					&cli.StringFlag{
						Name:     "domain",
						Usage:    "Declared content domain",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "title",
						Usage: "Document title",
					},
					&cli.StringFlag{
						Name:  "author",
						Usage: "Document author",
					},
					&cli.StringFlag{
						Name:  "content-type",
						Usage: "Declared content type",
					},
					&cli.StringSliceFlag{
						Name:  "keyword",
						Usage: "Keyword to attach (repeatable)",
					},
				},
			},
			{
				Name:      "query",
				Usage:     "Run a hybrid retrieval query",
				ArgsUsage: "<query text>",
				Action:    queryCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "semantic",
						Usage: "Also run the vector leg",
					},
					&cli.Float64Flag{
						Name:  "alpha",
						Usage: "Text weight in the hybrid merge",
						Value: search.DefaultAlpha,
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum results",
						Value: search.DefaultLimit,
					},
					&cli.StringFlag{
						Name:  "domain",
						Usage: "Restrict to one domain",
					},
					&cli.StringFlag{
						Name:  "content-type",
						Usage: "Restrict to one content type",
					},
					&cli.TimestampFlag{
						Name:   "since",
						Usage:  "Only records created at or after this time",
						Layout: time.RFC3339,
					},
					&cli.TimestampFlag{
						Name:   "until",
						Usage:  "Only records created at or before this time",
						Layout: time.RFC3339,
					},
				},
			},
			{
				Name:   "recommendations",
				Usage:  "List optimizer recommendations",
				Action: recommendationsCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "status",
						Usage: "Filter by status (pending, applied, rejected, failed, expired); empty lists all",
						Value: string(core.RecommendationPending),
					},
				},
			},
			{
				Name:      "apply",
				Usage:     "Apply a pending recommendation",
				ArgsUsage: "<recommendation id>",
				Action:    applyCommand,
			},
			{
				Name:   "analyze",
				Usage:  "Run one optimizer pass over the sample window",
				Action: analyzeCommand,
			},
			{
				Name:   "migrate",
				Usage:  "Re-place records left stale by a policy change",
				Action: migrateCommand,
			},
			{
				Name:   "sweep",
				Usage:  "Repair degraded records and collect vector garbage",
				Action: sweepCommand,
			},
			{
				Name:   "status",
				Usage:  "Show engine health",
				Action: statusCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// openDatabase wires the engine from the global flags.
func openDatabase(c *cli.Context) (*grimoire.Database, error) {
	aiConfig := ai.NewConfig(
		ai.WithHost(c.String("embedding-host")),
		ai.WithEmbeddingModel(c.String("embedding-model")),
		ai.WithEmbeddingDim(c.Int("embedding-dim")),
	)
	if err := aiConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid embedding configuration: %w", err)
	}
	return grimoire.NewDatabase(c.String("data"), grimoire.WithAIConfig(aiConfig))
}

func ingestCommand(c *cli.Context) error {
	content, err := readContent(c.String("file"))
	if err != nil {
		return err
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	record, err := db.Ingest(context.Background(), ingest.Submission{
		SourceLocator: c.String("locator"),
		Title:         c.String("title"),
		Author:        c.String("author"),
		Domain:        c.String("domain"),
		ContentType:   c.String("content-type"),
		Content:       content,
		Keywords:      c.StringSlice("keyword"),
	})
	if err != nil {
		if record != nil && record.Status == core.StatusDegraded {
			fmt.Printf("record %s placed degraded (%s); run sweep to repair\n", record.Id, record.Strategy)
		}
		return err
	}

	fmt.Printf("record %s placed as %s (confidence %.2f, policy %s)\n",
		record.Id, record.Strategy, record.Confidence, record.PolicyVersion)
	return nil
}

func queryCommand(c *cli.Context) error {
	text := strings.Join(c.Args().Slice(), " ")
	if text == "" {
		return fmt.Errorf("query text is required")
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	filter := storage.QueryFilter{
		Domain:      c.String("domain"),
		ContentType: c.String("content-type"),
	}
	if ts := c.Timestamp("since"); ts != nil {
		filter.Since = *ts
	}
	if ts := c.Timestamp("until"); ts != nil {
		filter.Until = *ts
	}

	alpha := c.Float64("alpha")
	resp, err := db.Query(context.Background(), search.Request{
		Text:     text,
		Filters:  filter,
		Semantic: c.Bool("semantic"),
		Alpha:    &alpha,
		Limit:    c.Int("limit"),
	})
	if err != nil {
		return err
	}

	if resp.Partial {
		fmt.Println("warning: one query leg degraded, results are partial")
	}
	if len(resp.Results) == 0 {
		fmt.Println("no results")
		return nil
	}
	for i, result := range resp.Results {
		record := result.Record
		fmt.Printf("%2d. [%.3f] %s — %s (%s, %s)\n",
			i+1, result.Score, record.Title, record.Author, record.Domain, record.Id)
	}
	return nil
}

func recommendationsCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	recs, err := db.Recommendations(context.Background(), core.RecommendationStatus(c.String("status")))
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("no recommendations")
		return nil
	}
	for _, rec := range recs {
		fmt.Printf("%s  %-16s %-24s improvement %.0f%%  confidence %.2f  [%s]\n",
			rec.Id, rec.Type, rec.Target, rec.EstimatedImprovement*100, rec.Confidence, rec.Status)
		fmt.Printf("    %s\n", rec.Description)
	}
	return nil
}

func applyCommand(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("recommendation id is required")
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Apply(context.Background(), id); err != nil {
		return err
	}
	fmt.Printf("recommendation %s applied\n", id)
	return nil
}

func analyzeCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	report, err := db.Analyze(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("created %d, deduped %d, expired %d, pruned %d samples\n",
		len(report.Created), report.Deduped, report.Expired, report.Pruned)
	return nil
}

func migrateCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	summary, err := db.Migrate(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("migrated %d, republished %d, skipped %d, failed %d\n",
		summary.Migrated, summary.Republished, summary.Skipped, summary.Failed)
	return nil
}

func sweepCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	report, err := db.Sweep(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("repaired %d, flagged %d for review, removed %d orphans, swept %d records, %d blobs\n",
		report.Repaired, report.FlaggedReview, report.OrphansRemoved, report.RecordsSwept, report.BlobsSwept)
	return nil
}

func statusCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	status, err := db.Status(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("data dir:       %s\n", status.DataDir)
	fmt.Printf("policy version: %s\n", status.PolicyVersion)
	fmt.Printf("collections:    %s\n", strings.Join(status.Collections, ", "))
	fmt.Printf("pending recommendations: %d\n", status.Pending)

	if len(status.Degraded) == 0 && len(status.NeedsReview) == 0 {
		fmt.Println("all records healthy")
		return nil
	}
	for _, record := range status.Degraded {
		fmt.Printf("degraded: %s (%s, %s)\n", record.Id, record.SourceLocator, record.Strategy)
	}
	for _, record := range status.NeedsReview {
		fmt.Printf("NEEDS REVIEW: %s (%s, %s)\n", record.Id, record.SourceLocator, record.Strategy)
	}
	return nil
}

// readContent loads document content from a file or stdin.
func readContent(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
