package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hubenschmidt/go-fusion/core"
	"github.com/hubenschmidt/go-fusion/vector"
)

var (
	storeDSN   string
	dimension  int
	metricName string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "fusion",
	Short: "CLI for the fusion vector store",
	Long:  `Inspect and manage a fusion vector store: add embeddings, run similarity searches, and dump statistics.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			log.SetLevel(log.DebugLevel)
		}
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a vector store",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		log.Info("vector store initialized", "store", storeDSN, "dimension", dimension, "metric", metricName)
		return nil
	},
}

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an embedding",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		vectorStr, _ := cmd.Flags().GetString("vector")
		metadataStr, _ := cmd.Flags().GetString("metadata")

		if id == "" {
			id = uuid.New().String()
		}

		embedding, err := parseVector(vectorStr)
		if err != nil {
			return err
		}

		var metadata map[string]any
		if metadataStr != "" {
			if err := json.Unmarshal([]byte(metadataStr), &metadata); err != nil {
				return fmt.Errorf("parse metadata: %w", err)
			}
		}

		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		err = store.AddVectors(cmd.Context(), []vector.VectorRecord{
			{ID: id, Embedding: embedding, Metadata: metadata},
		})
		if err != nil {
			return fmt.Errorf("add vector: %w", err)
		}

		log.Info("vector added", "id", id)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Fetch an embedding by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		rec, ok, err := store.GetVector(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("get vector: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", core.ErrNotFound, args[0])
		}

		return printJSON(rec)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Run a similarity search",
	RunE: func(cmd *cobra.Command, args []string) error {
		vectorStr, _ := cmd.Flags().GetString("vector")
		k, _ := cmd.Flags().GetInt("k")
		minScore, _ := cmd.Flags().GetFloat64("min-score")

		query, err := parseVector(vectorStr)
		if err != nil {
			return err
		}

		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		results, err := store.SearchVectors(cmd.Context(), query, k, minScore, nil)
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}

		if len(results) == 0 {
			log.Info("no matches")
			return nil
		}
		return printJSON(results)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Dump store statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		// Warm the counters with the id listing so totals are fresh.
		ids, err := store.GetAllIDs(cmd.Context())
		if err != nil {
			return fmt.Errorf("list ids: %w", err)
		}
		log.Debug("listed ids", "count", len(ids))

		return printJSON(store.Stats())
	},
}

func openStore(ctx context.Context) (vector.Store, error) {
	metric, ok := vector.ParseMetric(metricName)
	if !ok {
		return nil, fmt.Errorf("unknown metric %q", metricName)
	}

	cfg := vector.DefaultConfig(dimension).WithMetric(metric)
	store, err := vector.NewStore(storeDSN, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize store: %w", err)
	}
	return store, nil
}

func parseVector(s string) ([]float64, error) {
	if s == "" {
		return nil, fmt.Errorf("missing --vector")
	}

	parts := strings.Split(s, ",")
	embedding := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("parse vector component %d: %w", i, err)
		}
		embedding[i] = v
	}
	return embedding, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func main() {
	rootCmd.PersistentFlags().StringVar(&storeDSN, "store", "data/vectors", "store DSN: directory path, :memory:, or postgres:// URL")
	rootCmd.PersistentFlags().IntVar(&dimension, "dimension", 1536, "embedding dimension")
	rootCmd.PersistentFlags().StringVar(&metricName, "metric", "cosine", "similarity metric: cosine, euclidean, or dot")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug output")

	addCmd.Flags().String("id", "", "record id (generated when empty)")
	addCmd.Flags().String("vector", "", "comma-separated embedding components")
	addCmd.Flags().String("metadata", "", "JSON metadata object")

	searchCmd.Flags().String("vector", "", "comma-separated query components")
	searchCmd.Flags().Int("k", 10, "number of results")
	searchCmd.Flags().Float64("min-score", 0, "minimum similarity score")

	rootCmd.AddCommand(initCmd, addCmd, getCmd, searchCmd, statsCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error("command failed", "error", err)
		os.Exit(1)
	}
}
