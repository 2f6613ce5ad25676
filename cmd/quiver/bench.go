package main

import (
	"github.com/spf13/cobra"

	"github.com/23skdu/quiver/internal/bench"
	"github.com/23skdu/quiver/internal/dataset"
	"github.com/23skdu/quiver/internal/resources"
	"github.com/23skdu/quiver/internal/storage"
)

type benchFlags struct {
	config      string
	dataset     string
	queries     string
	groundTruth string
	save        string
	k           int
	maxRows     int
	maxQueries  int
}

func newBenchCmd(a *app) *cobra.Command {
	var f benchFlags
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Build an index, run every configured search and report recall and QPS",
		Long: `bench builds the configured index from --dataset, then runs each search_params
entry over --queries. Recall is measured against --groundtruth when given, otherwise
against an exact brute-force search.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runBench(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.config, "config", "", "benchmark YAML describing the index")
	cmd.Flags().StringVar(&f.dataset, "dataset", "", "base vectors (.fbin, .arrow, .parquet)")
	cmd.Flags().StringVar(&f.queries, "queries", "", "query vectors (.fbin, .arrow, .parquet)")
	cmd.Flags().StringVar(&f.groundTruth, "groundtruth", "", "optional ibin neighbor file")
	cmd.Flags().StringVar(&f.save, "save", "", "also store the built index under this name")
	cmd.Flags().IntVar(&f.k, "k", 10, "neighbors per query")
	cmd.Flags().IntVar(&f.maxRows, "max-rows", 0, "read at most this many base vectors")
	cmd.Flags().IntVar(&f.maxQueries, "max-queries", 0, "read at most this many queries")
	_ = cmd.MarkFlagRequired("config")
	_ = cmd.MarkFlagRequired("dataset")
	_ = cmd.MarkFlagRequired("queries")
	return cmd
}

func (a *app) runBench(cmd *cobra.Command, f benchFlags) error {
	cfg, err := bench.LoadConfig(f.config)
	if err != nil {
		return err
	}
	sets, err := cfg.SearchParamSets()
	if err != nil {
		return err
	}
	base, err := dataset.Load(f.dataset, dataset.Options{MaxRows: f.maxRows})
	if err != nil {
		return err
	}
	queries, err := dataset.Load(f.queries, dataset.Options{MaxRows: f.maxQueries})
	if err != nil {
		return err
	}

	res := resources.New(0)
	defer res.Close()

	truth, err := loadGroundTruth(f.groundTruth, queries.Vectors.Rows)
	if err != nil {
		return err
	}
	if truth == nil {
		metric, err := cfg.DistanceMetric()
		if err != nil {
			return err
		}
		if truth, err = bench.GroundTruth(res, base.Vectors, queries.Vectors, f.k, metric); err != nil {
			return err
		}
	}

	algo, err := bench.New(cfg, base.Vectors.Dims, res, a.logger)
	if err != nil {
		return err
	}
	defer algo.Close()

	buildTime, err := bench.Build(algo, base.Vectors, a.logger)
	if err != nil {
		return err
	}
	if f.save != "" {
		if err := storage.Save(cmd.Context(), a.backend, f.save, algo.Save); err != nil {
			return err
		}
	}
	results, err := bench.Run(algo, queries.Vectors, f.k, sets, truth, a.logger)
	if err != nil {
		return err
	}
	a.logger.Info().Dur("build", buildTime).Int("configurations", len(results)).Msg("benchmark finished")
	return printResults(cmd.OutOrStdout(), results)
}
