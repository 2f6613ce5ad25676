package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/23skdu/quiver/internal/bench"
	"github.com/23skdu/quiver/internal/dataset"
	qerrors "github.com/23skdu/quiver/internal/errors"
	"github.com/23skdu/quiver/internal/resources"
	"github.com/23skdu/quiver/internal/storage"
)

type searchFlags struct {
	config      string
	name        string
	queries     string
	groundTruth string
	k           int
	maxQueries  int
}

func newSearchCmd(a *app) *cobra.Command {
	var f searchFlags
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Load a stored index and run every configured search",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runSearch(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.config, "config", "", "benchmark YAML describing the index")
	cmd.Flags().StringVar(&f.name, "name", "", "snapshot name (defaults to the config name)")
	cmd.Flags().StringVar(&f.queries, "queries", "", "query vectors (.fbin, .arrow, .parquet)")
	cmd.Flags().StringVar(&f.groundTruth, "groundtruth", "", "optional ibin neighbor file for recall")
	cmd.Flags().IntVar(&f.k, "k", 10, "neighbors per query")
	cmd.Flags().IntVar(&f.maxQueries, "max-queries", 0, "read at most this many queries")
	_ = cmd.MarkFlagRequired("config")
	_ = cmd.MarkFlagRequired("queries")
	return cmd
}

func (a *app) runSearch(cmd *cobra.Command, f searchFlags) error {
	cfg, err := bench.LoadConfig(f.config)
	if err != nil {
		return err
	}
	sets, err := cfg.SearchParamSets()
	if err != nil {
		return err
	}
	queries, err := dataset.Load(f.queries, dataset.Options{MaxRows: f.maxQueries})
	if err != nil {
		return err
	}
	truth, err := loadGroundTruth(f.groundTruth, queries.Vectors.Rows)
	if err != nil {
		return err
	}

	res := resources.New(0)
	defer res.Close()
	algo, err := bench.New(cfg, queries.Vectors.Dims, res, a.logger)
	if err != nil {
		return err
	}
	defer algo.Close()

	if err := storage.Load(cmd.Context(), a.backend, snapshotName(f.name, cfg), algo.Load); err != nil {
		return err
	}
	results, err := bench.Run(algo, queries.Vectors, f.k, sets, truth, a.logger)
	if err != nil {
		return err
	}
	return printResults(cmd.OutOrStdout(), results)
}

func loadGroundTruth(path string, rows int) ([][]int64, error) {
	if path == "" {
		return nil, nil
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, qerrors.WrapIOFailure(err, "quiver.loadGroundTruth", "open ground truth").WithContext("path", path)
	}
	defer fh.Close()
	return dataset.ReadGroundTruth(fh, rows)
}
