package main

import (
	"github.com/spf13/cobra"

	"github.com/23skdu/quiver/internal/bench"
	"github.com/23skdu/quiver/internal/dataset"
	"github.com/23skdu/quiver/internal/resources"
	"github.com/23skdu/quiver/internal/storage"
)

type buildFlags struct {
	config  string
	dataset string
	name    string
	maxRows int
}

func newBuildCmd(a *app) *cobra.Command {
	var f buildFlags
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build an index from a dataset and store it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runBuild(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.config, "config", "", "benchmark YAML describing the index")
	cmd.Flags().StringVar(&f.dataset, "dataset", "", "base vectors (.fbin, .arrow, .parquet)")
	cmd.Flags().StringVar(&f.name, "name", "", "snapshot name (defaults to the config name)")
	cmd.Flags().IntVar(&f.maxRows, "max-rows", 0, "read at most this many base vectors")
	_ = cmd.MarkFlagRequired("config")
	_ = cmd.MarkFlagRequired("dataset")
	return cmd
}

func (a *app) runBuild(cmd *cobra.Command, f buildFlags) error {
	cfg, err := bench.LoadConfig(f.config)
	if err != nil {
		return err
	}
	base, err := dataset.Load(f.dataset, dataset.Options{MaxRows: f.maxRows})
	if err != nil {
		return err
	}

	res := resources.New(0)
	defer res.Close()
	algo, err := bench.New(cfg, base.Vectors.Dims, res, a.logger)
	if err != nil {
		return err
	}
	defer algo.Close()

	if _, err := bench.Build(algo, base.Vectors, a.logger); err != nil {
		return err
	}
	name := snapshotName(f.name, cfg)
	if err := storage.Save(cmd.Context(), a.backend, name, algo.Save); err != nil {
		return err
	}
	a.logger.Info().Str("name", name).Int("rows", base.Vectors.Rows).Msg("index stored")
	return nil
}

func snapshotName(flag string, cfg *bench.Config) string {
	if flag != "" {
		return flag
	}
	if cfg.Name != "" {
		return cfg.Name
	}
	return cfg.Algo
}
