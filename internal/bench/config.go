package bench

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/23skdu/quiver/internal/ann"
	"github.com/23skdu/quiver/internal/clique"
	"github.com/23skdu/quiver/internal/codec"
	"github.com/23skdu/quiver/internal/core"
	qerrors "github.com/23skdu/quiver/internal/errors"
	"github.com/23skdu/quiver/internal/graph"
	"github.com/23skdu/quiver/internal/ivfflat"
	"github.com/23skdu/quiver/internal/ivfpq"
	"github.com/23skdu/quiver/internal/logging"
	"github.com/23skdu/quiver/internal/mg"
	"github.com/23skdu/quiver/internal/resources"
)

// Config describes one benchmarked index, typically read from a YAML file:
//
//	name: sift-ivf-flat-mg
//	algo: ivf_flat
//	multi_device: true
//	devices: [0, 1, 2, 3]
//	distribution: sharded
//	build_param: {nlist: 1024, niter: 20, ratio: 0.5}
//	search_params:
//	  - {nprobe: 20, merge_mode: global_distance}
type Config struct {
	Name         string      `yaml:"name"`
	Algo         string      `yaml:"algo"`
	Metric       string      `yaml:"metric"`
	MultiDevice  bool        `yaml:"multi_device"`
	Devices      []int       `yaml:"devices"`
	RootRank     int         `yaml:"root_rank"`
	Distribution string      `yaml:"distribution"`
	Compression  string      `yaml:"compression"`
	BuildParam   yaml.Node   `yaml:"build_param"`
	SearchParams []yaml.Node `yaml:"search_params"`
}

type mergeField struct {
	MergeMode string `yaml:"merge_mode"`
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, qerrors.WrapIOFailure(err, "bench.LoadConfig", "read config").WithContext("path", path)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML config bytes.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, qerrors.WrapConfigurationError(err, "bench.ParseConfig", "decode yaml")
	}
	if _, err := cfg.Kind(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Kind resolves the algo name.
func (c *Config) Kind() (core.Kind, error) {
	k, err := core.ParseKind(c.Algo)
	if err != nil {
		return core.KindUnknown, qerrors.WrapConfigurationError(err, "bench.Config", "unknown algo")
	}
	return k, nil
}

// IndexParams decodes build_param over the backend defaults.
func (c *Config) IndexParams() (ann.IndexParams, error) {
	kind, err := c.Kind()
	if err != nil {
		return nil, err
	}
	var params ann.IndexParams
	switch kind {
	case core.KindIVFFlat:
		p := ivfflat.DefaultIndexParams()
		err = decodeNode(&c.BuildParam, &p)
		p.Metric = c.metricOr(p.Metric)
		params = p
	case core.KindIVFPQ:
		p := ivfpq.DefaultIndexParams()
		err = decodeNode(&c.BuildParam, &p)
		p.Metric = c.metricOr(p.Metric)
		params = p
	case core.KindGraph:
		p := graph.DefaultIndexParams()
		err = decodeNode(&c.BuildParam, &p)
		p.Metric = c.metricOr(p.Metric)
		params = p
	}
	if err != nil {
		return nil, qerrors.WrapConfigurationError(err, "bench.Config", "decode build_param")
	}
	return params, nil
}

// DistanceMetric returns the metric the built index will use.
func (c *Config) DistanceMetric() (core.DistanceMetric, error) {
	params, err := c.IndexParams()
	if err != nil {
		return "", err
	}
	var m core.DistanceMetric
	switch p := params.(type) {
	case ivfflat.IndexParams:
		m = p.Metric
	case ivfpq.IndexParams:
		m = p.Metric
	case graph.IndexParams:
		m = p.Metric
	}
	metric, err := core.ParseMetric(string(m))
	if err != nil {
		return "", qerrors.WrapConfigurationError(err, "bench.Config", "unknown metric")
	}
	return metric, nil
}

func (c *Config) metricOr(m core.DistanceMetric) core.DistanceMetric {
	if c.Metric != "" {
		return core.DistanceMetric(c.Metric)
	}
	return m
}

// SearchParamSets decodes every search_params entry. An empty list yields the defaults.
func (c *Config) SearchParamSets() ([]SearchParam, error) {
	kind, err := c.Kind()
	if err != nil {
		return nil, err
	}
	nodes := c.SearchParams
	if len(nodes) == 0 {
		nodes = []yaml.Node{{}}
	}
	out := make([]SearchParam, 0, len(nodes))
	for i := range nodes {
		sp, err := decodeSearchParam(kind, &nodes[i])
		if err != nil {
			return nil, qerrors.WrapConfigurationError(err, "bench.Config", "decode search_params").WithContext("entry", i)
		}
		out = append(out, sp)
	}
	return out, nil
}

func decodeSearchParam(kind core.Kind, node *yaml.Node) (SearchParam, error) {
	var mf mergeField
	if err := decodeNode(node, &mf); err != nil {
		return SearchParam{}, err
	}
	mode, err := mg.ParseMergeMode(mf.MergeMode)
	if err != nil {
		return SearchParam{}, err
	}
	sp := SearchParam{Merge: mode}
	switch kind {
	case core.KindIVFFlat:
		p := ivfflat.DefaultSearchParams()
		err = decodeNode(node, &p)
		sp.Params = p
	case core.KindIVFPQ:
		p := ivfpq.DefaultSearchParams()
		err = decodeNode(node, &p)
		sp.Params = p
	case core.KindGraph:
		p := graph.DefaultSearchParams()
		err = decodeNode(node, &p)
		sp.Params = p
	default:
		err = fmt.Errorf("unknown kind %s", kind)
	}
	return sp, err
}

// decodeNode leaves out untouched when the node is absent.
func decodeNode(node *yaml.Node, out any) error {
	if node == nil || node.Kind == 0 {
		return nil
	}
	return node.Decode(out)
}

// New builds the algorithm the config describes. Multi-device configs create their own
// clique; single-device configs run on res.
func New(cfg *Config, dims int, res *resources.Handle, logger zerolog.Logger) (Algo, error) {
	params, err := cfg.IndexParams()
	if err != nil {
		return nil, err
	}
	comp, err := codec.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, qerrors.WrapConfigurationError(err, "bench.New", "unknown compression")
	}
	logger = logging.WithComponent(logger, "bench").With().Str("bench", cfg.Name).Logger()

	if !cfg.MultiDevice {
		return NewSingle(res, params, dims, ann.WithCompression(comp), ann.WithLogger(logger))
	}

	mode, err := mg.ParseDistributionMode(cfg.Distribution)
	if err != nil {
		return nil, err
	}
	devices := cfg.Devices
	if len(devices) == 0 {
		devices = []int{0}
	}
	c, err := clique.New(clique.Config{DeviceIDs: devices, RootRank: cfg.RootRank}, logger)
	if err != nil {
		return nil, err
	}
	a, err := NewMulti(c, params, dims, mg.Options{Mode: mode, Compression: comp, Logger: logger})
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return a, nil
}
