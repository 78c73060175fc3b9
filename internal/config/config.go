// Package config loads run configuration from YAML files and turns it into
// the component configurations of a training run.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/born-ml/dizo/internal/divergence"
	"github.com/born-ml/dizo/internal/optim"
	"github.com/born-ml/dizo/internal/parallel"
	"github.com/born-ml/dizo/internal/projection"
	"github.com/born-ml/dizo/internal/task"
	"github.com/born-ml/dizo/internal/trainer"
	"github.com/born-ml/dizo/internal/zo"
)

// Config is the file configuration of a run.
type Config struct {
	Run        RunConfig        `yaml:"run"`
	Task       TaskConfig       `yaml:"task"`
	Optimizer  OptimizerConfig  `yaml:"optimizer"`
	ZO         ZOConfig         `yaml:"zo"`
	Projection ProjectionConfig `yaml:"projection"`
	Divergence DivergenceConfig `yaml:"divergence"`
	Logging    LoggingConfig    `yaml:"logging"`
	Store      StoreConfig      `yaml:"store"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// RunConfig holds the step budget and seeding.
type RunConfig struct {
	Name    string `yaml:"name"`
	Seed    uint64 `yaml:"seed"`
	Steps   int    `yaml:"steps"`
	Workers int    `yaml:"workers"` // 0: one per CPU, 1: sequential
}

// TaskConfig selects the model and data.
type TaskConfig struct {
	Name      string  `yaml:"name"`
	Mode      string  `yaml:"mode"`
	Dim       int     `yaml:"dim"`
	Out       int     `yaml:"out"`
	Rank      int     `yaml:"rank"`
	Alpha     float64 `yaml:"alpha"`
	Samples   int     `yaml:"samples"`
	Noise     float64 `yaml:"noise"`
	BatchSize int     `yaml:"batch_size"`
	Corpus    string  `yaml:"corpus"`
	TextField string  `yaml:"text_field"`
	Encoding  string  `yaml:"encoding"`
	Vocab     int     `yaml:"vocab"`
}

// OptimizerConfig configures the update rule and its schedule.
type OptimizerConfig struct {
	LR           float64 `yaml:"lr"`
	Schedule     string  `yaml:"schedule"`
	MinLR        float64 `yaml:"min_lr"`
	Warmup       int     `yaml:"warmup"`
	Momentum     float64 `yaml:"momentum"`
	WeightDecay  float64 `yaml:"weight_decay"`
	ClipRange    float64 `yaml:"clip_range"`
	ClipStrategy string  `yaml:"clip_strategy"`
}

// ZOConfig configures the gradient estimator.
type ZOConfig struct {
	Epsilon       float64 `yaml:"epsilon"`
	Directions    int     `yaml:"directions"`
	VerifyRestore bool    `yaml:"verify_restore"`
}

// ProjectionConfig configures projection learning.
type ProjectionConfig struct {
	Mode         string   `yaml:"mode"`
	NormMode     string   `yaml:"norm_mode"`
	LR           float64  `yaml:"lr"` // 0 selects the mode default
	Iterations   int      `yaml:"iterations"`
	PerturbScale float64  `yaml:"perturb_scale"`
	GammaBound   float64  `yaml:"gamma_bound"`
	L1Penalty    float64  `yaml:"l1_penalty"`
	Include      []string `yaml:"include"`
	Exclude      []string `yaml:"exclude"`
}

// DivergenceConfig configures the refresh trigger.
type DivergenceConfig struct {
	Strategy  string  `yaml:"strategy"`
	Cycle     int     `yaml:"cycle"`
	Smoothing float64 `yaml:"smoothing"`
	Threshold float64 `yaml:"threshold"`
	MinGap    int     `yaml:"min_gap"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
	Every  int    `yaml:"every"`  // Log every N steps
}

// StoreConfig configures the trajectory store.
type StoreConfig struct {
	Path string `yaml:"path"` // SQLite file; empty disables recording
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // Listen address; empty disables the endpoint
}

// Log formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Defaults returns the configuration used for every field a file leaves out.
func Defaults() *Config {
	return &Config{
		Run: RunConfig{
			Name:  "dizo",
			Seed:  42,
			Steps: 1000,
		},
		Task: TaskConfig{
			Name: task.Quadratic,
			Mode: task.ModeFull,
		},
		Optimizer: OptimizerConfig{
			LR:           1e-3,
			Schedule:     optim.ScheduleConstant,
			ClipStrategy: projection.ClipGlobal,
		},
		ZO: ZOConfig{
			Epsilon:    1e-3,
			Directions: 1,
		},
		Projection: ProjectionConfig{
			Mode:         string(projection.ModeNone),
			NormMode:     string(projection.NormL2),
			Iterations:   10,
			PerturbScale: 0.2,
			GammaBound:   0.2,
			L1Penalty:    1e-3,
		},
		Divergence: DivergenceConfig{
			Strategy:  divergence.StrategyCosine,
			Cycle:     50,
			Smoothing: 0.1,
			MinGap:    1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: FormatConsole,
			Every:  10,
		},
	}
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over Defaults and validates the result. Unknown
// fields are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// Validate checks every section without building any component.
func (c *Config) Validate() error {
	if c.Run.Steps <= 0 {
		return fmt.Errorf("run.steps must be positive, got %d", c.Run.Steps)
	}
	if c.Run.Workers < 0 {
		return fmt.Errorf("run.workers must be non-negative, got %d", c.Run.Workers)
	}
	if err := c.TaskConfig().Validate(); err != nil {
		return fmt.Errorf("task: %w", err)
	}
	if _, err := c.Schedule(); err != nil {
		return fmt.Errorf("optimizer: %w", err)
	}
	if c.Optimizer.ClipRange < 0 {
		return fmt.Errorf("optimizer.clip_range must be non-negative, got %g", c.Optimizer.ClipRange)
	}
	if _, err := projection.ParseClip(c.Optimizer.ClipStrategy); err != nil {
		return fmt.Errorf("optimizer: %w", err)
	}
	if c.Optimizer.Momentum < 0 || c.Optimizer.Momentum >= 1 {
		return fmt.Errorf("optimizer.momentum must be in [0, 1), got %g", c.Optimizer.Momentum)
	}
	if c.ZO.Directions < 1 {
		return fmt.Errorf("zo.directions must be positive, got %d", c.ZO.Directions)
	}
	if c.ZO.Epsilon <= 0 {
		return fmt.Errorf("zo.epsilon must be positive, got %g", c.ZO.Epsilon)
	}
	if _, err := c.projection(); err != nil {
		return fmt.Errorf("projection: %w", err)
	}
	if _, err := c.divergence(); err != nil {
		return fmt.Errorf("divergence: %w", err)
	}
	if _, err := c.Level(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	switch c.Logging.Format {
	case FormatConsole, FormatJSON:
	default:
		return fmt.Errorf("logging.format must be %q or %q, got %q", FormatConsole, FormatJSON, c.Logging.Format)
	}
	return nil
}

// Level parses the logging level.
func (c *Config) Level() (zerolog.Level, error) {
	return zerolog.ParseLevel(c.Logging.Level)
}

// TaskConfig returns the task section as a task.Config.
func (c *Config) TaskConfig() task.Config {
	t := c.Task
	return task.Config{
		Name:      t.Name,
		Mode:      t.Mode,
		Seed:      c.Run.Seed,
		Dim:       t.Dim,
		Out:       t.Out,
		Rank:      t.Rank,
		Alpha:     t.Alpha,
		Samples:   t.Samples,
		Noise:     t.Noise,
		BatchSize: t.BatchSize,
		Corpus:    t.Corpus,
		TextField: t.TextField,
		Encoding:  t.Encoding,
		Vocab:     t.Vocab,
	}
}

// Schedule builds the learning-rate schedule over the run's step budget.
func (c *Config) Schedule() (optim.Schedule, error) {
	o := c.Optimizer
	return optim.NewSchedule(optim.ScheduleConfig{
		Kind:   o.Schedule,
		LR:     o.LR,
		MinLR:  o.MinLR,
		Steps:  c.Run.Steps,
		Warmup: o.Warmup,
	})
}

// Parallel returns the element parallelism selected by run.workers.
func (c *Config) Parallel() parallel.Config {
	switch c.Run.Workers {
	case 0:
		return parallel.DefaultConfig()
	case 1:
		return parallel.Sequential()
	default:
		p := parallel.DefaultConfig()
		p.Enabled = true
		p.NumWorkers = c.Run.Workers
		return p
	}
}

// Trainer builds the trainer configuration. logger is handed to every
// component.
func (c *Config) Trainer(logger zerolog.Logger) (trainer.Config, error) {
	schedule, err := c.Schedule()
	if err != nil {
		return trainer.Config{}, err
	}
	clipper, err := projection.ParseClip(c.Optimizer.ClipStrategy)
	if err != nil {
		return trainer.Config{}, err
	}
	proj, err := c.projection()
	if err != nil {
		return trainer.Config{}, err
	}
	div, err := c.divergence()
	if err != nil {
		return trainer.Config{}, err
	}
	par := c.Parallel()
	return trainer.Config{
		Steps:     c.Run.Steps,
		Seed:      c.Run.Seed,
		LR:        c.Optimizer.LR,
		Schedule:  schedule,
		ClipRange: c.Optimizer.ClipRange,
		Clipper:   clipper,
		Estimator: zo.Config{
			Directions:    c.ZO.Directions,
			Epsilon:       c.ZO.Epsilon,
			VerifyRestore: c.ZO.VerifyRestore,
		},
		SGD: optim.SGDConfig{
			Momentum:    c.Optimizer.Momentum,
			WeightDecay: c.Optimizer.WeightDecay,
			Parallel:    par,
		},
		Projection: proj,
		Divergence: div,
		Parallel:   par,
		Logger:     logger,
	}, nil
}

func (c *Config) projection() (projection.Config, error) {
	p := c.Projection
	mode, err := projection.ParseMode(p.Mode)
	if err != nil {
		return projection.Config{}, err
	}
	norm, err := projection.ParseNormMode(p.NormMode)
	if err != nil {
		return projection.Config{}, err
	}
	if p.Iterations < 1 {
		return projection.Config{}, fmt.Errorf("iterations must be positive, got %d", p.Iterations)
	}
	if p.PerturbScale <= 0 {
		return projection.Config{}, fmt.Errorf("perturb_scale must be positive, got %g", p.PerturbScale)
	}
	if p.GammaBound <= 0 || p.GammaBound >= 1 {
		return projection.Config{}, fmt.Errorf("gamma_bound must be in (0, 1), got %g", p.GammaBound)
	}
	if p.LR < 0 {
		return projection.Config{}, fmt.Errorf("lr must be non-negative, got %g", p.LR)
	}
	return projection.Config{
		Mode:         mode,
		NormMode:     norm,
		LR:           p.LR,
		Iterations:   p.Iterations,
		PerturbScale: p.PerturbScale,
		GammaBound:   p.GammaBound,
		L1Penalty:    p.L1Penalty,
		Include:      p.Include,
		Exclude:      p.Exclude,
	}, nil
}

func (c *Config) divergence() (divergence.Config, error) {
	d := c.Divergence
	strategy, err := divergence.ParseStrategy(d.Strategy)
	if err != nil {
		return divergence.Config{}, err
	}
	if d.Cycle < 1 {
		return divergence.Config{}, fmt.Errorf("cycle must be positive, got %d", d.Cycle)
	}
	if d.Smoothing <= 0 || d.Smoothing > 1 {
		return divergence.Config{}, fmt.Errorf("smoothing must be in (0, 1], got %g", d.Smoothing)
	}
	if d.Threshold < 0 {
		return divergence.Config{}, fmt.Errorf("threshold must be non-negative, got %g", d.Threshold)
	}
	if d.MinGap < 1 {
		return divergence.Config{}, fmt.Errorf("min_gap must be positive, got %d", d.MinGap)
	}
	return divergence.Config{
		Strategy:  strategy,
		Cycle:     d.Cycle,
		Smoothing: d.Smoothing,
		Threshold: d.Threshold,
		MinGap:    d.MinGap,
	}, nil
}
