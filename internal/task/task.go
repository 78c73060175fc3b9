// Package task builds the demo fine-tuning problems: a model together with
// the batch source that feeds it.
//
// Three tasks are available:
//   - quadratic: L(x) = ||x - target||^2, the reference convergence problem
//   - regression: a dense layer fitted to a shifted copy of its weights, fully
//     (ft) or through a low-rank adapter (lora)
//   - bigram: a next-token model over a JSONL text corpus
package task

import (
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/born-ml/dizo/internal/nn"
	"github.com/born-ml/dizo/internal/tokenizer"
)

// Task names.
const (
	Quadratic  = "quadratic"
	Regression = "regression"
	Bigram     = "bigram"
)

// Fine-tuning modes.
const (
	ModeFull    = "ft"
	ModeAdapter = "lora"
)

// Source is the batch source of a task.
type Source = nn.Source

// Config selects and sizes a task. Zero values take the defaults below.
type Config struct {
	Name      string  // Task name (default: quadratic)
	Mode      string  // ft or lora (default: ft); lora applies to regression
	Seed      uint64  // Seed of model initialisation and data
	Dim       int     // quadratic: dimensions; regression: input width; bigram: embedding width
	Out       int     // regression: output width (default: 4)
	Rank      int     // lora: adapter rank (default: 2)
	Alpha     float64 // lora: adapter scaling numerator (default: Rank)
	Samples   int     // regression: dataset size (default: 256)
	Noise     float64 // regression: target noise standard deviation
	BatchSize int     // Examples or tokens per batch (default: 16)
	Corpus    string  // bigram: JSONL file; empty uses a built-in corpus
	TextField string  // bigram: gjson path of the text in every line (default: text)
	Encoding  string  // bigram: tokenizer encoding (default: bytes)
	Vocab     int     // bigram: dense vocabulary cap (default: 128)
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = Quadratic
	}
	if c.Mode == "" {
		c.Mode = ModeFull
	}
	if c.Dim == 0 {
		switch c.Name {
		case Quadratic:
			c.Dim = 2
		case Regression:
			c.Dim = 8
		default:
			c.Dim = 16
		}
	}
	if c.Out == 0 {
		c.Out = 4
	}
	if c.Rank == 0 {
		c.Rank = 2
	}
	if c.Samples == 0 {
		c.Samples = 256
	}
	if c.BatchSize == 0 {
		c.BatchSize = 16
	}
	if c.TextField == "" {
		c.TextField = "text"
	}
	if c.Encoding == "" {
		c.Encoding = tokenizer.EncodingBytes
	}
	if c.Vocab == 0 {
		c.Vocab = 128
	}
	return c
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	c = c.withDefaults()
	switch c.Name {
	case Quadratic, Regression, Bigram:
	default:
		return fmt.Errorf("unknown task %q", c.Name)
	}
	switch c.Mode {
	case ModeFull:
	case ModeAdapter:
		if c.Name != Regression {
			return fmt.Errorf("mode %q is only supported by the %s task", c.Mode, Regression)
		}
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.Dim < 1 || c.Out < 1 || c.Rank < 1 || c.Samples < 1 || c.BatchSize < 1 {
		return fmt.Errorf("task sizes must be positive: dim=%d out=%d rank=%d samples=%d batch=%d",
			c.Dim, c.Out, c.Rank, c.Samples, c.BatchSize)
	}
	if c.Noise < 0 {
		return fmt.Errorf("noise must be non-negative, got %g", c.Noise)
	}
	if c.Vocab < 2 {
		return fmt.Errorf("vocabulary must hold at least 2 ids, got %d", c.Vocab)
	}
	return nil
}

// Task is a model with its batch source.
type Task struct {
	Name   string
	Model  nn.Model
	Source Source
}

// Build creates the task named by cfg.
func Build(cfg Config) (*Task, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	switch cfg.Name {
	case Regression:
		return buildRegression(cfg)
	case Bigram:
		return buildBigram(cfg)
	default:
		return buildQuadratic(cfg)
	}
}

// buildQuadratic starts at the origin with target (1, 2, ..., Dim).
func buildQuadratic(cfg Config) (*Task, error) {
	init := make([]float64, cfg.Dim)
	target := make([]float64, cfg.Dim)
	for i := range target {
		target[i] = float64(i + 1)
	}
	q, err := nn.NewQuadratic(init, target)
	if err != nil {
		return nil, err
	}
	return &Task{Name: Quadratic, Model: q, Source: Fixed{}}, nil
}

// buildRegression fits a layer initialised as the "pretrained" weight W to
// data generated by W + Δ, where Δ has rank cfg.Rank. An adapter of that
// rank can represent the shift exactly.
func buildRegression(cfg Config) (*Task, error) {
	rng := rand.New(rand.NewPCG(cfg.Seed, 0x5eed))
	lcfg := nn.LinearConfig{In: cfg.Dim, Out: cfg.Out}
	if cfg.Mode == ModeAdapter {
		lcfg.Rank = cfg.Rank
		lcfg.Alpha = cfg.Alpha
	}
	model, err := nn.NewLinear(lcfg, rng)
	if err != nil {
		return nil, err
	}

	w := model.Weight().Tensor().Data()
	target := make([]float64, len(w))
	copy(target, w)
	scale := 0.5 / float64(cfg.Rank)
	for range cfg.Rank {
		u := make([]float64, cfg.Out)
		v := make([]float64, cfg.Dim)
		for i := range u {
			u[i] = rng.NormFloat64()
		}
		for i := range v {
			v[i] = rng.NormFloat64()
		}
		for j := range cfg.Out {
			for k := range cfg.Dim {
				target[j*cfg.Dim+k] += scale * u[j] * v[k]
			}
		}
	}
	bias := model.Bias().Tensor().Data()

	data := &nn.RegressionBatch{
		X: make([][]float64, cfg.Samples),
		Y: make([][]float64, cfg.Samples),
	}
	for n := range cfg.Samples {
		x := make([]float64, cfg.Dim)
		for k := range x {
			x[k] = rng.NormFloat64()
		}
		y := make([]float64, cfg.Out)
		for j := range y {
			y[j] = bias[j] + cfg.Noise*rng.NormFloat64()
			for k, xv := range x {
				y[j] += target[j*cfg.Dim+k] * xv
			}
		}
		data.X[n], data.Y[n] = x, y
	}

	src, err := NewMinibatches(data, cfg.BatchSize, cfg.Seed)
	if err != nil {
		return nil, err
	}
	return &Task{Name: Regression, Model: model, Source: src}, nil
}

func buildBigram(cfg Config) (*Task, error) {
	var texts []string
	if cfg.Corpus == "" {
		texts = defaultCorpus
	} else {
		f, err := os.Open(cfg.Corpus)
		if err != nil {
			return nil, fmt.Errorf("failed to open corpus: %w", err)
		}
		defer f.Close()
		texts, err = ReadJSONL(f, cfg.TextField)
		if err != nil {
			return nil, fmt.Errorf("failed to read corpus %s: %w", cfg.Corpus, err)
		}
	}

	tok, err := tokenizer.New(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	seqs, err := tokenizer.EncodeAll(tok, texts)
	if err != nil {
		return nil, err
	}
	vocab := tokenizer.FitVocab(seqs, cfg.Vocab)
	var stream []int
	for _, seq := range seqs {
		stream = append(stream, vocab.Map(seq)...)
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, 0xb1a9))
	model, err := nn.NewBigramLM(nn.BigramConfig{Vocab: vocab.Size(), Dim: cfg.Dim}, rng)
	if err != nil {
		return nil, err
	}
	src, err := NewTokenWindows(stream, cfg.BatchSize, cfg.Seed)
	if err != nil {
		return nil, err
	}
	return &Task{Name: Bigram, Model: model, Source: src}, nil
}
