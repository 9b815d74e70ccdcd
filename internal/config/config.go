// Package config loads pipeline settings: a .env file for credentials, an
// optional YAML file for pipeline knobs, and AWM_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/haricheung/agent-workflow-memory/internal/dedup"
	"github.com/haricheung/agent-workflow-memory/internal/fsutil"
	"github.com/haricheung/agent-workflow-memory/internal/induce"
	"github.com/haricheung/agent-workflow-memory/internal/memory"
)

// Accepted values of induction.criteria and retrieval.mode.
const (
	CriteriaGT       = induce.CriteriaGT
	CriteriaAutoeval = induce.CriteriaAutoeval
	ModeRandom       = memory.ModeRandom
	ModeSemantic     = memory.ModeSemantic
)

// Induction configures rule and neural workflow induction.
type Induction struct {
	Criteria    string        `yaml:"criteria"`
	Model       string        `yaml:"model"`
	AutoReview  bool          `yaml:"auto_review"`
	Dedup       dedup.Options `yaml:"dedup"`
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	// Instruction and OneShot are prompt files prepended for neural induction.
	Instruction string `yaml:"instruction"`
	OneShot     string `yaml:"one_shot"`
	Suffix      string `yaml:"suffix"`
}

// Retrieval configures workflow and exemplar selection.
type Retrieval struct {
	Mode       string `yaml:"mode"`
	TopK       int    `yaml:"top_k"`
	MemoryPath string `yaml:"memory_path"`
	Suffix     string `yaml:"suffix"`
}

// Evaluation configures the step evaluator.
type Evaluation struct {
	Model        string  `yaml:"model"`
	Temperature  float32 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
	TopKElements int     `yaml:"top_k_elements"`
	RetrieveTopK int     `yaml:"retrieve_top_k"`
	// HistoryWindow bounds the number of previous steps kept in the prompt; 0 keeps all.
	HistoryWindow int `yaml:"history_window"`
}

// Paths locates inputs and outputs on disk.
type Paths struct {
	ResultsDir  string `yaml:"results_dir"`
	ConfigDir   string `yaml:"config_dir"`
	WorkflowDir string `yaml:"workflow_dir"`
	DataDir     string `yaml:"data_dir"`
	LogDir      string `yaml:"log_dir"`
	VectorDB    string `yaml:"vector_db"`
}

// Config is the full pipeline configuration.
type Config struct {
	Induction  Induction  `yaml:"induction"`
	Retrieval  Retrieval  `yaml:"retrieval"`
	Evaluation Evaluation `yaml:"evaluation"`
	Paths      Paths      `yaml:"paths"`
}

// Default returns a configuration with every value set.
func Default() *Config {
	return &Config{
		Induction: Induction{
			Criteria:    CriteriaAutoeval,
			Model:       "gpt-4o",
			Dedup:       dedup.Options{PerTemplate: 1, PerSignature: 1},
			Temperature: 1.0,
			MaxTokens:   2048,
		},
		Retrieval: Retrieval{
			Mode:       ModeRandom,
			TopK:       10,
			MemoryPath: "data/exemplars.json",
		},
		Evaluation: Evaluation{
			Model:        "gpt-3.5-turbo",
			Temperature:  0,
			MaxTokens:    DefaultEvalMaxTokens,
			TopKElements: 5,
			RetrieveTopK: 1,
		},
		Paths: Paths{
			ResultsDir:  "results",
			ConfigDir:   "config_files",
			WorkflowDir: "workflow",
			DataDir:     "data",
			LogDir:      "results/episodes",
			VectorDB:    "~/.cache/awm/vectors",
		},
	}
}

// DefaultEvalMaxTokens bounds the completion length of one evaluation step.
const DefaultEvalMaxTokens = 256

// Load reads .env (when present), then the YAML file at path (when path is
// non-empty), then applies AWM_* overrides, and validates the result.
//
// Expectations:
//   - A missing .env is not an error
//   - An empty path yields Default() plus overrides
//   - A missing or malformed YAML file is an error
//   - Keys absent from the YAML file keep their default values
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(fsutil.ExpandHome(path))
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides selected keys from AWM_* variables.
func (c *Config) applyEnv() error {
	str := map[string]*string{
		"AWM_CRITERIA":      &c.Induction.Criteria,
		"AWM_INDUCE_MODEL":  &c.Induction.Model,
		"AWM_RETRIEVE_MODE": &c.Retrieval.Mode,
		"AWM_MEMORY_PATH":   &c.Retrieval.MemoryPath,
		"AWM_EVAL_MODEL":    &c.Evaluation.Model,
		"AWM_RESULTS_DIR":   &c.Paths.ResultsDir,
		"AWM_CONFIG_DIR":    &c.Paths.ConfigDir,
		"AWM_WORKFLOW_DIR":  &c.Paths.WorkflowDir,
		"AWM_DATA_DIR":      &c.Paths.DataDir,
		"AWM_LOG_DIR":       &c.Paths.LogDir,
		"AWM_VECTOR_DB":     &c.Paths.VectorDB,
	}
	for k, p := range str {
		if v := os.Getenv(k); v != "" {
			*p = v
		}
	}
	ints := map[string]*int{
		"AWM_TOP_K":          &c.Retrieval.TopK,
		"AWM_TOP_K_ELEMENTS": &c.Evaluation.TopKElements,
		"AWM_HISTORY_WINDOW": &c.Evaluation.HistoryWindow,
	}
	for k, p := range ints {
		v := os.Getenv(k)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", k, err)
		}
		*p = n
	}
	if v := os.Getenv("AWM_AUTO_REVIEW"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: AWM_AUTO_REVIEW: %w", err)
		}
		c.Induction.AutoReview = b
	}
	return nil
}

// Validate rejects values no pipeline stage can run with. Every problem is
// reported, not just the first.
func (c *Config) Validate() error {
	var errs []error
	switch c.Induction.Criteria {
	case CriteriaGT, CriteriaAutoeval:
	default:
		errs = append(errs, fmt.Errorf("induction.criteria %q: want %s or %s", c.Induction.Criteria, CriteriaGT, CriteriaAutoeval))
	}
	switch c.Retrieval.Mode {
	case ModeRandom, ModeSemantic:
	default:
		errs = append(errs, fmt.Errorf("retrieval.mode %q: want %s or %s", c.Retrieval.Mode, ModeRandom, ModeSemantic))
	}
	if c.Retrieval.TopK < 1 {
		errs = append(errs, fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK))
	}
	if c.Evaluation.TopKElements < 1 {
		errs = append(errs, fmt.Errorf("evaluation.top_k_elements must be positive, got %d", c.Evaluation.TopKElements))
	}
	if c.Evaluation.HistoryWindow < 0 {
		errs = append(errs, fmt.Errorf("evaluation.history_window must not be negative, got %d", c.Evaluation.HistoryWindow))
	}
	if c.Evaluation.Temperature < 0 || c.Induction.Temperature < 0 {
		errs = append(errs, errors.New("temperature must not be negative"))
	}
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
}
