// Package induce turns recorded agent experience into workflow files.
//
// Rule induction deduplicates successful trajectories, has each one reviewed,
// and writes the accepted ones verbatim as concrete examples. Neural induction
// sends the deduplicated trajectories to a model and writes the summary
// workflows it returns. Website induction does the same from Mind2Web training
// examples (offline) or from evaluation records (online).
package induce

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/haricheung/agent-workflow-memory/internal/trajlog"
	"github.com/haricheung/agent-workflow-memory/internal/types"
)

// Success criteria.
const (
	CriteriaGT       = "gt"
	CriteriaAutoeval = "autoeval"
)

// ErrUnknownCriteria is returned for a criteria other than gt or autoeval.
var ErrUnknownCriteria = errors.New("induce: unknown criteria")

// LogFile is the execution log inside every result directory.
const LogFile = "experiment.log"

// Skip records one result directory left out of induction and why.
type Skip struct {
	Dir    string `json:"dir"`
	Reason string `json:"reason"`
}

// CollectOptions locates result directories and decides which count as successes.
type CollectOptions struct {
	ResultDirs []string
	ConfigDir  string
	Criteria   string
	// Model names the autoeval record: <Model>_autoeval.json.
	Model string
}

// Collection is the set of successful trajectories found by Collect.
type Collection struct {
	Trajectories []types.Trajectory
	Skips        []Skip
	// Site is sites[0] of the last task config read.
	Site string
}

// taskConfig is the subset of a task config file induction reads.
type taskConfig struct {
	Intent     string          `json:"intent"`
	TemplateID json.RawMessage `json:"intent_template_id"`
	Sites      []string        `json:"sites"`
}

// Collect walks every result directory, keeps the successful episodes, and
// parses their execution logs into trajectories.
//
// Expectations:
//   - gt selects episodes whose summary_info.json cum_reward is non-zero
//   - autoeval selects episodes whose <model>_autoeval.json first record has rm true
//   - An episode without an autoeval record is not selected
//   - Unreadable records, bad directory names, missing task configs, and
//     malformed logs become Skips, never errors
//   - An unknown criteria is an error
//   - An unreadable result root is an error
func Collect(opts CollectOptions) (*Collection, error) {
	if opts.Criteria != CriteriaGT && opts.Criteria != CriteriaAutoeval {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCriteria, opts.Criteria)
	}
	c := &Collection{}
	for _, root := range opts.ResultDirs {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, fmt.Errorf("induce: read results %s: %w", root, err)
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			dir := filepath.Join(root, e.Name())
			ok, err := succeeded(dir, opts)
			if err != nil {
				c.skip(dir, err.Error())
				continue
			}
			if !ok {
				continue
			}
			t, site, err := load(dir, opts.ConfigDir)
			if err != nil {
				c.skip(dir, err.Error())
				continue
			}
			c.Trajectories = append(c.Trajectories, t)
			if site != "" {
				c.Site = site
			}
		}
	}
	slog.Info("[INDUCE] collected", "criteria", opts.Criteria, "trajectories", len(c.Trajectories), "skipped", len(c.Skips))
	return c, nil
}

func (c *Collection) skip(dir, reason string) {
	slog.Warn("[INDUCE] skipping result", "dir", dir, "reason", reason)
	c.Skips = append(c.Skips, Skip{Dir: dir, Reason: reason})
}

// succeeded applies the success criteria to one result directory.
func succeeded(dir string, opts CollectOptions) (bool, error) {
	switch opts.Criteria {
	case CriteriaGT:
		var summary struct {
			CumReward float64 `json:"cum_reward"`
		}
		if err := readJSON(filepath.Join(dir, "summary_info.json"), &summary); err != nil {
			return false, err
		}
		return summary.CumReward != 0, nil
	default:
		path := filepath.Join(dir, opts.Model+"_autoeval.json")
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		var records []struct {
			RM bool `json:"rm"`
		}
		if err := readJSON(path, &records); err != nil {
			return false, err
		}
		return len(records) > 0 && records[0].RM, nil
	}
}

// load reads the task config and execution log of one result directory.
func load(dir, configDir string) (types.Trajectory, string, error) {
	id, err := TaskID(filepath.Base(dir))
	if err != nil {
		return types.Trajectory{}, "", err
	}
	var cfg taskConfig
	if err := readJSON(filepath.Join(configDir, id+".json"), &cfg); err != nil {
		return types.Trajectory{}, "", err
	}
	steps, report, err := trajlog.ParseFile(filepath.Join(dir, LogFile))
	if err != nil {
		return types.Trajectory{}, "", err
	}
	if len(report.Dropped) > 0 {
		slog.Debug("[INDUCE] actions dropped", "dir", dir, "actions", len(report.Dropped), "steps", len(report.Steps))
	}
	site := ""
	if len(cfg.Sites) > 0 {
		site = cfg.Sites[0]
	}
	return types.Trajectory{
		Query:      cfg.Intent,
		TemplateID: templateKey(cfg.TemplateID),
		Site:       site,
		Steps:      steps,
	}, site, nil
}

// TaskID extracts the task id from a result directory name of the form
// "<benchmark>.<id>[_<suffix>]".
//
// Expectations:
//   - "webarena.42" yields "42"
//   - "webarena.42_retry" yields "42"
//   - A name without a "." is an error
func TaskID(name string) (string, error) {
	head, _, _ := strings.Cut(name, "_")
	parts := strings.Split(head, ".")
	if len(parts) < 2 || parts[1] == "" {
		return "", fmt.Errorf("induce: result dir %q has no task id", name)
	}
	return parts[1], nil
}

// templateKey renders a template id that may be a JSON number or string.
func templateKey(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("induce: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("induce: parse %s: %w", path, err)
	}
	return nil
}
