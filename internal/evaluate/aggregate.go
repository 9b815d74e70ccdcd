package evaluate

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/haricheung/agent-workflow-memory/internal/fsutil"
	"github.com/haricheung/agent-workflow-memory/internal/tasklog"
	"github.com/haricheung/agent-workflow-memory/internal/types"
)

// Scores summarises a set of evaluated episodes. Every value is a percentage.
type Scores struct {
	Episodes   int     `json:"episodes"`
	ElementAcc float64 `json:"element_acc"`
	ActionF1   float64 `json:"action_f1"`
	StepSR     float64 `json:"step_sr"`
	SR         float64 `json:"sr"`
	// CumulativeStepSR[i] is the mean step success rate of episodes 0..i.
	CumulativeStepSR []float64 `json:"cumulative_step_sr"`
}

// Aggregate averages each metric within an episode, then across episodes.
//
// Expectations:
//   - Values are reported as percentages
//   - An episode with an empty metric list contributes 0 for that metric
//   - CumulativeStepSR has one entry per episode and ends at StepSR
//   - No episodes yields zero Scores
func Aggregate(episodes []tasklog.Metrics) Scores {
	s := Scores{Episodes: len(episodes)}
	if len(episodes) == 0 {
		return s
	}
	var acc, f1, step, sr, running float64
	for i, m := range episodes {
		acc += mean(m.ElementAcc)
		f1 += mean(m.ActionF1)
		ss := meanInts(m.StepSuccess)
		step += ss
		sr += meanInts(m.Success)
		running += ss
		s.CumulativeStepSR = append(s.CumulativeStepSR, running/float64(i+1)*100)
	}
	n := float64(len(episodes))
	s.ElementAcc = acc / n * 100
	s.ActionF1 = f1 / n * 100
	s.StepSR = step / n * 100
	s.SR = sr / n * 100
	return s
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func meanInts(xs []int) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0
	for _, x := range xs {
		sum += x
	}
	return float64(sum) / float64(len(xs))
}

// LoadSamples reads a JSON array of evaluation samples. A non-empty website
// keeps only that website's samples.
func LoadSamples(path, website string) ([]types.Sample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("evaluate: read samples: %w", err)
	}
	var samples []types.Sample
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, fmt.Errorf("evaluate: parse samples %s: %w", path, err)
	}
	if website == "" {
		return samples, nil
	}
	kept := samples[:0]
	for _, s := range samples {
		if s.Website == website {
			kept = append(kept, s)
		}
	}
	slog.Info("[EVAL] samples filtered", "website", website, "kept", len(kept), "total", len(samples))
	return kept, nil
}

// LoadResults reads the metrics of every finished episode under dir, in file
// name order. Unfinished or unreadable records are skipped with a warning.
func LoadResults(dir string) ([]tasklog.Metrics, error) {
	paths, err := fsutil.GlobFiles(dir, "*.jsonl")
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	var out []tasklog.Metrics
	for _, p := range paths {
		ep, err := tasklog.ReadEpisode(p)
		if err != nil {
			slog.Warn("[EVAL] skipping record", "path", p, "error", err)
			continue
		}
		m, err := ep.Metrics()
		if err != nil {
			slog.Warn("[EVAL] skipping record", "path", p, "error", err)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
