package evaluate

import "log/slog"

// Progress is one advance of an evaluation run.
//
// A step event has Step set (1-indexed) and StepSuccess for that step; Skip
// names the reason when the step was scored as a failure without a
// prediction. The episode event has Done set, StepSuccess summed over all
// steps, and Success.
type Progress struct {
	TaskID      string
	Step        int
	Steps       int
	StepSuccess int
	Skip        string
	Done        bool
	Success     int
}

// publish is non-blocking: when the observer lags, the event is dropped.
func (r *Runner) publish(p Progress) {
	if r.Progress == nil {
		return
	}
	select {
	case r.Progress <- p:
	default:
		slog.Debug("[EVAL] progress event dropped", "task_id", p.TaskID, "step", p.Step)
	}
}

func sum(xs []int) int {
	n := 0
	for _, x := range xs {
		n += x
	}
	return n
}
