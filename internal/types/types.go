// Package types holds the data records shared by the induction, memory, and
// evaluation packages. Records are values: once produced by a parser they are
// only filtered, grouped, and rendered, never mutated in place.
package types

import "strings"

// ActionKind is the operation class of a normalized action.
type ActionKind string

const (
	ActionClick       ActionKind = "click"
	ActionType        ActionKind = "type"
	ActionSelect      ActionKind = "select"
	ActionSendMessage ActionKind = "send_message"
	ActionOther       ActionKind = "other"
)

// Step is one (thought, actions) pair recovered from an execution log.
// Actions holds the raw action strings that survived normalization.
type Step struct {
	Thought string   `json:"thought"`
	Actions []string `json:"actions"`
}

// Action is the typed record derived from one raw action string.
// ID and Value are empty when the operation has no such field.
type Action struct {
	Kind  ActionKind `json:"kind"`
	ID    string     `json:"id,omitempty"`
	Value string     `json:"value,omitempty"`
	Raw   string     `json:"raw"`
}

// Trajectory is one recorded attempt at a task. Steps is never empty.
type Trajectory struct {
	Query      string `json:"query"`
	TemplateID string `json:"template_id"`
	Site       string `json:"site"`
	Steps      []Step `json:"steps"`
}


// WorkflowBlock is one workflow recovered from a persisted workflow file.
// Content is the renderable text including the cleaned name line.
type WorkflowBlock struct {
	Site      string `json:"site"`
	Name      string `json:"name"`
	Docstring string `json:"docstring"`
	Content   string `json:"content"`
}

// Tags is the composite (domain, subdomain, website) key of the exemplar hierarchy.
type Tags struct {
	Domain    string `json:"domain" yaml:"domain"`
	Subdomain string `json:"subdomain" yaml:"subdomain"`
	Website   string `json:"website" yaml:"website"`
}

// String renders the tags the way induction prompts expect them.
func (t Tags) String() string {
	return strings.Join([]string{t.Domain, t.Subdomain, t.Website}, ",")
}

// Message is one role-tagged chat fragment. Specifier is only set on the one
// fragment of an exemplar that carries its filter tag.
type Message struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Specifier string `json:"specifier,omitempty"`
}

// Example is one exemplar: an ordered sequence of message fragments.
type Example []Message

// Specifier returns the filter tag carried by the example, or "".
func (e Example) Specifier() string {
	for _, m := range e {
		if m.Specifier != "" {
			return m.Specifier
		}
	}
	return ""
}

// Stripped returns a copy of the example with every specifier removed.
func (e Example) Stripped() Example {
	out := make(Example, len(e))
	for i, m := range e {
		out[i] = Message{Role: m.Role, Content: m.Content}
	}
	return out
}

// Hit is one nearest-neighbour result. Lower Score means more similar.
type Hit struct {
	ID    int     `json:"id"`
	Score float64 `json:"score"`
}

// Candidate is one ground-truth element candidate of an evaluation step.
type Candidate struct {
	BackendNodeID string `json:"backend_node_id"`
	Rank          int    `json:"rank"`
}

// EvalStep is one recorded ground-truth step of an evaluation sample.
type EvalStep struct {
	TargetAction      string      `json:"target_action"`
	ActionRepr        string      `json:"action_repr"`
	Observation       string      `json:"observation"`
	TargetObservation string      `json:"target_observation,omitempty"`
	PosCandidates     []Candidate `json:"pos_candidates"`
}

// Sample is one evaluation episode.
type Sample struct {
	TaskID        string     `json:"task_id"`
	ConfirmedTask string     `json:"confirmed_task"`
	Website       string     `json:"website"`
	Domain        string     `json:"domain"`
	Subdomain     string     `json:"subdomain"`
	Steps         []EvalStep `json:"steps"`
}

// Tags returns the sample's composite tag.
func (s Sample) Tags() Tags {
	return Tags{Domain: s.Domain, Subdomain: s.Subdomain, Website: s.Website}
}

// TrainExample is one Mind2Web training record used for offline induction.
type TrainExample struct {
	ConfirmedTask string   `json:"confirmed_task"`
	Domain        string   `json:"domain"`
	Subdomain     string   `json:"subdomain"`
	Website       string   `json:"website"`
	ActionReprs   []string `json:"action_reprs"`
}

// Tags returns the example's composite tag.
func (e TrainExample) Tags() Tags {
	return Tags{Domain: e.Domain, Subdomain: e.Subdomain, Website: e.Website}
}
