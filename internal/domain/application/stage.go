// Package application defines the ApplicationState entity and the pipeline
// state machine that drives it through extraction, validation, assessment,
// recommendation and explanation.
package application

import "fmt"

// Stage is the position of an application in the processing pipeline.
type Stage string

const (
	StageIntake         Stage = "intake"
	StageExtracting     Stage = "extracting"
	StageValidating     Stage = "validating"
	StageAssessing      Stage = "assessing"
	StageRecommending   Stage = "recommending"
	StageExplaining     Stage = "explaining"
	StageAwaitingReview Stage = "awaiting_review"
	StageCompleted      Stage = "completed"
	StageFailed         Stage = "failed"
)

// WorkStages lists the stages that run a worker, in pipeline order.
var WorkStages = []Stage{
	StageExtracting,
	StageValidating,
	StageAssessing,
	StageRecommending,
	StageExplaining,
}

// allowedTransitions is the complete state graph. Self-loops are absent on
// purpose: re-entering a stage is a retry and is validated separately.
var allowedTransitions = map[Stage]map[Stage]struct{}{
	StageIntake: {
		StageExtracting: {},
		StageFailed:     {},
	},
	StageExtracting: {
		StageValidating: {},
		StageFailed:     {},
	},
	StageValidating: {
		StageAssessing: {},
		StageFailed:    {},
	},
	StageAssessing: {
		StageRecommending:   {},
		StageAwaitingReview: {},
		StageFailed:         {},
	},
	StageRecommending: {
		StageExplaining: {},
		StageFailed:     {},
	},
	StageExplaining: {
		StageCompleted: {},
		StageFailed:    {},
	},
	StageAwaitingReview: {},
	StageCompleted:      {},
	StageFailed:         {},
}

// order gives each stage its rank on the happy path. Used to check that
// history never moves backwards.
var order = map[Stage]int{
	StageIntake:         0,
	StageExtracting:     1,
	StageValidating:     2,
	StageAssessing:      3,
	StageRecommending:   4,
	StageAwaitingReview: 4,
	StageExplaining:     5,
	StageCompleted:      6,
	StageFailed:         7,
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// IsTerminal reports whether no pipeline transition leaves s.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed || s == StageAwaitingReview
}

// Rank returns the stage's position used for monotonicity checks.
func (s Stage) Rank() int {
	return order[s]
}

// Next returns the happy-path successor of s, or "" for terminal stages.
func (s Stage) Next() Stage {
	switch s {
	case StageIntake:
		return StageExtracting
	case StageExtracting:
		return StageValidating
	case StageValidating:
		return StageAssessing
	case StageAssessing:
		return StageRecommending
	case StageRecommending:
		return StageExplaining
	case StageExplaining:
		return StageCompleted
	default:
		return ""
	}
}

// Name returns the short worker name for a work stage ("extract", "assess", ...).
// Confidence scores and per-stage configuration are keyed by this name.
func (s Stage) Name() string {
	switch s {
	case StageExtracting:
		return "extract"
	case StageValidating:
		return "validate"
	case StageAssessing:
		return "assess"
	case StageRecommending:
		return "recommend"
	case StageExplaining:
		return "explain"
	default:
		return string(s)
	}
}

// StageForName maps a worker name back to its stage.
func StageForName(name string) (Stage, bool) {
	for _, s := range WorkStages {
		if s.Name() == name {
			return s, true
		}
	}
	return "", false
}

// ValidateTransition checks that from -> to is an edge of the state graph.
func ValidateTransition(from, to Stage) error {
	if !from.Valid() {
		return fmt.Errorf("invalid stage: %q", from)
	}
	if !to.Valid() {
		return fmt.Errorf("invalid stage: %q", to)
	}
	if _, ok := allowedTransitions[from][to]; !ok {
		return fmt.Errorf("invalid transition: %s -> %s", from, to)
	}
	return nil
}

// Transitions returns a copy of the state graph as adjacency lists.
func Transitions() map[Stage][]Stage {
	out := make(map[Stage][]Stage, len(allowedTransitions))
	for from, tos := range allowedTransitions {
		list := make([]Stage, 0, len(tos))
		for to := range tos {
			list = append(list, to)
		}
		out[from] = list
	}
	return out
}
