package detect

import (
	"strings"
	"time"

	"github.com/skaldera/vigil/internal/domain"
)

// ClassRule configures debounce behavior for one signal class.
type ClassRule struct {
	// Class is the event type emitted when the signal fires.
	Class domain.EventType
	// Labels lists the model vocabulary labels mapped onto this class.
	// A label absent from the model's vocabulary is simply never detected.
	Labels []string
	// MinConfidence rejects detections scoring below it.
	MinConfidence float64
	// PersistFor is the continuous-presence time required before firing.
	// Zero fires on first detection; valid but extreme, intended for tests.
	PersistFor time.Duration
	// Cooldown is the minimum spacing between fires of this class.
	Cooldown time.Duration
}

// Emission is one discrete event produced by the engine.
type Emission struct {
	Class        domain.EventType
	At           time.Time
	Score        float64
	Label        string
	BBox         *BBox
	Source       string
	PersistedFor time.Duration
}

// signalState is the ephemeral per-class debounce state. It lives only in
// the detecting process, is never persisted, and is never rebuilt from the
// event log.
type signalState struct {
	firstAboveAt *time.Time
	lastFiredAt  time.Time
}

// Engine converts a per-frame stream of class detections into persistence
// gated, cooldown limited emissions. It is owned by exactly one session's
// detection loop and is not safe for concurrent use.
type Engine struct {
	rules  map[domain.EventType]ClassRule
	order  []domain.EventType
	labels map[string]domain.EventType
	states map[domain.EventType]*signalState
}

// NewEngine builds an Engine from per-class rules. Later rules for the same
// class replace earlier ones.
func NewEngine(rules []ClassRule) *Engine {
	e := &Engine{
		rules:  make(map[domain.EventType]ClassRule, len(rules)),
		labels: make(map[string]domain.EventType),
		states: make(map[domain.EventType]*signalState, len(rules)),
	}
	for _, rule := range rules {
		if rule.Class == "" {
			continue
		}
		if _, seen := e.rules[rule.Class]; !seen {
			e.order = append(e.order, rule.Class)
		}
		e.rules[rule.Class] = rule
		e.states[rule.Class] = &signalState{}
		for _, label := range rule.Labels {
			label = normalizeLabel(label)
			if label != "" {
				e.labels[label] = rule.Class
			}
		}
	}
	return e
}

// Reset clears all per-class state, returning the engine to its
// just-constructed condition. Used when a new session begins.
func (e *Engine) Reset() {
	for _, class := range e.order {
		e.states[class] = &signalState{}
	}
}

// Tick processes the detections observed for one frame, captured at the
// given wall-clock instant. Callers must pass the capture timestamp, not
// time-of-processing, so variable inference latency cannot stretch or
// shrink persistence windows.
func (e *Engine) Tick(at time.Time, detections []Detection) []Emission {
	best := e.bestPerClass(detections)

	var emissions []Emission
	for _, class := range e.order {
		rule := e.rules[class]
		state := e.states[class]
		obs, present := best[class]
		if !present {
			// Discontinuity clears the persistence window: a flicker below
			// threshold restarts the timer from zero.
			state.firstAboveAt = nil
			continue
		}
		if state.firstAboveAt == nil {
			t := at
			state.firstAboveAt = &t
		}
		persisted := at.Sub(*state.firstAboveAt)
		if persisted < rule.PersistFor {
			continue
		}
		if !state.lastFiredAt.IsZero() && at.Sub(state.lastFiredAt) < rule.Cooldown {
			continue
		}
		emissions = append(emissions, Emission{
			Class:        class,
			At:           at,
			Score:        obs.Score,
			Label:        obs.Label,
			BBox:         obs.BBox,
			Source:       obs.Source,
			PersistedFor: persisted,
		})
		state.lastFiredAt = at
		// Restart the window so the next tick cannot re-trigger; the
		// cooldown is enforced through the persistence reset as well.
		t := at
		state.firstAboveAt = &t
	}
	return emissions
}

// bestPerClass keeps the highest-scoring detection per class; on equal
// scores the first-seen detection wins, which keeps ties deterministic.
func (e *Engine) bestPerClass(detections []Detection) map[domain.EventType]Detection {
	best := make(map[domain.EventType]Detection)
	for _, d := range detections {
		class, ok := e.labels[normalizeLabel(d.Label)]
		if !ok {
			continue
		}
		if d.Score < e.rules[class].MinConfidence {
			continue
		}
		if current, seen := best[class]; !seen || d.Score > current.Score {
			best[class] = d
		}
	}
	return best
}

func normalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
