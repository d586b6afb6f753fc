// Package scoring computes integrity scores from event tallies. Compute is
// a pure function: recomputing a report never changes an already-correct
// score, which is what makes the cached session score safe to refresh on
// every fetch.
package scoring

import (
	"sort"

	"github.com/skaldera/vigil/internal/domain"
)

// MaxScore is the starting integrity score for every session.
const MaxScore = 100

// Rule defines the deduction applied per event type.
type Rule struct {
	// PerOccurrence is deducted for each event of the type.
	PerOccurrence int
	// Cap bounds the total deduction attributable to the type.
	Cap int
}

// RuleTable maps event types to their deduction rules. Types without a rule
// are tallied but deduct nothing, which keeps the engine forward compatible
// with event types added after this table was authored.
type RuleTable map[domain.EventType]Rule

// DefaultRules returns the stock deduction table.
func DefaultRules() RuleTable {
	return RuleTable{
		domain.EventNoFace:        {PerOccurrence: 5, Cap: 25},
		domain.EventFocusLost:     {PerOccurrence: 3, Cap: 20},
		domain.EventMultipleFaces: {PerOccurrence: 8, Cap: 30},
		domain.EventPhoneDetected: {PerOccurrence: 10, Cap: 30},
		domain.EventBookDetected:  {PerOccurrence: 7, Cap: 25},
		domain.EventExtraDevice:   {PerOccurrence: 7, Cap: 25},
	}
}

// BreakdownRow records one event type's contribution to the total deduction.
type BreakdownRow struct {
	Type      domain.EventType
	Count     int
	Deduction int
}

// Result is the scoring output for one session.
type Result struct {
	Score     int
	Breakdown []BreakdownRow
}

// Tally counts events by type.
func Tally(events []domain.Event) map[domain.EventType]int {
	counts := make(map[domain.EventType]int, len(events))
	for _, event := range events {
		counts[event.Type]++
	}
	return counts
}

// Compute derives the integrity score for the given tally. The score starts
// at MaxScore; each ruled type deducts min(perOccurrence*count, cap); the
// score floors at zero. Breakdown rows are ordered by deduction descending,
// ties broken lexicographically by type name so equal deductions always
// render in the same order.
func Compute(counts map[domain.EventType]int, rules RuleTable) Result {
	result := Result{Score: MaxScore, Breakdown: []BreakdownRow{}}
	for eventType, count := range counts {
		if count <= 0 {
			continue
		}
		rule, ok := rules[eventType]
		if !ok {
			continue
		}
		deduction := rule.PerOccurrence * count
		if deduction > rule.Cap {
			deduction = rule.Cap
		}
		result.Breakdown = append(result.Breakdown, BreakdownRow{
			Type:      eventType,
			Count:     count,
			Deduction: deduction,
		})
	}
	sort.Slice(result.Breakdown, func(i, j int) bool {
		if result.Breakdown[i].Deduction != result.Breakdown[j].Deduction {
			return result.Breakdown[i].Deduction > result.Breakdown[j].Deduction
		}
		return result.Breakdown[i].Type < result.Breakdown[j].Type
	})
	for _, row := range result.Breakdown {
		result.Score -= row.Deduction
	}
	if result.Score < 0 {
		result.Score = 0
	}
	return result
}
