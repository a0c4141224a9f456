// Package rerank orders retrieval candidates by a fixed weighted blend of
// similarity, urgency, ownership and phase alignment, and explains each
// placement by its dominant component.
package rerank

import (
	"fmt"
	"sort"
	"strings"

	"teamdigest/internal/storage"
)

// Component weights. They sum to 1 so the final score stays in [0, 1] for
// non-negative similarities.
const (
	WeightSimilarity = 0.55
	WeightUrgency    = 0.20
	WeightOwnership  = 0.15
	WeightPhase      = 0.10
)

// Input is one candidate with its precomputed signal values.
type Input struct {
	Item         storage.DigestItem
	Similarity   float64
	Owned        bool
	PhaseMatched bool
}

// Breakdown itemizes the score so callers can surface why an item ranked
// where it did.
type Breakdown struct {
	FinalScore float64 `json:"final_score"`
	Similarity float64 `json:"similarity"`
	Urgency    float64 `json:"urgency"`
	Ownership  float64 `json:"ownership"`
	PhaseMatch float64 `json:"phase_match"`
}

// Ranked is a reranked candidate ready for presentation.
type Ranked struct {
	Item     storage.DigestItem `json:"item"`
	Score    Breakdown          `json:"score_breakdown"`
	WhyShown string             `json:"why_shown"`
}

type Reranker struct{}

func NewReranker() *Reranker {
	return &Reranker{}
}

// Rank scores every input and sorts descending. Ties break by urgency, then
// item recency, then thread_ts so equal-scoring runs are reproducible.
func (r *Reranker) Rank(inputs []Input) []Ranked {
	ranked := make([]Ranked, 0, len(inputs))
	for _, in := range inputs {
		score := computeScore(in)
		ranked = append(ranked, Ranked{
			Item:     in.Item,
			Score:    score,
			WhyShown: whyShown(in, score),
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score.FinalScore != ranked[j].Score.FinalScore {
			return ranked[i].Score.FinalScore > ranked[j].Score.FinalScore
		}
		if ranked[i].Score.Urgency != ranked[j].Score.Urgency {
			return ranked[i].Score.Urgency > ranked[j].Score.Urgency
		}
		if !ranked[i].Item.CreatedAt.Equal(ranked[j].Item.CreatedAt) {
			return ranked[i].Item.CreatedAt.After(ranked[j].Item.CreatedAt)
		}
		return ranked[i].Item.ThreadTS < ranked[j].Item.ThreadTS
	})
	return ranked
}

func computeScore(in Input) Breakdown {
	ownership := 0.0
	if in.Owned {
		ownership = 1.0
	}
	phase := 0.0
	if in.PhaseMatched {
		phase = 1.0
	}
	return Breakdown{
		Similarity: in.Similarity,
		Urgency:    in.Item.Urgency,
		Ownership:  ownership,
		PhaseMatch: phase,
		FinalScore: WeightSimilarity*in.Similarity +
			WeightUrgency*in.Item.Urgency +
			WeightOwnership*ownership +
			WeightPhase*phase,
	}
}

// whyShown names the component with the largest weighted contribution.
// Similarity wins exact ties since it carries the most weight.
func whyShown(in Input, score Breakdown) string {
	best := WeightSimilarity * score.Similarity
	reason := "Semantic similarity"
	if c := WeightUrgency * score.Urgency; c > best {
		best = c
		reason = "High urgency"
	}
	if c := WeightOwnership * score.Ownership; c > best {
		best = c
		reason = "Ownership match"
	}
	if c := WeightPhase * score.PhaseMatch; c > best {
		reason = phaseReason(in.Item)
	}
	return reason
}

func phaseReason(item storage.DigestItem) string {
	if len(item.Entities.Phases) > 0 {
		return fmt.Sprintf("Phase match: %s", item.Entities.Phases[0])
	}
	return "Phase match"
}

// Owned reports whether the user authored in the thread or is mentioned in
// any of its messages.
func Owned(userID string, participants []string, messages []storage.Message) bool {
	for _, p := range participants {
		if p == userID {
			return true
		}
	}
	mention := "<@" + userID + ">"
	for _, msg := range messages {
		if strings.Contains(msg.Text, mention) {
			return true
		}
	}
	return false
}

// PhaseMatched reports whether the item references the project's current
// phase.
func PhaseMatched(item storage.DigestItem, currentPhase string) bool {
	if currentPhase == "" {
		return false
	}
	for _, phase := range item.Entities.Phases {
		if strings.EqualFold(phase, currentPhase) {
			return true
		}
	}
	return false
}
