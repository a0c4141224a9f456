package rerank

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamdigest/internal/enrich"
	"teamdigest/internal/storage"
)

func item(threadTS string, urgency float64, phases ...string) storage.DigestItem {
	return storage.DigestItem{
		ThreadTS:  threadTS,
		Channel:   "C1",
		Urgency:   urgency,
		Entities:  enrich.Entities{Phases: phases},
		CreatedAt: time.Unix(1000, 0),
	}
}

func TestRankWeightsComponents(t *testing.T) {
	r := NewReranker()
	ranked := r.Rank([]Input{
		{Item: item("100.1", 0.0), Similarity: 0.9},
		{Item: item("100.2", 1.0), Similarity: 0.9, Owned: true, PhaseMatched: true},
	})
	require.Len(t, ranked, 2)
	assert.Equal(t, "100.2", ranked[0].Item.ThreadTS)
	assert.InDelta(t, 0.55*0.9+0.20+0.15+0.10, ranked[0].Score.FinalScore, 1e-9)
	assert.InDelta(t, 0.55*0.9, ranked[1].Score.FinalScore, 1e-9)
}

func TestRankPhaseSensitivity(t *testing.T) {
	r := NewReranker()
	evtItem := item("100.1", 0.3, "EVT")
	plainItem := item("100.2", 0.3)

	inEVT := r.Rank([]Input{
		{Item: evtItem, Similarity: 0.5, PhaseMatched: PhaseMatched(evtItem, "evt")},
		{Item: plainItem, Similarity: 0.5, PhaseMatched: PhaseMatched(plainItem, "evt")},
	})
	assert.Equal(t, "100.1", inEVT[0].Item.ThreadTS)

	// Same items under a different project phase rank on similarity alone.
	inDVT := r.Rank([]Input{
		{Item: evtItem, Similarity: 0.5, PhaseMatched: PhaseMatched(evtItem, "dvt")},
		{Item: plainItem, Similarity: 0.5, PhaseMatched: PhaseMatched(plainItem, "dvt")},
	})
	assert.Equal(t, inDVT[0].Score.FinalScore, inDVT[1].Score.FinalScore)
}

func TestRankTieBreaks(t *testing.T) {
	r := NewReranker()
	older := item("100.1", 0.4)
	older.CreatedAt = time.Unix(500, 0)
	newer := item("100.2", 0.4)
	newer.CreatedAt = time.Unix(900, 0)

	ranked := r.Rank([]Input{
		{Item: older, Similarity: 0.5},
		{Item: newer, Similarity: 0.5},
	})
	assert.Equal(t, "100.2", ranked[0].Item.ThreadTS, "equal scores break by recency")

	sameTime := item("100.3", 0.4)
	sameTime.CreatedAt = newer.CreatedAt
	ranked = r.Rank([]Input{
		{Item: sameTime, Similarity: 0.5},
		{Item: newer, Similarity: 0.5},
	})
	assert.Equal(t, "100.2", ranked[0].Item.ThreadTS, "same timestamp breaks by thread_ts")
}

func TestWhyShownNamesDominantComponent(t *testing.T) {
	r := NewReranker()
	tests := []struct {
		name string
		in   Input
		want string
	}{
		{
			name: "similarity dominates",
			in:   Input{Item: item("100.1", 0.1), Similarity: 0.9},
			want: "Semantic similarity",
		},
		{
			name: "urgency dominates",
			in:   Input{Item: item("100.2", 1.0), Similarity: 0.1},
			want: "High urgency",
		},
		{
			name: "ownership dominates",
			in:   Input{Item: item("100.3", 0.0), Similarity: 0.1, Owned: true},
			want: "Ownership match",
		},
		{
			name: "phase dominates",
			in:   Input{Item: item("100.4", 0.0, "EVT"), Similarity: 0.1, PhaseMatched: true},
			want: "Phase match: EVT",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ranked := r.Rank([]Input{tt.in})
			assert.Equal(t, tt.want, ranked[0].WhyShown)
		})
	}
}

func TestOwned(t *testing.T) {
	messages := []storage.Message{
		{User: "U1", Text: "cc <@U3> for visibility"},
	}
	assert.True(t, Owned("U1", []string{"U1", "U2"}, messages), "author owns the thread")
	assert.True(t, Owned("U3", []string{"U1", "U2"}, messages), "mention counts as ownership")
	assert.False(t, Owned("U9", []string{"U1", "U2"}, messages))
}

func TestPhaseMatched(t *testing.T) {
	it := item("100.1", 0, "EVT", "DVT")
	assert.True(t, PhaseMatched(it, "evt"))
	assert.True(t, PhaseMatched(it, "DVT"))
	assert.False(t, PhaseMatched(it, "pvt"))
	assert.False(t, PhaseMatched(it, ""))
}
