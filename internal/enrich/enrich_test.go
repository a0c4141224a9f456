package enrich

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"teamdigest/internal/event"
)

func msgs(texts ...string) []SourceMessage {
	out := make([]SourceMessage, len(texts))
	for i, text := range texts {
		out[i] = SourceMessage{User: fmt.Sprintf("U%d", i+1), Text: text}
	}
	return out
}

func TestSelectCategory(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"decision wins over everything", "decision needed, this is a blocker", CategoryDecision},
		{"blocker maps to risk", "blocker: cannot proceed", CategoryRisk},
		{"risk keyword", "i have a concern about tolerances", CategoryRisk},
		{"action keyword", "todo: update the drawing", CategoryAction},
		{"fyi", "fyi the lab is closed monday", CategoryStatusUpdate},
		{"nothing matches", "looks great", CategoryThreadUpdate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Thread(msgs(tt.text))
			assert.Equal(t, tt.want, result.Category)
		})
	}
}

func TestComputeUrgency(t *testing.T) {
	tests := []struct {
		name     string
		messages []SourceMessage
		want     float64
	}{
		{"empty", msgs("nothing special"), 0},
		{"deadline", msgs("need this by friday"), 0.35},
		{"urgent keyword", msgs("urgent please look"), 0.25},
		{"decision", msgs("decision time"), 0.10},
		{"phase hint", msgs("evt build starts"), 0.15},
		{"deadline counted once", msgs("by friday or by eod"), 0.35},
		{
			name: "alert reaction",
			messages: []SourceMessage{{
				User: "U1", Text: "check this",
				Reactions: []event.Reaction{{Name: "rotating_light", Count: 2}},
			}},
			want: 0.20,
		},
		{
			name: "capped at one",
			messages: []SourceMessage{{
				User: "U1",
				Text: "urgent decision needed by friday, blocker for evt",
				Reactions: []event.Reaction{{Name: "rotating_light", Count: 1}},
			}},
			want: 1.0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Thread(tt.messages)
			assert.InDelta(t, tt.want, result.Urgency, 1e-9)
		})
	}
}

func TestExtractEntities(t *testing.T) {
	result := Thread(msgs(
		"Proposal: move the bracket from aluminum to carbon fiber before EVT.",
		"Vendor A quoted 6 weeks lead time, need sign-off by Friday.",
	))

	assert.ElementsMatch(t, []string{"aluminum", "carbon fiber"}, result.Entities.Materials)
	assert.Equal(t, []string{"EVT"}, result.Entities.Phases)
	assert.Equal(t, []string{"Vendor A"}, result.Entities.Vendors)
	assert.Equal(t, []string{"by friday"}, result.Entities.Deadlines)
	assert.Equal(t, []string{"6 weeks"}, result.Entities.LeadTimes)
}

func TestPhaseMatchIsWordBounded(t *testing.T) {
	result := Thread(msgs("the event went well"))
	assert.Empty(t, result.Entities.Phases, "evt must not match inside event")
}

func TestBuildTitle(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"material change", "swap aluminum for carbon fiber", "Material change proposal: aluminum -> carbon fiber"},
		{"single material", "carbon fiber layup question", "Material discussion: carbon fiber"},
		{"no materials", "standup notes", "Thread update"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Thread(msgs(tt.text)).Title)
		})
	}
}

func TestSummaryCapsReplies(t *testing.T) {
	messages := msgs("root", "r1", "r2", "r3", "r4", "r5", "r6", "r7")
	messages[2].Deleted = true

	result := Thread(messages)
	assert.Equal(t, "- root\n- r1\n- r3\n- r4\n- r5", result.Summary,
		"root plus early replies, deleted messages excluded")
}

func TestRationaleTags(t *testing.T) {
	result := Thread(msgs("urgent decision needed by friday, blocker for evt"))
	assert.Equal(t,
		[]string{"blocker", "deadline", "decision", "high-urgency", "phase:evt"},
		result.Tags)
}

func TestEnrichmentIsDeterministic(t *testing.T) {
	input := msgs(
		"Decision needed: aluminum vs carbon fiber for the EVT bracket",
		"Vendor B says 4 weeks",
	)
	first := Thread(input)
	second := Thread(input)
	assert.Equal(t, first, second)
}
