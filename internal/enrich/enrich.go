// Package enrich derives rankable digest content from a thread snapshot.
// Everything here is a pure function of the snapshot: re-running enrichment
// over historical threads reproduces identical output.
package enrich

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"teamdigest/internal/event"
)

// SourceMessage is the slice of a stored message the enricher needs.
type SourceMessage struct {
	User      string
	Text      string
	Reactions []event.Reaction
	Deleted   bool
}

// Entities are the structured references extracted from thread text.
type Entities struct {
	Materials []string `json:"materials"`
	Phases    []string `json:"phases"`
	Deadlines []string `json:"deadlines"`
	Vendors   []string `json:"vendors"`
	LeadTimes []string `json:"lead_times"`
}

// Result is the digest content derived from one thread snapshot.
type Result struct {
	Title    string
	Category string
	Labels   []string
	Entities Entities
	Urgency  float64
	Summary  string
	Tags     []string
}

// Categories form a fixed taxonomy selected by rule, not learned.
const (
	CategoryDecision     = "decision"
	CategoryRisk         = "risk"
	CategoryAction       = "action"
	CategoryStatusUpdate = "status-update"
	CategoryThreadUpdate = "thread-update"
)

const urgencyReaction = "rotating_light"

var labelKeywords = []struct {
	label    string
	keywords []string
}{
	{"DECISION", []string{"decision", "approve", "vote", "choose"}},
	{"RISK", []string{"risk", "concern", "issue", "safer"}},
	{"BLOCKER", []string{"blocker", "blocked", "cannot proceed"}},
	{"ACTION", []string{"action", "todo", "follow up", "need to"}},
	{"FYI", []string{"fyi", "for your info", "heads up"}},
}

var (
	materials = []string{"carbon fiber", "aluminum", "aluminium"}
	vendors   = []string{"vendor a", "vendor b"}
	deadlines = []string{"by friday", "by eod", "by end of day", "by monday", "by tuesday"}
)

// PhaseHints are the lifecycle stages recognized in thread text.
var PhaseHints = []string{"evt", "dvt", "pvt"}

var (
	leadTimePattern = regexp.MustCompile(`(?i)\b(\d+)\s+weeks\b`)
	phasePatterns   = buildPhasePatterns()
)

func buildPhasePatterns() map[string]*regexp.Regexp {
	patterns := make(map[string]*regexp.Regexp, len(PhaseHints))
	for _, phase := range PhaseHints {
		patterns[phase] = regexp.MustCompile(`\b` + phase + `\b`)
	}
	return patterns
}

// Thread computes the full enrichment for a thread snapshot.
func Thread(messages []SourceMessage) Result {
	text := threadText(messages)
	labels := classifyLabels(text)
	entities := extractEntities(text)
	urgency := computeUrgency(text, messages)
	return Result{
		Title:    buildTitle(entities),
		Category: selectCategory(labels),
		Labels:   labels,
		Entities: entities,
		Urgency:  urgency,
		Summary:  buildSummary(messages),
		Tags:     rationaleTags(labels, entities, urgency),
	}
}

func threadText(messages []SourceMessage) string {
	parts := make([]string, 0, len(messages))
	for _, msg := range messages {
		if msg.Deleted || msg.Text == "" {
			continue
		}
		parts = append(parts, msg.Text)
	}
	return strings.Join(parts, "\n")
}

func classifyLabels(text string) []string {
	lowered := strings.ToLower(text)
	var labels []string
	for _, entry := range labelKeywords {
		for _, keyword := range entry.keywords {
			if strings.Contains(lowered, keyword) {
				labels = append(labels, entry.label)
				break
			}
		}
	}
	return labels
}

func selectCategory(labels []string) string {
	has := func(label string) bool {
		for _, l := range labels {
			if l == label {
				return true
			}
		}
		return false
	}
	switch {
	case has("DECISION"):
		return CategoryDecision
	case has("BLOCKER"), has("RISK"):
		return CategoryRisk
	case has("ACTION"):
		return CategoryAction
	case has("FYI"):
		return CategoryStatusUpdate
	default:
		return CategoryThreadUpdate
	}
}

func extractEntities(text string) Entities {
	lowered := strings.ToLower(text)
	entities := Entities{
		Materials: []string{},
		Phases:    []string{},
		Deadlines: []string{},
		Vendors:   []string{},
		LeadTimes: []string{},
	}
	for _, mat := range materials {
		if strings.Contains(lowered, mat) {
			entities.Materials = append(entities.Materials, mat)
		}
	}
	for _, phase := range PhaseHints {
		if phasePatterns[phase].MatchString(lowered) {
			entities.Phases = append(entities.Phases, strings.ToUpper(phase))
		}
	}
	for _, vendor := range vendors {
		if strings.Contains(lowered, vendor) {
			entities.Vendors = append(entities.Vendors, titleCase(vendor))
		}
	}
	for _, deadline := range deadlines {
		if strings.Contains(lowered, deadline) {
			entities.Deadlines = append(entities.Deadlines, deadline)
		}
	}
	for _, match := range leadTimePattern.FindAllString(text, -1) {
		entities.LeadTimes = append(entities.LeadTimes, match)
	}
	return entities
}

// computeUrgency combines deadline language, explicit urgency keywords,
// decision language, phase references and alert-style reactions, capped at 1.
func computeUrgency(text string, messages []SourceMessage) float64 {
	lowered := strings.ToLower(text)
	score := 0.0
	for _, deadline := range deadlines {
		if strings.Contains(lowered, deadline) {
			score += 0.35
			break
		}
	}
	if strings.Contains(lowered, "urgent") || strings.Contains(lowered, "blocker") || strings.Contains(lowered, "blocked") {
		score += 0.25
	}
	if strings.Contains(lowered, "decision") {
		score += 0.10
	}
	for _, phase := range PhaseHints {
		if phasePatterns[phase].MatchString(lowered) {
			score += 0.15
			break
		}
	}
	for _, msg := range messages {
		if hasReaction(msg.Reactions, urgencyReaction) {
			score += 0.20
			break
		}
	}
	if score > 1.0 {
		return 1.0
	}
	return score
}

func hasReaction(reactions []event.Reaction, name string) bool {
	for _, r := range reactions {
		if r.Name == name {
			return true
		}
	}
	return false
}

func buildTitle(entities Entities) string {
	mats := make(map[string]bool, len(entities.Materials))
	for _, m := range entities.Materials {
		mats[m] = true
	}
	if mats["carbon fiber"] && (mats["aluminum"] || mats["aluminium"]) {
		return "Material change proposal: aluminum -> carbon fiber"
	}
	if len(entities.Materials) > 0 {
		unique := uniqueSorted(entities.Materials)
		return fmt.Sprintf("Material discussion: %s", strings.Join(unique, ", "))
	}
	return "Thread update"
}

// buildSummary quotes the root message and up to five replies.
func buildSummary(messages []SourceMessage) string {
	var lines []string
	for i, msg := range messages {
		if i > 5 {
			break
		}
		if msg.Deleted || msg.Text == "" {
			continue
		}
		lines = append(lines, "- "+msg.Text)
	}
	return strings.Join(lines, "\n")
}

func rationaleTags(labels []string, entities Entities, urgency float64) []string {
	tags := make([]string, 0, len(labels)+len(entities.Phases)+2)
	for _, label := range labels {
		tags = append(tags, strings.ToLower(label))
	}
	for _, phase := range entities.Phases {
		tags = append(tags, "phase:"+strings.ToLower(phase))
	}
	if len(entities.Deadlines) > 0 {
		tags = append(tags, "deadline")
	}
	if urgency >= 0.8 {
		tags = append(tags, "high-urgency")
	}
	return uniqueSorted(tags)
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func uniqueSorted(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
