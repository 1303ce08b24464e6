// Package research implements the phased app-opportunity research workflow:
// a planning stage produces search sub-queries, a discovery stage finds
// candidate apps with web tools, a deep-research stage enriches each
// candidate one at a time, a reflection stage judges sufficiency and may
// loop back to discovery, and pattern extraction plus synthesis turn the
// accumulated evidence into a report.
package research

import (
	"strings"

	"github.com/mohammad-safakhou/alphy/internal/llm"
)

// Phase identifies a workflow stage.
type Phase string

const (
	PhaseInit              Phase = "init"
	PhasePlanning          Phase = "planning"
	PhaseDiscovery         Phase = "discovery"
	PhaseDiscoveryTools    Phase = "discovery_tools"
	PhaseDeepResearch      Phase = "deep_research"
	PhaseDeepResearchTools Phase = "deep_research_tools"
	PhaseReflection        Phase = "reflection"
	PhasePatternExtraction Phase = "pattern_extraction"
	PhaseSynthesis         Phase = "synthesis"
	PhaseDone              Phase = "done"
)

// SubQuery is one planned search with its rationale.
type SubQuery struct {
	Query    string `json:"query"`
	Purpose  string `json:"purpose"`
	Executed bool   `json:"executed"`
}

// Candidate is one app under investigation. Identity fields are set at
// discovery, research fields are filled by deep research.
type Candidate struct {
	Name                 string   `json:"name"`
	Developer            string   `json:"developer,omitempty"`
	Category             string   `json:"category,omitempty"`
	Description          string   `json:"description,omitempty"`
	RevenueEstimate      string   `json:"revenue_estimate,omitempty"`
	DownloadsEstimate    string   `json:"downloads_estimate,omitempty"`
	Rating               float64  `json:"rating,omitempty"`
	CloneDifficulty      int      `json:"clone_difficulty,omitempty"` // 1..5
	HookFeature          string   `json:"hook_feature,omitempty"`
	DifferentiationAngle string   `json:"differentiation_angle,omitempty"`
	WhyViral             string   `json:"why_viral,omitempty"`
	GrowthStrategy       string   `json:"growth_strategy,omitempty"`
	MVPFeatures          []string `json:"mvp_features,omitempty"`
	SkipFeatures         []string `json:"skip_features,omitempty"`
	Sources              []string `json:"sources,omitempty"`
	RawResearch          string   `json:"raw_research,omitempty"`
	ResearchComplete     bool     `json:"research_complete"`
}

// canonicalKey normalizes a candidate name for identity comparison.
func canonicalKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// CandidateSet is an ordered collection of candidates keyed by
// case-insensitive name. Insertion order is preserved.
type CandidateSet struct {
	order []string
	byKey map[string]*Candidate
}

// NewCandidateSet returns an empty set.
func NewCandidateSet() *CandidateSet {
	return &CandidateSet{byKey: map[string]*Candidate{}}
}

// Len reports the number of candidates.
func (s *CandidateSet) Len() int { return len(s.order) }

// At returns the candidate at position i, nil when out of range.
func (s *CandidateSet) At(i int) *Candidate {
	if i < 0 || i >= len(s.order) {
		return nil
	}
	return s.byKey[s.order[i]]
}

// Get looks up a candidate by name, case-insensitively.
func (s *CandidateSet) Get(name string) *Candidate {
	return s.byKey[canonicalKey(name)]
}

// Index returns the position of name, -1 when absent.
func (s *CandidateSet) Index(name string) int {
	key := canonicalKey(name)
	for i, k := range s.order {
		if k == key {
			return i
		}
	}
	return -1
}

// All returns candidates in insertion order.
func (s *CandidateSet) All() []*Candidate {
	out := make([]*Candidate, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.byKey[k])
	}
	return out
}

// Names returns candidate names in insertion order.
func (s *CandidateSet) Names() []string {
	out := make([]string, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.byKey[k].Name)
	}
	return out
}

// Scratchpad carries cross-iteration research memory.
type Scratchpad struct {
	ExecutedQueries []string `json:"executed_queries"`
	KeyFindings     []string `json:"key_findings"`
	Gaps            []string `json:"gaps_identified"`
	IterationCount  int      `json:"iteration_count"`
}

// Pattern is a recurring success trait observed across candidates.
type Pattern struct {
	Name        string   `json:"pattern"`
	Description string   `json:"description"`
	Examples    []string `json:"examples,omitempty"`
	HowToApply  string   `json:"how_to_apply,omitempty"`
}

// RunError records a non-fatal failure attributed to a phase.
type RunError struct {
	Phase   Phase  `json:"phase"`
	Message string `json:"message"`
}

// State is the full workflow state. Workers never mutate it directly;
// they return a Delta which Apply folds in through the merge rules.
type State struct {
	Phase      Phase
	Categories []string
	Mode       string

	// Conversations holds the per-phase message history. Discovery and
	// deep research accumulate tool-call turns here.
	Conversations map[Phase][]llm.Message

	Plan       []SubQuery
	Candidates *CandidateSet
	// Cursor indexes the candidate deep research is currently working on.
	Cursor     int
	Scratchpad Scratchpad

	Sufficient      bool
	ReflectionNotes string
	NeedsMoreWork   []string

	Patterns          []Pattern
	Gaps              []string
	BestOpportunities map[string]string

	ReportText string
	Report     *Report

	Errors []RunError
}

// NewState builds the initial state for a run.
func NewState(categories []string, mode string) *State {
	if mode == "" {
		mode = "general"
	}
	return &State{
		Phase:         PhaseInit,
		Categories:    categories,
		Mode:          mode,
		Conversations: map[Phase][]llm.Message{},
		Candidates:    NewCandidateSet(),
	}
}

// Incomplete returns names of candidates whose research is not finished.
func (st *State) Incomplete() []string {
	var out []string
	for _, c := range st.Candidates.All() {
		if !c.ResearchComplete {
			out = append(out, c.Name)
		}
	}
	return out
}
