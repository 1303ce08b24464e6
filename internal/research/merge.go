package research

import "github.com/mohammad-safakhou/alphy/internal/llm"

// Delta is the only way workers change state. Fields left at their zero
// value are ignored by Apply. Merging is associative and idempotent, so
// re-applying the same delta is harmless.
type Delta struct {
	Plan    []SubQuery
	PlanSet bool

	Candidates []Candidate // merged into the set
	Enriched   *Candidate  // targeted overwrite of one candidate's research fields

	AdvanceCursor bool
	CursorTo      *int
	ResetResearch []string // candidate names whose research_complete resets

	Scratchpad *Scratchpad

	Messages           []llm.Message
	MessagesPhase      Phase
	ClearConversations []Phase

	Sufficient      *bool
	ReflectionNotes string
	NeedsMoreWork   []string

	Patterns          []Pattern
	Gaps              []string
	BestOpportunities map[string]string

	ReportText string
	Report     *Report

	Errors []RunError
}

// Apply folds a delta into the state.
func (st *State) Apply(d Delta) {
	if len(d.ClearConversations) > 0 {
		for _, p := range d.ClearConversations {
			delete(st.Conversations, p)
		}
	}
	if len(d.Messages) > 0 && d.MessagesPhase != "" {
		st.Conversations[d.MessagesPhase] = append(st.Conversations[d.MessagesPhase], d.Messages...)
	}

	if d.PlanSet {
		st.Plan = d.Plan
	}
	if len(d.Candidates) > 0 {
		MergeCandidates(st.Candidates, d.Candidates)
	}
	if d.Enriched != nil {
		st.Candidates.Replace(*d.Enriched)
	}
	for _, name := range d.ResetResearch {
		if c := st.Candidates.Get(name); c != nil {
			c.ResearchComplete = false
		}
	}

	if d.CursorTo != nil {
		st.Cursor = *d.CursorTo
	} else if d.AdvanceCursor {
		st.Cursor++
	}

	if d.Scratchpad != nil {
		st.Scratchpad = MergeScratchpad(st.Scratchpad, *d.Scratchpad)
	}

	if d.Sufficient != nil {
		st.Sufficient = *d.Sufficient
	}
	if d.ReflectionNotes != "" {
		st.ReflectionNotes = d.ReflectionNotes
	}
	if d.NeedsMoreWork != nil {
		st.NeedsMoreWork = d.NeedsMoreWork
	}

	if d.Patterns != nil {
		st.Patterns = d.Patterns
	}
	if d.Gaps != nil {
		st.Gaps = d.Gaps
	}
	if d.BestOpportunities != nil {
		st.BestOpportunities = d.BestOpportunities
	}

	if d.ReportText != "" {
		st.ReportText = d.ReportText
	}
	if d.Report != nil {
		st.Report = d.Report
	}

	st.Errors = append(st.Errors, d.Errors...)
}

// MergeCandidates folds incoming candidates into the set. Names match
// case-insensitively. A known candidate keeps everything it already has,
// incoming values only fill blanks; unknown names append in encounter
// order. Sources union.
func MergeCandidates(set *CandidateSet, incoming []Candidate) {
	for _, in := range incoming {
		key := canonicalKey(in.Name)
		if key == "" {
			continue
		}
		cur, ok := set.byKey[key]
		if !ok {
			c := in
			set.byKey[key] = &c
			set.order = append(set.order, key)
			continue
		}
		fillCandidate(cur, in)
	}
}

// Replace overwrites a candidate's record wholesale, keeping the name
// spelling from its first appearance. Unknown names append.
func (s *CandidateSet) Replace(c Candidate) {
	key := canonicalKey(c.Name)
	if key == "" {
		return
	}
	if cur, ok := s.byKey[key]; ok {
		name := cur.Name
		*cur = c
		cur.Name = name
		return
	}
	cc := c
	s.byKey[key] = &cc
	s.order = append(s.order, key)
}

func fillCandidate(dst *Candidate, src Candidate) {
	if dst.Developer == "" {
		dst.Developer = src.Developer
	}
	if dst.Category == "" {
		dst.Category = src.Category
	}
	if dst.Description == "" {
		dst.Description = src.Description
	}
	if dst.RevenueEstimate == "" {
		dst.RevenueEstimate = src.RevenueEstimate
	}
	if dst.DownloadsEstimate == "" {
		dst.DownloadsEstimate = src.DownloadsEstimate
	}
	if dst.Rating == 0 {
		dst.Rating = src.Rating
	}
	if dst.CloneDifficulty == 0 {
		dst.CloneDifficulty = src.CloneDifficulty
	}
	if dst.HookFeature == "" {
		dst.HookFeature = src.HookFeature
	}
	dst.Sources = unionOrdered(dst.Sources, src.Sources)
}

// MergeScratchpad merges two scratchpads: list fields union preserving
// first-seen order, gaps replace wholesale when the delta carries any,
// and iteration count takes the max.
func MergeScratchpad(cur, delta Scratchpad) Scratchpad {
	out := Scratchpad{
		ExecutedQueries: unionOrdered(cur.ExecutedQueries, delta.ExecutedQueries),
		KeyFindings:     unionOrdered(cur.KeyFindings, delta.KeyFindings),
		Gaps:            cur.Gaps,
		IterationCount:  cur.IterationCount,
	}
	if delta.Gaps != nil {
		out.Gaps = delta.Gaps
	}
	if delta.IterationCount > out.IterationCount {
		out.IterationCount = delta.IterationCount
	}
	return out
}

func unionOrdered(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	for _, s := range b {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
