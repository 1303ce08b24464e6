package research

import "github.com/mohammad-safakhou/alphy/internal/llm"

// DefaultMaxIterations bounds the discovery-reflection loop.
const DefaultMaxIterations = 3

// NextPhase is the routing function: given a state whose current phase
// just finished (its delta already applied), return the phase to run
// next. It reads state only and never mutates it.
func NextPhase(st *State, maxIterations int) Phase {
	if maxIterations < 1 {
		maxIterations = DefaultMaxIterations
	}
	switch st.Phase {
	case PhaseInit:
		return PhasePlanning

	case PhasePlanning:
		return PhaseDiscovery

	case PhaseDiscovery:
		if pendingToolCalls(st, PhaseDiscovery) {
			return PhaseDiscoveryTools
		}
		return PhaseDeepResearch

	case PhaseDiscoveryTools:
		return PhaseDiscovery

	case PhaseDeepResearch:
		if st.Cursor >= st.Candidates.Len() {
			return PhaseReflection
		}
		if pendingToolCalls(st, PhaseDeepResearch) {
			return PhaseDeepResearchTools
		}
		// next candidate, same phase
		return PhaseDeepResearch

	case PhaseDeepResearchTools:
		return PhaseDeepResearch

	case PhaseReflection:
		if !st.Sufficient && st.Scratchpad.IterationCount < maxIterations {
			return PhaseDiscovery
		}
		return PhasePatternExtraction

	case PhasePatternExtraction:
		return PhaseSynthesis

	case PhaseSynthesis:
		return PhaseDone
	}
	return PhaseDone
}

// pendingToolCalls reports whether the phase's conversation ends with an
// assistant turn that requested tools and has not been answered yet.
func pendingToolCalls(st *State, phase Phase) bool {
	msgs := st.Conversations[phase]
	if len(msgs) == 0 {
		return false
	}
	last := msgs[len(msgs)-1]
	return last.Role == llm.RoleAssistant && len(last.ToolCalls) > 0
}
