package research

import (
	"testing"

	"github.com/mohammad-safakhou/alphy/internal/llm"
)

func stateInPhase(p Phase) *State {
	st := NewState([]string{"habit"}, "general")
	st.Phase = p
	return st
}

func withPendingToolCall(st *State, phase Phase) *State {
	st.Conversations[phase] = append(st.Conversations[phase], llm.Message{
		Role:      llm.RoleAssistant,
		ToolCalls: []llm.ToolCall{{ID: "1", Name: ToolWebSearch, Arguments: `{"query":"x"}`}},
	})
	return st
}

func TestNextPhaseLinearEdges(t *testing.T) {
	cases := []struct {
		from, want Phase
	}{
		{PhaseInit, PhasePlanning},
		{PhasePlanning, PhaseDiscovery},
		{PhaseDiscoveryTools, PhaseDiscovery},
		{PhaseDeepResearchTools, PhaseDeepResearch},
		{PhasePatternExtraction, PhaseSynthesis},
		{PhaseSynthesis, PhaseDone},
	}
	for _, tc := range cases {
		if got := NextPhase(stateInPhase(tc.from), 3); got != tc.want {
			t.Errorf("%s: got %s want %s", tc.from, got, tc.want)
		}
	}
}

func TestNextPhaseDiscoveryBranches(t *testing.T) {
	st := stateInPhase(PhaseDiscovery)
	if got := NextPhase(st, 3); got != PhaseDeepResearch {
		t.Fatalf("terminal discovery should go to deep research, got %s", got)
	}

	st = withPendingToolCall(stateInPhase(PhaseDiscovery), PhaseDiscovery)
	if got := NextPhase(st, 3); got != PhaseDiscoveryTools {
		t.Fatalf("pending tool calls should go to tools, got %s", got)
	}

	// answered tool calls no longer count as pending
	st.Conversations[PhaseDiscovery] = append(st.Conversations[PhaseDiscovery],
		llm.Message{Role: llm.RoleTool, Content: "results", ToolCallID: "1"})
	if got := NextPhase(st, 3); got != PhaseDeepResearch {
		t.Fatalf("answered tool calls should not route to tools, got %s", got)
	}
}

func TestNextPhaseDeepResearchBranches(t *testing.T) {
	st := stateInPhase(PhaseDeepResearch)
	MergeCandidates(st.Candidates, []Candidate{{Name: "A"}, {Name: "B"}})

	st.Cursor = 0
	if got := NextPhase(st, 3); got != PhaseDeepResearch {
		t.Fatalf("mid-list cursor should stay in deep research, got %s", got)
	}

	withPendingToolCall(st, PhaseDeepResearch)
	if got := NextPhase(st, 3); got != PhaseDeepResearchTools {
		t.Fatalf("pending tool calls should go to tools, got %s", got)
	}

	st.Conversations = map[Phase][]llm.Message{}
	st.Cursor = 2
	if got := NextPhase(st, 3); got != PhaseReflection {
		t.Fatalf("exhausted cursor should go to reflection, got %s", got)
	}
}

func TestNextPhaseReflectionLoopAndCap(t *testing.T) {
	st := stateInPhase(PhaseReflection)
	st.Sufficient = false
	st.Scratchpad.IterationCount = 1
	if got := NextPhase(st, 3); got != PhaseDiscovery {
		t.Fatalf("insufficient under cap should loop, got %s", got)
	}

	st.Sufficient = true
	if got := NextPhase(st, 3); got != PhasePatternExtraction {
		t.Fatalf("sufficient should exit the loop, got %s", got)
	}

	// the third insufficient verdict still exits: cap reached
	st.Sufficient = false
	st.Scratchpad.IterationCount = 3
	if got := NextPhase(st, 3); got != PhasePatternExtraction {
		t.Fatalf("cap reached should exit the loop, got %s", got)
	}
}

func TestNextPhaseBoundedTraversal(t *testing.T) {
	// From any phase, routing must reach done within a bounded number of
	// steps when reflection keeps being satisfied.
	st := NewState([]string{"x"}, "general")
	st.Sufficient = true
	for i := 0; i < 20; i++ {
		if st.Phase == PhaseDone {
			return
		}
		st.Phase = NextPhase(st, 3)
	}
	t.Fatalf("routing did not terminate, stuck at %s", st.Phase)
}
