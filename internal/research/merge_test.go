package research

import (
	"reflect"
	"testing"
)

func TestMergeCandidatesCaseInsensitiveIdentity(t *testing.T) {
	set := NewCandidateSet()
	MergeCandidates(set, []Candidate{
		{Name: "Bloom", Category: "habit"},
		{Name: "Cal AI"},
	})
	MergeCandidates(set, []Candidate{
		{Name: "bloom", Category: "fitness", Developer: "Bloom Labs"},
		{Name: "Quittr"},
	})

	if set.Len() != 3 {
		t.Fatalf("expected 3 candidates, got %d", set.Len())
	}
	b := set.Get("BLOOM")
	if b == nil {
		t.Fatal("expected to find bloom")
	}
	if b.Name != "Bloom" {
		t.Fatalf("first spelling should win, got %q", b.Name)
	}
	if b.Category != "habit" {
		t.Fatalf("existing field should win, got %q", b.Category)
	}
	if b.Developer != "Bloom Labs" {
		t.Fatalf("blank field should be filled, got %q", b.Developer)
	}

	names := set.Names()
	want := []string{"Bloom", "Cal AI", "Quittr"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("encounter order broken: got %v want %v", names, want)
	}
}

func TestMergeCandidatesIdempotent(t *testing.T) {
	set := NewCandidateSet()
	batch := []Candidate{{Name: "Rise", Sources: []string{"https://a"}}}
	MergeCandidates(set, batch)
	MergeCandidates(set, batch)

	if set.Len() != 1 {
		t.Fatalf("expected 1 candidate, got %d", set.Len())
	}
	if got := set.Get("rise").Sources; len(got) != 1 {
		t.Fatalf("sources should not duplicate: %v", got)
	}
}

func TestMergeScratchpad(t *testing.T) {
	cur := Scratchpad{
		ExecutedQueries: []string{"q1", "q2"},
		KeyFindings:     []string{"f1"},
		Gaps:            []string{"old gap"},
		IterationCount:  1,
	}
	delta := Scratchpad{
		ExecutedQueries: []string{"q2", "q3"},
		KeyFindings:     []string{"f1", "f2"},
		Gaps:            []string{"new gap"},
		IterationCount:  2,
	}

	out := MergeScratchpad(cur, delta)
	if want := []string{"q1", "q2", "q3"}; !reflect.DeepEqual(out.ExecutedQueries, want) {
		t.Fatalf("queries: got %v want %v", out.ExecutedQueries, want)
	}
	if want := []string{"f1", "f2"}; !reflect.DeepEqual(out.KeyFindings, want) {
		t.Fatalf("findings: got %v want %v", out.KeyFindings, want)
	}
	if want := []string{"new gap"}; !reflect.DeepEqual(out.Gaps, want) {
		t.Fatalf("gaps should replace: got %v", out.Gaps)
	}
	if out.IterationCount != 2 {
		t.Fatalf("iteration should take max, got %d", out.IterationCount)
	}

	// re-applying the same delta changes nothing
	again := MergeScratchpad(out, delta)
	if !reflect.DeepEqual(again, out) {
		t.Fatalf("merge not idempotent: %+v vs %+v", again, out)
	}
}

func TestMergeScratchpadKeepsGapsWhenDeltaSilent(t *testing.T) {
	cur := Scratchpad{Gaps: []string{"g"}}
	out := MergeScratchpad(cur, Scratchpad{IterationCount: 1})
	if !reflect.DeepEqual(out.Gaps, []string{"g"}) {
		t.Fatalf("gaps dropped: %v", out.Gaps)
	}
}

func TestApplyResetResearchAndCursor(t *testing.T) {
	st := NewState([]string{"habit"}, "general")
	MergeCandidates(st.Candidates, []Candidate{{Name: "A"}, {Name: "B"}})
	st.Candidates.Get("A").ResearchComplete = true
	st.Candidates.Get("B").ResearchComplete = true
	st.Cursor = 2

	cursor := 0
	st.Apply(Delta{
		ResetResearch: []string{"b"},
		CursorTo:      &cursor,
	})

	if st.Candidates.Get("A").ResearchComplete != true {
		t.Fatal("A should stay complete")
	}
	if st.Candidates.Get("B").ResearchComplete {
		t.Fatal("B should be reset")
	}
	if st.Cursor != 0 {
		t.Fatalf("cursor should rewind, got %d", st.Cursor)
	}
}

func TestApplyEnrichedKeepsFirstSpelling(t *testing.T) {
	st := NewState(nil, "")
	MergeCandidates(st.Candidates, []Candidate{{Name: "Cal AI", Category: "health"}})

	enriched := Candidate{Name: "cal ai", RevenueEstimate: "$100k/month", ResearchComplete: true}
	st.Apply(Delta{Enriched: &enriched, AdvanceCursor: true})

	c := st.Candidates.Get("Cal AI")
	if c == nil || c.Name != "Cal AI" {
		t.Fatalf("identity spelling lost: %+v", c)
	}
	if c.RevenueEstimate != "$100k/month" || !c.ResearchComplete {
		t.Fatalf("enrichment not applied: %+v", c)
	}
	if st.Cursor != 1 {
		t.Fatalf("cursor should advance, got %d", st.Cursor)
	}
}

func TestApplyErrorsAppend(t *testing.T) {
	st := NewState(nil, "")
	st.Apply(Delta{Errors: []RunError{{Phase: PhasePlanning, Message: "a"}}})
	st.Apply(Delta{Errors: []RunError{{Phase: PhaseDiscovery, Message: "b"}}})
	if len(st.Errors) != 2 {
		t.Fatalf("errors should append, got %d", len(st.Errors))
	}
}
