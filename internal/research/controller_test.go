package research

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/alphy/config"
	"github.com/mohammad-safakhou/alphy/internal/llm"
	"github.com/mohammad-safakhou/alphy/internal/telemetry"
)

// stubReply is one scripted model turn.
type stubReply struct {
	resp llm.Response
	err  error
}

func textReply(s string) stubReply {
	return stubReply{resp: llm.Response{
		Message: llm.Message{Role: llm.RoleAssistant, Content: s},
		Text:    s,
	}}
}

func toolReply(name, args string) stubReply {
	tc := llm.ToolCall{ID: "call-1", Name: name, Arguments: args}
	return stubReply{resp: llm.Response{
		Message:   llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{tc}},
		ToolCalls: []llm.ToolCall{tc},
	}}
}

func errReply(msg string) stubReply { return stubReply{err: errors.New(msg)} }

// stubLLM routes scripted replies by the worker's system prompt.
type stubLLM struct {
	t      *testing.T
	queues map[string][]stubReply
	calls  map[string]int
}

func newStubLLM(t *testing.T) *stubLLM {
	return &stubLLM{t: t, queues: map[string][]stubReply{}, calls: map[string]int{}}
}

func (s *stubLLM) on(worker string, replies ...stubReply) {
	s.queues[worker] = append(s.queues[worker], replies...)
}

func (s *stubLLM) Chat(ctx context.Context, model string, msgs []llm.Message, tools []llm.ToolDef) (llm.Response, error) {
	worker := classifyWorker(msgs)
	s.calls[worker]++
	q := s.queues[worker]
	if len(q) == 0 {
		s.t.Fatalf("no scripted reply left for %s worker", worker)
	}
	reply := q[0]
	s.queues[worker] = q[1:]
	return reply.resp, reply.err
}

func classifyWorker(msgs []llm.Message) string {
	if len(msgs) == 0 || msgs[0].Role != llm.RoleSystem {
		return "unknown"
	}
	sys := msgs[0].Content
	switch {
	case strings.Contains(sys, "research planner"):
		return "planning"
	case strings.Contains(sys, "app discovery researcher"):
		return "discovery"
	case strings.Contains(sys, "app market analyst"):
		return "deep"
	case strings.Contains(sys, "review app research"):
		return "reflection"
	case strings.Contains(sys, "portfolio of researched apps"):
		return "patterns"
	case strings.Contains(sys, "final opportunity report"):
		return "synthesis"
	}
	return "unknown"
}

// stubTools answers every tool call with a fixed payload.
type stubTools struct {
	out   string
	err   error
	calls []string
}

func (s *stubTools) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	s.calls = append(s.calls, name)
	return s.out, s.err
}

func (s *stubTools) Defs(names []string) []llm.ToolDef { return nil }

func testController(t *testing.T, provider llm.Provider, tools ToolRunner) *Controller {
	cfg := &config.Config{}
	cfg.Research.MaxIterations = 3
	cfg.Research.DefaultMode = "general"
	return NewController(cfg, provider, tools, telemetry.New(config.TelemetryConfig{}))
}

func TestWorkerTableWiring(t *testing.T) {
	routing := config.LLMRoutingConfig{
		Planning:     "m-planning",
		Discovery:    "m-discovery",
		DeepResearch: "m-deep",
		Reflection:   "m-reflection",
		Patterns:     "m-patterns",
		Synthesis:    "m-synthesis",
	}
	seen := map[string]bool{}
	for _, ph := range []Phase{
		PhasePlanning, PhaseDiscovery, PhaseDeepResearch,
		PhaseReflection, PhasePatternExtraction, PhaseSynthesis,
	} {
		spec, ok := workerTable[ph]
		if !ok {
			t.Fatalf("no worker wired for %s", ph)
		}
		if spec.run == nil {
			t.Fatalf("nil handler for %s", ph)
		}
		m := spec.model(routing)
		if m == "" || seen[m] {
			t.Fatalf("model routing for %s wrong: %q", ph, m)
		}
		seen[m] = true
	}
}

const researchJSON = `{"revenue_estimate":"$50k/month","downloads_estimate":"1M+","rating":4.6,
	"clone_difficulty":4,"hook_feature":"photo calorie scan","differentiation_angle":"offline mode",
	"why_viral":"TikTok demos","growth_strategy":"influencers","mvp_features":["scan","log"],
	"skip_features":["social feed"],"sources":["https://example.com/revenue"]}`

func TestRunHappyPath(t *testing.T) {
	p := newStubLLM(t)
	p.on("planning", textReply(`[{"query":"best habit apps","purpose":"charts"}]`))
	p.on("discovery",
		toolReply(ToolWebSearch, `{"query":"best habit apps"}`),
		textReply(`[{"name":"Cal AI","category":"health","source_url":"https://a"},{"name":"Quittr"}]`),
	)
	p.on("deep",
		toolReply(ToolEstimateRevenue, `{"app_name":"Cal AI"}`),
		textReply(researchJSON),
		textReply(researchJSON),
	)
	p.on("reflection", textReply(`{"is_sufficient":true,"reasoning":"solid coverage"}`))
	p.on("patterns", textReply(`{"patterns":[{"pattern":"AI hook","description":"one magic feature"}],
		"gaps":["no offline app"],"best_opportunities":{"solo developer":"clone Quittr"}}`))
	p.on("synthesis", textReply("# Opportunity Report\nBuild the clone."))

	tools := &stubTools{out: "Title: Cal AI - Calorie Scanner\nURL: https://a\nContent: snippet"}
	ctrl := testController(t, p, tools)

	st, err := ctrl.Run(context.Background(), Request{RunID: "r1", Categories: []string{"habit"}})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if st.Phase != PhaseDone {
		t.Fatalf("expected done, got %s", st.Phase)
	}
	if st.Candidates.Len() != 2 {
		t.Fatalf("expected 2 candidates, got %d", st.Candidates.Len())
	}
	for _, c := range st.Candidates.All() {
		if !c.ResearchComplete {
			t.Fatalf("candidate %s not researched", c.Name)
		}
	}
	if st.Scratchpad.IterationCount != 1 {
		t.Fatalf("expected 1 iteration, got %d", st.Scratchpad.IterationCount)
	}
	if len(st.Scratchpad.ExecutedQueries) == 0 {
		t.Fatal("executed queries not recorded")
	}
	if len(tools.calls) != 2 {
		t.Fatalf("expected 2 tool calls, got %v", tools.calls)
	}
	if !strings.Contains(st.ReportText, "Opportunity Report") {
		t.Fatalf("report text missing: %q", st.ReportText)
	}
	if st.Report == nil || len(st.Report.Opportunities) != 2 {
		t.Fatalf("structured report wrong: %+v", st.Report)
	}
	if len(st.Errors) != 0 {
		t.Fatalf("unexpected errors: %+v", st.Errors)
	}
	status, ok := ctrl.Status("r1")
	if !ok || !status.Done || status.CandidatesFound != 2 {
		t.Fatalf("status wrong: %+v", status)
	}
}

func TestRunScrapesCandidatesWhenDiscoveryReturnsProse(t *testing.T) {
	p := newStubLLM(t)
	p.on("planning", textReply(`["q1"]`))
	p.on("discovery",
		toolReply(ToolWebSearch, `{"query":"q1"}`),
		textReply("I found a few promising apps but cannot format them right now."),
	)
	p.on("deep", textReply(researchJSON), textReply(researchJSON))
	p.on("reflection", textReply(`{"is_sufficient":true}`))
	p.on("patterns", textReply(`{"patterns":[],"gaps":[]}`))
	p.on("synthesis", textReply("report"))

	tools := &stubTools{out: "Title: Bloom - Habit Tracker\nURL: https://apps.apple.com/bloom\nContent: x"}
	ctrl := testController(t, p, tools)

	st, err := ctrl.Run(context.Background(), Request{Categories: []string{"habit"}})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if st.Candidates.Len() == 0 {
		t.Fatal("expected scraped candidates")
	}
	if st.Candidates.Get("Bloom") == nil {
		t.Fatalf("expected Bloom among %v", st.Candidates.Names())
	}
	found := false
	for _, e := range st.Errors {
		if e.Phase == PhaseDiscovery && strings.Contains(e.Message, "scraped") {
			found = true
		}
	}
	if !found {
		t.Fatalf("scrape fallback should be recorded: %+v", st.Errors)
	}
}

func TestRunIterationCap(t *testing.T) {
	p := newStubLLM(t)
	p.on("planning", textReply(`["q1"]`))
	// three discovery passes, reflection never satisfied
	for i := 0; i < 3; i++ {
		p.on("discovery", textReply(`[{"name":"Cal AI"}]`))
		p.on("deep", textReply(researchJSON))
		p.on("reflection", textReply(`{"is_sufficient":false,
			"apps_needing_more_research":["Cal AI"],"suggested_queries":["Cal AI revenue"]}`))
	}
	p.on("patterns", textReply(`{"patterns":[],"gaps":[]}`))
	p.on("synthesis", textReply("report"))

	ctrl := testController(t, p, &stubTools{out: "Title: x"})
	st, err := ctrl.Run(context.Background(), Request{Categories: []string{"habit"}})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if got := p.calls["discovery"]; got != 3 {
		t.Fatalf("expected 3 discovery passes, got %d", got)
	}
	if got := p.calls["reflection"]; got != 3 {
		t.Fatalf("expected 3 reflection verdicts, got %d", got)
	}
	if st.Scratchpad.IterationCount != 3 {
		t.Fatalf("iteration count: got %d", st.Scratchpad.IterationCount)
	}
	if st.Phase != PhaseDone {
		t.Fatalf("run should finish despite insufficiency, got %s", st.Phase)
	}
}

func TestRunPlanningFailureFallsBack(t *testing.T) {
	p := newStubLLM(t)
	p.on("planning", errReply("model down"))
	p.on("discovery", textReply(`[{"name":"Cal AI"}]`))
	p.on("deep", textReply(researchJSON))
	p.on("reflection", textReply(`{"is_sufficient":true}`))
	p.on("patterns", textReply(`{"patterns":[],"gaps":[]}`))
	p.on("synthesis", textReply("report"))

	ctrl := testController(t, p, &stubTools{})
	st, err := ctrl.Run(context.Background(), Request{Categories: []string{"habit"}})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(st.Plan) == 0 {
		t.Fatal("fallback plan missing")
	}
	hasErr := false
	for _, e := range st.Errors {
		if e.Phase == PhasePlanning {
			hasErr = true
		}
	}
	if !hasErr {
		t.Fatalf("planning failure should be recorded: %+v", st.Errors)
	}
}

func TestRunDeepResearchFailureAdvancesCursor(t *testing.T) {
	p := newStubLLM(t)
	p.on("planning", textReply(`["q1"]`))
	p.on("discovery", textReply(`[{"name":"Cal AI"},{"name":"Quittr"}]`))
	p.on("deep", errReply("model down"), textReply(researchJSON))
	p.on("reflection", textReply(`{"is_sufficient":true}`))
	p.on("patterns", textReply(`{"patterns":[],"gaps":[]}`))
	p.on("synthesis", textReply("report"))

	ctrl := testController(t, p, &stubTools{})
	st, err := ctrl.Run(context.Background(), Request{Categories: []string{"habit"}})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if st.Candidates.Get("Cal AI").ResearchComplete {
		t.Fatal("failed candidate must stay incomplete")
	}
	if !st.Candidates.Get("Quittr").ResearchComplete {
		t.Fatal("later candidate should still be researched")
	}
	hasErr := false
	for _, e := range st.Errors {
		if e.Phase == PhaseDeepResearch && strings.Contains(e.Message, "Cal AI") {
			hasErr = true
		}
	}
	if !hasErr {
		t.Fatalf("deep research failure should be recorded: %+v", st.Errors)
	}
}

func TestRunReflectionFailureFailsOpen(t *testing.T) {
	p := newStubLLM(t)
	p.on("planning", textReply(`["q1"]`))
	p.on("discovery", textReply(`[{"name":"Cal AI"}]`))
	p.on("deep", textReply(researchJSON))
	p.on("reflection", errReply("model down"))
	p.on("patterns", textReply(`{"patterns":[],"gaps":[]}`))
	p.on("synthesis", textReply("report"))

	ctrl := testController(t, p, &stubTools{})
	st, err := ctrl.Run(context.Background(), Request{Categories: []string{"habit"}})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !st.Sufficient {
		t.Fatal("reflection failure must default to sufficient")
	}
	if st.Phase != PhaseDone {
		t.Fatalf("run should complete, got %s", st.Phase)
	}
	if p.calls["discovery"] != 1 {
		t.Fatalf("reflection failure must not loop, discovery ran %d times", p.calls["discovery"])
	}
}

func TestRunSynthesisFailureStillProducesReport(t *testing.T) {
	p := newStubLLM(t)
	p.on("planning", textReply(`["q1"]`))
	p.on("discovery", textReply(`[{"name":"Cal AI"}]`))
	p.on("deep", textReply(researchJSON))
	p.on("reflection", textReply(`{"is_sufficient":true}`))
	p.on("patterns", textReply(`{"patterns":[],"gaps":[]}`))
	p.on("synthesis", errReply("model down"))

	ctrl := testController(t, p, &stubTools{})
	st, err := ctrl.Run(context.Background(), Request{Categories: []string{"habit"}})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if st.ReportText == "" {
		t.Fatal("assembled report text must exist")
	}
	if st.Report == nil || len(st.Report.Opportunities) != 1 {
		t.Fatalf("structured report missing: %+v", st.Report)
	}
	if !strings.Contains(st.ReportText, "Cal AI") {
		t.Fatalf("assembled report should list candidates: %q", st.ReportText)
	}
}

func TestRunToolFailureIsNonFatal(t *testing.T) {
	p := newStubLLM(t)
	p.on("planning", textReply(`["q1"]`))
	p.on("discovery",
		toolReply(ToolWebSearch, `{"query":"q1"}`),
		textReply(`[{"name":"Cal AI"}]`),
	)
	p.on("deep", textReply(researchJSON))
	p.on("reflection", textReply(`{"is_sufficient":true}`))
	p.on("patterns", textReply(`{"patterns":[],"gaps":[]}`))
	p.on("synthesis", textReply("report"))

	tools := &stubTools{err: errors.New("search provider down")}
	ctrl := testController(t, p, tools)
	st, err := ctrl.Run(context.Background(), Request{Categories: []string{"habit"}})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if st.Phase != PhaseDone {
		t.Fatalf("run should complete, got %s", st.Phase)
	}
	hasErr := false
	for _, e := range st.Errors {
		if e.Phase == PhaseDiscovery && strings.Contains(e.Message, "search provider down") {
			hasErr = true
		}
	}
	if !hasErr {
		t.Fatalf("tool failure should be recorded: %+v", st.Errors)
	}
	// the model still saw a tool message it could react to
	msgs := st.Conversations[PhaseDiscovery]
	foundToolMsg := false
	for _, m := range msgs {
		if m.Role == llm.RoleTool && strings.Contains(m.Content, "failed") {
			foundToolMsg = true
		}
	}
	if !foundToolMsg {
		t.Fatal("tool error should be surfaced to the model as a tool message")
	}
}

func TestRunContextCancellation(t *testing.T) {
	p := newStubLLM(t)
	p.on("planning", textReply(`["q1"]`))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ctrl := testController(t, p, &stubTools{})
	_, err := ctrl.Run(ctx, Request{Categories: []string{"habit"}})
	if err == nil {
		t.Fatal("cancelled run must return an error")
	}
}
