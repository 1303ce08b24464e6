package research

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/alphy/config"
	"github.com/mohammad-safakhou/alphy/internal/llm"
)

// workerSpec binds a phase to its model route, tool set and handler.
// The table is the single place a new phase gets wired.
type workerSpec struct {
	model func(config.LLMRoutingConfig) string
	tools []string
	run   func(*Controller, context.Context, *State) Delta
}

// Populated in init: the method values reference invoke, which reads
// the table back for model routing, so a literal initializer would
// cycle.
var workerTable map[Phase]workerSpec

func init() {
	workerTable = map[Phase]workerSpec{
		PhasePlanning: {
			model: func(r config.LLMRoutingConfig) string { return r.Planning },
			run:   (*Controller).planningWorker,
		},
		PhaseDiscovery: {
			model: func(r config.LLMRoutingConfig) string { return r.Discovery },
			tools: discoveryTools,
			run:   (*Controller).discoveryWorker,
		},
		PhaseDeepResearch: {
			model: func(r config.LLMRoutingConfig) string { return r.DeepResearch },
			tools: deepResearchTools,
			run:   (*Controller).deepResearchWorker,
		},
		PhaseReflection: {
			model: func(r config.LLMRoutingConfig) string { return r.Reflection },
			run:   (*Controller).reflectionWorker,
		},
		PhasePatternExtraction: {
			model: func(r config.LLMRoutingConfig) string { return r.Patterns },
			run:   (*Controller).patternsWorker,
		},
		PhaseSynthesis: {
			model: func(r config.LLMRoutingConfig) string { return r.Synthesis },
			run:   (*Controller).synthesisWorker,
		},
	}
}

// invoke runs a chat completion with the phase's routed model and tools.
func (c *Controller) invoke(ctx context.Context, phase Phase, msgs []llm.Message) (llm.Response, error) {
	spec := workerTable[phase]
	model := ""
	if spec.model != nil {
		model = spec.model(c.cfg.LLM.Routing)
	}
	if model == "" {
		model = c.cfg.LLM.Routing.Fallback
	}
	var defs []llm.ToolDef
	if len(spec.tools) > 0 {
		defs = c.tools.Defs(spec.tools)
	}
	resp, err := c.provider.Chat(ctx, model, msgs, defs)
	c.tele.RecordLLMCall(string(phase), model, resp.InputTokens, resp.OutputTokens, resp.Cost, err)
	return resp, err
}

func (c *Controller) planningWorker(ctx context.Context, st *State) Delta {
	msgs := []llm.Message{
		llm.SystemMessage(planningSystemPrompt),
		llm.UserMessage(planningUserPrompt(st)),
	}
	resp, err := c.invoke(ctx, PhasePlanning, msgs)
	if err != nil {
		c.logger.Printf("planning failed, using fallback queries: %v", err)
		return Delta{
			Plan:    FallbackQueries(st.Categories, time.Now()),
			PlanSet: true,
			Errors:  []RunError{{Phase: PhasePlanning, Message: err.Error()}},
		}
	}
	plan := ParseSubQueries(resp.Text)
	if len(plan) == 0 {
		c.logger.Printf("planning returned no queries, using fallback")
		return Delta{
			Plan:    FallbackQueries(st.Categories, time.Now()),
			PlanSet: true,
			Errors:  []RunError{{Phase: PhasePlanning, Message: "no queries in planning reply"}},
		}
	}
	c.logger.Printf("planned %d queries", len(plan))
	return Delta{Plan: plan, PlanSet: true}
}

func (c *Controller) discoveryWorker(ctx context.Context, st *State) Delta {
	history := st.Conversations[PhaseDiscovery]
	var newMsgs []llm.Message
	if len(history) == 0 {
		newMsgs = []llm.Message{
			llm.SystemMessage(discoverySystemPrompt),
			llm.UserMessage(discoveryUserPrompt(st)),
		}
	} else if history[len(history)-1].Role == llm.RoleTool {
		newMsgs = []llm.Message{llm.UserMessage(discoveryContinuePrompt)}
	}
	full := append(append([]llm.Message{}, history...), newMsgs...)

	resp, err := c.invoke(ctx, PhaseDiscovery, full)
	if err != nil {
		// fail open: count the iteration so the loop still terminates
		return Delta{
			Scratchpad: &Scratchpad{IterationCount: st.Scratchpad.IterationCount + 1},
			Errors:     []RunError{{Phase: PhaseDiscovery, Message: err.Error()}},
		}
	}

	newMsgs = append(newMsgs, resp.Message)
	d := Delta{MessagesPhase: PhaseDiscovery, Messages: newMsgs}
	if len(resp.ToolCalls) > 0 {
		return d
	}

	// terminal reply: collect candidates and close out the iteration
	cands := ParseCandidates(resp.Text)
	if len(cands) == 0 {
		cands = ExtractCandidatesFromTools(full)
		if len(cands) > 0 {
			d.Errors = append(d.Errors, RunError{
				Phase:   PhaseDiscovery,
				Message: fmt.Sprintf("no structured candidates, scraped %d names from tool results", len(cands)),
			})
		} else {
			d.Errors = append(d.Errors, RunError{
				Phase:   PhaseDiscovery,
				Message: "discovery produced no candidates",
			})
		}
	}
	d.Candidates = cands

	executed := make([]SubQuery, len(st.Plan))
	var queries []string
	for i, sq := range st.Plan {
		sq.Executed = true
		executed[i] = sq
		queries = append(queries, sq.Query)
	}
	d.Plan = executed
	d.PlanSet = true
	d.Scratchpad = &Scratchpad{
		ExecutedQueries: queries,
		KeyFindings: []string{
			fmt.Sprintf("discovery pass %d found %d candidates", st.Scratchpad.IterationCount+1, len(cands)),
		},
		IterationCount: st.Scratchpad.IterationCount + 1,
	}
	c.logger.Printf("discovery pass %d: %d candidates", st.Scratchpad.IterationCount+1, len(cands))
	return d
}

func (c *Controller) deepResearchWorker(ctx context.Context, st *State) Delta {
	cand := st.Candidates.At(st.Cursor)
	if cand == nil {
		return Delta{ClearConversations: []Phase{PhaseDeepResearch}}
	}
	if cand.ResearchComplete {
		return Delta{AdvanceCursor: true, ClearConversations: []Phase{PhaseDeepResearch}}
	}

	history := st.Conversations[PhaseDeepResearch]
	var newMsgs []llm.Message
	if len(history) == 0 {
		newMsgs = []llm.Message{
			llm.SystemMessage(deepResearchSystemPrompt),
			llm.UserMessage(deepResearchUserPrompt(cand)),
		}
	} else if history[len(history)-1].Role == llm.RoleTool {
		newMsgs = []llm.Message{llm.UserMessage(deepResearchContinuePrompt)}
	}
	full := append(append([]llm.Message{}, history...), newMsgs...)

	resp, err := c.invoke(ctx, PhaseDeepResearch, full)
	if err != nil {
		// leave the candidate incomplete and move on
		return Delta{
			AdvanceCursor:      true,
			ClearConversations: []Phase{PhaseDeepResearch},
			Errors:             []RunError{{Phase: PhaseDeepResearch, Message: fmt.Sprintf("%s: %v", cand.Name, err)}},
		}
	}

	if len(resp.ToolCalls) > 0 {
		newMsgs = append(newMsgs, resp.Message)
		return Delta{MessagesPhase: PhaseDeepResearch, Messages: newMsgs}
	}

	enriched := *cand
	parsed := ApplyResearch(&enriched, resp.Text)
	d := Delta{
		Enriched:           &enriched,
		AdvanceCursor:      true,
		ClearConversations: []Phase{PhaseDeepResearch},
	}
	if parsed {
		d.Scratchpad = &Scratchpad{KeyFindings: []string{
			fmt.Sprintf("%s: revenue %s, clone difficulty %s",
				enriched.Name,
				valueOr(enriched.RevenueEstimate, "unknown"),
				intOr(enriched.CloneDifficulty, "unknown")),
		}}
	} else {
		d.Errors = []RunError{{
			Phase:   PhaseDeepResearch,
			Message: fmt.Sprintf("%s: unparseable research reply", cand.Name),
		}}
	}
	c.logger.Printf("deep research done for %q (parsed=%v)", cand.Name, parsed)
	return d
}

func (c *Controller) reflectionWorker(ctx context.Context, st *State) Delta {
	msgs := []llm.Message{
		llm.SystemMessage(reflectionSystemPrompt),
		llm.UserMessage(reflectionUserPrompt(st)),
	}
	resp, err := c.invoke(ctx, PhaseReflection, msgs)
	if err != nil {
		// fail open: a broken reviewer must not loop the run forever
		suff := true
		return Delta{
			Sufficient:      &suff,
			ReflectionNotes: "reflection unavailable, continuing with current research",
			Errors:          []RunError{{Phase: PhaseReflection, Message: err.Error()}},
		}
	}
	verdict, ok := ParseReflection(resp.Text)
	if !ok {
		suff := true
		return Delta{
			Sufficient:      &suff,
			ReflectionNotes: "reflection reply unparseable, continuing with current research",
			Errors:          []RunError{{Phase: PhaseReflection, Message: "unparseable reflection reply"}},
		}
	}

	d := Delta{
		Sufficient:      &verdict.Sufficient,
		ReflectionNotes: verdict.Reasoning,
		NeedsMoreWork:   verdict.NeedsMoreWork,
	}
	if !verdict.Sufficient && st.Scratchpad.IterationCount < c.maxIterations {
		// set up the next discovery pass
		if len(verdict.SuggestedQueries) > 0 {
			var plan []SubQuery
			for _, q := range verdict.SuggestedQueries {
				plan = append(plan, SubQuery{Query: q, Purpose: "close research gap"})
			}
			d.Plan = plan
			d.PlanSet = true
		}
		d.ResetResearch = verdict.NeedsMoreWork
		d.ClearConversations = []Phase{PhaseDiscovery}
		cursor := firstIncompleteAfterReset(st, verdict.NeedsMoreWork)
		d.CursorTo = &cursor
		d.Scratchpad = &Scratchpad{Gaps: verdict.NeedsMoreWork}
	}
	c.logger.Printf("reflection: sufficient=%v needsMore=%d", verdict.Sufficient, len(verdict.NeedsMoreWork))
	return d
}

// firstIncompleteAfterReset finds where the deep-research cursor should
// rewind to once the named candidates lose their completed status.
func firstIncompleteAfterReset(st *State, resetNames []string) int {
	reset := make(map[string]bool, len(resetNames))
	for _, n := range resetNames {
		reset[canonicalKey(n)] = true
	}
	for i, c := range st.Candidates.All() {
		if !c.ResearchComplete || reset[canonicalKey(c.Name)] {
			return i
		}
	}
	return st.Candidates.Len()
}

func (c *Controller) patternsWorker(ctx context.Context, st *State) Delta {
	msgs := []llm.Message{
		llm.SystemMessage(patternsSystemPrompt),
		llm.UserMessage(patternsUserPrompt(st)),
	}
	resp, err := c.invoke(ctx, PhasePatternExtraction, msgs)
	if err != nil {
		return Delta{Errors: []RunError{{Phase: PhasePatternExtraction, Message: err.Error()}}}
	}
	findings, ok := ParsePatterns(resp.Text)
	if !ok {
		return Delta{Errors: []RunError{{Phase: PhasePatternExtraction, Message: "unparseable patterns reply"}}}
	}
	c.logger.Printf("extracted %d patterns, %d gaps", len(findings.Patterns), len(findings.Gaps))
	return Delta{
		Patterns:          findings.Patterns,
		Gaps:              findings.Gaps,
		BestOpportunities: findings.BestOpportunities,
	}
}

func (c *Controller) synthesisWorker(ctx context.Context, st *State) Delta {
	d := Delta{Report: BuildReport(st)}
	msgs := []llm.Message{
		llm.SystemMessage(synthesisSystemPrompt),
		llm.UserMessage(synthesisUserPrompt(st)),
	}
	resp, err := c.invoke(ctx, PhaseSynthesis, msgs)
	if err != nil || resp.Text == "" {
		// the run always ends with a report, synthesized or assembled
		d.ReportText = RenderReportText(d.Report)
		if err != nil {
			d.Errors = []RunError{{Phase: PhaseSynthesis, Message: err.Error()}}
		}
		return d
	}
	d.ReportText = resp.Text
	return d
}
