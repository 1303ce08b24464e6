package research

import (
	"fmt"
	"strings"
	"time"
)

const planningSystemPrompt = `You are a research planner for an indie app studio. Your job is to
design web search queries that uncover successful, cloneable mobile and web apps in the given
categories.

Respond ONLY with a JSON array of objects, each with:
- "query": the exact search query to run
- "purpose": one sentence on what the query should surface

Cover app store charts, recent launches, revenue reports and viral growth stories. Prefer
queries with the current month and year so results are fresh.`

const discoverySystemPrompt = `You are an app discovery researcher. Use the available search tools
to find successful apps worth studying in the given categories. Run the planned queries, follow
promising leads, and aim for 8-10 promising apps.

When you have gathered enough results, respond with ONLY a JSON array of candidate objects:
- "name": the app's name (required)
- "developer": studio or developer if known
- "category": the app's category
- "description": one or two sentences on what it does
- "hook_feature": the single feature that makes it spread, if apparent
- "source_url": the most relevant source URL

Do not invent apps. Every candidate must come from the search results.`

const deepResearchSystemPrompt = `You are an app market analyst researching one app in depth. Use
the available tools to estimate its traction and figure out what an indie developer cloning it
should build.

When you have enough evidence, respond with ONLY a JSON object:
- "revenue_estimate": e.g. "$50k/month" or "unknown"
- "downloads_estimate": e.g. "1M+" or "unknown"
- "rating": average store rating as a number, 0 if unknown
- "clone_difficulty": 1 (a weekend) to 5 (a team for months)
- "hook_feature": the feature that makes the app spread
- "differentiation_angle": how a clone could beat it
- "why_viral": why the app took off
- "growth_strategy": how it acquired users
- "mvp_features": array of features a minimal clone must have
- "skip_features": array of features a clone should drop
- "sources": array of URLs backing the estimates

Use "unknown" rather than guessing numbers you have no evidence for.`

const reflectionSystemPrompt = `You review app research for completeness. Given the current state
of the research, judge whether it is sufficient to write a useful opportunity report.

Respond ONLY with a JSON object:
- "is_sufficient": true or false
- "apps_needing_more_research": array of app names with weak or missing research
- "suggested_queries": array of new search queries that would close the gaps
- "reasoning": one or two sentences

Be pragmatic. Perfect data does not exist; flag only gaps that materially weaken the report.`

const patternsSystemPrompt = `You analyze a portfolio of researched apps and extract the recurring
traits behind their success, plus market gaps none of them cover.

Respond ONLY with a JSON object:
- "patterns": array of {"pattern", "description", "examples", "how_to_apply"}
- "gaps": array of underserved needs spotted across the research
- "best_opportunities": object mapping a builder profile (e.g. "solo developer",
  "small team", "fast follower") to the single best opportunity for them`

const synthesisSystemPrompt = `You write the final opportunity report for an indie developer
deciding what to build next. Write clear, direct markdown. Rank the opportunities, say what to
clone, what to change and what to skip, and ground every claim in the research provided. Mark
anything unsupported as unknown rather than speculating.`

const maxFallbackQueries = 12

// FallbackQueries produces deterministic search queries when planning
// fails, stamped with the given time for freshness.
func FallbackQueries(categories []string, now time.Time) []SubQuery {
	month := now.Month().String()
	year := now.Year()
	cats := categories
	if len(cats) == 0 {
		cats = []string{"mobile"}
	}
	templates := []func(cat string) string{
		func(cat string) string { return fmt.Sprintf("best %s apps %s %d", cat, month, year) },
		func(cat string) string { return fmt.Sprintf("new %s apps trending %d", cat, year) },
		func(cat string) string { return fmt.Sprintf("top grossing %s apps iOS", cat) },
		func(cat string) string { return fmt.Sprintf("viral %s apps TikTok", cat) },
		func(cat string) string { return fmt.Sprintf("%s apps Product Hunt launch %d", cat, year) },
		func(cat string) string { return fmt.Sprintf("indie %s app success story", cat) },
	}

	// round-robin over categories so every category gets a query
	// before the cap cuts the plan off
	var out []SubQuery
	for _, tpl := range templates {
		for _, cat := range cats {
			if len(out) >= maxFallbackQueries {
				return out
			}
			out = append(out, SubQuery{Query: tpl(cat), Purpose: "fallback discovery query"})
		}
	}
	return out
}

func planningUserPrompt(st *State) string {
	return fmt.Sprintf(`Plan search queries to find successful, cloneable apps.

Categories: %s
Mode: %s
Date: %s

Return 6-12 queries as a JSON array.`,
		strings.Join(st.Categories, ", "), st.Mode, time.Now().Format("January 2006"))
}

func discoveryUserPrompt(st *State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Find successful apps in: %s\n\n", strings.Join(st.Categories, ", "))
	b.WriteString("Planned queries:\n")
	b.WriteString(renderPlan(st.Plan))
	if notes := renderScratchpad(st.Scratchpad); notes != "" {
		b.WriteString("\nResearch so far:\n")
		b.WriteString(notes)
	}
	if len(st.NeedsMoreWork) > 0 {
		fmt.Fprintf(&b, "\nPrior reflection flagged these apps as under-researched: %s\n",
			strings.Join(st.NeedsMoreWork, ", "))
	}
	b.WriteString("\nUse the search tools, then return the JSON array of candidates.")
	return b.String()
}

const discoveryContinuePrompt = `Review the tool results above. Search more if you still need
coverage, otherwise return the final JSON array of candidates.`

func deepResearchUserPrompt(c *Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research this app in depth: %s\n", c.Name)
	if c.Developer != "" {
		fmt.Fprintf(&b, "Developer: %s\n", c.Developer)
	}
	if c.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", c.Category)
	}
	if c.Description != "" {
		fmt.Fprintf(&b, "Known info: %s\n", c.Description)
	}
	if len(c.Sources) > 0 {
		fmt.Fprintf(&b, "Known sources: %s\n", strings.Join(c.Sources, ", "))
	}
	b.WriteString("\nUse the tools, then return the JSON research object.")
	return b.String()
}

const deepResearchContinuePrompt = `Review the tool results above. Gather more evidence if the
estimates are still thin, otherwise return the final JSON research object.`

func reflectionUserPrompt(st *State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Iteration %d of research into: %s\n\n",
		st.Scratchpad.IterationCount, strings.Join(st.Categories, ", "))
	b.WriteString("Candidates:\n")
	b.WriteString(renderCandidateSummaries(st.Candidates))
	if notes := renderScratchpad(st.Scratchpad); notes != "" {
		b.WriteString("\nScratchpad:\n")
		b.WriteString(notes)
	}
	b.WriteString("\nJudge sufficiency and return the JSON verdict.")
	return b.String()
}

func patternsUserPrompt(st *State) string {
	var b strings.Builder
	b.WriteString("Researched apps:\n\n")
	b.WriteString(renderCandidatesFull(st.Candidates))
	b.WriteString("\nExtract the patterns and return the JSON object.")
	return b.String()
}

func synthesisUserPrompt(st *State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write the opportunity report for: %s (mode: %s)\n\n",
		strings.Join(st.Categories, ", "), st.Mode)
	b.WriteString("Researched apps:\n")
	b.WriteString(renderCandidatesFull(st.Candidates))
	if len(st.Patterns) > 0 {
		b.WriteString("\nSuccess patterns:\n")
		for _, p := range st.Patterns {
			fmt.Fprintf(&b, "- %s: %s\n", p.Name, p.Description)
		}
	}
	if len(st.Gaps) > 0 {
		fmt.Fprintf(&b, "\nMarket gaps: %s\n", strings.Join(st.Gaps, "; "))
	}
	if len(st.BestOpportunities) > 0 {
		b.WriteString("\nBest opportunities by builder profile:\n")
		for k, v := range st.BestOpportunities {
			fmt.Fprintf(&b, "- %s: %s\n", k, v)
		}
	}
	return b.String()
}

func renderPlan(plan []SubQuery) string {
	if len(plan) == 0 {
		return "(no queries planned)\n"
	}
	var b strings.Builder
	for i, sq := range plan {
		mark := " "
		if sq.Executed {
			mark = "x"
		}
		fmt.Fprintf(&b, "%d. [%s] %s", i+1, mark, sq.Query)
		if sq.Purpose != "" {
			fmt.Fprintf(&b, " (%s)", sq.Purpose)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func renderScratchpad(sp Scratchpad) string {
	var b strings.Builder
	if len(sp.ExecutedQueries) > 0 {
		fmt.Fprintf(&b, "Executed queries: %s\n", strings.Join(sp.ExecutedQueries, "; "))
	}
	if len(sp.KeyFindings) > 0 {
		b.WriteString("Key findings:\n")
		for _, f := range sp.KeyFindings {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	if len(sp.Gaps) > 0 {
		fmt.Fprintf(&b, "Open gaps: %s\n", strings.Join(sp.Gaps, "; "))
	}
	return b.String()
}

func renderCandidateSummaries(set *CandidateSet) string {
	if set.Len() == 0 {
		return "(none)\n"
	}
	var b strings.Builder
	for _, c := range set.All() {
		status := "incomplete"
		if c.ResearchComplete {
			status = "researched"
		}
		fmt.Fprintf(&b, "- %s [%s]: revenue %s, downloads %s, hook %s\n",
			c.Name, status,
			valueOr(c.RevenueEstimate, "unknown"),
			valueOr(c.DownloadsEstimate, "unknown"),
			valueOr(c.HookFeature, "unknown"))
	}
	return b.String()
}

func renderCandidatesFull(set *CandidateSet) string {
	if set.Len() == 0 {
		return "(none)\n"
	}
	var b strings.Builder
	for _, c := range set.All() {
		fmt.Fprintf(&b, "## %s\n", c.Name)
		fmt.Fprintf(&b, "Developer: %s | Category: %s\n",
			valueOr(c.Developer, "unknown"), valueOr(c.Category, "unknown"))
		if c.Description != "" {
			fmt.Fprintf(&b, "%s\n", c.Description)
		}
		fmt.Fprintf(&b, "Revenue: %s | Downloads: %s | Rating: %s | Clone difficulty: %s\n",
			valueOr(c.RevenueEstimate, "unknown"),
			valueOr(c.DownloadsEstimate, "unknown"),
			floatOr(c.Rating, "unknown"),
			intOr(c.CloneDifficulty, "unknown"))
		fmt.Fprintf(&b, "Hook: %s\n", valueOr(c.HookFeature, "unknown"))
		if c.DifferentiationAngle != "" {
			fmt.Fprintf(&b, "Differentiation: %s\n", c.DifferentiationAngle)
		}
		if c.WhyViral != "" {
			fmt.Fprintf(&b, "Why viral: %s\n", c.WhyViral)
		}
		if c.GrowthStrategy != "" {
			fmt.Fprintf(&b, "Growth: %s\n", c.GrowthStrategy)
		}
		if len(c.MVPFeatures) > 0 {
			fmt.Fprintf(&b, "MVP features: %s\n", strings.Join(c.MVPFeatures, "; "))
		}
		if len(c.SkipFeatures) > 0 {
			fmt.Fprintf(&b, "Skip: %s\n", strings.Join(c.SkipFeatures, "; "))
		}
		if c.RawResearch != "" {
			fmt.Fprintf(&b, "Raw notes: %s\n", c.RawResearch)
		}
		if len(c.Sources) > 0 {
			fmt.Fprintf(&b, "Sources: %s\n", strings.Join(c.Sources, ", "))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func valueOr(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func floatOr(f float64, fallback string) string {
	if f == 0 {
		return fallback
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", f), "0"), ".")
}

func intOr(n int, fallback string) string {
	if n == 0 {
		return fallback
	}
	return fmt.Sprintf("%d", n)
}
