package research

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mohammad-safakhou/alphy/internal/llm"
)

var (
	fencedBlockRe   = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)
)

// ExtractJSON digs a JSON value out of free-form model output. It tries,
// in order: a fenced code block, the whole text, the first balanced
// bracketed or braced segment, and the fenced block with trailing commas
// stripped. Returns (nil, false) when nothing parses.
func ExtractJSON(text string) (any, bool) {
	var fenced string
	if m := fencedBlockRe.FindStringSubmatch(text); m != nil {
		fenced = m[1]
		if v, ok := tryUnmarshal(fenced); ok {
			return v, true
		}
	}

	if v, ok := tryUnmarshal(strings.TrimSpace(text)); ok {
		return v, true
	}

	if seg := balancedSegment(text, '[', ']'); seg != "" {
		if v, ok := tryUnmarshal(seg); ok {
			return v, true
		}
	}
	if seg := balancedSegment(text, '{', '}'); seg != "" {
		if v, ok := tryUnmarshal(seg); ok {
			return v, true
		}
	}

	if fenced != "" {
		if v, ok := tryUnmarshal(trailingCommaRe.ReplaceAllString(fenced, "$1")); ok {
			return v, true
		}
	}

	return nil, false
}

func tryUnmarshal(s string) (any, bool) {
	if s == "" {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	switch v.(type) {
	case map[string]any, []any:
		return v, true
	}
	return nil, false
}

// balancedSegment returns the first balanced open..close run in text.
func balancedSegment(text string, open, close byte) string {
	start := strings.IndexByte(text, open)
	if start < 0 {
		return ""
	}
	depth := 0
	inStr := false
	esc := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case ch == '\\':
				esc = true
			case ch == '"':
				inStr = false
			}
			continue
		}
		switch ch {
		case '"':
			inStr = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// ParseSubQueries reads a planning reply into sub-queries. It accepts a
// bare array of objects or strings, or an object with a "queries" key.
func ParseSubQueries(text string) []SubQuery {
	v, ok := ExtractJSON(text)
	if !ok {
		return nil
	}
	if m, ok := v.(map[string]any); ok {
		if qs, ok := m["queries"].([]any); ok {
			v = qs
		} else if qs, ok := m["sub_queries"].([]any); ok {
			v = qs
		}
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []SubQuery
	for _, it := range items {
		switch q := it.(type) {
		case string:
			if strings.TrimSpace(q) != "" {
				out = append(out, SubQuery{Query: strings.TrimSpace(q)})
			}
		case map[string]any:
			sq := SubQuery{
				Query:   asString(q["query"]),
				Purpose: asString(q["purpose"]),
			}
			if sq.Query != "" {
				out = append(out, sq)
			}
		}
	}
	return out
}

// ParseCandidates reads a discovery reply into candidate records. It
// accepts a bare array, an object with an "apps" key, or a single object.
func ParseCandidates(text string) []Candidate {
	v, ok := ExtractJSON(text)
	if !ok {
		return nil
	}
	if m, ok := v.(map[string]any); ok {
		if apps, ok := m["apps"].([]any); ok {
			v = apps
		} else {
			if c, ok := candidateFromMap(m); ok {
				return []Candidate{c}
			}
			return nil
		}
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []Candidate
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		if c, ok := candidateFromMap(m); ok {
			out = append(out, c)
		}
	}
	return out
}

func candidateFromMap(m map[string]any) (Candidate, bool) {
	name := asString(m["name"])
	if name == "" {
		name = asString(m["app_name"])
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Candidate{}, false
	}
	c := Candidate{
		Name:        name,
		Developer:   asString(m["developer"]),
		Category:    asString(m["category"]),
		Description: asString(m["description"]),
		HookFeature: asString(m["hook_feature"]),
	}
	for _, k := range []string{"source", "source_url", "url"} {
		if s := asString(m[k]); s != "" {
			c.Sources = append(c.Sources, s)
		}
	}
	c.Sources = unionOrdered(c.Sources, asStringSlice(m["sources"]))
	return c, true
}

// ApplyResearch folds a deep-research reply into the candidate. On a
// parseable object it fills the research fields and marks the candidate
// complete. Unparseable text lands in RawResearch and the candidate stays
// incomplete so reflection can flag it.
func ApplyResearch(c *Candidate, text string) bool {
	v, ok := ExtractJSON(text)
	m, isMap := v.(map[string]any)
	if !ok || !isMap {
		if t := strings.TrimSpace(text); t != "" {
			if c.RawResearch != "" {
				c.RawResearch += "\n"
			}
			c.RawResearch += t
		}
		return false
	}

	if s := asString(m["developer"]); s != "" {
		c.Developer = s
	}
	if s := asString(m["category"]); s != "" {
		c.Category = s
	}
	if s := asString(m["description"]); s != "" {
		c.Description = s
	}
	if s := asString(m["revenue_estimate"]); s != "" {
		c.RevenueEstimate = s
	}
	if s := asString(m["downloads_estimate"]); s != "" {
		c.DownloadsEstimate = s
	}
	if f, ok := asFloat(m["rating"]); ok {
		c.Rating = f
	}
	if n, ok := asInt(m["clone_difficulty"]); ok {
		// 1..5 scale, 0 stays unknown
		if n > 5 {
			n = 5
		}
		if n < 0 {
			n = 0
		}
		c.CloneDifficulty = n
	}
	if s := asString(m["hook_feature"]); s != "" {
		c.HookFeature = s
	}
	if s := asString(m["differentiation_angle"]); s != "" {
		c.DifferentiationAngle = s
	}
	if s := asString(m["why_viral"]); s != "" {
		c.WhyViral = s
	}
	if s := asString(m["growth_strategy"]); s != "" {
		c.GrowthStrategy = s
	}
	if ss := asStringSlice(m["mvp_features"]); len(ss) > 0 {
		c.MVPFeatures = ss
	}
	if ss := asStringSlice(m["skip_features"]); len(ss) > 0 {
		c.SkipFeatures = ss
	}
	c.Sources = unionOrdered(c.Sources, asStringSlice(m["sources"]))
	c.ResearchComplete = true
	return true
}

// ReflectionVerdict is the reflection worker's parsed judgement.
type ReflectionVerdict struct {
	Sufficient       bool
	NeedsMoreWork    []string
	SuggestedQueries []string
	Reasoning        string
}

// ParseReflection reads a reflection reply. ok is false when no usable
// JSON object was found.
func ParseReflection(text string) (ReflectionVerdict, bool) {
	v, okJSON := ExtractJSON(text)
	m, isMap := v.(map[string]any)
	if !okJSON || !isMap {
		return ReflectionVerdict{}, false
	}
	out := ReflectionVerdict{
		NeedsMoreWork:    asStringSlice(m["apps_needing_more_research"]),
		SuggestedQueries: asStringSlice(m["suggested_queries"]),
		Reasoning:        asString(m["reasoning"]),
	}
	if b, ok := m["is_sufficient"].(bool); ok {
		out.Sufficient = b
	}
	return out, true
}

// PatternFindings is the pattern extraction worker's parsed output.
type PatternFindings struct {
	Patterns          []Pattern
	Gaps              []string
	BestOpportunities map[string]string
}

// ParsePatterns reads a pattern-extraction reply.
func ParsePatterns(text string) (PatternFindings, bool) {
	v, okJSON := ExtractJSON(text)
	m, isMap := v.(map[string]any)
	if !okJSON || !isMap {
		return PatternFindings{}, false
	}
	out := PatternFindings{
		Gaps:              asStringSlice(m["gaps"]),
		BestOpportunities: map[string]string{},
	}
	if items, ok := m["patterns"].([]any); ok {
		for _, it := range items {
			pm, ok := it.(map[string]any)
			if !ok {
				continue
			}
			p := Pattern{
				Name:        asString(pm["pattern"]),
				Description: asString(pm["description"]),
				Examples:    asStringSlice(pm["examples"]),
				HowToApply:  asString(pm["how_to_apply"]),
			}
			if p.Name == "" {
				p.Name = asString(pm["name"])
			}
			if p.Name != "" || p.Description != "" {
				out.Patterns = append(out.Patterns, p)
			}
		}
	}
	if best, ok := m["best_opportunities"].(map[string]any); ok {
		for k, bv := range best {
			out.BestOpportunities[k] = asString(bv)
		}
	}
	return out, true
}

// nameStoplist rejects generic search-result words that are not app names.
var nameStoplist = map[string]bool{
	"the": true, "best": true, "top": true, "new": true,
	"app": true, "apps": true, "review": true, "download": true,
	"free": true, "how": true, "what": true, "why": true,
	"2024": true, "2025": true, "2026": true,
}

var titleSeparators = []string{" - ", " | ", " : ", " – ", " — "}

const maxHeuristicCandidates = 15

// ExtractCandidatesFromTools scrapes likely app names out of raw tool
// results when the model fails to return structured candidates. It walks
// Title:/URL: lines and keeps the leading phrase of each title; the
// tail after a separator is listing boilerplate, not an app name.
func ExtractCandidatesFromTools(msgs []llm.Message) []Candidate {
	var out []Candidate
	seen := map[string]bool{}
	awaiting := -1 // index in out whose source line has not arrived yet

	for _, msg := range msgs {
		if msg.Role != llm.RoleTool {
			continue
		}
		for _, line := range strings.Split(msg.Content, "\n") {
			line = strings.TrimSpace(line)
			if after, ok := strings.CutPrefix(line, "URL:"); ok {
				// result blocks put the URL right after the title line
				if url := strings.TrimSpace(after); url != "" && awaiting >= 0 {
					out[awaiting].Sources = []string{url}
				}
				awaiting = -1
				continue
			}
			after, ok := strings.CutPrefix(line, "Title:")
			if !ok {
				continue
			}
			awaiting = -1
			name := titleLead(strings.TrimSpace(after))
			if name == "" {
				continue
			}
			if len(out) >= maxHeuristicCandidates {
				return out
			}
			key := canonicalKey(name)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, Candidate{Name: name})
			awaiting = len(out) - 1
		}
	}
	return out
}

// titleLead cuts the title at the first separator and keeps the lead
// when it looks like an app name.
func titleLead(title string) string {
	cut := len(title)
	for _, sep := range titleSeparators {
		if i := strings.Index(title, sep); i >= 0 && i < cut {
			cut = i
		}
	}
	lead := strings.TrimSpace(title[:cut])
	if !plausibleName(lead) {
		return ""
	}
	return lead
}

func plausibleName(s string) bool {
	if len(s) < 3 || len(s) > 50 {
		return false
	}
	if nameStoplist[strings.ToLower(s)] {
		return false
	}
	if strings.Contains(strings.ToLower(s), "http") {
		return false
	}
	if len(strings.Fields(s)) > 6 {
		return false
	}
	return true
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", t))
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func asInt(v any) (int, bool) {
	if f, ok := asFloat(v); ok {
		return int(f), true
	}
	return 0, false
}

func asStringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, it := range items {
		if s := asString(it); s != "" {
			out = append(out, s)
		}
	}
	return out
}
