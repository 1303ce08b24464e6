package research

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Opportunity is one researched app in the final report.
type Opportunity struct {
	Name                 string   `json:"name"`
	Developer            string   `json:"developer"`
	Category             string   `json:"category"`
	Description          string   `json:"description"`
	RevenueEstimate      string   `json:"revenue_estimate"`
	DownloadsEstimate    string   `json:"downloads_estimate"`
	Rating               float64  `json:"rating"`
	CloneDifficulty      int      `json:"clone_difficulty"`
	HookFeature          string   `json:"hook_feature"`
	DifferentiationAngle string   `json:"differentiation_angle"`
	WhyViral             string   `json:"why_viral"`
	GrowthStrategy       string   `json:"growth_strategy"`
	MVPFeatures          []string `json:"mvp_features"`
	SkipFeatures         []string `json:"skip_features"`
	ResearchComplete     bool     `json:"research_complete"`
	Sources              []string `json:"sources"`
}

// Report is the structured run output.
type Report struct {
	Mode              string            `json:"mode"`
	Niche             string            `json:"niche"`
	RunDate           string            `json:"run_date"`
	Opportunities     []Opportunity     `json:"opportunities"`
	Patterns          []Pattern         `json:"patterns"`
	Gaps              []string          `json:"gaps"`
	BestOpportunities map[string]string `json:"best_opportunities"`
}

// BuildReport assembles the structured report from run state. Unknown
// estimate fields are labeled rather than left blank.
func BuildReport(st *State) *Report {
	r := &Report{
		Mode:              st.Mode,
		Niche:             strings.Join(st.Categories, ", "),
		RunDate:           time.Now().Format("2006-01-02"),
		Patterns:          st.Patterns,
		Gaps:              st.Gaps,
		BestOpportunities: st.BestOpportunities,
	}
	if r.BestOpportunities == nil {
		r.BestOpportunities = map[string]string{}
	}
	for _, c := range st.Candidates.All() {
		r.Opportunities = append(r.Opportunities, Opportunity{
			Name:                 c.Name,
			Developer:            valueOr(c.Developer, "unknown"),
			Category:             valueOr(c.Category, "unknown"),
			Description:          c.Description,
			RevenueEstimate:      valueOr(c.RevenueEstimate, "unknown"),
			DownloadsEstimate:    valueOr(c.DownloadsEstimate, "unknown"),
			Rating:               c.Rating,
			CloneDifficulty:      c.CloneDifficulty,
			HookFeature:          valueOr(c.HookFeature, "unknown"),
			DifferentiationAngle: c.DifferentiationAngle,
			WhyViral:             c.WhyViral,
			GrowthStrategy:       c.GrowthStrategy,
			MVPFeatures:          c.MVPFeatures,
			SkipFeatures:         c.SkipFeatures,
			ResearchComplete:     c.ResearchComplete,
			Sources:              c.Sources,
		})
	}
	// easiest clones first among researched apps
	sort.SliceStable(r.Opportunities, func(i, j int) bool {
		a, b := r.Opportunities[i], r.Opportunities[j]
		if a.ResearchComplete != b.ResearchComplete {
			return a.ResearchComplete
		}
		// 0 means unrated, sort those after the 1..5 scale
		ad, bd := a.CloneDifficulty, b.CloneDifficulty
		if ad == 0 {
			ad = 6
		}
		if bd == 0 {
			bd = 6
		}
		return ad < bd
	})
	return r
}

// JSON renders the report as indented JSON.
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// RenderReportText assembles a plain markdown report straight from the
// structured data, used when synthesis has nothing better to offer.
func RenderReportText(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# App Opportunity Report: %s\n\n", valueOr(r.Niche, "general"))
	fmt.Fprintf(&b, "Run date: %s | Mode: %s\n\n", r.RunDate, r.Mode)

	b.WriteString("## Opportunities\n\n")
	if len(r.Opportunities) == 0 {
		b.WriteString("No candidates were found in this run.\n\n")
	}
	for i, o := range r.Opportunities {
		fmt.Fprintf(&b, "### %d. %s\n", i+1, o.Name)
		fmt.Fprintf(&b, "- Developer: %s\n- Category: %s\n", o.Developer, o.Category)
		fmt.Fprintf(&b, "- Revenue: %s | Downloads: %s\n", o.RevenueEstimate, o.DownloadsEstimate)
		fmt.Fprintf(&b, "- Clone difficulty: %s\n", intOr(o.CloneDifficulty, "unknown"))
		fmt.Fprintf(&b, "- Hook: %s\n", o.HookFeature)
		if o.DifferentiationAngle != "" {
			fmt.Fprintf(&b, "- Differentiation: %s\n", o.DifferentiationAngle)
		}
		if len(o.MVPFeatures) > 0 {
			fmt.Fprintf(&b, "- MVP: %s\n", strings.Join(o.MVPFeatures, "; "))
		}
		b.WriteByte('\n')
	}

	if len(r.Patterns) > 0 {
		b.WriteString("## Success Patterns\n\n")
		for _, p := range r.Patterns {
			fmt.Fprintf(&b, "- **%s**: %s\n", p.Name, p.Description)
		}
		b.WriteByte('\n')
	}
	if len(r.Gaps) > 0 {
		b.WriteString("## Market Gaps\n\n")
		for _, g := range r.Gaps {
			fmt.Fprintf(&b, "- %s\n", g)
		}
		b.WriteByte('\n')
	}
	if len(r.BestOpportunities) > 0 {
		b.WriteString("## Best Bets\n\n")
		keys := make([]string, 0, len(r.BestOpportunities))
		for k := range r.BestOpportunities {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, r.BestOpportunities[k])
		}
	}
	return b.String()
}
