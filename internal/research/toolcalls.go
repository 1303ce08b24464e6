package research

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/alphy/internal/llm"
	"github.com/mohammad-safakhou/alphy/tools/web_fetch"
	"github.com/mohammad-safakhou/alphy/tools/web_search"
)

// Tool names exposed to the model.
const (
	ToolWebSearch         = "web_search"
	ToolAppStoreSearch    = "app_store_search"
	ToolProductHuntSearch = "product_hunt_search"
	ToolEstimateRevenue   = "estimate_app_revenue"
	ToolSocialBuzz        = "social_buzz_search"
	ToolReadPage          = "read_page"
)

// discoveryTools and deepResearchTools bind tool subsets to phases.
var (
	discoveryTools    = []string{ToolWebSearch, ToolAppStoreSearch, ToolProductHuntSearch}
	deepResearchTools = []string{ToolWebSearch, ToolAppStoreSearch, ToolEstimateRevenue, ToolSocialBuzz, ToolReadPage}
)

// ToolRunner executes named tools and reports their definitions.
type ToolRunner interface {
	Call(ctx context.Context, name string, args map[string]any) (string, error)
	Defs(names []string) []llm.ToolDef
}

// Registry is the production ToolRunner backed by web search and fetch.
type Registry struct {
	searcher   web_search.WebSearcher
	fetcher    web_fetch.WebFetcher
	maxResults int
	logger     *log.Logger
}

func NewRegistry(searcher web_search.WebSearcher, fetcher web_fetch.WebFetcher, maxResults int) *Registry {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &Registry{
		searcher:   searcher,
		fetcher:    fetcher,
		maxResults: maxResults,
		logger:     log.New(log.Writer(), "[TOOLS] ", log.LstdFlags),
	}
}

func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	switch name {
	case ToolWebSearch:
		return r.search(ctx, strArg(args, "query"), nil)
	case ToolAppStoreSearch:
		q := strArg(args, "query")
		return r.search(ctx, q+" iOS app App Store", []string{"apps.apple.com"})
	case ToolProductHuntSearch:
		q := strArg(args, "query")
		return r.search(ctx, q+" Product Hunt launch", []string{"producthunt.com"})
	case ToolEstimateRevenue:
		app := strArg(args, "app_name")
		return r.multiSearch(ctx, []string{
			app + " app revenue estimate",
			app + " app downloads statistics",
			app + " app annual revenue indie",
		})
	case ToolSocialBuzz:
		app := strArg(args, "app_name")
		return r.multiSearch(ctx, []string{
			app + " app TikTok viral",
			app + " app reddit review",
			app + " app twitter buzz",
		})
	case ToolReadPage:
		return r.readPage(ctx, strArg(args, "url"))
	default:
		return "", fmt.Errorf("unknown tool %q", name)
	}
}

func (r *Registry) search(ctx context.Context, q string, sites []string) (string, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return "", fmt.Errorf("empty query")
	}
	r.logger.Printf("search: %q sites=%v", q, sites)
	results, err := r.searcher.Discover(ctx, q, r.maxResults, sites, 0)
	if err != nil {
		return "", fmt.Errorf("search %q: %w", q, err)
	}
	return web_search.Format(results), nil
}

func (r *Registry) multiSearch(ctx context.Context, queries []string) (string, error) {
	var blocks []string
	var lastErr error
	for _, q := range queries {
		out, err := r.search(ctx, q, nil)
		if err != nil {
			lastErr = err
			continue
		}
		blocks = append(blocks, fmt.Sprintf("Query: %s\n%s", q, out))
	}
	if len(blocks) == 0 {
		if lastErr != nil {
			return "", lastErr
		}
		return "No results found.", nil
	}
	return strings.Join(blocks, "\n===\n"), nil
}

func (r *Registry) readPage(ctx context.Context, link string) (string, error) {
	if r.fetcher == nil {
		return "", fmt.Errorf("page fetching is not configured")
	}
	res, err := r.fetcher.Exec(ctx, link)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(res.Text) == "" {
		return "Page had no extractable text.", nil
	}
	return fmt.Sprintf("Title: %s\nURL: %s\nContent: %s", res.Title, res.URL, res.Text), nil
}

func (r *Registry) Defs(names []string) []llm.ToolDef {
	all := toolDefs()
	var out []llm.ToolDef
	for _, name := range names {
		if def, ok := all[name]; ok {
			out = append(out, def)
		}
	}
	return out
}

func toolDefs() map[string]llm.ToolDef {
	queryParams := func(field, desc string) map[string]any {
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				field: map[string]any{"type": "string", "description": desc},
			},
			"required": []string{field},
		}
	}
	return map[string]llm.ToolDef{
		ToolWebSearch: {
			Name:        ToolWebSearch,
			Description: "Search the web and return titles, URLs and snippets.",
			Parameters:  queryParams("query", "The search query."),
		},
		ToolAppStoreSearch: {
			Name:        ToolAppStoreSearch,
			Description: "Search for iOS apps on the App Store.",
			Parameters:  queryParams("query", "App name or category to look up."),
		},
		ToolProductHuntSearch: {
			Name:        ToolProductHuntSearch,
			Description: "Search Product Hunt for recent app launches.",
			Parameters:  queryParams("query", "Product or category to look up."),
		},
		ToolEstimateRevenue: {
			Name:        ToolEstimateRevenue,
			Description: "Gather revenue and download evidence for a specific app.",
			Parameters:  queryParams("app_name", "Exact app name."),
		},
		ToolSocialBuzz: {
			Name:        ToolSocialBuzz,
			Description: "Gauge social media buzz around a specific app.",
			Parameters:  queryParams("app_name", "Exact app name."),
		},
		ToolReadPage: {
			Name:        ToolReadPage,
			Description: "Fetch a URL and return its readable text.",
			Parameters:  queryParams("url", "The page URL to read."),
		},
	}
}

func strArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

// runToolCalls answers every pending tool call on the phase's
// conversation, in request order. Tool failures become error records and
// an error message to the model; the run itself never stops here.
func runToolCalls(ctx context.Context, runner ToolRunner, st *State, phase Phase) Delta {
	msgs := st.Conversations[phase]
	if len(msgs) == 0 {
		return Delta{}
	}
	last := msgs[len(msgs)-1]
	if last.Role != llm.RoleAssistant || len(last.ToolCalls) == 0 {
		return Delta{}
	}

	d := Delta{MessagesPhase: phase}
	for _, call := range last.ToolCalls {
		args, err := call.Args()
		var out string
		if err == nil {
			out, err = runner.Call(ctx, call.Name, args)
		}
		if err != nil {
			out = fmt.Sprintf("Tool %s failed: %v", call.Name, err)
			d.Errors = append(d.Errors, RunError{
				Phase:   phase,
				Message: fmt.Sprintf("tool %s: %v", call.Name, err),
			})
		}
		d.Messages = append(d.Messages, llm.ToolMessage(call, out))
	}
	return d
}
