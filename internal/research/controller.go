package research

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mohammad-safakhou/alphy/config"
	"github.com/mohammad-safakhou/alphy/internal/llm"
	"github.com/mohammad-safakhou/alphy/internal/telemetry"
)

var tracer = otel.Tracer("alphy/research")

// maxPhaseSteps bounds the run loop against routing bugs. A normal run
// with three iterations and a dozen candidates stays far below this.
const maxPhaseSteps = 500

// Request describes one research run.
type Request struct {
	RunID      string   `json:"run_id"`
	Categories []string `json:"categories"`
	Mode       string   `json:"mode"`
}

// RunStatus is a point-in-time view of a run's progress.
type RunStatus struct {
	RunID           string    `json:"run_id"`
	Phase           Phase     `json:"phase"`
	Iteration       int       `json:"iteration"`
	CandidatesFound int       `json:"candidates_found"`
	StartedAt       time.Time `json:"started_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Done            bool      `json:"done"`
	Error           string    `json:"error,omitempty"`
}

// Controller drives the workflow: it dispatches each phase's worker,
// folds the returned delta into state and routes to the next phase.
type Controller struct {
	cfg      *config.Config
	provider llm.Provider
	tools    ToolRunner
	tele     *telemetry.Telemetry
	logger   *log.Logger

	maxIterations int
	maxRunTime    time.Duration

	mu       sync.RWMutex
	statuses map[string]*RunStatus
}

// NewController wires a controller from its dependencies.
func NewController(cfg *config.Config, provider llm.Provider, tools ToolRunner, tele *telemetry.Telemetry) *Controller {
	maxIter := cfg.Research.MaxIterations
	if maxIter < 1 {
		maxIter = DefaultMaxIterations
	}
	return &Controller{
		cfg:           cfg,
		provider:      provider,
		tools:         measuredRunner{inner: tools, tele: tele},
		tele:          tele,
		logger:        log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags),
		maxIterations: maxIter,
		maxRunTime:    cfg.General.MaxRunTime,
		statuses:      map[string]*RunStatus{},
	}
}

// Run executes a research run to completion and returns the final state.
// The state always carries a report once the run finishes cleanly;
// non-fatal failures accumulate in state.Errors instead of aborting.
func (c *Controller) Run(ctx context.Context, req Request) (*State, error) {
	runID := req.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	mode := req.Mode
	if mode == "" {
		mode = c.cfg.Research.DefaultMode
	}
	if c.maxRunTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.maxRunTime)
		defer cancel()
	}

	st := NewState(req.Categories, mode)
	c.setStatus(runID, st)
	c.logger.Printf("run %s started: categories=%v mode=%s", runID, req.Categories, mode)

	steps := 0
	for st.Phase != PhaseDone {
		if err := ctx.Err(); err != nil {
			c.finishStatus(runID, st, err)
			c.tele.RecordRun(err)
			return st, fmt.Errorf("run %s aborted in %s: %w", runID, st.Phase, err)
		}
		steps++
		if steps > maxPhaseSteps {
			err := fmt.Errorf("run %s exceeded %d phase steps in %s", runID, maxPhaseSteps, st.Phase)
			c.finishStatus(runID, st, err)
			c.tele.RecordRun(err)
			return st, err
		}

		started := time.Now()
		sctx, span := tracer.Start(ctx, "research."+string(st.Phase))
		span.SetAttributes(
			attribute.String("run.id", runID),
			attribute.Int("run.step", steps),
		)

		d := c.step(sctx, st)
		st.Apply(d)

		if len(d.Errors) > 0 {
			span.SetStatus(codes.Error, d.Errors[0].Message)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.SetAttributes(attribute.Int("run.candidates", st.Candidates.Len()))
		span.End()
		c.tele.RecordPhase(string(st.Phase), time.Since(started))

		prev := st.Phase
		st.Phase = NextPhase(st, c.maxIterations)
		if st.Phase != prev {
			c.logger.Printf("run %s: %s -> %s (candidates=%d iteration=%d)",
				runID, prev, st.Phase, st.Candidates.Len(), st.Scratchpad.IterationCount)
		}
		c.updateStatus(runID, st)
	}

	c.finishStatus(runID, st, nil)
	c.tele.RecordRun(nil)
	c.tele.LogCostSummary()
	c.logger.Printf("run %s done: %d candidates, %d patterns, %d errors",
		runID, st.Candidates.Len(), len(st.Patterns), len(st.Errors))
	return st, nil
}

// step runs the current phase and returns its delta. Tool phases are
// handled here; everything else dispatches through the worker table.
func (c *Controller) step(ctx context.Context, st *State) Delta {
	switch st.Phase {
	case PhaseInit:
		return Delta{}
	case PhaseDiscoveryTools:
		return runToolCalls(ctx, c.tools, st, PhaseDiscovery)
	case PhaseDeepResearchTools:
		return runToolCalls(ctx, c.tools, st, PhaseDeepResearch)
	default:
		if spec, ok := workerTable[st.Phase]; ok {
			return spec.run(c, ctx, st)
		}
		return Delta{Errors: []RunError{{Phase: st.Phase, Message: "no worker for phase"}}}
	}
}

// Status reports the current progress of a run.
func (c *Controller) Status(runID string) (RunStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.statuses[runID]
	if !ok {
		return RunStatus{}, false
	}
	return *s, true
}

func (c *Controller) setStatus(runID string, st *State) {
	now := time.Now()
	c.mu.Lock()
	c.statuses[runID] = &RunStatus{
		RunID:     runID,
		Phase:     st.Phase,
		StartedAt: now,
		UpdatedAt: now,
	}
	c.mu.Unlock()
}

func (c *Controller) updateStatus(runID string, st *State) {
	c.mu.Lock()
	if s, ok := c.statuses[runID]; ok {
		s.Phase = st.Phase
		s.Iteration = st.Scratchpad.IterationCount
		s.CandidatesFound = st.Candidates.Len()
		s.UpdatedAt = time.Now()
	}
	c.mu.Unlock()
}

func (c *Controller) finishStatus(runID string, st *State, err error) {
	c.mu.Lock()
	if s, ok := c.statuses[runID]; ok {
		s.Phase = st.Phase
		s.Iteration = st.Scratchpad.IterationCount
		s.CandidatesFound = st.Candidates.Len()
		s.UpdatedAt = time.Now()
		s.Done = true
		if err != nil {
			s.Error = err.Error()
		}
	}
	c.mu.Unlock()
}

// measuredRunner wraps a ToolRunner with telemetry.
type measuredRunner struct {
	inner ToolRunner
	tele  *telemetry.Telemetry
}

func (m measuredRunner) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	out, err := m.inner.Call(ctx, name, args)
	m.tele.RecordToolCall(name, err)
	return out, err
}

func (m measuredRunner) Defs(names []string) []llm.ToolDef { return m.inner.Defs(names) }
