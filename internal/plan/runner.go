package plan

import (
	"context"
	"fmt"
	"os"
	"time"

	"rcie/adapters/excel"
	"rcie/domain/analysis"
	"rcie/domain/core"
	"rcie/internal"
	"rcie/internal/workflow"

	"golang.org/x/sync/errgroup"
)

// Step outcomes
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFailed   = "failed"
)

// StepResult records one executed step.
type StepResult struct {
	Step     string         `json:"step"`
	Phase    workflow.Phase `json:"phase"`
	Status   string         `json:"status"`
	Detail   string         `json:"detail,omitempty"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// Report is the outcome of a plan run.
type Report struct {
	Plan  string       `json:"plan"`
	Steps []StepResult `json:"steps"`
}

// Failed counts failed steps.
func (r *Report) Failed() int {
	n := 0
	for _, s := range r.Steps {
		if s.Status == StatusFailed {
			n++
		}
	}
	return n
}

// Runner executes plans against a workflow controller
type Runner struct {
	ctrl   *workflow.Controller
	logger *internal.Logger
	getenv func(string) string
}

// NewRunner creates a plan runner
func NewRunner(ctrl *workflow.Controller, logger *internal.Logger) *Runner {
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	return &Runner{ctrl: ctrl, logger: logger, getenv: os.Getenv}
}

// Run executes p. Setup, discovery and training run in order and the first
// failure among them stops the plan and is returned. Analyses run afterwards:
// each kind runs its steps in order, distinct kinds run concurrently, and
// their failures are recorded in the report without stopping the others.
func (r *Runner) Run(ctx context.Context, p *Plan) (*Report, error) {
	report := &Report{Plan: p.Name}
	r.logger.Info("[Plan] running %q with %d analyses", p.Name, len(p.Analyses))

	for _, step := range r.setupSteps(p) {
		res, err := r.exec(ctx, step.name, step.phase, step.fn)
		report.Steps = append(report.Steps, res)
		if err != nil {
			r.logger.Error("[Plan] %s failed, stopping: %v", step.name, err)
			return report, err
		}
	}

	report.Steps = append(report.Steps, r.runAnalyses(ctx, p.Analyses)...)
	r.logger.Info("[Plan] %q finished: %d steps, %d failed", p.Name, len(report.Steps), report.Failed())
	return report, nil
}

type setupStep struct {
	name  string
	phase workflow.Phase
	fn    func(ctx context.Context) (string, bool, error)
}

func (r *Runner) setupSteps(p *Plan) []setupStep {
	var steps []setupStep

	if p.Upload != "" {
		steps = append(steps, setupStep{"upload", workflow.PhaseUpload, func(ctx context.Context) (string, bool, error) {
			src, err := excel.Open(p.Upload)
			if err != nil {
				return "", false, err
			}
			defer src.Close()
			ref, err := r.ctrl.UploadDataset(ctx, src.Name, src)
			return ref.String(), false, err
		}})
	} else if p.Dataset != "" {
		steps = append(steps, setupStep{"dataset", workflow.PhaseUpload, func(context.Context) (string, bool, error) {
			return p.Dataset, false, r.ctrl.UseDataset(core.DatasetRef(p.Dataset))
		}})
	}

	if p.Login != nil {
		steps = append(steps, setupStep{"login", workflow.PhaseAuth, func(ctx context.Context) (string, bool, error) {
			password := r.getenv(p.Login.PasswordEnv)
			if password == "" {
				return "", false, core.NewValidationError("login", fmt.Sprintf("%s is not set", p.Login.PasswordEnv))
			}
			_, err := r.ctrl.Login(ctx, p.Login.Email, password)
			return p.Login.Email, false, err
		}})
	}

	steps = append(steps, setupStep{"discovery", workflow.PhaseDiscovery, func(ctx context.Context) (string, bool, error) {
		out, err := r.ctrl.RunDiscovery(ctx, "", p.Discovery.Method)
		if err != nil {
			return "", false, err
		}
		return fmt.Sprintf("%s: %d edges, %d nodes", out.Method, len(out.Edges), len(out.Nodes)), false, nil
	}})

	if p.Discovery.Explain {
		steps = append(steps, setupStep{"explanation", workflow.PhaseExplanation, func(ctx context.Context) (string, bool, error) {
			exp := r.ctrl.RequestExplanation(ctx, nil)
			return exp.Narrative, exp.Degraded, nil
		}})
	}

	if p.Training != nil {
		steps = append(steps, setupStep{"training", workflow.PhaseTraining, func(ctx context.Context) (string, bool, error) {
			epochs := p.Training.Epochs
			if epochs == 0 {
				epochs = workflow.DefaultEpochs
			}
			msg, err := r.ctrl.RunTraining(ctx, "", r.ctrl.Graph().Edges(), epochs)
			return msg, false, err
		}})
	}
	return steps
}

func (r *Runner) exec(ctx context.Context, name string, phase workflow.Phase, fn func(ctx context.Context) (string, bool, error)) (StepResult, error) {
	start := time.Now()
	detail, degraded, err := fn(ctx)
	res := StepResult{Step: name, Phase: phase, Status: StatusOK, Detail: detail, Duration: time.Since(start)}
	switch {
	case err != nil:
		res.Status = StatusFailed
		res.Error = err.Error()
	case degraded:
		res.Status = StatusDegraded
	}
	return res, err
}

// runAnalyses groups steps by kind and runs the groups concurrently. Results
// keep plan order.
func (r *Runner) runAnalyses(ctx context.Context, steps []AnalysisStep) []StepResult {
	results := make([]StepResult, len(steps))
	groups := map[string][]int{}
	var order []string
	for i, s := range steps {
		if _, ok := groups[s.Kind]; !ok {
			order = append(order, s.Kind)
		}
		groups[s.Kind] = append(groups[s.Kind], i)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range order {
		indexes := groups[kind]
		g.Go(func() error {
			for _, i := range indexes {
				step := steps[i]
				results[i], _ = r.exec(gctx, step.Label(i), phaseFor(step.Kind), func(ctx context.Context) (string, bool, error) {
					return r.analyze(ctx, step)
				})
			}
			return nil
		})
	}
	_ = g.Wait() // failures are captured per step

	return results
}

func (r *Runner) analyze(ctx context.Context, s AnalysisStep) (string, bool, error) {
	switch s.Kind {
	case KindCounterfactual:
		second := analysis.None()
		if s.SecondObservationNode != "" {
			second = analysis.Some(s.SecondObservationNode)
		}
		out, err := r.ctrl.RunCounterfactual(ctx, workflow.CounterfactualInput{
			ObservationNode:   s.ObservationNode,
			ObservationValue:  s.ObservationValue,
			SecondObservation: second,
			SecondValue:       s.SecondValue,
			InterventionNode:  s.InterventionNode,
			InterventionValue: s.InterventionValue,
		})
		if err != nil {
			return "", false, err
		}
		return fmt.Sprintf("largest change %s %+.3f", out.Summary.LargestNode, out.Summary.Largest), out.Degraded, nil

	case KindSimulation:
		out, err := r.ctrl.RunSimulation(ctx, s.Node, s.Value)
		if err != nil {
			return "", false, err
		}
		return fmt.Sprintf("%d nodes simulated", len(out.Bands)), out.Degraded, nil

	case KindOptimization:
		out, err := r.ctrl.RunOptimization(ctx, s.TargetNode, s.TargetValue, s.ControlNode)
		if err != nil {
			return "", false, err
		}
		return fmt.Sprintf("set %s to %.3f", out.Request.ControlNode, out.Result.SuggestedValue), false, nil
	}
	return "", false, core.NewValidationError("kind", s.Kind)
}

func phaseFor(kind string) workflow.Phase {
	switch kind {
	case KindSimulation:
		return workflow.PhaseSimulation
	case KindOptimization:
		return workflow.PhaseOptimization
	}
	return workflow.PhaseCounterfactual
}
