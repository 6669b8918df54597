// Package taskgraph implements the validated task DAG of spec §4.11: named
// tasks (single script, sequence, or parallel group) with reference
// checking, cycle detection, and scoped-goroutine parallel execution.
// Grounded on the teacher's cli/internal/util.ValidateGraph (cycle
// detection via github.com/pyr-sh/dag) and cli/internal/core.scheduler
// (building a dag.AcyclicGraph from task references).
package taskgraph

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pyr-sh/dag"
)

// Kind tags which TaskDef variant a task is (spec §3 "Task definition
// variants").
type Kind string

// Task definition kinds.
const (
	KindSimple     Kind = "simple"
	KindSequential Kind = "sequential"
	KindParallel   Kind = "parallel"
	KindScript     Kind = "script"
)

// Def is one named task's definition.
type Def struct {
	Kind Kind

	// Simple / Script.
	Path string

	// Sequential.
	Sequence []string

	// Parallel (Complex.parallel).
	Parallel []string

	// Complex metadata.
	Description string
	Args        map[string]string
}

// Graph is a validated set of named tasks.
type Graph struct {
	Defs map[string]Def
	dag  *dag.AcyclicGraph
}

// Build validates tasks (spec §4.11 step 1: reference check; step 2: cycle
// check) and returns the graph, or the first validation error encountered.
func Build(tasks map[string]Def) (*Graph, error) {
	g := &dag.AcyclicGraph{}
	for name := range tasks {
		g.Add(name)
	}

	for name, def := range tasks {
		refs := referencedNames(def)
		for _, ref := range refs {
			if _, ok := tasks[ref]; !ok {
				return nil, fmt.Errorf("task %q references undefined task %q", name, ref)
			}
			g.Connect(dag.BasicEdge(name, ref))
		}
	}

	if cycles := g.Cycles(); len(cycles) > 0 {
		return nil, fmt.Errorf("task graph contains a cycle: %s", describeCycle(cycles[0]))
	}

	return &Graph{Defs: tasks, dag: g}, nil
}

func referencedNames(def Def) []string {
	switch def.Kind {
	case KindSequential:
		return def.Sequence
	case KindParallel:
		return def.Parallel
	default:
		return nil
	}
}

func describeCycle(cycle []dag.Vertex) string {
	names := make([]string, len(cycle))
	for i, v := range cycle {
		names[i] = dag.VertexName(v)
	}
	return strings.Join(names, " -> ")
}

// RunFunc executes one resolved script path and reports its outcome. It is
// supplied by the caller (typically internal/runner, wrapping
// internal/supervisor) so this package has no dependency on subprocess
// execution.
type RunFunc func(ctx context.Context, taskName, scriptPath string) (exitCode int, success bool, err error)

// Outcome records one Simple/Script task's result.
type Outcome struct {
	TaskName string
	ExitCode int
	Success  bool
	Duration time.Duration
}

// Result accumulates outcomes across an entire Execute call (spec §4.11:
// "Results accumulate per-script outcomes, duration, and success/failure
// counts").
type Result struct {
	Outcomes     []Outcome
	SuccessCount int
	FailureCount int
}

func (r *Result) record(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	if o.Success {
		r.SuccessCount++
	} else {
		r.FailureCount++
	}
}

func (r *Result) merge(other *Result) {
	for _, o := range other.Outcomes {
		r.record(o)
	}
}

// Execute runs the named task to completion per spec §4.11's per-kind
// semantics. An execution error (e.g. the run function itself failing,
// distinct from the script merely reporting a non-zero/failed outcome)
// aborts a sequence immediately and is returned as err; within a parallel
// group every sibling still runs to completion, and the first execution
// error in task-name order is returned alongside the siblings' merged
// Result. Logical per-script failures are recorded in the returned Result
// and do not abort sibling execution within a parallel group.
func (g *Graph) Execute(ctx context.Context, name string, run RunFunc) (*Result, error) {
	def, ok := g.Defs[name]
	if !ok {
		return nil, fmt.Errorf("task %q not found", name)
	}
	return g.execute(ctx, name, def, run)
}

func (g *Graph) execute(ctx context.Context, name string, def Def, run RunFunc) (*Result, error) {
	switch def.Kind {
	case KindSimple, KindScript:
		start := time.Now()
		exitCode, success, err := run(ctx, name, def.Path)
		if err != nil {
			return nil, fmt.Errorf("executing task %q: %w", name, err)
		}
		res := &Result{}
		res.record(Outcome{TaskName: name, ExitCode: exitCode, Success: success, Duration: time.Since(start)})
		return res, nil

	case KindSequential:
		res := &Result{}
		for _, childName := range def.Sequence {
			childDef := g.Defs[childName]
			childRes, err := g.execute(ctx, childName, childDef, run)
			if err != nil {
				return res, err
			}
			res.merge(childRes)
			if childRes.FailureCount > 0 {
				// Abort the sequence on first failure (spec §4.11).
				break
			}
		}
		return res, nil

	case KindParallel:
		return g.executeParallel(ctx, def.Parallel, run)

	default:
		return nil, fmt.Errorf("task %q: unknown kind %q", name, def.Kind)
	}
}

func (g *Graph) executeParallel(ctx context.Context, names []string, run RunFunc) (*Result, error) {
	type childResult struct {
		name string
		res  *Result
		err  error
	}

	out := make(chan childResult, len(names))
	var wg sync.WaitGroup
	for _, childName := range names {
		childName := childName
		wg.Add(1)
		go func() {
			defer wg.Done()
			childDef := g.Defs[childName]
			res, err := g.execute(ctx, childName, childDef, run)
			out <- childResult{name: childName, res: res, err: err}
		}()
	}
	wg.Wait()
	close(out)

	combined := &Result{}
	var firstErr error
	var ordered []childResult
	for cr := range out {
		ordered = append(ordered, cr)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].name < ordered[j].name })

	// Execution errors (the run function itself failing) surface only the
	// first one encountered, in deterministic name order; logical failures
	// still accumulate into combined via res.merge below (spec §4.11).
	for _, cr := range ordered {
		if cr.err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", cr.name, cr.err)
			}
			continue
		}
		combined.merge(cr.res)
	}

	return combined, firstErr
}
