// Package pipeline describes which stages a research job runs and in what
// order.
//
// A Graph is a DAG over the closed stage set. Every analysis stage appears
// exactly once and synthesis depends, directly or transitively, on all of
// them. Stages execute one at a time in Order(); a stage starts only once
// every declared predecessor has recorded findings.
package pipeline

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/helixir/research-pipeline-service/internal/domain"
)

// Node is one stage and the stages whose findings it reads.
type Node struct {
	Stage domain.Stage   `yaml:"stage"`
	After []domain.Stage `yaml:"after,omitempty"`
}

// Definition is the file form of a graph.
type Definition struct {
	Stages []Node `yaml:"stages"`
}

// Graph is a validated stage graph.
type Graph struct {
	nodes []Node
	index map[domain.Stage]int
	order []domain.Stage
}

// DefaultGraph is the linear pipeline:
// obstacles -> solutions -> legal -> competitor -> market -> synthesis.
func DefaultGraph() *Graph {
	stages := domain.AllStages()
	nodes := make([]Node, len(stages))
	for i, s := range stages {
		nodes[i] = Node{Stage: s}
		if i > 0 {
			nodes[i].After = []domain.Stage{stages[i-1]}
		}
	}
	g, err := NewGraph(nodes)
	if err != nil {
		panic(err)
	}
	return g
}

// NewGraph validates nodes and builds a Graph.
func NewGraph(nodes []Node) (*Graph, error) {
	g := &Graph{
		nodes: make([]Node, len(nodes)),
		index: make(map[domain.Stage]int, len(nodes)),
	}
	for i, n := range nodes {
		g.nodes[i] = Node{Stage: n.Stage, After: append([]domain.Stage(nil), n.After...)}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Validate checks the graph: known stages only, each listed once, all stages
// present, predecessors declared, no cycles, and synthesis downstream of
// every analysis stage.
func (g *Graph) Validate() error {
	g.index = make(map[domain.Stage]int, len(g.nodes))
	for i, n := range g.nodes {
		if !n.Stage.Valid() {
			return graphError("unknown stage %q", n.Stage)
		}
		if _, dup := g.index[n.Stage]; dup {
			return graphError("stage %q listed twice", n.Stage)
		}
		g.index[n.Stage] = i
	}
	for _, s := range domain.AllStages() {
		if _, ok := g.index[s]; !ok {
			return graphError("stage %q missing", s)
		}
	}
	for _, n := range g.nodes {
		for _, p := range n.After {
			if _, ok := g.index[p]; !ok {
				return graphError("stage %q depends on unknown stage %q", n.Stage, p)
			}
			if p == n.Stage {
				return graphError("stage %q depends on itself", n.Stage)
			}
			if p == domain.StageSynthesis {
				return graphError("stage %q cannot run after synthesis", n.Stage)
			}
		}
	}

	order, err := g.topoSort()
	if err != nil {
		return err
	}
	g.order = order

	up := g.upstreamSet(domain.StageSynthesis)
	for _, s := range domain.AnalysisStages {
		if !up[s] {
			return graphError("synthesis does not depend on %q", s)
		}
	}
	return nil
}

// topoSort is Kahn's algorithm; ties go to the earlier declared stage.
func (g *Graph) topoSort() ([]domain.Stage, error) {
	indegree := make([]int, len(g.nodes))
	dependents := make([][]int, len(g.nodes))
	for i, n := range g.nodes {
		for _, p := range dedupe(n.After) {
			indegree[i]++
			pi := g.index[p]
			dependents[pi] = append(dependents[pi], i)
		}
	}

	done := make([]bool, len(g.nodes))
	order := make([]domain.Stage, 0, len(g.nodes))
	for len(order) < len(g.nodes) {
		next := -1
		for i := range g.nodes {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			var stuck []string
			for i, n := range g.nodes {
				if !done[i] {
					stuck = append(stuck, string(n.Stage))
				}
			}
			return nil, graphError("cycle among stages %s", strings.Join(stuck, ", "))
		}
		done[next] = true
		order = append(order, g.nodes[next].Stage)
		for _, d := range dependents[next] {
			indegree[d]--
		}
	}
	return order, nil
}

// Order returns every stage in execution order, synthesis last.
func (g *Graph) Order() []domain.Stage {
	return append([]domain.Stage(nil), g.order...)
}

// AnalysisOrder returns Order without the synthesis stage.
func (g *Graph) AnalysisOrder() []domain.Stage {
	out := make([]domain.Stage, 0, len(g.order)-1)
	for _, s := range g.order {
		if s.IsAnalysis() {
			out = append(out, s)
		}
	}
	return out
}

// Predecessors returns the declared predecessors of s.
func (g *Graph) Predecessors(s domain.Stage) []domain.Stage {
	i, ok := g.index[s]
	if !ok {
		return nil
	}
	return dedupe(g.nodes[i].After)
}

// Upstream returns the transitive predecessors of s in execution order.
// Their findings form the accumulated view handed to s.
func (g *Graph) Upstream(s domain.Stage) []domain.Stage {
	set := g.upstreamSet(s)
	out := make([]domain.Stage, 0, len(set))
	for _, st := range g.order {
		if set[st] {
			out = append(out, st)
		}
	}
	return out
}

func (g *Graph) upstreamSet(s domain.Stage) map[domain.Stage]bool {
	seen := make(map[domain.Stage]bool)
	stack := g.Predecessors(s)
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[p] {
			continue
		}
		seen[p] = true
		stack = append(stack, g.Predecessors(p)...)
	}
	return seen
}

// Ready reports whether every declared predecessor of s is in recorded.
func (g *Graph) Ready(s domain.Stage, recorded map[domain.Stage]bool) bool {
	return len(g.Missing(s, recorded)) == 0
}

// Missing returns the declared predecessors of s absent from recorded.
func (g *Graph) Missing(s domain.Stage, recorded map[domain.Stage]bool) []domain.Stage {
	var out []domain.Stage
	for _, p := range g.Predecessors(s) {
		if !recorded[p] {
			out = append(out, p)
		}
	}
	return out
}

// Transitions returns the status transition table for this graph's
// execution order.
func (g *Graph) Transitions() (*domain.TransitionTable, error) {
	return domain.NewTransitionTable(g.AnalysisOrder())
}

// Definition returns the file form of the graph.
func (g *Graph) Definition() Definition {
	d := Definition{Stages: make([]Node, len(g.nodes))}
	for i, n := range g.nodes {
		d.Stages[i] = Node{Stage: n.Stage, After: append([]domain.Stage(nil), n.After...)}
	}
	return d
}

// ParseGraph decodes a YAML graph definition and validates it.
func ParseGraph(data []byte) (*Graph, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse stage graph: %w", err)
	}
	return NewGraph(def.Stages)
}

// LoadGraph reads a YAML graph definition from path. An empty path yields
// DefaultGraph.
func LoadGraph(path string) (*Graph, error) {
	if path == "" {
		return DefaultGraph(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stage graph %s: %w", path, err)
	}
	return ParseGraph(data)
}

func graphError(format string, args ...any) error {
	return domain.NewValidationError("graph", fmt.Sprintf(format, args...))
}

func dedupe(stages []domain.Stage) []domain.Stage {
	if len(stages) == 0 {
		return nil
	}
	seen := make(map[domain.Stage]bool, len(stages))
	out := make([]domain.Stage, 0, len(stages))
	for _, s := range stages {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
