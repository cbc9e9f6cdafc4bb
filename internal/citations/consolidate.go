// Package citations merges the per-stage citation lists of a job into one
// globally numbered bibliography and rewrites every reference to it.
//
// Global identifiers have the form <stage prefix>_<n>, where n counts the
// valid citations of that stage from 1 in their original order. Records
// without a URL or title are dropped and counted. References that cannot be
// mapped are left in place and reported as unresolved.
package citations

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/helixir/research-pipeline-service/internal/domain"
)

// StageFindings pairs a stage with its findings.
type StageFindings struct {
	Stage    domain.Stage
	Findings domain.Findings
}

// Key identifies a citation by producing stage and stage-local id.
type Key struct {
	Stage   domain.Stage
	LocalID string
}

// Result is the outcome of one consolidation run.
type Result struct {
	// Findings are rewritten copies of the input, in input order.
	Findings []StageFindings

	// Bibliography is every valid citation, renumbered, in stage order.
	Bibliography []domain.Citation

	// Mapping resolves (stage, local_id) to the assigned global id.
	Mapping map[Key]string

	// Unresolved lists references with no mapping, once per (stage, id).
	Unresolved []domain.UnresolvedReference

	// Input is the total number of citation records received.
	Input int

	// Dropped counts records that failed minimal-shape validation.
	Dropped int
}

// FindingsSet returns the rewritten findings keyed by stage.
func (r *Result) FindingsSet() domain.FindingsSet {
	out := make(domain.FindingsSet, len(r.Findings))
	for _, sf := range r.Findings {
		out[sf.Stage] = sf.Findings
	}
	return out
}

// Consolidate runs the consolidation over stages in the given order. The
// input findings are not modified.
func Consolidate(stages []StageFindings) (*Result, error) {
	res := &Result{
		Findings:     make([]StageFindings, 0, len(stages)),
		Bibliography: []domain.Citation{},
		Mapping:      make(map[Key]string),
	}

	seen := make(map[domain.Stage]bool, len(stages))
	for _, sf := range stages {
		if sf.Findings == nil {
			return nil, fmt.Errorf("consolidate: stage %s has no findings", sf.Stage)
		}
		if seen[sf.Stage] {
			return nil, fmt.Errorf("consolidate: stage %s given twice", sf.Stage)
		}
		seen[sf.Stage] = true
		if sf.Stage.Prefix() == "" {
			return nil, fmt.Errorf("consolidate: stage %q has no citation prefix", sf.Stage)
		}

		clone, err := domain.CloneFindings(sf.Findings)
		if err != nil {
			return nil, fmt.Errorf("consolidate: copy %s findings: %w", sf.Stage, err)
		}

		renumbered := make([]domain.Citation, 0, len(clone.CitationList()))
		seq := 0
		for _, c := range clone.CitationList() {
			res.Input++
			if !c.Valid() {
				res.Dropped++
				continue
			}
			seq++
			c.GlobalID = fmt.Sprintf("%s_%d", sf.Stage.Prefix(), seq)
			key := Key{Stage: sf.Stage, LocalID: strings.TrimSpace(c.LocalID)}
			if _, dup := res.Mapping[key]; !dup && key.LocalID != "" {
				res.Mapping[key] = c.GlobalID
			}
			renumbered = append(renumbered, c)
		}
		clone.SetCitations(renumbered)
		res.Bibliography = append(res.Bibliography, renumbered...)

		rw := &rewriter{stage: sf.Stage, res: res, flagged: make(map[string]bool)}
		clone.VisitReferences(rw)

		res.Findings = append(res.Findings, StageFindings{Stage: sf.Stage, Findings: clone})
	}

	return res, nil
}

// inlineRef matches bracketed reference groups such as [cite_1] or
// [leg_2, mkt_4].
var inlineRef = regexp.MustCompile(`\[\s*([A-Za-z]+_\d+(?:\s*,\s*[A-Za-z]+_\d+)*)\s*\]`)

type rewriter struct {
	stage   domain.Stage
	res     *Result
	flagged map[string]bool
}

func (r *rewriter) resolve(id string) string {
	id = strings.TrimSpace(id)
	if g, ok := r.res.Mapping[Key{Stage: r.stage, LocalID: id}]; ok {
		return g
	}
	if !r.flagged[id] {
		r.flagged[id] = true
		r.res.Unresolved = append(r.res.Unresolved, domain.UnresolvedReference{Stage: r.stage, LocalID: id})
	}
	return id
}

func (r *rewriter) IDs(ids []string) {
	for i := range ids {
		ids[i] = r.resolve(ids[i])
	}
}

func (r *rewriter) Text(s *string) {
	if s == nil || *s == "" {
		return
	}
	*s = inlineRef.ReplaceAllStringFunc(*s, func(m string) string {
		ids := splitRefs(m)
		for i := range ids {
			ids[i] = r.resolve(ids[i])
		}
		return "[" + strings.Join(ids, ", ") + "]"
	})
}

func splitRefs(group string) []string {
	inner := strings.TrimSpace(group[1 : len(group)-1])
	parts := strings.Split(inner, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// InlineReferences returns every id referenced inline in text, in order of
// appearance, without duplicates.
func InlineReferences(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range inlineRef.FindAllString(text, -1) {
		for _, id := range splitRefs(m) {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

// UnresolvedIn returns the inline references in text that match no entry of
// bibliography.
func UnresolvedIn(text string, bibliography []domain.Citation) []string {
	known := make(map[string]bool, len(bibliography))
	for _, c := range bibliography {
		known[c.ID()] = true
	}
	var out []string
	for _, id := range InlineReferences(text) {
		if !known[id] {
			out = append(out, id)
		}
	}
	return out
}
