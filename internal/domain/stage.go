package domain

import "fmt"

// Stage identifies one analysis step of the research pipeline.
type Stage string

const (
	StageObstacles  Stage = "obstacles"
	StageSolutions  Stage = "solutions"
	StageLegal      Stage = "legal"
	StageCompetitor Stage = "competitor"
	StageMarket     Stage = "market"
	StageSynthesis  Stage = "synthesis"
)

// AnalysisStages is the declared pipeline order of the analysis stages.
// Synthesis always runs after all of them.
var AnalysisStages = []Stage{
	StageObstacles,
	StageSolutions,
	StageLegal,
	StageCompetitor,
	StageMarket,
}

// AllStages returns every stage in declared order, synthesis last.
func AllStages() []Stage {
	stages := make([]Stage, 0, len(AnalysisStages)+1)
	stages = append(stages, AnalysisStages...)
	return append(stages, StageSynthesis)
}

var stagePrefixes = map[Stage]string{
	StageObstacles:  "obs",
	StageSolutions:  "sol",
	StageLegal:      "leg",
	StageCompetitor: "comp",
	StageMarket:     "mkt",
	StageSynthesis:  "syn",
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	_, ok := stagePrefixes[s]
	return ok
}

// IsAnalysis reports whether s produces findings (every stage except synthesis).
func (s Stage) IsAnalysis() bool {
	return s.Valid() && s != StageSynthesis
}

// Prefix returns the short citation prefix for the stage, e.g. "leg" for legal.
func (s Stage) Prefix() string {
	return stagePrefixes[s]
}

// FindingsKey returns the key under which a stage's findings are exposed to
// clients. Competitor findings are published as "competitors".
func (s Stage) FindingsKey() string {
	if s == StageCompetitor {
		return "competitors"
	}
	return string(s)
}

// ParseStage converts a string to a Stage.
func ParseStage(v string) (Stage, error) {
	s := Stage(v)
	if !s.Valid() {
		return "", NewValidationError("stage", fmt.Sprintf("unknown stage %q", v))
	}
	return s, nil
}
