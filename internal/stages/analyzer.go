// Package stages turns a job's instructions and upstream findings into the
// structured findings of one analysis stage, and writes the executive summary
// of the synthesis stage.
//
// The completion output is untrusted text. Analyze never fails on malformed
// output: it substitutes placeholder findings flagged with a parse error.
package stages

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/research-pipeline-service/internal/domain"
	"github.com/helixir/research-pipeline-service/internal/llm"
)

// ParseFailureReason is recorded on placeholder findings.
const ParseFailureReason = "Could not parse structured JSON from response"

// AnalyzerConfig configures an Analyzer.
type AnalyzerConfig struct {
	// WebSearch declares the web_search tool on every analysis request.
	WebSearch bool

	// MaxTokens overrides the completer's output limit when positive.
	MaxTokens int
}

// Analyzer runs one analysis stage against a completion service.
type Analyzer struct {
	completer llm.Completer
	cfg       AnalyzerConfig
	logger    zerolog.Logger
	now       func() time.Time
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(completer llm.Completer, cfg AnalyzerConfig, logger zerolog.Logger) *Analyzer {
	return &Analyzer{
		completer: completer,
		cfg:       cfg,
		logger:    logger.With().Str("component", "analyzer").Logger(),
		now:       time.Now,
	}
}

// AnalysisInput is the input of one stage run.
type AnalysisInput struct {
	Stage        domain.Stage
	Instructions string
	// Upstream holds the findings of the stage's transitive predecessors.
	Upstream domain.FindingsSet
}

// AnalysisOutput is the result of one stage run.
type AnalysisOutput struct {
	Findings     domain.Findings
	Model        string
	InputTokens  int
	OutputTokens int
}

// Analyze builds the stage prompt, calls the completion service and parses
// the answer. Completion errors are returned as StageExecutionError; parse
// failures are not errors.
func (a *Analyzer) Analyze(ctx context.Context, in AnalysisInput) (*AnalysisOutput, error) {
	if !in.Stage.IsAnalysis() {
		return nil, domain.NewValidationError("stage", "not an analysis stage: "+string(in.Stage))
	}

	system, user, err := BuildAnalysisPrompt(in.Stage, in.Instructions, in.Upstream, a.cfg.WebSearch, a.now())
	if err != nil {
		return nil, err
	}

	req := llm.CompletionRequest{System: system, Prompt: user, MaxTokens: a.cfg.MaxTokens}
	if a.cfg.WebSearch {
		req.Tools = []llm.Tool{llm.WebSearchTool}
	}

	resp, err := a.completer.Complete(ctx, req)
	if err != nil {
		return nil, domain.NewStageExecutionError(in.Stage, err)
	}

	findings, perr := ParseFindings(in.Stage, resp.Text)
	if perr != nil {
		return nil, perr
	}
	if findings.ParseFailed() {
		a.logger.Warn().
			Str("stage", string(in.Stage)).
			Int("responseLength", len(resp.Text)).
			Msg("stage output could not be parsed, recording placeholder findings")
	}

	return &AnalysisOutput{
		Findings:     findings,
		Model:        resp.Model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}, nil
}

// ParseFindings decodes a completion into stage findings, falling back to a
// placeholder when the text holds no JSON object of the stage's shape. The
// error is non-nil only for a stage without a findings schema.
func ParseFindings(stage domain.Stage, text string) (domain.Findings, error) {
	raw, err := ExtractJSON(text)
	if err == nil {
		f, derr := domain.DecodeFindings(stage, raw)
		if derr == nil {
			if f.CitationList() == nil {
				f.SetCitations([]domain.Citation{})
			}
			return f, nil
		}
		var verr *domain.ValidationError
		if errors.As(derr, &verr) {
			return nil, derr
		}
	}
	return domain.PlaceholderFindings(stage, text, ParseFailureReason)
}
