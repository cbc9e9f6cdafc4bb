package stages

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/research-pipeline-service/internal/citations"
	"github.com/helixir/research-pipeline-service/internal/domain"
	"github.com/helixir/research-pipeline-service/internal/llm"
)

// Synthesizer writes the executive summary over consolidated findings.
type Synthesizer struct {
	completer llm.Completer
	maxTokens int
	logger    zerolog.Logger
	now       func() time.Time
}

// NewSynthesizer creates a Synthesizer. maxTokens <= 0 keeps the completer's
// configured limit.
func NewSynthesizer(completer llm.Completer, maxTokens int, logger zerolog.Logger) *Synthesizer {
	return &Synthesizer{
		completer: completer,
		maxTokens: maxTokens,
		logger:    logger.With().Str("component", "synthesizer").Logger(),
		now:       time.Now,
	}
}

// Synthesize asks the completion service for the executive summary and
// assembles the synthesis block. Inline references in the summary that
// match no bibliography entry are kept and reported as unresolved.
func (s *Synthesizer) Synthesize(ctx context.Context, instructions string, res *citations.Result) (*domain.Synthesis, error) {
	system, user, err := BuildSynthesisPrompt(instructions, res.FindingsSet(), res.Bibliography)
	if err != nil {
		return nil, err
	}

	resp, err := s.completer.Complete(ctx, llm.CompletionRequest{
		System:    system,
		Prompt:    user,
		MaxTokens: s.maxTokens,
	})
	if err != nil {
		return nil, domain.NewStageExecutionError(domain.StageSynthesis, err)
	}

	summary := strings.TrimSpace(resp.Text)
	unresolved := append([]domain.UnresolvedReference(nil), res.Unresolved...)
	for _, id := range citations.UnresolvedIn(summary, res.Bibliography) {
		unresolved = append(unresolved, domain.UnresolvedReference{Stage: domain.StageSynthesis, LocalID: id})
	}
	if n := len(unresolved); n > 0 {
		s.logger.Warn().Int("unresolved", n).Msg("synthesis carries unresolved citation references")
	}

	return &domain.Synthesis{
		ExecutiveSummary:     summary,
		Citations:            res.Bibliography,
		CitationCount:        len(res.Bibliography),
		DroppedCitations:     res.Dropped,
		UnresolvedReferences: unresolved,
		ResearchDate:         s.now().UTC().Format(researchDateLayout),
	}, nil
}
