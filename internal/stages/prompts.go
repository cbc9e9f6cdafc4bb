package stages

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/helixir/research-pipeline-service/internal/domain"
)

// researchDateLayout formats the date handed to the model for date_accessed.
const researchDateLayout = "2006-01-02"

const citationRules = `CITATION REQUIREMENTS:
Every finding must be backed by a credible, verifiable source. Give each source a
stage-local id ("cite_1", "cite_2", ...) and reference it from the finding's
citation_ids list. Inline references in free text use the form [cite_1] or
[cite_1, cite_2]. Every citation needs at least a url and a title.

Citation object:
{"id": "cite_1", "url": "https://...", "title": "...", "source_organization": "...",
 "source_type": "...", "publication_date": "YYYY-MM-DD", "date_accessed": "YYYY-MM-DD",
 "excerpt": "...", "relevance": "..."}`

const outputRules = `Output your findings as a single JSON object inside a ` + "```json" + ` block.
Use the exact keys of the schema below and include a "citations" list.`

// stagePrompt is the stage-specific part of an analysis prompt.
type stagePrompt struct {
	role    string
	sources string
	focus   []string
	schema  string
	task    string
}

var stagePrompts = map[domain.Stage]stagePrompt{
	domain.StageObstacles: {
		role:    "You are an expert analyst identifying obstacles and challenges for new business ideas or products. Your research informs go/no-go investment decisions.",
		sources: "Prefer government statistics, academic research, industry analyst reports, major business publications and company filings.",
		focus: []string{
			"Technical obstacles: technology limitations, implementation challenges, scalability issues",
			"Market obstacles: market maturity, timing, customer adoption barriers",
			"Regulatory obstacles: compliance requirements, legal restrictions, licensing needs",
			"User obstacles: behavior challenges, adoption friction, education needs",
			"Financial obstacles: cost barriers, funding challenges, pricing difficulties",
		},
		schema: `{
  "technical": [{"obstacle": "...", "severity": "high|medium|low", "evidence": "...", "citation_ids": ["cite_1"]}],
  "market": [...], "regulatory": [...], "user": [...], "financial": [...],
  "critical_insights": [{"insight": "...", "implication": "...", "citation_ids": ["cite_1"]}],
  "citations": [...]
}`,
		task: "Identify the obstacles a new entrant addressing this problem would face.",
	},
	domain.StageSolutions: {
		role:    "You are an expert analyst researching existing solutions and workarounds for problems. Your research informs go/no-go investment decisions.",
		sources: "Prefer official product websites, product review sites, industry analyst reports, tech publications and funding databases.",
		focus: []string{
			"Manual solutions: how people solve this problem by hand today",
			"Digital solutions: software, apps and platforms addressing it",
			"Workarounds: creative ways people bypass the problem",
			"Gaps: what current solutions miss",
		},
		schema: `{
  "manual_solutions": [{"name": "...", "description": "...", "effectiveness": "...", "limitations": "...", "adoption_level": "...", "citation_ids": ["cite_1"]}],
  "digital_solutions": [{"name": "...", "company": "...", "url": "...", "description": "...", "market_position": "...", "strengths": "...", "weaknesses": "...", "pricing_model": "...", "user_base": "...", "citation_ids": ["cite_1"]}],
  "workarounds": [{"description": "...", "prevalence": "...", "limitations": "...", "citation_ids": ["cite_1"]}],
  "gaps": [{"gap": "...", "evidence": "...", "opportunity_size": "...", "citation_ids": ["cite_1"]}],
  "citations": [...]
}`,
		task: "Given the problem and the obstacles already identified, research how it is solved today.",
	},
	domain.StageLegal: {
		role:    "You are an expert legal and regulatory analyst specializing in compliance requirements for new businesses and products.",
		sources: "Prefer official regulatory websites, legal databases, regulator publications and major law firm compliance guides. Cite regulation codes and section numbers.",
		focus: []string{
			"Industry-specific regulations and compliance requirements",
			"Data protection and privacy law",
			"Financial regulations: payments, money transmission, securities",
			"Regional variations between countries and states",
			"Licensing and certification requirements",
		},
		schema: `{
  "industry_regulations": [{"regulation_name": "...", "regulatory_body": "...", "jurisdiction": "...", "requirements": "...", "applicability": "...", "complexity": "high|medium|low", "implementation_timeline": "...", "citation_ids": ["cite_1"]}],
  "data_protection": [{"law_name": "...", "jurisdiction": "...", "key_requirements": "...", "applicability_threshold": "...", "penalties": "...", "compliance_steps": "...", "citation_ids": ["cite_1"]}],
  "financial_regs": [{"regulation_name": "...", "regulatory_body": "...", "applies_if": "...", "requirements": "...", "licensing_needed": "...", "citation_ids": ["cite_1"]}],
  "regional_variations": [{"region": "...", "unique_requirements": "...", "differences_from_baseline": "...", "difficulty": "high|medium|low", "citation_ids": ["cite_1"]}],
  "licensing_requirements": [{"license_type": "...", "issuing_authority": "...", "requirements": "...", "timeline": "...", "cost_range": "...", "renewal": "...", "citation_ids": ["cite_1"]}],
  "citations": [...]
}`,
		task: "Given the problem and previous research, analyze the legal and regulatory landscape.",
	},
	domain.StageCompetitor: {
		role:    "You are an expert competitive intelligence analyst specializing in market analysis.",
		sources: "Prefer company financial data, industry analyst reports, business publications, market research firms and official company websites.",
		focus: []string{
			"Direct competitors solving the same problem",
			"Indirect competitors and substitutes",
			"Market structure: monopolistic, oligopolistic, fragmented or emerging",
			"Entry barriers",
			"White space: underserved segments and gaps",
		},
		schema: `{
  "direct_competitors": [{"name": "...", "url": "...", "description": "...", "value_proposition": "...", "market_position": "...",
    "strengths": [{"strength": "...", "evidence": "...", "citation_ids": ["cite_1"]}],
    "weaknesses": [{"weakness": "...", "evidence": "...", "citation_ids": ["cite_1"]}],
    "funding": {"total_raised": "...", "last_round": "...", "investors": ["..."], "citation_ids": ["cite_1"]},
    "recent_developments": [{"development": "...", "date": "...", "citation_ids": ["cite_1"]}],
    "citation_ids": ["cite_1"]}],
  "indirect_competitors": [{"name": "...", "type": "...", "description": "...", "why_competitive": "...", "market_overlap": "...", "citation_ids": ["cite_1"]}],
  "market_structure": {"type": "...", "description": "...", "concentration": "...", "key_players": [{"name": "...", "estimated_share": "...", "citation_ids": ["cite_1"]}], "trends": ["..."], "citation_ids": ["cite_1"]},
  "barriers": [{"type": "...", "description": "...", "severity": "...", "evidence": "...", "affected_entrants": "...", "citation_ids": ["cite_1"]}],
  "white_space": [{"opportunity": "...", "description": "...", "evidence": "...", "potential_size": "...", "citation_ids": ["cite_1"]}],
  "citations": [...]
}`,
		task: "Given the problem and previous research, map the competitive landscape.",
	},
	domain.StageMarket: {
		role:    "You are an expert market analyst specializing in market sizing, trends and customer analysis.",
		sources: "Prefer market research firms, industry associations, government data, financial research and public company filings.",
		focus: []string{
			"Market size: TAM, SAM and SOM with clear methodology",
			"Growth trends: historical rates and projections with evidence",
			"Customer segments with quantified characteristics",
			"Pricing benchmarks with verified sources",
		},
		schema: `{
  "market_size": {"tam": {"value": "...", "unit": "...", "year": "...", "geography": "...", "methodology": "...", "growth_rate": "...", "citation_ids": ["cite_1"]}, "sam": {...}, "som": {...}},
  "growth_trends": {"historical": {"cagr": "...", "time_period": "...", "citation_ids": ["cite_1"]}, "projected": {"cagr": "...", "time_period": "...", "confidence": "...", "key_milestones": ["..."], "citation_ids": ["cite_1"]},
    "drivers": [{"driver": "...", "impact": "...", "citation_ids": ["cite_1"]}], "headwinds": [{"headwind": "...", "impact": "...", "citation_ids": ["cite_1"]}]},
  "customer_segments": [{"segment_name": "...", "size": {"value": "...", "citation_ids": ["cite_1"]}, "needs": ["..."], "citation_ids": ["cite_1"]}],
  "pricing_benchmarks": {"examples": [{"product": "...", "company": "...", "price": "...", "model": "...", "features": "...", "citation_ids": ["cite_1"]}], "citation_ids": ["cite_1"]},
  "citations": [...]
}`,
		task: "Given the problem and previous research, quantify the market opportunity.",
	},
}

// BuildAnalysisPrompt returns the system and user prompts for an analysis
// stage. upstream findings are rendered in pipeline order.
func BuildAnalysisPrompt(stage domain.Stage, instructions string, upstream domain.FindingsSet, webSearch bool, now time.Time) (system, user string, err error) {
	sp, ok := stagePrompts[stage]
	if !ok {
		return "", "", domain.NewValidationError("stage", fmt.Sprintf("no prompt for stage %q", stage))
	}

	var sb strings.Builder
	sb.WriteString(sp.role)
	sb.WriteString("\n\n")
	sb.WriteString(citationRules)
	sb.WriteString("\n")
	sb.WriteString(sp.sources)
	sb.WriteString("\n\nYour role is to identify:\n")
	for i, f := range sp.focus {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, f)
	}
	if webSearch {
		sb.WriteString("\nUse web_search to find authoritative sources.\n")
	}
	sb.WriteString("\n")
	sb.WriteString(outputRules)
	sb.WriteString("\n")
	sb.WriteString(sp.schema)
	system = sb.String()

	sb.Reset()
	sb.WriteString("PROBLEM CONTEXT:\n")
	sb.WriteString(instructions)
	sb.WriteString("\n")
	if err := writeFindings(&sb, upstream); err != nil {
		return "", "", err
	}
	sb.WriteString("\n")
	sb.WriteString(sp.task)
	fmt.Fprintf(&sb, "\n\nToday's date is %s. Use it for date_accessed in citations.", now.UTC().Format(researchDateLayout))
	user = sb.String()

	return system, user, nil
}

// writeFindings renders findings in pipeline order as labelled JSON blocks.
func writeFindings(sb *strings.Builder, set domain.FindingsSet) error {
	for _, s := range domain.AnalysisStages {
		f, ok := set[s]
		if !ok {
			continue
		}
		raw, err := json.MarshalIndent(f, "", "  ")
		if err != nil {
			return fmt.Errorf("render %s findings: %w", s, err)
		}
		fmt.Fprintf(sb, "\nPREVIOUS FINDINGS - %s:\n%s\n", strings.ToUpper(s.FindingsKey()), raw)
	}
	return nil
}

const synthesisSystemPrompt = `You are an executive business analyst writing a market research report for investors making go/no-go decisions.

Synthesize the findings of the research stages into an executive summary with these sections:
1. Executive Summary: key takeaways and recommendation
2. Problem Statement
3. Key Obstacles & Challenges
4. Existing Solutions Analysis
5. Legal & Regulatory Landscape
6. Competitive Dynamics
7. Market Opportunity
8. Strategic Recommendations

CITATION USAGE:
- Reference sources inline with their bibliography ids, e.g. "valued at $2.5B [mkt_1]" or [leg_2, comp_1].
- Only use ids that appear in the bibliography.
- Cite every quantitative claim.

Write in a professional, analytical tone with specific figures.`

// BuildSynthesisPrompt returns the prompts for the executive summary. The
// findings must already carry consolidated citation ids.
func BuildSynthesisPrompt(instructions string, findings domain.FindingsSet, bibliography []domain.Citation) (system, user string, err error) {
	var sb strings.Builder
	sb.WriteString("Synthesize the following research findings into an executive summary.\n\nPROBLEM CONTEXT:\n")
	sb.WriteString(instructions)
	sb.WriteString("\n")
	if err := writeFindings(&sb, findings); err != nil {
		return "", "", err
	}

	sb.WriteString("\nBIBLIOGRAPHY:\n")
	if len(bibliography) == 0 {
		sb.WriteString("(no sources)\n")
	}
	for _, c := range bibliography {
		fmt.Fprintf(&sb, "[%s] %s - %s\n", c.ID(), c.Title, c.URL)
	}
	return synthesisSystemPrompt, sb.String(), nil
}
