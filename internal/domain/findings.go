package domain

import (
	"encoding/json"
	"fmt"
)

// Findings is the structured output of one analysis stage. Each stage has
// its own concrete type; DecodeFindings selects it from the stage name.
type Findings interface {
	Stage() Stage
	CitationList() []Citation
	SetCitations([]Citation)
	ParseFailed() bool
	// VisitReferences passes every citation_ids list and every other string
	// field of the findings, including list elements, to v. The citation
	// records and parse-error fields are not visited.
	VisitReferences(v ReferenceVisitor)
}

// ReferenceVisitor rewrites citation references in place.
type ReferenceVisitor interface {
	IDs(ids []string)
	Text(s *string)
}

// FindingsBase holds the fields shared by every stage's findings.
type FindingsBase struct {
	Citations   []Citation `json:"citations"`
	ParseError  string     `json:"parse_error,omitempty"`
	RawResponse string     `json:"raw_response,omitempty"`
}

// CitationList returns the stage's citations.
func (b *FindingsBase) CitationList() []Citation { return b.Citations }

// SetCitations replaces the stage's citations.
func (b *FindingsBase) SetCitations(c []Citation) { b.Citations = c }

// ParseFailed reports whether the findings are a parse-error placeholder.
func (b *FindingsBase) ParseFailed() bool { return b.ParseError != "" }

// NewFindings returns an empty findings value for an analysis stage.
func NewFindings(stage Stage) (Findings, error) {
	switch stage {
	case StageObstacles:
		return &ObstaclesFindings{}, nil
	case StageSolutions:
		return &SolutionsFindings{}, nil
	case StageLegal:
		return &LegalFindings{}, nil
	case StageCompetitor:
		return &CompetitorFindings{}, nil
	case StageMarket:
		return &MarketFindings{}, nil
	default:
		return nil, NewValidationError("stage", fmt.Sprintf("stage %q has no findings schema", stage))
	}
}

// DecodeFindings parses raw JSON into the concrete findings type for stage.
func DecodeFindings(stage Stage, raw []byte) (Findings, error) {
	f, err := NewFindings(stage)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, fmt.Errorf("decode %s findings: %w", stage, err)
	}
	return f, nil
}

// EncodeFindings serializes findings to JSON.
func EncodeFindings(f Findings) ([]byte, error) {
	return json.Marshal(f)
}

// CloneFindings returns a deep copy of f.
func CloneFindings(f Findings) (Findings, error) {
	raw, err := EncodeFindings(f)
	if err != nil {
		return nil, err
	}
	return DecodeFindings(f.Stage(), raw)
}

const (
	maxRawResponse   = 1000
	maxInsightLength = 500
)

// PlaceholderFindings is substituted when a stage's completion output cannot
// be parsed. It is flagged with ParseError and keeps a prefix of the raw text.
func PlaceholderFindings(stage Stage, raw, reason string) (Findings, error) {
	f, err := NewFindings(stage)
	if err != nil {
		return nil, err
	}
	base := baseOf(f)
	base.Citations = []Citation{}
	base.ParseError = reason
	base.RawResponse = truncate(raw, maxRawResponse)
	if o, ok := f.(*ObstaclesFindings); ok {
		o.CriticalInsights = []Insight{{
			Insight:     truncate(raw, maxInsightLength),
			Implication: "Parse error",
			CitationIDs: []string{},
		}}
	}
	return f, nil
}

func baseOf(f Findings) *FindingsBase {
	switch v := f.(type) {
	case *ObstaclesFindings:
		return &v.FindingsBase
	case *SolutionsFindings:
		return &v.FindingsBase
	case *LegalFindings:
		return &v.FindingsBase
	case *CompetitorFindings:
		return &v.FindingsBase
	case *MarketFindings:
		return &v.FindingsBase
	}
	return &FindingsBase{}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// FindingsSet maps stages to their recorded findings. It serializes with the
// client-facing keys (see Stage.FindingsKey).
type FindingsSet map[Stage]Findings

// MarshalJSON implements json.Marshaler.
func (s FindingsSet) MarshalJSON() ([]byte, error) {
	out := make(map[string]Findings, len(s))
	for stage, f := range s {
		out[stage.FindingsKey()] = f
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *FindingsSet) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(FindingsSet, len(raw))
	for key, msg := range raw {
		stage := Stage(key)
		if key == StageCompetitor.FindingsKey() {
			stage = StageCompetitor
		}
		f, err := DecodeFindings(stage, msg)
		if err != nil {
			return err
		}
		out[stage] = f
	}
	*s = out
	return nil
}

// --- obstacles ---

// ObstaclesFindings is the output of the obstacles stage.
type ObstaclesFindings struct {
	Technical        []Obstacle `json:"technical"`
	Market           []Obstacle `json:"market"`
	Regulatory       []Obstacle `json:"regulatory"`
	User             []Obstacle `json:"user"`
	Financial        []Obstacle `json:"financial"`
	CriticalInsights []Insight  `json:"critical_insights"`
	FindingsBase
}

// Obstacle is one identified barrier.
type Obstacle struct {
	Obstacle    string   `json:"obstacle"`
	Severity    string   `json:"severity,omitempty"`
	Evidence    string   `json:"evidence,omitempty"`
	CitationIDs []string `json:"citation_ids"`
}

// Insight is a strategic takeaway.
type Insight struct {
	Insight     string   `json:"insight"`
	Implication string   `json:"implication,omitempty"`
	CitationIDs []string `json:"citation_ids"`
}

func (f *ObstaclesFindings) Stage() Stage { return StageObstacles }

func (f *ObstaclesFindings) VisitReferences(v ReferenceVisitor) {
	for _, group := range [][]Obstacle{f.Technical, f.Market, f.Regulatory, f.User, f.Financial} {
		for i := range group {
			o := &group[i]
			visitTexts(v, &o.Obstacle, &o.Severity, &o.Evidence)
			v.IDs(o.CitationIDs)
		}
	}
	for i := range f.CriticalInsights {
		in := &f.CriticalInsights[i]
		visitTexts(v, &in.Insight, &in.Implication)
		v.IDs(in.CitationIDs)
	}
}

// visitTexts passes each field to v.Text.
func visitTexts(v ReferenceVisitor, fields ...*string) {
	for _, s := range fields {
		v.Text(s)
	}
}

func visitList(v ReferenceVisitor, list []string) {
	for i := range list {
		v.Text(&list[i])
	}
}

// --- solutions ---

// SolutionsFindings is the output of the solutions stage.
type SolutionsFindings struct {
	ManualSolutions  []ManualSolution  `json:"manual_solutions"`
	DigitalSolutions []DigitalSolution `json:"digital_solutions"`
	Workarounds      []Workaround      `json:"workarounds"`
	Gaps             []Gap             `json:"gaps"`
	FindingsBase
}

type ManualSolution struct {
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	Effectiveness string   `json:"effectiveness,omitempty"`
	Limitations   string   `json:"limitations,omitempty"`
	AdoptionLevel string   `json:"adoption_level,omitempty"`
	CitationIDs   []string `json:"citation_ids"`
}

type DigitalSolution struct {
	Name           string   `json:"name"`
	Company        string   `json:"company,omitempty"`
	URL            string   `json:"url,omitempty"`
	Description    string   `json:"description,omitempty"`
	MarketPosition string   `json:"market_position,omitempty"`
	Strengths      string   `json:"strengths,omitempty"`
	Weaknesses     string   `json:"weaknesses,omitempty"`
	PricingModel   string   `json:"pricing_model,omitempty"`
	UserBase       string   `json:"user_base,omitempty"`
	CitationIDs    []string `json:"citation_ids"`
}

type Workaround struct {
	Description string   `json:"description"`
	Prevalence  string   `json:"prevalence,omitempty"`
	Limitations string   `json:"limitations,omitempty"`
	CitationIDs []string `json:"citation_ids"`
}

type Gap struct {
	Gap             string   `json:"gap"`
	Evidence        string   `json:"evidence,omitempty"`
	OpportunitySize string   `json:"opportunity_size,omitempty"`
	CitationIDs     []string `json:"citation_ids"`
}

func (f *SolutionsFindings) Stage() Stage { return StageSolutions }

func (f *SolutionsFindings) VisitReferences(v ReferenceVisitor) {
	for i := range f.ManualSolutions {
		s := &f.ManualSolutions[i]
		visitTexts(v, &s.Name, &s.Description, &s.Effectiveness, &s.Limitations, &s.AdoptionLevel)
		v.IDs(s.CitationIDs)
	}
	for i := range f.DigitalSolutions {
		s := &f.DigitalSolutions[i]
		visitTexts(v, &s.Name, &s.Company, &s.URL, &s.Description, &s.MarketPosition,
			&s.Strengths, &s.Weaknesses, &s.PricingModel, &s.UserBase)
		v.IDs(s.CitationIDs)
	}
	for i := range f.Workarounds {
		w := &f.Workarounds[i]
		visitTexts(v, &w.Description, &w.Prevalence, &w.Limitations)
		v.IDs(w.CitationIDs)
	}
	for i := range f.Gaps {
		g := &f.Gaps[i]
		visitTexts(v, &g.Gap, &g.Evidence, &g.OpportunitySize)
		v.IDs(g.CitationIDs)
	}
}

// --- legal ---

// LegalFindings is the output of the legal stage.
type LegalFindings struct {
	IndustryRegulations   []Regulation           `json:"industry_regulations"`
	DataProtection        []DataProtectionLaw    `json:"data_protection"`
	FinancialRegs         []FinancialRegulation  `json:"financial_regs"`
	RegionalVariations    []RegionalVariation    `json:"regional_variations"`
	LicensingRequirements []LicensingRequirement `json:"licensing_requirements"`
	FindingsBase
}

type Regulation struct {
	RegulationName         string   `json:"regulation_name"`
	RegulatoryBody         string   `json:"regulatory_body,omitempty"`
	Jurisdiction           string   `json:"jurisdiction,omitempty"`
	Requirements           string   `json:"requirements,omitempty"`
	Applicability          string   `json:"applicability,omitempty"`
	Complexity             string   `json:"complexity,omitempty"`
	ImplementationTimeline string   `json:"implementation_timeline,omitempty"`
	CitationIDs            []string `json:"citation_ids"`
}

type DataProtectionLaw struct {
	LawName                string   `json:"law_name"`
	Jurisdiction           string   `json:"jurisdiction,omitempty"`
	KeyRequirements        string   `json:"key_requirements,omitempty"`
	ApplicabilityThreshold string   `json:"applicability_threshold,omitempty"`
	Penalties              string   `json:"penalties,omitempty"`
	ComplianceSteps        string   `json:"compliance_steps,omitempty"`
	CitationIDs            []string `json:"citation_ids"`
}

type FinancialRegulation struct {
	RegulationName  string   `json:"regulation_name"`
	RegulatoryBody  string   `json:"regulatory_body,omitempty"`
	AppliesIf       string   `json:"applies_if,omitempty"`
	Requirements    string   `json:"requirements,omitempty"`
	LicensingNeeded string   `json:"licensing_needed,omitempty"`
	CitationIDs     []string `json:"citation_ids"`
}

type RegionalVariation struct {
	Region                  string   `json:"region"`
	UniqueRequirements      string   `json:"unique_requirements,omitempty"`
	DifferencesFromBaseline string   `json:"differences_from_baseline,omitempty"`
	Difficulty              string   `json:"difficulty,omitempty"`
	CitationIDs             []string `json:"citation_ids"`
}

type LicensingRequirement struct {
	LicenseType      string   `json:"license_type"`
	IssuingAuthority string   `json:"issuing_authority,omitempty"`
	Requirements     string   `json:"requirements,omitempty"`
	Timeline         string   `json:"timeline,omitempty"`
	CostRange        string   `json:"cost_range,omitempty"`
	Renewal          string   `json:"renewal,omitempty"`
	CitationIDs      []string `json:"citation_ids"`
}

func (f *LegalFindings) Stage() Stage { return StageLegal }

func (f *LegalFindings) VisitReferences(v ReferenceVisitor) {
	for i := range f.IndustryRegulations {
		r := &f.IndustryRegulations[i]
		visitTexts(v, &r.RegulationName, &r.RegulatoryBody, &r.Jurisdiction, &r.Requirements,
			&r.Applicability, &r.Complexity, &r.ImplementationTimeline)
		v.IDs(r.CitationIDs)
	}
	for i := range f.DataProtection {
		r := &f.DataProtection[i]
		visitTexts(v, &r.LawName, &r.Jurisdiction, &r.KeyRequirements, &r.ApplicabilityThreshold,
			&r.Penalties, &r.ComplianceSteps)
		v.IDs(r.CitationIDs)
	}
	for i := range f.FinancialRegs {
		r := &f.FinancialRegs[i]
		visitTexts(v, &r.RegulationName, &r.RegulatoryBody, &r.AppliesIf, &r.Requirements, &r.LicensingNeeded)
		v.IDs(r.CitationIDs)
	}
	for i := range f.RegionalVariations {
		r := &f.RegionalVariations[i]
		visitTexts(v, &r.Region, &r.UniqueRequirements, &r.DifferencesFromBaseline, &r.Difficulty)
		v.IDs(r.CitationIDs)
	}
	for i := range f.LicensingRequirements {
		r := &f.LicensingRequirements[i]
		visitTexts(v, &r.LicenseType, &r.IssuingAuthority, &r.Requirements, &r.Timeline, &r.CostRange, &r.Renewal)
		v.IDs(r.CitationIDs)
	}
}

// --- competitor ---

// CompetitorFindings is the output of the competitor stage.
type CompetitorFindings struct {
	DirectCompetitors   []DirectCompetitor   `json:"direct_competitors"`
	IndirectCompetitors []IndirectCompetitor `json:"indirect_competitors"`
	MarketStructure     *MarketStructure     `json:"market_structure,omitempty"`
	Barriers            []Barrier            `json:"barriers"`
	WhiteSpace          []WhiteSpace         `json:"white_space"`
	FindingsBase
}

type DirectCompetitor struct {
	Name               string        `json:"name"`
	URL                string        `json:"url,omitempty"`
	Description        string        `json:"description,omitempty"`
	ValueProposition   string        `json:"value_proposition,omitempty"`
	MarketPosition     string        `json:"market_position,omitempty"`
	Strengths          []Strength    `json:"strengths,omitempty"`
	Weaknesses         []Weakness    `json:"weaknesses,omitempty"`
	Funding            *Funding      `json:"funding,omitempty"`
	RecentDevelopments []Development `json:"recent_developments,omitempty"`
	CitationIDs        []string      `json:"citation_ids"`
}

type Strength struct {
	Strength    string   `json:"strength"`
	Evidence    string   `json:"evidence,omitempty"`
	CitationIDs []string `json:"citation_ids"`
}

type Weakness struct {
	Weakness    string   `json:"weakness"`
	Evidence    string   `json:"evidence,omitempty"`
	CitationIDs []string `json:"citation_ids"`
}

type Funding struct {
	TotalRaised string   `json:"total_raised,omitempty"`
	LastRound   string   `json:"last_round,omitempty"`
	Investors   []string `json:"investors,omitempty"`
	CitationIDs []string `json:"citation_ids"`
}

type Development struct {
	Development string   `json:"development"`
	Date        string   `json:"date,omitempty"`
	CitationIDs []string `json:"citation_ids"`
}

type IndirectCompetitor struct {
	Name           string   `json:"name"`
	Type           string   `json:"type,omitempty"`
	Description    string   `json:"description,omitempty"`
	WhyCompetitive string   `json:"why_competitive,omitempty"`
	MarketOverlap  string   `json:"market_overlap,omitempty"`
	CitationIDs    []string `json:"citation_ids"`
}

type MarketStructure struct {
	Type          string      `json:"type,omitempty"`
	Description   string      `json:"description,omitempty"`
	Concentration string      `json:"concentration,omitempty"`
	KeyPlayers    []KeyPlayer `json:"key_players,omitempty"`
	Trends        []string    `json:"trends,omitempty"`
	CitationIDs   []string    `json:"citation_ids"`
}

type KeyPlayer struct {
	Name           string   `json:"name"`
	EstimatedShare string   `json:"estimated_share,omitempty"`
	CitationIDs    []string `json:"citation_ids"`
}

type Barrier struct {
	Type             string   `json:"type,omitempty"`
	Description      string   `json:"description"`
	Severity         string   `json:"severity,omitempty"`
	Evidence         string   `json:"evidence,omitempty"`
	AffectedEntrants string   `json:"affected_entrants,omitempty"`
	CitationIDs      []string `json:"citation_ids"`
}

type WhiteSpace struct {
	Opportunity   string   `json:"opportunity"`
	Description   string   `json:"description,omitempty"`
	Evidence      string   `json:"evidence,omitempty"`
	PotentialSize string   `json:"potential_size,omitempty"`
	CitationIDs   []string `json:"citation_ids"`
}

func (f *CompetitorFindings) Stage() Stage { return StageCompetitor }

func (f *CompetitorFindings) VisitReferences(v ReferenceVisitor) {
	for i := range f.DirectCompetitors {
		c := &f.DirectCompetitors[i]
		visitTexts(v, &c.Name, &c.URL, &c.Description, &c.ValueProposition, &c.MarketPosition)
		for j := range c.Strengths {
			visitTexts(v, &c.Strengths[j].Strength, &c.Strengths[j].Evidence)
			v.IDs(c.Strengths[j].CitationIDs)
		}
		for j := range c.Weaknesses {
			visitTexts(v, &c.Weaknesses[j].Weakness, &c.Weaknesses[j].Evidence)
			v.IDs(c.Weaknesses[j].CitationIDs)
		}
		if fd := c.Funding; fd != nil {
			visitTexts(v, &fd.TotalRaised, &fd.LastRound)
			visitList(v, fd.Investors)
			v.IDs(fd.CitationIDs)
		}
		for j := range c.RecentDevelopments {
			d := &c.RecentDevelopments[j]
			visitTexts(v, &d.Development, &d.Date)
			v.IDs(d.CitationIDs)
		}
		v.IDs(c.CitationIDs)
	}
	for i := range f.IndirectCompetitors {
		c := &f.IndirectCompetitors[i]
		visitTexts(v, &c.Name, &c.Type, &c.Description, &c.WhyCompetitive, &c.MarketOverlap)
		v.IDs(c.CitationIDs)
	}
	if ms := f.MarketStructure; ms != nil {
		visitTexts(v, &ms.Type, &ms.Description, &ms.Concentration)
		for j := range ms.KeyPlayers {
			visitTexts(v, &ms.KeyPlayers[j].Name, &ms.KeyPlayers[j].EstimatedShare)
			v.IDs(ms.KeyPlayers[j].CitationIDs)
		}
		visitList(v, ms.Trends)
		v.IDs(ms.CitationIDs)
	}
	for i := range f.Barriers {
		b := &f.Barriers[i]
		visitTexts(v, &b.Type, &b.Description, &b.Severity, &b.Evidence, &b.AffectedEntrants)
		v.IDs(b.CitationIDs)
	}
	for i := range f.WhiteSpace {
		w := &f.WhiteSpace[i]
		visitTexts(v, &w.Opportunity, &w.Description, &w.Evidence, &w.PotentialSize)
		v.IDs(w.CitationIDs)
	}
}

// --- market ---

// MarketFindings is the output of the market stage.
type MarketFindings struct {
	MarketSize        *MarketSize        `json:"market_size,omitempty"`
	GrowthTrends      *GrowthTrends      `json:"growth_trends,omitempty"`
	CustomerSegments  []CustomerSegment  `json:"customer_segments"`
	PricingBenchmarks *PricingBenchmarks `json:"pricing_benchmarks,omitempty"`
	FindingsBase
}

type MarketSize struct {
	TAM *SizeEstimate `json:"tam,omitempty"`
	SAM *SizeEstimate `json:"sam,omitempty"`
	SOM *SizeEstimate `json:"som,omitempty"`
}

type SizeEstimate struct {
	Value       string   `json:"value"`
	Unit        string   `json:"unit,omitempty"`
	Year        string   `json:"year,omitempty"`
	Geography   string   `json:"geography,omitempty"`
	Methodology string   `json:"methodology,omitempty"`
	GrowthRate  string   `json:"growth_rate,omitempty"`
	Assumptions string   `json:"assumptions,omitempty"`
	CitationIDs []string `json:"citation_ids"`
}

type GrowthTrends struct {
	Historical *GrowthPeriod `json:"historical,omitempty"`
	Projected  *GrowthPeriod `json:"projected,omitempty"`
	Drivers    []Driver      `json:"drivers,omitempty"`
	Headwinds  []Headwind    `json:"headwinds,omitempty"`
}

type GrowthPeriod struct {
	CAGR          string   `json:"cagr"`
	TimePeriod    string   `json:"time_period,omitempty"`
	Confidence    string   `json:"confidence,omitempty"`
	KeyMilestones []string `json:"key_milestones,omitempty"`
	CitationIDs   []string `json:"citation_ids"`
}

type Driver struct {
	Driver      string   `json:"driver"`
	Impact      string   `json:"impact,omitempty"`
	CitationIDs []string `json:"citation_ids"`
}

type Headwind struct {
	Headwind    string   `json:"headwind"`
	Impact      string   `json:"impact,omitempty"`
	CitationIDs []string `json:"citation_ids"`
}

type CustomerSegment struct {
	SegmentName string        `json:"segment_name"`
	Size        *SizeEstimate `json:"size,omitempty"`
	Needs       []string      `json:"needs,omitempty"`
	CitationIDs []string      `json:"citation_ids"`
}

type PricingBenchmarks struct {
	Examples    []PriceExample `json:"examples,omitempty"`
	CitationIDs []string       `json:"citation_ids"`
}

type PriceExample struct {
	Product     string   `json:"product"`
	Company     string   `json:"company,omitempty"`
	Price       string   `json:"price,omitempty"`
	Model       string   `json:"model,omitempty"`
	Features    string   `json:"features,omitempty"`
	CitationIDs []string `json:"citation_ids"`
}

func (f *MarketFindings) Stage() Stage { return StageMarket }

func (f *MarketFindings) VisitReferences(v ReferenceVisitor) {
	visitSize := func(s *SizeEstimate) {
		if s == nil {
			return
		}
		visitTexts(v, &s.Value, &s.Unit, &s.Year, &s.Geography, &s.Methodology, &s.GrowthRate, &s.Assumptions)
		v.IDs(s.CitationIDs)
	}
	if ms := f.MarketSize; ms != nil {
		visitSize(ms.TAM)
		visitSize(ms.SAM)
		visitSize(ms.SOM)
	}
	if gt := f.GrowthTrends; gt != nil {
		for _, p := range []*GrowthPeriod{gt.Historical, gt.Projected} {
			if p == nil {
				continue
			}
			visitTexts(v, &p.CAGR, &p.TimePeriod, &p.Confidence)
			visitList(v, p.KeyMilestones)
			v.IDs(p.CitationIDs)
		}
		for i := range gt.Drivers {
			visitTexts(v, &gt.Drivers[i].Driver, &gt.Drivers[i].Impact)
			v.IDs(gt.Drivers[i].CitationIDs)
		}
		for i := range gt.Headwinds {
			visitTexts(v, &gt.Headwinds[i].Headwind, &gt.Headwinds[i].Impact)
			v.IDs(gt.Headwinds[i].CitationIDs)
		}
	}
	for i := range f.CustomerSegments {
		seg := &f.CustomerSegments[i]
		v.Text(&seg.SegmentName)
		visitSize(seg.Size)
		visitList(v, seg.Needs)
		v.IDs(seg.CitationIDs)
	}
	if pb := f.PricingBenchmarks; pb != nil {
		for i := range pb.Examples {
			e := &pb.Examples[i]
			visitTexts(v, &e.Product, &e.Company, &e.Price, &e.Model, &e.Features)
			v.IDs(e.CitationIDs)
		}
		v.IDs(pb.CitationIDs)
	}
}
