package citations

import (
	"fmt"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-pipeline-service/internal/domain"
)

func cite(id, url, title string) domain.Citation {
	return domain.Citation{LocalID: id, URL: url, Title: title}
}

func legalWith(cites []domain.Citation, text string, ids ...string) *domain.LegalFindings {
	return &domain.LegalFindings{
		IndustryRegulations: []domain.Regulation{{
			RegulationName: "TCPA",
			Requirements:   text,
			CitationIDs:    ids,
		}},
		FindingsBase: domain.FindingsBase{Citations: cites},
	}
}

func obstaclesWith(cites []domain.Citation, text string, ids ...string) *domain.ObstaclesFindings {
	return &domain.ObstaclesFindings{
		Technical: []domain.Obstacle{{Obstacle: "spoofed caller ids", Evidence: text, CitationIDs: ids}},
		FindingsBase: domain.FindingsBase{Citations: cites},
	}
}

func TestConsolidate_AssignsPrefixedSequence(t *testing.T) {
	obs := obstaclesWith([]domain.Citation{
		cite("cite_1", "https://a", "A"),
		cite("cite_2", "https://b", "B"),
	}, "see [cite_2]", "cite_1")
	legal := legalWith([]domain.Citation{
		cite("cite_1", "https://c", "C"),
		cite("cite_2", "https://d", "D"),
		cite("cite_3", "https://e", "E"),
	}, "rules [cite_3, cite_1]", "cite_3")

	res, err := Consolidate([]StageFindings{
		{Stage: domain.StageObstacles, Findings: obs},
		{Stage: domain.StageLegal, Findings: legal},
	})
	require.NoError(t, err)

	ids := make([]string, 0, len(res.Bibliography))
	for _, c := range res.Bibliography {
		ids = append(ids, c.GlobalID)
	}
	assert.Equal(t, []string{"obs_1", "obs_2", "leg_1", "leg_2", "leg_3"}, ids)
	assert.Equal(t, "leg_3", res.Mapping[Key{Stage: domain.StageLegal, LocalID: "cite_3"}])
	assert.Equal(t, "obs_1", res.Mapping[Key{Stage: domain.StageObstacles, LocalID: "cite_1"}])

	gotObs := res.Findings[0].Findings.(*domain.ObstaclesFindings)
	assert.Equal(t, []string{"obs_1"}, gotObs.Technical[0].CitationIDs)
	assert.Equal(t, "see [obs_2]", gotObs.Technical[0].Evidence)

	gotLegal := res.Findings[1].Findings.(*domain.LegalFindings)
	assert.Equal(t, []string{"leg_3"}, gotLegal.IndustryRegulations[0].CitationIDs)
	assert.Equal(t, "rules [leg_3, leg_1]", gotLegal.IndustryRegulations[0].Requirements)
	assert.Equal(t, "cite_3", gotLegal.Citations[2].LocalID)

	assert.Empty(t, res.Unresolved)
	assert.Equal(t, 0, res.Dropped)
	assert.Equal(t, 5, res.Input)
}

func TestConsolidate_DoesNotMutateInput(t *testing.T) {
	legal := legalWith([]domain.Citation{cite("cite_1", "https://c", "C")}, "[cite_1]", "cite_1")

	_, err := Consolidate([]StageFindings{{Stage: domain.StageLegal, Findings: legal}})
	require.NoError(t, err)

	assert.Equal(t, []string{"cite_1"}, legal.IndustryRegulations[0].CitationIDs)
	assert.Equal(t, "[cite_1]", legal.IndustryRegulations[0].Requirements)
	assert.Empty(t, legal.Citations[0].GlobalID)
}

func TestConsolidate_DropsInvalidRecords(t *testing.T) {
	legal := legalWith([]domain.Citation{
		cite("cite_1", "", "No URL"),
		cite("cite_2", "https://d", "D"),
		cite("cite_3", "https://e", ""),
		cite("cite_4", "https://f", "F"),
	}, "", "cite_1", "cite_2", "cite_4")

	res, err := Consolidate([]StageFindings{{Stage: domain.StageLegal, Findings: legal}})
	require.NoError(t, err)

	require.Len(t, res.Bibliography, 2)
	assert.Equal(t, "leg_1", res.Bibliography[0].GlobalID)
	assert.Equal(t, "cite_2", res.Bibliography[0].LocalID)
	assert.Equal(t, "leg_2", res.Bibliography[1].GlobalID)
	assert.Equal(t, 2, res.Dropped)
	assert.Equal(t, res.Input, len(res.Bibliography)+res.Dropped)

	// The dropped record's reference stays in place and is flagged.
	gotLegal := res.Findings[0].Findings.(*domain.LegalFindings)
	assert.Equal(t, []string{"cite_1", "leg_1", "leg_2"}, gotLegal.IndustryRegulations[0].CitationIDs)
	assert.Equal(t, []domain.UnresolvedReference{{Stage: domain.StageLegal, LocalID: "cite_1"}}, res.Unresolved)
}

func TestConsolidate_FlagsUnknownReferences(t *testing.T) {
	obs := obstaclesWith([]domain.Citation{cite("cite_1", "https://a", "A")}, "per [cite_9] and [cite_9]", "cite_1", "cite_7")

	res, err := Consolidate([]StageFindings{{Stage: domain.StageObstacles, Findings: obs}})
	require.NoError(t, err)

	got := res.Findings[0].Findings.(*domain.ObstaclesFindings)
	assert.Equal(t, "per [cite_9] and [cite_9]", got.Technical[0].Evidence)
	assert.Equal(t, []string{"obs_1", "cite_7"}, got.Technical[0].CitationIDs)
	assert.ElementsMatch(t, []domain.UnresolvedReference{
		{Stage: domain.StageObstacles, LocalID: "cite_9"},
		{Stage: domain.StageObstacles, LocalID: "cite_7"},
	}, res.Unresolved)
}

func TestConsolidate_ReferencesAreStageScoped(t *testing.T) {
	// cite_1 exists in obstacles but not in legal: legal's reference must not
	// resolve to the obstacles citation.
	obs := obstaclesWith([]domain.Citation{cite("cite_1", "https://a", "A")}, "", "cite_1")
	legal := legalWith(nil, "", "cite_1")

	res, err := Consolidate([]StageFindings{
		{Stage: domain.StageObstacles, Findings: obs},
		{Stage: domain.StageLegal, Findings: legal},
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.UnresolvedReference{{Stage: domain.StageLegal, LocalID: "cite_1"}}, res.Unresolved)
}

func TestConsolidate_DuplicateLocalIDKeepsFirstMapping(t *testing.T) {
	legal := legalWith([]domain.Citation{
		cite("cite_1", "https://a", "A"),
		cite("cite_1", "https://b", "B"),
	}, "", "cite_1")

	res, err := Consolidate([]StageFindings{{Stage: domain.StageLegal, Findings: legal}})
	require.NoError(t, err)
	require.Len(t, res.Bibliography, 2)
	assert.Equal(t, "leg_1", res.Mapping[Key{Stage: domain.StageLegal, LocalID: "cite_1"}])
	assert.Equal(t, "leg_2", res.Bibliography[1].GlobalID)
}

func TestConsolidate_RejectsBadInput(t *testing.T) {
	legal := legalWith(nil, "")
	_, err := Consolidate([]StageFindings{
		{Stage: domain.StageLegal, Findings: legal},
		{Stage: domain.StageLegal, Findings: legal},
	})
	require.Error(t, err)

	_, err = Consolidate([]StageFindings{{Stage: domain.StageLegal}})
	require.Error(t, err)
}

func TestConsolidate_CountPreservedAndIDsDistinct(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	stages := domain.AnalysisStages

	for round := 0; round < 50; round++ {
		var input []StageFindings
		valid := 0
		for _, s := range stages {
			f, err := domain.NewFindings(s)
			require.NoError(t, err)
			n := rng.Intn(8)
			cites := make([]domain.Citation, 0, n)
			for i := 0; i < n; i++ {
				c := cite(fmt.Sprintf("cite_%d", i+1), fmt.Sprintf("https://%s/%d", s, i), fmt.Sprintf("T%d", i))
				if rng.Intn(5) == 0 {
					c.URL = ""
				} else {
					valid++
				}
				cites = append(cites, c)
			}
			f.SetCitations(cites)
			input = append(input, StageFindings{Stage: s, Findings: f})
		}

		res, err := Consolidate(input)
		require.NoError(t, err)
		require.Len(t, res.Bibliography, valid)
		assert.Equal(t, res.Input, valid+res.Dropped)

		ids := make(map[string]bool)
		for _, c := range res.Bibliography {
			assert.False(t, ids[c.GlobalID], "duplicate id %s", c.GlobalID)
			ids[c.GlobalID] = true
		}
	}
}

var findingsBaseType = reflect.TypeOf(domain.FindingsBase{})

// fillEveryField sets every string in v, including list elements and fields
// behind nil pointers, to a text carrying an inline [cite_1]. citation_ids
// lists get cite_1. The embedded citation records are left alone.
func fillEveryField(v reflect.Value) {
	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		fillEveryField(v.Elem())
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			field := v.Type().Field(i)
			switch {
			case field.Type == findingsBaseType:
			case field.Name == "CitationIDs":
				v.Field(i).Set(reflect.ValueOf([]string{"cite_1"}))
			default:
				fillEveryField(v.Field(i))
			}
		}
	case reflect.Slice:
		list := reflect.MakeSlice(v.Type(), 2, 2)
		for i := 0; i < list.Len(); i++ {
			fillEveryField(list.Index(i))
		}
		v.Set(list)
	case reflect.String:
		v.SetString(fmt.Sprintf("%s [cite_1]", v.Type().Name()))
	}
}

// stringsOf collects every string outside the embedded citation records.
func stringsOf(v reflect.Value, out *[]string) {
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface:
		if !v.IsNil() {
			stringsOf(v.Elem(), out)
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if v.Type().Field(i).Type != findingsBaseType {
				stringsOf(v.Field(i), out)
			}
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			stringsOf(v.Index(i), out)
		}
	case reflect.String:
		*out = append(*out, v.String())
	}
}

func TestConsolidate_RewritesEveryTextField(t *testing.T) {
	for _, stage := range domain.AnalysisStages {
		t.Run(string(stage), func(t *testing.T) {
			f, err := domain.NewFindings(stage)
			require.NoError(t, err)
			fillEveryField(reflect.ValueOf(f))
			f.SetCitations([]domain.Citation{cite("cite_1", "https://a", "A")})

			var before []string
			stringsOf(reflect.ValueOf(f), &before)
			require.NotEmpty(t, before)

			res, err := Consolidate([]StageFindings{{Stage: stage, Findings: f}})
			require.NoError(t, err)
			assert.Empty(t, res.Unresolved)

			want := stage.Prefix() + "_1"
			var after []string
			stringsOf(reflect.ValueOf(res.Findings[0].Findings), &after)
			require.Len(t, after, len(before))
			for _, text := range after {
				assert.NotContains(t, text, "cite_1")
				assert.True(t, strings.Contains(text, want), "%q does not reference %s", text, want)
				assert.Empty(t, UnresolvedIn(text, res.Bibliography))
			}
		})
	}
}

func TestConsolidate_FlagsUnknownReferenceInAnyField(t *testing.T) {
	legal := &domain.LegalFindings{
		IndustryRegulations: []domain.Regulation{{
			RegulationName:         "TCPA [cite_1]",
			ImplementationTimeline: "6 months [cite_4]",
			CitationIDs:            []string{},
		}},
		FindingsBase: domain.FindingsBase{Citations: []domain.Citation{cite("cite_1", "https://a", "A")}},
	}
	market := &domain.MarketFindings{
		MarketSize: &domain.MarketSize{TAM: &domain.SizeEstimate{Value: "$2B", Assumptions: "per analyst [cite_2]"}},
		CustomerSegments: []domain.CustomerSegment{{SegmentName: "carriers", Needs: []string{"fewer robocalls [cite_1]"}}},
		FindingsBase:     domain.FindingsBase{Citations: []domain.Citation{cite("cite_1", "https://m", "M")}},
	}

	res, err := Consolidate([]StageFindings{
		{Stage: domain.StageLegal, Findings: legal},
		{Stage: domain.StageMarket, Findings: market},
	})
	require.NoError(t, err)

	gotLegal := res.Findings[0].Findings.(*domain.LegalFindings).IndustryRegulations[0]
	assert.Equal(t, "TCPA [leg_1]", gotLegal.RegulationName)
	assert.Equal(t, "6 months [cite_4]", gotLegal.ImplementationTimeline)

	gotMarket := res.Findings[1].Findings.(*domain.MarketFindings)
	assert.Equal(t, "per analyst [cite_2]", gotMarket.MarketSize.TAM.Assumptions)
	assert.Equal(t, []string{"fewer robocalls [mkt_1]"}, gotMarket.CustomerSegments[0].Needs)

	assert.ElementsMatch(t, []domain.UnresolvedReference{
		{Stage: domain.StageLegal, LocalID: "cite_4"},
		{Stage: domain.StageMarket, LocalID: "cite_2"},
	}, res.Unresolved)
}

func TestInlineReferences(t *testing.T) {
	text := "Market is $2.5B [mkt_1]. Rules apply [leg_1, leg_2]. Again [mkt_1]. Not a ref [2019] or [sic]."
	assert.Equal(t, []string{"mkt_1", "leg_1", "leg_2"}, InlineReferences(text))
}

func TestUnresolvedIn(t *testing.T) {
	bib := []domain.Citation{{LocalID: "cite_1", GlobalID: "mkt_1"}, {LocalID: "cite_1", GlobalID: "leg_1"}}
	assert.Empty(t, UnresolvedIn("ok [mkt_1] [leg_1]", bib))
	assert.Equal(t, []string{"comp_4"}, UnresolvedIn("bad [comp_4] ok [mkt_1]", bib))
}

func FuzzConsolidateText(f *testing.F) {
	f.Add("see [cite_1] and [cite_2, cite_3]")
	f.Add("[")
	f.Add("[cite_1,]")
	f.Add("no refs at all")
	f.Fuzz(func(t *testing.T, text string) {
		obs := obstaclesWith([]domain.Citation{
			cite("cite_1", "https://a", "A"),
			cite("cite_2", "https://b", "B"),
		}, text, "cite_1")

		res, err := Consolidate([]StageFindings{{Stage: domain.StageObstacles, Findings: obs}})
		if err != nil {
			t.Fatalf("consolidate: %v", err)
		}
		if len(res.Bibliography) != 2 {
			t.Fatalf("bibliography size %d", len(res.Bibliography))
		}
		got := res.Findings[0].Findings.(*domain.ObstaclesFindings).Technical[0].Evidence
		unresolved := make(map[string]bool)
		for _, u := range res.Unresolved {
			unresolved[u.LocalID] = true
		}
		for _, id := range UnresolvedIn(got, res.Bibliography) {
			if !unresolved[id] {
				t.Fatalf("reference %q neither resolved nor flagged in %q", id, got)
			}
		}
	})
}
