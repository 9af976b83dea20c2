package evaluation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/campusworks/comp-eval/internal/errors"
)

func testTerm() Term {
	return Term{AcademicYear: "2025-2026", Semester: 1}
}

func completeScores(academic, innovation, social, cultural float64) ComponentScoreSet {
	return ComponentScoreSet{
		Academic:       &academic,
		Innovation:     &innovation,
		Social:         &social,
		CulturalSports: &cultural,
	}
}

func TestAggregateWeightedSum(t *testing.T) {
	tests := []struct {
		name     string
		weights  WeightTable
		scores   ComponentScoreSet
		bonus    map[string]float64
		expected float64
	}{
		{
			name:     "unit weights sum all dimensions",
			weights:  WeightTable{Academic: 1, Innovation: 1, Social: 1, CulturalSports: 1},
			scores:   completeScores(80, 5, 3, 2),
			expected: 90,
		},
		{
			name:     "academic only policy",
			weights:  WeightTable{Academic: 1, Innovation: 0, Social: 0, CulturalSports: 0},
			scores:   completeScores(80, 5, 3, 2),
			expected: 80,
		},
		{
			name:     "fractional weights",
			weights:  WeightTable{Academic: 0.7, Innovation: 0.1, Social: 0.1, CulturalSports: 0.1},
			scores:   completeScores(90, 10, 10, 10),
			expected: 66,
		},
		{
			name:    "bonus totals are purely additive",
			weights: WeightTable{Academic: 1, Innovation: 1, Social: 1, CulturalSports: 1},
			scores:  completeScores(80, 0, 0, 0),
			bonus: map[string]float64{
				"innovation": 5,
				"social":     2.5,
			},
			expected: 87.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg, err := NewAggregator(tt.weights)
			require.NoError(t, err)

			rec, err := agg.Aggregate(1001, testTerm(), tt.scores, tt.bonus, nil)
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, rec.TotalScore, 1e-9)
		})
	}
}

func TestAggregateBonusDelta(t *testing.T) {
	agg, err := NewAggregator(WeightTable{Academic: 1, Innovation: 1, Social: 1, CulturalSports: 1})
	require.NoError(t, err)

	scores := completeScores(80, 5, 3, 2)

	before, err := agg.Aggregate(1001, testTerm(), scores, map[string]float64{"innovation": 3}, nil)
	require.NoError(t, err)

	// One more entry of score 5 in the same category moves the total by
	// exactly 5, everything else held fixed
	after, err := agg.Aggregate(1001, testTerm(), scores, map[string]float64{"innovation": 8}, nil)
	require.NoError(t, err)

	assert.InDelta(t, 5.0, after.TotalScore-before.TotalScore, 1e-9)
}

func TestAggregateDeterministic(t *testing.T) {
	agg, err := NewAggregator(WeightTable{Academic: 1, Innovation: 0.5, Social: 0.5, CulturalSports: 0.5})
	require.NoError(t, err)

	scores := completeScores(77.5, 4, 6, 1)
	bonus := map[string]float64{"social": 2}

	first, err := agg.Aggregate(1001, testTerm(), scores, bonus, floatPtr(3.4))
	require.NoError(t, err)

	second, err := agg.Aggregate(1001, testTerm(), scores, bonus, floatPtr(3.4))
	require.NoError(t, err)

	assert.Equal(t, first.TotalScore, second.TotalScore)
	assert.Equal(t, first.Scores, second.Scores)
	assert.Equal(t, first.BonusTotals, second.BonusTotals)
}

func TestAggregateCarriesGPAAndResetsRanks(t *testing.T) {
	agg, err := NewAggregator(WeightTable{Academic: 1, Innovation: 1, Social: 1, CulturalSports: 1})
	require.NoError(t, err)

	rec, err := agg.Aggregate(1001, testTerm(), completeScores(80, 0, 0, 0), nil, floatPtr(3.75))
	require.NoError(t, err)

	require.NotNil(t, rec.GPA)
	assert.Equal(t, 3.75, *rec.GPA)
	assert.Nil(t, rec.ClassRank)
	assert.Nil(t, rec.GradeRank)
	assert.Equal(t, StateAggregated, rec.State())
}

func TestAggregateValidation(t *testing.T) {
	agg, err := NewAggregator(WeightTable{Academic: 1, Innovation: 1, Social: 1, CulturalSports: 1})
	require.NoError(t, err)

	tests := []struct {
		name      string
		studentID int64
		term      Term
		scores    ComponentScoreSet
	}{
		{
			name:      "rejects non-positive student id",
			studentID: 0,
			term:      testTerm(),
			scores:    completeScores(80, 5, 3, 2),
		},
		{
			name:      "rejects invalid semester",
			studentID: 1001,
			term:      Term{AcademicYear: "2025-2026", Semester: 3},
			scores:    completeScores(80, 5, 3, 2),
		},
		{
			name:      "rejects missing dimension",
			studentID: 1001,
			term:      testTerm(),
			scores: ComponentScoreSet{
				Academic:   floatPtr(80),
				Innovation: floatPtr(5),
				Social:     floatPtr(3),
			},
		},
		{
			name:      "rejects negative score",
			studentID: 1001,
			term:      testTerm(),
			scores:    completeScores(80, -1, 3, 2),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := agg.Aggregate(tt.studentID, tt.term, tt.scores, nil, nil)
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err))
		})
	}
}

func TestNewAggregatorRejectsBadTable(t *testing.T) {
	_, err := NewAggregator(WeightTable{Academic: -1, Innovation: 1, Social: 1, CulturalSports: 1})
	assert.Error(t, err)

	_, err = NewAggregator(WeightTable{})
	assert.Error(t, err)
}

func TestWeightStoreLoadAndSave(t *testing.T) {
	dir := t.TempDir()
	store := NewWeightStore(dir)

	t.Run("missing policy file falls back to default", func(t *testing.T) {
		table, err := store.Load("default")
		require.NoError(t, err)
		assert.NoError(t, table.Validate())
		assert.Equal(t, 1.0, table.Academic)
	})

	t.Run("save then load round-trips", func(t *testing.T) {
		want := WeightTable{Academic: 0.8, Innovation: 0.1, Social: 0.05, CulturalSports: 0.05}
		require.NoError(t, store.Save("strict", want))

		got, err := store.Load("strict")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("save rejects invalid table", func(t *testing.T) {
		err := store.Save("broken", WeightTable{Academic: -0.5})
		assert.Error(t, err)
	})
}
