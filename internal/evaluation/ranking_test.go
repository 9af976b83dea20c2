package evaluation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(v float64) *float64 {
	return &v
}

func makeRecord(studentID int64, total float64, gpa *float64) CompositeRecord {
	return CompositeRecord{
		StudentID:  studentID,
		Term:       Term{AcademicYear: "2025-2026", Semester: 1},
		TotalScore: total,
		GPA:        gpa,
	}
}

func TestAssignRanksCompetitionRanking(t *testing.T) {
	records := []CompositeRecord{
		makeRecord(1, 95, nil),
		makeRecord(2, 88, nil),
		makeRecord(3, 88, nil),
		makeRecord(4, 80, nil),
	}

	ranked, err := AssignRanks(records, ScopeClass)
	require.NoError(t, err)
	require.Len(t, ranked, 4)

	// Tied scores share a rank and the next rank skips
	assert.Equal(t, 1, *ranked[0].ClassRank)
	assert.Equal(t, 2, *ranked[1].ClassRank)
	assert.Equal(t, 2, *ranked[2].ClassRank)
	assert.Equal(t, 4, *ranked[3].ClassRank)
}

func TestAssignRanksOrdering(t *testing.T) {
	tests := []struct {
		name     string
		records  []CompositeRecord
		expected []int64 // student ids in expected output order
	}{
		{
			name: "higher total first",
			records: []CompositeRecord{
				makeRecord(1, 80, nil),
				makeRecord(2, 95, nil),
			},
			expected: []int64{2, 1},
		},
		{
			name: "equal totals break by GPA descending",
			records: []CompositeRecord{
				makeRecord(1, 88, floatPtr(3.2)),
				makeRecord(2, 88, floatPtr(3.9)),
			},
			expected: []int64{2, 1},
		},
		{
			name: "nil GPA sorts after present GPA",
			records: []CompositeRecord{
				makeRecord(1, 88, nil),
				makeRecord(2, 88, floatPtr(2.0)),
			},
			expected: []int64{2, 1},
		},
		{
			name: "equal totals and GPA break by student id ascending",
			records: []CompositeRecord{
				makeRecord(9, 88, floatPtr(3.5)),
				makeRecord(3, 88, floatPtr(3.5)),
				makeRecord(7, 88, nil),
				makeRecord(5, 88, nil),
			},
			expected: []int64{3, 9, 5, 7},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ranked, err := AssignRanks(tt.records, ScopeClass)
			require.NoError(t, err)
			require.Len(t, ranked, len(tt.expected))

			for i, id := range tt.expected {
				assert.Equal(t, id, ranked[i].StudentID, "position %d", i)
			}
		})
	}
}

func TestAssignRanksGPASplitsEqualTotals(t *testing.T) {
	// Students share a rank only when total score and GPA both match;
	// a GPA difference breaks the tie into distinct ranks
	records := []CompositeRecord{
		makeRecord(1, 88, floatPtr(3.9)),
		makeRecord(2, 88, floatPtr(3.1)),
		makeRecord(3, 95, nil),
	}

	ranked, err := AssignRanks(records, ScopeClass)
	require.NoError(t, err)

	assert.Equal(t, int64(3), ranked[0].StudentID)
	assert.Equal(t, 1, *ranked[0].ClassRank)
	assert.Equal(t, int64(1), ranked[1].StudentID)
	assert.Equal(t, 2, *ranked[1].ClassRank)
	assert.Equal(t, int64(2), ranked[2].StudentID)
	assert.Equal(t, 3, *ranked[2].ClassRank)
}

func TestAssignRanksIdempotent(t *testing.T) {
	records := []CompositeRecord{
		makeRecord(1, 95, nil),
		makeRecord(2, 88, floatPtr(3.0)),
		makeRecord(3, 88, floatPtr(3.5)),
		makeRecord(4, 80, nil),
	}

	first, err := AssignRanks(records, ScopeGrade)
	require.NoError(t, err)

	second, err := AssignRanks(first, ScopeGrade)
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].StudentID, second[i].StudentID)
		assert.Equal(t, *first[i].GradeRank, *second[i].GradeRank)
	}
}

func TestAssignRanksScopeIsolation(t *testing.T) {
	records := []CompositeRecord{
		makeRecord(1, 95, nil),
		makeRecord(2, 80, nil),
	}

	ranked, err := AssignRanks(records, ScopeClass)
	require.NoError(t, err)

	// A class pass never touches grade ranks
	for _, rec := range ranked {
		assert.NotNil(t, rec.ClassRank)
		assert.Nil(t, rec.GradeRank)
	}
}

func TestAssignRanksValidation(t *testing.T) {
	t.Run("rejects unknown scope", func(t *testing.T) {
		_, err := AssignRanks([]CompositeRecord{makeRecord(1, 90, nil)}, RankScope("school"))
		assert.Error(t, err)
	})

	t.Run("rejects mixed terms", func(t *testing.T) {
		a := makeRecord(1, 90, nil)
		b := makeRecord(2, 85, nil)
		b.Term = Term{AcademicYear: "2024-2025", Semester: 2}

		_, err := AssignRanks([]CompositeRecord{a, b}, ScopeClass)
		assert.Error(t, err)
	})

	t.Run("empty input yields empty output", func(t *testing.T) {
		ranked, err := AssignRanks(nil, ScopeClass)
		require.NoError(t, err)
		assert.Empty(t, ranked)
	})
}

func TestAssignRanksDoesNotMutateInput(t *testing.T) {
	records := []CompositeRecord{
		makeRecord(2, 80, nil),
		makeRecord(1, 95, nil),
	}

	_, err := AssignRanks(records, ScopeClass)
	require.NoError(t, err)

	assert.Equal(t, int64(2), records[0].StudentID)
	assert.Nil(t, records[0].ClassRank)
	assert.Nil(t, records[1].ClassRank)
}
