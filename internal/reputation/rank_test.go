package reputation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRankFor(t *testing.T) {
	tests := []struct {
		score int
		want  string
	}{
		{-40, RankNewcomer},
		{0, RankNewcomer},
		{49, RankNewcomer},
		{50, RankContributor},
		{149, RankContributor},
		{150, RankSolver},
		{299, RankSolver},
		{300, RankExplorer},
		{499, RankExplorer},
		{500, RankMentor},
		{749, RankMentor},
		{750, RankMaster},
		{100000, RankMaster},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, RankFor(tt.score), "score %d", tt.score)
	}
}

func TestRanksAreOrderedByFloor(t *testing.T) {
	floors := []int{0, 50, 150, 300, 500, 750}
	ranks := Ranks()

	assert.Len(t, ranks, len(floors))
	for i, floor := range floors {
		assert.Equal(t, ranks[i], RankFor(floor))
	}
}
