package reputation

// Rank tier names, lowest first.
const (
	RankNewcomer    = "Newcomer Newbie"
	RankContributor = "Common Contributor"
	RankSolver      = "Skilled Solver"
	RankExplorer    = "Expert Explorer"
	RankMentor      = "Mentor Maven"
	RankMaster      = "Master Maverick"
)

type rankTier struct {
	minScore int
	name     string
}

// Ordered highest first so the first tier whose floor is reached wins.
var rankTable = []rankTier{
	{750, RankMaster},
	{500, RankMentor},
	{300, RankExplorer},
	{150, RankSolver},
	{50, RankContributor},
}

// RankFor maps a score to its tier. Negative scores fall into the lowest tier.
func RankFor(score int) string {
	for _, tier := range rankTable {
		if score >= tier.minScore {
			return tier.name
		}
	}
	return RankNewcomer
}

// Ranks lists every tier name from lowest to highest.
func Ranks() []string {
	return []string{RankNewcomer, RankContributor, RankSolver, RankExplorer, RankMentor, RankMaster}
}
