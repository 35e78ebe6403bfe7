package game

// Outcomes is the fixed draw domain in scan order. 0 refunds the stake;
// every other value is a payout multiplier.
var Outcomes = [...]int{0, 2, 3, 4, 5, 6}

func ValidOutcome(k int) bool {
	for _, o := range Outcomes {
		if o == k {
			return true
		}
	}
	return false
}

func multiplier(k int) int64 {
	if k == 0 {
		return 1
	}
	return int64(k)
}

// Payout is what a winning stake returns when outcome is drawn.
func Payout(stake int64, outcome int) int64 {
	return stake * multiplier(outcome)
}

type Stake struct {
	Choice int
	Amount int64
}

// Exposure returns, for every outcome, what the house would pay if it were drawn.
func Exposure(stakes []Stake) map[int]int64 {
	totals := make(map[int]int64, len(Outcomes))
	for _, o := range Outcomes {
		totals[o] = 0
	}
	for _, s := range stakes {
		if _, ok := totals[s.Choice]; ok {
			totals[s.Choice] += s.Amount
		}
	}
	for o, total := range totals {
		totals[o] = total * multiplier(o)
	}
	return totals
}

// SelectHouseOptimal picks the outcome with the smallest exposure. Ties go
// to the first outcome in scan order, which is also the smallest value.
func SelectHouseOptimal(stakes []Stake) int {
	exposure := Exposure(stakes)
	best := Outcomes[0]
	for _, o := range Outcomes[1:] {
		if exposure[o] < exposure[best] {
			best = o
		}
	}
	return best
}
