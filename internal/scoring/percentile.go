package scoring

// breakpoint maps a minimum score percentage to an estimated percentile.
type breakpoint struct {
	minPercentage float64
	percentile    float64
}

// Fixed table, not fitted to real score distributions.
var percentileTable = []breakpoint{
	{90, 99},
	{80, 95},
	{70, 90},
	{60, 80},
	{50, 70},
	{40, 50},
	{30, 30},
	{20, 15},
}

const floorPercentile = 5

// Percentage returns totalScore as a percentage of maxScore. A zero
// maximum yields 0.
func Percentage(totalScore, maxScore int) float64 {
	if maxScore <= 0 {
		return 0
	}
	return float64(totalScore) / float64(maxScore) * 100
}

// PercentileFor maps a score percentage to an approximate percentile.
func PercentileFor(percentage float64) float64 {
	for _, bp := range percentileTable {
		if percentage >= bp.minPercentage {
			return bp.percentile
		}
	}
	return floorPercentile
}

// EstimatePercentile is PercentileFor(Percentage(totalScore, maxScore)).
func EstimatePercentile(totalScore, maxScore int) float64 {
	return PercentileFor(Percentage(totalScore, maxScore))
}
