// Package flap computes weighted state change scores over check history.
package flap

// HistorySize is the number of statuses kept per client/check pair.
const HistorySize = 21

// Thresholds holds check flap thresholds in percent.
type Thresholds struct {
	Low        int
	High       int
	Configured bool
}

// TotalStateChange computes the weighted state change percentage.
// Params: statuses oldest to newest.
// Returns: truncated score 0..100; 0 when history has fewer than HistorySize entries.
func TotalStateChange(history []int) int {
	if len(history) < HistorySize {
		return 0
	}
	history = history[len(history)-HistorySize:]

	// Weights are tracked in hundredths: 0.80 + 0.02 per step.
	accumulated := 0
	weight := 80
	previous := history[0]
	for _, status := range history {
		if status != previous {
			accumulated += weight
		}
		weight += 2
		previous = status
	}
	return accumulated / 20
}

// Next applies the flapping transition rule to a history window.
// Params: check thresholds, previous flapping flag, and statuses oldest to newest.
// Returns: new flapping flag; unchanged while history is shorter than HistorySize.
func Next(thresholds Thresholds, was bool, history []int) bool {
	if !thresholds.Configured {
		return false
	}
	if len(history) < HistorySize {
		return was
	}
	score := TotalStateChange(history)
	switch {
	case score >= thresholds.High:
		return true
	case was && score <= thresholds.Low:
		return false
	default:
		return was
	}
}
