package eventlog

import "strings"

// Weight tables for the risk heuristic. An event's score is the sum of its
// level weight, category weight, action keyword adjustments, and an IP
// penalty when the source address already carries elevated accumulated risk,
// clamped to [0, 100].

var levelWeights = map[Level]int{
	LevelInfo:     10,
	LevelWarn:     30,
	LevelError:    60,
	LevelCritical: 90,
}

var categoryWeights = map[Category]int{
	CategoryAuth:            20,
	CategorySession:         15,
	CategoryCSRF:            40,
	CategoryRateLimit:       25,
	CategoryInputValidation: 35,
	CategoryAccessControl:   45,
}

const (
	adjustmentFailed  = 20
	adjustmentInvalid = 15
	adjustmentBlocked = 30

	// ipPenalty applies when the source IP's accumulated risk exceeds
	// ipPenaltyThreshold at scoring time
	ipPenalty          = 20
	ipPenaltyThreshold = 50
)

// riskScore computes the heuristic score for an event given the source IP's
// accumulated risk at scoring time. Unknown levels and categories contribute
// zero; the analysis degrades rather than errors on missing data.
func riskScore(level Level, category Category, action string, ipRisk int) int {
	score := levelWeights[level] + categoryWeights[category]

	// Action keyword adjustments are additive, not exclusive.
	if strings.Contains(action, "failed") {
		score += adjustmentFailed
	}
	if strings.Contains(action, "invalid") {
		score += adjustmentInvalid
	}
	if strings.Contains(action, "blocked") {
		score += adjustmentBlocked
	}

	if ipRisk > ipPenaltyThreshold {
		score += ipPenalty
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
