package agent

// Iteration budget bounds for one run.
const (
	minIterations      = 15
	maxIterations      = 45
	iterationsPerScore = 7
)

// IterationBudget returns the adaptive iteration cap for a task complexity
// score (1-5): 15 iterations plus 7 per point above 1, clamped to [15, 45].
func IterationBudget(complexity int) int {
	if complexity < 1 {
		complexity = 1
	}
	budget := minIterations + iterationsPerScore*(complexity-1)
	if budget < minIterations {
		return minIterations
	}
	if budget > maxIterations {
		return maxIterations
	}
	return budget
}
