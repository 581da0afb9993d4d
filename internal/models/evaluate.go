package models

// Evaluate decides whether ratio satisfies the condition. Both boundaries are
// inclusive. Unknown conditions never trigger; creation rejects them.
func Evaluate(condition ConditionType, target, ratio float64) bool {
	switch condition {
	case ConditionAbove:
		return ratio >= target
	case ConditionBelow:
		return ratio <= target
	default:
		return false
	}
}
