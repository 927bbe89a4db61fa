// Package grading — расчёты оценок за задания.
package grading

import "math"

// ApplyLatePenalty снижает балл за просрочку: score * (1 - latePenalty% * daysLate / 100).
// Множитель не ограничивается; в ноль обрезается только итог.
func ApplyLatePenalty(score, latePenaltyPercent float64, daysLate int) float64 {
	if daysLate <= 0 || latePenaltyPercent <= 0 {
		return score
	}
	penalty := latePenaltyPercent * float64(daysLate) / 100
	return math.Max(0, score*(1-penalty))
}

// DaysLate — число начатых суток просрочки; сдача до дедлайна даёт 0.
func DaysLate(dueUnix, submittedUnix int64) int {
	if submittedUnix <= dueUnix {
		return 0
	}
	const day = 24 * 60 * 60
	return int((submittedUnix - dueUnix + day - 1) / day)
}
