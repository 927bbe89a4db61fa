// Package schoolyear — границы и подписи учебного года (с 1 сентября по 31 августа).
package schoolyear

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrBadLabel = errors.New("academic year must look like 2024-2025")

// Start возвращает начало учебного года для момента t (1 сентября, 00:00:00).
func Start(t time.Time) time.Time {
	return time.Date(StartYear(t), time.September, 1, 0, 0, 0, 0, t.Location())
}

// Bounds — пара границ [from, to) учебного года момента t.
func Bounds(t time.Time) (time.Time, time.Time) {
	from := Start(t)
	return from, from.AddDate(1, 0, 0)
}

// StartYear — «год» учебного года: для 2025-03-01 это 2024.
func StartYear(t time.Time) int {
	if t.Month() < time.September {
		return t.Year() - 1
	}
	return t.Year()
}

// Label форматирует подпись: "2024-2025".
func Label(startYear int) string {
	return fmt.Sprintf("%d-%d", startYear, startYear+1)
}

// Current — подпись учебного года, в котором лежит t.
func Current(t time.Time) string { return Label(StartYear(t)) }

// Parse принимает "2024-2025", "2024–2025" и "2024/2025"; годы должны идти подряд.
func Parse(label string) (int, error) {
	s := strings.TrimSpace(label)
	s = strings.NewReplacer("–", "-", "—", "-", "/", "-").Replace(s)
	from, to, ok := strings.Cut(s, "-")
	if !ok {
		return 0, ErrBadLabel
	}
	a, err := strconv.Atoi(strings.TrimSpace(from))
	if err != nil {
		return 0, ErrBadLabel
	}
	b, err := strconv.Atoi(strings.TrimSpace(to))
	if err != nil {
		return 0, ErrBadLabel
	}
	if a < 1900 || b != a+1 {
		return 0, ErrBadLabel
	}
	return a, nil
}

// Normalize приводит подпись к каноническому виду.
func Normalize(label string) (string, error) {
	y, err := Parse(label)
	if err != nil {
		return "", err
	}
	return Label(y), nil
}
