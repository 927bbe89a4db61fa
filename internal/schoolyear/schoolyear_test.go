package schoolyear

import (
	"errors"
	"testing"
	"time"
)

func TestStartYear(t *testing.T) {
	cases := []struct {
		at   time.Time
		want int
	}{
		{time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC), 2024},
		{time.Date(2024, time.September, 1, 0, 0, 0, 0, time.UTC), 2024},
		{time.Date(2024, time.August, 31, 23, 59, 0, 0, time.UTC), 2023},
	}
	for _, c := range cases {
		if got := StartYear(c.at); got != c.want {
			t.Fatalf("StartYear(%s) = %d, want %d", c.at, got, c.want)
		}
	}
}

func TestBounds(t *testing.T) {
	from, to := Bounds(time.Date(2025, time.January, 10, 12, 0, 0, 0, time.UTC))
	if !from.Equal(time.Date(2024, time.September, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("from = %s", from)
	}
	if !to.Equal(time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("to = %s", to)
	}
}

func TestNormalize(t *testing.T) {
	for _, in := range []string{"2024-2025", "2024–2025", " 2024/2025 "} {
		got, err := Normalize(in)
		if err != nil || got != "2024-2025" {
			t.Fatalf("Normalize(%q) = %q, %v", in, got, err)
		}
	}
	for _, in := range []string{"", "2024", "2024-2026", "abcd-efgh", "2025-2024"} {
		if _, err := Normalize(in); !errors.Is(err, ErrBadLabel) {
			t.Fatalf("Normalize(%q) err = %v, want ErrBadLabel", in, err)
		}
	}
}
