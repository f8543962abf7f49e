package dates

import (
	"errors"
	"testing"
	"time"

	"github.com/mesa-hq/mesa-engine/pkg/apperrors"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// 2024-06-12 is a Wednesday.
var wednesday = time.Date(2024, time.June, 12, 15, 4, 5, 0, time.UTC)

func TestResolve_LastWeek(t *testing.T) {
	r, err := Resolve("last week", wednesday, "en")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	wantStart := date(2024, time.June, 3) // prior Monday
	wantEnd := date(2024, time.June, 10)  // this week's Monday, exclusive
	if !r.Start.Equal(wantStart) || !r.End.Equal(wantEnd) {
		t.Errorf("last week = [%v, %v), want [%v, %v)", r.Start, r.End, wantStart, wantEnd)
	}
}

func TestResolve_LastWeekOnSunday(t *testing.T) {
	// Sunday still belongs to the current (incomplete) week.
	sunday := time.Date(2024, time.June, 16, 22, 0, 0, 0, time.UTC)

	r, err := Resolve("last week", sunday, "en")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !r.Start.Equal(date(2024, time.June, 3)) || !r.End.Equal(date(2024, time.June, 10)) {
		t.Errorf("last week on Sunday = [%v, %v), want [2024-06-03, 2024-06-10)", r.Start, r.End)
	}
}

func TestResolve_LocaleIndependent(t *testing.T) {
	for _, locale := range []string{"en", "es", ""} {
		r, err := Resolve("last week", wednesday, locale)
		if err != nil {
			t.Fatalf("Resolve with locale %q failed: %v", locale, err)
		}
		if !r.Start.Equal(date(2024, time.June, 3)) {
			t.Errorf("locale %q changed resolution: start %v", locale, r.Start)
		}
	}
}

func TestResolve_Idempotent(t *testing.T) {
	first, err := Resolve("últimos 30 días", wednesday, "es")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	second, err := Resolve("últimos 30 días", wednesday, "es")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !first.Start.Equal(second.Start) || !first.End.Equal(second.End) {
		t.Errorf("resolution not idempotent: %+v vs %+v", first, second)
	}
}

func TestResolve_LastWeekdayExcludesToday(t *testing.T) {
	// 2024-06-10 is a Monday; "last monday" must mean a week earlier.
	monday := time.Date(2024, time.June, 10, 9, 0, 0, 0, time.UTC)

	r, err := Resolve("last monday", monday, "en")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !r.Start.Equal(date(2024, time.June, 3)) {
		t.Errorf("last monday on a Monday = %v, want 2024-06-03", r.Start)
	}
	if !r.End.Equal(date(2024, time.June, 4)) {
		t.Errorf("expected single-day range, end = %v", r.End)
	}
}

func TestResolve_Phrases(t *testing.T) {
	tests := []struct {
		phrase    string
		wantStart time.Time
		wantEnd   time.Time
	}{
		{"today", date(2024, time.June, 12), date(2024, time.June, 13)},
		{"hoy", date(2024, time.June, 12), date(2024, time.June, 13)},
		{"yesterday", date(2024, time.June, 11), date(2024, time.June, 12)},
		{"ayer", date(2024, time.June, 11), date(2024, time.June, 12)},
		{"this week", date(2024, time.June, 10), date(2024, time.June, 17)},
		{"la semana pasada", date(2024, time.June, 3), date(2024, time.June, 10)},
		{"this month", date(2024, time.June, 1), date(2024, time.July, 1)},
		{"last month", date(2024, time.May, 1), date(2024, time.June, 1)},
		{"el mes pasado", date(2024, time.May, 1), date(2024, time.June, 1)},
		{"this year", date(2024, time.January, 1), date(2025, time.January, 1)},
		{"last year", date(2023, time.January, 1), date(2024, time.January, 1)},
		{"last 7 days", date(2024, time.June, 6), date(2024, time.June, 13)},
		{"last 1 days", date(2024, time.June, 12), date(2024, time.June, 13)},
		{"últimos 7 días", date(2024, time.June, 6), date(2024, time.June, 13)},
		{"last 2 weeks", date(2024, time.May, 27), date(2024, time.June, 10)},
		{"last 3 months", date(2024, time.March, 1), date(2024, time.June, 1)},
		{"last friday", date(2024, time.June, 7), date(2024, time.June, 8)},
		{"el viernes pasado", date(2024, time.June, 7), date(2024, time.June, 8)},
		{"Last  Week", date(2024, time.June, 3), date(2024, time.June, 10)},
	}

	for _, tt := range tests {
		t.Run(tt.phrase, func(t *testing.T) {
			r, err := Resolve(tt.phrase, wednesday, "en")
			if err != nil {
				t.Fatalf("Resolve(%q) failed: %v", tt.phrase, err)
			}
			if !r.Start.Equal(tt.wantStart) || !r.End.Equal(tt.wantEnd) {
				t.Errorf("Resolve(%q) = [%v, %v), want [%v, %v)",
					tt.phrase, r.Start, r.End, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

func TestResolve_Unrecognized(t *testing.T) {
	for _, phrase := range []string{
		"",
		"next week",
		"between march and april",
		"the day the music died",
		"last 0 days",
	} {
		t.Run(phrase, func(t *testing.T) {
			_, err := Resolve(phrase, wednesday, "en")
			if !errors.Is(err, apperrors.ErrUnresolvedDate) {
				t.Errorf("Resolve(%q) error = %v, want ErrUnresolvedDate", phrase, err)
			}
		})
	}
}

func TestRange_Contains(t *testing.T) {
	r := Range{date(2024, time.June, 3), date(2024, time.June, 10)}

	if !r.Contains(date(2024, time.June, 3)) {
		t.Error("start should be inclusive")
	}
	if r.Contains(date(2024, time.June, 10)) {
		t.Error("end should be exclusive")
	}
	if !r.Contains(time.Date(2024, time.June, 9, 23, 59, 59, 0, time.UTC)) {
		t.Error("instant inside range should be contained")
	}
}
