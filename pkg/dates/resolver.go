// Package dates resolves relative time phrases ("last week", "yesterday",
// "últimos 7 días") to absolute half-open ranges. Resolution is a pure
// function of the phrase and the reference instant, so identical phrases
// always resolve identically regardless of generator variance.
package dates

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mesa-hq/mesa-engine/pkg/apperrors"
)

// Range is a half-open time interval [Start, End).
type Range struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the range.
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

var (
	lastNDaysPattern   = regexp.MustCompile(`^(?:last|past|[uú]ltim[oa]s)\s+(\d+)\s+(?:days?|d[ií]as?)$`)
	lastNWeeksPattern  = regexp.MustCompile(`^(?:last|past|[uú]ltim[oa]s)\s+(\d+)\s+(?:weeks?|semanas?)$`)
	lastNMonthsPattern = regexp.MustCompile(`^(?:last|past|[uú]ltim[oa]s)\s+(\d+)\s+(?:months?|meses?)$`)
	lastWeekdayPattern = regexp.MustCompile(`^(?:last\s+([a-z]+)|(?:el\s+)?([a-záé]+)\s+pasado)$`)
)

var weekdays = map[string]time.Weekday{
	"monday": time.Monday, "lunes": time.Monday,
	"tuesday": time.Tuesday, "martes": time.Tuesday,
	"wednesday": time.Wednesday, "miercoles": time.Wednesday, "miércoles": time.Wednesday,
	"thursday": time.Thursday, "jueves": time.Thursday,
	"friday": time.Friday, "viernes": time.Friday,
	"saturday": time.Saturday, "sabado": time.Saturday, "sábado": time.Saturday,
	"sunday": time.Sunday, "domingo": time.Sunday,
}

// Resolve maps a relative date phrase to an absolute range anchored at now.
// The locale parameter is accepted for caller symmetry but recognition is
// locale-independent: English and Spanish phrases resolve identically under
// any locale. Unrecognized phrases return apperrors.ErrUnresolvedDate;
// callers fall back to passing the phrase through to the generator.
func Resolve(phrase string, now time.Time, locale string) (Range, error) {
	_ = locale

	p := strings.ToLower(strings.TrimSpace(phrase))
	p = strings.Join(strings.Fields(p), " ")

	day := startOfDay(now)
	week := startOfWeek(now)
	month := startOfMonth(now)
	year := startOfYear(now)

	switch p {
	case "today", "hoy":
		return Range{day, day.AddDate(0, 0, 1)}, nil
	case "yesterday", "ayer":
		return Range{day.AddDate(0, 0, -1), day}, nil
	case "this week", "esta semana":
		return Range{week, week.AddDate(0, 0, 7)}, nil
	case "last week", "la semana pasada", "semana pasada":
		// The most recently completed Monday-Sunday range strictly before
		// the current week.
		return Range{week.AddDate(0, 0, -7), week}, nil
	case "this month", "este mes":
		return Range{month, month.AddDate(0, 1, 0)}, nil
	case "last month", "el mes pasado", "mes pasado":
		return Range{month.AddDate(0, -1, 0), month}, nil
	case "this year", "este año", "este ano":
		return Range{year, year.AddDate(1, 0, 0)}, nil
	case "last year", "el año pasado", "el ano pasado", "año pasado":
		return Range{year.AddDate(-1, 0, 0), year}, nil
	}

	if m := lastNDaysPattern.FindStringSubmatch(p); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 {
			return Range{}, unresolved(phrase)
		}
		// N calendar days ending today, inclusive.
		return Range{day.AddDate(0, 0, -(n - 1)), day.AddDate(0, 0, 1)}, nil
	}

	if m := lastNWeeksPattern.FindStringSubmatch(p); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 {
			return Range{}, unresolved(phrase)
		}
		// N completed Monday-Sunday weeks before the current one.
		return Range{week.AddDate(0, 0, -7*n), week}, nil
	}

	if m := lastNMonthsPattern.FindStringSubmatch(p); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 {
			return Range{}, unresolved(phrase)
		}
		return Range{month.AddDate(0, -n, 0), month}, nil
	}

	if m := lastWeekdayPattern.FindStringSubmatch(p); m != nil {
		name := m[1]
		if name == "" {
			name = m[2]
		}
		if wd, ok := weekdays[name]; ok {
			d := mostRecentWeekday(wd, day)
			return Range{d, d.AddDate(0, 0, 1)}, nil
		}
	}

	return Range{}, unresolved(phrase)
}

func unresolved(phrase string) error {
	return fmt.Errorf("%q: %w", phrase, apperrors.ErrUnresolvedDate)
}

// mostRecentWeekday returns the latest day with the given weekday strictly
// before today. "Last Monday" on a Monday means a week ago, not today.
func mostRecentWeekday(wd time.Weekday, today time.Time) time.Time {
	d := today.AddDate(0, 0, -1)
	for d.Weekday() != wd {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// startOfWeek truncates to the Monday that begins t's week.
func startOfWeek(t time.Time) time.Time {
	day := startOfDay(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func startOfYear(t time.Time) time.Time {
	return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, t.Location())
}
