package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mesa-hq/mesa-engine/pkg/models"
)

const (
	// timeSeriesMaxRows caps bullet lists at a month of daily points.
	timeSeriesMaxRows = 31
	rankingMaxRows    = 20
	sampleMaxRows     = 5
)

// Verbalizer renders an execution result as a short natural-language answer.
// It is a pure formatter: the numbers in the answer are exactly the numbers
// the data source returned, never recomputed.
type Verbalizer interface {
	Verbalize(result *models.ExecutionResult, question models.Question, language string) models.Answer
}

type verbalizer struct{}

// NewVerbalizer returns the template-based Verbalizer.
func NewVerbalizer() Verbalizer {
	return &verbalizer{}
}

// verbalizerText holds the per-language answer templates.
type verbalizerText struct {
	noData        string
	foundHeader   string
	seriesFooter  string
	seriesClipped string

	forQuestion    string
	changeLine     string
	increase       string
	decrease       string
	noChange       string
	currentPeriod  string
	previousPeriod string
	yesterday      string
	sameWeekday    string
	thisWeek       string
	lastWeek       string
	thisMonth      string
	lastMonth      string

	trendHeader    string
	trendFooter    string
	trendLine      string
	trendNoPercent string

	breakdownHeader string
	breakdownFooter string

	foundResults string
	foundResult  string
	sampleLabel  string
}

var verbalizerTexts = map[string]verbalizerText{
	models.LanguageEnglish: {
		noData:        "I couldn't find any data matching: %s",
		foundHeader:   "Here's what I found for **%s**:",
		seriesFooter:  "Let me know if you want to explore this further.",
		seriesClipped: "Showing the first %d of %d periods.",

		forQuestion:    "For **%s**:",
		changeLine:     "Change: %s (%s) %s",
		increase:       "increase",
		decrease:       "decrease",
		noChange:       "no change",
		currentPeriod:  "Current period",
		previousPeriod: "Previous period",
		yesterday:      "Yesterday",
		sameWeekday:    "Same weekday last week",
		thisWeek:       "This week",
		lastWeek:       "Last week",
		thisMonth:      "This month",
		lastMonth:      "Last month",

		trendHeader:    "Here are the products with the biggest increase for **%s**:",
		trendFooter:    "Want me to rank by % change instead of absolute increase?",
		trendLine:      "• %s: Δ %s (%s), recent %s, prior %s",
		trendNoPercent: "n/a",

		breakdownHeader: "Here's the breakdown for **%s**:",
		breakdownFooter: "Want me to add a date filter or compare periods?",

		foundResults: "I found %d results for **%s**.",
		foundResult:  "I found %d result for **%s**.",
		sampleLabel:  "Sample:",
	},
	models.LanguageSpanish: {
		noData:        "No encontré datos que coincidan con: %s",
		foundHeader:   "Esto es lo que encontré para **%s**:",
		seriesFooter:  "Avísame si quieres explorar esto más a fondo.",
		seriesClipped: "Mostrando los primeros %d de %d períodos.",

		forQuestion:    "Para **%s**:",
		changeLine:     "Cambio: %s (%s) %s",
		increase:       "aumento",
		decrease:       "disminución",
		noChange:       "sin cambios",
		currentPeriod:  "Período actual",
		previousPeriod: "Período anterior",
		yesterday:      "Ayer",
		sameWeekday:    "El mismo día de la semana pasada",
		thisWeek:       "Esta semana",
		lastWeek:       "La semana pasada",
		thisMonth:      "Este mes",
		lastMonth:      "El mes pasado",

		trendHeader:    "Estos son los productos con mayor crecimiento para **%s**:",
		trendFooter:    "¿Quieres que ordene por % de cambio en lugar del aumento absoluto?",
		trendLine:      "• %s: Δ %s (%s), reciente %s, anterior %s",
		trendNoPercent: "n/d",

		breakdownHeader: "Este es el desglose para **%s**:",
		breakdownFooter: "¿Quieres agregar un filtro de fecha o comparar períodos?",

		foundResults: "Encontré %d resultados para **%s**.",
		foundResult:  "Encontré %d resultado para **%s**.",
		sampleLabel:  "Muestra:",
	},
}

func (v *verbalizer) Verbalize(result *models.ExecutionResult, question models.Question, language string) models.Answer {
	lang := models.NormalizeLanguage(language)
	return models.Answer{
		Text:     v.render(result, question.Text, verbalizerTexts[lang]),
		Language: lang,
	}
}

func (v *verbalizer) render(result *models.ExecutionResult, question string, txt verbalizerText) string {
	if result == nil || result.Empty() {
		return fmt.Sprintf(txt.noData, question)
	}

	periodIdx, hasPeriod := columnIndex(result.Columns, "period")
	valueIdx, hasValue := columnIndex(result.Columns, "value")

	if hasPeriod && hasValue {
		if result.RowCount == 2 {
			if answer, ok := renderComparison(result, question, periodIdx, valueIdx, txt); ok {
				return answer
			}
		}
		return renderTimeSeries(result, question, periodIdx, valueIdx, txt)
	}

	if dimIdx, ok := dimensionColumn(result.Columns); ok {
		if strings.EqualFold(result.Columns[dimIdx].Name, "product") && isTrendShape(result.Columns) {
			return renderTrend(result, question, dimIdx, txt)
		}
		if hasValue {
			return renderRanking(result, question, dimIdx, valueIdx, txt)
		}
	}

	if result.RowCount == 1 && len(result.Columns) == 1 {
		return fmt.Sprintf(txt.forQuestion+" %s.", question, formatCell(result.Rows[0][0]))
	}

	return renderSample(result, question, txt)
}

// renderComparison phrases two period/value rows as a before/after pair with
// the delta between them. Reports ok=false when either value is non-numeric.
func renderComparison(result *models.ExecutionResult, question string, periodIdx, valueIdx int, txt verbalizerText) (string, bool) {
	first, second := result.Rows[0], result.Rows[1]
	if periodString(second[periodIdx]) < periodString(first[periodIdx]) {
		first, second = second, first
	}

	previous, okPrev := toFloat(first[valueIdx])
	current, okCur := toFloat(second[valueIdx])
	if !okPrev || !okCur {
		return "", false
	}

	diff := current - previous
	pct := 0.0
	if previous != 0 {
		pct = diff / previous * 100
	}
	direction := txt.noChange
	if diff > 0 {
		direction = txt.increase
	} else if diff < 0 {
		direction = txt.decrease
	}

	newLabel, oldLabel := comparisonLabels(question, txt)

	var b strings.Builder
	fmt.Fprintf(&b, txt.forQuestion+"\n", question)
	fmt.Fprintf(&b, "- %s (%s): %s\n", newLabel, periodString(second[periodIdx]), formatNumber(second[valueIdx]))
	fmt.Fprintf(&b, "- %s (%s): %s\n", oldLabel, periodString(first[periodIdx]), formatNumber(first[valueIdx]))
	fmt.Fprintf(&b, txt.changeLine, formatFloat(diff), fmt.Sprintf("%+.1f%%", pct), direction)
	return b.String(), true
}

// comparisonLabels picks friendlier row labels when the question names the
// two periods being compared.
func comparisonLabels(question string, txt verbalizerText) (string, string) {
	q := strings.ToLower(question)
	mentions := func(en, es string) bool {
		return strings.Contains(q, en) || strings.Contains(q, es)
	}
	switch {
	case mentions("yesterday", "ayer") && mentions("last week", "semana pasada"):
		return txt.yesterday, txt.sameWeekday
	case mentions("this week", "esta semana") && mentions("last week", "semana pasada"):
		return txt.thisWeek, txt.lastWeek
	case mentions("this month", "este mes") && mentions("last month", "mes pasado"):
		return txt.thisMonth, txt.lastMonth
	}
	return txt.currentPeriod, txt.previousPeriod
}

func renderTimeSeries(result *models.ExecutionResult, question string, periodIdx, valueIdx int, txt verbalizerText) string {
	shown := result.Rows
	if len(shown) > timeSeriesMaxRows {
		shown = shown[:timeSeriesMaxRows]
	}

	var b strings.Builder
	fmt.Fprintf(&b, txt.foundHeader+"\n\n", question)
	for i, row := range shown {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "• %s: %s", periodString(row[periodIdx]), formatNumber(row[valueIdx]))
	}
	if len(result.Rows) > timeSeriesMaxRows {
		b.WriteByte('\n')
		fmt.Fprintf(&b, txt.seriesClipped, timeSeriesMaxRows, len(result.Rows))
	}
	b.WriteString("\n\n")
	b.WriteString(txt.seriesFooter)
	return b.String()
}

func renderTrend(result *models.ExecutionResult, question string, productIdx int, txt verbalizerText) string {
	recentIdx, _ := columnIndex(result.Columns, "recent_rev")
	priorIdx, _ := columnIndex(result.Columns, "prior_rev")
	deltaIdx, _ := columnIndex(result.Columns, "delta")
	pctIdx, hasPct := columnIndex(result.Columns, "pct_change")

	shown := result.Rows
	if len(shown) > rankingMaxRows {
		shown = shown[:rankingMaxRows]
	}

	var b strings.Builder
	fmt.Fprintf(&b, txt.trendHeader+"\n\n", question)
	for i, row := range shown {
		if i > 0 {
			b.WriteByte('\n')
		}
		pctStr := txt.trendNoPercent
		if hasPct && row[pctIdx] != nil {
			if pct, ok := toFloat(row[pctIdx]); ok {
				pctStr = fmt.Sprintf("%+.1f%%", pct*100)
			}
		}
		fmt.Fprintf(&b, txt.trendLine,
			formatCell(row[productIdx]), formatNumber(row[deltaIdx]), pctStr,
			formatNumber(row[recentIdx]), formatNumber(row[priorIdx]))
	}
	b.WriteString("\n\n")
	b.WriteString(txt.trendFooter)
	return b.String()
}

func renderRanking(result *models.ExecutionResult, question string, dimIdx, valueIdx int, txt verbalizerText) string {
	shown := result.Rows
	if len(shown) > rankingMaxRows {
		shown = shown[:rankingMaxRows]
	}

	var b strings.Builder
	fmt.Fprintf(&b, txt.breakdownHeader+"\n\n", question)
	for i, row := range shown {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "• %s: %s", formatCell(row[dimIdx]), formatNumber(row[valueIdx]))
	}
	b.WriteString("\n\n")
	b.WriteString(txt.breakdownFooter)
	return b.String()
}

func renderSample(result *models.ExecutionResult, question string, txt verbalizerText) string {
	template := txt.foundResults
	if result.RowCount == 1 {
		template = txt.foundResult
	}

	var b strings.Builder
	fmt.Fprintf(&b, template+"\n", result.RowCount, question)
	b.WriteString(txt.sampleLabel)
	shown := result.Rows
	if len(shown) > sampleMaxRows {
		shown = shown[:sampleMaxRows]
	}
	for _, row := range shown {
		b.WriteByte('\n')
		b.WriteString("• ")
		for i, cell := range row {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%s", result.Columns[i].Name, formatCell(cell))
		}
	}
	return b.String()
}

// columnIndex finds a column by name, ignoring case.
func columnIndex(columns []models.ColumnInfo, name string) (int, bool) {
	for i, c := range columns {
		if strings.EqualFold(c.Name, name) {
			return i, true
		}
	}
	return 0, false
}

// dimensionColumn returns the first column that is neither period nor value,
// the label column for rankings and breakdowns.
func dimensionColumn(columns []models.ColumnInfo) (int, bool) {
	for i, c := range columns {
		lower := strings.ToLower(c.Name)
		if lower != "period" && lower != "value" {
			return i, true
		}
	}
	return 0, false
}

func isTrendShape(columns []models.ColumnInfo) bool {
	for _, name := range []string{"recent_rev", "prior_rev", "delta"} {
		if _, ok := columnIndex(columns, name); !ok {
			return false
		}
	}
	return true
}

// periodString normalizes a period cell to YYYY-MM-DD where it can.
func periodString(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.Format("2006-01-02")
	case nil:
		return ""
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts.Format("2006-01-02")
			}
		}
		if len(t) >= 10 {
			return t[:10]
		}
		return t
	default:
		return fmt.Sprintf("%v", v)
	}
}

// formatNumber renders numeric cells with thousands separators and no
// decimals; anything non-numeric is passed through untouched.
func formatNumber(v any) string {
	f, ok := toFloat(v)
	if !ok {
		return formatCell(v)
	}
	return formatFloat(f)
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', 0, 64)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	b.WriteString(sign)
	head := len(s) % 3
	if head > 0 {
		b.WriteString(s[:head])
	}
	for i := head; i < len(s); i += 3 {
		if b.Len() > len(sign) {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

func formatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case time.Time:
		return t.Format("2006-01-02")
	case bool:
		return strconv.FormatBool(t)
	default:
		if f, ok := toFloat(v); ok {
			return formatFloat(f)
		}
		return fmt.Sprintf("%v", v)
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

var _ Verbalizer = (*verbalizer)(nil)
