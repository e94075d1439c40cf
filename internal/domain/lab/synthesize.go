package lab

import (
	"strconv"
	"strings"
)

const (
	reportHeader           = "Laboratory Test Report"
	defaultRecommendations = "Please review test results with a healthcare provider."
)

// SynthesizeReport builds the default narrative fields of the report for a
// group's members. members must carry their TestType.
func SynthesizeReport(groupID string, members []*TestResult) *Report {
	status := AggregateStatus(members)
	return &Report{
		Status:          status,
		Content:         summaryContent(members),
		Diagnosis:       defaultDiagnosis(groupID, status),
		Recommendations: defaultRecommendations,
	}
}

func summaryContent(members []*TestResult) string {
	var b strings.Builder
	b.WriteString(reportHeader)
	b.WriteString("\n\n")
	for i, m := range members {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(summaryLine(m))
	}
	return b.String()
}

// summaryLine renders "<name>: <value> <unit> (<status>)".
func summaryLine(m *TestResult) string {
	name, unit := "", ""
	if m.TestType != nil {
		name, unit = m.TestType.Name, strVal(m.TestType.Unit)
	}
	return name + ": " + formatValue(m.Value) + " " + unit + " (" + string(m.Status) + ")"
}

func defaultDiagnosis(groupID string, status ReportStatus) string {
	return "Test Group " + groupID + " - " + strings.ToUpper(string(status))
}

// formatValue prints the shortest representation that round-trips, so 9
// prints as "9" and 4.5 as "4.5".
func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
