package lab

// Critical band multipliers applied to the normal range bounds.
const (
	criticalLowFactor  = 0.5
	criticalHighFactor = 1.5
)

// Classify maps value onto a severity tier against [rangeMin, rangeMax].
// A missing bound means there is no range to violate, so the result is
// normal. Values outside the range but within [min*0.5, max*1.5] are
// abnormal; anything further out is critical.
func Classify(value float64, rangeMin, rangeMax *float64) ResultStatus {
	if rangeMin == nil || rangeMax == nil {
		return ResultNormal
	}
	lo, hi := *rangeMin, *rangeMax
	if value >= lo && value <= hi {
		return ResultNormal
	}
	if value < lo*criticalLowFactor || value > hi*criticalHighFactor {
		return ResultCritical
	}
	return ResultAbnormal
}

// AggregateStatus derives a report status from its members by worst-case
// precedence: any critical member makes the report critical, otherwise any
// abnormal member makes it at_risk.
func AggregateStatus(results []*TestResult) ReportStatus {
	status := ReportNormal
	for _, r := range results {
		switch r.Status {
		case ResultCritical:
			return ReportCritical
		case ResultAbnormal:
			status = ReportAtRisk
		}
	}
	return status
}
