package lab

import (
	"strings"
	"testing"
)

func TestSynthesizeReport(t *testing.T) {
	hb := testType("Blood Count", "Hemoglobin", "g/dL", 13.5, 17.5)
	glu := testType("Glucose", "Fasting Blood Sugar", "mg/dL", 70, 100)
	members := []*TestResult{
		{TestID: "TEST-0001", Value: 9.0, Status: hb.Classify(9.0), TestType: hb},
		{TestID: "TEST-0002", Value: 95, Status: glu.Classify(95), TestType: glu},
	}

	r := SynthesizeReport("GRP-0001", members)
	if r.Status != ReportAtRisk {
		t.Errorf("expected at_risk, got %s", r.Status)
	}
	want := "Laboratory Test Report\n\nHemoglobin: 9 g/dL (abnormal)\nFasting Blood Sugar: 95 mg/dL (normal)"
	if r.Content != want {
		t.Errorf("content mismatch:\n got %q\nwant %q", r.Content, want)
	}
	if lines := strings.Split(r.Content, "\n"); len(lines) != 4 {
		t.Errorf("expected header, blank line and 2 summary lines, got %d lines", len(lines))
	}
	if r.Diagnosis != "Test Group GRP-0001 - AT_RISK" {
		t.Errorf("unexpected diagnosis %q", r.Diagnosis)
	}
	if r.Recommendations != defaultRecommendations {
		t.Errorf("unexpected recommendations %q", r.Recommendations)
	}
}

func TestSummaryLine_NoUnit(t *testing.T) {
	tt := &TestType{Name: "Ratio"}
	got := summaryLine(&TestResult{Value: 4.5, Status: ResultNormal, TestType: tt})
	if got != "Ratio: 4.5  (normal)" {
		t.Errorf("got %q", got)
	}
}
