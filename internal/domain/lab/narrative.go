package lab

import (
	"context"
	"strconv"
	"strings"

	"github.com/medigen/labreport/internal/platform/narrative"
)

// NarrativeGenerator is the external text-generation collaborator.
type NarrativeGenerator interface {
	Generate(ctx context.Context, req narrative.Request) (string, error)
}

const (
	narrativeTemperature = 0.3
	narrativeMaxTokens   = 2000

	assessmentLabel      = "Clinical Assessment"
	recommendationsLabel = "Medical Recommendations"

	recommendationsHeader  = "<h4>Medical Recommendations</h4>"
	fallbackRecommendation = "<p>Please consult with your healthcare provider for personalized recommendations.</p>"
)

const narrativeSystemPrompt = "You are a professional medical AI assistant that analyzes laboratory test results and provides clinical assessments and recommendations."

// Markup a model commonly wraps a section label in. The split point widens
// to cover the wrapper so no half-open tag is left on either side.
var labelWrappers = [][2]string{
	{"**", "**"},
	{"<strong>", "</strong>"},
	{"<h2>", "</h2>"},
	{"<h3>", "</h3>"},
	{"<h4>", "</h4>"},
	{"<h5>", "</h5>"},
}

// Narrative is the structured result of parsing generated text.
type Narrative struct {
	Diagnosis       string
	Recommendations string
	// Parsed is false when no section label was found and the fallback
	// recommendation was substituted.
	Parsed bool
}

// BuildNarrativeRequest assembles the generation request for a report's
// members. Only age and gender leave the service; no names or contact
// details are sent.
func BuildNarrativeRequest(p *Patient, members []*TestResult) narrative.Request {
	var b strings.Builder
	b.WriteString("You are a medical AI assistant analyzing laboratory test results.\n")
	b.WriteString("Provide a professional medical report in HTML format.\n\n")
	b.WriteString("Patient Information:\n")
	if p != nil {
		b.WriteString("- Age: " + strconv.Itoa(p.Age) + "\n")
		b.WriteString("- Gender: " + p.Gender + "\n")
	}
	b.WriteString("\nLaboratory Test Results:\n")
	for _, m := range members {
		b.WriteString(promptLine(m))
		b.WriteByte('\n')
	}
	b.WriteString("\nPlease provide:\n")
	b.WriteString("1. **" + assessmentLabel + "** (diagnosis section): Analyze the test results, identify critical, abnormal, and normal findings. Provide medical interpretation.\n")
	b.WriteString("2. **" + recommendationsLabel + "**: Specific recommendations based on the findings, including urgency of follow-up, lifestyle changes, and further tests if needed.\n\n")
	b.WriteString("Format your response in clean HTML with <h4>, <p>, <strong>, <ol>, <li> tags. Be professional and medically accurate.\n\n")
	b.WriteString(`Separate the two sections clearly with the headers "` + assessmentLabel + `" and "` + recommendationsLabel + `".`)

	return narrative.Request{
		SystemPrompt: narrativeSystemPrompt,
		Prompt:       b.String(),
		Temperature:  narrativeTemperature,
		MaxTokens:    narrativeMaxTokens,
	}
}

// promptLine renders
// "- <category> - <name>: <value> <unit> (Normal: <min>-<max>, Status: <STATUS>)".
func promptLine(m *TestResult) string {
	category, name, unit, lo, hi := "", "", "", "n/a", "n/a"
	if tt := m.TestType; tt != nil {
		category, name, unit = tt.CategoryName, tt.Name, strVal(tt.Unit)
		if tt.NormalRangeMin != nil {
			lo = formatValue(*tt.NormalRangeMin)
		}
		if tt.NormalRangeMax != nil {
			hi = formatValue(*tt.NormalRangeMax)
		}
	}
	return "- " + category + " - " + name + ": " + formatValue(m.Value) + " " + unit +
		" (Normal: " + lo + "-" + hi + ", Status: " + strings.ToUpper(string(m.Status)) + ")"
}

// ParseNarrative splits generated text into diagnosis and recommendations.
// It never fails: text without a recognisable recommendations label becomes
// the diagnosis verbatim and the fixed fallback recommendation is used.
func ParseNarrative(text string) Narrative {
	start, end, ok := findLabel(text, recommendationsLabel)
	if !ok {
		return Narrative{Diagnosis: text, Recommendations: fallbackRecommendation}
	}
	return Narrative{
		Diagnosis:       stripLabel(text[:start], assessmentLabel),
		Recommendations: recommendationsHeader + strings.TrimSpace(strings.TrimLeft(text[end:], ":")),
		Parsed:          true,
	}
}

// findLabel locates the first occurrence of label and returns the span it
// occupies, widened over any wrapper markup around it.
func findLabel(text, label string) (start, end int, ok bool) {
	i := strings.Index(text, label)
	if i < 0 {
		return 0, 0, false
	}
	start, end = i, i+len(label)
	for _, w := range labelWrappers {
		if strings.HasSuffix(text[:start], w[0]) && strings.HasPrefix(text[end:], w[1]) {
			start -= len(w[0])
			end += len(w[1])
			break
		}
	}
	return start, end, true
}

// stripLabel removes label, in its wrapped and plain forms, from s.
func stripLabel(s, label string) string {
	for _, w := range labelWrappers {
		s = strings.ReplaceAll(s, w[0]+label+w[1], "")
	}
	s = strings.ReplaceAll(s, label, "")
	return strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(s), ":"))
}
