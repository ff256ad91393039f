package sandbox

import (
	"encoding/json"
	"regexp"
)

// piiPatterns map a PII category to its detection regex. Scans run over a
// JSON serialization of the input, so patterns must survive JSON escaping.
var piiPatterns = map[string]*regexp.Regexp{
	"email":       regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
	"ssn":         regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	"phone":       regexp.MustCompile(`\b(?:\+?1[-. ]?)?\(?\d{3}\)?[-. ]?\d{3}[-. ]?\d{4}\b`),
	"credit_card": regexp.MustCompile(`\b(?:\d[ -]?){15}\d\b`),
}

const maxPIISamples = 3

// PIIMatch summarizes one detected PII category.
type PIIMatch struct {
	Type    string   `json:"type"`
	Count   int      `json:"count"`
	Samples []string `json:"samples"`
}

// PIIReport is the outcome of a PII scan.
type PIIReport struct {
	Detected   bool       `json:"detected"`
	Types      []PIIMatch `json:"types"`
	Confidence float64    `json:"confidence"`
}

// DetectPII serializes the input to JSON and scans it for emails, US
// social security numbers, US phone numbers, and 16-digit card numbers.
// Up to three samples are retained per category.
func DetectPII(data any) (PIIReport, error) {
	serialized, err := json.Marshal(data)
	if err != nil {
		return PIIReport{}, err
	}
	text := string(serialized)

	var report PIIReport
	for _, category := range []string{"email", "ssn", "phone", "credit_card"} {
		matches := piiPatterns[category].FindAllString(text, -1)
		if len(matches) == 0 {
			continue
		}
		samples := matches
		if len(samples) > maxPIISamples {
			samples = samples[:maxPIISamples]
		}
		report.Types = append(report.Types, PIIMatch{
			Type:    category,
			Count:   len(matches),
			Samples: samples,
		})
	}

	if len(report.Types) > 0 {
		report.Detected = true
		// More matched categories mean higher confidence the data holds PII.
		report.Confidence = float64(len(report.Types)) / float64(len(piiPatterns))
		if report.Confidence < 0.5 {
			report.Confidence = 0.5
		}
	}
	return report, nil
}
