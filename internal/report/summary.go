package report

import (
	"fmt"
	"math"

	"github.com/yourorg/ecu-report/internal/model"
)

// Summarize counts findings per severity and compliance status. The score is the share of passing
// rules, rounded to a whole percent, and 0 when no rule was evaluated. A severity or compliance status
// outside its enumeration is rejected with model.ErrInvalidData so the buckets always add up.
func Summarize(vulns []model.Vulnerability, compliance []model.ComplianceResult, components []model.SBOMComponent) (Summary, error) {
	var s Summary
	for _, v := range vulns {
		switch v.Severity {
		case model.SeverityCritical:
			s.Severity.Critical++
		case model.SeverityHigh:
			s.Severity.High++
		case model.SeverityMedium:
			s.Severity.Medium++
		case model.SeverityLow:
			s.Severity.Low++
		case model.SeverityInfo:
			s.Severity.Info++
		default:
			return Summary{}, fmt.Errorf("%w: vulnerability %s has unknown severity %q", model.ErrInvalidData, v.ID, v.Severity)
		}
	}
	s.TotalVulnerabilities = len(vulns)

	for _, c := range compliance {
		switch c.Status {
		case model.CompliancePass:
			s.Compliance.Pass++
		case model.ComplianceFail:
			s.Compliance.Fail++
		case model.ComplianceWarning:
			s.Compliance.Warning++
		default:
			return Summary{}, fmt.Errorf("%w: compliance result %s has unknown status %q", model.ErrInvalidData, c.ID, c.Status)
		}
	}
	s.ComplianceScore = ComplianceScore(s.Compliance)
	s.SBOMComponents = len(components)
	return s, nil
}

func ComplianceScore(c ComplianceCounts) int {
	total := c.Pass + c.Fail + c.Warning
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(c.Pass) / float64(total) * 100))
}
