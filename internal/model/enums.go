package model

import "fmt"

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Severities lists every severity in ordinal order, most severe first.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

func ParseSeverity(s string) (Severity, error) {
	switch v := Severity(s); v {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return v, nil
	}
	return "", fmt.Errorf("%w: unknown severity %q", ErrInvalidData, s)
}

// Ordinal returns 0 for critical through 4 for info.
func (s Severity) Ordinal() int {
	for i, v := range Severities {
		if v == s {
			return i
		}
	}
	return len(Severities)
}

type VulnStatus string

const (
	VulnStatusNew           VulnStatus = "new"
	VulnStatusReopened      VulnStatus = "reopened"
	VulnStatusFixed         VulnStatus = "fixed"
	VulnStatusFalsePositive VulnStatus = "false_positive"
	VulnStatusRiskAccepted  VulnStatus = "risk_accepted"
)

func ParseVulnStatus(s string) (VulnStatus, error) {
	switch v := VulnStatus(s); v {
	case VulnStatusNew, VulnStatusReopened, VulnStatusFixed, VulnStatusFalsePositive, VulnStatusRiskAccepted:
		return v, nil
	}
	return "", fmt.Errorf("%w: unknown vulnerability status %q", ErrInvalidData, s)
}

type ComplianceStatus string

const (
	CompliancePass    ComplianceStatus = "pass"
	ComplianceFail    ComplianceStatus = "fail"
	ComplianceWarning ComplianceStatus = "warning"
)

func ParseComplianceStatus(s string) (ComplianceStatus, error) {
	switch v := ComplianceStatus(s); v {
	case CompliancePass, ComplianceFail, ComplianceWarning:
		return v, nil
	}
	return "", fmt.Errorf("%w: unknown compliance status %q", ErrInvalidData, s)
}
