package models

import (
	"fmt"
	"strings"
)

// Severity is ordered: a lower value is more severe. The zero value is DEFAULT.
type Severity int

const (
	SeverityCritical Severity = -4
	SeverityHigh     Severity = -3
	SeverityMedium   Severity = -2
	SeverityLow      Severity = -1
	SeverityDefault  Severity = 0
)

var severityNames = map[Severity]string{
	SeverityCritical: "CRITICAL",
	SeverityHigh:     "HIGH",
	SeverityMedium:   "MEDIUM",
	SeverityLow:      "LOW",
	SeverityDefault:  "DEFAULT",
}

func (s Severity) String() string {
	if n, ok := severityNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// Worse returns the more severe of s and o.
func (s Severity) Worse(o Severity) Severity {
	if o < s {
		return o
	}
	return s
}

// ParseSeverity parses a severity name; empty means DEFAULT.
func ParseSeverity(name string) (Severity, error) {
	if name == "" {
		return SeverityDefault, nil
	}
	for s, n := range severityNames {
		if strings.EqualFold(n, name) {
			return s, nil
		}
	}
	return SeverityDefault, fmt.Errorf("unknown severity %q", name)
}

func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
