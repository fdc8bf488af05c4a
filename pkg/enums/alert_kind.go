package enums

import "fmt"

// AlertKind names a stock alert condition.
type AlertKind string

const (
	AlertOutOfStock AlertKind = "out_of_stock"
	AlertLowStock   AlertKind = "low_stock"
	AlertOverstock  AlertKind = "overstock"
	AlertExpired    AlertKind = "expired"
)

var validAlertKinds = []AlertKind{
	AlertOutOfStock,
	AlertLowStock,
	AlertOverstock,
	AlertExpired,
}

// String implements fmt.Stringer.
func (a AlertKind) String() string {
	return string(a)
}

// IsValid reports whether the value is a known AlertKind.
func (a AlertKind) IsValid() bool {
	for _, candidate := range validAlertKinds {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAlertKind converts raw input into a AlertKind.
func ParseAlertKind(value string) (AlertKind, error) {
	for _, candidate := range validAlertKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid alert kind %q", value)
}

// AlertSeverity ranks how urgently an alert needs attention.
type AlertSeverity string

const (
	AlertSeverityCritical AlertSeverity = "critical"
	AlertSeverityWarning  AlertSeverity = "warning"
)

// Severity returns the fixed severity associated with the alert kind.
func (a AlertKind) Severity() AlertSeverity {
	if a == AlertOverstock {
		return AlertSeverityWarning
	}
	return AlertSeverityCritical
}
