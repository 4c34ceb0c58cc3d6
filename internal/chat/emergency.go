package chat

import (
	"fmt"
	"strings"
)

// emergencyKeywords is the fixed safety-critical vocabulary. Matching is a
// case-insensitive substring scan over the raw query, run before any routing
// decision.
var emergencyKeywords = []string{
	"emergency",
	"critical",
	"urgent",
	"immediate",
	"safety",
	"hazard",
	"accident",
	"incident",
	"failure",
	"malfunction",
	"explosion",
	"fire",
	"injury",
	"fatal",
	"casualty",
	"evacuation",
	"mayday",
	"distress",
	"grounded",
	"grounded aircraft",
	"grounding",
	"aircraft down",
	"system failure",
	"engine failure",
	"structural failure",
}

const defaultEscalationEmail = "john.doe@aerospace-co.com"

// ScanEmergency matches the query against the safety-critical vocabulary.
// On match it returns the formatted escalation notice; otherwise "".
func ScanEmergency(query, escalationEmail string) string {
	lower := strings.ToLower(query)
	for _, keyword := range emergencyKeywords {
		if strings.Contains(lower, keyword) {
			emergencyEscalationsTotal.Inc()
			return EscalationNotice(escalationEmail)
		}
	}
	return ""
}

// EscalationNotice renders the user-facing emergency escalation message.
func EscalationNotice(escalationEmail string) string {
	if escalationEmail == "" {
		escalationEmail = defaultEscalationEmail
	}
	return fmt.Sprintf("⚠️ EMERGENCY DETECTED ⚠️\n\n"+
		"Safety-critical issue detected in your query. Please contact our emergency escalation team immediately:\n\n"+
		"Email: %s\n\n"+
		"Your query has been flagged for immediate human review. Please do not rely solely on this AI system for emergency situations.",
		escalationEmail)
}
