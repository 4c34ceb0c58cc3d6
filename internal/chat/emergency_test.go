package chat

import (
	"strings"
	"testing"
)

func TestScanEmergencyMatches(t *testing.T) {
	queries := []string{
		"MAYDAY we have an engine failure on approach",
		"aircraft grounded pending inspection",
		"there was a fire in the cargo hold",
		"Critical safety hazard on the assembly line",
	}
	for _, query := range queries {
		notice := ScanEmergency(query, "")
		if notice == "" {
			t.Fatalf("expected escalation for %q", query)
		}
		if !strings.Contains(notice, defaultEscalationEmail) {
			t.Fatalf("notice must name the escalation contact: %q", notice)
		}
		if !strings.Contains(notice, "EMERGENCY DETECTED") {
			t.Fatalf("unexpected notice %q", notice)
		}
	}
}

func TestScanEmergencyNoMatch(t *testing.T) {
	queries := []string{
		"what is the refund policy",
		"invoice status for Q4",
		"torque spec for the hydraulic pump",
		"",
	}
	for _, query := range queries {
		if notice := ScanEmergency(query, ""); notice != "" {
			t.Fatalf("unexpected escalation for %q: %q", query, notice)
		}
	}
}

func TestScanEmergencyCustomContact(t *testing.T) {
	notice := ScanEmergency("urgent: evacuation in hangar 3", "ops@aerospace-co.com")
	if !strings.Contains(notice, "ops@aerospace-co.com") {
		t.Fatalf("custom escalation contact not used: %q", notice)
	}
}
