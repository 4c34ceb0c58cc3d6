package knowledge

import "testing"

func TestClassifyFilenameWins(t *testing.T) {
	content := "Quarterly summary. Payment due on receipt of invoice. Contact accounts for pricing."
	domain := Classify(content, "billing-invoice-Q4.pdf")
	if domain != DomainBilling {
		t.Fatalf("expected billing, got %s", domain)
	}
}

func TestClassifyFilenameOverriddenByStrongContent(t *testing.T) {
	// Filename says billing, but the content is overwhelmingly technical.
	content := `# Component Maintenance Manual

Engineering specification for the hydraulic system. Troubleshooting steps for
the defect: inspect the component, consult the service bulletin, repair the
hardware per the maintenance documentation. System design spec attached.`
	domain := Classify(content, "invoice-attachment.txt")
	if domain != DomainTechnical {
		t.Fatalf("expected technical, got %s", domain)
	}
}

func TestClassifyContentOnly(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected Domain
	}{
		{
			name:     "billing",
			content:  "The invoice total includes the purchase order fee and the parts catalog rate.",
			expected: DomainBilling,
		},
		{
			name:     "technical",
			content:  "The engineering manual covers component repair and troubleshooting for the hardware.",
			expected: DomainTechnical,
		},
		{
			name:     "policy",
			content:  "FAA regulation and EASA compliance procedures per the data governance standard.",
			expected: DomainPolicy,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.content, "notes.txt"); got != tt.expected {
				t.Fatalf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestClassifyEmptyDefaultsToTechnical(t *testing.T) {
	if got := Classify("", ""); got != DomainTechnical {
		t.Fatalf("expected technical default, got %s", got)
	}
	if got := Classify("nothing relevant here at all", "notes.txt"); got != DomainTechnical {
		t.Fatalf("expected technical default for unscoreable content, got %s", got)
	}
}

func TestClassifyHeadingBonus(t *testing.T) {
	// Same keyword density, but one domain's keyword sits in a heading.
	content := "# Invoicing Policy\n\nthe regulation procedure covers compliance steps for all accounts"
	domain, scores := ClassifyWithScores(content, "")
	if domain != DomainPolicy {
		t.Fatalf("expected policy, got %s (scores %+v)", domain, scores)
	}
}

func TestClassifyTieOrder(t *testing.T) {
	// billing/policy tie goes to billing, any tie including technical
	// goes to technical.
	if got := preferredOf([]Domain{DomainBilling, DomainPolicy}); got != DomainBilling {
		t.Fatalf("billing/policy tie: expected billing, got %s", got)
	}
	if got := preferredOf([]Domain{DomainTechnical, DomainPolicy}); got != DomainTechnical {
		t.Fatalf("technical/policy tie: expected technical, got %s", got)
	}
	if got := preferredOf([]Domain{DomainBilling, DomainTechnical, DomainPolicy}); got != DomainTechnical {
		t.Fatalf("three-way tie: expected technical, got %s", got)
	}
}

func TestClassifyScoresExposedForAudit(t *testing.T) {
	_, scores := ClassifyWithScores("invoice payment fee", "")
	if scores.Billing <= 0 {
		t.Fatalf("expected positive billing score, got %+v", scores)
	}
	if scores.Technical != 0 || scores.Policy != 0 {
		t.Fatalf("expected zero technical/policy scores, got %+v", scores)
	}
}

func TestFilenameSignal(t *testing.T) {
	if d, ok := filenameSignal("tech-report-2024.md"); !ok || d != DomainTechnical {
		t.Fatalf("expected decisive technical, got %s decisive=%v", d, ok)
	}
	if _, ok := filenameSignal("summary.txt"); ok {
		t.Fatalf("expected no decisive signal for neutral filename")
	}
	// Patterns from two domains with equal hits: not decisive.
	if _, ok := filenameSignal("invoice-policy.txt"); ok {
		t.Fatalf("expected cross-domain filename tie to be indecisive")
	}
}
