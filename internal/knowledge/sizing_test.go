package knowledge

import "testing"

func TestResolveKComparativeFloor(t *testing.T) {
	tests := []struct {
		query      string
		requestedK int
		expected   int
	}{
		{"Which company is our most valuable customer based on invoiced amount", 5, 20},
		{"compare the service contracts for these suppliers", 3, 20},
		{"show me all open invoices", 1, 20},
		{"what is the highest maintenance cost this year", 10, 20},
		{"list all compliance procedures", 25, 25},
	}
	for _, tt := range tests {
		if got := ResolveK(tt.query, tt.requestedK, DomainBilling); got != tt.expected {
			t.Fatalf("ResolveK(%q, %d) = %d, expected %d", tt.query, tt.requestedK, got, tt.expected)
		}
	}
}

func TestResolveKNonComparativePassesThrough(t *testing.T) {
	for _, k := range []int{1, 3, 5, 7} {
		if got := ResolveK("what does the refund procedure say", k, DomainPolicy); got != k {
			t.Fatalf("ResolveK(plain, %d) = %d, expected exact requested value", k, got)
		}
	}
}

func TestIsComparativeQuery(t *testing.T) {
	if !IsComparativeQuery("Show me ALL suppliers") {
		t.Fatalf("expected case-insensitive match")
	}
	if IsComparativeQuery("when is my payment due") {
		t.Fatalf("unexpected comparative match")
	}
}
