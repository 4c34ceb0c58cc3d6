package knowledge

import "strings"

// comparativeFloor is the minimum passage count for comparative queries.
// Top-k similarity ranks by closeness to the query text, not by the values
// being compared, so "our most valuable customer by invoiced amount" is
// wrong unless retrieval returns every relevant record. This is a hard
// correctness bound, not a tuning knob.
const comparativeFloor = 20

var comparativePhrases = []string{
	"most valuable",
	"most expensive",
	"highest",
	"lowest",
	"largest",
	"smallest",
	"biggest",
	"compare",
	"comparison",
	"which company",
	"which customer",
	"which supplier",
	"show me all",
	"list all",
	"all of the",
	"top ",
	"rank",
	"total across",
	"sum of",
	"best",
	"worst",
}

// ResolveK decides how many passages to request from similarity search.
// Comparative-intent queries get max(requestedK, comparativeFloor);
// everything else gets exactly the caller's requestedK. Never fails.
func ResolveK(query string, requestedK int, domain Domain) int {
	if IsComparativeQuery(query) {
		if requestedK < comparativeFloor {
			return comparativeFloor
		}
		return requestedK
	}
	return requestedK
}

// IsComparativeQuery reports whether the query needs exhaustive retrieval
// rather than the single best semantic match.
func IsComparativeQuery(query string) bool {
	lower := strings.ToLower(query)
	for _, phrase := range comparativePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
