package knowledge

import "strings"

// Keyword vocabularies per domain. Matched case-insensitively as substrings,
// so multi-word entries ("purchase order") work without tokenization.
var contentKeywords = map[Domain][]string{
	DomainBilling: {
		"billing", "invoice", "payment", "price", "cost", "pricing",
		"contract", "purchase order", "quote", "revenue", "charge",
		"fee", "rate", "tariff", "catalog", "parts catalog",
	},
	DomainTechnical: {
		"technical", "specification", "manual", "bug", "issue", "defect",
		"engineering", "component", "system", "hardware", "software",
		"spec", "design", "documentation", "troubleshooting", "repair",
		"maintenance", "service bulletin", "publication",
	},
	DomainPolicy: {
		"policy", "regulation", "compliance", "faa", "easa", "dfars",
		"government", "regulatory", "legal", "standard", "procedure",
		"governance", "data governance", "customer support policy",
		"service level", "aging", "invoicing policy", "defense", "commercial",
	},
}

// Filename patterns are a strong, near-deterministic signal: a file named
// "billing-invoice-Q4.pdf" goes to billing regardless of modest content
// signals from other domains.
var filenamePatterns = map[Domain][]string{
	DomainBilling:   {"invoice", "billing", "payment", "receipt", "pricing", "quote", "tariff"},
	DomainTechnical: {"tech", "spec", "manual", "engineering", "maintenance", "bulletin", "troubleshoot"},
	DomainPolicy:    {"policy", "policies", "compliance", "regulation", "governance", "legal", "terms"},
}

const (
	// A competing domain's content score must exceed the filename domain's
	// content score by this ratio to override a decisive filename match.
	filenameOverrideRatio = 1.5

	// Keywords found in short heading-like lines count extra.
	headingWeight = 2.0

	// Weight of the section-level majority vote relative to plain frequency.
	sectionVoteWeight = 0.5

	// Heading heuristics: short line, no sentence-ending punctuation.
	headingMaxWords = 8
)

// DomainScores holds the per-domain classification scores, exposed so callers
// can log all three for auditability.
type DomainScores struct {
	Billing   float64
	Technical float64
	Policy    float64
}

func (s DomainScores) of(d Domain) float64 {
	switch d {
	case DomainBilling:
		return s.Billing
	case DomainPolicy:
		return s.Policy
	default:
		return s.Technical
	}
}

func (s *DomainScores) add(d Domain, v float64) {
	switch d {
	case DomainBilling:
		s.Billing += v
	case DomainPolicy:
		s.Policy += v
	default:
		s.Technical += v
	}
}

// Classify assigns a document to exactly one knowledge domain from its
// content and filename. It never fails: empty or unscoreable input resolves
// to the default domain.
func Classify(content, filename string) Domain {
	domain, _ := ClassifyWithScores(content, filename)
	return domain
}

// ClassifyWithScores is Classify plus the three raw content scores.
func ClassifyWithScores(content, filename string) (Domain, DomainScores) {
	scores := scoreContent(content)
	fileDomain, decisive := filenameSignal(filename)

	if decisive {
		// The filename wins unless some other domain's content score beats
		// the filename domain's content score by more than the margin.
		challenger := fileDomain
		for _, d := range AllDomains() {
			if d == fileDomain {
				continue
			}
			if scores.of(d) > filenameOverrideRatio*scores.of(fileDomain) && scores.of(d) > scores.of(challenger) {
				challenger = d
			}
		}
		if challenger != fileDomain {
			return challenger, scores
		}
		return fileDomain, scores
	}

	return pickHighest(scores, content), scores
}

func pickHighest(scores DomainScores, content string) Domain {
	best := DefaultDomain
	bestScore := 0.0
	tied := false
	for _, d := range AllDomains() {
		s := scores.of(d)
		if s > bestScore {
			best, bestScore, tied = d, s, false
		} else if s == bestScore && s > 0 && d != best {
			tied = true
		}
	}
	if bestScore == 0 {
		return DefaultDomain
	}
	if !tied {
		return best
	}

	var contenders []Domain
	for _, d := range AllDomains() {
		if scores.of(d) == bestScore {
			contenders = append(contenders, d)
		}
	}
	// First-paragraph tie-break before falling back to the fixed order.
	if first := firstParagraphWinner(content, contenders); first != "" {
		return first
	}
	return preferredOf(contenders)
}

// preferredOf applies the fixed tie order: technical > policy > billing,
// except that a straight billing/policy tie goes to billing. Kept as-is for
// regression stability with prior routing behavior.
func preferredOf(contenders []Domain) Domain {
	has := map[Domain]bool{}
	for _, d := range contenders {
		has[d] = true
	}
	if has[DomainBilling] && has[DomainPolicy] && !has[DomainTechnical] {
		return DomainBilling
	}
	for _, d := range []Domain{DomainTechnical, DomainPolicy, DomainBilling} {
		if has[d] {
			return d
		}
	}
	return DefaultDomain
}

func scoreContent(content string) DomainScores {
	var scores DomainScores
	lower := strings.ToLower(content)
	totalWords := len(strings.Fields(lower))
	if totalWords == 0 {
		return scores
	}

	for _, d := range AllDomains() {
		hits := 0
		for _, kw := range contentKeywords[d] {
			hits += strings.Count(lower, kw)
		}
		scores.add(d, float64(hits)/float64(totalWords))
	}

	for _, line := range strings.Split(lower, "\n") {
		if !isHeadingLine(line) {
			continue
		}
		for _, d := range AllDomains() {
			for _, kw := range contentKeywords[d] {
				if strings.Contains(line, kw) {
					scores.add(d, headingWeight/float64(totalWords))
				}
			}
		}
	}

	// Mixed-signal documents get a section-level majority vote weighted by
	// section length, so one long dominant section outweighs scattered
	// mentions elsewhere.
	positive := 0
	for _, d := range AllDomains() {
		if scores.of(d) > 0 {
			positive++
		}
	}
	if positive > 1 {
		votes := sectionVotes(lower)
		for _, d := range AllDomains() {
			scores.add(d, sectionVoteWeight*votes.of(d)/float64(totalWords))
		}
	}

	return scores
}

func isHeadingLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	if strings.HasPrefix(trimmed, "#") {
		return true
	}
	words := strings.Fields(trimmed)
	if len(words) > headingMaxWords {
		return false
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?', ',', ';':
		return false
	}
	return true
}

// sectionVotes splits the document on blank lines and awards each section's
// word count to the domain with the most keyword hits inside it.
func sectionVotes(lower string) DomainScores {
	var votes DomainScores
	for _, section := range strings.Split(lower, "\n\n") {
		sectionWords := len(strings.Fields(section))
		if sectionWords == 0 {
			continue
		}
		winner, winnerHits := Domain(""), 0
		for _, d := range AllDomains() {
			hits := 0
			for _, kw := range contentKeywords[d] {
				hits += strings.Count(section, kw)
			}
			if hits > winnerHits {
				winner, winnerHits = d, hits
			}
		}
		if winner != "" {
			votes.add(winner, float64(sectionWords))
		}
	}
	return votes
}

// firstParagraphWinner resolves a score tie by whichever contender dominates
// the opening paragraph, or "" when the first paragraph is equally ambiguous.
func firstParagraphWinner(content string, contenders []Domain) Domain {
	lower := strings.ToLower(content)
	first := lower
	if idx := strings.Index(lower, "\n\n"); idx >= 0 {
		first = lower[:idx]
	}
	winner, winnerHits := Domain(""), 0
	tied := false
	for _, d := range contenders {
		hits := 0
		for _, kw := range contentKeywords[d] {
			hits += strings.Count(first, kw)
		}
		if hits > winnerHits {
			winner, winnerHits, tied = d, hits, false
		} else if hits == winnerHits && hits > 0 {
			tied = true
		}
	}
	if tied || winnerHits == 0 {
		return ""
	}
	return winner
}

// filenameSignal reports the domain indicated by the filename and whether the
// match is decisive. When patterns from several domains match, the one with
// the most matches wins; an across-domain tie is not decisive.
func filenameSignal(filename string) (Domain, bool) {
	lower := strings.ToLower(filename)
	if lower == "" {
		return "", false
	}
	best, bestHits := Domain(""), 0
	tied := false
	for _, d := range AllDomains() {
		hits := 0
		for _, p := range filenamePatterns[d] {
			if strings.Contains(lower, p) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits, tied = d, hits, false
		} else if hits == bestHits && hits > 0 {
			tied = true
		}
	}
	if bestHits == 0 || tied {
		return "", false
	}
	return best, true
}
