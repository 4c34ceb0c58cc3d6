package knowledge

import "fmt"

// Domain identifies the knowledge base a document or query belongs to.
// Assignment happens once at ingestion and is never revisited.
type Domain string

const (
	DomainBilling   Domain = "billing"
	DomainTechnical Domain = "technical"
	DomainPolicy    Domain = "policy"
)

// DefaultDomain is where empty or unscoreable documents land.
const DefaultDomain = DomainTechnical

func AllDomains() []Domain {
	return []Domain{DomainBilling, DomainTechnical, DomainPolicy}
}

func (d Domain) Valid() bool {
	switch d {
	case DomainBilling, DomainTechnical, DomainPolicy:
		return true
	}
	return false
}

func (d Domain) String() string {
	return string(d)
}

func ParseDomain(s string) (Domain, error) {
	d := Domain(s)
	if !d.Valid() {
		return "", fmt.Errorf("unknown knowledge domain %q", s)
	}
	return d, nil
}

// DefaultK returns the default passage count requested for a domain.
// Policy questions tend to span more documents than billing or technical ones.
func (d Domain) DefaultK() int {
	if d == DomainPolicy {
		return 5
	}
	return 3
}
