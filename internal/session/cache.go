package session

import (
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cacheLookupsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "aerodesk",
		Name:      "session_cache_lookups_total",
		Help:      "Policy cache lookups per outcome",
	},
	[]string{"outcome"}, // "hit", "miss", "fetch_error"
)

// Words that carry no topical signal for cache matching.
var signatureStopwords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "do": true, "does": true, "did": true,
	"can": true, "could": true, "would": true, "should": true,
	"what": true, "whats": true, "how": true, "when": true, "where": true,
	"why": true, "who": true, "which": true,
	"i": true, "we": true, "you": true, "me": true, "my": true, "our": true,
	"your": true, "us": true,
	"of": true, "on": true, "in": true, "for": true, "to": true, "about": true,
	"with": true, "and": true, "or": true, "at": true, "by": true,
	"tell": true, "please": true, "give": true, "show": true, "explain": true,
}

// Signature reduces a query to a normalized keyword form: lower-cased,
// punctuation stripped, stopwords dropped, a naive plural trim, keywords
// sorted. "what's the refund policy" and "policy on refunds" both reduce to
// "policy refund".
func Signature(query string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(query) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ', r == '\t', r == '\n':
			b.WriteRune(r)
		}
	}

	var keywords []string
	for _, word := range strings.Fields(b.String()) {
		if signatureStopwords[word] {
			continue
		}
		if len(word) > 3 && strings.HasSuffix(word, "s") && !strings.HasSuffix(word, "ss") {
			word = word[:len(word)-1]
		}
		keywords = append(keywords, word)
	}
	sort.Strings(keywords)
	return strings.Join(keywords, " ")
}

// GetOrFetch consults the session's single policy-cache slot before running
// the retrieval path. A hit requires the stored signature to contain the new
// query's signature as a substring (deliberately loose: "policy on refunds"
// hits an entry created for "refund policy"). On a miss the fetched content
// replaces the slot. A fetch failure surfaces the error text as displayable
// content and leaves the slot untouched, so the same signature retries next
// time. Returns the content and whether it was served from cache.
func (s *State) GetOrFetch(query string, fetch func() (string, error)) (string, bool) {
	signature := Signature(query)

	s.mu.Lock()
	if signature != "" && s.cacheSignature != "" && strings.Contains(s.cacheSignature, signature) {
		content := s.cacheContent
		s.mu.Unlock()
		cacheLookupsTotal.WithLabelValues("hit").Inc()
		return content, true
	}
	s.mu.Unlock()

	content, err := fetch()
	if err != nil {
		cacheLookupsTotal.WithLabelValues("fetch_error").Inc()
		return err.Error(), false
	}

	s.mu.Lock()
	s.cacheSignature = signature
	s.cacheContent = content
	s.cachedAt = time.Now()
	s.mu.Unlock()
	cacheLookupsTotal.WithLabelValues("miss").Inc()
	return content, false
}
