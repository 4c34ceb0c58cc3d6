package knowledge

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const separatorWidth = 80

var titleCaser = cases.Title(language.English)

// FormatContext renders retrieved passages into the context block handed to a
// specialist, with source citations per passage.
func FormatContext(domain Domain, query string, passages []Passage) string {
	if len(passages) == 0 {
		return NoDocumentsText(domain)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Relevant %s information for query: '%s'\n\n", domain, query)
	b.WriteString(strings.Repeat("=", separatorWidth))
	b.WriteString("\n\n")

	label := titleCaser.String(string(domain))
	for i, p := range passages {
		fmt.Fprintf(&b, "[%s Document %d]\n", label, i+1)
		source := p.SourceFile
		if source == "" {
			source = "Unknown"
		}
		fmt.Fprintf(&b, "Source: %s\n", source)
		if !p.UploadedAt.IsZero() {
			fmt.Fprintf(&b, "Upload Date: %s\n", p.UploadedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Fprintf(&b, "Chunk Index: %d\n", p.Index)
		b.WriteString(strings.Repeat("-", separatorWidth))
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(p.Text))
		b.WriteString("\n\n")
	}

	b.WriteString(strings.Repeat("=", separatorWidth))
	b.WriteString("\n\n")
	fmt.Fprintf(&b,
		"Note: This information is retrieved dynamically from the %s knowledge base. "+
			"For the most current documentation, please refer to the latest uploaded documents.",
		domain)

	return b.String()
}

// NoDocumentsText is returned when similarity search finds nothing. It is
// displayable content, not an error.
func NoDocumentsText(domain Domain) string {
	return fmt.Sprintf(
		"No relevant %s documents found in the knowledge base. "+
			"Please check if %s documents have been uploaded to the %s knowledge base.",
		domain, domain, domain)
}

// RetrievalErrorText converts a retrieval failure into displayable content so
// the caller always has text to show; retrieval errors never propagate past
// the knowledge layer.
func RetrievalErrorText(domain Domain, err error) string {
	return fmt.Sprintf(
		"Error retrieving %s information: %v. "+
			"Please try again or contact support if the issue persists.",
		domain, err)
}
