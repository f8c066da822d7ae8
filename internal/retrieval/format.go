package retrieval

import "strings"

// FormatContext renders a candidate list as the product context block
// handed to the LLM for order resolution and inquiry drafting. One
// document per line, in ranking order.
func FormatContext(candidates []Candidate) string {
	var b strings.Builder
	for _, c := range candidates {
		doc := strings.TrimSpace(c.Document)
		if doc == "" {
			doc = c.Entry.Document()
		}
		b.WriteString(doc)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}
