package output

import (
	"fmt"

	"github.com/crawldex/crawldex/internal/document"
)

// SnippetLength is the content preview length in text listings.
const SnippetLength = 160

// Results prints search results as a numbered text listing.
func (w *Writer) Results(results []document.QueryResult) {
	if len(results) == 0 {
		w.Status("🔍", "No results")
		return
	}
	for i, r := range results {
		_, _ = fmt.Fprintf(w.out, "%d. %s [%s]\n", i+1, r.Title, r.Category)
		_, _ = fmt.Fprintf(w.out, "   %s\n", r.URL)
		_, _ = fmt.Fprintf(w.out, "   id: %s\n", r.ID())
		if r.Content != "" && r.Content != document.Unknown {
			_, _ = fmt.Fprintf(w.out, "   %s\n", Snippet(r.Content, SnippetLength))
		}
	}
}
