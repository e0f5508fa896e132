package evidence

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fingerprint derives the dedup key for one upstream query. Two requests that
// differ only in casing, surrounding whitespace, or diacritics share a key,
// so they share a cache entry and a single in-flight fetch.
func Fingerprint(query string, sources []string, maxResults int) string {
	normalized := normalizeQuery(query)
	sorted := make([]string, len(sources))
	copy(sorted, sources)
	sort.Strings(sorted)
	return fmt.Sprintf("%s::%s::%d", normalized, strings.Join(sorted, ","), maxResults)
}

func normalizeQuery(query string) string {
	folded, _, err := transform.String(foldTransformer, query)
	if err != nil {
		folded = query
	}
	folded = strings.ToLower(folded)
	return strings.Join(strings.Fields(folded), " ")
}
