package search

import (
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/ShoshinNikita/recipebox/recipebox"
)

// Filter returns recipes that match the search query and the cuisine. Every word of the
// query must be found in the name or in the cuisine of a recipe. Words in quotes
// are matched as a single phrase, words that start with '-' exclude recipes. The search
// is case- and diacritic-insensitive: "creme" matches "Crème brûlée".
//
// An empty cuisine matches all recipes. The order of recipes is preserved.
func Filter(recipes []recipebox.Recipe, query, cuisine string) []recipebox.Recipe {
	req := newSearchRequest(normalize(query))
	cuisine = normalize(strings.TrimSpace(cuisine))

	res := make([]recipebox.Recipe, 0, len(recipes))
	for _, recipe := range recipes {
		recipeCuisine := normalize(recipe.Cuisine)
		if cuisine != "" && recipeCuisine != cuisine {
			continue
		}
		if !req.match(normalize(recipe.Name), recipeCuisine) {
			continue
		}
		res = append(res, recipe)
	}
	return res
}

// Cuisines returns the sorted list of distinct cuisines.
func Cuisines(recipes []recipebox.Recipe) []string {
	var (
		res  []string
		seen = make(map[string]bool)
	)
	for _, recipe := range recipes {
		key := normalize(recipe.Cuisine)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		res = append(res, recipe.Cuisine)
	}
	slices.SortFunc(res, func(a, b string) int {
		return strings.Compare(normalize(a), normalize(b))
	})
	return res
}

type searchRequest struct {
	words        []string
	exactMatches []string
	toExclude    []string
}

func (req searchRequest) match(fields ...string) bool {
	contains := func(substr string) bool {
		return slices.ContainsFunc(fields, func(field string) bool {
			return strings.Contains(field, substr)
		})
	}

	for _, word := range req.toExclude {
		if contains(word) {
			return false
		}
	}
	for _, word := range req.exactMatches {
		if !contains(word) {
			return false
		}
	}
	for _, word := range req.words {
		if !contains(word) {
			return false
		}
	}
	return true
}

// newSearchRequest parses a normalized search query.
func newSearchRequest(search string) (req searchRequest) {
	var (
		idx = 0

		// get returns the current character.
		get = func() (byte, bool) {
			if idx < len(search) {
				return search[idx], true
			}
			return 0, false
		}
		// move advances the scanner.
		move = func() {
			idx++
		}
		// readUntil advances the scanner *after* the first occurrence of 'until'
		// and returns all characters, excluding 'until'.
		readUntil = func(until byte) (res string) {
			if _, ok := get(); !ok {
				return ""
			}

			start := idx
			for {
				r, ok := get()
				move()
				if !ok {
					return search[start:]
				}
				if r == until {
					return search[start : idx-1]
				}
			}
		}
	)

	for {
		r, ok := get()
		if !ok {
			break
		}
		if r == ' ' {
			move()
			continue
		}

		var (
			exclude bool
			exact   bool
			until   byte = ' '
		)
		switch r {
		case '"':
			until = '"'
			exact = true
			move()

		case '-':
			exclude = true
			move()
			if r, _ := get(); r == '"' {
				until = '"'
				move()
			}
		}

		word := strings.TrimSpace(readUntil(until))
		if len(word) == 0 {
			continue
		}

		switch {
		case exact:
			req.exactMatches = append(req.exactMatches, word)
		case exclude:
			req.toExclude = append(req.toExclude, word)
		default:
			req.words = append(req.words, word)
		}
	}
	return req
}

// normalize folds the case and removes diacritics. For example, 'Ü' (U+00DC) is
// decomposed into 'U' (U+0055) and U+0308, the mark is removed and 'U' is folded to 'u'.
// All whitespace sequences are replaced with a single space.
func normalize(s string) string {
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		cases.Fold(),
		norm.NFC,
	)
	res, _, err := transform.String(t, s)
	if err != nil {
		// Can't happen for valid UTF-8, fall back to simple lowercasing.
		res = strings.ToLower(s)
	}
	return strings.Join(strings.Fields(res), " ")
}
