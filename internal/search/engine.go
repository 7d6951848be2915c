package search

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pders01/triage/internal/backend"
)

// MinQueryLength matches the backend's minimum.
const MinQueryLength = 2

// Field weights. Names dominate; email is the weakest signal.
const (
	weightName   = 3.0
	weightNumber = 2.5
	weightCPF    = 2.0
	weightEmail  = 1.5
)

// Engine scans the local client cache without an index, applying the same
// rule as the backend: a case-insensitive substring match over name, CPF,
// client number and email.
type Engine struct {
	store ClientSource
}

func NewEngine(store ClientSource) *Engine {
	return &Engine{store: store}
}

func (e *Engine) Search(query string, limit int) ([]*Result, error) {
	q := normalizeQuery(query)
	if utf8.RuneCountInString(q) < MinQueryLength {
		return []*Result{}, nil
	}

	clients, err := e.store.AllClients()
	if err != nil {
		return nil, err
	}

	terms := tokenize(q)
	digits := digitsOnly(q)
	results := make([]*Result, 0)
	for _, c := range clients {
		if r := scoreClient(c, q, terms, digits); r != nil {
			results = append(results, r)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return strings.ToLower(results[i].Client.Name) < strings.ToLower(results[j].Client.Name)
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// scoreClient returns nil when c does not match q.
func scoreClient(c *backend.Client, q string, terms []string, digits string) *Result {
	var matches []Match
	var total float64

	add := func(field, text string, weight float64) {
		if s := scoreField(text, q, weight); s > 0 {
			matches = append(matches, Match{Field: field, Text: text, Weight: s})
			total += s
		}
	}
	add("name", c.Name, weightName)
	add("number", c.Number, weightNumber)
	add("cpf", c.CPF, weightCPF)
	add("email", c.Email, weightEmail)

	// "12345678900" finds "123.456.789-00".
	if len(digits) >= MinQueryLength && digits == q && !strings.Contains(c.CPF, q) {
		if s := scoreField(digitsOnly(c.CPF), digits, weightCPF); s > 0 {
			matches = append(matches, Match{Field: "cpf", Text: c.CPF, Weight: s})
			total += s
		}
	}

	// "ana souza" finds "Ana Beatriz Souza": every term must hit the name.
	if total == 0 && len(terms) > 1 && allTermsIn(strings.ToLower(c.Name), terms) {
		s := weightName * 0.5
		matches = append(matches, Match{Field: "name", Text: c.Name, Weight: s})
		total += s
	}

	if total == 0 {
		return nil
	}
	return &Result{Client: c, Score: total, Matches: matches}
}

// scoreField favours exact over prefix over word-prefix over plain
// substring matches.
func scoreField(text, q string, weight float64) float64 {
	if text == "" {
		return 0
	}
	lower := strings.ToLower(text)
	switch {
	case lower == q:
		return 4 * weight
	case strings.HasPrefix(lower, q):
		return 3 * weight
	case wordPrefix(lower, q):
		return 2 * weight
	case strings.Contains(lower, q):
		return weight
	default:
		return 0
	}
}

func wordPrefix(text, q string) bool {
	for _, w := range strings.FieldsFunc(text, isSeparator) {
		if strings.HasPrefix(w, q) {
			return true
		}
	}
	return false
}

func allTermsIn(text string, terms []string) bool {
	for _, t := range terms {
		if !strings.Contains(text, t) {
			return false
		}
	}
	return true
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsNumber(r)
}

func normalizeQuery(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// tokenize breaks text into lower-cased terms of at least two runes.
func tokenize(text string) []string {
	var terms []string
	for _, f := range strings.FieldsFunc(text, isSeparator) {
		if utf8.RuneCountInString(f) > 1 {
			terms = append(terms, strings.ToLower(f))
		}
	}
	return terms
}
