package search

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/meghashyamc/doccatalog/db/searchdb"
)

const (
	wildcardMarkers = "*?"
	// operatorRunes may appear in a wildcard expression next to word characters.
	operatorRunes = "*?+-:._\""
)

var closingBrackets = map[rune]rune{')': '(', ']': '[', '}': '{'}

type QueryParseError struct {
	Term   string
	Reason string
	Err    error
}

func (e *QueryParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid query %q: %s: %v", e.Term, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid query %q: %s", e.Term, e.Reason)
}

func (e *QueryParseError) Unwrap() error {
	return e.Err
}

// Query is a validated search expression against the content field.
type Query struct {
	// Expression is the normalised form of the user's term, used as the cache key.
	Expression string
	query      query.Query
}

// BuildQuery turns a user term into a content query. A term without wildcard
// markers matches documents with a token containing every word as a
// substring; a term with markers is parsed as a query string as-is.
func BuildQuery(term string) (*Query, error) {
	expression := strings.ToLower(strings.TrimSpace(term))
	if expression == "" {
		return nil, &QueryParseError{Term: term, Reason: "query cannot be empty"}
	}

	if !strings.ContainsAny(expression, wildcardMarkers) {
		return substringQuery(term, expression)
	}

	if err := checkBalanced(expression); err != nil {
		return nil, &QueryParseError{Term: term, Reason: err.Error()}
	}
	if err := checkRunes(expression); err != nil {
		return nil, &QueryParseError{Term: term, Reason: err.Error()}
	}

	parsed, err := bleve.NewQueryStringQuery(expression).Parse()
	if err != nil {
		return nil, &QueryParseError{Term: term, Reason: "malformed query syntax", Err: err}
	}
	if err := checkFields(parsed); err != nil {
		return nil, &QueryParseError{Term: term, Reason: err.Error()}
	}
	if validatable, ok := parsed.(query.ValidatableQuery); ok {
		if err := validatable.Validate(); err != nil {
			return nil, &QueryParseError{Term: term, Reason: "malformed query syntax", Err: err}
		}
	}

	return &Query{Expression: expression, query: parsed}, nil
}

func substringQuery(term string, expression string) (*Query, error) {
	words := searchdb.Tokenize(expression)
	if len(words) == 0 {
		return nil, &QueryParseError{Term: term, Reason: "query has no searchable words"}
	}

	conjuncts := make([]query.Query, 0, len(words))
	for _, word := range words {
		wildcard := bleve.NewWildcardQuery("*" + word + "*")
		wildcard.SetField(searchdb.FieldContent)
		conjuncts = append(conjuncts, wildcard)
	}

	if len(conjuncts) == 1 {
		return &Query{Expression: expression, query: conjuncts[0]}, nil
	}
	return &Query{Expression: expression, query: bleve.NewConjunctionQuery(conjuncts...)}, nil
}

// checkBalanced rejects unmatched brackets and quotes. The query string
// syntax has no grouping, so an unmatched bracket would otherwise end up
// inside a term that can never match.
func checkBalanced(expression string) error {
	var open []rune
	inQuote := false
	for _, r := range expression {
		if r == '"' {
			inQuote = !inQuote
			continue
		}
		if inQuote {
			continue
		}
		switch r {
		case '(', '[', '{':
			open = append(open, r)
		case ')', ']', '}':
			if len(open) == 0 || open[len(open)-1] != closingBrackets[r] {
				return fmt.Errorf("unbalanced %q", r)
			}
			open = open[:len(open)-1]
		}
	}
	if inQuote {
		return errors.New("unterminated quote")
	}
	if len(open) > 0 {
		return fmt.Errorf("unbalanced %q", open[len(open)-1])
	}
	return nil
}

// checkRunes rejects characters that can never be part of a content token.
func checkRunes(expression string) error {
	for _, r := range expression {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsSpace(r) || strings.ContainsRune(operatorRunes, r) {
			continue
		}
		return fmt.Errorf("unsupported character %q in wildcard query", r)
	}
	return nil
}

// checkFields rejects field qualifiers other than content.
func checkFields(q query.Query) error {
	switch typed := q.(type) {
	case *query.BooleanQuery:
		for _, child := range []query.Query{typed.Must, typed.Should, typed.MustNot} {
			if child == nil {
				continue
			}
			if err := checkFields(child); err != nil {
				return err
			}
		}
	case *query.ConjunctionQuery:
		for _, child := range typed.Conjuncts {
			if err := checkFields(child); err != nil {
				return err
			}
		}
	case *query.DisjunctionQuery:
		for _, child := range typed.Disjuncts {
			if err := checkFields(child); err != nil {
				return err
			}
		}
	case query.FieldableQuery:
		if field := typed.Field(); field != "" && field != searchdb.FieldContent {
			return errors.New("only the content field can be searched, got field " + field)
		}
	}
	return nil
}
