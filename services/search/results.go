package search

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/meghashyamc/doccatalog/db/searchdb"
)

type SortKey string

const (
	// SortRelevance keeps the order the index returned.
	SortRelevance SortKey = ""
	SortTitle     SortKey = "title"
	SortModified  SortKey = "modified"
	SortSize      SortKey = "size"
	SortExtension SortKey = "extension"
)

var SortKeys = []SortKey{SortTitle, SortModified, SortSize, SortExtension}

func ParseSortKey(value string) (SortKey, error) {
	switch key := SortKey(strings.ToLower(strings.TrimSpace(value))); key {
	case SortRelevance, SortTitle, SortModified, SortSize, SortExtension:
		return key, nil
	case "relevance":
		return SortRelevance, nil
	case "date", "mtime":
		return SortModified, nil
	case "ext", "type":
		return SortExtension, nil
	default:
		return "", fmt.Errorf("unknown sort key %q", value)
	}
}

// ResultSet is the in-memory hit list of one search. Sorting reorders it in
// place and never touches the index again.
type ResultSet struct {
	Query   string            `json:"query"`
	Results []searchdb.Result `json:"results"`
}

func (rs *ResultSet) Len() int {
	return len(rs.Results)
}

// Sort applies a stable sort, so entries with equal keys keep their current
// relative order.
func (rs *ResultSet) Sort(key SortKey) {
	switch key {
	case SortTitle:
		slices.SortStableFunc(rs.Results, func(a, b searchdb.Result) int {
			return cmp.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
		})
	case SortModified:
		slices.SortStableFunc(rs.Results, func(a, b searchdb.Result) int {
			return b.ModTime.Compare(a.ModTime)
		})
	case SortSize:
		slices.SortStableFunc(rs.Results, func(a, b searchdb.Result) int {
			return cmp.Compare(b.Size, a.Size)
		})
	case SortExtension:
		slices.SortStableFunc(rs.Results, func(a, b searchdb.Result) int {
			return cmp.Compare(a.Extension, b.Extension)
		})
	}
}
