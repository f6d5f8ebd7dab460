package fulfillment

import (
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// DefaultSpareLocation is the storage location shared by spare parts; it is walked last.
const DefaultSpareLocation = "อะไหล่"

// LocationSorter orders items along the warehouse walk: locale-aware,
// numeric-aware, with one trailing location token.
type LocationSorter struct {
	mu       sync.Mutex
	collator *collate.Collator
	last     string
}

// NewLocationSorter builds a sorter for the given BCP 47 locale. An unknown
// locale falls back to Thai.
func NewLocationSorter(locale, lastToken string) *LocationSorter {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.Thai
	}
	return &LocationSorter{
		collator: collate.New(tag, collate.Numeric, collate.IgnoreCase),
		last:     strings.TrimSpace(lastToken),
	}
}

// Less compares two locations.
func (s *LocationSorter) Less(a, b string) bool {
	aLast, bLast := s.isLast(a), s.isLast(b)
	if aLast != bLast {
		return bLast
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collator.CompareString(a, b) < 0
}

// Sort orders items in place by location, keeping insertion order for ties.
func (s *LocationSorter) Sort(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Location == items[j].Location {
			return false
		}
		return s.Less(items[i].Location, items[j].Location)
	})
}

func (s *LocationSorter) isLast(location string) bool {
	return s.last != "" && strings.TrimSpace(location) == s.last
}
