package quotes

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"dex-console/pkg/intent"
	"dex-console/pkg/money"
	"dex-console/pkg/types"
)

var (
	// ErrNoSelection means no quote is selected
	ErrNoSelection = errors.New("no quote selected")
	// ErrStale means the set was fetched for a different intent
	ErrStale = errors.New("quotes are stale for the current intent")
	// ErrUnknownQuote means a selection named a quote outside the set
	ErrUnknownQuote = errors.New("quote not in set")
)

const none = -1

// Set is the ordered offer list for one intent snapshot
type Set struct {
	mu           sync.RWMutex
	quotes       []types.Quote
	selected     int
	userSelected bool
	fetchedAt    time.Time
	fingerprint  intent.Fingerprint
	now          func() time.Time
}

// NewSet returns an empty set
func NewSet() *Set {
	return &Set{selected: none, now: time.Now}
}

// Best returns the index of the quote with the largest output. Equal outputs
// go to the lower gas cost when both costs are known, otherwise to the earlier quote.
func Best(qs []types.Quote) int {
	best := none
	for i := range qs {
		if best == none {
			best = i
			continue
		}
		switch qs[i].OutputAmount.Cmp(qs[best].OutputAmount) {
		case 1:
			best = i
		case 0:
			if qs[i].GasCostUSD != nil && qs[best].GasCostUSD != nil && *qs[i].GasCostUSD < *qs[best].GasCostUSD {
				best = i
			}
		}
	}
	return best
}

// Replace installs a freshly fetched list for fp. The best quote is selected
// unless the user picked one for the same intent and an equivalent quote is
// still offered: same quote id, or failing that the same dex and version.
func (s *Set) Replace(qs []types.Quote, fp intent.Fingerprint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var prev *types.Quote
	if s.userSelected && s.fingerprint == fp && s.selected != none {
		q := s.quotes[s.selected]
		prev = &q
	}

	s.quotes = append([]types.Quote(nil), qs...)
	s.fingerprint = fp
	s.fetchedAt = s.now()
	s.selected = Best(s.quotes)
	s.userSelected = false

	if prev == nil {
		return
	}
	if i := s.indexOf(func(q types.Quote) bool { return q.QuoteID == prev.QuoteID }); i != none {
		s.selected, s.userSelected = i, true
		return
	}
	if i := s.indexOf(func(q types.Quote) bool { return q.Dex == prev.Dex && q.Version == prev.Version }); i != none {
		s.selected, s.userSelected = i, true
	}
}

func (s *Set) indexOf(match func(types.Quote) bool) int {
	for i, q := range s.quotes {
		if match(q) {
			return i
		}
	}
	return none
}

// Select records an explicit user choice
func (s *Set) Select(quoteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(func(q types.Quote) bool { return q.QuoteID == quoteID })
	if i == none {
		return fmt.Errorf("%w: %s", ErrUnknownQuote, quoteID)
	}
	s.selected, s.userSelected = i, true
	return nil
}

// ReplaceSelected swaps the selected member for its refreshed version in place
func (s *Set) ReplaceSelected(q types.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.selected == none {
		return ErrNoSelection
	}
	s.quotes[s.selected] = q
	return nil
}

// Invalidate empties the set after an intent edit
func (s *Set) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes = nil
	s.selected = none
	s.userSelected = false
	s.fingerprint = ""
}

// OnIntentChange has the intent.Listener signature so the set can subscribe to a Store
func (s *Set) OnIntentChange(_, _ intent.Fingerprint) {
	s.Invalidate()
}

// Selected returns the selected quote
func (s *Set) Selected() (types.Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selected == none {
		return types.Quote{}, false
	}
	return s.quotes[s.selected], true
}

// UserSelected reports whether the selection was made explicitly
func (s *Set) UserSelected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userSelected
}

// Quotes returns a copy of the list in server order
func (s *Set) Quotes() []types.Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.Quote(nil), s.quotes...)
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.quotes)
}

func (s *Set) FetchedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetchedAt
}

func (s *Set) Fingerprint() intent.Fingerprint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fingerprint
}

// IsStaleFor reports whether the set was not fetched for fp
func (s *Set) IsStaleFor(fp intent.Fingerprint) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fingerprint == "" || s.fingerprint != fp
}

// ForConfirmation returns the selected quote when the set is usable for fp
func (s *Set) ForConfirmation(fp intent.Fingerprint) (types.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fingerprint == "" || s.fingerprint != fp {
		return types.Quote{}, ErrStale
	}
	if s.selected == none {
		return types.Quote{}, ErrNoSelection
	}
	return s.quotes[s.selected], nil
}

// ToAmount is the output of the selected quote, derived for display
func (s *Set) ToAmount() (money.Amount, bool) {
	q, ok := s.Selected()
	if !ok {
		return money.Amount{}, false
	}
	return q.OutputAmount, true
}
