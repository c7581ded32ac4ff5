package intent

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"

	"dex-console/pkg/chain"
	"dex-console/pkg/money"
	"dex-console/pkg/types"
)

// Field names used in validation errors
const (
	FieldChain         = "chain"
	FieldFromToken     = "from_token"
	FieldToToken       = "to_token"
	FieldFromAmount    = "from_amount"
	FieldSlippage      = "slippage"
	FieldGasPreference = "gas_preference"
)

// ValidationError reports one invalid intent field
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Draft is the intent as typed by the user, before validation
type Draft struct {
	Chain         string
	FromToken     string
	ToToken       string
	FromAmount    string
	Slippage      string
	GasPreference string
}

// Fingerprint identifies the intent fields that determine quote validity
type Fingerprint string

// Listener is told when the fingerprint changes
type Listener func(previous, current Fingerprint)

// Store holds the user's trade intent
type Store struct {
	mu        sync.Mutex
	draft     Draft
	listeners []Listener
}

// NewStore creates a store seeded with draft
func NewStore(draft Draft) *Store {
	if draft.GasPreference == "" {
		draft.GasPreference = string(types.GasAuto)
	}
	return &Store{draft: draft}
}

// OnInvalidate registers l to run after every fingerprint change
func (s *Store) OnInvalidate(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Draft returns a copy of the raw intent
func (s *Store) Draft() Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

func (s *Store) SetChain(v string) { s.update(func(d *Draft) { d.Chain = v }) }

func (s *Store) SetFromToken(v string) { s.update(func(d *Draft) { d.FromToken = v }) }

func (s *Store) SetToToken(v string) { s.update(func(d *Draft) { d.ToToken = v }) }

func (s *Store) SetFromAmount(v string) { s.update(func(d *Draft) { d.FromAmount = v }) }

func (s *Store) SetSlippage(v string) { s.update(func(d *Draft) { d.Slippage = v }) }

func (s *Store) SetGasPreference(v string) { s.update(func(d *Draft) { d.GasPreference = v }) }

// Replace swaps the whole draft at once, notifying listeners at most once
func (s *Store) Replace(d Draft) { s.update(func(cur *Draft) { *cur = d }) }

func (s *Store) update(mutate func(*Draft)) {
	s.mu.Lock()
	before := FingerprintOf(s.draft)
	mutate(&s.draft)
	after := FingerprintOf(s.draft)
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	if before == after {
		return
	}
	for _, l := range listeners {
		l(before, after)
	}
}

// Fingerprint of the current draft
func (s *Store) Fingerprint() Fingerprint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return FingerprintOf(s.draft)
}

// Intent validates the draft and returns the typed intent
func (s *Store) Intent() (types.TradeIntent, error) {
	return Validate(s.Draft())
}

// Validate parses every field of d. All field errors are joined.
func Validate(d Draft) (types.TradeIntent, error) {
	var errs []error
	fail := func(field, format string, args ...interface{}) {
		errs = append(errs, &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	c, err := chain.ByName(d.Chain)
	if err != nil {
		fail(FieldChain, "%v", err)
	}

	from := strings.TrimSpace(d.FromToken)
	switch {
	case from == "":
		fail(FieldFromToken, "token is required")
	case err == nil && strings.HasPrefix(from, "0x") && !c.IsValidAddress(from):
		fail(FieldFromToken, "%q is not a valid %s address", from, c.Name)
	}

	to := strings.TrimSpace(d.ToToken)
	switch {
	case to == "":
		fail(FieldToToken, "token is required")
	case err == nil && !c.IsValidToken(to):
		fail(FieldToToken, "%q is not a valid %s address", to, c.Name)
	}

	amount, aerr := money.ParsePositive(d.FromAmount)
	if aerr != nil {
		fail(FieldFromAmount, "%v", aerr)
	}

	slippage, serr := money.ParseNonNegative(d.Slippage)
	if serr != nil {
		fail(FieldSlippage, "%v", serr)
	} else if slippage.GreaterThan(types.MaxSlippage) {
		fail(FieldSlippage, "must be at most %s%%", types.MaxSlippage)
	}

	gas, gerr := types.ParseGasPreference(d.GasPreference)
	if gerr != nil {
		fail(FieldGasPreference, "%v", gerr)
	}

	if len(errs) > 0 {
		return types.TradeIntent{}, errors.Join(errs...)
	}

	return types.TradeIntent{
		Chain:         c.Name,
		FromToken:     c.NormalizeAddress(from),
		ToToken:       c.NormalizeAddress(to),
		FromAmount:    amount,
		Slippage:      slippage,
		GasPreference: gas,
	}, nil
}

// FingerprintOf hashes the five quote-determining fields. Amounts that parse
// are canonicalized so "1.0" and "1" agree; unparsable text is hashed verbatim.
func FingerprintOf(d Draft) Fingerprint {
	chainName := strings.ToLower(strings.TrimSpace(d.Chain))
	normalize := func(token string) string { return strings.TrimSpace(token) }
	if c, err := chain.ByName(chainName); err == nil {
		chainName = c.Name
		normalize = func(token string) string { return c.NormalizeAddress(strings.TrimSpace(token)) }
	}

	canonical := func(s string) string {
		if a, err := money.Parse(s); err == nil {
			return a.String()
		}
		return strings.TrimSpace(s)
	}

	h := crypto.Keccak256Hash(
		[]byte(normalize(d.FromToken)), []byte{0},
		[]byte(normalize(d.ToToken)), []byte{0},
		[]byte(canonical(d.FromAmount)), []byte{0},
		[]byte(chainName), []byte{0},
		[]byte(canonical(d.Slippage)),
	)
	return Fingerprint(h.Hex())
}

// FingerprintOfIntent hashes a validated intent the same way as its draft
func FingerprintOfIntent(t types.TradeIntent) Fingerprint {
	return FingerprintOf(Draft{
		Chain:      t.Chain,
		FromToken:  t.FromToken,
		ToToken:    t.ToToken,
		FromAmount: t.FromAmount.String(),
		Slippage:   t.Slippage.String(),
	})
}
