package domain

import (
	"fmt"
	"strings"
)

// Well-known Solana mints.
const (
	USDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	SOLMint  = "So11111111111111111111111111111111111111112"
)

// Candidate is an asset the engine is configured to consider trading.
// Candidates are loaded once at startup and never mutated.
type Candidate struct {
	Symbol   string `json:"symbol" yaml:"symbol" toml:"symbol"`
	Mint     string `json:"mint" yaml:"mint" toml:"mint"`
	Decimals int    `json:"decimals" yaml:"decimals" toml:"decimals"`
}

// Universe is the ordered candidate list with lookup by symbol.
type Universe struct {
	list     []Candidate
	bySymbol map[string]Candidate
}

// NewUniverse builds a Universe, rejecting duplicate or empty symbols.
func NewUniverse(candidates []Candidate) (*Universe, error) {
	u := &Universe{
		list:     make([]Candidate, 0, len(candidates)),
		bySymbol: make(map[string]Candidate, len(candidates)),
	}
	for _, c := range candidates {
		key := strings.ToUpper(strings.TrimSpace(c.Symbol))
		if key == "" {
			return nil, fmt.Errorf("universe: candidate with mint %q has no symbol", c.Mint)
		}
		if _, dup := u.bySymbol[key]; dup {
			return nil, fmt.Errorf("universe: duplicate symbol %q", c.Symbol)
		}
		u.bySymbol[key] = c
		u.list = append(u.list, c)
	}
	return u, nil
}

// All returns a copy of the candidate list in configuration order.
func (u *Universe) All() []Candidate {
	out := make([]Candidate, len(u.list))
	copy(out, u.list)
	return out
}

// Lookup finds a candidate by symbol, case-insensitively.
func (u *Universe) Lookup(symbol string) (Candidate, error) {
	c, ok := u.bySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return Candidate{}, fmt.Errorf("%w: %s", ErrUnknownCandidate, symbol)
	}
	return c, nil
}

// Len returns the number of candidates.
func (u *Universe) Len() int {
	return len(u.list)
}
