package discovery

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"strings"

	"github.com/Trustflow-Network-Labs/x402-autopay/internal/utils"
)

var ErrNoProviders = errors.New("no providers match the query")

// Candidate is a provider able to serve a capability for a listed price
type Candidate struct {
	ID           string   `yaml:"id" json:"id"`
	Name         string   `yaml:"name" json:"name,omitempty"`
	Description  string   `yaml:"description" json:"description,omitempty"`
	Endpoint     string   `yaml:"endpoint" json:"endpoint"`
	Method       string   `yaml:"method" json:"method,omitempty"`
	Price        string   `yaml:"price" json:"price,omitempty"`
	Reputation   float64  `yaml:"reputation" json:"reputation"`
	Capabilities []string `yaml:"capabilities" json:"capabilities,omitempty"`
}

// Query narrows discovery; zero fields match everything
type Query struct {
	Capability string
	Text       string
	MaxPrice   string
	Limit      int
}

type Discoverer interface {
	Discover(ctx context.Context, q Query) ([]Candidate, error)
}

func (c Candidate) hasCapability(capability string) bool {
	if capability == "" {
		return true
	}
	for _, have := range c.Capabilities {
		if strings.EqualFold(have, capability) {
			return true
		}
	}
	return false
}

func (c Candidate) matchesText(text string) bool {
	if text == "" {
		return true
	}
	text = strings.ToLower(text)
	for _, field := range append([]string{c.ID, c.Name, c.Description}, c.Capabilities...) {
		if strings.Contains(strings.ToLower(field), text) {
			return true
		}
	}
	return false
}

// price returns the listed price, nil when unlisted or unparseable
func (c Candidate) price() *big.Rat {
	if c.Price == "" {
		return nil
	}
	p, err := utils.ParseDecimal(c.Price)
	if err != nil {
		return nil
	}
	return p
}

// Rank orders candidates by reputation, highest first, then by price,
// cheapest first. Candidates without a usable price sort after priced ones
// of equal reputation. The input slice is not modified.
func Rank(candidates []Candidate) []Candidate {
	ranked := append([]Candidate(nil), candidates...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Reputation != b.Reputation {
			return a.Reputation > b.Reputation
		}
		pa, pb := a.price(), b.price()
		switch {
		case pa == nil:
			return false
		case pb == nil:
			return true
		default:
			return pa.Cmp(pb) < 0
		}
	})
	return ranked
}

// Filter keeps the candidates matching q, without ranking them
func Filter(candidates []Candidate, q Query) []Candidate {
	var ceiling *big.Rat
	if q.MaxPrice != "" {
		if p, err := utils.ParseDecimal(q.MaxPrice); err == nil {
			ceiling = p
		}
	}

	var out []Candidate
	for _, c := range candidates {
		if !c.hasCapability(q.Capability) || !c.matchesText(q.Text) {
			continue
		}
		if ceiling != nil {
			if p := c.price(); p != nil && p.Cmp(ceiling) > 0 {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}
