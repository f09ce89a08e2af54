package discovery

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Trustflow-Network-Labs/x402-autopay/internal/utils"
)

type catalogFile struct {
	Providers []Candidate `yaml:"providers"`
}

// Catalog serves discovery from a static provider list
type Catalog struct {
	providers []Candidate
	logger    *utils.LogsManager
}

// LoadCatalog reads a YAML provider catalog of the form
//
//	providers:
//	  - id: weather-basic
//	    endpoint: https://weather.example.com/v1/forecast
//	    price: "0.25"
//	    reputation: 4.6
//	    capabilities: [weather]
func LoadCatalog(path string, logger *utils.LogsManager) (*Catalog, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return ParseCatalog(content, logger)
}

func ParseCatalog(content []byte, logger *utils.LogsManager) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog YAML: %w", err)
	}

	seen := make(map[string]bool)
	providers := make([]Candidate, 0, len(file.Providers))
	for i, p := range file.Providers {
		if err := validateCandidate(p); err != nil {
			return nil, fmt.Errorf("provider %d: %w", i, err)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("provider %d: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = true
		providers = append(providers, p)
	}

	return NewCatalog(providers, logger), nil
}

func NewCatalog(providers []Candidate, logger *utils.LogsManager) *Catalog {
	return &Catalog{
		providers: append([]Candidate(nil), providers...),
		logger:    logger,
	}
}

func validateCandidate(p Candidate) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("missing id")
	}
	u, err := url.Parse(p.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s: invalid endpoint %q", p.ID, p.Endpoint)
	}
	if p.Price != "" {
		if _, err := utils.ParseDecimal(p.Price); err != nil {
			return fmt.Errorf("%s: %w", p.ID, err)
		}
	}
	if p.Reputation < 0 {
		return fmt.Errorf("%s: negative reputation", p.ID)
	}
	return nil
}

// Discover returns the ranked providers matching q
func (c *Catalog) Discover(ctx context.Context, q Query) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ranked := Rank(Filter(c.providers, q))
	if len(ranked) == 0 {
		return nil, ErrNoProviders
	}
	if q.Limit > 0 && len(ranked) > q.Limit {
		ranked = ranked[:q.Limit]
	}

	c.logger.Debug(fmt.Sprintf("Discovered %d providers for capability %q", len(ranked), q.Capability), "discovery")
	return ranked, nil
}

func (c *Catalog) Len() int {
	return len(c.providers)
}
