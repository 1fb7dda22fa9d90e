package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mihaimyh/goloyalty/pkg/loyalty"
)

// TierFile is the YAML document seeding the tier ladder:
//
//	tiers:
//	  - name: Lead
//	    level_number: 1
//	    requirements: {minimum_liters: 0}
//	  - name: Silver
//	    level_number: 2
//	    requirements: {minimum_liters: 50}
//	    benefits: {cashback_rate: 2, commission_rate: 1}
//	translations:
//	  pt-BR: {Lead: Chumbo, Silver: Prata}
type TierFile struct {
	Tiers        []loyalty.TierDefinition     `yaml:"tiers"`
	Translations map[string]map[string]string `yaml:"translations"`
}

// LoadTiers reads and validates a tier file
func LoadTiers(path string) (*TierFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tiers file: %w", err)
	}
	return ParseTiers(raw)
}

// ParseTiers decodes a tier file and validates the ladder. Tiers may be
// listed in any order; they are returned sorted by level.
func ParseTiers(raw []byte) (*TierFile, error) {
	var f TierFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse tiers file: %w", err)
	}
	sorted := loyalty.CloneTiers(f.Tiers)
	loyalty.SortTiers(sorted)
	if _, err := loyalty.ValidateTiers(sorted); err != nil {
		return nil, err
	}
	f.Tiers = sorted
	return &f, nil
}

// Catalog builds the localized tier name catalog, or nil without translations
func (f *TierFile) Catalog() (*loyalty.Catalog, error) {
	if len(f.Translations) == 0 {
		return nil, nil
	}
	return loyalty.NewCatalog(f.Translations)
}
