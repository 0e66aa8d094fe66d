// Copyright 2025 Veralex
// SPDX-License-Identifier: BUSL-1.1

// Package estimate computes pre-authorization amounts for analysis jobs
// from a pricing table and a safety margin. Estimation is allowed to be
// wrong in either direction; financial correctness is enforced at
// settlement, not here.
package estimate

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Tier is the analysis quality tier selected by the client. It is a
// closed enumeration: unknown values are rejected at admission, never
// silently mapped to a cheaper tier.
type Tier string

const (
	TierStandard     Tier = "standard"
	TierProfessional Tier = "professional"
	TierForensic     Tier = "forensic"
)

// ValidTier reports whether t is a known tier.
func ValidTier(t Tier) bool {
	switch t {
	case TierStandard, TierProfessional, TierForensic:
		return true
	}
	return false
}

// StageType identifies a kind of analysis stage. The pricing table is
// keyed by stage type; stage executors are opaque beyond this label.
type StageType string

const (
	StageSummary       StageType = "summary"
	StageClauseReview  StageType = "clause_review"
	StageRiskAnalysis  StageType = "risk_analysis"
	StageCitationCheck StageType = "citation_check"
)

// StagePricing holds the expected cost in cents per 1K document
// characters for one stage type, per tier.
type StagePricing map[Tier]int64

// PricingTable maps stage type x tier to expected unit cost.
type PricingTable struct {
	Stages map[StageType]StagePricing `yaml:"stages"`
	mu     sync.RWMutex
}

// DefaultPricing contains expected per-stage unit costs in cents per 1K
// characters, tuned from observed provider costs.
var DefaultPricing = &PricingTable{
	Stages: map[StageType]StagePricing{
		StageSummary: {
			TierStandard:     2,
			TierProfessional: 6,
			TierForensic:     15,
		},
		StageClauseReview: {
			TierStandard:     4,
			TierProfessional: 12,
			TierForensic:     30,
		},
		StageRiskAnalysis: {
			TierStandard:     5,
			TierProfessional: 15,
			TierForensic:     40,
		},
		StageCitationCheck: {
			TierStandard:     3,
			TierProfessional: 8,
			TierForensic:     20,
		},
	},
}

// NewPricingTable returns a copy of the default pricing table.
func NewPricingTable() *PricingTable {
	table := &PricingTable{Stages: make(map[StageType]StagePricing)}
	for stage, tiers := range DefaultPricing.Stages {
		cp := make(StagePricing, len(tiers))
		for tier, cents := range tiers {
			cp[tier] = cents
		}
		table.Stages[stage] = cp
	}
	return table
}

// LoadPricingFile reads a pricing table from a YAML file. Stage types
// and tiers present in the file must be known; unknown keys are
// rejected so typos cannot silently price a stage at zero.
func LoadPricingFile(path string) (*PricingTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pricing file: %w", err)
	}

	var raw struct {
		Stages map[string]map[string]int64 `yaml:"stages"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse pricing file: %w", err)
	}

	table := &PricingTable{Stages: make(map[StageType]StagePricing)}
	for stageName, tiers := range raw.Stages {
		stage := StageType(stageName)
		if !ValidStageType(stage) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownStageType, stageName)
		}
		pricing := make(StagePricing, len(tiers))
		for tierName, cents := range tiers {
			tier := Tier(tierName)
			if !ValidTier(tier) {
				return nil, fmt.Errorf("%w: %q", ErrUnknownTier, tierName)
			}
			if cents < 0 {
				return nil, fmt.Errorf("negative price for %s/%s", stageName, tierName)
			}
			pricing[tier] = cents
		}
		table.Stages[stage] = pricing
	}

	return table, nil
}

// ValidStageType reports whether s is a known stage type.
func ValidStageType(s StageType) bool {
	switch s {
	case StageSummary, StageClauseReview, StageRiskAnalysis, StageCitationCheck:
		return true
	}
	return false
}

// UnitCost returns the expected cents per 1K characters for a stage at
// a tier.
func (p *PricingTable) UnitCost(stage StageType, tier Tier) (int64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	tiers, ok := p.Stages[stage]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownStageType, stage)
	}
	cents, ok := tiers[tier]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	return cents, nil
}

// SetUnitCost updates one cell of the table.
func (p *PricingTable) SetUnitCost(stage StageType, tier Tier, cents int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Stages == nil {
		p.Stages = make(map[StageType]StagePricing)
	}
	if p.Stages[stage] == nil {
		p.Stages[stage] = make(StagePricing)
	}
	p.Stages[stage][tier] = cents
}
