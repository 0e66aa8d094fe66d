// Copyright 2025 Veralex
// SPDX-License-Identifier: BUSL-1.1

package estimate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePricingFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "pricing.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadPricingFile_OverridesDefaults(t *testing.T) {
	path := writePricingFile(t, `
stages:
  summary:
    standard: 3
    professional: 9
  risk_analysis:
    forensic: 55
`)

	table, err := LoadPricingFile(path)
	require.NoError(t, err)

	cost, err := table.UnitCost(StageSummary, TierStandard)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cost)

	cost, err = table.UnitCost(StageRiskAnalysis, TierForensic)
	require.NoError(t, err)
	assert.Equal(t, int64(55), cost)

	// Stages absent from the file are simply unpriced.
	_, err = table.UnitCost(StageCitationCheck, TierStandard)
	assert.ErrorIs(t, err, ErrUnknownStageType)
}

func TestLoadPricingFile_RejectsUnknownStage(t *testing.T) {
	path := writePricingFile(t, `
stages:
  ocr:
    standard: 3
`)
	_, err := LoadPricingFile(path)
	assert.ErrorIs(t, err, ErrUnknownStageType)
}

func TestLoadPricingFile_RejectsUnknownTier(t *testing.T) {
	path := writePricingFile(t, `
stages:
  summary:
    platinum: 3
`)
	_, err := LoadPricingFile(path)
	assert.ErrorIs(t, err, ErrUnknownTier)
}

func TestLoadPricingFile_RejectsNegativePrice(t *testing.T) {
	path := writePricingFile(t, `
stages:
  summary:
    standard: -1
`)
	_, err := LoadPricingFile(path)
	assert.Error(t, err)
}

func TestNewPricingTable_CopyIsIndependent(t *testing.T) {
	table := NewPricingTable()
	table.SetUnitCost(StageSummary, TierStandard, 99)

	cost, err := DefaultPricing.UnitCost(StageSummary, TierStandard)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cost)
}

func TestUnitCost_AllDefaultCellsPriced(t *testing.T) {
	table := NewPricingTable()
	stages := []StageType{StageSummary, StageClauseReview, StageRiskAnalysis, StageCitationCheck}
	tiers := []Tier{TierStandard, TierProfessional, TierForensic}

	for _, stage := range stages {
		for _, tier := range tiers {
			cost, err := table.UnitCost(stage, tier)
			require.NoError(t, err)
			assert.Greater(t, cost, int64(0))
		}
	}
}
