// Copyright 2025 Veralex
// SPDX-License-Identifier: BUSL-1.1

package estimate

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTier is returned for a tier not in the closed enumeration
	ErrUnknownTier = errors.New("unknown quality tier")

	// ErrUnknownStageType is returned for a stage type not in the pricing table
	ErrUnknownStageType = errors.New("unknown stage type")

	// ErrEmptyWorkload is returned when the workload declares no stages
	ErrEmptyWorkload = errors.New("workload must declare at least one stage")

	// ErrInvalidDocumentSize is returned for a non-positive document size
	ErrInvalidDocumentSize = errors.New("document size must be greater than 0")

	// ErrInvalidMargin is returned when the safety margin is not above 1.0x
	ErrInvalidMargin = errors.New("safety margin must be greater than 10000 basis points")
)

// Workload describes the declared shape of a job at admission time.
type Workload struct {
	DocumentChars int64       `json:"document_chars"`
	Tier          Tier        `json:"tier"`
	Stages        []StageType `json:"stages"`
}

// Validate checks the workload against the closed tier and stage
// enumerations.
func (w *Workload) Validate() error {
	if w.DocumentChars <= 0 {
		return ErrInvalidDocumentSize
	}
	if !ValidTier(w.Tier) {
		return fmt.Errorf("%w: %q", ErrUnknownTier, w.Tier)
	}
	if len(w.Stages) == 0 {
		return ErrEmptyWorkload
	}
	for _, s := range w.Stages {
		if !ValidStageType(s) {
			return fmt.Errorf("%w: %q", ErrUnknownStageType, s)
		}
	}
	return nil
}

// Estimate is the pre-authorization recommendation for a workload.
type Estimate struct {
	ExpectedCostCents int64 `json:"expected_cost_cents"`
	PreAuthCents      int64 `json:"preauth_cents"`
	MarginBps         int64 `json:"margin_bps"`
	StageCount        int   `json:"stage_count"`
}

// Estimator computes pre-authorization amounts. It is a pure function
// of the workload, the pricing table and the configured safety margin.
type Estimator struct {
	pricing   *PricingTable
	marginBps int64
}

// DefaultMarginBps is the default safety margin (1.5x). Real cost is
// only known after execution; the margin keeps the common case from
// overrunning the hold.
const DefaultMarginBps int64 = 15000

// NewEstimator creates an estimator. A nil pricing table uses the
// defaults; a margin of 0 uses DefaultMarginBps.
func NewEstimator(pricing *PricingTable, marginBps int64) (*Estimator, error) {
	if pricing == nil {
		pricing = NewPricingTable()
	}
	if marginBps == 0 {
		marginBps = DefaultMarginBps
	}
	if marginBps <= 10000 {
		return nil, ErrInvalidMargin
	}
	return &Estimator{pricing: pricing, marginBps: marginBps}, nil
}

// MarginBps returns the configured safety margin.
func (e *Estimator) MarginBps() int64 {
	return e.marginBps
}

// Estimate computes the expected cost of a workload and the amount to
// pre-authorize. Each stage contributes unitCost x ceil(chars / 1000);
// the total is multiplied by the safety margin, rounding half up.
func (e *Estimator) Estimate(w *Workload) (*Estimate, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}

	sizeUnits := (w.DocumentChars + 999) / 1000

	var expected int64
	for _, stage := range w.Stages {
		unitCost, err := e.pricing.UnitCost(stage, w.Tier)
		if err != nil {
			return nil, err
		}
		expected += unitCost * sizeUnits
	}

	preAuth := (expected*e.marginBps + 5000) / 10000
	if preAuth == 0 {
		// A priced workload always holds at least one cent so admission
		// still exercises the ledger path.
		preAuth = 1
	}

	return &Estimate{
		ExpectedCostCents: expected,
		PreAuthCents:      preAuth,
		MarginBps:         e.marginBps,
		StageCount:        len(w.Stages),
	}, nil
}
