// Copyright 2025 Veralex
// SPDX-License-Identifier: BUSL-1.1

package checkpoint

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepository_SaveOverwritesStage(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	require.NoError(t, repo.Save(ctx, &Checkpoint{
		JobID:       "job-1",
		StageIndex:  0,
		StageType:   "summary",
		StageOutput: json.RawMessage(`{"text":"first"}`),
		CostCents:   40,
	}))
	require.NoError(t, repo.Save(ctx, &Checkpoint{
		JobID:       "job-1",
		StageIndex:  0,
		StageType:   "summary",
		StageOutput: json.RawMessage(`{"text":"second"}`),
		CostCents:   55,
	}))

	cp, err := repo.Get(ctx, "job-1", 0)
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"second"}`, string(cp.StageOutput))
	assert.Equal(t, int64(55), cp.CostCents)
}

func TestMemoryRepository_ListOrderedByStage(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	for _, idx := range []int{2, 0, 1} {
		require.NoError(t, repo.Save(ctx, &Checkpoint{
			JobID:       "job-1",
			StageIndex:  idx,
			StageType:   "clause_review",
			StageOutput: json.RawMessage(`{}`),
		}))
	}

	checkpoints, err := repo.ListForJob(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, checkpoints, 3)
	for i, cp := range checkpoints {
		assert.Equal(t, i, cp.StageIndex)
	}
}

func TestMemoryRepository_LatestForJob(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	_, err := repo.LatestForJob(ctx, "job-1")
	assert.ErrorIs(t, err, ErrCheckpointNotFound)

	for idx := 0; idx < 3; idx++ {
		require.NoError(t, repo.Save(ctx, &Checkpoint{
			JobID:       "job-1",
			StageIndex:  idx,
			StageType:   "summary",
			StageOutput: json.RawMessage(`{}`),
		}))
	}

	latest, err := repo.LatestForJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.StageIndex)
}

func TestMemoryRepository_DeleteForJob(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	require.NoError(t, repo.Save(ctx, &Checkpoint{
		JobID:       "job-1",
		StageIndex:  0,
		StageType:   "summary",
		StageOutput: json.RawMessage(`{}`),
	}))
	require.NoError(t, repo.DeleteForJob(ctx, "job-1"))

	_, err := repo.Get(ctx, "job-1", 0)
	assert.ErrorIs(t, err, ErrCheckpointNotFound)
}

func TestPostgresRepository_SaveUpserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO job_checkpoints")).
		WithArgs("job-1", 1, "risk_analysis", []byte(`{"risk":"low"}`), []byte(`{"step":2}`), int64(120), int64(4800)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.Save(context.Background(), &Checkpoint{
		JobID:                "job-1",
		StageIndex:           1,
		StageType:            "risk_analysis",
		StageOutput:          json.RawMessage(`{"risk":"low"}`),
		OrchestrationContext: json.RawMessage(`{"step":2}`),
		CostCents:            120,
		Tokens:               4800,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_GetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM job_checkpoints")).
		WithArgs("job-1", 0).
		WillReturnRows(sqlmock.NewRows([]string{"job_id", "stage_index", "stage_type", "stage_output", "orchestration_context", "cost_cents", "tokens", "created_at"}))

	_, err = repo.Get(context.Background(), "job-1", 0)
	assert.ErrorIs(t, err, ErrCheckpointNotFound)
}
