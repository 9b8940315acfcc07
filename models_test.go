package dov_fixtures

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRun(t *testing.T) {
	db := testDb(t)

	run := saveRun(t, db, DefaultBaseURL)

	assert.NotZero(t, run.ID)
	assert.Equal(t, 1, run.Succeeded)
	assert.Equal(t, 1, run.Failed)
	assert.False(t, run.Interrupted)

	got, err := GetRun(context.Background(), db, run.ID)
	require.NoError(t, err)
	require.Len(t, got.Attempts, 2)
	assert.Equal(t, run.UUID, got.UUID)
	assert.True(t, run.Started.Equal(got.Started))
	assert.Equal(t, 42, got.Attempts[0].Bytes)
	assert.Empty(t, got.Attempts[0].Error)
	assert.Equal(t, AttemptStateFailed, got.Attempts[1].State)
	assert.Equal(t, "request failed with 503 Service Unavailable", got.Attempts[1].Error)
}

func TestListRuns_NewestFirst(t *testing.T) {
	db := testDb(t)
	first := saveRun(t, db, "https://first.example/")
	second := saveRun(t, db, "https://second.example/")
	third := saveRun(t, db, "https://third.example/")

	runs, err := ListRuns(context.Background(), db, 2)

	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, third.ID, runs[0].ID)
	assert.Equal(t, second.ID, runs[1].ID)

	all, err := ListRuns(context.Background(), db, 0)

	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, first.ID, all[2].ID)
}

func TestGetRun_Missing(t *testing.T) {
	db := testDb(t)

	_, err := GetRun(context.Background(), db, 1234)

	assert.Error(t, err)
}

func TestAttemptState_JSON(t *testing.T) {
	raw, err := json.Marshal(AttemptStateFailed)
	require.NoError(t, err)
	assert.Equal(t, `"failed"`, string(raw))

	var state AttemptState
	require.NoError(t, json.Unmarshal([]byte(`"succeeded"`), &state))
	assert.Equal(t, AttemptStateSucceeded, state)

	assert.Error(t, json.Unmarshal([]byte(`"pending"`), &state))
}

func TestAttemptState_Scan(t *testing.T) {
	var state AttemptState

	assert.NoError(t, state.Scan(int64(1)))
	assert.Equal(t, AttemptStateFailed, state)
	assert.Error(t, state.Scan("failed"))
}
