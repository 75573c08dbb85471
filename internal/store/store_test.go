package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SohamRatnaparkhi/navigator-ai/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestSetGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := models.Session{TaskID: "t1", Status: models.StatusActive}
	require.NoError(t, s.Set(ctx, KeyActiveSession, in))

	var out models.Session
	require.NoError(t, s.Get(ctx, KeyActiveSession, &out))
	assert.Equal(t, "t1", out.TaskID)
	assert.Equal(t, models.StatusActive, out.Status)
}

func TestGetMissingKey(t *testing.T) {
	s := newTestStore(t)

	var out models.Session
	err := s.Get(context.Background(), KeyActiveSession, &out)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordsCarrySchemaVersion(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.Set(context.Background(), KeyTaskState, models.TaskState{TaskID: "t1"}))

	raw, err := os.ReadFile(filepath.Join(dir, KeyTaskState+".json"))
	require.NoError(t, err)

	var env struct {
		Version int             `json:"version"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, SchemaVersion, env.Version)
	assert.NotEmpty(t, env.Data)
}

func TestGetRejectsUnknownSchemaVersion(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, zap.NewNop())
	require.NoError(t, err)

	raw := []byte(`{"version":99,"data":{}}`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, KeyTaskState+".json"), raw, 0644))

	var out models.TaskState
	assert.Error(t, s.Get(context.Background(), KeyTaskState, &out))
}

func TestOverwriteReplacesValue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, KeyIsMinimized, true))
	require.NoError(t, s.Set(ctx, KeyIsMinimized, false))

	var minimized bool
	require.NoError(t, s.Get(ctx, KeyIsMinimized, &minimized))
	assert.False(t, minimized)
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, KeyActiveSession, models.Session{TaskID: "t1"}))
	require.NoError(t, s.Delete(ctx, KeyActiveSession))
	require.NoError(t, s.Delete(ctx, KeyActiveSession))

	var out models.Session
	assert.ErrorIs(t, s.Get(ctx, KeyActiveSession, &out), ErrNotFound)
}

func TestClearRemovesAllKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	keys := []string{KeyActiveSession, KeyCurrentDOMUpdate, KeyLastUpdateResponse, KeyIterationResults}
	for _, key := range keys {
		require.NoError(t, s.Set(ctx, key, map[string]string{"k": key}))
	}

	require.NoError(t, s.Clear(ctx, keys...))

	for _, key := range keys {
		var out map[string]string
		assert.ErrorIs(t, s.Get(ctx, key, &out), ErrNotFound, key)
	}
}

func TestSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1, err := New(dir, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s1.Set(ctx, KeyTaskState, models.TaskState{TaskID: "t1", Iterations: 3}))

	// A fresh store over the same directory sees the record
	s2, err := New(dir, zap.NewNop())
	require.NoError(t, err)

	var out models.TaskState
	require.NoError(t, s2.Get(ctx, KeyTaskState, &out))
	assert.Equal(t, 3, out.Iterations)
}
