package persist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vactorio/vactor/actor"
	"github.com/vactorio/vactor/id"
	"github.com/vactorio/vactor/persist/kvstore"
)

type counterState struct {
	Count int `json:"count"`
}

func TestScalarVersionMonotonicity(t *testing.T) {
	store := kvstore.New()
	key := Key(id.New("Counter", "1"), "state")
	s := NewScalar[counterState](store, key)

	v, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, v.Count)

	s.Change(counterState{Count: 1})
	require.NoError(t, s.Store(context.Background(), false))
	firstVersion := s.version

	s.Change(counterState{Count: 2})
	require.NoError(t, s.Store(context.Background(), false))
	require.NotEqual(t, firstVersion, s.version)
	require.Greater(t, s.version, firstVersion)

	// Unreferenced Store without Change is a no-op unless forced.
	prevVersion := s.version
	require.NoError(t, s.Store(context.Background(), false))
	require.Equal(t, prevVersion, s.version)
}

func TestScalarReloadsPersistedValue(t *testing.T) {
	store := kvstore.New()
	key := Key(id.New("Counter", "2"), "state")

	s1 := NewScalar[counterState](store, key)
	s1.Change(counterState{Count: 42})
	require.NoError(t, s1.Store(context.Background(), false))

	s2 := NewScalar[counterState](store, key)
	v, err := s2.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 42, v.Count)
}

func TestTableBaselineConflict(t *testing.T) {
	store := kvstore.New()
	prefix := Key(id.New("Ledger", "1"), "rows")

	writerA := NewTable[counterState](store, prefix)
	writerB := NewTable[counterState](store, prefix)

	baselineA, err := writerA.Put(context.Background(), "k1", counterState{Count: 1})
	require.NoError(t, err)
	require.NotEmpty(t, baselineA)

	// writerB has never seen k1, so its first Put is unconditional and
	// clobbers writerA's row.
	_, err = writerB.Put(context.Background(), "k1", counterState{Count: 2})
	require.NoError(t, err)

	// writerA's next Put echoes its stale baseline and conflicts.
	_, err = writerA.Put(context.Background(), "k1", counterState{Count: 3})
	require.ErrorIs(t, err, ErrConflict)
}

func TestTableGetRefreshesBaseline(t *testing.T) {
	store := kvstore.New()
	prefix := Key(id.New("Ledger", "2"), "rows")

	w1 := NewTable[counterState](store, prefix)
	_, err := w1.Put(context.Background(), "k1", counterState{Count: 1})
	require.NoError(t, err)

	w2 := NewTable[counterState](store, prefix)
	v, found, err := w2.Get(context.Background(), "k1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 1, v.Count)

	_, err = w2.Put(context.Background(), "k1", counterState{Count: 2})
	require.NoError(t, err)
}

type fixedMigrationController struct{ current int }

func (f fixedMigrationController) CurrentVersion(actorType string) int { return f.current }

func TestMigratingRejectsNewerPersistedVersion(t *testing.T) {
	store := kvstore.New()
	key := Key(id.New("Widget", "1"), "state")

	writer := NewMigrating[counterState](store, key, "widget", 2, fixedMigrationController{current: 2})
	require.NoError(t, writer.Change(counterState{Count: 7}))
	require.NoError(t, writer.Store(context.Background(), false))

	reader := NewMigrating[counterState](store, key, "widget", 1, fixedMigrationController{current: 1})
	_, err := reader.Load(context.Background())
	require.Error(t, err)

	actionErr := actor.ClassifyActionResult(err)
	require.NotNil(t, actionErr.Framework)
	require.Equal(t, actor.CodeMigrationError, actionErr.Framework.Code)
}
