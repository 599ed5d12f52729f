package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "hazardwatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	require.NoError(t, db.Migrate(), "migrations are idempotent")
	return db
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := db.GetSetting(ctx, "cooldown")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.SaveSetting(ctx, "cooldown", "30s"))
	require.NoError(t, db.SaveSetting(ctx, "cooldown", "45s"))
	require.NoError(t, db.SaveSetting(ctx, "confidence_threshold", "0.7"))

	v, err := db.GetSetting(ctx, "cooldown")
	require.NoError(t, err)
	assert.Equal(t, "45s", v)

	all, err := db.ListSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"cooldown": "45s", "confidence_threshold": "0.7"}, all)

	require.NoError(t, db.DeleteSetting(ctx, "cooldown"))
	assert.ErrorIs(t, db.DeleteSetting(ctx, "cooldown"), ErrNotFound)
}

func TestAlerts(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, conds := range [][]string{{"fire"}, {"fall"}, {"fire", "fall"}} {
		require.NoError(t, db.SaveAlert(ctx, &AlertRecord{
			ID:         string(rune('a' + i)),
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
			Conditions: conds,
			Episode:    uint64(i + 1),
			FrameSeq:   uint64(100 * (i + 1)),
			Response:   "answer",
			ImagePath:  "./data/alert.jpg",
		}))
	}

	all, err := db.ListAlerts(ctx, nil, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID, "newest first")
	assert.Equal(t, []string{"fire", "fall"}, all[0].Conditions)
	assert.Equal(t, uint64(300), all[0].FrameSeq)
	assert.True(t, base.Add(2*time.Minute).Equal(all[0].Timestamp))

	since := base.Add(time.Minute)
	recent, err := db.ListAlerts(ctx, &since, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "c", recent[0].ID)

	n, err := db.DeleteOldAlerts(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
