package persistence

import (
	"amm-volume-bot/internal/models"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) StateRepository {
	t.Helper()
	repo, err := NewBadgerRepository("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestLoadStateEmpty(t *testing.T) {
	repo := newTestRepo(t)

	state, err := repo.LoadState()
	require.NoError(t, err)
	assert.Nil(t, state, "empty database should yield no state")
}

func TestSaveAndLoadState(t *testing.T) {
	repo := newTestRepo(t)

	state := models.NewBotState("run-1", "srfx/XRP")
	state.CyclesCompleted = 7
	state.OffersPlaced = 12
	state.LastPrice = 0.5
	state.Wallet("rPEPPER7kfTD9w2To4CQk6UCfuHM9c6GDY").Placed = 3

	require.NoError(t, repo.SaveState(state))

	loaded, err := repo.LoadState()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "run-1", loaded.RunID)
	assert.Equal(t, uint64(7), loaded.CyclesCompleted)
	assert.Equal(t, 12, loaded.OffersPlaced)
	assert.Equal(t, 0.5, loaded.LastPrice)
	require.Contains(t, loaded.Wallets, "rPEPPER7kfTD9w2To4CQk6UCfuHM9c6GDY")
	assert.Equal(t, 3, loaded.Wallets["rPEPPER7kfTD9w2To4CQk6UCfuHM9c6GDY"].Placed)
}

func TestLatestSessionIsOverwrittenButRunsAreKept(t *testing.T) {
	repo := newTestRepo(t)

	first := models.NewBotState("run-1", "srfx/XRP")
	first.OffersPlaced = 1
	second := models.NewBotState("run-2", "srfx/XRP")
	second.OffersPlaced = 2

	require.NoError(t, repo.SaveState(first))
	require.NoError(t, repo.SaveState(second))

	latest, err := repo.LoadState()
	require.NoError(t, err)
	assert.Equal(t, "run-2", latest.RunID)

	old, err := repo.LoadSession("run-1")
	require.NoError(t, err)
	require.NotNil(t, old)
	assert.Equal(t, 1, old.OffersPlaced)

	missing, err := repo.LoadSession("run-3")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSaveNilState(t *testing.T) {
	repo := newTestRepo(t)
	assert.Error(t, repo.SaveState(nil))
}
