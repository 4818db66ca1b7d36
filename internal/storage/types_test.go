package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatesBetween(t *testing.T) {
	dates, err := DatesBetween("2024-02-27", "2024-03-02")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-02-27", "2024-02-28", "2024-02-29", "2024-03-01", "2024-03-02"}, dates)
}

func TestDatesBetween_EmptyWhenReversed(t *testing.T) {
	dates, err := DatesBetween("2024-03-02", "2024-03-01")
	require.NoError(t, err)
	assert.Empty(t, dates)
}

func TestDatesBetween_InvalidDate(t *testing.T) {
	_, err := DatesBetween("2024-13-01", "2024-03-01")
	assert.Error(t, err)
}

func TestSortSessionDays(t *testing.T) {
	days := []SessionDay{
		{PlayerID: "b", Date: "2024-01-02"},
		{PlayerID: "a", Date: "2024-01-02"},
		{PlayerID: "c", Date: "2024-01-01"},
	}
	SortSessionDays(days)
	assert.Equal(t, "c", days[0].PlayerID)
	assert.Equal(t, "a", days[1].PlayerID)
	assert.Equal(t, "b", days[2].PlayerID)
}

func TestEnsureParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "ledger.db")
	require.NoError(t, EnsureParentDir(path))
	assert.DirExists(t, filepath.Dir(path))
	assert.NoError(t, EnsureParentDir("ledger.db"))
}
