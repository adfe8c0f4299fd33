package persistence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/pkg/decimal"
	"tradecore/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "snapshots.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

type snapshotFixture struct {
	Positions []types.Position `json:"positions"`
	Cash      decimal.Decimal  `json:"cash"`
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	in := snapshotFixture{
		Positions: []types.Position{{
			Symbol:     types.NewSymbol("BTC", "USDT", types.MarketCrypto),
			Side:       types.Buy,
			Quantity:   decimal.MustFromString("0.25"),
			EntryPrice: decimal.NewFromInt(50000),
		}},
		Cash: decimal.MustFromString("87500.5"),
	}
	require.NoError(t, store.Save("positions", in))

	var out snapshotFixture
	found, err := store.Load("positions", &out)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, len(in.Positions), len(out.Positions))
	assert.True(t, out.Cash.Equal(in.Cash), "cash = %s, want %s", out.Cash, in.Cash)
	assert.True(t, out.Positions[0].Quantity.Equal(in.Positions[0].Quantity))
}

func TestLoadMissingKey(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	var out snapshotFixture
	found, err := store.Load("nope", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSaveOverwrites(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	require.NoError(t, store.Save("k", map[string]int{"v": 1}))
	require.NoError(t, store.Save("k", map[string]int{"v": 2}))

	var out map[string]int
	found, err := store.Load("k", &out)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2, out["v"])
}

func TestDeleteAndKeys(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	require.NoError(t, store.Save("b", 1))
	require.NoError(t, store.Save("a", 2))

	keys, err := store.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	require.NoError(t, store.Delete("a"))
	require.NoError(t, store.Delete("missing"))

	keys, err = store.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, keys)
}
