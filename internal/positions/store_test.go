package positions

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/avivsh/polystrat/pkg/types"
)

const testAddress = "0xAbCdEf1234567890abcdef1234567890ABCDEF12"

func newTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	store, err := NewStore(&Config{
		DataDir: dir,
		Address: testAddress,
		Logger:  zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return store
}

func testPosition(primary string, extra ...string) *types.Position {
	legs := []types.PositionLeg{
		{TokenID: primary, Side: types.SideBuy, EntryPrice: 0.45, Size: 10, Venue: types.VenuePolymarket},
	}
	for _, tok := range extra {
		legs = append(legs, types.PositionLeg{
			TokenID: tok, Side: types.SideBuy, EntryPrice: 0.50, Size: 10, Venue: types.VenuePolymarket,
		})
	}
	return &types.Position{
		Strategy:  "calendar_arbitrage",
		Kind:      types.KindCalendarPair,
		Legs:      legs,
		EntryTime: time.Now().UTC(),
		Status:    types.PositionOpen,
	}
}

func TestNewStore_FileNaming(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := newTestStore(t, dir)

	// Lowercased, 0x stripped, first 8 characters.
	assert.Equal(t, filepath.Join(dir, "positions_abcdef12.json"), store.Path())
}

func TestStore_RoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := newTestStore(t, dir)

	pos := testPosition("tok-early", "tok-late")
	require.NoError(t, store.Add(pos))

	// A fresh store over the same directory sees the same inventory.
	reloaded := newTestStore(t, dir)
	assert.Equal(t, 1, reloaded.Count())

	got, ok := reloaded.Get("tok-early")
	require.True(t, ok)
	assert.Equal(t, "calendar_arbitrage", got.Strategy)
	assert.Len(t, got.Legs, 2)
	assert.Equal(t, types.PositionOpen, got.Status)
	assert.InDelta(t, 9.5, got.CommittedCapital(), 1e-9)
}

func TestStore_CorruptFileBackedUp(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "positions_abcdef12.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store := newTestStore(t, dir)
	assert.Equal(t, 0, store.Count())

	// The unreadable file moved aside instead of being overwritten.
	backups, err := filepath.Glob(filepath.Join(dir, "positions_abcdef12.corrupt_*.json"))
	require.NoError(t, err)
	require.Len(t, backups, 1)

	data, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data))
}

func TestStore_HasChecksAllLegs(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, t.TempDir())
	require.NoError(t, store.Add(testPosition("tok-primary", "tok-secondary")))

	assert.True(t, store.Has("tok-primary"))
	assert.True(t, store.Has("tok-secondary"))
	assert.False(t, store.Has("tok-unknown"))

	_, ok := store.Get("tok-secondary")
	assert.False(t, ok, "Get is keyed by primary token only")
}

func TestStore_Update(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := newTestStore(t, dir)
	require.NoError(t, store.Add(testPosition("tok-a")))

	require.NoError(t, store.Update("tok-a", func(p *types.Position) {
		p.ForceExit = true
		p.Status = types.PositionExiting
	}))

	// The mutation survives a reload.
	reloaded := newTestStore(t, dir)
	got, ok := reloaded.Get("tok-a")
	require.True(t, ok)
	assert.True(t, got.ForceExit)
	assert.Equal(t, types.PositionExiting, got.Status)

	err := store.Update("tok-missing", func(p *types.Position) {})
	assert.Error(t, err)
}

func TestStore_Remove(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := newTestStore(t, dir)
	require.NoError(t, store.Add(testPosition("tok-a")))
	require.NoError(t, store.Add(testPosition("tok-b")))

	require.NoError(t, store.Remove("tok-a"))
	assert.Equal(t, 1, store.Count())
	assert.False(t, store.Has("tok-a"))

	// Removing a missing key is a no-op.
	require.NoError(t, store.Remove("tok-a"))

	reloaded := newTestStore(t, dir)
	assert.Equal(t, 1, reloaded.Count())
}

func TestStore_AddRejectsLeglessPosition(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, t.TempDir())
	err := store.Add(&types.Position{Strategy: "x"})
	require.Error(t, err)

	var integrity *types.DataIntegrityError
	assert.ErrorAs(t, err, &integrity)
}

func TestStore_GetByStrategyAndCapital(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, t.TempDir())

	calPos := testPosition("tok-a", "tok-b")
	require.NoError(t, store.Add(calPos))

	extremePos := testPosition("tok-c")
	extremePos.Strategy = "extreme_price"
	require.NoError(t, store.Add(extremePos))

	byStrategy := store.GetByStrategy("extreme_price")
	require.Len(t, byStrategy, 1)
	assert.Equal(t, "tok-c", byStrategy[0].PrimaryToken())

	assert.InDelta(t, 9.5+4.5, store.CommittedCapital(), 1e-9)

	// Snapshots are copies; mutating one must not touch the store.
	byStrategy[0].ForceExit = true
	fresh, ok := store.Get("tok-c")
	require.True(t, ok)
	assert.False(t, fresh.ForceExit)
}
