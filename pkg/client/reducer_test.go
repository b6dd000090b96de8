package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/railgrid/server/internal/game"
	"github.com/railgrid/server/internal/protocol"
)

func baseline(seq uint64) protocol.StateInit {
	st := game.NewState()
	st.Phase = game.PhaseActive
	st.Round = 3
	st.CurrentTurnUserID = "u-alice"
	st.Cash = map[string]int{"p1": 50}
	return protocol.StateInit{State: st, ServerSeq: seq}
}

func intPtr(v int) *int { return &v }

func TestReducer_AppliesInOrder(t *testing.T) {
	r := NewReducer()
	require.NoError(t, r.Apply(baseline(5)))
	assert.Equal(t, uint64(5), r.LastApplied())

	require.NoError(t, r.Apply(protocol.StatePatch{
		Patch:     game.Patch{Round: intPtr(4)},
		ServerSeq: 6,
	}))
	require.NoError(t, r.Apply(protocol.TurnChange{
		CurrentTurnUserID: "u-bob",
		ServerSeq:         7,
	}))

	st, ok := r.State()
	require.True(t, ok)
	assert.Equal(t, 4, st.Round)
	assert.Equal(t, "u-bob", st.CurrentTurnUserID)
	assert.Equal(t, uint64(7), r.LastApplied())
}

func TestReducer_GapRefusesToApply(t *testing.T) {
	r := NewReducer()
	require.NoError(t, r.Apply(baseline(5)))

	err := r.Apply(protocol.StatePatch{Patch: game.Patch{Round: intPtr(9)}, ServerSeq: 8})
	var gap *Gap
	require.ErrorAs(t, err, &gap)
	assert.Equal(t, uint64(6), gap.Expected)
	assert.Equal(t, uint64(8), gap.Received)

	// Nothing applied, nothing advanced.
	st, _ := r.State()
	assert.Equal(t, 3, st.Round)
	assert.Equal(t, uint64(5), r.LastApplied())

	// A fresh baseline heals the stream.
	require.NoError(t, r.Apply(baseline(12)))
	require.NoError(t, r.Apply(protocol.StatePatch{Patch: game.Patch{Round: intPtr(4)}, ServerSeq: 13}))
	assert.Equal(t, uint64(13), r.LastApplied())
}

func TestReducer_PatchBeforeBaseline(t *testing.T) {
	r := NewReducer()
	err := r.Apply(protocol.StatePatch{Patch: game.Patch{Round: intPtr(1)}, ServerSeq: 1})
	assert.ErrorIs(t, err, ErrNoBaseline)
	_, ok := r.State()
	assert.False(t, ok)
}

func TestReducer_PresenceUpdatesMirror(t *testing.T) {
	r := NewReducer()
	st := game.NewState()
	st.Players = []game.PlayerView{{ID: "p1", UserID: "u-alice", IsOnline: true}}
	require.NoError(t, r.Apply(protocol.StateInit{State: st, ServerSeq: 1}))

	require.NoError(t, r.Apply(protocol.PresenceUpdate{UserID: "u-alice", IsOnline: false}))
	got, _ := r.State()
	assert.False(t, got.Players[0].IsOnline)
	assert.Equal(t, uint64(1), r.LastApplied(), "presence is outside the seq stream")
}
