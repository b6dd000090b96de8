package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/railgrid/server/internal/game"
)

func TestClientRoundTrip(t *testing.T) {
	in := Action{
		SessionID: "s1",
		Type:      "build-track",
		Payload:   json.RawMessage(`{"fromCity":"A","toCity":"B"}`),
		ClientSeq: 7,
	}

	raw, err := EncodeClient(in)
	require.NoError(t, err)

	out, err := DecodeClient(raw)
	require.NoError(t, err)

	act, ok := out.(Action)
	require.True(t, ok, "decoded into %T", out)
	assert.Equal(t, in.SessionID, act.SessionID)
	assert.Equal(t, in.Type, act.Type)
	assert.Equal(t, in.ClientSeq, act.ClientSeq)
	assert.JSONEq(t, string(in.Payload), string(act.Payload))
}

func TestServerRoundTrip_PatchCarriesSeqAndAck(t *testing.T) {
	round := 3
	in := StatePatch{
		Patch:     game.Patch{Round: &round},
		ServerSeq: 12,
		Ack:       7,
	}

	raw, err := EncodeServer(in)
	require.NoError(t, err)

	out, err := DecodeServer(raw)
	require.NoError(t, err)

	patch, ok := out.(StatePatch)
	require.True(t, ok, "decoded into %T", out)
	assert.Equal(t, uint64(12), patch.ServerSeq)
	assert.Equal(t, uint64(7), patch.Ack)
	require.NotNil(t, patch.Patch.Round)
	assert.Equal(t, 3, *patch.Patch.Round)
}

func TestServerRoundTrip_LobbyUpdated(t *testing.T) {
	in := LobbyUpdated{
		SessionID: "s1",
		Players:   []game.PlayerView{{ID: "p1", Name: "ada", Color: "red"}},
		Action:    "player-joined",
		Timestamp: time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC),
	}

	raw, err := EncodeServer(in)
	require.NoError(t, err)

	out, err := DecodeServer(raw)
	require.NoError(t, err)

	lu, ok := out.(LobbyUpdated)
	require.True(t, ok)
	assert.Equal(t, in, lu)
}

func TestDecode_UnknownEventRejected(t *testing.T) {
	_, err := DecodeClient([]byte(`{"event":"format-disk","data":{}}`))
	assert.Error(t, err)

	_, err = DecodeServer([]byte(`{"event":"state:mystery","data":{}}`))
	assert.Error(t, err)
}
