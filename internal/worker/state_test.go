package worker

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateText(t *testing.T) {
	for _, s := range []State{NotStarted, Starting, Ready} {
		b, err := s.MarshalText()
		require.NoError(t, err)

		var got State
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, s, got)
	}

	var s State
	assert.Error(t, s.UnmarshalText([]byte("booting")))
	assert.Equal(t, "unknown", State(9).String())
}

func TestStatusDecodesFromJSON(t *testing.T) {
	var st Status
	require.NoError(t, json.Unmarshal([]byte(`{"state":"ready","worker":"echo","boot_handle":1,"mailbox":3}`), &st))
	assert.Equal(t, Ready, st.State)
	assert.Equal(t, "echo", st.Worker)
	assert.Equal(t, 3, st.Mailbox)
}
