package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const flatEvents = `[
  {"seq": 1, "ts": 1700000000, "source": "navigation", "target": "map_server", "capability": "service_call", "weight": 1},
  {"seq": 2, "ts": 1700000001, "source": "map_server", "target": "planner", "capability": "topic", "weight": 2}
]`

const recordedLog = `[
  {
    "topic": "/capabilities/events",
    "msg": {
      "header": {"stamp": {"secs": 1700000000, "nsecs": 0}},
      "source": {"capability": "navigation"},
      "target": {"capability": "map_server", "text": "service_call: costmap"}
    }
  }
]`

func TestDecodeEvents(t *testing.T) {
	t.Parallel()

	t.Run("explicit events format", func(t *testing.T) {
		raws, err := decodeEvents([]byte(flatEvents), "events")
		require.NoError(t, err)
		require.Len(t, raws, 2)
		assert.Equal(t, "navigation", raws[0].Source)
		assert.Equal(t, 2.0, raws[1].Weight)
	})

	t.Run("explicit roslog format", func(t *testing.T) {
		raws, err := decodeEvents([]byte(recordedLog), "roslog")
		require.NoError(t, err)
		require.Len(t, raws, 1)
		assert.Equal(t, "service_call", raws[0].Capability)
		assert.Equal(t, "service_call: costmap", raws[0].Meta["text"])
		assert.Equal(t, uint64(1), raws[0].Seq)
	})

	t.Run("auto detects flat arrays", func(t *testing.T) {
		raws, err := decodeEvents([]byte(flatEvents), "auto")
		require.NoError(t, err)
		assert.Len(t, raws, 2)
	})

	t.Run("auto falls back to recorded logs", func(t *testing.T) {
		raws, err := decodeEvents([]byte(recordedLog), "auto")
		require.NoError(t, err)
		require.Len(t, raws, 1)
		assert.Equal(t, "navigation", raws[0].Source)
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := decodeEvents([]byte(flatEvents), "csv")
		assert.Error(t, err)
	})

	t.Run("garbage payload", func(t *testing.T) {
		_, err := decodeEvents([]byte("not json"), "auto")
		assert.Error(t, err)
	})
}
