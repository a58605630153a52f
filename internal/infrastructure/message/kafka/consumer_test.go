package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZefanW/verl-prime/internal/observability/logging"
	"github.com/ZefanW/verl-prime/pkg/config"
)

func testConsumer() *GroupConsumer {
	return &GroupConsumer{
		cfg:    config.KafkaConfig{Topic: "rollouts"},
		logger: logging.NewNoopLogger(),
	}
}

func TestDecode(t *testing.T) {
	c := testConsumer()

	t.Run("decodes a well-formed group", func(t *testing.T) {
		payload := []byte(`{
			"schema": "v1",
			"group_id": "prompt-7",
			"samples": [
				{"id": "s1", "prompt_tokens": [1,2], "response_tokens": [3,4,5], "verifier_label": 1},
				{"id": "s2", "prompt_tokens": [1,2], "response_tokens": [6], "verifier_label": 0}
			]
		}`)

		g := c.decode(payload)
		require.NotNil(t, g)
		assert.Equal(t, "prompt-7", g.ID)
		require.Equal(t, 2, g.Size())
		assert.Equal(t, "s1", g.Trajectories[0].ID)
		assert.Equal(t, []int{3, 4, 5}, g.Trajectories[0].ResponseTokens)
		assert.Equal(t, 1.0, g.Trajectories[0].VerifierLabel)
		assert.Equal(t, 0.5, g.Accuracy())
	})

	t.Run("missing schema field is treated as current", func(t *testing.T) {
		payload := []byte(`{"group_id": "g", "samples": [{"response_tokens": [1], "verifier_label": 1}]}`)
		assert.NotNil(t, c.decode(payload))
	})

	t.Run("rejects unsupported schema", func(t *testing.T) {
		payload := []byte(`{"schema": "v9", "group_id": "g", "samples": [{"response_tokens": [1]}]}`)
		assert.Nil(t, c.decode(payload))
	})

	t.Run("rejects missing samples", func(t *testing.T) {
		assert.Nil(t, c.decode([]byte(`{"schema": "v1", "group_id": "g"}`)))
	})

	t.Run("rejects invalid json", func(t *testing.T) {
		assert.Nil(t, c.decode([]byte(`{"schema": "v1",`)))
	})

	t.Run("rejects empty group id", func(t *testing.T) {
		payload := []byte(`{"schema": "v1", "samples": [{"response_tokens": [1]}]}`)
		assert.Nil(t, c.decode(payload))
	})
}
