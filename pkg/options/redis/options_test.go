package redis

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalJSONRedactsPassword(t *testing.T) {
	opts := NewOptions()
	opts.Password = "supersecret"

	data, err := json.Marshal(opts)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "supersecret")
	assert.Contains(t, string(data), redactedPassword)
	assert.Contains(t, string(data), `"host":"127.0.0.1"`)
	assert.NotContains(t, opts.String(), "supersecret")
}

func TestMarshalJSONEmptyPassword(t *testing.T) {
	data, err := json.Marshal(NewOptions())
	require.NoError(t, err)
	assert.NotContains(t, string(data), redactedPassword)
}

func TestCompleteReadsEnv(t *testing.T) {
	t.Setenv("REDIS_PASSWORD", "from-env")
	opts := NewOptions()
	require.NoError(t, opts.Complete())
	assert.Equal(t, "from-env", opts.Password)
}

func TestValidate(t *testing.T) {
	opts := NewOptions()
	assert.Empty(t, opts.Validate())

	opts.Port = 0
	opts.Host = ""
	assert.Len(t, opts.Validate(), 2)
}
