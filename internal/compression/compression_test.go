package compression

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource map[string]bool

func (s staticSource) CompressionEnabled(client string) bool { return s[client] }

func TestRoundTrip(t *testing.T) {
	svc := NewService(staticSource{"serp": true})
	payload := bytes.Repeat([]byte(`{"tasks":[{"result":"data"}]}`), 50)

	compressed, err := svc.Compress("serp", payload)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(payload))

	out, err := svc.Decompress("serp", compressed)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestDisabledIsIdentity(t *testing.T) {
	svc := NewService(staticSource{})
	payload := []byte(`{"hello":"world"}`)

	compressed, err := svc.Compress("serp", payload)
	require.NoError(t, err)
	assert.Equal(t, payload, compressed)

	out, err := svc.Decompress("serp", payload)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestEmptyInput(t *testing.T) {
	svc := NewService(staticSource{"serp": true})

	compressed, err := svc.Compress("serp", nil)
	require.NoError(t, err)
	assert.Empty(t, compressed)

	out, err := svc.Decompress("serp", []byte{})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDecompressCorruptData(t *testing.T) {
	svc := NewService(staticSource{"serp": true})

	_, err := svc.Decompress("serp", []byte("not zlib data"))
	require.Error(t, err)

	var derr *DecompressionError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "serp", derr.Client)
}

func TestEnabledFollowsSource(t *testing.T) {
	src := staticSource{"serp": true}
	svc := NewService(src)

	assert.True(t, svc.Enabled("serp"))
	assert.False(t, svc.Enabled("backlinks"))

	// Flag flips take effect on the next call.
	src["serp"] = false
	assert.False(t, svc.Enabled("serp"))
}
