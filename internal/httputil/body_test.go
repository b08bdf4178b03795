package httputil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLimitedBodyWithinCap(t *testing.T) {
	body, err := ReadLimitedBody(strings.NewReader("hello"), 10)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), body)
}

func TestReadLimitedBodyExactCap(t *testing.T) {
	body, err := ReadLimitedBody(strings.NewReader("hello"), 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), body)
}

func TestReadLimitedBodyOverCap(t *testing.T) {
	_, err := ReadLimitedBody(strings.NewReader("hello world"), 5)
	assert.ErrorIs(t, err, ErrResponseBodyTooLarge)
}

func TestReadLimitedBodyUnlimited(t *testing.T) {
	in := strings.Repeat("x", 4096)
	body, err := ReadLimitedBody(strings.NewReader(in), 0)
	require.NoError(t, err)
	assert.Len(t, body, 4096)
}
