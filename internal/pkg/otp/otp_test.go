package otp

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_FixedFormat(t *testing.T) {
	code, err := New()
	require.NoError(t, err)
	assert.Len(t, code, 6)
	n, err := strconv.Atoi(code)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 100000)
	assert.LessOrEqual(t, n, 999999)
}

func TestNew_StaysInRange(t *testing.T) {
	// The leading digit must never be zero; sample enough draws to catch an
	// off-by-one in the range arithmetic.
	for i := 0; i < 1000; i++ {
		code, err := New()
		require.NoError(t, err)
		n, err := strconv.Atoi(code)
		require.NoError(t, err)
		require.GreaterOrEqual(t, n, 100000)
		require.LessOrEqual(t, n, 999999)
	}
}

func TestNew_NotConstant(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := New()
		require.NoError(t, err)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 1)
}
