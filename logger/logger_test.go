package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize(t *testing.T) {
	previous := Logger
	t.Cleanup(func() { Logger = previous })

	require.NoError(t, Initialize(false, "debug"))
	assert.True(t, Logger.Desugar().Core().Enabled(-1))

	require.NoError(t, Initialize(true, "warn"))
	assert.False(t, Logger.Desugar().Core().Enabled(0))

	assert.Error(t, Initialize(false, "loud"))
}
