package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/avivsh/polystrat/internal/storage"
	"github.com/avivsh/polystrat/pkg/config"
)

func TestShortID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", shortID("short"))
	assert.Equal(t, "0123456789…", shortID("0123456789abcdef"))
	assert.Equal(t, "exactly-10", shortID("exactly-10"))
}

func TestBuildSink_ConsoleByDefault(t *testing.T) {
	t.Parallel()

	sink, err := buildSink(&config.Config{StorageMode: "console"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	_, ok := sink.(*storage.ConsoleStorage)
	assert.True(t, ok)
}
