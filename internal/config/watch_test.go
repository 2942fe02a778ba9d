// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchLogLevel_AppliesChange(t *testing.T) {
	t.Setenv("MT_QUEUE_URL", "https://sqs.eu-central-1.amazonaws.com/123/analytics.fifo")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: info\n"), 0o600))

	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, WatchLogLevel(ctx, path, zerolog.Nop()))

	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\n"), 0o600))

	assert.Eventually(t, func() bool {
		return zerolog.GlobalLevel() == zerolog.DebugLevel
	}, 5*time.Second, 50*time.Millisecond)
}

func TestWatchLogLevel_EmptyPathIsNoop(t *testing.T) {
	assert.NoError(t, WatchLogLevel(context.Background(), "", zerolog.Nop()))
}

func TestWatchLogLevel_MissingFile(t *testing.T) {
	err := WatchLogLevel(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"), zerolog.Nop())
	assert.Error(t, err)
}
