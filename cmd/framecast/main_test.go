package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-wificam/internal/log"
	"github.com/teslashibe/go-wificam/pkg/nvs"
)

func TestDeviceID_CorruptStore(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nvs.json"), []byte("{not json"), 0o644))

	store := nvs.Open(dir, log.Discard())
	id := deviceID(store, log.Discard())
	require.NotEmpty(t, id)

	// The streamer initializes storage again and must still see the erase.
	res, err := store.Init()
	require.NoError(t, err)
	assert.True(t, res.Erased)

	again := nvs.Open(dir, log.Discard())
	assert.Equal(t, id, deviceID(again, log.Discard()))
}
