/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-loadguard/config"
)

func TestConfig(t *testing.T) {
	t.Run("load from yaml", func(t *testing.T) {
		cfgData := bytes.NewBufferString(`
log:
  level: warn
  format: text
  output: file
  file:
    path: /var/log/guard.log
    rotation:
      compress: true
      maxSize: 100M
      maxBackups: 5
      maxAgeDays: 7
`)
		cfg := NewConfig()
		err := config.NewDefaultLoader("").LoadFromReader(cfgData, config.DataTypeYAML, cfg)
		require.NoError(t, err)
		require.Equal(t, LevelWarn, cfg.Level)
		require.Equal(t, FormatText, cfg.Format)
		require.Equal(t, OutputFile, cfg.Output)
		require.Equal(t, "/var/log/guard.log", cfg.File.Path)
		require.True(t, cfg.File.Rotation.Compress)
		require.Equal(t, config.ByteSize(100*1024*1024), cfg.File.Rotation.MaxSize)
		require.Equal(t, 5, cfg.File.Rotation.MaxBackups)
		require.Equal(t, 7, cfg.File.Rotation.MaxAgeDays)
	})

	t.Run("defaults are applied", func(t *testing.T) {
		cfg := NewConfig()
		err := config.NewDefaultLoader("").LoadFromReader(bytes.NewBufferString("{}"), config.DataTypeYAML, cfg)
		require.NoError(t, err)
		require.Equal(t, LevelInfo, cfg.Level)
		require.Equal(t, FormatJSON, cfg.Format)
		require.Equal(t, OutputStdout, cfg.Output)
		require.Equal(t, config.ByteSize(DefaultFileRotationMaxSizeBytes), cfg.File.Rotation.MaxSize)
	})

	t.Run("unknown level is rejected", func(t *testing.T) {
		cfgData := bytes.NewBufferString(`
log:
  level: verbose
`)
		cfg := NewConfig()
		err := config.NewDefaultLoader("").LoadFromReader(cfgData, config.DataTypeYAML, cfg)
		require.Error(t, err)
	})

	t.Run("file output requires a path", func(t *testing.T) {
		cfgData := bytes.NewBufferString(`
log:
  output: file
`)
		cfg := NewConfig()
		err := config.NewDefaultLoader("").LoadFromReader(cfgData, config.DataTypeYAML, cfg)
		require.ErrorContains(t, err, "cannot be empty")
	})
}

func TestNewLogger(t *testing.T) {
	cfg := NewDefaultConfig()
	logger, closeFn := NewLogger(cfg)
	require.NotNil(t, logger)
	logger.Info("test message", String("key", "value"))
	closeFn()
}

func TestNewDisabledLogger(t *testing.T) {
	logger := NewDisabledLogger()
	require.NotNil(t, logger)
	logger.Error("this goes nowhere")
}
