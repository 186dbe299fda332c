//  _                          _
// | | _____  _____  ___  _ __| |_
// | |/ _ \ \/ / __|/ _ \| '__| __|
// | |  __/>  <\__ \ (_) | |  | |_
// |_|\___/_/\_\___/\___/|_|   \__|
//
//  Copyright © 2022 - 2026 Lexsort B.V. All rights reserved.
//
//  CONTACT: hello@lexsort.io
//

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	enterrors "github.com/lexsort/lexsort/entities/errors"
	"github.com/lexsort/lexsort/usecases/config"
)

func TestBuildConfig(t *testing.T) {
	t.Run("defaults fill unset fields", func(t *testing.T) {
		cfg, err := buildConfig(Options{StorePath: "/var/lib/lexsort"})
		require.NoError(t, err)

		assert.Equal(t, config.DefaultThreshold, cfg.Threshold)
		assert.Equal(t, config.DefaultWorkers, cfg.Workers)
		assert.Equal(t, int64(100*1024*1024), cfg.SortMemoryBytes)
		assert.Equal(t, int64(100*1024*1024), cfg.MergeMemoryBytes)
		assert.Equal(t, config.StoreBackendFilesystem, cfg.Store.Backend)
		assert.Equal(t, filepath.Join("/var/lib/lexsort", "scratch"), cfg.Scratch.Path)
		assert.Equal(t, config.DefaultScratchTTL, cfg.Scratch.TTL)
		assert.Zero(t, cfg.MemoryBudgetBytes)
	})

	t.Run("flags override the config file", func(t *testing.T) {
		dir := t.TempDir()
		file := filepath.Join(dir, "lexsort.yaml")
		require.NoError(t, os.WriteFile(file, []byte(`
threshold: 512
workers: 2
sort_memory_bytes: 1024
store:
  backend: s3
  root_path: /from/file
`), 0o644))

		cfg, err := buildConfig(Options{
			ConfigFile: file,
			Threshold:  2048,
			SortMemory: "1MiB",
		})
		require.NoError(t, err)

		assert.Equal(t, int64(2048), cfg.Threshold)
		assert.Equal(t, int64(1024*1024), cfg.SortMemoryBytes)
		assert.Equal(t, 2, cfg.Workers, "unset flags keep the file's values")
		assert.Equal(t, config.StoreBackendS3, cfg.Store.Backend)
		assert.Equal(t, "/from/file", cfg.Store.RootPath)
	})

	t.Run("config file values survive defaulting", func(t *testing.T) {
		dir := t.TempDir()
		file := filepath.Join(dir, "lexsort.yaml")
		require.NoError(t, os.WriteFile(file, []byte("sort_memory_bytes: 4096\n"), 0o644))

		cfg, err := buildConfig(Options{ConfigFile: file})
		require.NoError(t, err)
		assert.Equal(t, int64(4096), cfg.SortMemoryBytes)
	})

	t.Run("memory strings parse", func(t *testing.T) {
		cfg, err := buildConfig(Options{
			SortMemory:   "1GiB",
			MergeMemory:  "512KiB",
			MemoryBudget: "2GiB",
		})
		require.NoError(t, err)

		assert.Equal(t, int64(1<<30), cfg.SortMemoryBytes)
		assert.Equal(t, int64(512*1024), cfg.MergeMemoryBytes)
		assert.Equal(t, int64(2<<30), cfg.MemoryBudgetBytes)
	})

	t.Run("malformed memory string", func(t *testing.T) {
		_, err := buildConfig(Options{SortMemory: "plenty"})
		require.Error(t, err)
		assert.True(t, enterrors.IsConfiguration(err))
	})

	t.Run("missing config file", func(t *testing.T) {
		_, err := buildConfig(Options{ConfigFile: filepath.Join(t.TempDir(), "nope.yaml")})
		require.Error(t, err)
		assert.True(t, enterrors.IsConfiguration(err))
	})
}
