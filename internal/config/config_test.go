package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadSeedsDefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "midas.yaml")

	h, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, DefaultDBFileName), h.Get().Storage.DBPath)
	require.Equal(t, filepath.Join(dir, DefaultBackupDirName), h.Get().Storage.BackupDir)
	require.FileExists(t, path)
}

func TestApplyPatchRejectsSensitiveKey(t *testing.T) {
	h, err := Load(filepath.Join(t.TempDir(), "midas.yaml"))
	require.NoError(t, err)

	err = h.ApplyPatch(map[string]any{"llm.api_key": "sk-test"})
	require.Error(t, err)
}

func TestApplyPatchRejectsUnknownKey(t *testing.T) {
	h, err := Load(filepath.Join(t.TempDir(), "midas.yaml"))
	require.NoError(t, err)

	err = h.ApplyPatch(map[string]any{"llm.not_a_real_field": 1})
	require.Error(t, err)
}

func TestApplyPatchMergesAndPersists(t *testing.T) {
	h, err := Load(filepath.Join(t.TempDir(), "midas.yaml"))
	require.NoError(t, err)

	err = h.ApplyPatch(map[string]any{"bilibili.max_video_minutes": 120})
	require.NoError(t, err)
	require.Equal(t, int64(120), int64(h.Get().Bilibili.MaxVideoMinutes))

	reloaded, err := Load(h.Path())
	require.NoError(t, err)
	require.Equal(t, 120, reloaded.Get().Bilibili.MaxVideoMinutes)
}

func TestEditableSnapshotExcludesSensitiveFields(t *testing.T) {
	h, err := Load(filepath.Join(t.TempDir(), "midas.yaml"))
	require.NoError(t, err)

	entries := h.EditableSnapshot()
	for _, e := range entries {
		require.NotEqual(t, "llm.api_key", e.Path)
		require.NotEqual(t, "xiaohongshu.auth.cookie", e.Path)
	}
}

func TestResetToDefaults(t *testing.T) {
	h, err := Load(filepath.Join(t.TempDir(), "midas.yaml"))
	require.NoError(t, err)
	require.NoError(t, h.ApplyPatch(map[string]any{"bilibili.max_video_minutes": 5}))
	require.NoError(t, h.ResetToDefaults())
	require.Equal(t, 240, h.Get().Bilibili.MaxVideoMinutes)
}
