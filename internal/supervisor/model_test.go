package supervisor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("gguf"), 0o644))
}

func TestResolveModelExplicitPath(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "custom.bin")
	touch(t, model)

	got, err := ResolveModel(model, "/nonexistent", "")
	require.NoError(t, err)
	assert.Equal(t, model, got)

	_, err = ResolveModel(filepath.Join(dir, "missing.gguf"), "", "")
	assert.True(t, IsKind(err, KindNoModelFound))

	_, err = ResolveModel(dir, "", "")
	assert.True(t, IsKind(err, KindNoModelFound), "directory is not a model")
}

func TestResolveModelScansDirectory(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "b-model.gguf"))
	touch(t, filepath.Join(dir, "a", "nested.GGUF"))
	touch(t, filepath.Join(dir, "readme.txt"))

	got, err := ResolveModel("", dir, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a", "nested.GGUF"), got)

	got, err = ResolveModel("", dir, "B-MODEL")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "b-model.gguf"), got)
}

func TestResolveModelNotFound(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "notes.md"))

	tests := []struct {
		name string
		dir  string
		want string
	}{
		{name: "empty dir setting", dir: "", want: "no models directory"},
		{name: "missing dir", dir: filepath.Join(dir, "nope"), want: "models directory"},
		{name: "no gguf", dir: dir, want: "no .gguf file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolveModel("", tt.dir, "")
			require.Error(t, err)
			assert.True(t, IsKind(err, KindNoModelFound))
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	touch(t, filepath.Join(dir, "llama.gguf"))
	_, err := ResolveModel("", dir, "qwen")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `matching "qwen"`)
}

func TestModelArgs(t *testing.T) {
	m := ModelHandle{
		Path: "/models/qwen.gguf", Alias: "qwen",
		ContextSize: 4096, GPULayers: 20, Threads: 4, BatchSize: 256,
		ExtraArgs: []string{"--jinja", "--flash-attn"},
	}
	assert.Equal(t, []string{
		"-m", "/models/qwen.gguf",
		"--host", "127.0.0.1",
		"--port", "8080",
		"-c", "4096",
		"--batch-size", "256",
		"-ngl", "20",
		"-t", "4",
		"--alias", "qwen",
		"--jinja", "--flash-attn",
	}, m.Args("127.0.0.1", 8080))
}

func TestModelAlias(t *testing.T) {
	assert.Equal(t, "qwen2.5-coder-7b-q4_k_m", ModelAlias("/m/qwen2.5-coder-7b-q4_k_m.gguf"))
}

func TestListModels(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "b-model.gguf"))
	touch(t, filepath.Join(dir, "a", "nested.GGUF"))
	touch(t, filepath.Join(dir, "readme.txt"))

	models, err := ListModels(dir)
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, filepath.Join(dir, "a", "nested.GGUF"), models[0].Path)
	assert.Equal(t, "nested", models[0].Alias)
	assert.Equal(t, "b-model", models[1].Alias)
	assert.Equal(t, int64(len("gguf")), models[1].Size)

	_, err = ListModels(filepath.Join(dir, "missing"))
	assert.True(t, IsKind(err, KindNoModelFound))
}
