package supervisor

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const modelExt = ".gguf"

// ModelHandle is the resolved model artifact plus its launch parameters.
// It is fixed once the server has launched against it.
type ModelHandle struct {
	Path        string
	Alias       string
	ContextSize int
	GPULayers   int
	Threads     int
	BatchSize   int
	ExtraArgs   []string
}

// Args builds the llama-server command line.
func (m ModelHandle) Args(host string, port int) []string {
	args := []string{
		"-m", m.Path,
		"--host", host,
		"--port", strconv.Itoa(port),
		"-c", strconv.Itoa(m.ContextSize),
		"--batch-size", strconv.Itoa(m.BatchSize),
		"-ngl", strconv.Itoa(m.GPULayers),
		"-t", strconv.Itoa(m.Threads),
		"--alias", m.Alias,
	}
	return append(args, m.ExtraArgs...)
}

// ResolveModel picks the model artifact. An explicit path wins; otherwise
// the first *.gguf under dir in lexical walk order is used, optionally
// restricted to files whose name contains name.
func ResolveModel(explicitPath, dir, name string) (string, error) {
	if p := strings.TrimSpace(explicitPath); p != "" {
		abs, err := filepath.Abs(p)
		if err != nil {
			return "", noModel(fmt.Sprintf("resolve %s", p), err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return "", noModel(fmt.Sprintf("model %s", abs), err)
		}
		if info.IsDir() {
			return "", noModel(fmt.Sprintf("model path %s is a directory", abs), nil)
		}
		return abs, nil
	}

	dir = strings.TrimSpace(dir)
	if dir == "" {
		return "", noModel("no models directory configured", nil)
	}
	models, err := ListModels(dir)
	if err != nil {
		return "", err
	}
	abs, _ := filepath.Abs(dir)
	name = strings.ToLower(strings.TrimSpace(name))
	for _, m := range models {
		if name == "" || strings.Contains(strings.ToLower(filepath.Base(m.Path)), name) {
			return m.Path, nil
		}
	}
	if name != "" {
		return "", noModel(fmt.Sprintf("no %s file matching %q under %s", modelExt, name, abs), nil)
	}
	return "", noModel(fmt.Sprintf("no %s file under %s", modelExt, abs), nil)
}

// ModelFile is a model artifact found under the models directory.
type ModelFile struct {
	Path  string
	Alias string
	Size  int64
}

// ListModels returns every *.gguf under dir in lexical walk order.
// Unreadable subdirectories are skipped.
func ListModels(dir string) ([]ModelFile, error) {
	abs, err := filepath.Abs(strings.TrimSpace(dir))
	if err != nil {
		return nil, noModel(fmt.Sprintf("resolve %s", dir), err)
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, noModel(fmt.Sprintf("models directory %s", abs), err)
	}
	var models []ModelFile
	walkErr := filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), modelExt) {
			return nil
		}
		m := ModelFile{Path: path, Alias: ModelAlias(path)}
		if info, err := d.Info(); err == nil {
			m.Size = info.Size()
		}
		models = append(models, m)
		return nil
	})
	if walkErr != nil {
		return nil, noModel(fmt.Sprintf("scan %s", abs), walkErr)
	}
	return models, nil
}

// ModelAlias derives the served model name from the file stem.
func ModelAlias(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func noModel(msg string, err error) error {
	return &Error{Kind: KindNoModelFound, Msg: msg, Err: err}
}
