// Package results writes generated images and run manifests to disk.
package results

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"gopkg.in/yaml.v3"

	"github.com/lehigh-university-libraries/imagebatch/internal/models"
)

// RunConfig describes how a run was configured
type RunConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	Server    string `yaml:"server,omitempty"`
	Pacing    string `yaml:"pacing"`
	Delay     string `yaml:"delay"`
	Source    string `yaml:"source"`
	Timestamp string `yaml:"timestamp"`
}

// Row is one item of the manifest
type Row struct {
	ID       int    `yaml:"id" parquet:"id"`
	Prompt   string `yaml:"prompt" parquet:"prompt"`
	Status   string `yaml:"status" parquet:"status"`
	FileName string `yaml:"filename,omitempty" parquet:"file_name"`
	Error    string `yaml:"error,omitempty" parquet:"error"`
}

// Manifest is the complete record of a run
type Manifest struct {
	Config  RunConfig       `yaml:"config"`
	Summary *models.Summary `yaml:"summary,omitempty"`
	Items   []Row           `yaml:"items"`
}

// NewManifest builds a manifest from the items of a finished run
func NewManifest(config RunConfig, summary *models.Summary, items []models.WorkItem) *Manifest {
	if config.Timestamp == "" {
		config.Timestamp = time.Now().Format("2006-01-02_15-04-05")
	}
	m := &Manifest{
		Config:  config,
		Summary: summary,
		Items:   make([]Row, 0, len(items)),
	}
	for _, it := range items {
		m.Items = append(m.Items, Row{
			ID:       it.ID,
			Prompt:   it.Prompt,
			Status:   string(it.Status),
			FileName: it.FileName,
			Error:    it.Error,
		})
	}
	return m
}

// SaveImages writes every done item to dir under its file name and returns
// the paths written. Names are reduced to their base and made unique within
// the batch.
func SaveImages(dir string, items []models.WorkItem) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	used := make(map[string]bool)
	var written []string
	for i := range items {
		it := &items[i]
		if it.Status != models.StatusDone || len(it.ImageData) == 0 {
			continue
		}

		name := uniqueName(safeName(it.FileName, it.Ordinal()), used)
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, it.ImageData, 0644); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", path, err)
		}
		slog.Debug("Saved image", "item", it.Ordinal(), "path", path, "bytes", len(it.ImageData))
		written = append(written, path)
	}
	return written, nil
}

// DownloadName is the name offered when an item carries no file name
func DownloadName(item models.WorkItem) string {
	return safeName(item.FileName, item.Ordinal())
}

func safeName(name string, ordinal int) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return fmt.Sprintf("image-%d.png", ordinal)
	}
	return name
}

func uniqueName(name string, used map[string]bool) string {
	candidate := name
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 2; used[candidate]; n++ {
		candidate = stem + "-" + strconv.Itoa(n) + ext
	}
	used[candidate] = true
	return candidate
}

// SaveManifest writes the manifest as parquet when path ends in .parquet and
// as YAML otherwise.
func SaveManifest(path string, m *Manifest) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create manifest directory: %w", err)
		}
	}
	if strings.EqualFold(filepath.Ext(path), ".parquet") {
		return SaveManifestParquet(path, m)
	}
	return SaveManifestYAML(path, m)
}

// SaveManifestYAML writes the full manifest including run config and summary
func SaveManifestYAML(path string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write YAML file: %w", err)
	}
	return nil
}

// SaveManifestParquet writes one row per item
func SaveManifestParquet(path string, m *Manifest) error {
	if err := parquet.WriteFile(path, m.Items); err != nil {
		return fmt.Errorf("failed to write parquet file: %w", err)
	}
	return nil
}
