package queue

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lehigh-university-libraries/imagebatch/internal/models"
	"github.com/parquet-go/parquet-go"
)

// PromptRecord is a single row of a .jsonl or .parquet prompt file
type PromptRecord struct {
	Prompt string `json:"prompt" parquet:"prompt"`
}

// Loader reads prompt files from disk
type Loader struct {
	path string
}

// NewLoader creates a new prompt file loader
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Load builds work items from the file, choosing the format by extension.
// Anything that is not .jsonl, .json or .parquet is treated as raw text.
func (l *Loader) Load() ([]models.WorkItem, error) {
	ext := strings.ToLower(filepath.Ext(l.path))

	switch ext {
	case ".parquet":
		prompts, err := l.loadParquet()
		if err != nil {
			return nil, err
		}
		return FromPrompts(prompts), nil
	case ".jsonl", ".json":
		prompts, err := l.loadJSONL()
		if err != nil {
			return nil, err
		}
		return FromPrompts(prompts), nil
	default:
		data, err := os.ReadFile(l.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read prompt file: %w", err)
		}
		return Build(string(data)), nil
	}
}

// ReadRaw builds work items from raw text on r (stdin for the CLI)
func ReadRaw(r io.Reader) ([]models.WorkItem, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts: %w", err)
	}
	return Build(string(data)), nil
}

func (l *Loader) loadJSONL() ([]string, error) {
	slog.Debug("Opening JSONL file", "path", l.path)

	file, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open prompt file: %w", err)
	}
	defer file.Close()

	var prompts []string
	scanner := bufio.NewScanner(file)

	// Prompts can be long; allow up to 1MB per line
	const maxCapacity = 1024 * 1024
	scanner.Buffer(make([]byte, 64*1024), maxCapacity)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var record PromptRecord
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			return nil, fmt.Errorf("failed to parse JSON at line %d: %w", lineNum, err)
		}
		prompts = append(prompts, record.Prompt)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading prompt file: %w", err)
	}

	slog.Debug("Finished reading JSONL file", "prompts", len(prompts), "lines", lineNum)
	return prompts, nil
}

func (l *Loader) loadParquet() ([]string, error) {
	slog.Debug("Opening Parquet file", "path", l.path)

	file, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet: %w", err)
	}

	slog.Debug("Parquet file opened", "num_rows", pf.NumRows())

	reader := parquet.NewGenericReader[PromptRecord](pf)
	defer reader.Close()

	var prompts []string
	rows := make([]PromptRecord, 128)
	for {
		n, err := reader.Read(rows)
		for _, row := range rows[:n] {
			prompts = append(prompts, row.Prompt)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read parquet rows: %w", err)
		}
	}

	slog.Debug("Finished reading Parquet file", "prompts", len(prompts))
	return prompts, nil
}
