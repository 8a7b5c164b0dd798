package runlog

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultRoot is where run directories are created
const DefaultRoot = ".todospec"

// RunContext holds information about the current test run
type RunContext struct {
	ID        string    // Short unique identifier (8 chars)
	Timestamp time.Time // When the run started
	Dir       string    // Full path to the run directory

	mu  sync.Mutex
	seq int
}

// New creates a new run context and initializes the run directory under root
func New(root string) (*RunContext, error) {
	if root == "" {
		root = DefaultRoot
	}
	now := time.Now()
	shortID := uuid.New().String()[:8]

	// Format: .todospec/runs/2025-01-15_143052_a1b2c3d4/
	dirName := fmt.Sprintf("%s_%s", now.Format("2006-01-02_150405"), shortID)
	runDir := filepath.Join(root, "runs", dirName)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}

	return &RunContext{
		ID:        shortID,
		Timestamp: now,
		Dir:       runDir,
	}, nil
}

// LogPath returns the full path for a log file
func (r *RunContext) LogPath(name string) string {
	return filepath.Join(r.Dir, name+".log")
}

// CreateLogFile creates a log file and returns the file handle
func (r *RunContext) CreateLogFile(name string) (*os.File, error) {
	return os.Create(r.LogPath(name))
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SaveScreenshot stores a PNG under screenshots/ and returns its path.
// Names are prefixed with a sequence number so repeated scenario names never
// overwrite each other.
func (r *RunContext) SaveScreenshot(capability, scenario string, png []byte) (string, error) {
	dir := filepath.Join(r.Dir, "screenshots", Slug(capability))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating screenshot directory: %w", err)
	}

	r.mu.Lock()
	r.seq++
	seq := r.seq
	r.mu.Unlock()

	path := filepath.Join(dir, fmt.Sprintf("%03d_%s.png", seq, Slug(scenario)))
	if err := os.WriteFile(path, png, 0644); err != nil {
		return "", fmt.Errorf("writing screenshot: %w", err)
	}
	return path, nil
}

// Slug turns a free-form name into something safe for a file name
func Slug(name string) string {
	s := strings.Trim(unsafeChars.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if s == "" {
		return "unnamed"
	}
	if len(s) > 80 {
		s = s[:80]
	}
	return s
}

// RunInfo contains information about a stored run
type RunInfo struct {
	Name        string    `json:"name"`
	Dir         string    `json:"dir"`
	Timestamp   time.Time `json:"timestamp"`
	Logs        []LogFile `json:"logs"`
	Screenshots int       `json:"screenshots"`
}

// LogFile represents a log file in a run directory
type LogFile struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// ListRuns returns all run directories under root sorted by most recent first
func ListRuns(root string) ([]RunInfo, error) {
	if root == "" {
		root = DefaultRoot
	}
	runsDir := filepath.Join(root, "runs")

	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunInfo{}, nil
		}
		return nil, err
	}

	var runs []RunInfo
	for i := len(entries) - 1; i >= 0; i-- { // Reverse order (newest first)
		entry := entries[i]
		if !entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		runDir := filepath.Join(runsDir, entry.Name())
		logs, _ := listLogs(runDir)
		shots, _ := filepath.Glob(filepath.Join(runDir, "screenshots", "*", "*.png"))

		runs = append(runs, RunInfo{
			Name:        entry.Name(),
			Dir:         runDir,
			Timestamp:   info.ModTime(),
			Logs:        logs,
			Screenshots: len(shots),
		})
	}

	return runs, nil
}

func listLogs(runDir string) ([]LogFile, error) {
	entries, err := os.ReadDir(runDir)
	if err != nil {
		return nil, err
	}

	var logs []LogFile
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		logs = append(logs, LogFile{
			Name: strings.TrimSuffix(entry.Name(), ".log"),
			Path: filepath.Join(runDir, entry.Name()),
			Size: info.Size(),
		})
	}

	return logs, nil
}
