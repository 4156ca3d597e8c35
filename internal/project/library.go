package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Library is the projects root with one directory per status.
type Library struct {
	root   string
	logger *slog.Logger
}

// NewLibrary creates a library rooted at root. A nil logger defaults to
// slog.Default().
func NewLibrary(root string, logger *slog.Logger) *Library {
	if logger == nil {
		logger = slog.Default()
	}
	return &Library{root: root, logger: logger}
}

// Root returns the projects root.
func (l *Library) Root() string {
	return l.root
}

// Dir returns the directory holding projects with status s.
func (l *Library) Dir(s Status) string {
	return filepath.Join(l.root, s.DirName())
}

// EnsureDirs creates the four status directories if missing.
func (l *Library) EnsureDirs() error {
	for _, s := range Statuses() {
		if err := os.MkdirAll(l.Dir(s), 0o755); err != nil {
			return fmt.Errorf("create %s directory: %w", s, err)
		}
	}
	return nil
}

// StatusOf returns the status whose directory contains path.
func (l *Library) StatusOf(path string) (Status, bool) {
	dir := filepath.Clean(filepath.Dir(path))
	for _, s := range Statuses() {
		if dir == filepath.Clean(l.Dir(s)) {
			return s, true
		}
	}
	return "", false
}

// IsProjectFile reports whether name is a visible .txt file name.
func IsProjectFile(name string) bool {
	return strings.HasSuffix(name, ".txt") && !strings.HasPrefix(name, ".")
}

// Files lists the project files of one status, sorted by name. A missing
// directory yields an empty list.
func (l *Library) Files(s Status) ([]string, error) {
	entries, err := os.ReadDir(l.Dir(s))
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s projects: %w", s, err)
	}

	files := []string{}
	for _, e := range entries {
		if e.IsDir() || !IsProjectFile(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(l.Dir(s), e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// Read loads and parses one project file.
func (l *Library) Read(path string, s Status) (Project, error) {
	if !IsProjectFile(filepath.Base(path)) {
		return Project{}, fmt.Errorf("%w: %s", ErrNotProjectFile, path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Project{}, fmt.Errorf("read project: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return Project{}, fmt.Errorf("stat project: %w", err)
	}

	content := string(raw)
	doc := Parse(content)
	total, completed := CountTasks(content)
	v := Validate(content)
	filename := norm.NFC.String(filepath.Base(path))

	title := doc.Title
	if title == "" {
		title = NameFromFilename(filename)
	}

	return Project{
		Filename:             filename,
		Path:                 path,
		Title:                title,
		Status:               s,
		LastModified:         info.ModTime().UTC(),
		TotalTasks:           total,
		CompletedTasks:       completed,
		CompletionPercentage: completion(total, completed),
		IsWellFormulated:     v.IsWellFormulated,
		NeedsImprovement:     v.NeedsImprovement,
		Issues:               v.Issues,
		WaitingInput:         doc.WaitingInput,
		Document:             &doc,
		Content:              content,
	}, nil
}

// Scan reads every project of every status. Unreadable files are logged
// and skipped.
func (l *Library) Scan(ctx context.Context) (map[Status][]Project, error) {
	out := make(map[Status][]Project, len(Statuses()))
	for _, s := range Statuses() {
		files, err := l.Files(s)
		if err != nil {
			return nil, err
		}
		projects := []Project{}
		for _, path := range files {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			p, err := l.Read(path, s)
			if err != nil {
				l.logger.Warn("skipping unreadable project",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
				continue
			}
			projects = append(projects, p)
		}
		out[s] = projects
	}
	return out, nil
}

// Move places the project file at path into the directory for target,
// writing waitingInput into its "Waiting on Inputs" section when set.
// Returns the new path.
func (l *Library) Move(path string, target Status, waitingInput string) (string, error) {
	if !target.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, target)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read project: %w", err)
	}
	content := SetWaitingInput(string(raw), waitingInput)

	if err := os.MkdirAll(l.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create %s directory: %w", target, err)
	}
	newPath := filepath.Join(l.Dir(target), filepath.Base(path))
	if err := WriteFile(newPath, content); err != nil {
		return "", err
	}
	if filepath.Clean(newPath) != filepath.Clean(path) {
		if err := os.Remove(path); err != nil {
			return newPath, fmt.Errorf("remove %s after move: %w", path, err)
		}
	}

	l.logger.Info("moved project",
		slog.String("from", path),
		slog.String("to", newPath),
		slog.String("status", string(target)),
	)
	return newPath, nil
}

// WriteFile replaces path with content via a temp file and rename.
func WriteFile(path, content string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("write project: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("write project: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("write project: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write project: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("write project: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write project: %w", err)
	}
	return nil
}
