package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/projtrack/internal/store"
)

var (
	// ErrInvalidStatus indicates a status name outside the four buckets.
	ErrInvalidStatus = errors.New("invalid project status")

	// ErrNotProjectFile indicates a path that is not a visible .txt file.
	ErrNotProjectFile = errors.New("not a project file")
)

// Project is a project file together with what was parsed from it.
type Project struct {
	Filename     string    `json:"filename"`
	Path         string    `json:"path"`
	Title        string    `json:"title"`
	Status       Status    `json:"status"`
	LastModified time.Time `json:"lastModified"`

	TotalTasks           int     `json:"totalTasks"`
	CompletedTasks       int     `json:"completedTasks"`
	CompletionPercentage float64 `json:"completionPercentage"`

	IsWellFormulated bool     `json:"isWellFormulated"`
	NeedsImprovement bool     `json:"needsImprovement"`
	Issues           []string `json:"issues"`

	WaitingInput string `json:"waitingInput,omitempty"`

	// Document and Content are only set when read from disk.
	Document *Document `json:"document,omitempty"`
	Content  string    `json:"content,omitempty"`
}

// completion returns the percentage of completed tasks, 0 without tasks.
func completion(total, completed int) float64 {
	if total == 0 {
		return 0
	}
	return float64(completed) / float64(total) * 100
}

// Record returns the store row for p.
func (p Project) Record() store.Record {
	issues := p.Issues
	if issues == nil {
		issues = []string{}
	}
	encoded, _ := json.Marshal(issues)

	rec := store.Record{
		"filename":           p.Filename,
		"path":               p.Path,
		"title":              p.Title,
		"status":             string(p.Status),
		"is_waiting":         p.Status == StatusWaiting,
		"last_modified":      p.LastModified.UTC().Format(time.RFC3339Nano),
		"total_tasks":        p.TotalTasks,
		"completed_tasks":    p.CompletedTasks,
		"is_well_formulated": p.IsWellFormulated,
		"needs_improvement":  p.NeedsImprovement,
		"issues":             string(encoded),
	}
	if p.WaitingInput != "" {
		rec["waiting_input"] = p.WaitingInput
	}
	return rec
}

// FromRecord rebuilds a Project from a store row. Values may come straight
// from SQLite or from a JSON round trip.
func FromRecord(rec store.Record) (Project, error) {
	p := Project{
		Filename:         asString(rec["filename"]),
		Path:             asString(rec["path"]),
		Title:            asString(rec["title"]),
		Status:           Status(asString(rec["status"])),
		WaitingInput:     asString(rec["waiting_input"]),
		TotalTasks:       asInt(rec["total_tasks"]),
		CompletedTasks:   asInt(rec["completed_tasks"]),
		IsWellFormulated: asInt(rec["is_well_formulated"]) != 0,
		NeedsImprovement: asInt(rec["needs_improvement"]) != 0,
		Issues:           []string{},
	}
	if p.Filename == "" {
		return Project{}, fmt.Errorf("project record without filename")
	}
	if !p.Status.Valid() {
		return Project{}, fmt.Errorf("project %s: %w: %q", p.Filename, ErrInvalidStatus, p.Status)
	}
	if s := asString(rec["last_modified"]); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return Project{}, fmt.Errorf("project %s: last_modified: %w", p.Filename, err)
		}
		p.LastModified = t
	}
	if s := asString(rec["issues"]); s != "" {
		if err := json.Unmarshal([]byte(s), &p.Issues); err != nil {
			return Project{}, fmt.Errorf("project %s: issues: %w", p.Filename, err)
		}
	}
	p.CompletionPercentage = completion(p.TotalTasks, p.CompletedTasks)
	return p, nil
}

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return ""
	}
}

func asInt(v any) int {
	switch x := v.(type) {
	case int64:
		return int(x)
	case int:
		return x
	case float64:
		return int(x)
	case bool:
		if x {
			return 1
		}
		return 0
	default:
		return 0
	}
}
