// Package tracker implements the caller-facing project commands.
//
// Every command that reads or writes project data goes through the
// resilience executor, so a failed write ends up in the pending slot and a
// damaged store triggers recovery. Project files on disk are the source of
// truth; the store is an index over them plus the status history.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/roach88/projtrack/internal/project"
	"github.com/roach88/projtrack/internal/resilience"
	"github.com/roach88/projtrack/internal/store"
)

var (
	// ErrProjectNotFound indicates a filename with no file in any status directory.
	ErrProjectNotFound = errors.New("project not found")

	// ErrInvalidFilename indicates a filename that is not a plain project file name.
	ErrInvalidFilename = errors.New("invalid project filename")
)

// Service runs project commands against one runtime and one project library.
type Service struct {
	rt     *resilience.Runtime
	lib    *project.Library
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock used for history timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the diagnostics logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// New creates a service.
func New(rt *resilience.Runtime, lib *project.Library, opts ...Option) *Service {
	s := &Service{rt: rt, lib: lib, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Runtime returns the resilience runtime behind the service.
func (s *Service) Runtime() *resilience.Runtime {
	return s.rt
}

// Library returns the project library behind the service.
func (s *Service) Library() *project.Library {
	return s.lib
}

// GetProjects returns every stored project grouped by status. Every status
// is present in the result, possibly with an empty list.
func (s *Service) GetProjects(ctx context.Context) (map[project.Status][]project.Project, error) {
	rows, err := resilience.Do[[]store.Record](ctx, s.rt.Executor, resilience.Operation{
		Type:   resilience.OpFindAll,
		Entity: store.EntityProject,
		Name:   CmdGetProjects,
	})
	if err != nil {
		return nil, err
	}

	grouped := make(map[project.Status][]project.Project, len(project.Statuses()))
	for _, st := range project.Statuses() {
		grouped[st] = []project.Project{}
	}
	for _, row := range rows {
		p, err := project.FromRecord(row)
		if err != nil {
			s.logger.Warn("skipping stored project", slog.String("error", err.Error()))
			continue
		}
		grouped[p.Status] = append(grouped[p.Status], p)
	}
	return grouped, nil
}

// SaveProject upserts one project row.
func (s *Service) SaveProject(ctx context.Context, p project.Project) (store.Record, error) {
	if err := checkFilename(p.Filename); err != nil {
		return nil, err
	}
	if !p.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", project.ErrInvalidStatus, p.Status)
	}
	return resilience.Do[store.Record](ctx, s.rt.Executor, resilience.Operation{
		Type:    resilience.OpCreate,
		Entity:  store.EntityProject,
		Params:  store.Params{Data: p.Record()},
		Name:    CmdSaveProject,
		Context: map[string]any{"filename": p.Filename},
	})
}

// SyncResult reports what a directory sync changed in the store.
type SyncResult struct {
	Saved   int      `json:"saved"`
	Removed int      `json:"removed"`
	Failed  []string `json:"failed"`
}

// SyncProjects scans every status directory, upserts each project and
// removes rows whose file no longer exists.
func (s *Service) SyncProjects(ctx context.Context) (SyncResult, error) {
	scanned, err := s.lib.Scan(ctx)
	if err != nil {
		return SyncResult{}, err
	}

	res := SyncResult{Failed: []string{}}
	onDisk := map[string]bool{}
	for _, st := range project.Statuses() {
		for _, p := range scanned[st] {
			onDisk[p.Filename] = true
			if _, err := s.SaveProject(ctx, p); err != nil {
				if resilience.IsManualIntervention(err) {
					return res, err
				}
				s.logger.Warn("sync: saving project failed",
					slog.String("filename", p.Filename),
					slog.String("error", err.Error()),
				)
				res.Failed = append(res.Failed, p.Filename)
				continue
			}
			res.Saved++
		}
	}

	rows, err := resilience.Do[[]store.Record](ctx, s.rt.Executor, resilience.Operation{
		Type:   resilience.OpFindAll,
		Entity: store.EntityProject,
		Name:   CmdSyncProjects,
	})
	if err != nil {
		return res, err
	}
	for _, row := range rows {
		filename, _ := row["filename"].(string)
		if filename == "" || onDisk[filename] {
			continue
		}
		if err := s.forget(ctx, filename); err != nil {
			s.logger.Warn("sync: removing project failed",
				slog.String("filename", filename),
				slog.String("error", err.Error()),
			)
			res.Failed = append(res.Failed, filename)
			continue
		}
		res.Removed++
	}

	s.logger.Info("projects synced",
		slog.Int("saved", res.Saved),
		slog.Int("removed", res.Removed),
		slog.Int("failed", len(res.Failed)),
	)
	return res, nil
}

// SyncPaths brings the rows for the given changed files up to date. It is
// the watcher's change handler; failures are logged.
func (s *Service) SyncPaths(ctx context.Context, paths []string) {
	for _, path := range paths {
		filename := filepath.Base(path)
		if _, st, err := s.locate(filename); err == nil {
			p, err := s.lib.Read(filepath.Join(s.lib.Dir(st), filename), st)
			if err == nil {
				_, err = s.SaveProject(ctx, p)
			}
			if err != nil {
				s.logger.Warn("watch: saving project failed",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		if err := s.forget(ctx, filename); err != nil {
			s.logger.Warn("watch: removing project failed",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *Service) forget(ctx context.Context, filename string) error {
	_, err := s.rt.Executor.Execute(ctx, resilience.Operation{
		Type:    resilience.OpDestroy,
		Entity:  store.EntityProject,
		Params:  store.Params{Key: filename},
		Name:    "remove-project",
		Context: map[string]any{"filename": filename},
	})
	return err
}

// UpdateStatusRequest moves a project to a new status.
type UpdateStatusRequest struct {
	Filename     string         `json:"filename"`
	NewStatus    project.Status `json:"newStatus"`
	WaitingInput string         `json:"waitingInput,omitempty"`
}

// UpdateProjectStatus moves the project file into the directory for the new
// status, records a history row and updates the project row.
//
// The file move happens first. When the store write fails afterwards the
// error is returned; a queued write is replayed later.
func (s *Service) UpdateProjectStatus(ctx context.Context, req UpdateStatusRequest) (project.Project, error) {
	if !req.NewStatus.Valid() {
		return project.Project{}, fmt.Errorf("%w: %q", project.ErrInvalidStatus, req.NewStatus)
	}
	path, prevStatus, err := s.locate(req.Filename)
	if err != nil {
		return project.Project{}, err
	}
	before, err := s.lib.Read(path, prevStatus)
	if err != nil {
		return project.Project{}, err
	}

	newPath, err := s.lib.Move(path, req.NewStatus, req.WaitingInput)
	if err != nil {
		return project.Project{}, err
	}
	after, err := s.lib.Read(newPath, req.NewStatus)
	if err != nil {
		return project.Project{}, err
	}

	history := store.Params{Data: store.Record{
		"filename":           after.Filename,
		"previous_status":    string(prevStatus),
		"new_status":         string(req.NewStatus),
		"previous_tasks":     before.TotalTasks,
		"new_tasks":          after.TotalTasks,
		"previous_completed": before.CompletedTasks,
		"new_completed":      after.CompletedTasks,
		"timestamp":          s.now().UTC().Format(time.RFC3339Nano),
	}}
	data := after.Record()
	delete(data, "filename")
	if after.WaitingInput == "" {
		data["waiting_input"] = nil
	}

	// History row and project row commit together. A queued write replays
	// the history row only; the next sync rebuilds the project row from files.
	_, err = s.rt.Executor.ExecuteFunc(ctx, resilience.Operation{
		Type:    resilience.OpCreate,
		Entity:  store.EntityProjectHistory,
		Params:  history,
		Name:    CmdUpdateProjectStatus,
		Context: map[string]any{"filename": after.Filename},
	}, func(ctx context.Context, st resilience.Store) (any, error) {
		err := st.Atomically(ctx, func(tx *store.Tx) error {
			if _, err := tx.Create(ctx, store.EntityProjectHistory, history); err != nil {
				return err
			}
			n, err := tx.Update(ctx, store.EntityProject, store.Params{Key: after.Filename, Data: data})
			if err != nil {
				return err
			}
			if n == 0 {
				_, err = tx.Create(ctx, store.EntityProject, store.Params{Data: after.Record()})
			}
			return err
		})
		return nil, err
	})
	if err != nil {
		return after, err
	}

	s.logger.Info("project status updated",
		slog.String("filename", after.Filename),
		slog.String("from", string(prevStatus)),
		slog.String("to", string(req.NewStatus)),
	)
	return after, nil
}

// HistoryEntry is one recorded status change.
type HistoryEntry struct {
	ID                int64          `json:"id"`
	Filename          string         `json:"filename"`
	PreviousStatus    project.Status `json:"previousStatus"`
	NewStatus         project.Status `json:"newStatus"`
	PreviousTasks     int            `json:"previousTasks"`
	NewTasks          int            `json:"newTasks"`
	PreviousCompleted int            `json:"previousCompleted"`
	NewCompleted      int            `json:"newCompleted"`
	Timestamp         string         `json:"timestamp"`
}

// ProjectHistory returns the status changes of one project, oldest first.
func (s *Service) ProjectHistory(ctx context.Context, filename string) ([]HistoryEntry, error) {
	if err := checkFilename(filename); err != nil {
		return nil, err
	}
	rows, err := resilience.Do[[]store.Record](ctx, s.rt.Executor, resilience.Operation{
		Type:   resilience.OpFindAll,
		Entity: store.EntityProjectHistory,
		Params: store.Params{Where: store.Record{"filename": filename}},
		Name:   CmdProjectHistory,
	})
	if err != nil {
		return nil, err
	}

	out := make([]HistoryEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, HistoryEntry{
			ID:                int64(toInt(row["id"])),
			Filename:          toString(row["filename"]),
			PreviousStatus:    project.Status(toString(row["previous_status"])),
			NewStatus:         project.Status(toString(row["new_status"])),
			PreviousTasks:     toInt(row["previous_tasks"]),
			NewTasks:          toInt(row["new_tasks"]),
			PreviousCompleted: toInt(row["previous_completed"]),
			NewCompleted:      toInt(row["new_completed"]),
			Timestamp:         toString(row["timestamp"]),
		})
	}
	return out, nil
}

// ValidateProject reads the project file and reports its structure.
func (s *Service) ValidateProject(_ context.Context, filename string) (project.Project, error) {
	path, st, err := s.locate(filename)
	if err != nil {
		return project.Project{}, err
	}
	return s.lib.Read(path, st)
}

// RetryDatabaseOperation replays the pending write, if any.
func (s *Service) RetryDatabaseOperation(ctx context.Context) (resilience.ReplayResult, error) {
	return s.rt.RetryPendingOperation(ctx)
}

// RestoreResult reports a manual restore.
type RestoreResult struct {
	Restored bool                     `json:"restored"`
	Backup   *resilience.BackupRecord `json:"backup,omitempty"`
}

// RestoreDatabaseFromBackup replaces the live store with the newest backup.
func (s *Service) RestoreDatabaseFromBackup(ctx context.Context) (RestoreResult, error) {
	rec, ok, err := s.rt.RestoreLatest(ctx)
	if err != nil {
		return RestoreResult{}, err
	}
	if !ok {
		return RestoreResult{Restored: false}, nil
	}
	return RestoreResult{Restored: true, Backup: &rec}, nil
}

// RecoverDatabase runs recovery on demand. The result is returned together
// with a *resilience.RecoveryFailure when the store is still unusable.
func (s *Service) RecoverDatabase(ctx context.Context) (resilience.RecoveryResult, error) {
	res := s.rt.RecoverDatabase(ctx)
	return res, res.Err()
}

// locate finds the project file named filename in the status directories.
func (s *Service) locate(filename string) (string, project.Status, error) {
	if err := checkFilename(filename); err != nil {
		return "", "", err
	}
	for _, st := range project.Statuses() {
		path := filepath.Join(s.lib.Dir(st), filename)
		info, err := os.Stat(path)
		if err == nil && !info.IsDir() {
			return path, st, nil
		}
	}
	return "", "", fmt.Errorf("%w: %s", ErrProjectNotFound, filename)
}

func checkFilename(filename string) error {
	if filename == "" || strings.ContainsAny(filename, `/\`) || !project.IsProjectFile(filename) {
		return fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	return nil
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return ""
	}
}

func toInt(v any) int {
	switch x := v.(type) {
	case int64:
		return int(x)
	case int:
		return x
	case float64:
		return int(x)
	default:
		return 0
	}
}
