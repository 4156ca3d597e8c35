package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/projtrack/internal/project"
)

// Command names accepted by Invoke.
const (
	CmdGetProjects               = "get-projects"
	CmdSyncProjects              = "sync-projects"
	CmdSaveProject               = "save-project"
	CmdUpdateProjectStatus       = "update-project-status"
	CmdProjectHistory            = "project-history"
	CmdValidateProject           = "validate-project"
	CmdRetryDatabaseOperation    = "retry-database-operation"
	CmdRestoreDatabaseFromBackup = "restore-database-from-backup"
	CmdRecoverDatabase           = "recover-database"
)

var (
	// ErrUnknownCommand indicates a command name with no handler.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrInvalidArgs indicates command arguments that could not be decoded.
	ErrInvalidArgs = errors.New("invalid command arguments")
)

// Handler runs one command with JSON-encoded arguments.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

type filenameArgs struct {
	Filename string `json:"filename"`
}

// Commands returns the handler table keyed by command name.
func (s *Service) Commands() map[string]Handler {
	return map[string]Handler{
		CmdGetProjects: func(ctx context.Context, _ json.RawMessage) (any, error) {
			return s.GetProjects(ctx)
		},
		CmdSyncProjects: func(ctx context.Context, _ json.RawMessage) (any, error) {
			return s.SyncProjects(ctx)
		},
		CmdSaveProject: func(ctx context.Context, args json.RawMessage) (any, error) {
			var p project.Project
			if err := decodeArgs(args, &p); err != nil {
				return nil, err
			}
			return s.SaveProject(ctx, p)
		},
		CmdUpdateProjectStatus: func(ctx context.Context, args json.RawMessage) (any, error) {
			var req UpdateStatusRequest
			if err := decodeArgs(args, &req); err != nil {
				return nil, err
			}
			return s.UpdateProjectStatus(ctx, req)
		},
		CmdProjectHistory: func(ctx context.Context, args json.RawMessage) (any, error) {
			var a filenameArgs
			if err := decodeArgs(args, &a); err != nil {
				return nil, err
			}
			return s.ProjectHistory(ctx, a.Filename)
		},
		CmdValidateProject: func(ctx context.Context, args json.RawMessage) (any, error) {
			var a filenameArgs
			if err := decodeArgs(args, &a); err != nil {
				return nil, err
			}
			return s.ValidateProject(ctx, a.Filename)
		},
		CmdRetryDatabaseOperation: func(ctx context.Context, _ json.RawMessage) (any, error) {
			return s.RetryDatabaseOperation(ctx)
		},
		CmdRestoreDatabaseFromBackup: func(ctx context.Context, _ json.RawMessage) (any, error) {
			return s.RestoreDatabaseFromBackup(ctx)
		},
		CmdRecoverDatabase: func(ctx context.Context, _ json.RawMessage) (any, error) {
			return s.RecoverDatabase(ctx)
		},
	}
}

// CommandNames returns the registered command names in sorted order.
func (s *Service) CommandNames() []string {
	cmds := s.Commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke runs the named command.
func (s *Service) Invoke(ctx context.Context, name string, args json.RawMessage) (any, error) {
	h, ok := s.Commands()[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	return h(ctx, args)
}

// decodeArgs decodes args into v. Empty args leave v untouched.
func decodeArgs(args json.RawMessage, v any) error {
	if len(bytes.TrimSpace(args)) == 0 || bytes.Equal(bytes.TrimSpace(args), []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	return nil
}
