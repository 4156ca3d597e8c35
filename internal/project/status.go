package project

import (
	"fmt"
	"strings"
)

// Status is the lifecycle bucket of a project. It is also the directory the
// project file lives in.
type Status string

const (
	StatusActive  Status = "active"
	StatusWaiting Status = "waiting"
	StatusSomeday Status = "someday"
	StatusArchive Status = "archive"
)

// Statuses returns every status in display order.
func Statuses() []Status {
	return []Status{StatusActive, StatusWaiting, StatusSomeday, StatusArchive}
}

// dirNames maps each status to its directory under the projects root.
var dirNames = map[Status]string{
	StatusActive:  "WTM Projects",
	StatusWaiting: "WTM Projects Waiting",
	StatusSomeday: "WTM Projects Someday",
	StatusArchive: "WTM Projects Archive",
}

// DirName returns the directory name for s.
func (s Status) DirName() string {
	return dirNames[s]
}

// Valid reports whether s is one of the four statuses.
func (s Status) Valid() bool {
	_, ok := dirNames[s]
	return ok
}

// ParseStatus parses a status name case-insensitively.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}
