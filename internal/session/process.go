package session

import (
	"fmt"
	"os/user"
)

// ProcessProvider falls back to the identity of the process running the
// handler itself. Last strategy in the cascade; it always yields a
// user unless the passwd database is unreadable.
type ProcessProvider struct{}

func (ProcessProvider) Name() string { return "process" }

func (ProcessProvider) ActiveUser() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("current user: %w", err)
	}
	return u.Username, nil
}
