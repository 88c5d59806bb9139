package session

import (
	"fmt"
	"os/exec"
	"strings"
)

// WhoProvider scans the login table for a user attached to the primary
// display. It shells out to who(1), which reads utmp for us.
type WhoProvider struct {
	display string
	run     func() ([]byte, error)
}

func NewWhoProvider() *WhoProvider {
	return &WhoProvider{
		display: ":0",
		run: func() ([]byte, error) {
			return exec.Command("who").Output()
		},
	}
}

func (*WhoProvider) Name() string { return "who" }

func (p *WhoProvider) ActiveUser() (string, error) {
	out, err := p.run()
	if err != nil {
		return "", fmt.Errorf("run who: %w", err)
	}
	return parseWho(string(out), p.display), nil
}

// parseWho finds the first login attached to the given display. The
// display shows up either as the line's host field, "(:0)", or as the
// tty field on systems where X registers the display directly.
func parseWho(out, display string) string {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		for _, f := range fields[1:] {
			if f == display || f == "("+display+")" {
				return fields[0]
			}
		}
	}
	return ""
}
