// Package lcu discovers the locally running game client and maintains
// the authenticated control channels to it: a REST client and a
// WebSocket event-bus subscription. Credentials are owned here and
// exposed to other components only as request-capable handles.
package lcu

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// lockfileName is the handoff file the client writes on startup.
const lockfileName = "lockfile"

// Credentials are parsed from the client's handoff file.
type Credentials struct {
	Name      string
	ProcessID int
	Port      int
	Secret    string
	Scheme    string
}

// BaseURL returns the REST base for these credentials.
func (c Credentials) BaseURL() string {
	return fmt.Sprintf("%s://127.0.0.1:%d", c.Scheme, c.Port)
}

// WebSocketURL returns the event-bus endpoint for these credentials.
func (c Credentials) WebSocketURL() string {
	return fmt.Sprintf("wss://127.0.0.1:%d/", c.Port)
}

// ParseHandoff parses handoff file content of the form
// "name:pid:port:secret:scheme". Fewer than five fields is malformed;
// extra colons beyond the fifth field stay in the scheme.
func ParseHandoff(content string) (Credentials, error) {
	fields := strings.SplitN(strings.TrimSpace(content), ":", 5)
	if len(fields) < 5 {
		return Credentials{}, fmt.Errorf("handoff file has %d fields, want 5", len(fields))
	}
	pid, err := strconv.Atoi(fields[1])
	if err != nil {
		return Credentials{}, fmt.Errorf("handoff pid %q: %w", fields[1], err)
	}
	port, err := strconv.Atoi(fields[2])
	if err != nil {
		return Credentials{}, fmt.Errorf("handoff port %q: %w", fields[2], err)
	}
	if fields[3] == "" || fields[4] == "" {
		return Credentials{}, fmt.Errorf("handoff file missing secret or scheme")
	}
	return Credentials{
		Name:      fields[0],
		ProcessID: pid,
		Port:      port,
		Secret:    fields[3],
		Scheme:    fields[4],
	}, nil
}

// ReadHandoff locates and parses the handoff file under installDir.
// Any failure — missing file, short content — means "not found".
func ReadHandoff(installDir string) (Credentials, error) {
	raw, err := os.ReadFile(filepath.Join(installDir, lockfileName))
	if err != nil {
		return Credentials{}, err
	}
	return ParseHandoff(string(raw))
}
