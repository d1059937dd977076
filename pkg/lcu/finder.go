package lcu

import (
	"context"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// InstallDirFinder locates the client's install directory. Discovery
// is OS-specific, so each port supplies its own implementation without
// leaking into the rest of the package.
type InstallDirFinder interface {
	FindInstallDir(ctx context.Context) (string, bool)
}

// installDirFlag is the command-line argument the client process
// carries pointing at its install directory.
const installDirFlag = "--install-directory="

// clientProcessName identifies the client UX process in the process list.
const clientProcessName = "LeagueClientUx"

// wellKnownInstallDirs are checked when the process scan finds nothing.
var wellKnownInstallDirs = map[string][]string{
	"windows": {
		`C:\Riot Games\League of Legends`,
		`D:\Riot Games\League of Legends`,
	},
	"darwin": {
		"/Applications/League of Legends.app/Contents/LoL",
	},
}

// ProcessFinder scans the host process list for the client and falls
// back to a fixed list of well-known install paths.
type ProcessFinder struct{}

// FindInstallDir returns the install directory and whether one was
// found. Process-scan failures are expected and quiet — the client is
// simply not running yet.
func (ProcessFinder) FindInstallDir(ctx context.Context) (string, bool) {
	if dir, ok := scanProcessList(ctx); ok {
		return dir, true
	}
	for _, dir := range wellKnownInstallDirs[runtime.GOOS] {
		if _, err := ReadHandoff(dir); err == nil {
			return dir, true
		}
	}
	return "", false
}

func scanProcessList(ctx context.Context) (string, bool) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return "", false
	}
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil || !strings.Contains(name, clientProcessName) {
			continue
		}
		args, err := p.CmdlineSliceWithContext(ctx)
		if err != nil {
			continue
		}
		for _, arg := range args {
			if dir, ok := strings.CutPrefix(arg, installDirFlag); ok {
				return strings.Trim(dir, `"`), true
			}
		}
	}
	return "", false
}

// StaticFinder always reports a fixed directory. Used by tests and by
// installs where the user pinned the path in configuration.
type StaticFinder struct {
	Dir string
}

func (f StaticFinder) FindInstallDir(context.Context) (string, bool) {
	if f.Dir == "" {
		return "", false
	}
	return f.Dir, true
}
