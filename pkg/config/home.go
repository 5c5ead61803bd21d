package config

import (
	"os"
	"path/filepath"
	"sync"
)

// HomeEnv overrides the home directory.
const HomeEnv = "ELEMENT_SCHEDULER_HOME"

var (
	homeOnce sync.Once
	homeDir  string
)

// homeCandidates are tried in order; the first non-empty answer wins.
var homeCandidates = []func() string{
	func() string { return os.Getenv(HomeEnv) },
	installRoot,
	func() string {
		cwd, _ := os.Getwd()
		return cwd
	},
}

// GetHome returns the directory holding config.yaml, logs/ and dumps/:
// $ELEMENT_SCHEDULER_HOME, else the install root when the binary lives in
// <root>/bin, else the working directory.
func GetHome() string {
	homeOnce.Do(func() {
		homeDir = "."
		for _, candidate := range homeCandidates {
			if dir := candidate(); dir != "" {
				homeDir = dir
				return
			}
		}
	})
	return homeDir
}

// GetLogDir returns <home>/logs.
func GetLogDir() string {
	return filepath.Join(GetHome(), "logs")
}

// GetDumpDir returns <home>/dumps, where snapshots are written when no
// explicit output path is given.
func GetDumpDir() string {
	return filepath.Join(GetHome(), "dumps")
}

func installRoot() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	bin := filepath.Dir(exe)
	if filepath.Base(bin) != "bin" {
		return ""
	}
	return filepath.Dir(bin)
}

// ResetHome forgets the resolved home directory. Tests use it after
// changing HomeEnv.
func ResetHome() {
	homeOnce = sync.Once{}
	homeDir = ""
}
