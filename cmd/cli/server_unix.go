//go:build !windows

package main

import (
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

const serverBinary = "gameinstall-server"

// serverSearchPaths lists install locations checked after PATH
func serverSearchPaths() []string {
	home, _ := os.UserHomeDir()
	return []string{
		"/usr/local/bin/" + serverBinary,
		"/usr/bin/" + serverBinary,
		filepath.Join(home, "go", "bin", serverBinary),
		filepath.Join(home, ".local", "bin", serverBinary),
	}
}

// setSysProcAttr runs the server in its own session so it outlives the
// terminal
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
}
