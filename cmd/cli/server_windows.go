//go:build windows

package main

import (
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/windows"
)

const serverBinary = "gameinstall-server.exe"

func serverSearchPaths() []string {
	var paths []string
	if dir := os.Getenv("LOCALAPPDATA"); dir != "" {
		paths = append(paths, filepath.Join(dir, "gameinstall", serverBinary))
	}
	if dir := os.Getenv("ProgramFiles"); dir != "" {
		paths = append(paths, filepath.Join(dir, "gameinstall", serverBinary))
	}
	return paths
}

// setSysProcAttr starts the server without a console in a new process group
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP | windows.DETACHED_PROCESS,
		HideWindow:    true,
	}
}
