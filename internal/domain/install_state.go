package domain

import "fmt"

// InstallState is the engine state machine position
type InstallState string

const (
	StateNone       InstallState = "none"
	StateQueue      InstallState = "queue"
	StateDownload   InstallState = "download"
	StateVerify     InstallState = "verify"
	StateDecompress InstallState = "decompress"
	StateFinish     InstallState = "finish"
	StateError      InstallState = "error"
)

// IsTerminal reports whether no further transitions can happen
func (s InstallState) IsTerminal() bool {
	return s == StateFinish || s == StateError
}

// IsWorking reports whether workers may be draining a queue in this state
func (s InstallState) IsWorking() bool {
	return s == StateDownload || s == StateVerify || s == StateDecompress
}

var stateTransitions = map[InstallState][]InstallState{
	StateNone:       {StateQueue, StateError},
	StateQueue:      {StateDownload, StateVerify, StateError},
	StateDownload:   {StateVerify, StateDecompress, StateFinish, StateError},
	StateVerify:     {StateDownload, StateDecompress, StateFinish, StateError},
	StateDecompress: {StateFinish, StateError},
}

// CanTransition reports whether s may move to next
func (s InstallState) CanTransition(next InstallState) bool {
	for _, allowed := range stateTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// InstallTask is the kind of work an engine performs, fixed for its lifetime
type InstallTask string

const (
	TaskInstall     InstallTask = "install"
	TaskUpdate      InstallTask = "update"
	TaskRepair      InstallTask = "repair"
	TaskHardLink    InstallTask = "hardlink"
	TaskPreDownload InstallTask = "predownload"
)

// ParseInstallTask converts a string into an InstallTask
func ParseInstallTask(s string) (InstallTask, error) {
	switch t := InstallTask(s); t {
	case TaskInstall, TaskUpdate, TaskRepair, TaskHardLink, TaskPreDownload:
		return t, nil
	default:
		return "", fmt.Errorf("invalid install task: %q", s)
	}
}

// InitialState returns the first working state for the task. Tasks that
// fetch packages start downloading, tasks that check existing files start
// verifying.
func (t InstallTask) InitialState() InstallState {
	switch t {
	case TaskRepair, TaskHardLink:
		return StateVerify
	default:
		return StateDownload
	}
}

// WritesVersion reports whether a finished task leaves the install at the
// resource version
func (t InstallTask) WritesVersion() bool {
	return t == TaskInstall || t == TaskUpdate
}
