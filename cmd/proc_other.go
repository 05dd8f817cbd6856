//go:build !unix

package cmd

import (
	"os"
	"os/exec"
	"os/signal"
)

func setProcessGroup(cmd *exec.Cmd) {}

// forwardSignals kills the child on interrupt; there are no process groups to signal.
func forwardSignals(cmd *exec.Cmd) func() {
	sigs := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sigs, os.Interrupt)
	go func() {
		select {
		case <-sigs:
			_ = cmd.Process.Kill()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

func exitStatus(state *os.ProcessState) int {
	if state == nil || state.ExitCode() < 0 {
		return 1
	}
	return state.ExitCode()
}
