//go:build unix

package cmd

import (
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// setProcessGroup puts the child in its own process group so signals can reach its
// whole tree.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// forwardSignals relays SIGINT, SIGTERM and SIGHUP to the child's process group until
// the returned func is called.
func forwardSignals(cmd *exec.Cmd) func() {
	sigs := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sigs, unix.SIGINT, unix.SIGTERM, unix.SIGHUP)
	go func() {
		for {
			select {
			case sig := <-sigs:
				s, ok := sig.(syscall.Signal)
				if !ok {
					continue
				}
				logrus.Debugf("forwarding %v to process group %d", s, cmd.Process.Pid)
				if err := unix.Kill(-cmd.Process.Pid, s); err != nil {
					logrus.Warnf("forwarding %v: %v", s, err)
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

// exitStatus maps the child's state to a shell-style status: the exit code, or 128
// plus the signal number when the child was killed.
func exitStatus(state *os.ProcessState) int {
	if state == nil {
		return 1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}
