//go:build !unix

package launcher

import (
	"errors"
	"os"
	"os/exec"
)

type signal int

const (
	sigTerm signal = iota
	sigKill
)

var errProcessGone = errors.New("process gone")

func detach(cmd *exec.Cmd) {}

// signalGroup has no process groups to work with here; both signals kill.
func signalGroup(pid int, _ signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return errProcessGone
	}
	if err := p.Kill(); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return errProcessGone
		}
		return err
	}
	return nil
}

func processAlive(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}

func cmdlineContains(int, string) bool { return false }

func listCmdlines() map[int][]string { return nil }
