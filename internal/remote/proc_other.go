//go:build !unix

package remote

import (
	"errors"
	"os"
	"os/exec"
)

var (
	termSignal os.Signal = os.Interrupt
	killSignal os.Signal = os.Kill
)

func setProcessGroup(*exec.Cmd) {}

// signalGroup はプロセス本体にのみシグナルを送る
func signalGroup(cmd *exec.Cmd, sig os.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
