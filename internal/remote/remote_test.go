package remote

import (
	"context"
	"sync"
)

type call struct {
	name string
	args []string
}

// command はssh経由で実行されるコマンド文字列（最後の引数）を返す
func (c call) command() string {
	if len(c.args) == 0 {
		return ""
	}
	return c.args[len(c.args)-1]
}

// fakeRunner はテスト用のRunner
type fakeRunner struct {
	mu       sync.Mutex
	calls    []call
	started  []call
	respond  func(c call) ([]byte, error)
	startErr error
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	c := call{name: name, args: args}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	respond := f.respond
	f.mu.Unlock()

	if respond == nil {
		return nil, nil
	}
	return respond(c)
}

func (f *fakeRunner) Start(name string, args ...string) (*Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = append(f.started, call{name: name, args: args})
	return &Process{
		Command: commandLine(name, args),
		PID:     4242,
		done:    make(chan struct{}),
	}, nil
}

func (f *fakeRunner) runCalls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeRunner) startCalls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.started...)
}

// commands はRunで実行されたコマンド文字列の一覧
func (f *fakeRunner) commands() []string {
	var cmds []string
	for _, c := range f.runCalls() {
		cmds = append(cmds, c.command())
	}
	return cmds
}

func testTarget() Target {
	return Target{
		Host:    "192.168.1.2",
		User:    "root",
		Dir:     "/flash",
		SSHPath: "ssh",
		SCPPath: "scp",
	}
}
