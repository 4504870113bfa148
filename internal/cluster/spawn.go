package cluster

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	logx "rewardbot/pkg/logx"
)

// WorkerProc is one live worker the primary talks to. Send and Recv frame
// protocol messages; Close releases the worker and reaps it.
type WorkerProc interface {
	Send(Message) error
	Recv() (Message, error)
	Close() error
}

// Spawner creates worker processes. The exec implementation re-executes the
// current binary; tests substitute an in-memory one.
type Spawner interface {
	Spawn(ctx context.Context, slot int) (WorkerProc, error)
}

// ExecSpawner starts workers by re-executing the running binary with the
// given arguments (the worker subcommand plus config flags). The worker's
// stderr is inherited so its logs interleave with the primary's.
type ExecSpawner struct {
	Args []string
	Log  logx.Logger
}

func (s *ExecSpawner) Spawn(ctx context.Context, slot int) (WorkerProc, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("cluster: resolve executable: %w", err)
	}

	cmd := exec.CommandContext(ctx, exe, s.Args...)
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), fmt.Sprintf("REWARDBOT_WORKER_SLOT=%d", slot))

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("cluster: start worker: %w", err)
	}
	s.Log.Debug("worker spawned",
		logx.Int("slot", slot),
		logx.Int("pid", cmd.Process.Pid))

	return &execProc{
		cmd:    cmd,
		stdin:  stdin,
		stream: NewStream(stdout, stdin),
	}, nil
}

type execProc struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stream *Stream
}

func (p *execProc) Send(m Message) error   { return p.stream.Send(m) }
func (p *execProc) Recv() (Message, error) { return p.stream.Recv() }

func (p *execProc) Close() error {
	_ = p.stdin.Close()
	return p.cmd.Wait()
}
