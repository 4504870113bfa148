package flows

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"rewardbot/internal/accounts"
	logx "rewardbot/pkg/logx"
)

// ExecConfig describes an external flow driver command.
type ExecConfig struct {
	// Command is the argv of the driver. The surface name is appended as
	// "--surface DESKTOP|MOBILE".
	Command []string

	// Timeout bounds one driver invocation. Zero means no bound beyond ctx.
	Timeout time.Duration
}

// Exec runs the browser automation driver as a child process. The account
// record is written to the driver's stdin as JSON (credentials never appear
// on the command line); the driver prints a single Result JSON document on
// stdout and signals flow failure with a non-zero exit plus a message on
// stderr's last line.
type Exec struct {
	surface Surface
	cfg     ExecConfig
	log     logx.Logger
}

func NewExec(surface Surface, cfg ExecConfig, log logx.Logger) (*Exec, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("flows: %s driver command is empty", surface)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Exec{surface: surface, cfg: cfg, log: log}, nil
}

func (e *Exec) Run(ctx context.Context, account accounts.Account) (Result, error) {
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	payload, err := json.Marshal(account)
	if err != nil {
		return Result{}, fmt.Errorf("flows: encode account: %w", err)
	}

	argv := append(append([]string(nil), e.cfg.Command...), "--surface", string(e.surface))
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Env = os.Environ()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	e.log.Debug("flow driver finished",
		logx.String("platform", string(e.surface)),
		logx.String("account", account.ID()),
		logx.Duration("dur", time.Since(start)),
		logx.Err(runErr))

	if runErr != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if msg := lastLine(stderr.String()); msg != "" {
			return Result{}, fmt.Errorf("flows: %s driver: %s", e.surface, msg)
		}
		return Result{}, fmt.Errorf("flows: %s driver: %w", e.surface, runErr)
	}

	var out struct {
		InitialPoints   int `json:"initial_points"`
		CollectedPoints int `json:"collected_points"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &out); err != nil {
		return Result{}, fmt.Errorf("flows: %s driver output: %w", e.surface, err)
	}
	return Result{InitialPoints: out.InitialPoints, CollectedPoints: out.CollectedPoints}, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
