package cluster

import (
	"context"
	"fmt"
	"io"

	"rewardbot/internal/runner"
	logx "rewardbot/pkg/logx"
)

// RunWorker is the worker-side half of the protocol: read one chunk from in,
// run every account in list order, write one summary batch to out, exit.
// A context cancellation mid-chunk still reports the summaries gathered so
// far so the primary never loses finished work.
func RunWorker(ctx context.Context, r *runner.Runner, in io.Reader, out io.Writer, log logx.Logger) error {
	if log.IsZero() {
		log = logx.Nop()
	}
	st := NewStream(in, out)

	msg, err := st.Recv()
	if err != nil {
		return fmt.Errorf("cluster worker: read chunk: %w", err)
	}
	if msg.Kind != KindChunk {
		return fmt.Errorf("cluster worker: expected chunk, got %q", msg.Kind)
	}
	log.Info("worker chunk received", logx.Int("accounts", len(msg.Chunk)))

	sums := make([]runner.Summary, 0, len(msg.Chunk))
	for _, a := range msg.Chunk {
		if ctx.Err() != nil {
			log.Warn("worker interrupted",
				logx.Int("done", len(sums)),
				logx.Int("total", len(msg.Chunk)))
			break
		}
		sums = append(sums, r.Run(ctx, a))
	}

	if err := st.Send(NewSummary(sums)); err != nil {
		return fmt.Errorf("cluster worker: write summaries: %w", err)
	}
	return nil
}
