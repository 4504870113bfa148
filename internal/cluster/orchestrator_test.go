package cluster

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"sync"
	"testing"

	"rewardbot/internal/accounts"
	"rewardbot/internal/flows"
	"rewardbot/internal/jobstate"
	"rewardbot/internal/runner"
	logx "rewardbot/pkg/logx"
)

// fakeSpawner hands out in-memory workers. Slots crash on Recv while their
// crash budget lasts, then answer each chunk account with runFn.
type fakeSpawner struct {
	mu      sync.Mutex
	crashes map[int]int
	chunks  map[int][][]accounts.Account
	runFn   func(a accounts.Account) runner.Summary
}

func newFakeSpawner(runFn func(a accounts.Account) runner.Summary) *fakeSpawner {
	if runFn == nil {
		runFn = func(a accounts.Account) runner.Summary {
			return runner.Summary{
				Account:          a.ID(),
				DesktopCollected: 10,
				MobileCollected:  5,
				InitialTotal:     100,
				FinalTotal:       115,
			}
		}
	}
	return &fakeSpawner{
		crashes: map[int]int{},
		chunks:  map[int][][]accounts.Account{},
		runFn:   runFn,
	}
}

func (f *fakeSpawner) Spawn(ctx context.Context, slot int) (WorkerProc, error) {
	return &fakeProc{sp: f, slot: slot}, nil
}

func (f *fakeSpawner) chunksSeen(slot int) [][]accounts.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chunks[slot]
}

type fakeProc struct {
	sp    *fakeSpawner
	slot  int
	chunk []accounts.Account
}

func (p *fakeProc) Send(m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	p.sp.mu.Lock()
	defer p.sp.mu.Unlock()
	p.sp.chunks[p.slot] = append(p.sp.chunks[p.slot], m.Chunk)
	p.chunk = m.Chunk
	return nil
}

func (p *fakeProc) Recv() (Message, error) {
	p.sp.mu.Lock()
	if p.sp.crashes[p.slot] > 0 {
		p.sp.crashes[p.slot]--
		p.sp.mu.Unlock()
		return Message{}, io.ErrUnexpectedEOF
	}
	runFn := p.sp.runFn
	p.sp.mu.Unlock()

	sums := make([]runner.Summary, 0, len(p.chunk))
	for _, a := range p.chunk {
		sums = append(sums, runFn(a))
	}
	return NewSummary(sums), nil
}

func (p *fakeProc) Close() error { return nil }

func testAccounts(n int) []accounts.Account {
	list := make([]accounts.Account, 0, n)
	for i := 0; i < n; i++ {
		list = append(list, accounts.Account{
			Email:    string(rune('a'+i)) + "@example.com",
			Password: "pw",
		})
	}
	return list
}

func okRunner(t *testing.T) *runner.Runner {
	t.Helper()
	flow := func(collected int) flows.Func {
		return func(ctx context.Context, a accounts.Account) (flows.Result, error) {
			return flows.Result{InitialPoints: 100, CollectedPoints: collected}, nil
		}
	}
	return runner.New(flow(10), flow(5), nil, runner.Config{}, logx.Nop())
}

func TestFanOutNoLossNoDuplicates(t *testing.T) {
	t.Parallel()
	list := testAccounts(7)
	sp := newFakeSpawner(nil)
	o := New(okRunner(t), sp, nil, Options{Clusters: 3}, logx.Nop())

	rep := o.Run(context.Background(), NewRunContext(), list)

	if rep.Processed != 7 || rep.Skipped != 0 {
		t.Fatalf("processed/skipped = %d/%d, want 7/0", rep.Processed, rep.Skipped)
	}
	if rep.PointsSum != 7*15 {
		t.Fatalf("points = %d, want %d", rep.PointsSum, 7*15)
	}
	seen := map[string]int{}
	for _, s := range rep.Summaries {
		seen[s.Account]++
	}
	for _, a := range list {
		if seen[a.ID()] != 1 {
			t.Fatalf("account %s appears %d times", a.ID(), seen[a.ID()])
		}
	}
	if rep.Incomplete || rep.Standby {
		t.Fatalf("unexpected incomplete=%v standby=%v", rep.Incomplete, rep.Standby)
	}
}

func TestClustersCappedAtAccountCount(t *testing.T) {
	t.Parallel()
	list := testAccounts(2)
	sp := newFakeSpawner(nil)
	o := New(okRunner(t), sp, nil, Options{Clusters: 8}, logx.Nop())

	rep := o.Run(context.Background(), NewRunContext(), list)

	if rep.Processed != 2 {
		t.Fatalf("processed = %d, want 2", rep.Processed)
	}
	total := 0
	for slot := 0; slot < 8; slot++ {
		for _, c := range sp.chunksSeen(slot) {
			if len(c) == 0 {
				t.Fatalf("slot %d received an empty chunk", slot)
			}
			total += len(c)
		}
	}
	if total != 2 {
		t.Fatalf("dispatched %d accounts, want 2", total)
	}
}

func TestRespawnReusesOriginalChunk(t *testing.T) {
	t.Parallel()
	list := testAccounts(5)
	sp := newFakeSpawner(nil)
	sp.crashes[0] = 1
	rc := NewRunContext()
	o := New(okRunner(t), sp, nil, Options{
		Clusters:             2,
		RestartFailedWorkers: true,
		MaxWorkerRespawns:    2,
	}, logx.Nop())

	rep := o.Run(context.Background(), rc, list)

	attempts := sp.chunksSeen(0)
	if len(attempts) != 2 {
		t.Fatalf("slot 0 spawned %d times, want 2", len(attempts))
	}
	if !reflect.DeepEqual(attempts[0], attempts[1]) {
		t.Fatalf("respawn chunk differs:\n%+v\n%+v", attempts[0], attempts[1])
	}
	if rep.Processed != 5 || rep.Incomplete {
		t.Fatalf("processed=%d incomplete=%v, want 5/false", rep.Processed, rep.Incomplete)
	}
	if rc.Respawns() != 1 {
		t.Fatalf("respawns = %d, want 1", rc.Respawns())
	}
}

func TestRespawnBudgetExhausted(t *testing.T) {
	t.Parallel()
	list := testAccounts(5)
	sp := newFakeSpawner(nil)
	sp.crashes[0] = 99
	o := New(okRunner(t), sp, nil, Options{
		Clusters:             2,
		RestartFailedWorkers: true,
		MaxWorkerRespawns:    1,
	}, logx.Nop())

	rep := o.Run(context.Background(), NewRunContext(), list)

	if len(sp.chunksSeen(0)) != 2 {
		t.Fatalf("slot 0 spawned %d times, want 2 (initial + 1 respawn)", len(sp.chunksSeen(0)))
	}
	if !rep.Incomplete {
		t.Fatal("report not marked incomplete after a lost chunk")
	}
	// Lost accounts still surface in the report, flagged with a worker error.
	lost := 0
	for _, s := range rep.Summaries {
		for _, e := range s.Errors {
			if strings.HasPrefix(e, "worker:") {
				lost++
			}
		}
	}
	if lost != 3 {
		t.Fatalf("lost accounts = %d, want 3", lost)
	}
	if len(rep.Summaries) != 5 {
		t.Fatalf("summaries = %d, want 5", len(rep.Summaries))
	}
}

func TestSkipsCompletedAccounts(t *testing.T) {
	t.Parallel()
	list := testAccounts(3)
	states := jobstate.New(jobstate.Options{Dir: t.TempDir(), Enabled: true, PassesPerRun: 1}, logx.Nop())
	rc := NewRunContext()
	day := jobstate.DayKey(rc.StartedAt)
	states.MarkComplete(list[0].ID(), day, jobstate.Record{RunID: "prev", Points: 50})

	o := New(okRunner(t), nil, states, Options{Clusters: 1}, logx.Nop())
	rep := o.Run(context.Background(), rc, list)

	if rep.Skipped != 1 || rep.Processed != 2 {
		t.Fatalf("skipped/processed = %d/%d, want 1/2", rep.Skipped, rep.Processed)
	}
	if !rep.Summaries[0].Skipped || rep.Summaries[0].Account != list[0].ID() {
		t.Fatalf("skip summary mismatch: %+v", rep.Summaries[0])
	}
	// The processed accounts are now marked for today.
	for _, a := range list[1:] {
		rec, ok := states.Get(a.ID(), day)
		if !ok {
			t.Fatalf("%s not marked complete", a.ID())
		}
		if rec.RunID != rc.RunID || rec.Points != 15 {
			t.Fatalf("record mismatch for %s: %+v", a.ID(), rec)
		}
	}
}

func TestMultiPassBypassesSkipAndOverwrites(t *testing.T) {
	t.Parallel()
	list := testAccounts(2)
	states := jobstate.New(jobstate.Options{Dir: t.TempDir(), Enabled: true, PassesPerRun: 2}, logx.Nop())
	rc := NewRunContext()
	day := jobstate.DayKey(rc.StartedAt)
	states.MarkComplete(list[0].ID(), day, jobstate.Record{RunID: "prev", Points: 50})

	o := New(okRunner(t), nil, states, Options{Clusters: 1, PassesPerRun: 2}, logx.Nop())
	rep := o.Run(context.Background(), rc, list)

	if rep.Skipped != 0 || rep.Processed != 2 {
		t.Fatalf("skipped/processed = %d/%d, want 0/2", rep.Skipped, rep.Processed)
	}
	// Both passes merged into one summary per account.
	if rep.PointsSum != 2*15*2 {
		t.Fatalf("points = %d, want %d", rep.PointsSum, 2*15*2)
	}
	rec, ok := states.Get(list[0].ID(), day)
	if !ok {
		t.Fatal("record missing after multi-pass run")
	}
	if rec.RunID != rc.RunID || rec.Points != 15 {
		t.Fatalf("record not overwritten by last pass: %+v", rec)
	}
}

func TestMergeSummaryKeepsFirstObservedInitial(t *testing.T) {
	t.Parallel()
	lost := runner.Summary{Account: "a@example.com", Errors: []string{"worker: chunk lost"}}
	first := runner.Summary{
		Account: "a@example.com", InitialTotal: 100, FinalTotal: 115,
		DesktopCollected: 10, MobileCollected: 5,
	}

	got := mergeSummary(lost, first)
	if got.InitialTotal != 100 {
		t.Fatalf("InitialTotal = %d, want 100 (lost pass observed no balance)", got.InitialTotal)
	}
	if got.Collected() != 15 || len(got.Errors) != 1 {
		t.Fatalf("merge mismatch: %+v", got)
	}

	later := runner.Summary{
		Account: "a@example.com", InitialTotal: 115, FinalTotal: 130,
		DesktopCollected: 10, MobileCollected: 5,
	}
	got = mergeSummary(got, later)
	if got.InitialTotal != 100 {
		t.Fatalf("InitialTotal = %d, want the first real reading 100", got.InitialTotal)
	}
}

func TestLostPassThenSuccessRestoresInitialTotal(t *testing.T) {
	t.Parallel()
	list := testAccounts(4)
	sp := newFakeSpawner(nil)
	sp.crashes[0] = 2 // first pass: initial attempt and the sole respawn both lost
	o := New(okRunner(t), sp, nil, Options{
		Clusters:             2,
		PassesPerRun:         2,
		RestartFailedWorkers: true,
		MaxWorkerRespawns:    1,
	}, logx.Nop())

	rep := o.Run(context.Background(), NewRunContext(), list)

	if len(rep.Summaries) != 4 {
		t.Fatalf("summaries = %d, want 4", len(rep.Summaries))
	}
	for _, s := range rep.Summaries {
		if s.InitialTotal != 100 {
			t.Fatalf("%s InitialTotal = %d, want 100 after a successful pass", s.Account, s.InitialTotal)
		}
	}
}

func TestBanEntersStandbyAndHaltsDispatch(t *testing.T) {
	t.Parallel()
	list := testAccounts(3)
	banned := list[0].ID()
	desktop := flows.Func(func(ctx context.Context, a accounts.Account) (flows.Result, error) {
		if a.ID() == banned {
			return flows.Result{}, errors.New("your account has been suspended")
		}
		return flows.Result{InitialPoints: 100, CollectedPoints: 10}, nil
	})
	mobile := flows.Func(func(ctx context.Context, a accounts.Account) (flows.Result, error) {
		return flows.Result{InitialPoints: 100, CollectedPoints: 5}, nil
	})
	r := runner.New(desktop, mobile, nil, runner.Config{}, logx.Nop())

	rc := NewRunContext()
	o := New(r, nil, nil, Options{Clusters: 1, StopOnBan: true}, logx.Nop())
	rep := o.Run(context.Background(), rc, list)

	if !rc.Standby() || !rep.Standby {
		t.Fatal("run did not enter standby after ban")
	}
	if rep.Processed != 1 || rep.Banned != 1 {
		t.Fatalf("processed/banned = %d/%d, want 1/1", rep.Processed, rep.Banned)
	}
	if !rep.Incomplete {
		t.Fatal("halted run not marked incomplete")
	}
}

func TestBanWithoutStopOnBanContinues(t *testing.T) {
	t.Parallel()
	list := testAccounts(3)
	banned := list[0].ID()
	desktop := flows.Func(func(ctx context.Context, a accounts.Account) (flows.Result, error) {
		if a.ID() == banned {
			return flows.Result{}, errors.New("your account has been suspended")
		}
		return flows.Result{InitialPoints: 100, CollectedPoints: 10}, nil
	})
	mobile := flows.Func(func(ctx context.Context, a accounts.Account) (flows.Result, error) {
		return flows.Result{InitialPoints: 100, CollectedPoints: 5}, nil
	})
	r := runner.New(desktop, mobile, nil, runner.Config{}, logx.Nop())

	o := New(r, nil, nil, Options{Clusters: 1, StopOnBan: false}, logx.Nop())
	rep := o.Run(context.Background(), NewRunContext(), list)

	if rep.Standby || rep.Incomplete {
		t.Fatalf("standby=%v incomplete=%v, want false/false", rep.Standby, rep.Incomplete)
	}
	if rep.Processed != 3 || rep.Banned != 1 {
		t.Fatalf("processed/banned = %d/%d, want 3/1", rep.Processed, rep.Banned)
	}
}
