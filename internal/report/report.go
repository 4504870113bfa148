// Package report folds per-account summaries into a run report and hands it
// to the notification pipeline.
package report

import (
	"fmt"
	"strings"
	"time"

	"rewardbot/internal/notify"
	"rewardbot/internal/runner"
	logx "rewardbot/pkg/logx"
)

// RunReport aggregates one run.
type RunReport struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Accounts   int           `json:"accounts"`
	Processed  int           `json:"processed"`
	Skipped    int           `json:"skipped"`
	Banned     int           `json:"banned"`
	Errors     int           `json:"errors"`
	PointsSum  int           `json:"points_sum"`
	Standby    bool          `json:"standby,omitempty"`
	Incomplete bool          `json:"incomplete,omitempty"`

	Summaries []runner.Summary `json:"summaries"`
}

// Aggregate computes run totals from the per-account summaries.
func Aggregate(runID string, startedAt time.Time, summaries []runner.Summary) RunReport {
	r := RunReport{
		RunID:     runID,
		StartedAt: startedAt,
		Duration:  time.Since(startedAt),
		Accounts:  len(summaries),
		Summaries: summaries,
	}
	for _, s := range summaries {
		if s.Skipped {
			r.Skipped++
			continue
		}
		r.Processed++
		r.PointsSum += s.Collected()
		r.Errors += len(s.Errors)
		if s.Banned {
			r.Banned++
		}
	}
	return r
}

// Severity picks the notification severity for the report.
func (r RunReport) Severity() notify.Severity {
	switch {
	case r.Banned > 0 || r.Standby:
		return notify.SeverityError
	case r.Errors > 0 || r.Incomplete:
		return notify.SeverityWarn
	default:
		return notify.SeverityInfo
	}
}

// Title renders the one-line headline.
func (r RunReport) Title() string {
	return fmt.Sprintf("Run %s: %d points across %d accounts", shortID(r.RunID), r.PointsSum, r.Processed)
}

// Text renders the plain-text report body.
func (r RunReport) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "accounts: %d (processed %d, skipped %d)\n", r.Accounts, r.Processed, r.Skipped)
	fmt.Fprintf(&b, "points: %d\n", r.PointsSum)
	fmt.Fprintf(&b, "errors: %d\n", r.Errors)
	fmt.Fprintf(&b, "banned: %d\n", r.Banned)
	fmt.Fprintf(&b, "duration: %s", r.Duration.Round(time.Second))
	if r.Standby {
		b.WriteString("\nrun halted: global standby (ban or security challenge)")
	}
	for _, s := range r.Summaries {
		if s.Banned {
			fmt.Fprintf(&b, "\n%s BANNED (%s)", s.Account, s.BanReason)
		}
	}
	return b.String()
}

// Fields renders the embed-style key/value pairs for webhook delivery.
func (r RunReport) Fields() []notify.Field {
	fields := []notify.Field{
		{Name: "Accounts", Value: fmt.Sprintf("%d processed / %d skipped", r.Processed, r.Skipped), Inline: true},
		{Name: "Points", Value: fmt.Sprintf("%d", r.PointsSum), Inline: true},
		{Name: "Duration", Value: r.Duration.Round(time.Second).String(), Inline: true},
	}
	if r.Errors > 0 {
		fields = append(fields, notify.Field{Name: "Errors", Value: fmt.Sprintf("%d", r.Errors), Inline: true})
	}
	if r.Banned > 0 {
		fields = append(fields, notify.Field{Name: "Banned", Value: fmt.Sprintf("%d", r.Banned), Inline: true})
	}
	return fields
}

// Reporter dispatches run reports to the notifier. Delivery failure must
// never affect the run's exit code, so Dispatch returns nothing.
type Reporter struct {
	notifier *notify.Service
	log      logx.Logger
}

func NewReporter(notifier *notify.Service, log logx.Logger) *Reporter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reporter{notifier: notifier, log: log}
}

// Dispatch enqueues the run summary notification (fire and forget).
func (r *Reporter) Dispatch(rep RunReport) {
	if r.notifier == nil {
		return
	}
	err := r.notifier.Enqueue(notify.Notification{
		Title:    rep.Title(),
		Body:     rep.Text(),
		Fields:   rep.Fields(),
		Severity: rep.Severity(),
	})
	if err != nil {
		r.log.Warn("run summary notification dropped", logx.Err(err))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
