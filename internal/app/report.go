package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"trackbot/internal/poller"
	"trackbot/internal/runtime/supervisor"
	"trackbot/internal/tracking"
	logx "trackbot/pkg/logx"
)

// cronLogger routes cron's internal messages into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Warn("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}

// newStatsReport schedules a periodic scheduler snapshot log line. It returns
// nil when spec is empty.
func newStatsReport(spec string, log logx.Logger, tr *tracking.Tracker, p *poller.Poller) (*cron.Cron, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	c := cron.New(
		cron.WithLogger(cronLogger{log: log}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{log: log})),
	)
	_, err := c.AddFunc(spec, func() {
		s := tr.Stats()
		pc := p.Counters()
		log.Info("tracking report",
			logx.Int("tracked", s.Entities),
			logx.Int("queued", s.Queued),
			logx.Bool("paused", s.Paused),
			logx.Duration("interval", s.Interval),
			logx.Duration("remaining", s.Remaining.Round(time.Second)),
			logx.Uint64("checks", pc.Checks),
			logx.Uint64("failures", pc.Failures),
			logx.Uint64("notified", pc.Notified),
			logx.Uint64("removed", pc.Removed),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("tracking.stats_report: %w", err)
	}
	return c, nil
}

// statsLines feeds /trackstats with loop counters and task health.
func statsLines(p *poller.Poller, sup func() *supervisor.Supervisor) []string {
	pc := p.Counters()
	lines := []string{
		fmt.Sprintf("checks: %d (failed %d)", pc.Checks, pc.Failures),
		fmt.Sprintf("notified: %d, removed: %d", pc.Notified, pc.Removed),
	}
	s := sup()
	if s == nil {
		return lines
	}
	for _, t := range s.Snapshot() {
		state := "down"
		if t.Active > 0 {
			state = "up"
		}
		line := fmt.Sprintf("task %s: %s, restarts %d", t.Name, state, t.Restarts)
		if t.LastErr != "" {
			line += ", last error: " + t.LastErr
		}
		lines = append(lines, line)
	}
	return lines
}
