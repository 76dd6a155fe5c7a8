package cronrunner

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronExpr wraps a parsed 5-field cron schedule, grounded on the teacher's
// internal/scheduler/cron.go CronExpr (same next/matches shape, same
// robfig/cron/v3 parser configuration).
type cronExpr struct {
	raw      string
	schedule cron.Schedule
}

// parseCron parses a standard 5-field (minute-based) cron expression.
func parseCron(expr string) (*cronExpr, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("cronrunner: parse cron %q: %w", expr, err)
	}
	return &cronExpr{raw: expr, schedule: schedule}, nil
}

// next returns the next activation time after t.
func (c *cronExpr) next(t time.Time) time.Time {
	return c.schedule.Next(t)
}

// matches reports whether t falls within the same minute as a scheduled
// activation.
func (c *cronExpr) matches(t time.Time) bool {
	truncated := t.Truncate(time.Minute)
	next := c.schedule.Next(truncated.Add(-time.Minute))
	return next.Equal(truncated)
}
