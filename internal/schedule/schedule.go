// Package schedule parses 5-field cron expressions and evaluates them at minute granularity.
package schedule

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/JakeFAU/netwatch/internal/netwatch"
)

// parser accepts exactly minute, hour, day-of-month, month and day-of-week.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Parse compiles a 5-field cron expression.
func Parse(expr string) (cron.Schedule, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, netwatch.Validationf("empty schedule expression")
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, netwatch.Validationf("invalid schedule expression %q (%v)", expr, err)
	}
	return sched, nil
}

// Validate reports whether expr is a valid 5-field cron expression.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

// Due reports whether expr fires at the minute containing t, in t's location.
func Due(expr string, t time.Time) (bool, error) {
	sched, err := Parse(expr)
	if err != nil {
		return false, err
	}
	return Matches(sched, t), nil
}

// Matches reports whether sched fires at the minute containing t.
func Matches(sched cron.Schedule, t time.Time) bool {
	minute := t.Truncate(time.Minute)
	return sched.Next(minute.Add(-time.Second)).Equal(minute)
}
