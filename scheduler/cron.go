package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/signalmesh/core/execmodel"
)

// cronParser interprets the 5-field expressions spec.md §3 allows for
// schedule_type='cron' (minute hour dom month dow, no seconds field),
// promoting the teacher's existing indirect dependency on
// github.com/robfig/cron to direct use.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ComputeNext implements spec.md §4.4's "next_run_at = compute_next(schedule_type,
// schedule_value, now)" for both schedule types. Cron expressions are
// interpreted in UTC (Open Question (ii), decided in DESIGN.md) regardless
// of the host's local timezone.
func ComputeNext(scheduleType execmodel.ScheduleType, scheduleValue string, nowMs int64) (int64, error) {
	now := time.UnixMilli(nowMs).UTC()
	switch scheduleType {
	case execmodel.ScheduleInterval:
		d, err := time.ParseDuration(scheduleValue)
		if err != nil {
			return 0, fmt.Errorf("scheduler: invalid interval schedule_value %q: %w", scheduleValue, err)
		}
		if d <= 0 {
			return 0, fmt.Errorf("scheduler: interval schedule_value %q must be positive", scheduleValue)
		}
		return now.Add(d).UnixMilli(), nil

	case execmodel.ScheduleCron:
		sched, err := cronParser.Parse(scheduleValue)
		if err != nil {
			return 0, fmt.Errorf("scheduler: invalid cron schedule_value %q: %w", scheduleValue, err)
		}
		return sched.Next(now).UnixMilli(), nil

	default:
		return 0, fmt.Errorf("scheduler: unknown schedule_type %q", scheduleType)
	}
}
