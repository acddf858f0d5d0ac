package execmodel

// ScheduleType names how a producer's cadence is specified.
type ScheduleType string

const (
	ScheduleInterval ScheduleType = "interval"
	ScheduleCron     ScheduleType = "cron"
)

// ProducerSchedule is the per-(workflow, producer_name) scheduling record.
// ScheduleValue is a Go duration string ("5m") for ScheduleInterval, or a
// 5-field cron expression for ScheduleCron (interpreted in UTC — Open
// Question (ii), see DESIGN.md).
type ProducerSchedule struct {
	WorkflowID    string
	ProducerName  string
	ScheduleType  ScheduleType
	ScheduleValue string
	NextRunAt     int64 // epoch ms
	LastRunAt     int64 // epoch ms
}
