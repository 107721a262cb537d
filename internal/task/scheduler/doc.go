// Package scheduler runs housekeeping jobs on cron or interval schedules.
//
// Schedules accept a cron expression ("*/5 * * * *", "@hourly", optional
// seconds field) or a plain interval ("90s", "15m"). A job never overlaps
// itself, panics are recovered and every run is bounded by a timeout.
package scheduler
