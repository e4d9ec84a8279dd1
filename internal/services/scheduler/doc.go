// Package scheduler fires page jobs on their schedules from a single tick
// loop.
//
// # Overview
//
// Every page that carries a schedule becomes one Job. The loop wakes on a
// fixed interval (default 60s); each job whose NextRun is not after the
// current instant is run through the Runner, one at a time, and then gets
// NextRun = schedule.Next(now) whatever the outcome. Missed periods are not
// replayed: after downtime a job fires once and moves on.
//
// # Schedule formats
//
//   - Cron expressions: 5-field (min hour dom mon dow) or 6-field with optional
//     seconds. Example: "0 6 * * *" or "0 */5 * * * *".
//   - Cron descriptors: "@hourly", "@daily", "@every 55m".
//   - Interval durations: Go duration strings like "55m" or "2h30m".
//   - Interval HH:MM: "00:50" means every 50 minutes.
//
// To force interpretation, prefix the string with "cron:", "interval:" or
// "every:".
//
// # State
//
// Nothing is persisted. On start every NextRun is the first instant after
// the start time; on config reload unchanged jobs keep their NextRun.
package scheduler
