// Package notifier sends operator alerts about page runs.
//
// Alerts are queued and delivered by a background worker with a rate limit,
// bounded retries and a dedup window, so a job that keeps failing on every
// tick produces one alert per window instead of one per tick. Dedup state
// can be persisted through storage.Store to survive restarts.
//
// # Transport
//
// Delivery goes through a Sender. The production Sender posts to a Telegram
// chat (optionally a forum topic).
package notifier
