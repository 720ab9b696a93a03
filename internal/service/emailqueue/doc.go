// Package emailqueue persists outbound email and delivers it in bounded,
// sequential batches with a per-record attempt limit.
//
// Writers call QueueEmail, which stores a pending record and nudges the
// processor through a Trigger. The processor (ProcessEmailQueue, driven by
// Worker or a cron call) selects due records oldest-first, sends each through
// a sending.Mailer and records the outcome. Each pass holds a distributed lock
// so concurrent passes never pick up the same rows.
package emailqueue
