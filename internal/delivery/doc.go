// Package delivery implements the email providers behind sending.Sender and
// the Mailer that applies sender defaults in front of them.
//
// Production deployments use a hosted API (SparkPost or AWS SES). Local and
// test environments point the SMTP backend at a sink such as Mailpit.
package delivery
