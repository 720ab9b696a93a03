// Package httputil holds the JSON response and request helpers used by every
// handler, so that error envelopes and logging stay uniform.
package httputil
