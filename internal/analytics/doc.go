// Package analytics fans semantic funnel events out to third-party trackers.
//
// Callers use a single Dispatcher. It gates every call on visitor consent,
// drops calls until Initialize has settled, deduplicates per backend and
// session, and isolates backends from each other's failures. Each Backend
// maps the semantic event onto its tracker's server-side API.
package analytics
