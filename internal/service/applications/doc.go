// Package applications accepts founder and investor applications. A
// submission succeeds once it is stored; the confirmation email and the
// analytics events that follow are best effort.
package applications
