// Package newsletter manages blog newsletter subscriptions, admin campaigns
// and the periodic digest built from the blog feed.
package newsletter
