package domain

import "time"

// SubscriberStatus enumerates newsletter subscription states.
type SubscriberStatus string

const (
	SubscriberActive       SubscriberStatus = "active"
	SubscriberUnsubscribed SubscriberStatus = "unsubscribed"
)

// Subscriber is a newsletter recipient.
type Subscriber struct {
	ID               string           `json:"id" db:"id"`
	Email            string           `json:"email" db:"email"`
	Source           string           `json:"source" db:"source"`
	Status           SubscriberStatus `json:"status" db:"status"`
	UnsubscribeToken string           `json:"-" db:"unsubscribe_token"`
	SubscribedAt     time.Time        `json:"subscribed_at" db:"subscribed_at"`
	UnsubscribedAt   *time.Time       `json:"unsubscribed_at,omitempty" db:"unsubscribed_at"`
}

// FeedItem is one blog post pulled from the site feed for a digest.
type FeedItem struct {
	GUID        string    `json:"guid"`
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Summary     string    `json:"summary"`
	Author      string    `json:"author,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}
