package newsletter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/redis/go-redis/v9"

	"github.com/foundermatch/funnel/internal/domain"
	"github.com/foundermatch/funnel/internal/templates"
)

// DigestStateKey holds the GUID of the newest item already sent.
const DigestStateKey = "newsletter:digest:last_guid"

// FeedFetcher loads the current blog feed items.
type FeedFetcher interface {
	Fetch(ctx context.Context) ([]domain.FeedItem, error)
}

// GofeedFetcher reads an RSS, Atom or JSON feed over HTTP.
type GofeedFetcher struct {
	url    string
	parser *gofeed.Parser
}

func NewGofeedFetcher(feedURL string) *GofeedFetcher {
	p := gofeed.NewParser()
	p.UserAgent = "FounderMatch-Digest/1.0"
	return &GofeedFetcher{url: feedURL, parser: p}
}

func (f *GofeedFetcher) Fetch(ctx context.Context) ([]domain.FeedItem, error) {
	feed, err := f.parser.ParseURLWithContext(f.url, ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", f.url, err)
	}
	items := make([]domain.FeedItem, 0, len(feed.Items))
	for _, it := range feed.Items {
		items = append(items, feedItem(it))
	}
	return items, nil
}

func feedItem(it *gofeed.Item) domain.FeedItem {
	fi := domain.FeedItem{
		GUID:    it.GUID,
		Title:   strings.TrimSpace(it.Title),
		Link:    it.Link,
		Summary: it.Description,
	}
	if fi.GUID == "" {
		fi.GUID = it.Link
	}
	if it.PublishedParsed != nil {
		fi.PublishedAt = *it.PublishedParsed
	} else if it.UpdatedParsed != nil {
		fi.PublishedAt = *it.UpdatedParsed
	}
	if it.Image != nil {
		fi.ImageURL = it.Image.URL
	} else {
		for _, enc := range it.Enclosures {
			if strings.HasPrefix(enc.Type, "image/") {
				fi.ImageURL = enc.URL
				break
			}
		}
	}
	if len(it.Authors) > 0 && it.Authors[0] != nil {
		fi.Author = it.Authors[0].Name
	}
	return fi
}

// RedisStateStore keeps the digest cursor in Redis.
type RedisStateStore struct {
	client *redis.Client
	key    string
}

func NewRedisStateStore(client *redis.Client) *RedisStateStore {
	return &RedisStateStore{client: client, key: DigestStateKey}
}

func (s *RedisStateStore) LastGUID(ctx context.Context) (string, error) {
	v, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

func (s *RedisStateStore) SetLastGUID(ctx context.Context, guid string) error {
	return s.client.Set(ctx, s.key, guid, 0).Err()
}

// DigestPoller turns new blog posts into a newsletter digest.
type DigestPoller struct {
	svc      *Service
	feed     FeedFetcher
	state    StateStore
	maxItems int
}

// NewDigestPoller creates a poller. maxItems caps the posts per digest.
func NewDigestPoller(svc *Service, feed FeedFetcher, state StateStore, maxItems int) *DigestPoller {
	if maxItems <= 0 {
		maxItems = 5
	}
	return &DigestPoller{svc: svc, feed: feed, state: state, maxItems: maxItems}
}

// Poll fetches the feed once. On the very first run it only records the
// newest item. Afterwards it sends every newer item, newest first, to each
// active subscriber and advances the cursor. It returns the number of
// emails queued.
func (p *DigestPoller) Poll(ctx context.Context) (int, error) {
	items, err := p.feed.Fetch(ctx)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].PublishedAt.After(items[j].PublishedAt)
	})
	newest := items[0].GUID

	last, err := p.state.LastGUID(ctx)
	if err != nil {
		return 0, fmt.Errorf("load digest cursor: %w", err)
	}
	if last == "" {
		log.Printf("[DigestPoller] First run, starting after %q", newest)
		return 0, p.state.SetLastGUID(ctx, newest)
	}

	var fresh []domain.FeedItem
	for _, it := range items {
		if it.GUID == last {
			break
		}
		fresh = append(fresh, it)
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	if len(fresh) > p.maxItems {
		fresh = fresh[:p.maxItems]
	}

	subs, err := p.svc.repo.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list subscribers: %w", err)
	}

	bindings := make([]map[string]any, 0, len(fresh))
	for _, it := range fresh {
		bindings = append(bindings, map[string]any{
			"title":     it.Title,
			"link":      it.Link,
			"summary":   it.Summary,
			"author":    it.Author,
			"image_url": it.ImageURL,
		})
	}

	queued := 0
	for i := range subs {
		if p.svc.queueTemplate(ctx, &subs[i], templates.NewsletterDigest, domain.CategoryNewsletter, time.Time{},
			templates.Vars{"items": bindings}) {
			queued++
		}
	}

	if queued == 0 && len(subs) > 0 {
		return 0, fmt.Errorf("digest queued for none of %d subscribers", len(subs))
	}
	if queued < len(subs) {
		// advancing avoids a second copy for everyone already queued
		log.Printf("[DigestPoller] Digest missed %d of %d subscribers", len(subs)-queued, len(subs))
	}
	if err := p.state.SetLastGUID(ctx, newest); err != nil {
		return queued, fmt.Errorf("save digest cursor: %w", err)
	}
	log.Printf("[DigestPoller] Queued digest of %d posts to %d subscribers", len(fresh), queued)
	return queued, nil
}

// Run polls every interval until ctx is cancelled.
func (p *DigestPoller) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	log.Printf("[DigestPoller] Starting (interval=%s)", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := p.Poll(ctx); err != nil {
			log.Printf("[DigestPoller] Poll failed: %v", err)
		}
		select {
		case <-ctx.Done():
			log.Println("[DigestPoller] Stopping")
			return
		case <-ticker.C:
		}
	}
}
