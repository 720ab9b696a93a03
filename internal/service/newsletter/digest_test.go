package newsletter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foundermatch/funnel/internal/domain"
)

type staticFeed struct {
	items []domain.FeedItem
	err   error
}

func (f *staticFeed) Fetch(context.Context) ([]domain.FeedItem, error) {
	return append([]domain.FeedItem(nil), f.items...), f.err
}

type memState struct{ guid string }

func (s *memState) LastGUID(context.Context) (string, error)         { return s.guid, nil }
func (s *memState) SetLastGUID(_ context.Context, guid string) error { s.guid = guid; return nil }

func post(n int, published time.Time) domain.FeedItem {
	return domain.FeedItem{
		GUID: fmt.Sprintf("post-%d", n), Title: fmt.Sprintf("Post %d", n),
		Link: fmt.Sprintf("https://foundermatch.io/blog/%d", n), PublishedAt: published,
	}
}

func TestDigest_FirstRunOnlyRecordsCursor(t *testing.T) {
	svc, _, queue, _ := newTestService()
	svc.Subscribe(context.Background(), "a@x.io", "", "")
	queue.reqs = nil

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	feed := &staticFeed{items: []domain.FeedItem{post(1, base), post(2, base.Add(time.Hour))}}
	state := &memState{}
	p := NewDigestPoller(svc, feed, state, 5)

	n, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, "post-2", state.guid)
	assert.Empty(t, queue.reqs)
}

func TestDigest_SendsOnlyNewerItems(t *testing.T) {
	svc, _, queue, _ := newTestService()
	ctx := context.Background()
	svc.Subscribe(ctx, "a@x.io", "", "")
	svc.Subscribe(ctx, "b@x.io", "", "")
	queue.reqs = nil

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	feed := &staticFeed{items: []domain.FeedItem{
		post(1, base), post(3, base.Add(2*time.Hour)), post(2, base.Add(time.Hour)),
	}}
	state := &memState{guid: "post-1"}
	p := NewDigestPoller(svc, feed, state, 5)

	n, err := p.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "post-3", state.guid)
	require.Len(t, queue.reqs, 2)
	for _, r := range queue.reqs {
		assert.Equal(t, domain.CategoryNewsletter, r.Category)
		assert.Equal(t, "2 new posts from FounderMatch", r.Subject)
		assert.Contains(t, r.HTML, "Post 3")
		assert.Contains(t, r.HTML, "Post 2")
		assert.NotContains(t, r.HTML, "Post 1")
		assert.Less(t, strings.Index(r.HTML, "Post 3"), strings.Index(r.HTML, "Post 2"), "newest first")
	}

	n, err = p.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "nothing new on the second poll")
}

func TestDigest_CapsItems(t *testing.T) {
	svc, _, queue, _ := newTestService()
	svc.Subscribe(context.Background(), "a@x.io", "", "")
	queue.reqs = nil

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	var items []domain.FeedItem
	for i := 1; i <= 6; i++ {
		items = append(items, post(i, base.Add(time.Duration(i)*time.Hour)))
	}
	state := &memState{guid: "post-1"}
	p := NewDigestPoller(svc, &staticFeed{items: items}, state, 2)

	_, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, queue.reqs, 1)
	assert.Contains(t, queue.reqs[0].HTML, "Post 6")
	assert.Contains(t, queue.reqs[0].HTML, "Post 5")
	assert.NotContains(t, queue.reqs[0].HTML, "Post 4")
	assert.Equal(t, "post-6", state.guid)
}

func TestDigest_ErrorsKeepCursor(t *testing.T) {
	svc, repo, _, _ := newTestService()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	p := NewDigestPoller(svc, &staticFeed{err: errors.New("feed down")}, &memState{guid: "post-1"}, 5)
	_, err := p.Poll(context.Background())
	assert.Error(t, err)

	repo.listErr = errors.New("db down")
	state := &memState{guid: "post-1"}
	p = NewDigestPoller(svc, &staticFeed{items: []domain.FeedItem{post(1, base), post(2, base.Add(time.Hour))}}, state, 5)
	_, err = p.Poll(context.Background())
	assert.Error(t, err)
	assert.Equal(t, "post-1", state.guid, "cursor stays put so the next poll retries")
}

func TestDigest_NothingQueuedKeepsCursor(t *testing.T) {
	svc, _, queue, _ := newTestService()
	svc.Subscribe(context.Background(), "a@x.io", "", "")
	queue.fail = true

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	state := &memState{guid: "post-1"}
	p := NewDigestPoller(svc, &staticFeed{items: []domain.FeedItem{post(1, base), post(2, base.Add(time.Hour))}}, state, 5)

	n, err := p.Poll(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, "post-1", state.guid)

	queue.fail = false
	n, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "the next poll retries the same posts")
	assert.Equal(t, "post-2", state.guid)
}

func TestDigest_PartialQueueAdvancesCursor(t *testing.T) {
	svc, _, queue, _ := newTestService()
	ctx := context.Background()
	svc.Subscribe(ctx, "a@x.io", "", "")
	svc.Subscribe(ctx, "b@x.io", "", "")
	queue.reqs = nil
	queue.failTo = "b@x.io"

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	state := &memState{guid: "post-1"}
	p := NewDigestPoller(svc, &staticFeed{items: []domain.FeedItem{post(1, base), post(2, base.Add(time.Hour))}}, state, 5)

	n, err := p.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "post-2", state.guid)

	n, err = p.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, queue.reqs, 1, "a@x.io gets one digest, not two")
}

func TestRedisStateStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewRedisStateStore(client)
	ctx := context.Background()

	guid, err := s.LastGUID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", guid)

	require.NoError(t, s.SetLastGUID(ctx, "post-9"))
	guid, err = s.LastGUID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "post-9", guid)
	assert.Equal(t, "post-9", mustGet(t, mr, DigestStateKey))
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}

const rssFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
<title>FounderMatch Blog</title>
<link>https://foundermatch.io/blog</link>
<description>Notes on fundraising</description>
<item>
  <title>Raising a seed round</title>
  <link>https://foundermatch.io/blog/seed</link>
  <guid>https://foundermatch.io/blog/seed</guid>
  <description>&lt;p&gt;How to raise&lt;/p&gt;</description>
  <pubDate>Mon, 04 May 2026 09:00:00 +0000</pubDate>
  <enclosure url="https://foundermatch.io/img/seed.png" type="image/png" length="100"/>
</item>
<item>
  <title>Picking investors</title>
  <link>https://foundermatch.io/blog/pick</link>
  <pubDate>Fri, 01 May 2026 09:00:00 +0000</pubDate>
</item>
</channel>
</rss>`

func TestGofeedFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, rssFixture)
	}))
	defer srv.Close()

	items, err := NewGofeedFetcher(srv.URL).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "https://foundermatch.io/blog/seed", items[0].GUID)
	assert.Equal(t, "https://foundermatch.io/img/seed.png", items[0].ImageURL)
	assert.Equal(t, 2026, items[0].PublishedAt.Year())
	assert.Equal(t, "https://foundermatch.io/blog/pick", items[1].GUID, "link stands in for a missing guid")
}
