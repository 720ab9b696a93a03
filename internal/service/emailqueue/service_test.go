package emailqueue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/foundermatch/funnel/internal/domain"
	"github.com/foundermatch/funnel/internal/pkg/distlock"
	"github.com/foundermatch/funnel/internal/service/sending"
)

// mockRepo is an in-memory repository for testing.
type mockRepo struct {
	mu        sync.RWMutex
	store     map[string]*domain.QueuedEmail
	insertErr error
	listErr   error
}

func newMockRepo() *mockRepo {
	return &mockRepo{store: make(map[string]*domain.QueuedEmail)}
}

func (m *mockRepo) Insert(_ context.Context, e *domain.QueuedEmail) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *e
	m.store[e.ID] = &copied
	return nil
}

func (m *mockRepo) ListDue(_ context.Context, now time.Time, limit int) ([]domain.QueuedEmail, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var due []domain.QueuedEmail
	for _, e := range m.store {
		if e.Due(now) {
			due = append(due, *e)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(due[j].ScheduledAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *mockRepo) MarkSent(_ context.Context, id string, attempts int, messageID string, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.store[id]
	if !ok {
		return ErrNotFound
	}
	if e.Status != domain.EmailPending {
		return ErrNotPending
	}
	e.Status = domain.EmailSent
	e.Attempts = attempts
	e.MessageID = messageID
	e.SentAt = &sentAt
	return nil
}

func (m *mockRepo) RecordFailure(_ context.Context, id string, attempts int, lastError string, status domain.EmailStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.store[id]
	if !ok {
		return ErrNotFound
	}
	if e.Status != domain.EmailPending {
		return ErrNotPending
	}
	e.Status = status
	e.Attempts = attempts
	e.LastError = lastError
	return nil
}

func (m *mockRepo) Get(_ context.Context, id string) (*domain.QueuedEmail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *e
	return &copied, nil
}

func (m *mockRepo) Stats(_ context.Context) (domain.QueueStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var st domain.QueueStats
	for _, e := range m.store {
		switch e.Status {
		case domain.EmailPending:
			st.Pending++
		case domain.EmailSent:
			st.Sent++
		case domain.EmailFailed:
			st.Failed++
		}
		st.Total++
	}
	return st, nil
}

func (m *mockRepo) ListByStatus(_ context.Context, status domain.EmailStatus, limit int) ([]domain.QueuedEmail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.QueuedEmail
	for _, e := range m.store {
		if e.Status == status && len(out) < limit {
			out = append(out, *e)
		}
	}
	return out, nil
}

// stubMailer records every call and answers with a fixed outcome.
type stubMailer struct {
	mu    sync.Mutex
	calls []domain.EmailMessage
	fail  string
	delay time.Duration
}

func (s *stubMailer) SendEmail(_ context.Context, msg domain.EmailMessage) domain.SendResult {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, msg)
	if s.fail != "" {
		return domain.SendResult{Success: false, Error: s.fail}
	}
	return domain.SendResult{Success: true, MessageID: fmt.Sprintf("msg-%d", len(s.calls))}
}

func (s *stubMailer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

var _ sending.Mailer = (*stubMailer)(nil)

func newTestService(repo Repository, mailer sending.Mailer) *Service {
	return NewService(repo, mailer, Config{BatchSize: 10, MaxAttempts: 3})
}

func welcome(to string) QueueRequest {
	return QueueRequest{To: to, Subject: "Welcome", HTML: "<p>Hi</p>", Category: domain.CategoryWelcome}
}

func TestProcess_SuccessMarksSent(t *testing.T) {
	repo := newMockRepo()
	mailer := &stubMailer{}
	svc := newTestService(repo, mailer)
	ctx := context.Background()

	id := svc.QueueEmail(ctx, welcome("ada@startup.io"))
	if id == "" {
		t.Fatal("QueueEmail returned empty id")
	}

	res := svc.ProcessEmailQueue(ctx, 10)
	if res != (domain.ProcessResult{Processed: 1, Sent: 1, Failed: 0}) {
		t.Errorf("result = %+v", res)
	}

	e, _ := repo.Get(ctx, id)
	if e.Status != domain.EmailSent {
		t.Errorf("status = %s, want sent", e.Status)
	}
	if e.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", e.Attempts)
	}
	if e.SentAt == nil {
		t.Error("sent_at not set")
	}
	if e.MessageID != "msg-1" {
		t.Errorf("message_id = %q", e.MessageID)
	}
	if mailer.calls[0].To != "ada@startup.io" || mailer.calls[0].Category != domain.CategoryWelcome {
		t.Errorf("unexpected message %+v", mailer.calls[0])
	}
}

func TestProcess_RetriesThenFails(t *testing.T) {
	repo := newMockRepo()
	mailer := &stubMailer{fail: "smtp: 451 try again later"}
	svc := newTestService(repo, mailer)
	ctx := context.Background()

	id := svc.QueueEmail(ctx, welcome("ada@startup.io"))

	for pass := 1; pass <= 3; pass++ {
		res := svc.ProcessEmailQueue(ctx, 10)
		if res != (domain.ProcessResult{Processed: 1, Sent: 0, Failed: 1}) {
			t.Fatalf("pass %d result = %+v", pass, res)
		}
		e, _ := repo.Get(ctx, id)
		if e.Attempts != pass {
			t.Fatalf("pass %d attempts = %d", pass, e.Attempts)
		}
		wantStatus := domain.EmailPending
		if pass == 3 {
			wantStatus = domain.EmailFailed
		}
		if e.Status != wantStatus {
			t.Fatalf("pass %d status = %s, want %s", pass, e.Status, wantStatus)
		}
	}

	e, _ := repo.Get(ctx, id)
	if e.LastError != "smtp: 451 try again later" {
		t.Errorf("last_error = %q", e.LastError)
	}

	// terminal records are never selected again
	res := svc.ProcessEmailQueue(ctx, 10)
	if res != (domain.ProcessResult{}) {
		t.Errorf("fourth pass result = %+v", res)
	}
	if mailer.count() != 3 {
		t.Errorf("mailer calls = %d, want 3", mailer.count())
	}
	if e.Attempts > e.MaxAttempts {
		t.Errorf("attempts %d exceed max %d", e.Attempts, e.MaxAttempts)
	}
}

func TestProcess_PerRecordMaxAttempts(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, &stubMailer{fail: "rejected"})
	ctx := context.Background()

	req := welcome("ada@startup.io")
	req.MaxAttempts = 1
	id := svc.QueueEmail(ctx, req)

	svc.ProcessEmailQueue(ctx, 10)

	e, _ := repo.Get(ctx, id)
	if e.Status != domain.EmailFailed || e.Attempts != 1 {
		t.Errorf("got status=%s attempts=%d, want failed/1", e.Status, e.Attempts)
	}
}

func TestProcess_EmptyQueue(t *testing.T) {
	mailer := &stubMailer{}
	svc := newTestService(newMockRepo(), mailer)

	res := svc.ProcessEmailQueue(context.Background(), 10)
	if res != (domain.ProcessResult{}) {
		t.Errorf("result = %+v, want zero", res)
	}
	if mailer.count() != 0 {
		t.Errorf("mailer called %d times", mailer.count())
	}
}

func TestProcess_FutureScheduleNotSelectedEarly(t *testing.T) {
	repo := newMockRepo()
	mailer := &stubMailer{}
	svc := newTestService(repo, mailer)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	req := welcome("ada@startup.io")
	req.Category = domain.CategoryCampaign
	req.ScheduledAt = now.Add(time.Hour)
	id := svc.QueueEmail(ctx, req)

	if res := svc.ProcessEmailQueue(ctx, 10); res.Processed != 0 {
		t.Fatalf("future record processed early: %+v", res)
	}
	if mailer.count() != 0 {
		t.Fatal("mailer called for future record")
	}

	now = now.Add(time.Hour)
	if res := svc.ProcessEmailQueue(ctx, 10); res.Sent != 1 {
		t.Fatalf("due record not sent: %+v", res)
	}
	e, _ := repo.Get(ctx, id)
	if e.Status != domain.EmailSent {
		t.Errorf("status = %s", e.Status)
	}
}

func TestProcess_OldestFirstWithinBatch(t *testing.T) {
	repo := newMockRepo()
	mailer := &stubMailer{}
	svc := newTestService(repo, mailer)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i, offset := range []time.Duration{3, 1, 2} {
		req := welcome(fmt.Sprintf("user%d@startup.io", i))
		req.ScheduledAt = base.Add(-offset * time.Minute)
		svc.QueueEmail(ctx, req)
	}

	res := svc.ProcessEmailQueue(ctx, 2)
	if res.Processed != 2 {
		t.Fatalf("processed = %d, want 2", res.Processed)
	}
	got := []string{mailer.calls[0].To, mailer.calls[1].To}
	want := []string{"user0@startup.io", "user2@startup.io"}
	if got[0] != want[0] || got[1] != want[1] {
		t.Errorf("order = %v, want %v", got, want)
	}

	if res := svc.ProcessEmailQueue(ctx, 2); res.Processed != 1 {
		t.Errorf("second pass processed = %d, want 1", res.Processed)
	}
}

func TestProcess_DefaultBatchSize(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, &stubMailer{}, Config{BatchSize: 2})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		svc.QueueEmail(ctx, welcome(fmt.Sprintf("u%d@startup.io", i)))
	}

	if res := svc.ProcessEmailQueue(ctx, 0); res.Processed != 2 {
		t.Errorf("processed = %d, want configured batch 2", res.Processed)
	}
}

func TestProcess_SendDelayAndCancellation(t *testing.T) {
	repo := newMockRepo()
	mailer := &stubMailer{}
	svc := NewService(repo, mailer, Config{BatchSize: 10, SendDelay: 50 * time.Millisecond})
	for i := 0; i < 5; i++ {
		svc.QueueEmail(context.Background(), welcome(fmt.Sprintf("u%d@startup.io", i)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 75*time.Millisecond)
	defer cancel()

	res := svc.ProcessEmailQueue(ctx, 10)
	if res.Processed < 1 || res.Processed > 2 {
		t.Errorf("processed = %d, want 1 or 2 before the deadline", res.Processed)
	}
	if mailer.count() != res.Processed {
		t.Errorf("mailer calls %d != processed %d", mailer.count(), res.Processed)
	}
	st, _ := repo.Stats(context.Background())
	if st.Pending != 5-res.Processed {
		t.Errorf("pending = %d", st.Pending)
	}
}

func TestProcess_ListErrorIsSwallowed(t *testing.T) {
	repo := newMockRepo()
	repo.listErr = errors.New("connection reset")
	svc := newTestService(repo, &stubMailer{})

	if res := svc.ProcessEmailQueue(context.Background(), 10); res != (domain.ProcessResult{}) {
		t.Errorf("result = %+v", res)
	}
}

type heldLock struct{}

func (heldLock) Acquire(context.Context) (bool, error) { return false, nil }
func (heldLock) Release(context.Context) error         { return nil }

func TestProcess_SkipsWhenLockHeld(t *testing.T) {
	repo := newMockRepo()
	mailer := &stubMailer{}
	svc := newTestService(repo, mailer)
	svc.SetLockFactory(func() distlock.DistLock { return heldLock{} })
	svc.QueueEmail(context.Background(), welcome("ada@startup.io"))

	if res := svc.ProcessEmailQueue(context.Background(), 10); res != (domain.ProcessResult{}) {
		t.Errorf("result = %+v, want zero", res)
	}
	if mailer.count() != 0 {
		t.Error("mailer called without the lock")
	}
}

func TestProcess_ConcurrentPassesDeliverOnce(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	repo := newMockRepo()
	mailer := &stubMailer{delay: 5 * time.Millisecond}
	svc := newTestService(repo, mailer)
	svc.SetLockFactory(distlock.NewFactory(client, nil, LockKey, time.Minute))

	for i := 0; i < 5; i++ {
		svc.QueueEmail(context.Background(), welcome(fmt.Sprintf("u%d@startup.io", i)))
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.ProcessEmailQueue(context.Background(), 10)
		}()
	}
	wg.Wait()

	perRecipient := map[string]int{}
	for _, c := range mailer.calls {
		perRecipient[c.To]++
	}
	for to, n := range perRecipient {
		if n != 1 {
			t.Errorf("%s delivered %d times", to, n)
		}
	}
	st, _ := repo.Stats(context.Background())
	if st.Sent+st.Pending != 5 || st.Failed != 0 {
		t.Errorf("stats = %+v", st)
	}
}

// lockStealingMailer hands the queue lock to another worker during its first
// send and holds that send until the pass notices.
type lockStealingMailer struct {
	mr *miniredis.Miniredis

	mu    sync.Mutex
	calls []string
}

func (m *lockStealingMailer) SendEmail(ctx context.Context, msg domain.EmailMessage) domain.SendResult {
	m.mu.Lock()
	first := len(m.calls) == 0
	m.calls = append(m.calls, msg.To)
	m.mu.Unlock()

	if first {
		m.mr.Set("lock:"+LockKey, "other-worker")
		select {
		case <-ctx.Done():
		case <-time.After(2 * time.Second):
		}
	}
	return domain.SendResult{Success: true, MessageID: "msg-" + msg.To}
}

func TestProcess_StopsWhenLockExpiresMidPass(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	repo := newMockRepo()
	mailer := &lockStealingMailer{mr: mr}
	svc := newTestService(repo, mailer)
	svc.SetLockFactory(distlock.NewFactory(client, nil, LockKey, 150*time.Millisecond))
	for i := 0; i < 3; i++ {
		svc.QueueEmail(context.Background(), welcome(fmt.Sprintf("u%d@startup.io", i)))
	}

	res := svc.ProcessEmailQueue(context.Background(), 10)
	if res.Processed != 1 || res.Sent != 1 {
		t.Fatalf("first pass = %+v, want it to stop after the in-flight send", res)
	}
	if res := svc.ProcessEmailQueue(context.Background(), 10); res.Processed != 0 {
		t.Errorf("pass ran while another worker held the lock: %+v", res)
	}

	mr.Del("lock:" + LockKey)
	if res := svc.ProcessEmailQueue(context.Background(), 10); res.Processed != 2 {
		t.Errorf("resumed pass processed = %d, want 2", res.Processed)
	}

	perRecipient := map[string]int{}
	for _, to := range mailer.calls {
		perRecipient[to]++
	}
	if len(perRecipient) != 3 {
		t.Errorf("recipients = %v", perRecipient)
	}
	for to, n := range perRecipient {
		if n != 1 {
			t.Errorf("%s delivered %d times", to, n)
		}
	}
	st, _ := repo.Stats(context.Background())
	if st.Sent != 3 {
		t.Errorf("stats = %+v", st)
	}
}

func TestEnqueue_Validation(t *testing.T) {
	svc := newTestService(newMockRepo(), &stubMailer{})
	tests := []struct {
		name string
		req  QueueRequest
	}{
		{"bad recipient", QueueRequest{To: "not-an-email", Subject: "s", HTML: "h", Category: domain.CategoryWelcome}},
		{"display name", QueueRequest{To: "Ada <ada@startup.io>", Subject: "s", HTML: "h", Category: domain.CategoryWelcome}},
		{"no subject", QueueRequest{To: "ada@startup.io", HTML: "h", Category: domain.CategoryWelcome}},
		{"no html", QueueRequest{To: "ada@startup.io", Subject: "s", Category: domain.CategoryWelcome}},
		{"bad category", QueueRequest{To: "ada@startup.io", Subject: "s", HTML: "h", Category: "promo"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Enqueue(context.Background(), tt.req)
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestEnqueue_Defaults(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, &stubMailer{})
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc.now = func() time.Time { return now }

	e, err := svc.Enqueue(context.Background(), welcome(" ada@startup.io "))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if e.To != "ada@startup.io" {
		t.Errorf("to = %q", e.To)
	}
	if e.Status != domain.EmailPending || e.Attempts != 0 || e.MaxAttempts != 3 {
		t.Errorf("unexpected initial state %+v", e)
	}
	if !e.ScheduledAt.Equal(now) {
		t.Errorf("scheduled_at = %v, want %v", e.ScheduledAt, now)
	}
}

func TestQueueEmail_SwallowsStorageErrors(t *testing.T) {
	repo := newMockRepo()
	repo.insertErr = errors.New("relation \"email_queue\" does not exist")
	svc := newTestService(repo, &stubMailer{})

	if id := svc.QueueEmail(context.Background(), welcome("ada@startup.io")); id != "" {
		t.Errorf("id = %q, want empty", id)
	}
}

func TestQueueEmail_KicksTrigger(t *testing.T) {
	svc := newTestService(newMockRepo(), &stubMailer{})
	trig := NewChannelTrigger()
	svc.SetTrigger(trig)

	svc.QueueEmail(context.Background(), welcome("ada@startup.io"))
	select {
	case <-trig.C():
	default:
		t.Fatal("trigger not kicked")
	}

	// future records don't kick
	req := welcome("bob@startup.io")
	req.ScheduledAt = time.Now().Add(time.Hour)
	svc.QueueEmail(context.Background(), req)
	select {
	case <-trig.C():
		t.Fatal("future record kicked the processor")
	default:
	}
}

func TestGetAndListFailed(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, &stubMailer{fail: "bounced"})
	ctx := context.Background()

	req := welcome("ada@startup.io")
	req.MaxAttempts = 1
	id := svc.QueueEmail(ctx, req)
	svc.ProcessEmailQueue(ctx, 10)

	if _, err := svc.Get(ctx, "not-a-uuid"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(bad id) err = %v", err)
	}
	e, err := svc.Get(ctx, id)
	if err != nil || e.ID != id {
		t.Fatalf("Get = %v, %v", e, err)
	}
	failed, err := svc.ListFailed(ctx, 0)
	if err != nil || len(failed) != 1 {
		t.Fatalf("ListFailed = %v, %v", failed, err)
	}
	st, _ := svc.Stats(ctx)
	if st.Failed != 1 || st.Total != 1 {
		t.Errorf("stats = %+v", st)
	}
}
