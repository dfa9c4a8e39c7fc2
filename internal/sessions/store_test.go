package sessions

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestAcquireCreatesSession(t *testing.T) {
	store := NewStore(nil, time.Hour, nil)
	sess, release, err := store.Acquire(context.Background(), "")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()
	if sess.ID == "" {
		t.Fatal("expected generated session id")
	}
	if store.Len() != 1 {
		t.Fatalf("Len = %d, want 1", store.Len())
	}
}

func TestAcquireReturnsSameSession(t *testing.T) {
	store := NewStore(nil, time.Hour, nil)
	sess, release, err := store.Acquire(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	sess.Append("user", "hello")
	release()

	again, release2, err := store.Acquire(context.Background(), "abc")
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	defer release2()
	if len(again.Messages) != 1 || again.Messages[0].Content != "hello" {
		t.Fatalf("messages = %+v, want the appended one", again.Messages)
	}
}

func TestAcquireSerializesAccess(t *testing.T) {
	store := NewStore(nil, time.Hour, nil)
	ctx := context.Background()

	_, release, err := store.Acquire(ctx, "busy")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	var order []string
	var mu sync.Mutex
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, rel, err := store.Acquire(ctx, "busy")
		if err != nil {
			t.Errorf("concurrent Acquire: %v", err)
			return
		}
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
		rel()
	}()

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	order = append(order, "first")
	mu.Unlock()
	release()
	<-done

	if order[0] != "first" || order[1] != "second" {
		t.Fatalf("order = %v, want first before second", order)
	}
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	store := NewStore(nil, time.Hour, nil)
	_, release, err := store.Acquire(context.Background(), "held")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err = store.Acquire(ctx, "held")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

func TestReaperEvictsIdleSessions(t *testing.T) {
	store := NewStore(nil, 20*time.Millisecond, nil)
	_, release, err := store.Acquire(context.Background(), "old")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	release()

	time.Sleep(40 * time.Millisecond)
	store.reap()
	if store.Len() != 0 {
		t.Fatalf("Len = %d after reap, want 0", store.Len())
	}
}

func TestReaperSkipsLeasedSessions(t *testing.T) {
	store := NewStore(nil, time.Nanosecond, nil)
	sess, release, err := store.Acquire(context.Background(), "active")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	sess.LastActiveAt = time.Now().Add(-time.Hour)

	store.reap()
	if store.Len() != 1 {
		t.Fatalf("Len = %d, leased session was reaped", store.Len())
	}
	release()
}

func TestSQLitePersisterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	p, err := NewSQLitePersister(path)
	if err != nil {
		t.Fatalf("NewSQLitePersister: %v", err)
	}
	defer p.Close()

	ctx := context.Background()
	sess := newSession("persisted")
	sess.Append("user", "what is the boost target")
	sess.AppendAssistant("checking the map", nil)
	if err := p.Save(ctx, sess); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := p.Load(ctx, "persisted")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(loaded.Messages))
	}
	if loaded.Messages[0].Content != "what is the boost target" {
		t.Fatalf("first message = %q", loaded.Messages[0].Content)
	}

	if _, err := p.Load(ctx, "unknown"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Load unknown err = %v, want ErrSessionNotFound", err)
	}
}

func TestStoreLoadsFromPersisterOnMiss(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	p, err := NewSQLitePersister(path)
	if err != nil {
		t.Fatalf("NewSQLitePersister: %v", err)
	}
	ctx := context.Background()

	seed := newSession("survivor")
	seed.Append("user", "hello again")
	if err := p.Save(ctx, seed); err != nil {
		t.Fatalf("Save: %v", err)
	}

	store := NewStore(p, time.Hour, nil)
	defer store.Close()
	sess, release, err := store.Acquire(ctx, "survivor")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()
	if len(sess.Messages) != 1 || sess.Messages[0].Content != "hello again" {
		t.Fatalf("messages = %+v, want restored history", sess.Messages)
	}
}
