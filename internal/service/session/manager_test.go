package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/foodbot/internal/model/schedule"
	sessionmodel "github.com/zhouzirui/foodbot/internal/model/session"
)

type closingPortal struct{ closed atomic.Bool }

func (p *closingPortal) FetchSchedule(context.Context) (schedule.Catalog, error) {
	return schedule.Catalog{}, nil
}

func (p *closingPortal) SubmitReservation(context.Context, schedule.RawPayload) (schedule.Submission, error) {
	return schedule.Submission{}, nil
}

func (p *closingPortal) Close() { p.closed.Store(true) }

func TestWithCreatesAnonymousSession(t *testing.T) {
	m := NewManager()
	err := m.With("u1", func(s *sessionmodel.Session) error {
		require.Equal(t, "u1", s.UserID)
		require.Equal(t, sessionmodel.StateAnonymous, s.State)
		s.State = sessionmodel.StateAwaitingUsername
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, m.Len())

	_ = m.With("u1", func(s *sessionmodel.Session) error {
		require.Equal(t, sessionmodel.StateAwaitingUsername, s.State)
		return nil
	})
}

func TestWithSerializesSameUser(t *testing.T) {
	m := NewManager()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.With("same", func(*sessionmodel.Session) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					cur := atomic.LoadInt32(&maxInside)
					if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, maxInside)
}

func TestDifferentUsersDoNotBlockEachOther(t *testing.T) {
	m := NewManager()
	release := make(chan struct{})
	entered := make(chan struct{})

	go func() {
		_ = m.With("slow", func(*sessionmodel.Session) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	done := make(chan struct{})
	go func() {
		_ = m.With("fast", func(*sessionmodel.Session) error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second user blocked by first")
	}
	close(release)
}

func TestRemoveClosesPortal(t *testing.T) {
	m := NewManager()
	p := &closingPortal{}
	_ = m.With("u1", func(s *sessionmodel.Session) error {
		s.Portal = p
		s.State = sessionmodel.StateAuthenticatedIdle
		return nil
	})

	m.Remove("u1")
	require.True(t, p.closed.Load())
	require.Zero(t, m.Len())

	m.Remove("unknown")
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	c := &clock{now: time.Date(2024, 9, 22, 12, 0, 0, 0, time.UTC)}
	m := NewManager()
	m.now = c.Now

	p := &closingPortal{}
	_ = m.With("idle", func(s *sessionmodel.Session) error {
		s.Portal = p
		return nil
	})
	c.Advance(20 * time.Minute)
	_ = m.With("recent", func(*sessionmodel.Session) error { return nil })
	c.Advance(15 * time.Minute)

	require.Equal(t, 1, m.Sweep(30*time.Minute))
	require.Equal(t, 1, m.Len())
	require.True(t, p.closed.Load())

	_ = m.With("idle", func(s *sessionmodel.Session) error {
		require.Equal(t, sessionmodel.StateAnonymous, s.State)
		require.Nil(t, s.Portal)
		return nil
	})
}

func TestSweepSkipsBusySessions(t *testing.T) {
	c := &clock{now: time.Date(2024, 9, 22, 12, 0, 0, 0, time.UTC)}
	m := NewManager()
	m.now = c.Now

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = m.With("busy", func(*sessionmodel.Session) error {
			close(entered)
			<-release
			return nil
		})
		close(done)
	}()
	<-entered

	c.Advance(time.Hour)
	require.Zero(t, m.Sweep(time.Minute))
	require.Equal(t, 1, m.Len())

	close(release)
	<-done
	require.Zero(t, m.Sweep(time.Minute))
}

func TestWithAfterRemoveStartsFreshSession(t *testing.T) {
	m := NewManager()
	_ = m.With("u1", func(s *sessionmodel.Session) error {
		s.State = sessionmodel.StateAwaitingUsername
		return nil
	})
	stale := m.getOrCreate("u1")
	m.Remove("u1")
	require.True(t, stale.removed)

	_ = m.With("u1", func(s *sessionmodel.Session) error {
		require.Equal(t, sessionmodel.StateAnonymous, s.State)
		return nil
	})
	require.Equal(t, 1, m.Len())
}

func TestRunSweeperStopsWithContext(t *testing.T) {
	m := NewManager()
	_ = m.With("u1", func(*sessionmodel.Session) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.RunSweeper(ctx, time.Millisecond, time.Nanosecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return m.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
