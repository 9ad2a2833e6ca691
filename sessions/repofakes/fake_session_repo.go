package fakesessionrepo

import (
	"context"
	"sync"

	apperrors "github.com/jrsteele09/go-finstats-client/internal/errors"
	"github.com/jrsteele09/go-finstats-client/sessions"
)

var _ sessions.Repo = (*FakeSessionRepo)(nil)

// FakeSessionRepo keeps the session in memory. Inject simulates a write made by another process.
type FakeSessionRepo struct {
	session  *sessions.Session
	watchers []chan sessions.Change
	saves    int
	deletes  int
	failNext error
	lock     sync.RWMutex
}

func NewFakeSessionRepo() *FakeSessionRepo {
	return &FakeSessionRepo{}
}

func (sr *FakeSessionRepo) Load(_ context.Context) (*sessions.Session, error) {
	sr.lock.RLock()
	defer sr.lock.RUnlock()

	if sr.session == nil {
		return nil, apperrors.ErrSessionNotFound
	}
	return sr.session.Clone(), nil
}

func (sr *FakeSessionRepo) Save(_ context.Context, session *sessions.Session) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	if err := sr.takeFailure(); err != nil {
		return err
	}
	sr.session = session.Clone()
	sr.session.Version = 0
	sr.saves++
	return nil
}

func (sr *FakeSessionRepo) Delete(_ context.Context) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	if err := sr.takeFailure(); err != nil {
		return err
	}
	sr.session = nil
	sr.deletes++
	return nil
}

func (sr *FakeSessionRepo) Watch(ctx context.Context) (<-chan sessions.Change, error) {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	ch := make(chan sessions.Change, 8)
	sr.watchers = append(sr.watchers, ch)
	go func() {
		<-ctx.Done()
		sr.lock.Lock()
		defer sr.lock.Unlock()
		for i, w := range sr.watchers {
			if w == ch {
				sr.watchers = append(sr.watchers[:i], sr.watchers[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

// Inject stores session as if another process wrote it and notifies watchers.
func (sr *FakeSessionRepo) Inject(session *sessions.Session) {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	sr.session = session.Clone()
	for _, w := range sr.watchers {
		w <- sessions.Change{Session: session.Clone()}
	}
}

// FailNext makes the next Save or Delete return err.
func (sr *FakeSessionRepo) FailNext(err error) {
	sr.lock.Lock()
	defer sr.lock.Unlock()
	sr.failNext = err
}

// Stored returns the persisted session without going through Load.
func (sr *FakeSessionRepo) Stored() *sessions.Session {
	sr.lock.RLock()
	defer sr.lock.RUnlock()
	return sr.session.Clone()
}

// Counts returns how many saves and deletes succeeded.
func (sr *FakeSessionRepo) Counts() (saves, deletes int) {
	sr.lock.RLock()
	defer sr.lock.RUnlock()
	return sr.saves, sr.deletes
}

func (sr *FakeSessionRepo) takeFailure() error {
	err := sr.failNext
	sr.failNext = nil
	return err
}
