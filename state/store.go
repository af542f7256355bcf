// server/state/store.go
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/vinizap/haku/server/domain"
	"github.com/vinizap/haku/server/history"
)

// Persisted keys.
const (
	KeyContentType      = "haku.contentType"
	KeyFileHistory      = "haku.fileHistory"
	KeySidebarCollapsed = "haku.sidebarCollapsed"
)

// Snapshot is the client's UI and connectivity state. Online and
// AvailableOffline are not persisted.
type Snapshot struct {
	ContentType      domain.ContentType
	FileHistory      []string
	SidebarCollapsed bool
	Online           bool
	AvailableOffline bool
}

func defaults() Snapshot {
	return Snapshot{
		ContentType: domain.ContentNote,
		FileHistory: []string{},
		Online:      true,
	}
}

type subscription struct {
	selector func(Snapshot) any
	callback func(any)
	last     any
}

// Store owns the client state for one session. Create it with Open at login
// and call Reset at logout.
type Store struct {
	mu     sync.Mutex
	kv     KV
	snap   Snapshot
	subs   map[int]*subscription
	nextID int
}

func Open(ctx context.Context, kv KV) (*Store, error) {
	s := &Store{kv: kv, snap: defaults(), subs: map[int]*subscription{}}

	var ct string
	if ok, err := s.load(ctx, KeyContentType, &ct); err != nil {
		return nil, err
	} else if ok {
		if parsed, err := domain.ParseContentType(ct); err == nil {
			s.snap.ContentType = parsed
		}
	}
	var hist []string
	if ok, err := s.load(ctx, KeyFileHistory, &hist); err != nil {
		return nil, err
	} else if ok && hist != nil {
		s.snap.FileHistory = history.NewRing(history.Capacity, hist...).IDs()
	}
	if _, err := s.load(ctx, KeySidebarCollapsed, &s.snap.SidebarCollapsed); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context, key string, into any) (bool, error) {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.clone()
}

// Subscribe registers callback for changes of the slice returned by selector.
// The callback runs synchronously, after the change is stored, whenever the
// selected value differs from the one last delivered.
func (s *Store) Subscribe(selector func(Snapshot) any, callback func(any)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = &subscription{selector: selector, callback: callback, last: selector(s.snap.clone())}
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Select is the typed form of Subscribe.
func Select[T any](s *Store, selector func(Snapshot) T, callback func(T)) (unsubscribe func()) {
	return s.Subscribe(
		func(snap Snapshot) any { return selector(snap) },
		func(v any) { callback(v.(T)) },
	)
}

func (s *Store) SetContentType(ctx context.Context, t domain.ContentType) error {
	if !t.Valid() {
		return domain.ValidationError{Field: "content_type", Reason: "must be note or todo"}
	}
	return s.update(ctx, func(snap *Snapshot) { snap.ContentType = t })
}

// RecordVisit pushes id onto the file history ring.
func (s *Store) RecordVisit(ctx context.Context, id string) error {
	return s.update(ctx, func(snap *Snapshot) {
		snap.FileHistory = history.Record(snap.FileHistory, id, history.Capacity)
	})
}

// ForgetFile drops id from the file history.
func (s *Store) ForgetFile(ctx context.Context, id string) error {
	return s.update(ctx, func(snap *Snapshot) {
		snap.FileHistory = slices.DeleteFunc(snap.FileHistory, func(v string) bool { return v == id })
	})
}

func (s *Store) SetSidebarCollapsed(ctx context.Context, collapsed bool) error {
	return s.update(ctx, func(snap *Snapshot) { snap.SidebarCollapsed = collapsed })
}

func (s *Store) SetOnline(ctx context.Context, online bool) error {
	return s.update(ctx, func(snap *Snapshot) { snap.Online = online })
}

func (s *Store) SetAvailableOffline(ctx context.Context, available bool) error {
	return s.update(ctx, func(snap *Snapshot) { snap.AvailableOffline = available })
}

// Reset clears persisted keys, restores defaults and drops all subscribers.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range []string{KeyContentType, KeyFileHistory, KeySidebarCollapsed} {
		if err := s.kv.Delete(ctx, k); err != nil {
			return err
		}
	}
	s.snap = defaults()
	s.subs = map[int]*subscription{}
	return nil
}

func (s *Store) update(ctx context.Context, fn func(*Snapshot)) error {
	s.mu.Lock()
	next := s.snap.clone()
	fn(&next)
	if err := s.persist(ctx, s.snap, next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.snap = next

	type delivery struct {
		cb func(any)
		v  any
	}
	var out []delivery
	for _, sub := range s.subs {
		v := sub.selector(next.clone())
		if reflect.DeepEqual(v, sub.last) {
			continue
		}
		sub.last = v
		out = append(out, delivery{sub.callback, v})
	}
	s.mu.Unlock()

	for _, d := range out {
		d.cb(d.v)
	}
	return nil
}

func (s *Store) persist(ctx context.Context, prev, next Snapshot) error {
	write := func(key string, v any) error {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		return s.kv.Set(ctx, key, raw)
	}
	if prev.ContentType != next.ContentType {
		if err := write(KeyContentType, next.ContentType); err != nil {
			return err
		}
	}
	if !slices.Equal(prev.FileHistory, next.FileHistory) {
		if err := write(KeyFileHistory, next.FileHistory); err != nil {
			return err
		}
	}
	if prev.SidebarCollapsed != next.SidebarCollapsed {
		if err := write(KeySidebarCollapsed, next.SidebarCollapsed); err != nil {
			return err
		}
	}
	return nil
}

func (s Snapshot) clone() Snapshot {
	s.FileHistory = slices.Clone(s.FileHistory)
	if s.FileHistory == nil {
		s.FileHistory = []string{}
	}
	return s
}
