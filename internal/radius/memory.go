package radius

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemory implements Store and Accounting for engine tests. FailWrites
// simulates an authentication-store outage: every write returns the injected
// error while reads keep working. FailUsers scopes the outage to specific
// usernames for partial-failure scenarios, and FailReads breaks the
// accounting relation.
type InMemory struct {
	mu       sync.RWMutex
	checks   map[string]*CheckRow
	replies  map[string][]Attribute
	groups   map[string]string
	sessions []Session

	FailWrites error
	FailUsers  map[string]error
	FailReads  error
}

var (
	_ Store      = (*InMemory)(nil)
	_ Accounting = (*InMemory)(nil)
)

func NewInMemory() *InMemory {
	return &InMemory{
		checks:  make(map[string]*CheckRow),
		replies: make(map[string][]Attribute),
		groups:  make(map[string]string),
	}
}

func (s *InMemory) writeErr(username string) error {
	if s.FailWrites != nil {
		return s.FailWrites
	}
	if err, ok := s.FailUsers[username]; ok {
		return err
	}
	return nil
}

// AddSession appends an accounting row.
func (s *InMemory) AddSession(sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, sess)
}

// Replies returns the reply rows currently stored for a user.
func (s *InMemory) Replies(username string) []Attribute {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Attribute, len(s.replies[username]))
	copy(out, s.replies[username])
	return out
}

// Group returns the user's group membership row, "" when absent.
func (s *InMemory) Group(username string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.groups[username]
}

func (s *InMemory) SetupUser(ctx context.Context, u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr(u.Username); err != nil {
		return err
	}
	s.checks[u.Username] = &CheckRow{
		Username:  u.Username,
		Attribute: AttrPassword,
		Value:     u.Password,
		Enabled:   true,
	}
	replies := make([]Attribute, len(u.Replies))
	copy(replies, u.Replies)
	s.replies[u.Username] = replies
	group := u.Group
	if group == "" {
		group = DefaultGroup
	}
	s.groups[u.Username] = group
	return nil
}

func (s *InMemory) DisableUser(ctx context.Context, username string) error {
	return s.setEnabled(username, false)
}

func (s *InMemory) EnableUser(ctx context.Context, username string) error {
	return s.setEnabled(username, true)
}

func (s *InMemory) setEnabled(username string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr(username); err != nil {
		return err
	}
	row, ok := s.checks[username]
	if !ok {
		return ErrNoCredential
	}
	row.Enabled = enabled
	return nil
}

func (s *InMemory) SetGroup(ctx context.Context, username, group string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr(username); err != nil {
		return err
	}
	s.groups[username] = group
	return nil
}

func (s *InMemory) Check(ctx context.Context, username string) (*CheckRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.checks[username]
	if !ok {
		return nil, ErrNoCredential
	}
	out := *row
	return &out, nil
}

func (s *InMemory) ListUsernames(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.checks))
	for u := range s.checks {
		names = append(names, u)
	}
	sort.Strings(names)
	return names, nil
}

func (s *InMemory) TotalsSince(ctx context.Context, username string, from time.Time) (Octets, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailReads != nil {
		return Octets{}, s.FailReads
	}
	var o Octets
	for _, sess := range s.sessions {
		if sess.Username != username {
			continue
		}
		if !from.IsZero() && sess.StartTime.Before(from) {
			continue
		}
		o.Input += sess.InputOctets
		o.Output += sess.OutputOctets
		o.InputGigawords += sess.InputGigawords
		o.OutputGigawords += sess.OutputGigawords
	}
	return o, nil
}
