package account

import (
	"context"
	"sort"
	"sync"
	"time"

	"radgate.org/internal/ids"
	"radgate.org/internal/policy"
)

// InMemory implements Store with in-process concurrency safety. It backs the
// engine and sweep tests; production runs on the Postgres store.
type InMemory struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	usage    map[string]*UsageRecord
	records  map[string]*DisconnectionRecord
	profiles map[string]*policy.Profile
	cohorts  map[string]*policy.Cohort
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		accounts: make(map[string]*Account),
		usage:    make(map[string]*UsageRecord),
		records:  make(map[string]*DisconnectionRecord),
		profiles: make(map[string]*policy.Profile),
		cohorts:  make(map[string]*policy.Cohort),
	}
}

// PutProfile seeds the policy catalog.
func (s *InMemory) PutProfile(p *policy.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
}

// PutCohort seeds the policy catalog.
func (s *InMemory) PutCohort(c *policy.Cohort) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cohorts[c.ID] = c
}

func (s *InMemory) Get(ctx context.Context, username string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[username]
	if !ok {
		return nil, ErrNotFound
	}
	out := *a
	return &out, nil
}

func (s *InMemory) Create(ctx context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.Username]; ok {
		return ErrAlreadyExists
	}
	if a.State == "" {
		a.State = StateUnprovisioned
	}
	cp := *a
	s.accounts[a.Username] = &cp
	return nil
}

func (s *InMemory) ListEnabled(ctx context.Context) ([]*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []*Account
	for _, a := range s.accounts {
		if a.State == StateActive {
			cp := *a
			res = append(res, &cp)
		}
	}
	sortAccounts(res)
	return res, nil
}

func (s *InMemory) ListByCohort(ctx context.Context, cohortID string) ([]*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []*Account
	for _, a := range s.accounts {
		if a.CohortID == cohortID {
			cp := *a
			res = append(res, &cp)
		}
	}
	sortAccounts(res)
	return res, nil
}

func (s *InMemory) ListUsernames(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]string, 0, len(s.accounts))
	for u := range s.accounts {
		res = append(res, u)
	}
	sort.Strings(res)
	return res, nil
}

func (s *InMemory) Catalog(ctx context.Context) (*policy.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := &policy.Snapshot{
		Profiles: make(map[string]*policy.Profile, len(s.profiles)),
		Cohorts:  make(map[string]*policy.Cohort, len(s.cohorts)),
	}
	for id, p := range s.profiles {
		cp := *p
		snap.Profiles[id] = &cp
	}
	for id, c := range s.cohorts {
		cp := *c
		snap.Cohorts[id] = &cp
	}
	return snap, nil
}

func (s *InMemory) UsageRecord(ctx context.Context, username string) (*UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.usage[username]
	if !ok {
		return nil, ErrNotFound
	}
	out := *rec
	return &out, nil
}

func (s *InMemory) SaveUsage(ctx context.Context, rec *UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.usage[rec.Username] = &cp
	return nil
}

func (s *InMemory) ActiveDisconnection(ctx context.Context, username string) (*DisconnectionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.Username == username && r.Active {
			out := *r
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemory) GetDisconnection(ctx context.Context, id string) (*DisconnectionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *r
	return &out, nil
}

func (s *InMemory) ListDisconnections(ctx context.Context, username string, limit int) ([]*DisconnectionRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []*DisconnectionRecord
	for _, r := range s.records {
		if r.Username == username {
			cp := *r
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].DisconnectedAt.After(res[j].DisconnectedAt) })
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (s *InMemory) MarkProvisioned(ctx context.Context, username string, activatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[username]
	if !ok {
		return ErrNotFound
	}
	a.State = StateActive
	a.UpdatedAt = activatedAt
	if _, ok := s.usage[username]; !ok {
		s.usage[username] = &UsageRecord{
			Username:     username,
			ActivatedAt:  activatedAt,
			TodayResetAt: activatedAt,
			WeekResetAt:  activatedAt,
			MonthResetAt: activatedAt,
			UpdatedAt:    activatedAt,
		}
	}
	return nil
}

func (s *InMemory) MarkDisabled(ctx context.Context, rec *DisconnectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[rec.Username]
	if !ok {
		return ErrNotFound
	}
	for _, r := range s.records {
		if r.Username == rec.Username && r.Active {
			return ErrAlreadyDisabled
		}
	}
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	rec.Active = true
	cp := *rec
	s.records[rec.ID] = &cp
	a.State = StateDisabled
	a.UpdatedAt = rec.DisconnectedAt
	return nil
}

func (s *InMemory) MarkReactivated(ctx context.Context, recordID, by string, at time.Time) (*DisconnectionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[recordID]
	if !ok {
		return nil, ErrNotFound
	}
	if !r.Active {
		return nil, ErrNotDisabled
	}
	a, ok := s.accounts[r.Username]
	if !ok {
		return nil, ErrNotFound
	}
	r.Active = false
	r.ReconnectedAt = &at
	r.ReconnectedBy = by
	a.State = StateActive
	a.UpdatedAt = at
	out := *r
	return &out, nil
}

func sortAccounts(res []*Account) {
	sort.Slice(res, func(i, j int) bool { return res[i].Username < res[j].Username })
}
