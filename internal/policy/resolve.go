package policy

// Catalog is a read-only view over the Profile and Cohort relations, loaded
// before resolution so Resolve itself performs no I/O.
type Catalog interface {
	Profile(id string) (*Profile, bool)
	Cohort(id string) (*Cohort, bool)
}

// Snapshot is a map-backed Catalog taken at the start of an operation or
// sweep run. Stores hand out Snapshots so every account in one pass resolves
// against the same view.
type Snapshot struct {
	Profiles map[string]*Profile
	Cohorts  map[string]*Cohort
}

func (s *Snapshot) Profile(id string) (*Profile, bool) {
	p, ok := s.Profiles[id]
	return p, ok
}

func (s *Snapshot) Cohort(id string) (*Cohort, bool) {
	c, ok := s.Cohorts[id]
	return c, ok
}

// Resolve maps an account's profile/cohort references to the Profile that
// governs it. A direct profile always wins over the cohort's; an account with
// neither resolves to nil, which still provisions a bare credential row but
// writes no policy attributes. The result is total: every input yields
// exactly one of {a concrete Profile, nil}.
func Resolve(profileID, cohortID string, cat Catalog) *Profile {
	if profileID != "" {
		if p, ok := cat.Profile(profileID); ok {
			return p
		}
	}
	if cohortID != "" {
		if c, ok := cat.Cohort(cohortID); ok && c.ProfileID != "" {
			if p, ok := cat.Profile(c.ProfileID); ok {
				return p
			}
		}
	}
	return nil
}
