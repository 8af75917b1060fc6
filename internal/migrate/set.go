package migrate

import "context"

// Set groups the managers for the application database and the RADIUS
// database so callers can roll both schemas forward in one step. The
// app database is migrated first: the RADIUS schema is harmless without
// it, while the reverse ordering could leave the service pointing at
// tables that do not exist yet.
type Set struct {
	App    *Manager
	Radius *Manager
}

func NewSet(app, radius *Manager) *Set {
	return &Set{App: app, Radius: radius}
}

// UpAll applies pending migrations on both databases.
func (s *Set) UpAll(ctx context.Context) error {
	if err := s.App.Up(ctx); err != nil {
		return err
	}
	return s.Radius.Up(ctx)
}

// SeedAll applies seed files on both databases.
func (s *Set) SeedAll(ctx context.Context) error {
	if err := s.App.Seed(ctx); err != nil {
		return err
	}
	return s.Radius.Seed(ctx)
}

// StatusAll reports applied migrations per database, keyed by a short
// database label.
func (s *Set) StatusAll(ctx context.Context) (map[string][]string, error) {
	app, err := s.App.Status(ctx)
	if err != nil {
		return nil, err
	}
	rad, err := s.Radius.Status(ctx)
	if err != nil {
		return nil, err
	}
	return map[string][]string{"app": app, "radius": rad}, nil
}
