package identity

import (
	"context"
	"sync"

	"github.com/fyrsmithlabs/taskrelay/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Resolver creates resolution sessions over the two directories.
type Resolver struct {
	profiles  ProfileLookup
	members   MemberDirectory
	threshold float64
	logger    *logging.Logger
	observe   func(outcome string)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l.Named("identity")
		}
	}
}

// WithThreshold sets the confidence threshold reported by Threshold.
func WithThreshold(t float64) Option {
	return func(r *Resolver) {
		if t > 0 {
			r.threshold = t
		}
	}
}

// WithOutcomeObserver receives the source of every fresh resolution, or
// "miss".
func WithOutcomeObserver(fn func(outcome string)) Option {
	return func(r *Resolver) {
		r.observe = fn
	}
}

// NewResolver creates a Resolver. Either directory may be nil.
func NewResolver(profiles ProfileLookup, members MemberDirectory, opts ...Option) *Resolver {
	r := &Resolver{
		profiles:  profiles,
		members:   members,
		threshold: DefaultThreshold,
		logger:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Threshold returns the confidence required for automated flows.
func (r *Resolver) Threshold() float64 {
	return r.threshold
}

// NewSession starts a resolution session, typically one sweep or one
// interactive operation.
func (r *Resolver) NewSession() *Session {
	return &Session{r: r, cache: make(map[string]*Identity)}
}

// Session caches resolutions, misses included. It is safe for concurrent
// use; concurrent lookups of one email share a single resolution.
type Session struct {
	r     *Resolver
	group singleflight.Group

	mu      sync.Mutex
	cache   map[string]*Identity
	members []Member
	loaded  bool
}

// Resolve returns the identity behind email, or nil when nobody matches.
// Directory failures are logged and treated as misses; the only error
// returned is ctx's.
func (s *Session) Resolve(ctx context.Context, email string) (*Identity, error) {
	key := NormalizeEmail(email)
	if key == "" {
		return nil, nil
	}

	s.mu.Lock()
	if id, ok := s.cache[key]; ok {
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	v, err, _ := s.group.Do(key, func() (any, error) {
		id := s.resolve(ctx, key)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.cache[key] = id
		s.mu.Unlock()
		s.r.record(id)
		return id, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Identity), nil
}

// Usable resolves email and applies the resolver threshold.
func (s *Session) Usable(ctx context.Context, email string) (*Identity, bool) {
	id, err := s.Resolve(ctx, email)
	if err != nil {
		return nil, false
	}
	return id, id.Usable(s.r.threshold)
}

func (s *Session) resolve(ctx context.Context, email string) *Identity {
	profile := s.lookupProfile(ctx, email)
	members := s.loadMembers(ctx)

	if profile != nil {
		id := &Identity{
			Email:           email,
			Name:            profile.Name,
			MessagingHandle: profile.Handle,
			Confidence:      ConfidenceExact,
			Source:          SourceExact,
		}
		if m, ok := exactMember(members, email); ok {
			id.DocumentHandle = m.DocumentHandle
			if id.Name == "" {
				id.Name = m.Name
			}
		}
		return id
	}

	if m, ok := exactMember(members, email); ok {
		return s.fromMember(ctx, m, ConfidenceExact, SourceExact, false)
	}
	if m, ok := domainMember(members, email); ok {
		return s.fromMember(ctx, m, ConfidenceDomain, SourceDomain, true)
	}
	if m, sim, ok := nameMember(members, email); ok {
		return s.fromMember(ctx, m, nameConfidence(sim), SourceName, true)
	}
	return nil
}

// fromMember builds an identity for a member, looking up the member's own
// messaging handle when the member's email differs from the query.
func (s *Session) fromMember(ctx context.Context, m Member, confidence float64, src Source, lookup bool) *Identity {
	id := &Identity{
		Email:          NormalizeEmail(m.Email),
		Name:           m.Name,
		DocumentHandle: m.DocumentHandle,
		Confidence:     confidence,
		Source:         src,
	}
	if lookup {
		if p := s.lookupProfile(ctx, id.Email); p != nil {
			id.MessagingHandle = p.Handle
		}
	}
	return id
}

func (s *Session) lookupProfile(ctx context.Context, email string) *Profile {
	if s.r.profiles == nil {
		return nil
	}
	p, err := s.r.profiles.LookupByEmail(ctx, email)
	if err != nil {
		s.r.logger.Warn(ctx, "profile lookup failed, treating as miss",
			zap.String("email", email), zap.Error(err))
		return nil
	}
	return p
}

// loadMembers fetches the member set once per session. A failed load is
// logged and not retried within the session.
func (s *Session) loadMembers(ctx context.Context) []Member {
	s.mu.Lock()
	if s.loaded {
		m := s.members
		s.mu.Unlock()
		return m
	}
	s.mu.Unlock()

	v, _, _ := s.group.Do("\x00members", func() (any, error) {
		var members []Member
		if s.r.members != nil {
			var err error
			members, err = s.r.members.Members(ctx)
			if err != nil {
				s.r.logger.Warn(ctx, "member directory unavailable, treating as empty", zap.Error(err))
				members = nil
			}
		}
		s.mu.Lock()
		s.members, s.loaded = members, true
		s.mu.Unlock()
		return members, nil
	})
	m, _ := v.([]Member)
	return m
}

func (r *Resolver) record(id *Identity) {
	if r.observe == nil {
		return
	}
	if id == nil {
		r.observe("miss")
		return
	}
	r.observe(string(id.Source))
}

func exactMember(members []Member, email string) (Member, bool) {
	for _, m := range members {
		if NormalizeEmail(m.Email) == email {
			return m, true
		}
	}
	return Member{}, false
}

// domainMember matches only when exactly one member shares the domain.
func domainMember(members []Member, email string) (Member, bool) {
	_, domain, ok := splitEmail(email)
	if !ok {
		return Member{}, false
	}
	var (
		found Member
		count int
	)
	for _, m := range members {
		if _, d, ok := splitEmail(NormalizeEmail(m.Email)); ok && d == domain {
			found = m
			count++
		}
	}
	return found, count == 1
}

// nameMember returns the member whose name best matches the local part.
// Ties between different members are ambiguous and yield no match.
func nameMember(members []Member, email string) (Member, float64, bool) {
	local, _, ok := splitEmail(email)
	if !ok {
		return Member{}, 0, false
	}
	want := nameKey(local)
	if want == "" {
		return Member{}, 0, false
	}

	var (
		best    Member
		bestSim float64
		tied    bool
	)
	for _, m := range members {
		key := nameKey(m.Name)
		if key == "" {
			continue
		}
		sim := similarity(want, key)
		switch {
		case sim > bestSim:
			best, bestSim, tied = m, sim, false
		case sim == bestSim && sim > 0:
			tied = true
		}
	}
	if tied || bestSim < minNameSimilarity {
		return Member{}, 0, false
	}
	return best, bestSim, true
}
