package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-onboard/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-onboard/pkg/database"
	"github.com/ekaya-inc/ekaya-onboard/pkg/models"
	"github.com/ekaya-inc/ekaya-onboard/pkg/repositories"
)

// memStore is an in-memory stand-in for the four onboarding tables. Every
// read returns a copy, so callers see stored state only after a write, the
// same as with Postgres.
type memStore struct {
	sessions []models.ConversationSession
	profiles []models.Profile
	products []models.Product
	turns    []models.Turn

	// Fault injection.
	updateFieldsErr  error
	createProductErr error
	appendTurnErr    func(turn *models.Turn) error
	countCurrentHook func(n int) int

	clock time.Time
}

func newMemStore() *memStore {
	return &memStore{clock: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (s *memStore) now() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *memStore) snapshot() memStore {
	snap := *s
	snap.sessions = append([]models.ConversationSession(nil), s.sessions...)
	snap.profiles = append([]models.Profile(nil), s.profiles...)
	snap.products = append([]models.Product(nil), s.products...)
	snap.turns = append([]models.Turn(nil), s.turns...)
	return snap
}

func (s *memStore) restore(snap memStore) {
	s.sessions = snap.sessions
	s.profiles = snap.profiles
	s.products = snap.products
	s.turns = snap.turns
}

func (s *memStore) sessionRepo() *memSessionRepo { return &memSessionRepo{s} }
func (s *memStore) profileRepo() *memProfileRepo { return &memProfileRepo{s} }
func (s *memStore) productRepo() *memProductRepo { return &memProductRepo{s} }
func (s *memStore) turnRepo() *memTurnRepo       { return &memTurnRepo{s} }

// profileOf returns a copy of the stored profile of a session.
func (s *memStore) profileOf(sessionID uuid.UUID) *models.Profile {
	for i := range s.profiles {
		if s.profiles[i].SessionID == sessionID {
			return s.profiles[i].Clone()
		}
	}
	return nil
}

func (s *memStore) currentProfiles(userID uuid.UUID) int {
	n := 0
	for _, p := range s.profiles {
		if p.UserID == userID && p.IsCurrent {
			n++
		}
	}
	return n
}

func (s *memStore) turnsOf(sessionID uuid.UUID) []models.Turn {
	var out []models.Turn
	for _, t := range s.turns {
		if t.SessionID == sessionID {
			out = append(out, t)
		}
	}
	return out
}

// ============================================================================
// Transactor
// ============================================================================

type txKey struct{}

// memTx rolls the store back to its state at the outermost WithinTx when fn
// fails. Nested calls join the outer transaction.
type memTx struct {
	store     *memStore
	commits   int
	rollbacks int
}

var _ database.Transactor = (*memTx)(nil)

func (t *memTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	snap := t.store.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		t.store.restore(snap)
		t.rollbacks++
		return err
	}
	t.commits++
	return nil
}

// ============================================================================
// Sessions
// ============================================================================

type memSessionRepo struct{ s *memStore }

var _ repositories.SessionRepository = (*memSessionRepo)(nil)

func (r *memSessionRepo) Create(_ context.Context, session *models.ConversationSession) error {
	session.ID = uuid.New()
	if session.Status == "" {
		session.Status = models.SessionStatusActive
	}
	session.CreatedAt = r.s.now()
	session.UpdatedAt = session.CreatedAt
	r.s.sessions = append(r.s.sessions, *session)
	return nil
}

func (r *memSessionRepo) Get(_ context.Context, id uuid.UUID) (*models.ConversationSession, error) {
	for _, sess := range r.s.sessions {
		if sess.ID == id {
			c := sess
			return &c, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *memSessionRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.ConversationSession, error) {
	return r.Get(ctx, id)
}

func (r *memSessionRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]*models.ConversationSession, error) {
	var out []*models.ConversationSession
	for _, sess := range r.s.sessions {
		if sess.UserID == userID {
			c := sess
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memSessionRepo) UpdateStatus(_ context.Context, id uuid.UUID, status models.SessionStatus) error {
	for i := range r.s.sessions {
		if r.s.sessions[i].ID == id {
			r.s.sessions[i].Status = status
			r.s.sessions[i].UpdatedAt = r.s.now()
			if status == models.SessionStatusCompleted {
				at := r.s.sessions[i].UpdatedAt
				r.s.sessions[i].CompletedAt = &at
			}
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (r *memSessionRepo) AbandonActive(_ context.Context, userID, exceptID uuid.UUID) (int64, error) {
	var n int64
	for i := range r.s.sessions {
		sess := &r.s.sessions[i]
		if sess.UserID == userID && sess.ID != exceptID && sess.Status == models.SessionStatusActive {
			sess.Status = models.SessionStatusAbandoned
			n++
		}
	}
	return n, nil
}

// ============================================================================
// Profiles
// ============================================================================

type memProfileRepo struct{ s *memStore }

var _ repositories.ProfileRepository = (*memProfileRepo)(nil)

func (r *memProfileRepo) Create(_ context.Context, profile *models.Profile) error {
	profile.ID = uuid.New()
	profile.CreatedAt = r.s.now()
	profile.UpdatedAt = profile.CreatedAt
	stored := profile.Clone()
	stored.Products = nil
	r.s.profiles = append(r.s.profiles, *stored)
	return nil
}

func (r *memProfileRepo) GetBySession(_ context.Context, sessionID uuid.UUID) (*models.Profile, error) {
	if p := r.s.profileOf(sessionID); p != nil {
		return p, nil
	}
	return nil, apperrors.ErrNotFound
}

func (r *memProfileRepo) GetBySessionForUpdate(ctx context.Context, sessionID uuid.UUID) (*models.Profile, error) {
	return r.GetBySession(ctx, sessionID)
}

func (r *memProfileRepo) GetCurrent(_ context.Context, userID uuid.UUID) (*models.Profile, error) {
	for i := range r.s.profiles {
		if r.s.profiles[i].UserID == userID && r.s.profiles[i].IsCurrent {
			return r.s.profiles[i].Clone(), nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *memProfileRepo) CountCurrent(_ context.Context, userID uuid.UUID) (int, error) {
	n := r.s.currentProfiles(userID)
	if r.s.countCurrentHook != nil {
		n = r.s.countCurrentHook(n)
	}
	return n, nil
}

func (r *memProfileRepo) ClearCurrent(_ context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	for i := range r.s.profiles {
		if r.s.profiles[i].UserID == userID && r.s.profiles[i].IsCurrent {
			r.s.profiles[i].IsCurrent = false
			n++
		}
	}
	return n, nil
}

func (r *memProfileRepo) UpdateFields(_ context.Context, profile *models.Profile) error {
	if r.s.updateFieldsErr != nil {
		return r.s.updateFieldsErr
	}
	for i := range r.s.profiles {
		if r.s.profiles[i].ID == profile.ID {
			r.s.profiles[i].CopyScalarsFrom(profile)
			r.s.profiles[i].UpdatedAt = r.s.now()
			return nil
		}
	}
	return apperrors.ErrNotFound
}

// ============================================================================
// Products
// ============================================================================

type memProductRepo struct{ s *memStore }

var _ repositories.ProductRepository = (*memProductRepo)(nil)

func (r *memProductRepo) Create(_ context.Context, product *models.Product) error {
	if r.s.createProductErr != nil {
		return r.s.createProductErr
	}
	if strings.TrimSpace(product.Name) == "" {
		return apperrors.ErrProductNameRequired
	}
	product.ID = uuid.New()
	product.CreatedAt = r.s.now()
	product.UpdatedAt = product.CreatedAt
	r.s.products = append(r.s.products, *product)
	return nil
}

func (r *memProductRepo) Update(_ context.Context, product *models.Product) error {
	for i := range r.s.products {
		if r.s.products[i].ID == product.ID {
			product.UpdatedAt = r.s.now()
			r.s.products[i] = *product
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (r *memProductRepo) GetByExternalID(_ context.Context, profileID uuid.UUID, externalID string) (*models.Product, error) {
	for _, p := range r.s.products {
		if p.ProfileID == profileID && p.ExternalID != "" && p.ExternalID == externalID {
			c := p
			return &c, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *memProductRepo) ListByProfile(_ context.Context, profileID uuid.UUID) ([]*models.Product, error) {
	out := []*models.Product{}
	for _, p := range r.s.products {
		if p.ProfileID == profileID {
			c := p
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *memProductRepo) CountByProfile(ctx context.Context, profileID uuid.UUID) (int, error) {
	list, _ := r.ListByProfile(ctx, profileID)
	return len(list), nil
}

func (r *memProductRepo) CopyToProfile(ctx context.Context, srcProfileID, dstProfileID uuid.UUID) (int64, error) {
	list, _ := r.ListByProfile(ctx, srcProfileID)
	for _, p := range list {
		r.s.products = append(r.s.products, *p.CloneFor(dstProfileID))
	}
	return int64(len(list)), nil
}

// ============================================================================
// Turns
// ============================================================================

type memTurnRepo struct{ s *memStore }

var _ repositories.TurnRepository = (*memTurnRepo)(nil)

func (r *memTurnRepo) Append(_ context.Context, turn *models.Turn) error {
	if r.s.appendTurnErr != nil {
		if err := r.s.appendTurnErr(turn); err != nil {
			return err
		}
	}
	turn.ID = uuid.New()
	turn.Seq = len(r.s.turnsOf(turn.SessionID)) + 1
	turn.CreatedAt = r.s.now()
	r.s.turns = append(r.s.turns, *turn)
	return nil
}

func (r *memTurnRepo) ListBySession(_ context.Context, sessionID uuid.UUID) ([]*models.Turn, error) {
	var out []*models.Turn
	for _, t := range r.s.turnsOf(sessionID) {
		c := t
		out = append(out, &c)
	}
	return out, nil
}

func (r *memTurnRepo) ListRecent(ctx context.Context, sessionID uuid.UUID, limit int) ([]*models.Turn, error) {
	all, _ := r.ListBySession(ctx, sessionID)
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (r *memTurnRepo) Count(_ context.Context, sessionID uuid.UUID) (int, error) {
	return len(r.s.turnsOf(sessionID)), nil
}
