package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/mirrorbot/internal/domain"
	"github.com/alanyoungcy/mirrorbot/internal/notify"
	"github.com/alanyoungcy/mirrorbot/internal/platform/manifold"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testNotifier() *notify.Notifier {
	return notify.NewNotifier(nil, nil, testLogger())
}

// newDestination spins up a stub Manifold API and returns a client pointed at
// it.
func newDestination(t *testing.T, handler http.Handler) *manifold.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return manifold.NewClient(srv.URL, "https://manifold.markets", "test-key")
}

// fakeAdapter serves canned questions and resolutions.
type fakeAdapter struct {
	source      domain.Source
	candidates  []domain.SourceQuestion
	questions   map[string]domain.SourceQuestion
	byURL       map[string]domain.SourceQuestion
	resolutions map[string]*domain.Outcome

	listErr         error
	resolutionErr   error
	resolutionCalls int
}

func (a *fakeAdapter) Source() domain.Source { return a.source }

func (a *fakeAdapter) ListCandidates(ctx context.Context) ([]domain.SourceQuestion, error) {
	if a.listErr != nil {
		return nil, a.listErr
	}
	return a.candidates, nil
}

func (a *fakeAdapter) GetQuestion(ctx context.Context, id string) (domain.SourceQuestion, error) {
	q, ok := a.questions[id]
	if !ok {
		return domain.SourceQuestion{}, domain.ErrNotFound
	}
	return q, nil
}

func (a *fakeAdapter) ResolveByURL(ctx context.Context, rawURL string) (domain.SourceQuestion, error) {
	q, ok := a.byURL[rawURL]
	if !ok {
		return domain.SourceQuestion{}, domain.ErrNotFound
	}
	return q, nil
}

func (a *fakeAdapter) CheckResolution(ctx context.Context, id string) (*domain.Outcome, error) {
	a.resolutionCalls++
	if a.resolutionErr != nil {
		return nil, a.resolutionErr
	}
	return a.resolutions[id], nil
}

// fakeMirrorStore is an in-memory mirror registry.
type fakeMirrorStore struct {
	mu      sync.Mutex
	nextID  int64
	records []*domain.MirrorRecord
	inserts int
}

func newFakeMirrorStore() *fakeMirrorStore {
	return &fakeMirrorStore{}
}

func (s *fakeMirrorStore) Insert(ctx context.Context, rec *domain.MirrorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if (r.Source == rec.Source && r.SourceID == rec.SourceID) || r.ContractID == rec.ContractID {
			return domain.ErrDuplicateMirror
		}
	}
	s.nextID++
	rec.ID = s.nextID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	clone := *rec
	s.records = append(s.records, &clone)
	s.inserts++
	return nil
}

func (s *fakeMirrorStore) GetBySource(ctx context.Context, source domain.Source, sourceID string) (*domain.MirrorRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.Source == source && r.SourceID == sourceID {
			clone := *r
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *fakeMirrorStore) GetByContractID(ctx context.Context, contractID string) (*domain.MirrorRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ContractID == contractID {
			clone := *r
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *fakeMirrorStore) FindByDestinationURL(ctx context.Context, rawURL string) (*domain.MirrorRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.MarketURL == rawURL {
			clone := *r
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *fakeMirrorStore) ListUnresolved(ctx context.Context, source domain.Source) ([]domain.MirrorRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.MirrorRecord
	for _, r := range s.records {
		if r.Resolved {
			continue
		}
		if source != "" && r.Source != source {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

func (s *fakeMirrorStore) ListAll(ctx context.Context, resolvedOnly bool) ([]domain.MirrorRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.MirrorRecord
	for _, r := range s.records {
		if resolvedOnly && !r.Resolved {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

func (s *fakeMirrorStore) ListResolvedBefore(ctx context.Context, cutoff time.Time) ([]domain.MirrorRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.MirrorRecord
	for _, r := range s.records {
		if r.Resolved && r.ResolvedAt != nil && r.ResolvedAt.Before(cutoff) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *fakeMirrorStore) CountCreatedSince(ctx context.Context, source domain.Source, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.records {
		if r.Source == source && !r.CreatedAt.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

func (s *fakeMirrorStore) MarkResolved(ctx context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ID == id {
			if r.Resolved {
				return domain.ErrAlreadyResolved
			}
			r.Resolved = true
			r.ResolvedAt = &at
			return nil
		}
	}
	return domain.ErrNotFound
}

// fakeThirdPartyStore is an in-memory third-party mirror registry.
type fakeThirdPartyStore struct {
	mu      sync.Mutex
	mirrors []domain.ThirdPartyMirror
}

func (s *fakeThirdPartyStore) Upsert(ctx context.Context, m *domain.ThirdPartyMirror) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.mirrors {
		if existing.ContractID == m.ContractID {
			return nil
		}
	}
	s.mirrors = append(s.mirrors, *m)
	return nil
}

func (s *fakeThirdPartyStore) GetBySource(ctx context.Context, source domain.Source, sourceID string) (*domain.ThirdPartyMirror, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.mirrors {
		if m.Source == source && m.SourceID == sourceID {
			clone := m
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *fakeThirdPartyStore) ListAll(ctx context.Context) ([]domain.ThirdPartyMirror, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ThirdPartyMirror(nil), s.mirrors...), nil
}

// fakeManagramStore is an in-memory managram log.
type fakeManagramStore struct {
	mu        sync.Mutex
	managrams map[string]*domain.Managram
	processed []string
}

func newFakeManagramStore() *fakeManagramStore {
	return &fakeManagramStore{managrams: make(map[string]*domain.Managram)}
}

func (s *fakeManagramStore) Insert(ctx context.Context, m *domain.Managram) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.managrams[m.TxnID]; ok {
		return nil
	}
	clone := *m
	s.managrams[m.TxnID] = &clone
	return nil
}

func (s *fakeManagramStore) LastTimestamp(ctx context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last time.Time
	for _, m := range s.managrams {
		if m.CreatedAt.After(last) {
			last = m.CreatedAt
		}
	}
	return last, nil
}

func (s *fakeManagramStore) ListUnprocessed(ctx context.Context) ([]domain.Managram, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Managram
	for _, m := range s.managrams {
		if !m.Processed {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *fakeManagramStore) ListProcessedBefore(ctx context.Context, cutoff time.Time) ([]domain.Managram, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Managram
	for _, m := range s.managrams {
		if m.Processed && m.CreatedAt.Before(cutoff) {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *fakeManagramStore) MarkProcessed(ctx context.Context, txnID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.managrams[txnID]
	if !ok {
		return domain.ErrNotFound
	}
	m.Processed = true
	s.processed = append(s.processed, txnID)
	return nil
}

// fakeLockManager grants every lock unless told a name is held.
type fakeLockManager struct {
	held map[string]bool
}

func (lm *fakeLockManager) Acquire(ctx context.Context, name string, ttl time.Duration) (domain.Unlocker, error) {
	if lm.held[name] {
		return nil, domain.ErrLockHeld
	}
	return fakeUnlocker{}, nil
}

type fakeUnlocker struct{}

func (fakeUnlocker) Unlock(context.Context) error { return nil }

// fakeReserver always grants a slot and counts reservation outcomes.
type fakeReserver struct {
	reserved  int
	confirmed int
	released  int
}

func (r *fakeReserver) Reserve(ctx context.Context, source domain.Source, remaining int64) (domain.Reservation, error) {
	r.reserved++
	return &fakeReservation{reserver: r}, nil
}

type fakeReservation struct {
	reserver *fakeReserver
}

func (res *fakeReservation) Confirm(context.Context) error {
	res.reserver.confirmed++
	return nil
}

func (res *fakeReservation) Release(context.Context) error {
	res.reserver.released++
	return nil
}

// metaculusQuestion builds an open, eligible question snapshot.
func metaculusQuestion(id string) domain.SourceQuestion {
	p := 0.5
	return domain.SourceQuestion{
		Source:              domain.SourceMetaculus,
		ID:                  id,
		Title:               fmt.Sprintf("Question %s?", id),
		URL:                 fmt.Sprintf("https://www.metaculus.com/questions/%s/", id),
		CreatedAt:           time.Now().Add(-48 * time.Hour),
		ClosesAt:            time.Now().Add(30 * 24 * time.Hour),
		Open:                true,
		Forecasters:         40,
		Votes:               50,
		CommunityPrediction: &p,
	}
}
