package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mirrorbot/internal/admission"
	"github.com/alanyoungcy/mirrorbot/internal/domain"
	"github.com/alanyoungcy/mirrorbot/internal/platform/manifold"
)

type mirrorHarness struct {
	svc         *MirrorService
	adapter     *fakeAdapter
	mirrors     *fakeMirrorStore
	thirdParty  *fakeThirdPartyStore
	reserver    *fakeReserver
	locks       *fakeLockManager
	createCalls *int
}

// newMirrorHarness wires a MirrorService against in-memory stores and a stub
// destination API. limit is the metaculus clone budget; zero disables it.
func newMirrorHarness(t *testing.T, limit int64, policy SourcePolicy) *mirrorHarness {
	t.Helper()

	adapter := &fakeAdapter{
		source:    domain.SourceMetaculus,
		questions: make(map[string]domain.SourceQuestion),
		byURL:     make(map[string]domain.SourceQuestion),
	}
	mirrors := newFakeMirrorStore()
	thirdParty := &fakeThirdPartyStore{}
	reserver := &fakeReserver{}
	locks := &fakeLockManager{}

	createCalls := new(int)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /market", func(w http.ResponseWriter, r *http.Request) {
		var req manifold.CreateMarketRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		*createCalls++
		json.NewEncoder(w).Encode(map[string]any{
			"id":       fmt.Sprintf("contract-%d", *createCalls),
			"question": req.Question,
			"slug":     fmt.Sprintf("slug-%d", *createCalls),
		})
	})
	dest := newDestination(t, mux)

	quota := NewQuotaTracker(mirrors, reserver, map[domain.Source]int64{domain.SourceMetaculus: limit}, testLogger())
	svc := NewMirrorService(
		map[domain.Source]domain.SourceAdapter{domain.SourceMetaculus: adapter},
		map[domain.Source]SourcePolicy{domain.SourceMetaculus: policy},
		manifold.Template{
			DescriptionFooter:    "managed by a bot",
			TitleRetainEndChars:  25,
			MaxQuestionLength:    120,
			MaxDescriptionLength: 10000,
		},
		dest,
		mirrors,
		thirdParty,
		quota,
		locks,
		30*time.Second,
		testNotifier(),
		testLogger(),
	)

	return &mirrorHarness{
		svc:         svc,
		adapter:     adapter,
		mirrors:     mirrors,
		thirdParty:  thirdParty,
		reserver:    reserver,
		locks:       locks,
		createCalls: createCalls,
	}
}

func TestAutoMirrorCreatesAndDeduplicates(t *testing.T) {
	h := newMirrorHarness(t, 0, SourcePolicy{})
	h.adapter.candidates = []domain.SourceQuestion{metaculusQuestion("1"), metaculusQuestion("2")}

	stats, err := h.svc.AutoMirror(context.Background(), domain.SourceMetaculus, false)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Candidates)
	assert.Equal(t, 2, stats.Mirrored)
	assert.Equal(t, 2, *h.createCalls)
	assert.Equal(t, 2, h.mirrors.inserts)

	// A second pass over the same candidates creates nothing new.
	stats, err = h.svc.AutoMirror(context.Background(), domain.SourceMetaculus, false)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Mirrored)
	assert.Equal(t, 2, stats.Duplicates)
	assert.Equal(t, 2, *h.createCalls)
	assert.Equal(t, 2, h.mirrors.inserts)
}

func TestAutoMirrorStopsOnSpentQuota(t *testing.T) {
	h := newMirrorHarness(t, 1, SourcePolicy{})
	h.adapter.candidates = []domain.SourceQuestion{
		metaculusQuestion("1"), metaculusQuestion("2"), metaculusQuestion("3"),
	}

	stats, err := h.svc.AutoMirror(context.Background(), domain.SourceMetaculus, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Mirrored)
	assert.True(t, stats.QuotaHit)
	assert.Equal(t, 1, *h.createCalls)
}

func TestAutoMirrorRejectsFilteredCandidates(t *testing.T) {
	policy := SourcePolicy{AutoFilter: admission.FilterConfig{MinForecasters: 25}}
	h := newMirrorHarness(t, 0, policy)

	thin := metaculusQuestion("1")
	thin.Forecasters = 10
	h.adapter.candidates = []domain.SourceQuestion{thin}

	stats, err := h.svc.AutoMirror(context.Background(), domain.SourceMetaculus, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, 0, stats.Mirrored)
	assert.Equal(t, 0, *h.createCalls)
}

func TestMirrorQuestionDryRun(t *testing.T) {
	h := newMirrorHarness(t, 0, SourcePolicy{})
	h.adapter.questions["1"] = metaculusQuestion("1")

	result, err := h.svc.MirrorQuestion(context.Background(), domain.SourceMetaculus, "1", true)
	require.NoError(t, err)
	assert.Equal(t, StatusDryRun, result.Status)
	assert.Equal(t, 0, *h.createCalls)
	assert.Equal(t, 0, h.mirrors.inserts)
	assert.Equal(t, 0, h.reserver.reserved)
}

func TestMirrorQuestionNotFound(t *testing.T) {
	h := newMirrorHarness(t, 0, SourcePolicy{})

	result, err := h.svc.MirrorQuestion(context.Background(), domain.SourceMetaculus, "999", false)
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, result.Status)
}

func TestMirrorQuestionRecordsMarketURL(t *testing.T) {
	h := newMirrorHarness(t, 0, SourcePolicy{})
	h.adapter.questions["1"] = metaculusQuestion("1")

	result, err := h.svc.MirrorQuestion(context.Background(), domain.SourceMetaculus, "1", false)
	require.NoError(t, err)
	require.Equal(t, StatusMirrored, result.Status)
	require.NotNil(t, result.Record)
	assert.Equal(t, "contract-1", result.Record.ContractID)
	assert.Equal(t, "https://manifold.markets/market/slug-1", result.Record.MarketURL)
	assert.Equal(t, "[Metaculus] Question 1?", result.Record.Question)
}

func TestMirrorByURLUnknownHost(t *testing.T) {
	h := newMirrorHarness(t, 0, SourcePolicy{})

	_, err := h.svc.MirrorByURL(context.Background(), "https://example.com/whatever", false)
	assert.ErrorIs(t, err, domain.ErrUnsupportedSource)
}

func TestMirrorSkipsThirdPartyMirrors(t *testing.T) {
	h := newMirrorHarness(t, 0, SourcePolicy{})
	h.adapter.questions["1"] = metaculusQuestion("1")
	require.NoError(t, h.thirdParty.Upsert(context.Background(), &domain.ThirdPartyMirror{
		Source:     domain.SourceMetaculus,
		SourceID:   "1",
		ContractID: "someone-elses",
		MarketURL:  "https://manifold.markets/market/their-mirror",
	}))

	result, err := h.svc.MirrorQuestion(context.Background(), domain.SourceMetaculus, "1", false)
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyMirrored, result.Status)
	assert.Equal(t, "a mirror already exists at https://manifold.markets/market/their-mirror", result.Reason)
	assert.Equal(t, 0, *h.createCalls)
}

func TestMirrorHeldLockReleasesReservation(t *testing.T) {
	h := newMirrorHarness(t, 5, SourcePolicy{})
	h.adapter.questions["1"] = metaculusQuestion("1")
	h.locks.held = map[string]bool{"mirror:metaculus:1": true}

	result, err := h.svc.MirrorQuestion(context.Background(), domain.SourceMetaculus, "1", false)
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyMirrored, result.Status)
	assert.Equal(t, 0, *h.createCalls)
	assert.Equal(t, 1, h.reserver.released)
	assert.Equal(t, 0, h.reserver.confirmed)
}

func TestMirrorConfirmsReservationOnSuccess(t *testing.T) {
	h := newMirrorHarness(t, 5, SourcePolicy{})
	h.adapter.questions["1"] = metaculusQuestion("1")

	result, err := h.svc.MirrorQuestion(context.Background(), domain.SourceMetaculus, "1", false)
	require.NoError(t, err)
	assert.Equal(t, StatusMirrored, result.Status)
	assert.Equal(t, 1, h.reserver.reserved)
	assert.Equal(t, 1, h.reserver.confirmed)
	assert.Equal(t, 0, h.reserver.released)
}
