package service

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mirrorbot/internal/domain"
	"github.com/alanyoungcy/mirrorbot/internal/platform/manifold"
)

const (
	testMinAmount  = 10.0
	testMirrorCost = 25.0
)

type managramHarness struct {
	svc        *ManagramService
	store      *fakeManagramStore
	adapter    *fakeAdapter
	mirrors    *fakeMirrorStore
	mux        *http.ServeMux
	sent       *[]manifold.SendManagramRequest
	sendStatus *int
}

func newManagramHarness(t *testing.T) *managramHarness {
	t.Helper()

	adapter := &fakeAdapter{
		source:    domain.SourceMetaculus,
		questions: make(map[string]domain.SourceQuestion),
		byURL:     make(map[string]domain.SourceQuestion),
	}
	mirrors := newFakeMirrorStore()
	store := newFakeManagramStore()

	sent := new([]manifold.SendManagramRequest)
	sendStatus := new(int)
	*sendStatus = http.StatusOK

	mux := http.NewServeMux()
	createCalls := 0
	mux.HandleFunc("POST /market", func(w http.ResponseWriter, r *http.Request) {
		var req manifold.CreateMarketRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		createCalls++
		json.NewEncoder(w).Encode(map[string]any{
			"id":       "contract-1",
			"question": req.Question,
			"slug":     "slug-1",
		})
	})
	mux.HandleFunc("POST /managram", func(w http.ResponseWriter, r *http.Request) {
		var req manifold.SendManagramRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if *sendStatus != http.StatusOK {
			w.WriteHeader(*sendStatus)
			w.Write([]byte(`{"message":"insufficient balance"}`))
			return
		}
		*sent = append(*sent, req)
		w.Write([]byte("{}"))
	})
	dest := newDestination(t, mux)

	quota := NewQuotaTracker(mirrors, &fakeReserver{}, nil, testLogger())
	mirrorSvc := NewMirrorService(
		map[domain.Source]domain.SourceAdapter{domain.SourceMetaculus: adapter},
		map[domain.Source]SourcePolicy{domain.SourceMetaculus: {}},
		manifold.Template{TitleRetainEndChars: 25, MaxQuestionLength: 120, MaxDescriptionLength: 10000},
		dest,
		mirrors,
		&fakeThirdPartyStore{},
		quota,
		&fakeLockManager{},
		30*time.Second,
		testNotifier(),
		testLogger(),
	)
	syncSvc := NewSyncService(
		map[domain.Source]domain.SourceAdapter{domain.SourceMetaculus: adapter},
		dest,
		mirrors,
		&fakeThirdPartyStore{},
		"own-user",
		testNotifier(),
		testLogger(),
	)
	svc := NewManagramService(dest, store, mirrorSvc, syncSvc, "own-user", testMinAmount, testMirrorCost, testNotifier(), testLogger())

	return &managramHarness{
		svc:        svc,
		store:      store,
		adapter:    adapter,
		mirrors:    mirrors,
		mux:        mux,
		sent:       sent,
		sendStatus: sendStatus,
	}
}

func (h *managramHarness) seedManagram(t *testing.T, txnID, message string, amount float64) {
	t.Helper()
	require.NoError(t, h.store.Insert(context.Background(), &domain.Managram{
		TxnID:     txnID,
		FromID:    "sender-1",
		ToID:      "own-user",
		CreatedAt: time.Now().Add(-time.Minute),
		Token:     "M$",
		Amount:    amount,
		Message:   message,
	}))
}

func (h *managramHarness) isProcessed(t *testing.T, txnID string) bool {
	t.Helper()
	pending, err := h.store.ListUnprocessed(context.Background())
	require.NoError(t, err)
	for _, m := range pending {
		if m.TxnID == txnID {
			return false
		}
	}
	return true
}

func TestProcessPendingIgnoresUnknownCommands(t *testing.T) {
	h := newManagramHarness(t)
	h.seedManagram(t, "txn-1", "thanks for the markets!", 100)
	h.seedManagram(t, "txn-2", "mirror", 100) // no target

	require.NoError(t, h.svc.ProcessPending(context.Background()))

	assert.True(t, h.isProcessed(t, "txn-1"))
	assert.True(t, h.isProcessed(t, "txn-2"))
	assert.Empty(t, *h.sent)
}

func TestProcessMirrorRequestSuccess(t *testing.T) {
	h := newManagramHarness(t)
	questionURL := "https://www.metaculus.com/questions/123/will-it-happen/"
	h.adapter.byURL[questionURL] = metaculusQuestion("123")
	h.seedManagram(t, "txn-1", "mirror "+questionURL, testMinAmount+testMirrorCost)

	require.NoError(t, h.svc.ProcessPending(context.Background()))

	assert.True(t, h.isProcessed(t, "txn-1"))
	assert.Equal(t, 1, h.mirrors.inserts)
	require.Len(t, *h.sent, 1)
	reply := (*h.sent)[0]
	assert.Equal(t, testMinAmount, reply.Amount)
	assert.Equal(t, []string{"sender-1"}, reply.ToIDs)
	assert.Equal(t, "Success! https://manifold.markets/market/slug-1", reply.Message)
}

func TestProcessMirrorRequestUnderpaid(t *testing.T) {
	h := newManagramHarness(t)
	h.seedManagram(t, "txn-1", "mirror https://www.metaculus.com/questions/123/", 20)

	require.NoError(t, h.svc.ProcessPending(context.Background()))

	assert.True(t, h.isProcessed(t, "txn-1"))
	assert.Equal(t, 0, h.mirrors.inserts)
	require.Len(t, *h.sent, 1)
	refund := (*h.sent)[0]
	assert.Equal(t, 20.0, refund.Amount)
	assert.Equal(t, "mirror failed: please include 35 mana in mirror request", refund.Message)
}

func TestProcessMirrorRequestUnparseableURL(t *testing.T) {
	h := newManagramHarness(t)
	h.seedManagram(t, "txn-1", "mirror https://example.com/not-a-question", 50)

	require.NoError(t, h.svc.ProcessPending(context.Background()))

	require.Len(t, *h.sent, 1)
	refund := (*h.sent)[0]
	assert.Equal(t, 50.0, refund.Amount)
	assert.Equal(t, "mirror failed: failed to parse question url", refund.Message)
}

func TestProcessMirrorRequestDuplicate(t *testing.T) {
	h := newManagramHarness(t)
	questionURL := "https://www.metaculus.com/questions/123/will-it-happen/"
	h.adapter.byURL[questionURL] = metaculusQuestion("123")
	require.NoError(t, h.mirrors.Insert(context.Background(), &domain.MirrorRecord{
		Source:     domain.SourceMetaculus,
		SourceID:   "123",
		ContractID: "contract-0",
		MarketURL:  "https://manifold.markets/market/existing",
	}))
	h.seedManagram(t, "txn-1", "mirror "+questionURL, 50)

	require.NoError(t, h.svc.ProcessPending(context.Background()))

	require.Len(t, *h.sent, 1)
	refund := (*h.sent)[0]
	assert.Equal(t, 50.0, refund.Amount)
	assert.Equal(t, "mirror failed: a mirror already exists at https://manifold.markets/market/existing", refund.Message)
	assert.Equal(t, 1, h.mirrors.inserts)
}

func TestRefundMarksProcessedBeforePaying(t *testing.T) {
	h := newManagramHarness(t)
	*h.sendStatus = http.StatusInternalServerError
	h.seedManagram(t, "txn-1", "mirror https://example.com/not-a-question", 50)

	// The payout fails, but the managram is already marked processed so a
	// retry cannot refund it a second time.
	require.NoError(t, h.svc.ProcessPending(context.Background()))
	assert.True(t, h.isProcessed(t, "txn-1"))
	assert.Empty(t, *h.sent)
}

func TestProcessPingRepaysSender(t *testing.T) {
	h := newManagramHarness(t)
	h.seedManagram(t, "txn-1", "ping", 15)

	require.NoError(t, h.svc.ProcessPending(context.Background()))

	assert.True(t, h.isProcessed(t, "txn-1"))
	require.Len(t, *h.sent, 1)
	reply := (*h.sent)[0]
	assert.Equal(t, 15.0, reply.Amount)
	assert.Equal(t, "pong", reply.Message)
}

func TestProcessResolveRequest(t *testing.T) {
	h := newManagramHarness(t)
	h.mux.HandleFunc("POST /market/{id}/resolve", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	})

	marketURL := "https://manifold.markets/market/slug-5"
	require.NoError(t, h.mirrors.Insert(context.Background(), &domain.MirrorRecord{
		Source:     domain.SourceMetaculus,
		SourceID:   "55",
		ContractID: "contract-5",
		MarketURL:  marketURL,
	}))
	h.adapter.resolutions = map[string]*domain.Outcome{"55": {Kind: domain.OutcomeYes}}
	h.seedManagram(t, "txn-1", "resolve "+marketURL, 15)

	require.NoError(t, h.svc.ProcessPending(context.Background()))

	assert.True(t, h.isProcessed(t, "txn-1"))
	require.Len(t, *h.sent, 1)
	reply := (*h.sent)[0]
	assert.Equal(t, testMinAmount, reply.Amount)
	assert.Equal(t, "Success! resolved "+marketURL, reply.Message)

	rec, err := h.mirrors.GetByContractID(context.Background(), "contract-5")
	require.NoError(t, err)
	assert.True(t, rec.Resolved)
}

func TestProcessResolveRequestNotResolvedYet(t *testing.T) {
	h := newManagramHarness(t)
	marketURL := "https://manifold.markets/market/slug-5"
	require.NoError(t, h.mirrors.Insert(context.Background(), &domain.MirrorRecord{
		Source:     domain.SourceMetaculus,
		SourceID:   "55",
		ContractID: "contract-5",
		MarketURL:  marketURL,
	}))
	h.seedManagram(t, "txn-1", "resolve "+marketURL, 15)

	require.NoError(t, h.svc.ProcessPending(context.Background()))

	require.Len(t, *h.sent, 1)
	refund := (*h.sent)[0]
	assert.Equal(t, 15.0, refund.Amount)
	assert.Equal(t, "resolve failed: the source question has not resolved yet", refund.Message)
}

func TestSyncStoresIncomingManagrams(t *testing.T) {
	h := newManagramHarness(t)
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	h.mux.HandleFunc("GET /managrams", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "own-user", r.URL.Query().Get("toId"))
		json.NewEncoder(w).Encode([]map[string]any{
			{
				"id":          "txn-9",
				"fromId":      "sender-1",
				"toId":        "own-user",
				"createdTime": created.UnixMilli(),
				"token":       "M$",
				"amount":      35.0,
				"data":        map[string]any{"message": "mirror https://www.metaculus.com/questions/123/"},
			},
		})
	})

	stored, err := h.svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stored)

	last, err := h.store.LastTimestamp(context.Background())
	require.NoError(t, err)
	assert.Equal(t, created, last)

	pending, err := h.store.ListUnprocessed(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "txn-9", pending[0].TxnID)
	assert.Equal(t, 35.0, pending[0].Amount)
}
