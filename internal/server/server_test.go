package server

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/escrowsync/internal/archive"
	"github.com/meridianlabs/escrowsync/internal/config"
	"github.com/meridianlabs/escrowsync/internal/escrow"
	"github.com/meridianlabs/escrowsync/internal/evidence"
	"github.com/meridianlabs/escrowsync/internal/mirror"
)

// stubLedger is the minimal escrow.Ledger double these handler tests need.
type stubLedger struct {
	snapshots map[uint64]*escrow.TransactionSnapshot
	snapErr   error
	count     uint64
	events    map[escrow.EventKind][]escrow.Event
	head      uint64
}

func (f *stubLedger) ReadTransaction(_ context.Context, id uint64) (*escrow.TransactionSnapshot, error) {
	if f.snapErr != nil {
		return nil, f.snapErr
	}
	snap, ok := f.snapshots[id]
	if !ok {
		return nil, errors.New("no such transaction")
	}
	cp := *snap
	return &cp, nil
}

func (f *stubLedger) TransactionCount(context.Context) (uint64, error) { return f.count, nil }

func (f *stubLedger) QueryEvents(_ context.Context, kind escrow.EventKind, _, _, _ uint64) ([]escrow.Event, error) {
	return f.events[kind], nil
}

func (f *stubLedger) HeadBlock(context.Context) (uint64, error) { return f.head, nil }

func (f *stubLedger) ArbitratorInfo(context.Context) (string, []byte, error) {
	return "0x4444444444444444444444444444444444444444", nil, nil
}

func testConfig() *config.Config {
	return &config.Config{Port: "0", Env: "development", LogLevel: "error"}
}

func newTestServer(t *testing.T, ledger *stubLedger, opts ...Option) (*Server, *escrow.Broker) {
	t.Helper()
	index := escrow.NewDisputeIndex()
	resolver := escrow.NewDisputeResolver(ledger, nil, index, nil)
	svc := escrow.NewService(
		ledger,
		escrow.NewAggregator(ledger, index, nil),
		resolver,
		24*time.Hour,
		escrow.WithClock(func() time.Time { return time.Unix(2_000_000, 0) }),
	)
	broker := escrow.NewBroker(nil)
	return New(testConfig(), svc, resolver, broker, opts...), broker
}

func doGet(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestTransactionState(t *testing.T) {
	ledger := &stubLedger{
		head: 100,
		snapshots: map[uint64]*escrow.TransactionSnapshot{
			5: {ID: 5, RawStatus: 2, Amount: big.NewInt(1000), LastInteraction: 1_000_000, TimeoutPayment: 600},
		},
	}
	s, _ := newTestServer(t, ledger)

	w := doGet(t, s, "/v1/transactions/5/state")
	require.Equal(t, http.StatusOK, w.Code)

	var state escrow.State
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.Equal(t, uint64(5), state.TransactionID)
	assert.Equal(t, escrow.StatusWaitingReceiver, state.Status)
	assert.True(t, state.Timeout.SenderCanTimeOut)
	require.NotNil(t, state.Snapshot)
}

func TestTransactionStateBadID(t *testing.T) {
	s, _ := newTestServer(t, &stubLedger{})
	w := doGet(t, s, "/v1/transactions/abc/state")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTransactionStateLedgerFailure(t *testing.T) {
	s, _ := newTestServer(t, &stubLedger{snapErr: errors.New("rpc down")})
	w := doGet(t, s, "/v1/transactions/5/state")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestTransactionHistory(t *testing.T) {
	ledger := &stubLedger{
		head: 1000,
		snapshots: map[uint64]*escrow.TransactionSnapshot{
			5: {ID: 5},
		},
		events: map[escrow.EventKind][]escrow.Event{
			escrow.KindPayment: {escrow.PaymentEvent{
				EventBase: escrow.EventBase{TransactionID: 5, BlockNumber: 300, TxHash: "0x7a57"},
				Amount:    big.NewInt(50),
				Party:     "0x1111",
			}},
		},
	}
	s, _ := newTestServer(t, ledger)

	w := doGet(t, s, "/v1/transactions/5/history?from_block=100")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Count  int `json:"count"`
		Events []struct {
			Kind string `json:"kind"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "payment", resp.Events[0].Kind)
}

func TestDisputeTransactionLookup(t *testing.T) {
	ledger := &stubLedger{
		count: 2,
		snapshots: map[uint64]*escrow.TransactionSnapshot{
			0: {ID: 0},
			1: {ID: 1, DisputeID: 9},
		},
	}
	s, _ := newTestServer(t, ledger)

	w := doGet(t, s, "/v1/disputes/9/transaction")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		TransactionID uint64 `json:"transactionId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, uint64(1), resp.TransactionID)

	w = doGet(t, s, "/v1/disputes/77/transaction")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestArchivedEventsWithoutArchive(t *testing.T) {
	s, _ := newTestServer(t, &stubLedger{})
	w := doGet(t, s, "/v1/transactions/5/events")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestArchivedEvents(t *testing.T) {
	store := archive.NewMemoryStore()
	require.NoError(t, store.SaveEvents(context.Background(), []escrow.Event{
		escrow.PaymentEvent{
			EventBase: escrow.EventBase{TransactionID: 5, BlockNumber: 300, TxHash: "0x7a57"},
			Amount:    big.NewInt(50),
		},
	}))

	s, _ := newTestServer(t, &stubLedger{}, WithArchive(store))
	w := doGet(t, s, "/v1/transactions/5/events")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)

	w = doGet(t, s, "/v1/events/recent")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestEvidenceEndpoint(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"contract.pdf","fileURI":"/ipfs/QmFile"}`))
	}))
	defer gateway.Close()

	s, _ := newTestServer(t, &stubLedger{}, WithEvidence(evidence.New(gateway.URL, nil)))

	w := doGet(t, s, "/v1/evidence?uri=/ipfs/QmDoc")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "contract.pdf")

	w = doGet(t, s, "/v1/evidence")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEvidenceEndpointDisabled(t *testing.T) {
	s, _ := newTestServer(t, &stubLedger{})
	w := doGet(t, s, "/v1/evidence?uri=/ipfs/QmDoc")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAddressTransactions(t *testing.T) {
	subgraph := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"escrowTransactions":[{"id":"3"}]}}`))
	}))
	defer subgraph.Close()

	s, _ := newTestServer(t, &stubLedger{}, WithMirror(mirror.New(subgraph.URL, nil)))

	w := doGet(t, s, "/v1/address/0x1111111111111111111111111111111111111111/transactions")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"transactionIds":[3]`)

	w = doGet(t, s, "/v1/address/not-an-address/transactions")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthEndpoints(t *testing.T) {
	s, _ := newTestServer(t, &stubLedger{})

	w := doGet(t, s, "/health/live")
	assert.Equal(t, http.StatusOK, w.Code)

	// Not ready until Run (or SetReady) flips the flag.
	w = doGet(t, s, "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	s.SetReady(true)
	w = doGet(t, s, "/health/ready")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doGet(t, s, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, &stubLedger{})
	w := doGet(t, s, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "escrowsync_")
}

func TestEventStream(t *testing.T) {
	s, broker := newTestServer(t, &stubLedger{})
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	_ = resp.Body.Close()

	// Let the subscription register before publishing.
	require.Eventually(t, func() bool {
		return broker.SubscriberCount() == 1
	}, time.Second, 5*time.Millisecond)

	broker.Publish(escrow.PaymentEvent{
		EventBase: escrow.EventBase{TransactionID: 5, BlockNumber: 300, TxHash: "0x7a57"},
		Amount:    big.NewInt(50),
		Party:     "0x1111",
	})

	var envelope struct {
		Kind  string `json:"kind"`
		Event struct {
			TransactionID uint64 `json:"transactionId"`
		} `json:"event"`
	}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&envelope))
	assert.Equal(t, "payment", envelope.Kind)
	assert.Equal(t, uint64(5), envelope.Event.TransactionID)
}
