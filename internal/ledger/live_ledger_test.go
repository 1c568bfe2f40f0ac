package ledger

import (
	"amm-volume-bot/internal/models"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeRippled answers websocket commands from a table of canned handlers.
// A handler returning a "hangup" key closes the socket without answering.
type fakeRippled struct {
	mu       sync.Mutex
	handlers map[string]func(req map[string]interface{}) map[string]interface{}
	requests []map[string]interface{}
}

func (f *fakeRippled) handle(command string, h func(req map[string]interface{}) map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[command] = h
}

func (f *fakeRippled) received(command string) []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]interface{}
	for _, r := range f.requests {
		if r["command"] == command {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeRippled) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var req map[string]interface{}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		f.mu.Lock()
		f.requests = append(f.requests, req)
		h := f.handlers[req["command"].(string)]
		f.mu.Unlock()

		resp := map[string]interface{}{"id": req["id"], "type": "response"}
		if h == nil {
			resp["status"] = "error"
			resp["error"] = "unknownCmd"
		} else {
			result := h(req)
			if _, ok := result["hangup"]; ok {
				return
			}
			if code, ok := result["error"]; ok {
				resp["status"] = "error"
				resp["error"] = code
			} else {
				resp["status"] = "success"
				resp["result"] = result
			}
		}
		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}

func newLiveWithFake(t *testing.T) (*LiveLedger, *fakeRippled) {
	t.Helper()
	fake := &fakeRippled{handlers: make(map[string]func(map[string]interface{}) map[string]interface{})}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	l := NewLiveLedger("ws"+strings.TrimPrefix(srv.URL, "http"), 2*time.Second, zap.NewNop())
	l.pollPeriod = 5 * time.Millisecond
	require.NoError(t, l.Connect(context.Background()))
	t.Cleanup(func() { _ = l.Disconnect() })
	return l, fake
}

func TestLiveLedgerNotConnected(t *testing.T) {
	l := NewLiveLedger("ws://127.0.0.1:1", time.Second, zap.NewNop())
	_, err := l.NativeBalance(context.Background(), paperAccount)
	assert.True(t, errors.Is(err, models.ErrTransport))
	assert.True(t, errors.Is(err, models.ErrNotConnected))
	assert.False(t, l.IsConnected())
}

func TestLiveLedgerNativeBalance(t *testing.T) {
	l, fake := newLiveWithFake(t)
	fake.handle("account_info", func(req map[string]interface{}) map[string]interface{} {
		return map[string]interface{}{"account_data": map[string]interface{}{"Balance": "12500000"}}
	})

	bal, err := l.NativeBalance(context.Background(), paperAccount)
	require.NoError(t, err)
	assert.Equal(t, 12.5, bal)
	reqs := fake.received("account_info")
	require.Len(t, reqs, 1)
	assert.Equal(t, paperAccount, reqs[0]["account"])
}

func TestLiveLedgerPoolReserves(t *testing.T) {
	l, fake := newLiveWithFake(t)
	fake.handle("amm_info", func(req map[string]interface{}) map[string]interface{} {
		return map[string]interface{}{"amm": map[string]interface{}{
			"amount":  "500000000000",
			"amount2": map[string]interface{}{"currency": "SRF", "issuer": testIssuer, "value": "1000000"},
		}}
	})

	r, err := l.PoolReserves(context.Background(), srfXRP)
	require.NoError(t, err)
	assert.True(t, r.BaseReserve.Equal(decimalN("1000000")))
	assert.True(t, r.QuoteReserve.Equal(decimalN("500000000000")))
	assert.False(t, r.RetrievedAt.IsZero())
}

func TestLiveLedgerPoolNotFound(t *testing.T) {
	l, fake := newLiveWithFake(t)
	fake.handle("amm_info", func(req map[string]interface{}) map[string]interface{} {
		return map[string]interface{}{"error": "actNotFound"}
	})

	_, err := l.PoolReserves(context.Background(), srfXRP)
	assert.True(t, errors.Is(err, models.ErrPoolNotFound))
}

func TestLiveLedgerOpenOffersFollowsMarker(t *testing.T) {
	l, fake := newLiveWithFake(t)
	fake.handle("account_offers", func(req map[string]interface{}) map[string]interface{} {
		if _, ok := req["marker"]; !ok {
			return map[string]interface{}{
				"offers": []interface{}{
					map[string]interface{}{"seq": 5, "taker_gets": "19800000", "taker_pays": map[string]interface{}{"currency": "SRF", "issuer": testIssuer, "value": "40"}},
				},
				"marker": "page2",
			}
		}
		return map[string]interface{}{
			"offers": []interface{}{
				map[string]interface{}{"seq": 9, "taker_gets": map[string]interface{}{"currency": "SRF", "issuer": testIssuer, "value": "39"}, "taker_pays": "19695000"},
				map[string]interface{}{"seq": 11, "taker_gets": map[string]interface{}{"currency": "USD", "issuer": testIssuer, "value": "1"}, "taker_pays": "1000000"},
			},
		}
	})

	offers, err := l.OpenOffers(context.Background(), paperAccount, srfXRP)
	require.NoError(t, err)
	require.Len(t, offers, 2, "offers on other pairs are ignored")
	assert.Equal(t, uint32(5), offers[0].Sequence)
	assert.Equal(t, models.Buy, offers[0].Side)
	assert.Equal(t, uint32(9), offers[1].Sequence)
	assert.Equal(t, models.Sell, offers[1].Side)
	assert.Len(t, fake.received("account_offers"), 2)
}

func TestLiveLedgerSubmitOfferWaitsForValidation(t *testing.T) {
	l, fake := newLiveWithFake(t)
	fake.handle("submit", func(req map[string]interface{}) map[string]interface{} {
		return map[string]interface{}{"engine_result": "tesSUCCESS", "tx_json": map[string]interface{}{"hash": "ABC"}}
	})
	polls := 0
	fake.handle("tx", func(req map[string]interface{}) map[string]interface{} {
		polls++
		if polls == 1 {
			return map[string]interface{}{"error": "txnNotFound"}
		}
		return map[string]interface{}{"validated": polls > 2, "meta": map[string]interface{}{"TransactionResult": "tecKILLED"}}
	})

	w := models.WalletCredential{Seed: "sLiveSeed00000000001", Address: paperAccount}
	intent := paperIntent(models.Sell, 0.505, "39", "19.695", srfXRP)
	receipt, err := l.SubmitOffer(context.Background(), w, intent, models.ImmediateOrCancel)
	require.NoError(t, err)
	assert.Equal(t, "tecKILLED", receipt.Code)
	assert.Equal(t, "ABC", receipt.Hash)

	reqs := fake.received("submit")
	require.Len(t, reqs, 1)
	assert.Equal(t, w.Seed, reqs[0]["secret"])
	tx := reqs[0]["tx_json"].(map[string]interface{})
	assert.Equal(t, "OfferCreate", tx["TransactionType"])
	assert.Equal(t, float64(tfImmediateOrCancel), tx["Flags"])
	assert.Equal(t, "19695000", tx["TakerPays"])
	gets := tx["TakerGets"].(map[string]interface{})
	assert.Equal(t, "39", gets["value"])
}

func TestLiveLedgerSubmitRejectedImmediately(t *testing.T) {
	l, fake := newLiveWithFake(t)
	fake.handle("submit", func(req map[string]interface{}) map[string]interface{} {
		return map[string]interface{}{"engine_result": "tecNO_ENTRY", "tx_json": map[string]interface{}{"hash": "DEF"}}
	})

	w := models.WalletCredential{Seed: "sLiveSeed00000000001", Address: paperAccount}
	receipt, err := l.SubmitCancel(context.Background(), w, 42)
	require.NoError(t, err)
	assert.Equal(t, ResultNoEntry, receipt.Code)
	assert.Empty(t, fake.received("tx"))

	tx := fake.received("submit")[0]["tx_json"].(map[string]interface{})
	assert.Equal(t, "OfferCancel", tx["TransactionType"])
	assert.Equal(t, float64(42), tx["OfferSequence"])
}

func TestLiveLedgerWalletFromSeed(t *testing.T) {
	l, fake := newLiveWithFake(t)
	fake.handle("wallet_propose", func(req map[string]interface{}) map[string]interface{} {
		return map[string]interface{}{"account_id": paperAccount}
	})

	w, err := l.WalletFromSeed(context.Background(), "sLiveSeed00000000001")
	require.NoError(t, err)
	assert.Equal(t, paperAccount, w.Address)
	assert.Equal(t, paperAccount, w.String())
}

func TestLiveLedgerRPCErrorIsLedgerError(t *testing.T) {
	l, _ := newLiveWithFake(t)

	_, err := l.NativeBalance(context.Background(), paperAccount)
	var ledgerErr *models.LedgerError
	require.True(t, errors.As(err, &ledgerErr))
	assert.Equal(t, "unknownCmd", ledgerErr.Code)
}

func TestLiveLedgerDisconnectFailsRequests(t *testing.T) {
	l, _ := newLiveWithFake(t)
	require.NoError(t, l.Disconnect())
	assert.False(t, l.IsConnected())

	_, err := l.PoolReserves(context.Background(), srfXRP)
	assert.True(t, errors.Is(err, models.ErrTransport))
}

func TestLiveLedgerReconnectsAfterServerClose(t *testing.T) {
	l, fake := newLiveWithFake(t)
	var calls atomic.Int32
	fake.handle("account_info", func(req map[string]interface{}) map[string]interface{} {
		if calls.Add(1) == 1 {
			return map[string]interface{}{"hangup": true}
		}
		return map[string]interface{}{"account_data": map[string]interface{}{"Balance": "7000000"}}
	})

	_, err := l.NativeBalance(context.Background(), paperAccount)
	assert.True(t, errors.Is(err, models.ErrTransport))
	require.Eventually(t, func() bool { return !l.IsConnected() }, time.Second, 5*time.Millisecond)

	_, err = l.NativeBalance(context.Background(), paperAccount)
	assert.True(t, errors.Is(err, models.ErrNotConnected))

	require.NoError(t, l.Connect(context.Background()))
	assert.True(t, l.IsConnected())
	bal, err := l.NativeBalance(context.Background(), paperAccount)
	require.NoError(t, err)
	assert.Equal(t, 7.0, bal)
}
