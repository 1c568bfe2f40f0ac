package bot

import (
	"amm-volume-bot/internal/config"
	"amm-volume-bot/internal/models"
	"amm-volume-bot/internal/statemanager"
	"amm-volume-bot/internal/wallet"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	walletA = "rPEPPER7kfTD9w2To4CQk6UCfuHM9c6GDY"
	walletB = "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"
	walletC = "rDsbeomae4FXwgQTJp9Rs64Qg9vDiTCdBv"
	issuer  = "rvYAfWj5gh67oV6fW32ZzP3Aw4Eubs59B"
)

var testPair = models.Pair{
	Base:  models.Asset{Currency: "SRF", Issuer: issuer},
	Quote: models.Asset{Currency: "USD", Issuer: issuer},
}

type submitCall struct {
	address string
	intent  models.OfferIntent
	flag    models.ExecutionFlag
}

// mockLedger is a hand-written Ledger used to drive the loop deterministically.
type mockLedger struct {
	mu              sync.Mutex
	connected       bool
	connectCalls    int
	connectErr      error
	disconnectCalls int
	balances        map[string]float64
	balanceErr      map[string]error
	failPrice       map[string]bool
	current         string
	visits          []string
	submits         []submitCall
	cancels         []uint32
	open            map[string][]models.OpenOffer
	submitCode      string
	seq             uint32
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		balances:   make(map[string]float64),
		balanceErr: make(map[string]error),
		failPrice:  make(map[string]bool),
		open:       make(map[string][]models.OpenOffer),
		submitCode: "tesSUCCESS",
	}
}

func (m *mockLedger) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectCalls++
	if m.connectErr != nil {
		return m.connectErr
	}
	m.connected = true
	return nil
}

// drop simulates the server closing the socket.
func (m *mockLedger) drop(connectErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.connectErr = connectErr
}

func (m *mockLedger) setConnectErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectErr = err
}

func (m *mockLedger) getConnectCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectCalls
}

func (m *mockLedger) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.disconnectCalls++
	return nil
}

func (m *mockLedger) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockLedger) NativeBalance(ctx context.Context, address string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return 0, fmt.Errorf("%w: %w", models.ErrTransport, models.ErrNotConnected)
	}
	m.current = address
	m.visits = append(m.visits, address)
	if err := m.balanceErr[address]; err != nil {
		return 0, err
	}
	if b, ok := m.balances[address]; ok {
		return b, nil
	}
	return 100, nil
}

func (m *mockLedger) PoolReserves(ctx context.Context, pair models.Pair) (*models.PoolReserves, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPrice[m.current] {
		return nil, fmt.Errorf("%w: test pool", models.ErrPoolNotFound)
	}
	return &models.PoolReserves{
		Base:         pair.Base,
		Quote:        pair.Quote,
		BaseReserve:  decimal.NewFromInt(1_000_000),
		QuoteReserve: decimal.NewFromInt(500_000),
		RetrievedAt:  time.Now(),
	}, nil
}

func (m *mockLedger) OpenOffers(ctx context.Context, address string, pair models.Pair) ([]models.OpenOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.OpenOffer(nil), m.open[address]...), nil
}

func (m *mockLedger) SubmitOffer(ctx context.Context, w models.WalletCredential, intent models.OfferIntent, flag models.ExecutionFlag) (models.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return models.Receipt{}, fmt.Errorf("%w: %w", models.ErrTransport, models.ErrNotConnected)
	}
	m.seq++
	m.submits = append(m.submits, submitCall{address: w.Address, intent: intent, flag: flag})
	if m.submitCode == "tesSUCCESS" && flag == models.Passive {
		m.open[w.Address] = append(m.open[w.Address], models.OpenOffer{Sequence: m.seq, Account: w.Address, Side: intent.Side})
	}
	return models.Receipt{Code: m.submitCode, Hash: fmt.Sprintf("H%d", m.seq)}, nil
}

func (m *mockLedger) SubmitCancel(ctx context.Context, w models.WalletCredential, sequence uint32) (models.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels = append(m.cancels, sequence)
	kept := m.open[w.Address][:0]
	for _, o := range m.open[w.Address] {
		if o.Sequence != sequence {
			kept = append(kept, o)
		}
	}
	m.open[w.Address] = kept
	return models.Receipt{Code: "tesSUCCESS"}, nil
}

func (m *mockLedger) getVisits() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.visits...)
}

func (m *mockLedger) resetVisits() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visits = nil
}

func (m *mockLedger) getSubmits() []submitCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]submitCall(nil), m.submits...)
}

// recordingSink collects dispatched events.
type recordingSink struct {
	mu     sync.Mutex
	events []statemanager.NormalizedEvent
}

func (r *recordingSink) DispatchEvent(e statemanager.NormalizedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) count(t statemanager.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func testConfig() *models.Config {
	cfg := &models.Config{Pair: testPair, DelaySec: 3600}
	config.ApplyDefaults(cfg)
	return cfg
}

func testParams() models.TradeParams {
	return models.TradeParams{Notional: 20, SpreadPct: 1}
}

func newTestBot(t *testing.T, cfg *models.Config, l *mockLedger, sink EventSink, addrs ...string) *VolumeBot {
	t.Helper()
	creds := make([]models.WalletCredential, len(addrs))
	for i, a := range addrs {
		creds[i] = models.WalletCredential{Seed: "sEdTestSeed000000000" + fmt.Sprint(i), Address: a}
	}
	b, err := NewVolumeBot(cfg, l, wallet.NewPool(creds), sink, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(b.Stop)
	return b
}

func waitForCycle(t *testing.T, b *VolumeBot, cycle uint64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return b.Snapshot().Cycle >= cycle
	}, 2*time.Second, 5*time.Millisecond)
}

func TestNewVolumeBotRejectsEmptyPool(t *testing.T) {
	_, err := NewVolumeBot(testConfig(), newMockLedger(), wallet.NewPool(nil), nil, zap.NewNop())
	assert.Error(t, err)
}

func TestFirstCycleEndToEnd(t *testing.T) {
	l := newMockLedger()
	b := newTestBot(t, testConfig(), l, nil, walletA)

	require.NoError(t, b.Start(testParams()))
	waitForCycle(t, b, 1)

	submits := l.getSubmits()
	require.Len(t, submits, 1)
	assert.Equal(t, models.Buy, submits[0].intent.Side)
	assert.InDelta(t, 0.495, submits[0].intent.LimitPrice, 1e-12)
	assert.Equal(t, int64(40), submits[0].intent.Quantity)
	assert.Equal(t, models.Passive, submits[0].flag)

	snap := b.Snapshot()
	assert.True(t, snap.Running)
	assert.InDelta(t, 0.5, snap.LastPrice, 1e-12)
	assert.Equal(t, 0, snap.ActiveOffers, "cancel-after-place should leave no resting offers")
}

func TestBothSidesPolicyPlacesSellThenBuy(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy.Sides = config.SidesBoth
	l := newMockLedger()
	b := newTestBot(t, cfg, l, nil, walletA)

	require.NoError(t, b.Start(testParams()))
	waitForCycle(t, b, 1)

	submits := l.getSubmits()
	require.Len(t, submits, 2)
	assert.Equal(t, models.Sell, submits[0].intent.Side)
	assert.Equal(t, models.ImmediateOrCancel, submits[0].flag)
	assert.InDelta(t, 0.505, submits[0].intent.LimitPrice, 1e-12)
	assert.Equal(t, int64(39), submits[0].intent.Quantity)
	assert.Equal(t, models.Buy, submits[1].intent.Side)
}

func TestWalletFailureIsIsolated(t *testing.T) {
	l := newMockLedger()
	l.failPrice[walletB] = true
	sink := &recordingSink{}
	b := newTestBot(t, testConfig(), l, sink, walletA, walletB, walletC)

	require.NoError(t, b.Start(testParams()))
	waitForCycle(t, b, 1)

	assert.Equal(t, []string{walletA, walletB, walletC}, l.getVisits()[:3])
	var addrs []string
	for _, s := range l.getSubmits() {
		addrs = append(addrs, s.address)
	}
	assert.Equal(t, []string{walletA, walletC}, addrs)
	assert.Equal(t, 1, sink.count(statemanager.WalletSkippedEvent))
	assert.Equal(t, 1, sink.count(statemanager.CycleCompletedEvent))
}

func TestBalanceBelowFloorSkipsWallet(t *testing.T) {
	l := newMockLedger()
	l.balances[walletA] = 2.99
	l.balances[walletB] = 3
	b := newTestBot(t, testConfig(), l, nil, walletA, walletB)

	require.NoError(t, b.Start(testParams()))
	waitForCycle(t, b, 1)

	submits := l.getSubmits()
	require.Len(t, submits, 1)
	assert.Equal(t, walletB, submits[0].address)
	assert.Equal(t, models.Sell, submits[0].intent.Side, "second traversal position sells")
}

func TestZeroQuantityIsNotSubmitted(t *testing.T) {
	l := newMockLedger()
	sink := &recordingSink{}
	b := newTestBot(t, testConfig(), l, sink, walletA)

	params := testParams()
	params.Notional = 0.1
	require.NoError(t, b.Start(params))
	waitForCycle(t, b, 1)

	assert.Empty(t, l.getSubmits())
	assert.Equal(t, 1, sink.count(statemanager.OfferSuppressedEvent))
}

func TestRejectedOfferDoesNotStopCycle(t *testing.T) {
	l := newMockLedger()
	l.submitCode = "tecUNFUNDED_OFFER"
	sink := &recordingSink{}
	b := newTestBot(t, testConfig(), l, sink, walletA, walletB)

	require.NoError(t, b.Start(testParams()))
	waitForCycle(t, b, 1)

	assert.Len(t, l.getSubmits(), 2)
	assert.Equal(t, 2, sink.count(statemanager.OfferRejectedEvent))
}

func TestCancelAfterPlaceDisabledKeepsOffers(t *testing.T) {
	cfg := testConfig()
	off := false
	cfg.Strategy.CancelAfterPlace = &off
	l := newMockLedger()
	b := newTestBot(t, cfg, l, nil, walletA, walletB, walletC)

	require.NoError(t, b.Start(testParams()))
	waitForCycle(t, b, 1)

	// positions 0 and 2 buy passively, position 1 sells immediate-or-cancel
	assert.Equal(t, 2, b.Snapshot().ActiveOffers)
}

func TestTraversalAlternatesAcrossCycles(t *testing.T) {
	l := newMockLedger()
	b := newTestBot(t, testConfig(), l, nil, walletA, walletB, walletC)
	b.delay = time.Millisecond

	require.NoError(t, b.Start(testParams()))
	waitForCycle(t, b, 2)
	b.Stop()

	visits := l.getVisits()
	require.GreaterOrEqual(t, len(visits), 6)
	assert.Equal(t, []string{walletA, walletB, walletC}, visits[:3])
	assert.Equal(t, []string{walletC, walletB, walletA}, visits[3:6])
}

func TestStopThenStartResetsToForwardTraversal(t *testing.T) {
	l := newMockLedger()
	b := newTestBot(t, testConfig(), l, nil, walletA, walletB)

	require.NoError(t, b.Start(testParams()))
	waitForCycle(t, b, 1)
	b.Stop()

	snap := b.Snapshot()
	assert.False(t, snap.Running)
	assert.Equal(t, uint64(0), snap.Cycle)
	assert.False(t, l.IsConnected())

	l.resetVisits()
	require.NoError(t, b.Start(testParams()))
	waitForCycle(t, b, 1)
	assert.Equal(t, []string{walletA, walletB}, l.getVisits()[:2])
}

func TestDoubleStartIsNoop(t *testing.T) {
	l := newMockLedger()
	b := newTestBot(t, testConfig(), l, nil, walletA)

	require.NoError(t, b.Start(testParams()))
	require.NoError(t, b.Start(testParams()))
	assert.True(t, b.IsRunning())

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Equal(t, 1, l.connectCalls)
}

func TestStopIsIdempotent(t *testing.T) {
	l := newMockLedger()
	b := newTestBot(t, testConfig(), l, nil, walletA)

	b.Stop()
	require.NoError(t, b.Start(testParams()))
	waitForCycle(t, b, 1)
	b.Stop()
	b.Stop()

	assert.False(t, b.IsRunning())
	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Equal(t, 1, l.disconnectCalls)
}

func TestStartRejectsInvalidParams(t *testing.T) {
	l := newMockLedger()
	b := newTestBot(t, testConfig(), l, nil, walletA)

	err := b.Start(models.TradeParams{Notional: 20, SpreadPct: 150})
	assert.Error(t, err)
	assert.False(t, b.IsRunning())
}

func TestStopWaitsForInFlightCycle(t *testing.T) {
	l := newMockLedger()
	sink := &recordingSink{}
	b := newTestBot(t, testConfig(), l, sink, walletA, walletB, walletC)

	require.NoError(t, b.Start(testParams()))
	b.Stop()

	// Once Stop returns the loop has exited; no further wallets are visited.
	n := len(l.getVisits())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, len(l.getVisits()))
	assert.Equal(t, 2, sink.count(statemanager.RunStateChangedEvent))
}

func TestReconnectsAfterConnectionDrop(t *testing.T) {
	l := newMockLedger()
	b := newTestBot(t, testConfig(), l, nil, walletA)
	b.delay = time.Millisecond

	require.NoError(t, b.Start(testParams()))
	waitForCycle(t, b, 1)
	l.drop(nil)
	before := len(l.getSubmits())

	require.Eventually(t, func() bool {
		return l.getConnectCalls() >= 2 && len(l.getSubmits()) > before
	}, 2*time.Second, 5*time.Millisecond, "offers resume once the ledger is reconnected")
	assert.True(t, b.IsRunning())
	assert.True(t, l.IsConnected())
}

func TestFailedReconnectSkipsCycleAndRetries(t *testing.T) {
	l := newMockLedger()
	sink := &recordingSink{}
	b := newTestBot(t, testConfig(), l, sink, walletA, walletB)
	b.delay = time.Millisecond

	require.NoError(t, b.Start(testParams()))
	waitForCycle(t, b, 1)
	l.drop(fmt.Errorf("%w: dial refused", models.ErrTransport))

	require.Eventually(t, func() bool { return l.getConnectCalls() >= 4 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, b.IsRunning(), "a failed reconnect is not fatal")
	stalled := b.Snapshot().Cycle
	submits := len(l.getSubmits())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stalled, b.Snapshot().Cycle, "skipped cycles do not advance the counter")
	assert.Equal(t, submits, len(l.getSubmits()))

	l.setConnectErr(nil)
	waitForCycle(t, b, stalled+1)
	assert.Greater(t, len(l.getSubmits()), submits)
}
