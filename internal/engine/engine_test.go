package engine

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/vector-10/compound-safe/internal/alerting"
	"github.com/vector-10/compound-safe/internal/health"
	"github.com/vector-10/compound-safe/internal/position"
	"github.com/vector-10/compound-safe/internal/storage"
)

const testWallet = "0x1111111111111111111111111111111111111111"

type memStore struct {
	mu   sync.Mutex
	subs map[string]storage.Subscriber
}

func newMemStore() *memStore {
	return &memStore{subs: make(map[string]storage.Subscriber)}
}

func (m *memStore) GetSubscriber(_ context.Context, wallet string) (storage.Subscriber, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[wallet]
	return sub, ok, nil
}

func (m *memStore) UpsertSubscriber(_ context.Context, sub storage.Subscriber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.WalletAddress] = sub
	return nil
}

func (m *memStore) DeleteSubscriber(_ context.Context, wallet string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subs[wallet]
	delete(m.subs, wallet)
	return ok, nil
}

func (m *memStore) ListSubscribers(_ context.Context) ([]storage.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]storage.Subscriber, 0, len(m.subs))
	for _, sub := range m.subs {
		out = append(out, sub)
	}
	return out, nil
}

func (m *memStore) CompareAndSetAlertTime(_ context.Context, wallet string, tier alerting.Tier, expected *time.Time, next time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[wallet]
	if !ok {
		return false, nil
	}

	var slot **time.Time
	switch tier {
	case alerting.TierWarning:
		slot = &sub.LastAlert50
	case alerting.TierCritical:
		slot = &sub.LastAlert20
	case alerting.TierEmergency:
		slot = &sub.LastAlert5
	default:
		return false, storage.ErrUnknownTier
	}

	current := *slot
	if (current == nil) != (expected == nil) {
		return false, nil
	}
	if current != nil && !current.Equal(*expected) {
		return false, nil
	}

	stamp := next
	*slot = &stamp
	m.subs[wallet] = sub
	return true, nil
}

var _ storage.SubscriberStore = (*memStore)(nil)

type staticReader struct {
	mu  sync.Mutex
	pos health.Position
	err error
}

func (r *staticReader) ReadPosition(context.Context, common.Address) (health.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pos, r.err
}

func (r *staticReader) set(pos health.Position) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pos = pos
}

var _ position.Reader = (*staticReader)(nil)

type staticPrice struct {
	value float64
	fresh bool
}

func (p staticPrice) CurrentPrice() (float64, bool) {
	return p.value, p.fresh
}

type fakeNotifier struct {
	mu    sync.Mutex
	sent  []string
	fail  bool
	chats []string
}

func (n *fakeNotifier) Send(_ context.Context, chatID, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("send failed")
	}
	n.sent = append(n.sent, text)
	n.chats = append(n.chats, chatID)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func (n *fakeNotifier) setFail(v bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fail = v
}

var _ alerting.Notifier = (*fakeNotifier)(nil)

// testPosition builds raw balances for 10 WETH of collateral and the given
// debt in whole USDC.
func testPosition(debtUSDC int64) health.Position {
	collateral := new(big.Int).Mul(big.NewInt(10), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	debt := new(big.Int).Mul(big.NewInt(debtUSDC), big.NewInt(1_000_000))
	return health.Position{
		SuppliedBase:     big.NewInt(0),
		BorrowedBase:     debt,
		CollateralAmount: collateral,
	}
}

type harness struct {
	engine   *Engine
	store    *memStore
	reader   *staticReader
	notifier *fakeNotifier
	clock    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:    newMemStore(),
		reader:   &staticReader{},
		notifier: &fakeNotifier{},
		clock:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	h.engine = New(h.reader, staticPrice{value: 2000, fresh: true}, h.store, nil, nil, h.notifier, Options{
		LiquidationThreshold: decimal.RequireFromString("0.8"),
		Cooldown:             time.Hour,
		Workers:              2,
	}, zerolog.Nop())
	h.engine.now = func() time.Time { return h.clock }

	if err := h.store.UpsertSubscriber(context.Background(), storage.Subscriber{
		WalletAddress: testWallet,
		ChatID:        "chat-1",
		LinkedAt:      h.clock,
	}); err != nil {
		t.Fatalf("seed subscriber: %v", err)
	}

	return h
}

func (h *harness) advance(d time.Duration) {
	h.clock = h.clock.Add(d)
}

// At 10 WETH x $2000 x 0.8 the borrow ceiling is $16000, so health 15% needs
// $13600 of debt, 18% needs $13120, and 4% needs $15360.

func TestAlertIdempotenceWithinCooldown(t *testing.T) {
	h := newHarness(t)
	h.reader.set(testPosition(13600)) // health 15%, tier 20 breached

	ctx := context.Background()
	if err := h.engine.EvaluateAll(ctx); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	h.advance(10 * time.Minute)
	if err := h.engine.EvaluateAll(ctx); err != nil {
		t.Fatalf("second pass: %v", err)
	}

	if got := h.notifier.count(); got != 1 {
		t.Fatalf("two passes inside cooldown should send exactly once, got %d", got)
	}

	h.advance(time.Hour)
	if err := h.engine.EvaluateAll(ctx); err != nil {
		t.Fatalf("third pass: %v", err)
	}
	if got := h.notifier.count(); got != 2 {
		t.Fatalf("pass after cooldown should send again, got %d", got)
	}
}

func TestTierCooldownsAreIndependent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.reader.set(testPosition(13120)) // health 18%, tier 20
	if err := h.engine.EvaluateAll(ctx); err != nil {
		t.Fatalf("tier-20 pass: %v", err)
	}
	if got := h.notifier.count(); got != 1 {
		t.Fatalf("tier-20 alert expected, got %d sends", got)
	}

	h.advance(5 * time.Minute)
	h.reader.set(testPosition(15360)) // health 4%, tier 5
	if err := h.engine.EvaluateAll(ctx); err != nil {
		t.Fatalf("tier-5 pass: %v", err)
	}
	if got := h.notifier.count(); got != 2 {
		t.Fatalf("tier-5 alert must fire while tier 20 cools down, got %d sends", got)
	}
}

func TestOnlyDeepestTierFiresPerCycle(t *testing.T) {
	h := newHarness(t)
	h.reader.set(testPosition(15360)) // health 4% breaches all three thresholds

	if err := h.engine.EvaluateAll(context.Background()); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if got := h.notifier.count(); got != 1 {
		t.Fatalf("only the deepest tier should notify, got %d sends", got)
	}

	sub, ok, _ := h.store.GetSubscriber(context.Background(), testWallet)
	if !ok {
		t.Fatal("subscriber disappeared")
	}
	if sub.LastAlert5 == nil {
		t.Fatal("tier-5 clock should be set")
	}
	if sub.LastAlert20 != nil || sub.LastAlert50 != nil {
		t.Fatal("shallower tier clocks must stay untouched")
	}
}

func TestHealthyPositionSendsNothing(t *testing.T) {
	h := newHarness(t)
	h.reader.set(testPosition(4000)) // health 75%

	if err := h.engine.EvaluateAll(context.Background()); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if got := h.notifier.count(); got != 0 {
		t.Fatalf("healthy position should not notify, got %d sends", got)
	}
}

func TestFailedSendLeavesCooldownUntouched(t *testing.T) {
	h := newHarness(t)
	h.reader.set(testPosition(13600))
	h.notifier.setFail(true)

	ctx := context.Background()
	if err := h.engine.EvaluateAll(ctx); err != nil {
		t.Fatalf("failing pass: %v", err)
	}
	if got := h.notifier.count(); got != 0 {
		t.Fatalf("failed send should not count, got %d", got)
	}

	sub, _, _ := h.store.GetSubscriber(ctx, testWallet)
	if sub.LastAlert20 != nil {
		t.Fatal("failed send must not advance the alert clock")
	}

	// Retry on the very next cycle, still inside what would have been the
	// cooldown window had the first send gone through.
	h.notifier.setFail(false)
	h.advance(2 * time.Minute)
	if err := h.engine.EvaluateAll(ctx); err != nil {
		t.Fatalf("retry pass: %v", err)
	}
	if got := h.notifier.count(); got != 1 {
		t.Fatalf("retry should send exactly once, got %d", got)
	}
}

func TestReadFailureSkipsWalletWithoutCrash(t *testing.T) {
	h := newHarness(t)
	h.reader.err = errors.New("rpc unreachable")

	if err := h.engine.EvaluateAll(context.Background()); err != nil {
		t.Fatalf("pass should swallow per-wallet errors: %v", err)
	}
	if got := h.notifier.count(); got != 0 {
		t.Fatalf("unreadable wallet should not notify, got %d", got)
	}
}

func TestInvalidAddressIsFlaggedNotFatal(t *testing.T) {
	h := newHarness(t)
	h.reader.set(testPosition(13600))
	if err := h.store.UpsertSubscriber(context.Background(), storage.Subscriber{
		WalletAddress: "not-an-address",
		ChatID:        "chat-2",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := h.engine.EvaluateAll(context.Background()); err != nil {
		t.Fatalf("pass should continue past invalid wallets: %v", err)
	}
	// The valid wallet still alerts.
	if got := h.notifier.count(); got != 1 {
		t.Fatalf("valid wallet should still notify, got %d", got)
	}
}

func TestNoSubscribersIsANoop(t *testing.T) {
	h := newHarness(t)
	if _, err := h.store.DeleteSubscriber(context.Background(), testWallet); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if err := h.engine.EvaluateAll(context.Background()); err != nil {
		t.Fatalf("empty pass should be a no-op: %v", err)
	}
}
