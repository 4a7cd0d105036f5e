package settle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/race-engine/internal/race-engine/model"
	"github.com/radieske/race-engine/internal/race-engine/repo"
	"github.com/radieske/race-engine/pkg/contracts/events"
)

// memStore reproduz o contrato transacional do repositório em memória:
// SettleRace ou aplica tudo ou não aplica nada
type memStore struct {
	bets      []model.Bet
	results   map[string]*events.RaceResult
	balances  map[string]int64
	failWith  error
	txApplied int
}

func newMemStore(bets []model.Bet) *memStore {
	return &memStore{
		bets:     bets,
		results:  make(map[string]*events.RaceResult),
		balances: make(map[string]int64),
	}
}

func (m *memStore) FindBetsForRace(_ context.Context, raceID string) ([]model.Bet, error) {
	var out []model.Bet
	for _, b := range m.bets {
		if b.RaceID == raceID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memStore) SettleRace(_ context.Context, res *events.RaceResult, deltas map[string]int64) error {
	if m.failWith != nil {
		return m.failWith
	}
	if _, ok := m.results[res.RaceID]; ok {
		return repo.ErrAlreadySettled
	}
	for wallet, d := range deltas {
		nb := m.balances[wallet] + d
		if nb < 0 {
			nb = 0
		}
		m.balances[wallet] = nb
	}
	cp := *res
	m.results[res.RaceID] = &cp
	m.txApplied++
	return nil
}

func (m *memStore) FindRaceResult(_ context.Context, raceID string) (*events.RaceResult, error) {
	if r, ok := m.results[raceID]; ok {
		return r, nil
	}
	return nil, repo.ErrNotFound
}

func testRace() *model.Race {
	return &model.Race{
		RaceID:          "race_settle_1",
		Phase:           model.PhaseRacing,
		Multipliers:     map[string]int{"Pepe": 2, "Wojak": 2, "Doge": 4, "Chad": 2, "Milady": 3},
		ServerSeed:      "seed",
		ServerSeedHash:  "hash",
		SpecialPoolProb: 0.3,
	}
}

func TestComputePayoutMath(t *testing.T) {
	bets := []model.Bet{
		{BettorWallet: "w1", TargetName: "Doge", AmountLamports: 1000, Multiplier: 3},
		{BettorWallet: "w2", TargetName: "Pepe", AmountLamports: 500, Multiplier: 2},
	}
	settled, deltas := Compute(bets, "Doge", 0.05)

	require.Len(t, settled, 2)

	// vencedora: payout 3000, lucro 2000, rake 100, líquido 2900
	assert.True(t, settled[0].Won)
	assert.Equal(t, int64(3000), settled[0].PayoutLamports)
	assert.Equal(t, int64(2900), settled[0].NetPayoutLamports)
	assert.Equal(t, int64(2900), deltas["w1"])

	// perdedora: payout zero, carteira debitada no valor da aposta
	assert.False(t, settled[1].Won)
	assert.Equal(t, int64(0), settled[1].PayoutLamports)
	assert.Equal(t, int64(0), settled[1].NetPayoutLamports)
	assert.Equal(t, int64(-500), deltas["w2"])
}

func TestComputeAggregatesPerWallet(t *testing.T) {
	bets := []model.Bet{
		{BettorWallet: "w1", TargetName: "Doge", AmountLamports: 1000, Multiplier: 3},
		{BettorWallet: "w1", TargetName: "Doge", AmountLamports: 200, Multiplier: 3},
		{BettorWallet: "w1", TargetName: "Pepe", AmountLamports: 300, Multiplier: 2},
	}
	_, deltas := Compute(bets, "Doge", 0.05)

	// 2900 + 580 - 300
	assert.Equal(t, int64(3180), deltas["w1"])
	assert.Len(t, deltas, 1)
}

func TestComputeRakeSumIdentity(t *testing.T) {
	bets := []model.Bet{
		{BettorWallet: "w1", TargetName: "Doge", AmountLamports: 1000, Multiplier: 3},
		{BettorWallet: "w2", TargetName: "Doge", AmountLamports: 777, Multiplier: 3},
		{BettorWallet: "w3", TargetName: "Chad", AmountLamports: 50, Multiplier: 2},
	}
	settled, _ := Compute(bets, "Doge", 0.05)

	var gross, net, rake int64
	for _, b := range settled {
		if !b.Won {
			continue
		}
		gross += b.PayoutLamports
		net += b.NetPayoutLamports
		rake += b.PayoutLamports - b.NetPayoutLamports
	}
	assert.LessOrEqual(t, net, gross)
	assert.Equal(t, gross-net, rake)
	assert.Positive(t, rake)
}

func TestComputeZeroRake(t *testing.T) {
	bets := []model.Bet{{BettorWallet: "w1", TargetName: "Doge", AmountLamports: 1000, Multiplier: 3}}
	settled, deltas := Compute(bets, "Doge", 0)
	assert.Equal(t, int64(3000), settled[0].NetPayoutLamports)
	assert.Equal(t, int64(3000), deltas["w1"])
}

func TestSettleFreshRace(t *testing.T) {
	store := newMemStore([]model.Bet{
		{RaceID: "race_settle_1", BettorWallet: "w1", TargetName: "Milady", AmountLamports: 1000, Multiplier: 3},
		{RaceID: "race_settle_1", BettorWallet: "w2", TargetName: "Pepe", AmountLamports: 400, Multiplier: 2},
	})
	eng := New(zap.NewNop(), store, 0.05)

	res, settledNow, err := eng.Settle(context.Background(), testRace(), 4) // Milady
	require.NoError(t, err)
	assert.True(t, settledNow)

	assert.Equal(t, "race_settle_1", res.RaceID)
	assert.Equal(t, events.Competitor{Name: "Milady", Multiplier: 3}, res.Winner)
	assert.Len(t, res.Losers, 4)
	assert.Len(t, res.Bets, 2)
	assert.Equal(t, "hash", res.ServerSeedHash)
	assert.Equal(t, "seed", res.ServerSeed)
	assert.Equal(t, 0.3, res.SpecialPoolProb, "limiar da corrida viaja pro resultado")

	// lucro 2000, rake 100
	assert.Equal(t, int64(2900), store.balances["w1"])
	// débito clampado no zero: w2 não tinha saldo
	assert.Equal(t, int64(0), store.balances["w2"])
}

func TestSettleIdempotent(t *testing.T) {
	store := newMemStore([]model.Bet{
		{RaceID: "race_settle_1", BettorWallet: "w1", TargetName: "Milady", AmountLamports: 1000, Multiplier: 3},
	})
	eng := New(zap.NewNop(), store, 0.05)
	race := testRace()

	first, settledNow, err := eng.Settle(context.Background(), race, 4)
	require.NoError(t, err)
	require.True(t, settledNow)

	second, settledNow, err := eng.Settle(context.Background(), race, 4)
	require.NoError(t, err)
	assert.False(t, settledNow)

	// mesmo resultado, nenhuma mutação extra de saldo
	assert.Equal(t, first.RaceID, second.RaceID)
	assert.Equal(t, first.Winner, second.Winner)
	assert.Equal(t, int64(2900), store.balances["w1"])
	assert.Equal(t, 1, store.txApplied)
}

func TestSettleAbortLeavesStateUntouched(t *testing.T) {
	store := newMemStore([]model.Bet{
		{RaceID: "race_settle_1", BettorWallet: "w1", TargetName: "Milady", AmountLamports: 1000, Multiplier: 3},
	})
	store.failWith = errors.New("connection reset")
	eng := New(zap.NewNop(), store, 0.05)

	_, _, err := eng.Settle(context.Background(), testRace(), 4)
	require.Error(t, err)

	assert.Empty(t, store.results)
	assert.Empty(t, store.balances)

	// com o banco de volta, a mesma invocação liquida normalmente
	store.failWith = nil
	res, settledNow, err := eng.Settle(context.Background(), testRace(), 4)
	require.NoError(t, err)
	assert.True(t, settledNow)
	assert.Equal(t, int64(2900), store.balances["w1"])
	assert.NotNil(t, res)
}

func TestSettleWinnerIndexOutOfRange(t *testing.T) {
	eng := New(zap.NewNop(), newMemStore(nil), 0.05)
	_, _, err := eng.Settle(context.Background(), testRace(), 7)
	assert.Error(t, err)
}
