package fair

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	goldenSeed   = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa" // "a" x 64
	goldenRaceID = "race_1"
)

func TestDeriveGoldenVectors(t *testing.T) {
	// Vetores de regressão: qualquer mudança em Derive quebra a auditabilidade
	// de todas as corridas já liquidadas.
	cases := []struct {
		nonce string
		want  float64
	}{
		{"winner", 0.8808872967215459},
		{"pool_config", 0.8609156079732151},
		{"scenario", 0.4102693038085171},
		{"1", 0.45066254480058854},
		{"4", 0.682634578245374},
	}
	for _, tc := range cases {
		got := Derive(goldenSeed, goldenRaceID, goldenRaceID, tc.nonce)
		assert.InDelta(t, tc.want, got, 1e-15, "nonce %q", tc.nonce)
	}
}

func TestDeriveIsPure(t *testing.T) {
	a := Derive(goldenSeed, goldenRaceID, goldenRaceID, "winner")
	for i := 0; i < 100; i++ {
		require.Equal(t, a, Derive(goldenSeed, goldenRaceID, goldenRaceID, "winner"))
	}
	assert.GreaterOrEqual(t, a, 0.0)
	assert.Less(t, a, 1.0)
}

func TestDeriveDistinctInputsDiffer(t *testing.T) {
	a := Derive(goldenSeed, goldenRaceID, goldenRaceID, "winner")
	b := Derive(strings.Repeat("b", 64), goldenRaceID, goldenRaceID, "winner")
	c := Derive(goldenSeed, goldenRaceID, goldenRaceID, "scenario")
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestHashSeedGolden(t *testing.T) {
	assert.Equal(t,
		"ffe054fe7ae0cb6dc65c3af9b61d5209f439851db43d0ba5997337df154668eb",
		HashSeed(goldenSeed))
}

func TestNewSeedPair(t *testing.T) {
	seed, hash, err := NewSeedPair()
	require.NoError(t, err)
	assert.Len(t, seed, 64)
	assert.Equal(t, HashSeed(seed), hash)

	seed2, _, err := NewSeedPair()
	require.NoError(t, err)
	assert.NotEqual(t, seed, seed2)
}

func TestPoolConfigGolden(t *testing.T) {
	got := PoolConfig(goldenSeed, goldenRaceID, goldenRaceID, 0.3)
	// derive("pool_config") = 0.86 >= 0.3, então pool balanceado [2,2,2,3,4],
	// embaralhado pelos nonces 4..1
	want := map[string]int{
		"Pepe":   2,
		"Wojak":  2,
		"Doge":   4,
		"Chad":   2,
		"Milady": 3,
	}
	assert.Equal(t, want, got)
}

func TestPoolConfigReproducible(t *testing.T) {
	a := PoolConfig(goldenSeed, goldenRaceID, goldenRaceID, 0.3)
	b := PoolConfig(goldenSeed, goldenRaceID, goldenRaceID, 0.3)
	assert.Equal(t, a, b)

	for _, name := range Racers() {
		assert.Contains(t, a, name)
		assert.Contains(t, []int{2, 3, 4, 5}, a[name])
	}
}

func TestPoolConfigSpecialThreshold(t *testing.T) {
	// Com threshold 1.0 todo seed cai no pool especial, que carrega um 5x
	got := PoolConfig(goldenSeed, goldenRaceID, goldenRaceID, 1.0)
	has5 := false
	for _, m := range got {
		if m == 5 {
			has5 = true
		}
	}
	assert.True(t, has5, "pool especial deve conter um 5x")

	// Com threshold 0 nunca: o maior multiplicador do balanceado é 4x
	got = PoolConfig(goldenSeed, goldenRaceID, goldenRaceID, 0.0)
	for name, m := range got {
		assert.LessOrEqual(t, m, 4, "corredor %s", name)
	}
}

func TestSelectWinnerGoldenFixedMap(t *testing.T) {
	// Vetor dourado: mapa fixo de 5 entradas na ordem dos corredores
	multipliers := map[string]int{
		"Pepe":   2,
		"Wojak":  2,
		"Doge":   3,
		"Chad":   4,
		"Milady": 5,
	}
	idx := SelectWinner(goldenSeed, goldenRaceID, goldenRaceID, multipliers)
	assert.Equal(t, 3, idx) // Chad
}

func TestSelectWinnerGoldenDerivedPool(t *testing.T) {
	multipliers := PoolConfig(goldenSeed, goldenRaceID, goldenRaceID, 0.3)
	idx := SelectWinner(goldenSeed, goldenRaceID, goldenRaceID, multipliers)
	assert.Equal(t, 4, idx) // Milady
}

func TestSelectWinnerDeterministic(t *testing.T) {
	multipliers := map[string]int{"Pepe": 2, "Wojak": 2, "Doge": 3, "Chad": 4, "Milady": 5}
	first := SelectWinner(goldenSeed, goldenRaceID, goldenRaceID, multipliers)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, SelectWinner(goldenSeed, goldenRaceID, goldenRaceID, multipliers))
	}
}

func TestSelectWinnerAlwaysInRange(t *testing.T) {
	// Nunca "nenhum vencedor": o sorteio é clampado no último corredor
	multipliers := map[string]int{"Pepe": 2, "Wojak": 2, "Doge": 3, "Chad": 4, "Milady": 5}
	seeds := []string{goldenSeed, strings.Repeat("b", 64), strings.Repeat("0", 64), strings.Repeat("f", 64)}
	for _, seed := range seeds {
		for i := 0; i < 200; i++ {
			raceID := "race_" + strings.Repeat("x", i%7+1)
			idx := SelectWinner(seed, raceID, raceID, multipliers)
			assert.GreaterOrEqual(t, idx, 0)
			assert.Less(t, idx, len(Racers()))
		}
	}
}

func TestWeightForMultiplierDecreasing(t *testing.T) {
	assert.Greater(t, WeightForMultiplier(2), WeightForMultiplier(3))
	assert.Greater(t, WeightForMultiplier(3), WeightForMultiplier(4))
	assert.Greater(t, WeightForMultiplier(4), WeightForMultiplier(5))
	// valor fora da tabela cai no peso do 2x
	assert.Equal(t, WeightForMultiplier(2), WeightForMultiplier(99))
}

func TestSelectScenarioGolden(t *testing.T) {
	// derive("scenario") = 0.41 -> segunda faixa
	assert.Equal(t, ScenarioFalseLeader, SelectScenario(goldenSeed, goldenRaceID, goldenRaceID))
}

func TestScenarioDoesNotInfluenceWinner(t *testing.T) {
	multipliers := map[string]int{"Pepe": 2, "Wojak": 2, "Doge": 3, "Chad": 4, "Milady": 5}
	before := SelectWinner(goldenSeed, goldenRaceID, goldenRaceID, multipliers)
	_ = SelectScenario(goldenSeed, goldenRaceID, goldenRaceID)
	after := SelectWinner(goldenSeed, goldenRaceID, goldenRaceID, multipliers)
	assert.Equal(t, before, after)
}

func TestPacePositions(t *testing.T) {
	winner := 3
	for _, sc := range []Scenario{ScenarioSlowStartFastFinish, ScenarioFalseLeader, ScenarioCloseRace, ScenarioExplosiveStart} {
		pace := NewPace(goldenSeed, goldenRaceID, goldenRaceID, sc, winner)

		start := pace.Positions(0)
		end := pace.Positions(1)
		names := Racers()

		for _, name := range names {
			assert.GreaterOrEqual(t, start[name], 0.0)
			assert.LessOrEqual(t, end[name], 1.0)
		}

		// no fim o vencedor cruza exatamente em 1.0, à frente de todos
		winnerName := names[winner]
		assert.Equal(t, 1.0, end[winnerName], "scenario %s", sc)
		for _, name := range names {
			if name != winnerName {
				assert.Less(t, end[name], 1.0, "scenario %s racer %s", sc, name)
			}
		}
	}
}
