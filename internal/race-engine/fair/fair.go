package fair

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
)

// Lista ordenada e fixa de corredores. A ordem importa: a atribuição de
// multiplicadores e o sorteio do vencedor são posicionais.
var racers = []string{"Pepe", "Wojak", "Doge", "Chad", "Milady"}

// Pesos do sorteio do vencedor, decrescentes no multiplicador.
// Multiplicador menor paga menos e ganha mais vezes; é aqui que mora a
// vantagem da casa.
var winnerWeights = map[int]float64{
	2: 0.40,
	3: 0.25,
	4: 0.18,
	5: 0.15,
}

// Pools candidatos de multiplicadores, um valor por corredor.
// O pool especial troca o 4x por um 5x.
var (
	balancedPool = []int{2, 2, 2, 3, 4}
	specialPool  = []int{2, 2, 2, 3, 5}
)

// Racers retorna uma cópia da lista ordenada de corredores
func Racers() []string {
	out := make([]string, len(racers))
	copy(out, racers)
	return out
}

// IsRacer informa se o nome é um corredor conhecido
func IsRacer(name string) bool {
	for _, r := range racers {
		if r == name {
			return true
		}
	}
	return false
}

// NewSeedPair gera um serverSeed de alta entropia (32 bytes hex) e o seu
// compromisso sha256. O hash é publicado na criação da corrida; o seed só é
// revelado na liquidação.
func NewSeedPair() (serverSeed, serverSeedHash string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("seed entropy: %w", err)
	}
	serverSeed = hex.EncodeToString(raw)
	return serverSeed, HashSeed(serverSeed), nil
}

// HashSeed retorna o compromisso sha256 hex de um serverSeed
func HashSeed(serverSeed string) string {
	sum := sha256.Sum256([]byte(serverSeed))
	return hex.EncodeToString(sum[:])
}

// Derive computa o float determinístico em [0,1) de uma tupla
// (serverSeed, clientSeed, raceId, nonce):
// sha256("server:client:race:nonce"), primeiros 4 bytes big-endian / 0xFFFFFFFF.
// Precisa ser bit-exato entre implementações para preservar a auditabilidade.
func Derive(serverSeed, clientSeed, raceID, nonce string) float64 {
	sum := sha256.Sum256([]byte(serverSeed + ":" + clientSeed + ":" + raceID + ":" + nonce))
	n := binary.BigEndian.Uint32(sum[:4])
	return float64(n) / float64(0xFFFFFFFF)
}

// PoolConfig escolhe e embaralha o pool de multiplicadores da corrida.
// O nonce "pool_config" decide entre o pool balanceado e o especial;
// o Fisher-Yates consome os nonces i = len-1 .. 1 em ordem decrescente,
// exatamente a sequência que um auditor reproduz com o seed revelado.
func PoolConfig(serverSeed, clientSeed, raceID string, specialProb float64) map[string]int {
	src := balancedPool
	if Derive(serverSeed, clientSeed, raceID, "pool_config") < specialProb {
		src = specialPool
	}

	pool := make([]int, len(src))
	copy(pool, src)
	for i := len(pool) - 1; i > 0; i-- {
		r := Derive(serverSeed, clientSeed, raceID, strconv.Itoa(i))
		j := int(r * float64(i+1))
		pool[i], pool[j] = pool[j], pool[i]
	}

	m := make(map[string]int, len(racers))
	for i, name := range racers {
		m[name] = pool[i]
	}
	return m
}

// WeightForMultiplier retorna o peso de sorteio de um multiplicador.
// Valores desconhecidos caem no peso do 2x, o mais conservador.
func WeightForMultiplier(mult int) float64 {
	if w, ok := winnerWeights[mult]; ok {
		return w
	}
	return winnerWeights[2]
}

// SelectWinner faz um único sorteio ponderado sobre os corredores na ordem
// fixa, usando o nonce "winner". Erros de arredondamento de ponto flutuante
// podem deixar o sorteio além do peso total; nesse caso o último corredor é
// escolhido em vez de "nenhum vencedor".
func SelectWinner(serverSeed, clientSeed, raceID string, multipliers map[string]int) int {
	weights := make([]float64, len(racers))
	total := 0.0
	for i, name := range racers {
		weights[i] = WeightForMultiplier(multipliers[name])
		total += weights[i]
	}

	draw := Derive(serverSeed, clientSeed, raceID, "winner") * total
	for i, w := range weights {
		if draw < w {
			return i
		}
		draw -= w
	}
	return len(racers) - 1
}
