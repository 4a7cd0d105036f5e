package model

import "time"

// Phase é a fase corrente de uma corrida. As transições são estritamente
// lineares: ready -> betting -> racing -> settling -> intermission.
type Phase string

const (
	PhaseReady        Phase = "ready"
	PhaseBetting      Phase = "betting"
	PhaseRacing       Phase = "racing"
	PhaseSettling     Phase = "settling"
	PhaseIntermission Phase = "intermission"
)

// Valid informa se o valor veio de uma fonte confiável (banco, config)
func (p Phase) Valid() bool {
	switch p {
	case PhaseReady, PhaseBetting, PhaseRacing, PhaseSettling, PhaseIntermission:
		return true
	}
	return false
}

// Terminal informa se a corrida já saiu do ciclo ativo
func (p Phase) Terminal() bool { return p == PhaseIntermission }

// Race é uma rodada de apostas em andamento.
// Mutada apenas pelo scheduler (fase/contadores) até a liquidação.
type Race struct {
	RaceID          string
	Phase           Phase
	ReadyCountdown  int
	BetCountdown    int
	Multipliers     map[string]int // nome do corredor -> multiplicador; imutável após o início de betting
	ServerSeed      string         // segredo, revelado só na liquidação
	ServerSeedHash  string         // sha256(serverSeed), o compromisso publicado na criação
	SpecialPoolProb float64        // limiar do pool especial vigente na criação; gravado junto pra auditoria
	CreatedAt       time.Time
}

// HasCommitment valida os campos do compromisso provably-fair.
// Uma corrida persistida sem eles é considerada malformada e substituída.
func (r *Race) HasCommitment() bool {
	return r.ServerSeed != "" && r.ServerSeedHash != ""
}

// Bet é uma aposta aceita contra uma corrida pendente. Imutável após aceita.
// Multiplier é uma cópia do valor publicado no momento da aposta, nunca uma
// referência ao mapa da corrida.
type Bet struct {
	BetID          string
	RaceID         string
	BettorWallet   string
	TargetName     string
	AmountLamports int64
	Multiplier     int
	TxSignature    string // comprovante de fundos no trilho externo
	CreatedAt      time.Time
}
