package events

import "encoding/json"

// Tipos de evento do canal de broadcast (Redis Pub/Sub -> WebSocket)
const (
	TypeRaceState    = "raceState"
	TypeRaceStart    = "raceStart"
	TypeRaceProgress = "raceProgress"
	TypeRaceResult   = "raceResult"
	TypeBetPlaced    = "betPlaced"
	TypePayout       = "payout"
)

// Envelope embrulha qualquer evento de broadcast com uma tag de tipo fixa,
// para que o consumidor valide o formato na borda do transporte
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}
