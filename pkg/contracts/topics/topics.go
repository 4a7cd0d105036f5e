package topics

const (
	// Apostas aceitas (stream de auditoria)
	BetPlaced = "bet_placed"

	// Corridas liquidadas, consumido pelo payout-worker
	RaceSettled = "race_settled"

	// DLQs
	BetPlacedDLQ   = "bet_placed_dlq"
	RaceSettledDLQ = "race_settled_dlq"
)
