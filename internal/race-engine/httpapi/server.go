// Package httpapi expõe a API REST do motor de corrida: estado corrente,
// histórico, resultados, verificação provably-fair e submissão de apostas.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/radieske/race-engine/internal/race-engine/fair"
	"github.com/radieske/race-engine/internal/race-engine/model"
	"github.com/radieske/race-engine/internal/race-engine/repo"
	"github.com/radieske/race-engine/internal/race-engine/treasury"
	"github.com/radieske/race-engine/pkg/contracts/events"
)

// RaceStore é o recorte de leitura/escrita do repositório usado pela API.
type RaceStore interface {
	FindOpenRace(ctx context.Context) (*model.Race, error)
	CreateBetIfBetting(ctx context.Context, b *model.Bet) (string, error)
	FindRaceResult(ctx context.Context, raceID string) (*events.RaceResult, error)
	ListRaceResults(ctx context.Context, limit int) ([]events.RaceResult, error)
}

// StateCache devolve o snapshot corrente da corrida sem bater no Postgres.
type StateCache interface {
	CurrentState(ctx context.Context) (*events.RaceState, error)
}

// DepositVerifier valida o comprovante de fundos da aposta na tesouraria.
type DepositVerifier interface {
	VerifyTransaction(ctx context.Context, txSignature, bettorWallet string, amountLamports int64) error
}

// Broadcaster propaga o betPlaced pros clientes WS conectados.
type Broadcaster interface {
	Broadcast(ctx context.Context, eventType string, payload any) error
}

// BetPublisher emite o bet_placed no broker.
type BetPublisher interface {
	PublishBetPlaced(ctx context.Context, e events.BetPlaced) error
}

type Server struct {
	log          *zap.Logger
	store        RaceStore
	state        StateCache
	verifier     DepositVerifier
	bc           Broadcaster
	publ         BetPublisher
	historyLimit int

	// OnBetAccepted alimenta o contador de apostas aceitas
	OnBetAccepted func()
}

func NewServer(log *zap.Logger, store RaceStore, state StateCache, verifier DepositVerifier, bc Broadcaster, publ BetPublisher, historyLimit int) *Server {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Server{
		log:          log,
		store:        store,
		state:        state,
		verifier:     verifier,
		bc:           bc,
		publ:         publ,
		historyLimit: historyLimit,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/v1/race/current", s.getCurrentRace)
	r.Get("/v1/race/history", s.getHistory)
	r.Get("/v1/race/results/{raceId}", s.getResult)
	r.Get("/v1/race/verify/{raceId}", s.verifyRace)
	r.Post("/v1/bets", s.placeBet)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// getCurrentRace devolve o raceState corrente, cache primeiro.
// Nunca expõe o serverSeed: só o hash do compromisso.
func (s *Server) getCurrentRace(w http.ResponseWriter, r *http.Request) {
	if s.state != nil {
		if st, err := s.state.CurrentState(r.Context()); err == nil {
			writeJSON(w, http.StatusOK, st)
			return
		}
	}

	race, err := s.store.FindOpenRace(r.Context())
	if err != nil {
		if errors.Is(err, repo.ErrNoOpenRace) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no active race"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, events.RaceState{
		RaceID:         race.RaceID,
		Phase:          string(race.Phase),
		ReadyCountdown: race.ReadyCountdown,
		BetCountdown:   race.BetCountdown,
		Multipliers:    race.Multipliers,
		ServerSeedHash: race.ServerSeedHash,
	})
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	results, err := s.store.ListRaceResults(r.Context(), s.historyLimit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if results == nil {
		results = []events.RaceResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	raceID := chi.URLParam(r, "raceId")
	res, err := s.store.FindRaceResult(r.Context(), raceID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// verifyRace refaz a derivação inteira a partir do serverSeed revelado e
// compara com o que foi persistido na liquidação. É o mesmo cheque que
// qualquer cliente pode fazer offline.
func (s *Server) verifyRace(w http.ResponseWriter, r *http.Request) {
	raceID := chi.URLParam(r, "raceId")
	res, err := s.store.FindRaceResult(r.Context(), raceID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	report := VerifyResponse{
		RaceID:         res.RaceID,
		ServerSeed:     res.ServerSeed,
		ServerSeedHash: res.ServerSeedHash,
	}
	report.HashMatches = fair.HashSeed(res.ServerSeed) == res.ServerSeedHash

	winnerIdx := fair.SelectWinner(res.ServerSeed, res.RaceID, res.RaceID, res.Multipliers)
	report.DerivedWinner = fair.Racers()[winnerIdx]
	report.WinnerMatches = report.DerivedWinner == res.Winner.Name

	// compara corredor a corredor contra a pool re-derivada do seed, usando
	// o limiar gravado com o resultado: a auditoria é autocontida e não
	// quebra quando o knob de configuração muda depois da liquidação
	report.DerivedMultipliers = fair.PoolConfig(res.ServerSeed, res.RaceID, res.RaceID, res.SpecialPoolProb)
	report.MultipliersMatch = len(report.DerivedMultipliers) == len(res.Multipliers)
	for name, mult := range report.DerivedMultipliers {
		if res.Multipliers[name] != mult {
			report.MultipliersMatch = false
		}
	}

	report.Valid = report.HashMatches && report.WinnerMatches && report.MultipliersMatch
	writeJSON(w, http.StatusOK, report)
}

// placeBet aceita uma aposta contra a corrida em betting. A aceitação é
// atômica com a checagem de fase: se a janela fechou entre a leitura e o
// insert, o insert condicional devolve ErrBettingClosed e a aposta é 409.
func (s *Server) placeBet(w http.ResponseWriter, r *http.Request) {
	var req PlaceBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json"})
		return
	}
	if req.RaceID == "" || req.BettorWallet == "" || req.TxSignature == "" || req.AmountLamports <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	if !fair.IsRacer(req.TargetName) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown racer"})
		return
	}

	race, err := s.store.FindOpenRace(r.Context())
	if err != nil {
		if errors.Is(err, repo.ErrNoOpenRace) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "no active race"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if race.RaceID != req.RaceID {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "race is not the active one"})
		return
	}
	multiplier, ok := race.Multipliers[req.TargetName]
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown racer"})
		return
	}
	// o cliente manda o multiplicador que exibiu; divergência significa
	// estado desatualizado (ou adulterado) e a aposta não entra
	if req.Multiplier != multiplier {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multiplier mismatch"})
		return
	}

	// comprovante de depósito precisa existir antes da aposta nascer
	if err := s.verifier.VerifyTransaction(r.Context(), req.TxSignature, req.BettorWallet, req.AmountLamports); err != nil {
		if errors.Is(err, treasury.ErrTransactionInvalid) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		s.log.Error("treasury verify failed", zap.String("raceId", req.RaceID), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "treasury unavailable"})
		return
	}

	bet := &model.Bet{
		RaceID:         req.RaceID,
		BettorWallet:   req.BettorWallet,
		TargetName:     req.TargetName,
		AmountLamports: req.AmountLamports,
		Multiplier:     multiplier,
		TxSignature:    req.TxSignature,
		CreatedAt:      time.Now().UTC(),
	}
	betID, err := s.store.CreateBetIfBetting(r.Context(), bet)
	if err != nil {
		if errors.Is(err, repo.ErrBettingClosed) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "betting window closed"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	if s.OnBetAccepted != nil {
		s.OnBetAccepted()
	}

	placed := events.BetPlaced{
		BetID:          betID,
		RaceID:         req.RaceID,
		BettorWallet:   req.BettorWallet,
		TargetName:     req.TargetName,
		AmountLamports: req.AmountLamports,
		Multiplier:     multiplier,
		TxSignature:    req.TxSignature,
	}
	if s.bc != nil {
		if err := s.bc.Broadcast(r.Context(), events.TypeBetPlaced, placed); err != nil {
			s.log.Warn("bet broadcast failed", zap.String("betId", betID), zap.Error(err))
		}
	}
	if s.publ != nil {
		if err := s.publ.PublishBetPlaced(r.Context(), placed); err != nil {
			s.log.Warn("bet_placed publish failed", zap.String("betId", betID), zap.Error(err))
		}
	}

	writeJSON(w, http.StatusCreated, PlaceBetResponse{
		BetID:      betID,
		RaceID:     req.RaceID,
		Multiplier: multiplier,
		Status:     "ACCEPTED",
	})
}
