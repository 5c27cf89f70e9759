package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/brensch/xqzero/executor/mcts"
	"github.com/brensch/xqzero/game"
	"github.com/brensch/xqzero/rules"
)

type InfoResponse struct {
	Name        string `json:"name"`
	Snapshot    uint64 `json:"snapshot"`
	Simulations int    `json:"simulations"`
}

type PositionRequest struct {
	FEN string `json:"fen"`
	// Simulations overrides the server default when > 0.
	Simulations int `json:"simulations,omitempty"`
}

type CandidateMove struct {
	Move   string  `json:"move"`
	Visits int     `json:"visits"`
	Q      float32 `json:"q"`
	Prior  float32 `json:"prior"`
}

type MoveResponse struct {
	Move        string          `json:"move,omitempty"`
	Value       float32         `json:"value"`
	Simulations int             `json:"simulations"`
	TookMs      int64           `json:"took_ms"`
	Candidates  []CandidateMove `json:"candidates,omitempty"`
	Result      string          `json:"result,omitempty"`
}

type LegalResponse struct {
	ToMove  string   `json:"to_move"`
	InCheck bool     `json:"in_check"`
	Moves   []string `json:"moves"`
	Result  string   `json:"result,omitempty"`
}

// Server answers move queries for arbitrary positions with one predictor.
type Server struct {
	predictor   mcts.Predictor
	version     uint64
	mctsConfig  mcts.Config
	// maxSimulations bounds the per-request simulations override.
	maxSimulations int
	moveTimeout    time.Duration
	log            zerolog.Logger
}

// NewServer builds the handlers. maxSims <= 0 allows overrides up to
// defaultSimsFactor times the configured simulations.
func NewServer(p mcts.Predictor, version uint64, cfg mcts.Config, maxSims int, moveTimeout time.Duration, log zerolog.Logger) *Server {
	// Positions are analysed, not self-played.
	cfg.DirichletEpsilon = 0
	if maxSims <= 0 {
		maxSims = max(cfg.Simulations, 1) * defaultSimsFactor
	}
	return &Server{predictor: p, version: version, mctsConfig: cfg, maxSimulations: maxSims, moveTimeout: moveTimeout, log: log}
}

const defaultSimsFactor = 8

func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/move", s.handleMove)
	mux.HandleFunc("/legal", s.handleLegal)
	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, InfoResponse{Name: "xqzero", Snapshot: s.version, Simulations: s.mctsConfig.Simulations})
}

func decodePosition(w http.ResponseWriter, r *http.Request) (*game.State, PositionRequest, bool) {
	var req PositionRequest
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return nil, req, false
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, req, false
	}
	state := game.NewInitialState(0)
	if req.FEN != "" {
		var err error
		if state, err = game.ParseFEN(req.FEN); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return nil, req, false
		}
	}
	return state, req, true
}

// handleMove searches the posted position and returns the most visited move.
func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	state, req, ok := decodePosition(w, r)
	if !ok {
		return
	}

	legal := rules.LegalMoves(state)
	if over, res := rules.Adjudicate(state, legal); over {
		writeJSON(w, MoveResponse{Result: res.String(), TookMs: time.Since(started).Milliseconds()})
		return
	}

	if req.Simulations < 0 || req.Simulations > s.maxSimulations {
		http.Error(w, fmt.Sprintf("simulations must be between 0 and %d", s.maxSimulations), http.StatusBadRequest)
		return
	}
	cfg := s.mctsConfig
	if req.Simulations > 0 {
		cfg.Simulations = req.Simulations
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.moveTimeout)
	defer cancel()

	search := mcts.MCTS{Config: cfg, Client: s.predictor}
	res, err := search.Search(ctx, state)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		s.log.Warn().Err(err).Str("fen", state.FEN()).Msg("search failed")
		http.Error(w, err.Error(), status)
		return
	}

	best := res.Best()
	resp := MoveResponse{
		Move:        res.Moves[best].String(),
		Value:       res.RootValue,
		Simulations: res.Simulations,
		Candidates:  make([]CandidateMove, len(res.Moves)),
	}
	for i, m := range res.Moves {
		resp.Candidates[i] = CandidateMove{Move: m.String(), Visits: res.Visits[i], Q: res.Q[i], Prior: res.Priors[i]}
	}
	resp.TookMs = time.Since(started).Milliseconds()

	s.log.Info().
		Str("fen", state.FEN()).
		Str("move", resp.Move).
		Int("sims", res.Simulations).
		Int64("took_ms", resp.TookMs).
		Msg("move")
	writeJSON(w, resp)
}

func (s *Server) handleLegal(w http.ResponseWriter, r *http.Request) {
	state, _, ok := decodePosition(w, r)
	if !ok {
		return
	}
	legal := rules.LegalMoves(state)
	resp := LegalResponse{
		ToMove:  state.ToMove.String(),
		InCheck: rules.InCheck(&state.Board, state.ToMove),
		Moves:   make([]string, len(legal)),
	}
	for i, m := range legal {
		resp.Moves[i] = m.String()
	}
	if over, res := rules.Adjudicate(state, legal); over {
		resp.Result = res.String()
	}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
