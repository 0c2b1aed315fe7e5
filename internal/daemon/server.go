// Package daemon serves the sorter's control and ingest HTTP surface. The
// handlers only read and write lock-guarded shared state; all motion runs on
// the sequence controller's own goroutine.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cardsort/sorterd/internal/api"
	"github.com/cardsort/sorterd/internal/config"
	"github.com/cardsort/sorterd/internal/db"
	"github.com/cardsort/sorterd/internal/gpio"
	"github.com/cardsort/sorterd/internal/model"
	"github.com/cardsort/sorterd/internal/motion"
	"github.com/cardsort/sorterd/internal/rules"
	"github.com/cardsort/sorterd/internal/scanlog"
	"github.com/cardsort/sorterd/internal/scryfall"
	"github.com/cardsort/sorterd/internal/sequence"
)

// Deps are the collaborators the server routes requests to.
type Deps struct {
	Store    *db.Store
	Chip     gpio.Chip
	Sim      *gpio.Sim // non-nil in simulation mode
	Seq      *sequence.Controller
	Steppers map[int]*motion.Driver
	Enricher *scryfall.Client
	Slot     *scanlog.Slot
	Scans    *scanlog.Log
	Log      *slog.Logger
}

type Server struct {
	cfg         config.Config
	httpSrv     *http.Server
	deps        Deps
	log         *slog.Logger
	mu          sync.Mutex
	listener    net.Listener
	shutdown    sync.Once
	shutdownErr error
}

func NewServer(cfg config.Config, deps Deps) *Server {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	mux := http.NewServeMux()
	s := &Server{
		cfg:  cfg,
		deps: deps,
		log:  deps.Log,
		httpSrv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	mux.HandleFunc("/v1/health", s.healthHandler)
	mux.HandleFunc("/", s.rootHandler)
	mux.HandleFunc("/webhook", s.webhookHandler)
	mux.HandleFunc("/api/status", s.statusHandler)
	mux.HandleFunc("/api/seq/start", s.seqStartHandler)
	mux.HandleFunc("/api/seq/stop", s.seqStopHandler)
	mux.HandleFunc("/api/rules", s.rulesHandler)
	mux.HandleFunc("/api/scans", s.scansHandler)
	mux.HandleFunc("/api/scans/clear", s.scansClearHandler)
	mux.HandleFunc("/api/scans/export", s.scansExportHandler)
	mux.HandleFunc("/api/motor/step", s.motorStepHandler)
	mux.HandleFunc("/api/motor/run_until_beam", s.motorRunUntilBeamHandler)
	mux.HandleFunc("/api/sim/beam", s.simBeamHandler)
	mux.HandleFunc("/api/sim/scan", s.simScanHandler)
	mux.HandleFunc("/api/scryfall/search", s.scryfallSearchHandler)
	return s
}

func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.log.Info("listening", "addr", ln.Addr().String(), "simulated", s.cfg.Simulated)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			_ = s.Shutdown(context.Background())
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdown.Do(func() {
		var errs []error
		if s.httpSrv != nil {
			if err := s.httpSrv.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		s.mu.Lock()
		listener := s.listener
		s.listener = nil
		s.mu.Unlock()
		if listener != nil {
			if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			s.shutdownErr = fmt.Errorf("shutdown errors: %v", errs)
		}
	})
	return s.shutdownErr
}

// Addr returns the bound listen address, usable once Start has begun serving.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, api.HealthResponse{Status: "ok"})
}

// rootHandler doubles as the scanner webhook: the scanner app posts events
// to / as well as /webhook.
func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.writeError(w, http.StatusNotFound, model.ErrRefNotFound, "route not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, map[string]string{"service": "sorterd"})
	case http.MethodPost, http.MethodOptions:
		s.handleWebhook(w, r)
	default:
		s.methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodOptions {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	s.handleWebhook(w, r)
}

type webhookRequest struct {
	Type  string    `json:"type"`
	Cards []rawCard `json:"cards"`
}

// rawCard is the scanner's wire form of a card. Price may arrive as a number
// or a string.
type rawCard struct {
	Name        string `json:"name"`
	Edition     string `json:"edition"`
	EditionCode string `json:"editionCode"`
	Number      string `json:"number"`
	Rarity      string `json:"rarity"`
	Price       any    `json:"price"`
	FmtPrice    string `json:"fmtPrice"`
	Finish      string `json:"finish"`
	CardType    string `json:"cardType"`
	ScryfallID  string `json:"scryfallId"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	addCORS(w)
	if r.Method == http.MethodOptions {
		s.writeJSON(w, http.StatusOK, map[string]string{"message": "CORS preflight"})
		return
	}
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, "invalid request body")
		return
	}
	s.log.Info("webhook event", "type", req.Type)

	switch req.Type {
	case "card_scanned":
		if len(req.Cards) == 0 {
			s.writeJSON(w, http.StatusOK, map[string]string{"status": "no cards"})
			return
		}
		record, err := s.ingestScan(r.Context(), req.Cards[0])
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, model.ErrPreconditionFailed, "failed to record scan")
			return
		}
		s.writeJSON(w, http.StatusOK, api.ScanResponse{Status: "ok", Bin: record.Bin, Card: record.Name})
	case "scanner_started", "scanner_paused":
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	default:
		s.log.Info("unknown webhook event", "type", req.Type)
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ingestScan enriches, classifies, persists, and publishes one scan. The
// published record is what the sequence controller observes to leave the
// oscillating phase.
func (s *Server) ingestScan(ctx context.Context, raw rawCard) (model.CardRecord, error) {
	record := model.CardRecord{
		ID:          uuid.NewString(),
		Name:        raw.Name,
		Edition:     raw.Edition,
		EditionCode: raw.EditionCode,
		Number:      raw.Number,
		Rarity:      raw.Rarity,
		Price:       toFloat(raw.Price),
		FmtPrice:    raw.FmtPrice,
		Finish:      raw.Finish,
		CardType:    raw.CardType,
		ScryfallID:  raw.ScryfallID,
		Colors:      []string{},
		Keywords:    []string{},

		ScanTimestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if record.Name == "" {
		record.Name = "Unknown"
	}
	if record.Finish == "" {
		record.Finish = "regular"
	}
	record.ColorIdentity = []string{}
	record.TypeLine = raw.CardType

	enrichment, err := s.deps.Enricher.Card(ctx, raw.ScryfallID)
	if err != nil {
		s.log.Warn("enrichment failed, using defaults", "card", record.Name, "err", err)
	}
	if enrichment != nil {
		record.CMC = enrichment.CMC
		record.Colors = orEmpty(enrichment.Colors)
		record.ColorIdentity = orEmpty(enrichment.ColorIdentity)
		record.TypeLine = enrichment.TypeLine
		record.ManaCost = enrichment.ManaCost
		record.OracleText = enrichment.OracleText
		record.Power = enrichment.Power
		record.Toughness = enrichment.Toughness
		record.Keywords = orEmpty(enrichment.Keywords)
		record.SetName = enrichment.SetName
		if enrichment.Rarity != "" {
			record.Rarity = enrichment.Rarity
		}
		record.ImageURI = enrichment.ImageURI
		record.ImageArtCrop = enrichment.ImageArtCrop
	}

	record.Bin = rules.Evaluate(record.RuleFields(), s.loadRules(ctx))

	if err := s.deps.Store.InsertScan(ctx, record); err != nil {
		return model.CardRecord{}, err
	}
	s.deps.Scans.Append(record)
	s.deps.Slot.Publish(record)
	s.log.Info("scan recorded", "card", record.Name, "bin", record.Bin)
	return record, nil
}

func (s *Server) loadRules(ctx context.Context) []model.Rule {
	list, err := s.deps.Store.ListRules(ctx)
	if err != nil {
		s.log.Warn("failed to load rules, using defaults", "err", err)
		return model.DefaultRules()
	}
	if len(list) == 0 {
		return model.DefaultRules()
	}
	return list
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	snap := s.deps.Seq.Snapshot()
	resp := api.StatusResponse{
		Simulated: s.cfg.Simulated,
		Beams: map[string]bool{
			"beam0": s.beamTripped(s.cfg.Pins.Beam0),
			"beam1": s.beamTripped(s.cfg.Pins.Beam1),
		},
		SeqRunning: snap.Running,
		SeqPhase:   snap.Phase,
		SeqStatus:  snap.StatusMessage,
		SeqError:   snap.Error,
		SeqCycles:  snap.CycleCount,
		SeqOsc:     snap.OscillationCount,
		TotalScans: s.deps.Scans.Len(),
		Current:    s.deps.Slot.Current(),
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// beamTripped reports a blocked beam: the sensors pull the line low when the
// beam is interrupted.
func (s *Server) beamTripped(pin int) bool {
	return !s.deps.Chip.Read(pin)
}

func (s *Server) seqStartHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	if err := s.deps.Seq.Start(); err != nil {
		s.writeError(w, http.StatusConflict, model.ErrAlreadyRunning, "already running")
		return
	}
	s.writeJSON(w, http.StatusOK, api.OKResponse{OK: true, Msg: "continuous sort loop started"})
}

func (s *Server) seqStopHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	s.deps.Seq.Stop()
	s.writeJSON(w, http.StatusOK, api.OKResponse{OK: true, Msg: "stop requested"})
}

func (s *Server) rulesHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.loadRules(r.Context()))
	case http.MethodPost:
		var list []model.Rule
		if err := json.NewDecoder(r.Body).Decode(&list); err != nil {
			s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, "rules must be a JSON array")
			return
		}
		if err := s.deps.Store.ReplaceRules(r.Context(), list); err != nil {
			s.writeError(w, http.StatusInternalServerError, model.ErrPreconditionFailed, "failed to persist rules")
			return
		}
		s.writeJSON(w, http.StatusOK, api.OKResponse{OK: true})
	default:
		s.methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) scansHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	s.writeJSON(w, http.StatusOK, s.deps.Scans.All())
}

func (s *Server) scansClearHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	if err := s.deps.Store.ClearScans(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrPreconditionFailed, "failed to clear scans")
		return
	}
	s.deps.Scans.Clear()
	s.deps.Slot.Clear()
	s.writeJSON(w, http.StatusOK, api.OKResponse{OK: true})
}

type motorStepRequest struct {
	Stepper   int `json:"stepper"`
	Direction int `json:"direction"`
	Steps     int `json:"steps"`
}

// motorStepHandler jogs a stepper a fixed count. Manual jogs are rejected
// while a sequence run owns the motors.
func (s *Server) motorStepHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	if s.deps.Seq.Snapshot().Running {
		s.writeError(w, http.StatusConflict, model.ErrSequenceActive, "sequence run owns the steppers")
		return
	}
	req := motorStepRequest{Stepper: 1, Direction: 1, Steps: 200}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, "invalid request body")
		return
	}
	driver, ok := s.deps.Steppers[req.Stepper]
	if !ok {
		s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, "unknown stepper")
		return
	}
	if req.Steps <= 0 {
		s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, "steps must be positive")
		return
	}
	res := driver.StepN(directionOf(req.Direction), req.Steps, nil, nil)
	s.writeJSON(w, http.StatusOK, api.MotorResponse{OK: true, Success: true, StepsTaken: res.Steps})
}

type motorRunUntilBeamRequest struct {
	Stepper   int    `json:"stepper"`
	Beam      string `json:"beam"`
	Direction int    `json:"direction"`
}

func (s *Server) motorRunUntilBeamHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	if s.deps.Seq.Snapshot().Running {
		s.writeError(w, http.StatusConflict, model.ErrSequenceActive, "sequence run owns the steppers")
		return
	}
	req := motorRunUntilBeamRequest{Stepper: 1, Beam: "beam0", Direction: -1}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, "invalid request body")
		return
	}
	driver, ok := s.deps.Steppers[req.Stepper]
	if !ok {
		s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, "unknown stepper")
		return
	}
	pin, ok := s.beamPin(req.Beam)
	if !ok {
		s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, "unknown beam")
		return
	}
	res := driver.RunUntilSensor(directionOf(req.Direction), func() bool { return s.beamTripped(pin) }, nil, s.cfg.StepCeiling)
	s.writeJSON(w, http.StatusOK, api.MotorResponse{
		OK:         true,
		Success:    res.Outcome == motion.Tripped,
		StepsTaken: res.Steps,
	})
}

type simBeamRequest struct {
	Beam    string `json:"beam"`
	Blocked bool   `json:"blocked"`
}

func (s *Server) simBeamHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	if s.deps.Sim == nil {
		s.writeError(w, http.StatusBadRequest, model.ErrSimOnly, "not in simulation mode")
		return
	}
	req := simBeamRequest{Beam: "beam0"}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, "invalid request body")
		return
	}
	pin, ok := s.beamPin(req.Beam)
	if !ok {
		s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, "unknown beam")
		return
	}
	s.deps.Sim.SetBeam(pin, req.Blocked)
	s.writeJSON(w, http.StatusOK, api.SimBeamResponse{OK: true, Beam: req.Beam, Blocked: req.Blocked})
}

// simScanHandler injects a synthetic scan through the same ingest path as
// the webhook, for exercising the controller without a scanner.
func (s *Server) simScanHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	raw := rawCard{
		Name:   "Birds of Paradise",
		Rarity: "R",
		Price:  8.36,
		Finish: "regular",
	}
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, "invalid request body")
		return
	}
	record, err := s.ingestScan(r.Context(), raw)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrPreconditionFailed, "failed to record scan")
		return
	}
	s.writeJSON(w, http.StatusOK, api.SimScanResponse{OK: true, Card: record})
}

func (s *Server) scryfallSearchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, "missing ?q=")
		return
	}
	results, err := s.deps.Enricher.Search(r.Context(), q)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, model.ErrUpstreamFailed, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, results)
}

func (s *Server) beamPin(name string) (int, bool) {
	switch name {
	case "beam0":
		return s.cfg.Pins.Beam0, true
	case "beam1":
		return s.cfg.Pins.Beam1, true
	default:
		return 0, false
	}
}

func directionOf(raw int) motion.Direction {
	if raw < 0 {
		return motion.Reverse
	}
	return motion.Forward
}

func toFloat(raw any) float64 {
	switch v := raw.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func orEmpty(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

func addCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, msg string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: api.APIError{Code: code, Message: msg}})
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allow ...string) {
	if len(allow) > 0 {
		w.Header().Set("Allow", strings.Join(allow, ", "))
	}
	s.writeError(w, http.StatusMethodNotAllowed, model.ErrRefInvalid, "method not allowed")
}
