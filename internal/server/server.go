// Package server exposes the adaptive experimentation engine over HTTP:
// experiments are created with a generation strategy, candidates are
// generated as trials, and observations are attached to drive the strategy
// through its nodes.
package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/taigalabs/taiga/internal/adapter"
	"github.com/taigalabs/taiga/internal/config"
	"github.com/taigalabs/taiga/internal/core"
	"github.com/taigalabs/taiga/internal/errors"
	"github.com/taigalabs/taiga/internal/generation"
	"github.com/taigalabs/taiga/internal/logging"
)

// Logger is the logging interface used by the server.
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// experimentState pairs an experiment with its generation strategy. The
// strategy is single-threaded, so all access goes through the server mutex.
type experimentState struct {
	exp      *core.Experiment
	strategy *generation.GenerationStrategy
}

// Server manages experiments and serves the HTTP API.
type Server struct {
	cfg    *config.Config
	logger Logger

	mu          sync.RWMutex
	experiments map[string]*experimentState
}

// NewServer creates a server with the given config and logger.
func NewServer(cfg *config.Config, logger Logger) *Server {
	return &Server{
		cfg:         cfg,
		logger:      logger,
		experiments: make(map[string]*experimentState),
	}
}

// RegisterRoutes mounts the API under /api/v1.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/experiments", func(r chi.Router) {
		r.Post("/", s.handleCreateExperiment)
		r.Get("/{name}", s.handleGetExperiment)
		r.Get("/{name}/trials", s.handleListTrials)
		r.Post("/{name}/trials", s.handleGenerate)
		r.Post("/{name}/observations", s.handleAttachObservations)
	})
}

type parameterSpec struct {
	Name     string  `json:"name"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	LogScale bool    `json:"log_scale,omitempty"`
}

type stepSpec struct {
	Model          string `json:"model"`
	NumTrials      int    `json:"num_trials"`
	MaxParallelism int    `json:"max_parallelism,omitempty"`
	Arms           int    `json:"arms,omitempty"`
}

type createExperimentRequest struct {
	Name       string          `json:"name"`
	Parameters []parameterSpec `json:"parameters"`
	Objective  string          `json:"objective"`
	Minimize   bool            `json:"minimize"`
	// Steps is optional; when empty the server builds the default
	// quasi-random-then-GP strategy from its configuration.
	Steps []stepSpec `json:"steps,omitempty"`
}

type trialSummary struct {
	Index      int                  `json:"index"`
	Status     string               `json:"status"`
	Node       string               `json:"node"`
	Arms       []core.Arm           `json:"arms"`
	ModelKeys  []string             `json:"model_keys"`
	Generation []generatorRunRecord `json:"generator_runs"`
}

type generatorRunRecord struct {
	Node     string    `json:"node"`
	ModelKey string    `json:"model_key"`
	ArmCount int       `json:"arm_count"`
	Time     time.Time `json:"time"`
}

type experimentSummary struct {
	Name                 string `json:"name"`
	Strategy             string `json:"strategy"`
	CurrentNode          string `json:"current_node"`
	Trials               int    `json:"trials"`
	Running              int    `json:"running"`
	OptimizationComplete bool   `json:"optimization_complete"`
	TrialLimit           int    `json:"trial_limit"`
}

func (s *Server) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var req createExperimentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Objective == "" {
		s.respondError(w, http.StatusBadRequest, "objective is required")
		return
	}

	params := make([]core.RangeParameter, len(req.Parameters))
	for i, p := range req.Parameters {
		params[i] = core.RangeParameter{Name: p.Name, Min: p.Min, Max: p.Max, LogScale: p.LogScale}
	}
	exp, err := core.NewExperiment(req.Name, core.SearchSpace{Parameters: params}, &core.OptimizationConfig{
		Objective: req.Objective,
		Minimize:  req.Minimize,
	})
	if err != nil {
		s.respondDomainError(w, "experiment.create", err)
		return
	}

	strategy, err := s.buildStrategy(req.Steps)
	if err != nil {
		s.respondDomainError(w, "experiment.create", err)
		return
	}

	s.mu.Lock()
	if _, exists := s.experiments[req.Name]; exists {
		s.mu.Unlock()
		s.respondError(w, http.StatusConflict, "experiment already exists: "+req.Name)
		return
	}
	s.experiments[req.Name] = &experimentState{exp: exp, strategy: strategy}
	s.mu.Unlock()

	experimentsCreated.Inc()
	s.logger.Info("Experiment created", map[string]interface{}{
		"experiment": req.Name,
		"strategy":   strategy.Name(),
	})
	s.respondJSON(w, http.StatusCreated, map[string]string{
		"name":     req.Name,
		"strategy": strategy.Name(),
	})
}

// buildStrategy compiles the requested steps, or the configured default
// strategy when none are given. A non-zero configured seed pins every
// step's model to a deterministic generator.
func (s *Server) buildStrategy(specs []stepSpec) (*generation.GenerationStrategy, error) {
	var nextSeed func() int64
	if seed := s.cfg.Generation.Seed; seed != 0 {
		counter := seed
		nextSeed = func() int64 {
			counter++
			return counter
		}
	}

	var steps []generation.GenerationStep
	if len(specs) == 0 {
		steps = []generation.GenerationStep{
			{
				Spec:      modelSpec(adapter.ModelKeyLatinHypercube, nextSeed),
				NumTrials: s.cfg.Generation.InitTrials,
			},
			{
				Spec:           modelSpec(adapter.ModelKeyGP, nextSeed),
				NumTrials:      generation.UnlimitedTrials,
				MaxParallelism: s.cfg.Generation.MaxParallelism,
			},
		}
	} else {
		for _, spec := range specs {
			steps = append(steps, generation.GenerationStep{
				Spec:            modelSpec(spec.Model, nextSeed),
				NumTrials:       spec.NumTrials,
				MaxParallelism:  spec.MaxParallelism,
				DefaultArmCount: spec.Arms,
			})
		}
	}
	zlog := logging.NewZapLogger(s.logger.WithFields(map[string]interface{}{
		"component": "generation",
	}))
	return generation.NewGenerationStrategy(generation.StrategyConfig{Steps: steps, Logger: zlog})
}

// modelSpec resolves a step's model spec. With a seed sequence, the known
// models get factories handing each fit a deterministic seed, making
// generation reproducible across runs; without one (or for model keys the
// server does not know) the spec resolves through the adapter registry and
// the model seeds itself from the clock.
func modelSpec(modelKey string, nextSeed func() int64) generation.GeneratorSpec {
	spec := generation.GeneratorSpec{ModelKey: modelKey}
	if nextSeed == nil {
		return spec
	}
	switch modelKey {
	case adapter.ModelKeyLatinHypercube:
		spec.Factory = func(exp *core.Experiment) (adapter.Adapter, error) {
			return adapter.NewLatinHypercube(exp.SearchSpace, nextSeed()), nil
		}
	case adapter.ModelKeyGP:
		spec.Factory = func(exp *core.Experiment) (adapter.Adapter, error) {
			return adapter.NewGPAdapter(exp.SearchSpace, adapter.GPOptions{Seed: nextSeed()})
		}
	}
	return spec
}

func (s *Server) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	state, ok := s.lookup(chi.URLParam(r, "name"))
	if !ok {
		s.respondError(w, http.StatusNotFound, "experiment not found")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	summary := experimentSummary{
		Name:        state.exp.Name,
		Strategy:    state.strategy.Name(),
		CurrentNode: state.strategy.CurrentNodeName(),
		Trials:      len(state.exp.Trials()),
		Running:     state.exp.RunningTrialCount(),
	}
	if state.strategy.Experiment() != nil {
		limit, done, err := state.strategy.CurrentGeneratorRunLimit()
		if err != nil {
			s.respondDomainError(w, "experiment.summary", err)
			return
		}
		summary.TrialLimit = limit
		summary.OptimizationComplete = done
		summary.CurrentNode = state.strategy.CurrentNodeName()
	}
	s.respondJSON(w, http.StatusOK, summary)
}

type generateRequest struct {
	// N is the number of arms per generator run; defaults to 1.
	N int `json:"n,omitempty"`
	// NumTrials is the number of trials to suggest; defaults to 1.
	NumTrials int `json:"num_trials,omitempty"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	state, ok := s.lookup(chi.URLParam(r, "name"))
	if !ok {
		s.respondError(w, http.StatusNotFound, "experiment not found")
		return
	}

	var req generateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	if req.NumTrials < 1 {
		req.NumTrials = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	trialRuns, err := state.strategy.GenForMultipleTrials(r.Context(), state.exp, nil, req.N, req.NumTrials, nil)
	generationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.respondDomainError(w, "experiment.generate", err)
		return
	}

	summaries := make([]trialSummary, 0, len(trialRuns))
	for _, grs := range trialRuns {
		trial, err := state.exp.NewTrial(grs...)
		if err != nil {
			s.respondDomainError(w, "experiment.generate", err)
			return
		}
		// Arms are handed to the caller for evaluation immediately.
		if err := state.exp.MarkRunning(trial.Index); err != nil {
			s.respondDomainError(w, "experiment.generate", err)
			return
		}
		trialsGenerated.WithLabelValues(trial.GenerationNodeName).Inc()
		summaries = append(summaries, summarizeTrial(trial))
	}

	s.logger.Info("Trials generated", map[string]interface{}{
		"experiment": state.exp.Name,
		"trials":     len(summaries),
		"node":       state.strategy.CurrentNodeName(),
	})
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{"trials": summaries})
}

type observationPayload struct {
	ArmName string  `json:"arm_name"`
	Metric  string  `json:"metric"`
	Mean    float64 `json:"mean"`
	SEM     float64 `json:"sem,omitempty"`
}

type attachObservationsRequest struct {
	TrialIndex   int                  `json:"trial_index"`
	Failed       bool                 `json:"failed,omitempty"`
	Observations []observationPayload `json:"observations"`
}

func (s *Server) handleAttachObservations(w http.ResponseWriter, r *http.Request) {
	state, ok := s.lookup(chi.URLParam(r, "name"))
	if !ok {
		s.respondError(w, http.StatusNotFound, "experiment not found")
		return
	}

	var req attachObservationsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Failed {
		if err := state.exp.MarkFailed(req.TrialIndex); err != nil {
			s.respondDomainError(w, "experiment.observe", err)
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"trial_index": req.TrialIndex,
			"status":      string(core.TrialStatusFailed),
		})
		return
	}

	if len(req.Observations) == 0 {
		s.respondError(w, http.StatusBadRequest, "at least one observation is required")
		return
	}
	obs := make([]core.Observation, len(req.Observations))
	for i, o := range req.Observations {
		obs[i] = core.Observation{
			ArmName:    o.ArmName,
			MetricName: o.Metric,
			Mean:       o.Mean,
			SEM:        o.SEM,
		}
	}
	if err := state.exp.AttachData(req.TrialIndex, obs); err != nil {
		s.respondDomainError(w, "experiment.observe", err)
		return
	}
	observationsAttached.Add(float64(len(obs)))

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"trial_index": req.TrialIndex,
		"status":      string(core.TrialStatusCompleted),
	})
}

func (s *Server) handleListTrials(w http.ResponseWriter, r *http.Request) {
	state, ok := s.lookup(chi.URLParam(r, "name"))
	if !ok {
		s.respondError(w, http.StatusNotFound, "experiment not found")
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	summaries := make([]trialSummary, 0, len(state.exp.Trials()))
	for _, trial := range state.exp.Trials() {
		summaries = append(summaries, summarizeTrial(trial))
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"trials": summaries})
}

func summarizeTrial(trial *core.Trial) trialSummary {
	summary := trialSummary{
		Index:  trial.Index,
		Status: string(trial.Status),
		Node:   trial.GenerationNodeName,
		Arms:   trial.Arms(),
	}
	for _, gr := range trial.GeneratorRuns {
		summary.ModelKeys = append(summary.ModelKeys, gr.ModelKey)
		summary.Generation = append(summary.Generation, generatorRunRecord{
			Node:     gr.GenerationNodeName,
			ModelKey: gr.ModelKey,
			ArmCount: len(gr.Arms),
			Time:     gr.Time,
		})
	}
	return summary
}

func (s *Server) lookup(name string) (*experimentState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.experiments[name]
	return state, ok
}

// respondDomainError maps engine errors to HTTP statuses. The error is
// wrapped with the failing operation for the server log; the response body
// carries the engine's own message.
func (s *Server) respondDomainError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	kind := "internal"
	switch err.(type) {
	case *core.UserInputError:
		status, kind = http.StatusBadRequest, "user_input"
	case *core.UnsupportedError:
		status, kind = http.StatusBadRequest, "unsupported"
	case *generation.MisconfiguredError:
		status, kind = http.StatusBadRequest, "misconfigured"
	case *core.DataRequiredError:
		status, kind = http.StatusConflict, "data_required"
	case *generation.MaxParallelismReachedError:
		status, kind = http.StatusTooManyRequests, "max_parallelism"
	case *generation.StrategyCompletedError:
		status, kind = http.StatusConflict, "strategy_completed"
	}
	boundary := errors.Wrap(err, "request failed").WithOperation(op).WithComponent("server")
	generationErrors.WithLabelValues(kind).Inc()
	s.logger.Error("Request failed", map[string]interface{}{
		"kind":      kind,
		"operation": op,
		"error":     boundary.Error(),
	})
	s.respondJSON(w, status, map[string]string{"error": err.Error(), "kind": kind})
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Close releases server resources.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.experiments = make(map[string]*experimentState)
	return nil
}
