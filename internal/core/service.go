package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"spectrocal/internal/blob"
	"spectrocal/internal/infra/persistence/memory"
	"spectrocal/internal/spectro"
	"spectrocal/pkg/calibration"
	"spectrocal/pkg/domain"
)

var (
	// ErrNoActiveSession is returned by operations that need a calibration
	// session before one was started or resumed.
	ErrNoActiveSession = errors.New("core: no active calibration session")
	// ErrSessionNotAccepted is returned when measuring or exporting
	// measurements before the calibration was accepted.
	ErrSessionNotAccepted = errors.New("core: calibration session not accepted")
	// ErrSessionAccepted is returned when standards of an accepted session
	// are changed; recalibrate instead.
	ErrSessionAccepted = errors.New("core: calibration session already accepted")
	// ErrRecalibrationRequired is returned when accepting a calibration whose
	// evaluation asked for recalibration.
	ErrRecalibrationRequired = errors.New("core: calibration must be repeated")
	// ErrNotEvaluated is returned when accepting before evaluating.
	ErrNotEvaluated = errors.New("core: calibration not evaluated")
	// ErrInvalidLabel is returned for sample labels that cannot be written to
	// an export row.
	ErrInvalidLabel = errors.New("core: invalid sample label")
)

// Sampling controls how many sensor reads are averaged per recorded value.
type Sampling struct {
	Count int
	Delay time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger. A *slog.Logger is also used for the
// absorbance converter's warnings.
func WithLogger(l Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetricsRecorder sets the per-operation metrics sink.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer sets the per-operation tracer.
func WithTracer(t Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithSource sets the signal source. The default is a simulated sensor.
func WithSource(src spectro.Source) Option {
	return func(s *Service) {
		if src != nil {
			s.source = src
		}
	}
}

// WithSampling overrides the averaging count and per-read delay.
func WithSampling(count int, delay time.Duration) Option {
	return func(s *Service) {
		s.sampling = Sampling{Count: count, Delay: delay}
	}
}

// WithBlobStore sets the export destination.
func WithBlobStore(store blob.Store) Option {
	return func(s *Service) {
		s.exports = store
	}
}

// WithExportDecimals truncates exported values to d decimal places; a
// negative d keeps full precision.
func WithExportDecimals(d int) Option {
	return func(s *Service) {
		s.decimals = d
	}
}

// Service is the single owner of the active calibration: its sample store,
// fitting engine and zero reference. Operations are serialised.
type Service struct {
	mu        sync.Mutex
	store     PersistentStore
	samples   *calibration.SampleStore
	engine    *calibration.Engine
	converter *spectro.Converter
	source    spectro.Source
	exports   blob.Store
	sampling  Sampling
	decimals  int
	active    string

	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
}

// NewService constructs a service persisting to store.
func NewService(store PersistentStore, opts ...Option) *Service {
	samples := calibration.NewSampleStore()
	svc := &Service{
		store:    store,
		samples:  samples,
		engine:   calibration.NewEngine(samples),
		sampling: Sampling{Count: spectro.DefaultSamples, Delay: spectro.DefaultDelay},
		decimals: -1,
		logger:   noopLogger{},
		metrics:  noopMetrics{},
		tracer:   noopTracer{},
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.source == nil {
		svc.source = spectro.NewSimulated(0)
	}
	if svc.exports == nil {
		svc.exports = blob.NewMemory()
	}
	var slogger *slog.Logger
	if l, ok := svc.logger.(*slog.Logger); ok {
		slogger = l
	}
	svc.converter = spectro.NewConverter(slogger)
	return svc
}

// NewInMemoryService creates a service on a fresh in-memory store.
func NewInMemoryService(engine *RulesEngine, opts ...Option) *Service {
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying persistent store.
func (s *Service) Store() PersistentStore { return s.store }

// Exports returns the export blob store.
func (s *Service) Exports() blob.Store { return s.exports }

func (s *Service) run(ctx context.Context, op string, fn func(context.Context) error) error {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, op)
	err := fn(ctx)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, time.Since(start))
	if err != nil {
		s.logger.Error("operation failed", "operation", op, "error", err)
	} else {
		s.logger.Debug("operation complete", "operation", op, "duration", time.Since(start))
	}
	return err
}

func (s *Service) logWarnings(res Result) {
	for _, v := range res.Warnings() {
		s.logger.Warn("rule violation", "rule", v.Rule, "severity", v.Severity, "entity", v.Entity, "id", v.EntityID, "message", v.Message)
	}
}

func (s *Service) transact(ctx context.Context, fn func(Transaction) error) error {
	res, err := s.store.RunInTransaction(ctx, fn)
	s.logWarnings(res)
	return err
}

// activeSession loads the active session. Callers hold s.mu.
func (s *Service) activeSession() (Session, error) {
	if s.active == "" {
		return Session{}, ErrNoActiveSession
	}
	sess, ok := s.store.GetSession(s.active)
	if !ok {
		return Session{}, domain.ErrNotFound{Entity: EntitySession, ID: s.active}
	}
	return sess, nil
}

func (s *Service) editableSession() (Session, error) {
	sess, err := s.activeSession()
	if err != nil {
		return Session{}, err
	}
	if sess.Status == SessionAccepted {
		return Session{}, ErrSessionAccepted
	}
	return sess, nil
}

// saveSamples writes samples and zero to the active session, discarding any
// previous evaluation. The in-memory standards and zero reference are
// replaced only after the write succeeds.
func (s *Service) saveSamples(ctx context.Context, samples []Sample, zero *float64) (Session, error) {
	var updated Session
	err := s.transact(ctx, func(tx Transaction) error {
		var err error
		updated, err = tx.UpdateSession(s.active, func(sess *Session) error {
			sess.Samples = append([]Sample(nil), samples...)
			sess.ZeroReference = nil
			if zero != nil {
				z := *zero
				sess.ZeroReference = &z
			}
			sess.Status = SessionCollecting
			sess.Decision = nil
			sess.Model = nil
			return nil
		})
		return err
	})
	if err != nil {
		return Session{}, err
	}
	s.samples.Replace(samples)
	s.converter.ClearZeroReference()
	if zero != nil {
		s.converter.SetZeroReference(*zero)
	}
	s.engine.Reset()
	return updated, nil
}

func (s *Service) read(ctx context.Context) (float64, error) {
	return spectro.ReadAveraged(ctx, s.source, s.sampling.Count, s.sampling.Delay)
}

func (s *Service) zeroReference() *float64 {
	if z, ok := s.converter.ZeroReference(); ok {
		return &z
	}
	return nil
}

// blankReference returns signal as a zero reference. A blank must read a
// positive signal.
func blankReference(signal float64) (*float64, error) {
	if !(signal > 0) || math.IsInf(signal, 0) {
		return nil, fmt.Errorf("%w: blank signal %g", spectro.ErrNonPositiveRatio, signal)
	}
	return &signal, nil
}

// standardAbsorbance converts a standard's signal against zero. Standards
// whose ratio has no logarithm are refused so they never enter a fit.
func standardAbsorbance(signal float64, zero *float64) (float64, error) {
	if zero == nil {
		return 0, spectro.ErrNoZeroReference
	}
	a, err := spectro.Absorbance(signal, *zero)
	if err != nil {
		return 0, fmt.Errorf("%w: zero reference %g, signal %g", err, *zero, signal)
	}
	return a, nil
}

// StartCalibration opens a new collecting session for target and makes it
// active. A previous active session that was never accepted is superseded.
func (s *Service) StartCalibration(ctx context.Context, target Shape) (Session, error) {
	var created Session
	err := s.run(ctx, "start_calibration", func(ctx context.Context) error {
		shape, err := calibration.ParseShape(string(target))
		if err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.startLocked(ctx, shape, &created)
	})
	return created, err
}

func (s *Service) startLocked(ctx context.Context, target Shape, created *Session) error {
	previous := s.active
	err := s.transact(ctx, func(tx Transaction) error {
		if previous != "" {
			if prev, ok := tx.FindSession(previous); ok && prev.Status != SessionAccepted && prev.Status != SessionSuperseded {
				if _, err := tx.UpdateSession(previous, func(p *Session) error {
					p.Status = SessionSuperseded
					return nil
				}); err != nil {
					return err
				}
			}
		}
		var err error
		*created, err = tx.CreateSession(Session{Target: target, Status: SessionCollecting})
		return err
	})
	if err != nil {
		return err
	}
	s.active = created.ID
	s.samples.Clear()
	s.engine.Reset()
	s.converter.ClearZeroReference()
	s.logger.Info("calibration started", "session", created.ID, "target", target, "minimum_standards", target.MinimumStandards())
	return nil
}

// RecordBlank reads the zero-concentration standard, makes it the zero
// reference and restarts the standards list with it.
func (s *Service) RecordBlank(ctx context.Context) (Sample, error) {
	var blank Sample
	err := s.run(ctx, "record_blank", func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, err := s.editableSession(); err != nil {
			return err
		}
		signal, err := s.read(ctx)
		if err != nil {
			return err
		}
		zero, err := blankReference(signal)
		if err != nil {
			return err
		}
		abs, err := standardAbsorbance(signal, zero)
		if err != nil {
			return err
		}
		row := Sample{Concentration: 0, Signal: signal, Absorbance: abs}
		if _, err := s.saveSamples(ctx, []Sample{row}, zero); err != nil {
			return err
		}
		blank = row
		return nil
	})
	return blank, err
}

// RecordStandard reads a standard of known concentration and appends it.
func (s *Service) RecordStandard(ctx context.Context, concentration float64) (Sample, error) {
	var sample Sample
	err := s.run(ctx, "record_standard", func(ctx context.Context) error {
		if math.IsNaN(concentration) || math.IsInf(concentration, 0) {
			return fmt.Errorf("core: concentration must be finite")
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, err := s.editableSession(); err != nil {
			return err
		}
		if _, ok := s.converter.ZeroReference(); !ok {
			return spectro.ErrNoZeroReference
		}
		signal, err := s.read(ctx)
		if err != nil {
			return err
		}
		sample, err = s.appendLocked(ctx, concentration, signal, s.zeroReference())
		return err
	})
	return sample, err
}

// AddStandard appends a standard with an already measured signal. A zero
// concentration entered first becomes the blank.
func (s *Service) AddStandard(ctx context.Context, concentration, signal float64) (Sample, error) {
	var sample Sample
	err := s.run(ctx, "add_standard", func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, err := s.editableSession(); err != nil {
			return err
		}
		zero := s.zeroReference()
		if s.samples.Count() == 0 && concentration == 0 {
			var err error
			if zero, err = blankReference(signal); err != nil {
				return err
			}
		}
		var err error
		sample, err = s.appendLocked(ctx, concentration, signal, zero)
		return err
	})
	return sample, err
}

func (s *Service) appendLocked(ctx context.Context, concentration, signal float64, zero *float64) (Sample, error) {
	abs, err := standardAbsorbance(signal, zero)
	if err != nil {
		return Sample{}, err
	}
	row := Sample{Concentration: concentration, Signal: signal, Absorbance: abs}
	if _, err := s.saveSamples(ctx, append(s.samples.Samples(), row), zero); err != nil {
		return Sample{}, err
	}
	need := s.target().MinimumStandards() - s.samples.Count()
	if need > 0 {
		s.logger.Info("standard recorded", "concentration", concentration, "signal", signal, "absorbance", abs, "more_needed", need)
	} else {
		s.logger.Info("standard recorded", "concentration", concentration, "signal", signal, "absorbance", abs)
	}
	return row, nil
}

func (s *Service) target() Shape {
	if sess, err := s.activeSession(); err == nil {
		return sess.Target
	}
	return calibration.ShapeLinear
}

// LoadSamples replaces the standards, for example with a fixture data set.
// The first sample's signal becomes the zero reference.
func (s *Service) LoadSamples(ctx context.Context, samples []Sample) (Session, error) {
	var updated Session
	err := s.run(ctx, "load_samples", func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, err := s.editableSession(); err != nil {
			return err
		}
		var zero *float64
		if len(samples) > 0 {
			z := samples[0].Signal
			zero = &z
		}
		var err error
		updated, err = s.saveSamples(ctx, samples, zero)
		return err
	})
	return updated, err
}

// LoadFixture loads one of the built-in data sets.
func (s *Service) LoadFixture(ctx context.Context, name string) (Session, error) {
	samples, err := calibration.Fixture(name)
	if err != nil {
		return Session{}, err
	}
	return s.LoadSamples(ctx, samples)
}

// SampleField names an editable sample column.
type SampleField string

const (
	FieldConcentration SampleField = "concentration"
	FieldSignal        SampleField = "signal"
)

// EditSample corrects one value of a recorded standard and recomputes that
// row's absorbance. Editing a blank row updates the zero reference. The
// model is not refitted.
func (s *Service) EditSample(ctx context.Context, index int, field SampleField, value float64) (Sample, error) {
	var edited Sample
	err := s.run(ctx, "edit_sample", func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, err := s.editableSession(); err != nil {
			return err
		}
		rows := s.samples.Samples()
		if index < 0 || index >= len(rows) {
			return fmt.Errorf("core: sample index %d out of range [0,%d)", index, len(rows))
		}
		row := rows[index]
		switch field {
		case FieldConcentration:
			row.Concentration = value
		case FieldSignal:
			row.Signal = value
		default:
			return fmt.Errorf("core: sample field %q is not editable", field)
		}
		zero := s.zeroReference()
		if row.Concentration == 0 {
			var err error
			if zero, err = blankReference(row.Signal); err != nil {
				return err
			}
		}
		abs, err := standardAbsorbance(row.Signal, zero)
		if err != nil {
			return err
		}
		row.Absorbance = abs
		rows[index] = row
		if _, err := s.saveSamples(ctx, rows, zero); err != nil {
			return err
		}
		edited = row
		return nil
	})
	return edited, err
}

// Evaluate runs the decision procedure for the session's target shape and
// records the outcome.
func (s *Service) Evaluate(ctx context.Context) (Decision, error) {
	var decision Decision
	err := s.run(ctx, "evaluate", func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		sess, err := s.editableSession()
		if err != nil {
			return err
		}
		if n, need := s.samples.Count(), sess.Target.MinimumStandards(); n < need {
			return fmt.Errorf("%w: %s calibration needs %d standards including the blank, have %d",
				calibration.ErrInsufficientSamples, sess.Target, need, n)
		}
		decision, err = s.engine.Decide(sess.Target)
		if err != nil {
			return err
		}
		err = s.transact(ctx, func(tx Transaction) error {
			_, err := tx.UpdateSession(sess.ID, func(u *Session) error {
				d := decision
				u.Decision = &d
				u.Model = nil
				if decision.Model != nil {
					u.Model = decision.Model.Clone()
				}
				u.Status = SessionEvaluated
				return nil
			})
			return err
		})
		if err != nil {
			return err
		}
		s.logger.Info("calibration evaluated", "session", sess.ID, "outcome", decision.Outcome, "finding", decision.Finding, "intercept", decision.InterceptSignificant)
		return nil
	})
	return decision, err
}

// Accept makes the evaluated calibration the one used for measuring. Any
// previously accepted session is superseded.
func (s *Service) Accept(ctx context.Context) (Session, error) {
	var accepted Session
	err := s.run(ctx, "accept", func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		sess, err := s.activeSession()
		if err != nil {
			return err
		}
		switch {
		case sess.Status == SessionAccepted:
			accepted = sess
			return nil
		case sess.Status != SessionEvaluated || sess.Decision == nil:
			return ErrNotEvaluated
		case !sess.Decision.Usable():
			return fmt.Errorf("%w: %s", ErrRecalibrationRequired, sess.Decision.Message)
		}
		return s.transact(ctx, func(tx Transaction) error {
			for _, other := range tx.Snapshot().ListSessions() {
				if other.ID == sess.ID || other.Status != SessionAccepted {
					continue
				}
				if _, err := tx.UpdateSession(other.ID, func(o *Session) error {
					o.Status = SessionSuperseded
					return nil
				}); err != nil {
					return err
				}
			}
			var err error
			accepted, err = tx.UpdateSession(sess.ID, func(u *Session) error {
				u.Status = SessionAccepted
				return nil
			})
			return err
		})
	})
	return accepted, err
}

// Recalibrate discards the active calibration's standards and starts a new
// session with the same target shape.
func (s *Service) Recalibrate(ctx context.Context) (Session, error) {
	var created Session
	err := s.run(ctx, "recalibrate", func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		sess, err := s.activeSession()
		if err != nil {
			return err
		}
		return s.startLocked(ctx, sess.Target, &created)
	})
	return created, err
}

// Resume makes a stored session active again, reloading its standards and
// zero reference.
func (s *Service) Resume(ctx context.Context, id string) (Session, error) {
	var sess Session
	err := s.run(ctx, "resume", func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		found, ok := s.store.GetSession(id)
		if !ok {
			return domain.ErrNotFound{Entity: EntitySession, ID: id}
		}
		s.resumeLocked(found)
		sess = found
		return nil
	})
	return sess, err
}

// ResumeAccepted makes the most recently accepted session active.
func (s *Service) ResumeAccepted(ctx context.Context) (Session, error) {
	var sess Session
	err := s.run(ctx, "resume", func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		sessions := s.store.ListSessions()
		for i := len(sessions) - 1; i >= 0; i-- {
			if sessions[i].Status == SessionAccepted {
				s.resumeLocked(sessions[i])
				sess = sessions[i]
				return nil
			}
		}
		return ErrSessionNotAccepted
	})
	return sess, err
}

func (s *Service) resumeLocked(sess Session) {
	s.active = sess.ID
	s.samples.Replace(sess.Samples)
	s.engine.Reset()
	s.converter.ClearZeroReference()
	if sess.ZeroReference != nil {
		s.converter.SetZeroReference(*sess.ZeroReference)
	}
}

// Measure reads an unknown sample and estimates its concentration with the
// accepted calibration. Inversion failures are recorded on the measurement
// rather than returned.
func (s *Service) Measure(ctx context.Context, label string) (Measurement, error) {
	var m Measurement
	err := s.run(ctx, "measure", func(ctx context.Context) error {
		if err := checkLabel(label); err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		sess, err := s.measuringSession()
		if err != nil {
			return err
		}
		signal, err := s.read(ctx)
		if err != nil {
			return err
		}
		m, err = s.measureLocked(ctx, sess, label, signal, spectro.IsSimulated(s.source))
		return err
	})
	return m, err
}

// MeasureSignal is Measure with an already acquired signal.
func (s *Service) MeasureSignal(ctx context.Context, label string, signal float64) (Measurement, error) {
	var m Measurement
	err := s.run(ctx, "measure", func(ctx context.Context) error {
		if err := checkLabel(label); err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		sess, err := s.measuringSession()
		if err != nil {
			return err
		}
		m, err = s.measureLocked(ctx, sess, label, signal, false)
		return err
	})
	return m, err
}

// checkLabel rejects labels containing the export field separator or a line
// break.
func checkLabel(label string) error {
	if strings.ContainsAny(label, ",\r\n") {
		return fmt.Errorf("%w: %q contains a comma or line break", ErrInvalidLabel, label)
	}
	return nil
}

func (s *Service) measuringSession() (Session, error) {
	sess, err := s.activeSession()
	if err != nil {
		return Session{}, err
	}
	if sess.Status != SessionAccepted || sess.Model == nil {
		return Session{}, ErrSessionNotAccepted
	}
	return sess, nil
}

func (s *Service) measureLocked(ctx context.Context, sess Session, label string, signal float64, simulated bool) (Measurement, error) {
	abs, err := s.converter.Absorbance(signal)
	if err != nil && !errors.Is(err, spectro.ErrNonPositiveRatio) {
		return Measurement{}, err
	}
	m := Measurement{
		SessionID:  sess.ID,
		Label:      label,
		Signal:     signal,
		Absorbance: abs,
		Simulated:  simulated,
	}
	// A ratio without a logarithm leaves the concentration unset.
	var rng calibration.Range
	if err == nil {
		rng, err = calibration.ConcentrationRange(sess.Samples)
	}
	if err == nil {
		var est calibration.Estimate
		est, err = calibration.Invert(abs, sess.Model, rng)
		if err == nil {
			c := est.Concentration
			m.Concentration = &c
			m.InRange = est.InRange
			if !est.InRange {
				s.logger.Warn("concentration outside calibration range", "label", label, "concentration", c, "min", rng.Min, "max", rng.Max)
			}
		}
	}
	if err != nil {
		m.Error = err.Error()
		s.logger.Warn("concentration not estimated", "label", label, "absorbance", abs, "error", err)
	}
	var created Measurement
	terr := s.transact(ctx, func(tx Transaction) error {
		var err error
		created, err = tx.CreateMeasurement(m)
		return err
	})
	return created, terr
}

// ActiveSession returns the active session, if any.
func (s *Service) ActiveSession() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.activeSession()
	return sess, err == nil
}

// Samples returns the active session's standards.
func (s *Service) Samples() []Sample {
	return s.samples.Samples()
}

// Sessions lists stored sessions, oldest first.
func (s *Service) Sessions() []Session {
	return s.store.ListSessions()
}

// Measurements lists measurements of sessionID, or all when empty.
func (s *Service) Measurements(sessionID string) []Measurement {
	return s.store.ListMeasurements(sessionID)
}

// Equations renders the active calibration as absorbance and concentration
// equations.
func (s *Service) Equations() (model string, concentration string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.activeSession()
	if err != nil {
		return "", "", err
	}
	if sess.Model == nil {
		return "", "", calibration.ErrNoModel
	}
	return calibration.ModelEquation(sess.Model), calibration.ConcentrationEquation(sess.Model), nil
}
