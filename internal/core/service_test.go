package core

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"spectrocal/internal/infra/persistence/memory"
	"spectrocal/internal/spectro"
	"spectrocal/pkg/calibration"
	"spectrocal/pkg/domain"
)

func TestRecordWorkflow(t *testing.T) {
	ctx := context.Background()
	src := &scriptedSource{values: []float64{1000, 500, 250, 125}}
	svc := newTestService(t, src)

	if _, err := svc.RecordBlank(ctx); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
	sess, err := svc.StartCalibration(ctx, calibration.ShapeLinear)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if sess.Status != SessionCollecting || sess.Target != calibration.ShapeLinear {
		t.Fatalf("unexpected session %+v", sess)
	}
	if _, err := svc.RecordStandard(ctx, 1); !errors.Is(err, spectro.ErrNoZeroReference) {
		t.Fatalf("expected ErrNoZeroReference before blank, got %v", err)
	}

	blank, err := svc.RecordBlank(ctx)
	if err != nil {
		t.Fatalf("blank: %v", err)
	}
	if blank.Signal != 1000 || blank.Absorbance != 0 || blank.Concentration != 0 {
		t.Fatalf("unexpected blank %+v", blank)
	}
	for i, conc := range []float64{1, 2, 3} {
		smp, err := svc.RecordStandard(ctx, conc)
		if err != nil {
			t.Fatalf("standard %d: %v", i, err)
		}
		want := math.Log10(1000 / smp.Signal)
		if math.Abs(smp.Absorbance-want) > 1e-12 {
			t.Fatalf("standard %d absorbance %v, want %v", i, smp.Absorbance, want)
		}
	}
	active, ok := svc.ActiveSession()
	if !ok {
		t.Fatalf("expected active session")
	}
	if len(active.Samples) != 4 || active.ZeroReference == nil || *active.ZeroReference != 1000 {
		t.Fatalf("session not persisted: %+v", active)
	}
	if got := svc.Samples(); len(got) != 4 || got[3].Signal != 125 {
		t.Fatalf("unexpected in-memory samples %+v", got)
	}
}

func TestStartCalibrationRejectsUnknownShape(t *testing.T) {
	svc := newTestService(t, nil)
	if _, err := svc.StartCalibration(context.Background(), Shape("cubic")); err == nil {
		t.Fatalf("expected error for cubic target")
	}
}

func TestAddStandardFirstBlankSetsReference(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	if _, err := svc.StartCalibration(ctx, calibration.ShapeLinear); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.AddStandard(ctx, 0, 800); err != nil {
		t.Fatalf("blank: %v", err)
	}
	smp, err := svc.AddStandard(ctx, 2, 80)
	if err != nil {
		t.Fatalf("standard: %v", err)
	}
	if math.Abs(smp.Absorbance-1) > 1e-12 {
		t.Fatalf("expected absorbance 1, got %v", smp.Absorbance)
	}
}

func TestStandardsRefuseNonPositiveRatio(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, &scriptedSource{values: []float64{-2}})
	if _, err := svc.StartCalibration(ctx, calibration.ShapeLinear); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.AddStandard(ctx, 0, -1); !errors.Is(err, spectro.ErrNonPositiveRatio) {
		t.Fatalf("expected negative blank refused, got %v", err)
	}
	if _, err := svc.RecordBlank(ctx); !errors.Is(err, spectro.ErrNonPositiveRatio) {
		t.Fatalf("expected negative sensor blank refused, got %v", err)
	}
	if _, ok := svc.converter.ZeroReference(); ok {
		t.Fatalf("refused blank must not set the zero reference")
	}
	if _, err := svc.AddStandard(ctx, 0, 800); err != nil {
		t.Fatalf("blank: %v", err)
	}
	for _, signal := range []float64{0, -3, math.Inf(1)} {
		if _, err := svc.AddStandard(ctx, 1, signal); !errors.Is(err, spectro.ErrNonPositiveRatio) {
			t.Fatalf("signal %v: expected ErrNonPositiveRatio, got %v", signal, err)
		}
	}
	if _, err := svc.EditSample(ctx, 0, FieldSignal, 0); !errors.Is(err, spectro.ErrNonPositiveRatio) {
		t.Fatalf("expected blank edit to zero refused, got %v", err)
	}
	sess, _ := svc.ActiveSession()
	if len(sess.Samples) != 1 || len(svc.Samples()) != 1 || *sess.ZeroReference != 800 {
		t.Fatalf("refused standards must not be stored: %+v", sess.Samples)
	}
}

// failingStore fails every transaction while fail is set.
type failingStore struct {
	PersistentStore
	fail bool
}

func (f *failingStore) RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error) {
	if f.fail {
		return Result{}, errors.New("write failed")
	}
	return f.PersistentStore.RunInTransaction(ctx, fn)
}

func TestFailedSaveKeepsStandards(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{PersistentStore: memory.NewStore(NewDefaultRulesEngine())}
	svc := NewService(store, WithSampling(1, 0), WithSource(&scriptedSource{values: []float64{500}}))
	if _, err := svc.StartCalibration(ctx, calibration.ShapeLinear); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, _ = svc.AddStandard(ctx, 0, 1000)
	_, _ = svc.AddStandard(ctx, 1, 100)

	store.fail = true
	if _, err := svc.RecordBlank(ctx); err == nil {
		t.Fatalf("expected blank to fail")
	}
	if _, err := svc.AddStandard(ctx, 2, 10); err == nil {
		t.Fatalf("expected standard to fail")
	}
	if _, err := svc.EditSample(ctx, 0, FieldSignal, 2000); err == nil {
		t.Fatalf("expected edit to fail")
	}
	if _, err := svc.LoadFixture(ctx, "linear-no-intercept"); err == nil {
		t.Fatalf("expected load to fail")
	}
	got := svc.Samples()
	if len(got) != 2 || got[0].Signal != 1000 || got[1].Signal != 100 {
		t.Fatalf("failed saves changed the standards: %+v", got)
	}
	if z, ok := svc.converter.ZeroReference(); !ok || z != 1000 {
		t.Fatalf("failed saves changed the zero reference: %v %v", z, ok)
	}

	store.fail = false
	if _, err := svc.AddStandard(ctx, 2, 10); err != nil {
		t.Fatalf("standard: %v", err)
	}
	sess, _ := svc.ActiveSession()
	if len(sess.Samples) != 3 || *sess.ZeroReference != 1000 || math.Abs(sess.Samples[2].Absorbance-2) > 1e-12 {
		t.Fatalf("unexpected stored session %+v", sess)
	}
}

func TestEditSample(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	if _, err := svc.StartCalibration(ctx, calibration.ShapeLinear); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, _ = svc.AddStandard(ctx, 0, 1000)
	_, _ = svc.AddStandard(ctx, 1, 100)
	_, _ = svc.AddStandard(ctx, 2, 10)

	edited, err := svc.EditSample(ctx, 1, FieldSignal, 10)
	if err != nil {
		t.Fatalf("edit signal: %v", err)
	}
	if math.Abs(edited.Absorbance-2) > 1e-12 {
		t.Fatalf("expected recomputed absorbance 2, got %v", edited.Absorbance)
	}
	if _, err := svc.EditSample(ctx, 0, FieldSignal, 100); err != nil {
		t.Fatalf("edit blank: %v", err)
	}
	sess, _ := svc.ActiveSession()
	if sess.ZeroReference == nil || *sess.ZeroReference != 100 {
		t.Fatalf("blank edit should update zero reference, got %v", sess.ZeroReference)
	}
	// Rows other than the edited one keep their absorbance.
	if math.Abs(sess.Samples[2].Absorbance-2) > 1e-12 {
		t.Fatalf("unedited row changed: %+v", sess.Samples[2])
	}
	if math.Abs(sess.Samples[0].Absorbance) > 1e-12 {
		t.Fatalf("blank absorbance should be 0, got %v", sess.Samples[0].Absorbance)
	}
	if _, err := svc.EditSample(ctx, 9, FieldSignal, 1); err == nil {
		t.Fatalf("expected out of range error")
	}
	if _, err := svc.EditSample(ctx, 1, SampleField("absorbance"), 1); err == nil {
		t.Fatalf("expected field error")
	}
	edited, err = svc.EditSample(ctx, 2, FieldConcentration, 0)
	if err != nil {
		t.Fatalf("edit concentration: %v", err)
	}
	if z, _ := svc.converter.ZeroReference(); z != 10 {
		t.Fatalf("row edited to zero concentration should become the reference, got %v", z)
	}
	if edited.Absorbance != 0 {
		t.Fatalf("expected absorbance 0 for new blank row, got %v", edited.Absorbance)
	}
}

func TestEvaluateFixtures(t *testing.T) {
	cases := []struct {
		fixture string
		target  Shape
		outcome calibration.Outcome
		finding calibration.Finding
	}{
		{"cubic", calibration.ShapeQuadratic, calibration.OutcomeRecalibrate, calibration.FindingCubicTrend},
		{"quadratic-no-intercept", calibration.ShapeQuadratic, calibration.OutcomeConfirm, calibration.FindingQuadraticTrend},
		{"linear-intercept", calibration.ShapeLinear, calibration.OutcomeConfirm, calibration.FindingLinearTrend},
		{"no-trend", calibration.ShapeLinear, calibration.OutcomeRecalibrate, calibration.FindingNoTrend},
	}
	for _, tc := range cases {
		t.Run(tc.fixture, func(t *testing.T) {
			ctx := context.Background()
			svc := newTestService(t, nil)
			if _, err := svc.StartCalibration(ctx, tc.target); err != nil {
				t.Fatalf("start: %v", err)
			}
			if _, err := svc.LoadFixture(ctx, tc.fixture); err != nil {
				t.Fatalf("load: %v", err)
			}
			d, err := svc.Evaluate(ctx)
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if d.Outcome != tc.outcome || d.Finding != tc.finding {
				t.Fatalf("got %s/%s, want %s/%s", d.Outcome, d.Finding, tc.outcome, tc.finding)
			}
			sess, _ := svc.ActiveSession()
			if sess.Status != SessionEvaluated || sess.Decision == nil || sess.Model == nil {
				t.Fatalf("evaluation not persisted: %+v", sess)
			}
			_, err = svc.Accept(ctx)
			if tc.outcome == calibration.OutcomeRecalibrate {
				if !errors.Is(err, ErrRecalibrationRequired) {
					t.Fatalf("expected ErrRecalibrationRequired, got %v", err)
				}
			} else if err != nil {
				t.Fatalf("accept: %v", err)
			}
		})
	}
}

func TestEvaluateNeedsMinimumStandards(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	if _, err := svc.StartCalibration(ctx, calibration.ShapeQuadratic); err != nil {
		t.Fatalf("start: %v", err)
	}
	samples, _ := calibration.Fixture("quadratic-no-intercept")
	if _, err := svc.LoadSamples(ctx, samples[:4]); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := svc.Evaluate(ctx); !errors.Is(err, calibration.ErrInsufficientSamples) {
		t.Fatalf("expected ErrInsufficientSamples, got %v", err)
	}
	if _, err := svc.Accept(ctx); !errors.Is(err, ErrNotEvaluated) {
		t.Fatalf("expected ErrNotEvaluated, got %v", err)
	}
}

func TestChangingStandardsDiscardsEvaluation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	_, _ = svc.StartCalibration(ctx, calibration.ShapeLinear)
	_, _ = svc.LoadFixture(ctx, "linear-intercept")
	if _, err := svc.Evaluate(ctx); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if _, err := svc.AddStandard(ctx, 5, 150); err != nil {
		t.Fatalf("add: %v", err)
	}
	sess, _ := svc.ActiveSession()
	if sess.Status != SessionCollecting || sess.Decision != nil || sess.Model != nil {
		t.Fatalf("stale evaluation kept: %+v", sess)
	}
}

func TestAcceptSupersedesPrevious(t *testing.T) {
	ctx := context.Background()
	svc := acceptedService(t, "linear-no-intercept", calibration.ShapeLinear)
	first, _ := svc.ActiveSession()

	if _, err := svc.AddStandard(ctx, 1, 1); !errors.Is(err, ErrSessionAccepted) {
		t.Fatalf("expected ErrSessionAccepted, got %v", err)
	}
	again, err := svc.Accept(ctx)
	if err != nil || again.ID != first.ID {
		t.Fatalf("re-accept should be a no-op: %v", err)
	}

	second, err := svc.Recalibrate(ctx)
	if err != nil {
		t.Fatalf("recalibrate: %v", err)
	}
	if second.Target != calibration.ShapeLinear || second.ID == first.ID {
		t.Fatalf("unexpected recalibration session %+v", second)
	}
	if len(svc.Samples()) != 0 {
		t.Fatalf("recalibrate should clear standards")
	}
	_, _ = svc.LoadFixture(ctx, "linear-intercept")
	if _, err := svc.Evaluate(ctx); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if _, err := svc.Accept(ctx); err != nil {
		t.Fatalf("accept: %v", err)
	}
	old, _ := svc.Store().GetSession(first.ID)
	if old.Status != SessionSuperseded {
		t.Fatalf("expected first session superseded, got %s", old.Status)
	}
	if len(svc.Sessions()) != 2 {
		t.Fatalf("expected two sessions, got %d", len(svc.Sessions()))
	}
}

func TestStartSupersedesUnacceptedSession(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	first, _ := svc.StartCalibration(ctx, calibration.ShapeLinear)
	if _, err := svc.StartCalibration(ctx, calibration.ShapeQuadratic); err != nil {
		t.Fatalf("second start: %v", err)
	}
	old, _ := svc.Store().GetSession(first.ID)
	if old.Status != SessionSuperseded {
		t.Fatalf("expected superseded, got %s", old.Status)
	}
}

func TestMeasure(t *testing.T) {
	ctx := context.Background()
	svc := acceptedService(t, "linear-no-intercept", calibration.ShapeLinear)
	sess, _ := svc.ActiveSession()
	zero := *sess.ZeroReference
	signal := zero / math.Pow(10, 0.3)

	m, err := svc.MeasureSignal(ctx, "A1", signal)
	if err != nil {
		t.Fatalf("measure: %v", err)
	}
	if m.ID == "" || m.SessionID != sess.ID || m.Label != "A1" {
		t.Fatalf("unexpected measurement %+v", m)
	}
	if math.Abs(m.Absorbance-0.3) > 1e-9 {
		t.Fatalf("expected absorbance 0.3, got %v", m.Absorbance)
	}
	rng, _ := calibration.ConcentrationRange(sess.Samples)
	want, err := calibration.Invert(m.Absorbance, sess.Model, rng)
	if err != nil {
		t.Fatalf("invert: %v", err)
	}
	if m.Concentration == nil || math.Abs(*m.Concentration-want.Concentration) > 1e-12 || !m.InRange {
		t.Fatalf("unexpected concentration %v (want %v)", m.Concentration, want.Concentration)
	}
	if sess.Model.Coefficients[0] != 0 {
		t.Fatalf("expected zeroed intercept, got %v", sess.Model.Coefficients[0])
	}
	if got := svc.Measurements(sess.ID); len(got) != 1 {
		t.Fatalf("expected one stored measurement, got %d", len(got))
	}
}

func TestMeasureRecordsInversionFailure(t *testing.T) {
	ctx := context.Background()
	logger := &captureLogger{}
	svc := acceptedService(t, "quadratic-no-intercept", calibration.ShapeQuadratic, WithLogger(logger))
	sess, _ := svc.ActiveSession()
	if sess.Model.Coefficients[2] >= 0 {
		t.Fatalf("fixture expected to be concave, got a=%v", sess.Model.Coefficients[2])
	}
	m, err := svc.MeasureSignal(ctx, "B7", *sess.ZeroReference/1e5)
	if err != nil {
		t.Fatalf("measure: %v", err)
	}
	if m.Concentration != nil {
		t.Fatalf("expected no concentration, got %v", *m.Concentration)
	}
	if !strings.Contains(m.Error, "no real solution") {
		t.Fatalf("expected no-solution error, got %q", m.Error)
	}
	if !logger.has("warn", "concentration not estimated") {
		t.Fatalf("expected warning log")
	}
}

func TestMeasureNonPositiveRatioLeavesConcentrationUnset(t *testing.T) {
	ctx := context.Background()
	logger := &captureLogger{}
	svc := acceptedService(t, "linear-no-intercept", calibration.ShapeLinear, WithLogger(logger))
	sess, _ := svc.ActiveSession()
	for _, signal := range []float64{-5, 0} {
		m, err := svc.MeasureSignal(ctx, "bad", signal)
		if err != nil {
			t.Fatalf("signal %v: %v", signal, err)
		}
		if m.Concentration != nil || m.InRange {
			t.Fatalf("signal %v: expected no concentration, got %+v", signal, m)
		}
		if m.Absorbance != 0 || !strings.Contains(m.Error, spectro.ErrNonPositiveRatio.Error()) {
			t.Fatalf("signal %v: expected flagged zero absorbance, got %+v", signal, m)
		}
	}
	if got := svc.Measurements(sess.ID); len(got) != 2 || got[0].Error == "" {
		t.Fatalf("expected flagged measurements stored, got %+v", got)
	}
	if !logger.has("warn", "concentration not estimated") {
		t.Fatalf("expected warning log")
	}
}

func TestMeasureRejectsLabelsWithSeparators(t *testing.T) {
	ctx := context.Background()
	svc := acceptedService(t, "linear-no-intercept", calibration.ShapeLinear)
	for _, label := range []string{"A,1", "A1\n", "A\r1"} {
		if _, err := svc.MeasureSignal(ctx, label, 500); !errors.Is(err, ErrInvalidLabel) {
			t.Fatalf("label %q: expected ErrInvalidLabel, got %v", label, err)
		}
		if _, err := svc.Measure(ctx, label); !errors.Is(err, ErrInvalidLabel) {
			t.Fatalf("label %q: expected ErrInvalidLabel from Measure, got %v", label, err)
		}
	}
	if got := svc.Measurements(""); len(got) != 0 {
		t.Fatalf("rejected labels must not be stored: %+v", got)
	}
}

func TestMeasureRequiresAcceptedSession(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, &scriptedSource{values: []float64{400}})
	if _, err := svc.Measure(ctx, "x"); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
	_, _ = svc.StartCalibration(ctx, calibration.ShapeLinear)
	if _, err := svc.Measure(ctx, "x"); !errors.Is(err, ErrSessionNotAccepted) {
		t.Fatalf("expected ErrSessionNotAccepted, got %v", err)
	}
}

func TestMeasureReadsSource(t *testing.T) {
	ctx := context.Background()
	src := &scriptedSource{values: []float64{400}}
	svc := acceptedService(t, "linear-intercept", calibration.ShapeLinear, WithSource(src))
	m, err := svc.Measure(ctx, "C1")
	if err != nil {
		t.Fatalf("measure: %v", err)
	}
	if m.Signal != 400 || src.reads != 1 || m.Simulated {
		t.Fatalf("unexpected measurement %+v reads=%d", m, src.reads)
	}
}

func TestResume(t *testing.T) {
	ctx := context.Background()
	svc := acceptedService(t, "linear-intercept", calibration.ShapeLinear)
	sess, _ := svc.ActiveSession()

	other := NewService(svc.Store(), WithSampling(1, 0))
	if _, err := other.MeasureSignal(ctx, "x", 500); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
	resumed, err := other.ResumeAccepted(ctx)
	if err != nil || resumed.ID != sess.ID {
		t.Fatalf("resume accepted: %v", err)
	}
	if z, ok := other.converter.ZeroReference(); !ok || z != *sess.ZeroReference {
		t.Fatalf("zero reference not restored")
	}
	if _, err := other.MeasureSignal(ctx, "x", 500); err != nil {
		t.Fatalf("measure after resume: %v", err)
	}
	if _, err := other.Resume(ctx, "missing"); !errors.As(err, new(domain.ErrNotFound)) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	empty := newTestService(t, nil)
	if _, err := empty.ResumeAccepted(ctx); !errors.Is(err, ErrSessionNotAccepted) {
		t.Fatalf("expected ErrSessionNotAccepted, got %v", err)
	}
}

func TestEquations(t *testing.T) {
	svc := newTestService(t, nil)
	if _, _, err := svc.Equations(); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
	_, _ = svc.StartCalibration(context.Background(), calibration.ShapeLinear)
	if _, _, err := svc.Equations(); !errors.Is(err, calibration.ErrNoModel) {
		t.Fatalf("expected ErrNoModel, got %v", err)
	}
	svc = acceptedService(t, "linear-no-intercept", calibration.ShapeLinear)
	model, conc, err := svc.Equations()
	if err != nil {
		t.Fatalf("equations: %v", err)
	}
	if !strings.HasPrefix(model, "Absorbance = ") || !strings.HasPrefix(conc, "Concentration = Absorbance / ") {
		t.Fatalf("unexpected equations %q %q", model, conc)
	}
}
