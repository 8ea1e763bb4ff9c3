package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"spectrocal/pkg/calibration"
	"spectrocal/pkg/domain"
)

type blockMeasurements struct{}

func (blockMeasurements) Name() string { return "block_measurements" }

func (blockMeasurements) Evaluate(_ context.Context, _ domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, c := range changes {
		if c.Entity == domain.EntityMeasurement {
			res.Violations = append(res.Violations, domain.Violation{Rule: "block_measurements", Severity: domain.SeverityBlock})
		}
	}
	return res, nil
}

func TestStoreSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store.SetNowFunc(func() time.Time { return fixed })

	var created Session
	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		created, err = tx.CreateSession(Session{Target: calibration.ShapeLinear})
		return err
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" || created.Status != domain.SessionCollecting || !created.CreatedAt.Equal(fixed) {
		t.Fatalf("unexpected created session %+v", created)
	}

	later := fixed.Add(time.Minute)
	store.SetNowFunc(func() time.Time { return later })
	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		_, err := tx.UpdateSession(created.ID, func(s *Session) error {
			s.Samples = append(s.Samples, calibration.Sample{Concentration: 0, Signal: 990})
			s.Status = domain.SessionEvaluated
			return nil
		})
		return err
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, ok := store.GetSession(created.ID)
	if !ok || got.Status != domain.SessionEvaluated || len(got.Samples) != 1 {
		t.Fatalf("unexpected session %+v", got)
	}
	if !got.UpdatedAt.Equal(later) || !got.CreatedAt.Equal(fixed) {
		t.Fatalf("timestamps not maintained: %+v", got.Base)
	}

	got.Samples[0].Signal = 1
	again, _ := store.GetSession(created.ID)
	if again.Samples[0].Signal != 990 {
		t.Fatalf("store returned shared sample storage")
	}
}

func TestStoreRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)
	boom := errors.New("boom")
	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		if _, err := tx.CreateSession(Session{Target: calibration.ShapeLinear}); err != nil {
			return err
		}
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if n := len(store.ListSessions()); n != 0 {
		t.Fatalf("expected rollback, found %d sessions", n)
	}
}

func TestStoreBlockingRuleRejectsCommit(t *testing.T) {
	ctx := context.Background()
	engine := domain.NewRulesEngine()
	engine.Register(blockMeasurements{})
	store := NewStore(engine)
	res, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		_, err := tx.CreateMeasurement(Measurement{Label: "unknown"})
		return err
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation, got %v", err)
	}
	if !res.HasBlocking() {
		t.Fatalf("expected blocking result")
	}
	if n := len(store.ListMeasurements("")); n != 0 {
		t.Fatalf("blocked measurement committed")
	}
}

func TestStoreMeasurementsAndDeleteGuards(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)
	var session Session
	conc := 1.25
	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		if session, err = tx.CreateSession(Session{Target: calibration.ShapeQuadratic}); err != nil {
			return err
		}
		if _, err = tx.CreateMeasurement(Measurement{SessionID: session.ID, Label: "a", Concentration: &conc}); err != nil {
			return err
		}
		_, err = tx.CreateMeasurement(Measurement{SessionID: "other", Label: "b"})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if n := len(store.ListMeasurements(session.ID)); n != 1 {
		t.Fatalf("expected 1 measurement for session, got %d", n)
	}
	if n := len(store.ListMeasurements("")); n != 2 {
		t.Fatalf("expected 2 measurements overall, got %d", n)
	}
	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		return tx.DeleteSession(session.ID)
	}); err == nil {
		t.Fatalf("expected delete guard error")
	}
	_, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		_, err := tx.UpdateSession("missing", func(*Session) error { return nil })
		return err
	})
	var nf domain.ErrNotFound
	if !errors.As(err, &nf) || nf.Entity != domain.EntitySession {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStoreExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)
	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		_, err := tx.CreateSession(Session{Target: calibration.ShapeLinear})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	snapshot := store.ExportState()
	other := NewStore(nil)
	other.ImportState(snapshot)
	if len(other.ListSessions()) != 1 {
		t.Fatalf("import lost sessions")
	}
	if err := other.View(ctx, func(v TransactionView) error {
		if len(v.ListSessions()) != 1 {
			return errors.New("view missing session")
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}
