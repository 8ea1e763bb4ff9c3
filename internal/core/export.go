package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"spectrocal/internal/blob"
	"spectrocal/internal/tabular"
)

// Export column headings.
var (
	CalibrationColumns = []string{"Concentration", "Binary Volts", "Absorbance"}
	MeasurementColumns = []string{"Sample ID", "Binary Volts", "Absorbance", "Concentration"}
)

// ExportResult describes a written export. URL is set when the store can
// hand out a link to it.
type ExportResult struct {
	Info blob.Info
	Rows int
	URL  string
}

// exportLinkExpiry bounds presigned links to exports.
const exportLinkExpiry = 24 * time.Hour

type exportOptions struct {
	replace bool
}

// ExportOption configures a single export.
type ExportOption func(*exportOptions)

// ReplaceExisting deletes an export of the same name before writing.
func ReplaceExisting() ExportOption {
	return func(o *exportOptions) { o.replace = true }
}

// ExportName trims name and appends ".csv" when missing.
func ExportName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("core: export name required")
	}
	if !strings.HasSuffix(name, ".csv") {
		name += ".csv"
	}
	return name, nil
}

// ExportMeasurements writes the active session's measurements. An existing
// export with the same name is kept and blob.ErrExists returned unless
// ReplaceExisting is given.
func (s *Service) ExportMeasurements(ctx context.Context, name string, opts ...ExportOption) (ExportResult, error) {
	var out ExportResult
	err := s.run(ctx, "export_measurements", func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		sess, err := s.measuringSession()
		if err != nil {
			return err
		}
		measurements := s.store.ListMeasurements(sess.ID)
		rows := make([][]any, len(measurements))
		for i, m := range measurements {
			rows[i] = []any{m.Label, m.Signal, m.Absorbance, m.Concentration}
		}
		out, err = s.export(ctx, name, sess.ID, MeasurementColumns, rows, opts)
		return err
	})
	return out, err
}

// ExportCalibration writes the active session's standards.
func (s *Service) ExportCalibration(ctx context.Context, name string, opts ...ExportOption) (ExportResult, error) {
	var out ExportResult
	err := s.run(ctx, "export_calibration", func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		sess, err := s.activeSession()
		if err != nil {
			return err
		}
		rows := make([][]any, len(sess.Samples))
		for i, smp := range sess.Samples {
			rows[i] = []any{smp.Concentration, smp.Signal, smp.Absorbance}
		}
		out, err = s.export(ctx, name, sess.ID, CalibrationColumns, rows, opts)
		return err
	})
	return out, err
}

func (s *Service) export(ctx context.Context, name, sessionID string, columns []string, rows [][]any, opts []ExportOption) (ExportResult, error) {
	var o exportOptions
	for _, opt := range opts {
		opt(&o)
	}
	key, err := ExportName(name)
	if err != nil {
		return ExportResult{}, err
	}
	var buf bytes.Buffer
	w := tabular.NewWriter(&buf)
	w.Decimals = s.decimals
	if err := w.WriteHeader(columns...); err != nil {
		return ExportResult{}, err
	}
	for _, row := range rows {
		if err := w.WriteRow(row...); err != nil {
			return ExportResult{}, err
		}
	}
	if err := w.Flush(); err != nil {
		return ExportResult{}, err
	}
	if o.replace {
		removed, err := s.exports.Delete(ctx, key)
		if err != nil {
			return ExportResult{}, fmt.Errorf("replace %s: %w", key, err)
		}
		if removed {
			s.logger.Info("replacing export", "key", key)
		}
	}
	info, err := s.exports.Put(ctx, key, &buf, blob.PutOptions{
		ContentType: "text/csv",
		Metadata:    map[string]string{"session": sessionID},
	})
	if err != nil {
		return ExportResult{}, fmt.Errorf("export %s: %w", key, err)
	}
	res := ExportResult{Info: info, Rows: w.Rows()}
	url, err := s.exports.PresignURL(ctx, key, blob.SignedURLOptions{Method: "GET", Expiry: exportLinkExpiry})
	switch {
	case err == nil:
		res.URL = url
	case !errors.Is(err, blob.ErrUnsupported):
		s.logger.Warn("export link unavailable", "key", key, "error", err)
	}
	s.logger.Info("export written", "key", info.Key, "rows", res.Rows, "driver", s.exports.Driver())
	return res, nil
}

// ListExports returns the exports already in the store, ordered by key.
func (s *Service) ListExports(ctx context.Context) ([]blob.Info, error) {
	var out []blob.Info
	err := s.run(ctx, "list_exports", func(ctx context.Context) error {
		infos, err := s.exports.List(ctx, "")
		if err != nil {
			return err
		}
		for _, info := range infos {
			if strings.HasSuffix(info.Key, ".csv") {
				out = append(out, info)
			}
		}
		return nil
	})
	return out, err
}
