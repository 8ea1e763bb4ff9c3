package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"spectrocal/internal/config"
	"spectrocal/internal/core"
	"spectrocal/internal/spectro"
	"spectrocal/internal/tabular"
	"spectrocal/pkg/calibration"
)

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "spectrocal",
		Short: "Spectrophotometer calibration and concentration measurement",
		Long: `spectrocal reads a light sensor, converts readings to absorbance against a
blank, fits an absorbance-versus-concentration calibration, tests which terms
are statistically significant and estimates the concentration of unknowns.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations["config"] == "none" {
				return nil
			}
			return a.load()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", os.Getenv(config.EnvPrefix+"CONFIG"),
		"Path to the YAML configuration file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "",
		"Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.metricsAddr, "metrics-addr", "",
		"Serve metrics on this address while the command runs")
	root.PersistentFlags().StringVar(&a.traceFile, "trace", "",
		"Append one JSON line per service operation to this file")

	root.AddCommand(
		newCalibrateCmd(a),
		newMeasureCmd(a),
		newExportCmd(a),
		newSessionsCmd(a),
		newFitCmd(a),
		newFixturesCmd(a),
		newPortsCmd(a),
		newConfigCmd(a),
	)
	return root
}

func newCalibrateCmd(a *app) *cobra.Command {
	var (
		target    string
		fixture   string
		from      string
		standards []float64
		wait      bool
		accept    bool
	)
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Record standards, evaluate the calibration and optionally accept it",
		Long: `Record a blank and a series of standards of known concentration, then test
the fitted calibration for the requested shape.

Standards come from the sensor (--standard, once per concentration), from a
built-in data set (--fixture) or from a previous calibration export (--from).

Examples:
  spectrocal calibrate --target linear --standard 1 --standard 2 --standard 4 --wait
  spectrocal calibrate --target quadratic --fixture quadratic-no-intercept --accept`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if target == "" {
				target = a.cfg.Calibration.Target
			}
			shape, err := calibration.ParseShape(target)
			if err != nil {
				return err
			}
			svc, err := a.service(ctx, false)
			if err != nil {
				return err
			}
			sess, err := svc.StartCalibration(ctx, shape)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Session %s: %s calibration, at least %d standards including the blank.\n",
				sess.ID, shape, shape.MinimumStandards())

			switch {
			case fixture != "":
				if _, err := svc.LoadFixture(ctx, fixture); err != nil {
					return err
				}
			case from != "":
				samples, err := readSamples(from)
				if err != nil {
					return err
				}
				if _, err := svc.LoadSamples(ctx, samples); err != nil {
					return err
				}
			default:
				if wait {
					if err := a.waitForEnter("Put the zero concentration standard in the holder."); err != nil {
						return err
					}
				}
				blank, err := svc.RecordBlank(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Blank signal %.3f\n", blank.Signal)
				for _, conc := range standards {
					if wait {
						if err := a.waitForEnter(fmt.Sprintf("Put the %g standard in the holder.", conc)); err != nil {
							return err
						}
					}
					smp, err := svc.RecordStandard(ctx, conc)
					if err != nil {
						return err
					}
					fmt.Fprintf(a.out, "Standard %g: signal %.3f absorbance %.3f\n", conc, smp.Signal, smp.Absorbance)
				}
			}
			printSamples(a, svc.Samples())

			decision, err := svc.Evaluate(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, decision.Message)
			if decision.Model != nil {
				fmt.Fprintln(a.out, calibration.ModelEquation(decision.Model))
			}
			if !decision.Usable() {
				fmt.Fprintln(a.out, "Please recalibrate.")
				return core.ErrRecalibrationRequired
			}
			if decision.Model != nil {
				fmt.Fprintln(a.out, calibration.ConcentrationEquation(decision.Model))
			}
			if !accept {
				fmt.Fprintln(a.out, "Run again with --accept to use this calibration.")
				return nil
			}
			if _, err := svc.Accept(ctx); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Calibration %s accepted.\n", sess.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "Calibration shape: linear or quadratic (default from config)")
	cmd.Flags().StringVar(&fixture, "fixture", "", "Load a built-in data set instead of reading the sensor")
	cmd.Flags().StringVar(&from, "from", "", "Load standards from a calibration export file")
	cmd.Flags().Float64SliceVar(&standards, "standard", nil, "Concentration of a standard to read, repeatable")
	cmd.Flags().BoolVar(&wait, "wait", false, "Prompt before each reading")
	cmd.Flags().BoolVar(&accept, "accept", false, "Accept the calibration when it is usable")
	return cmd
}

func newMeasureCmd(a *app) *cobra.Command {
	var (
		signal  float64
		useSig  bool
		wait    bool
		session string
	)
	cmd := &cobra.Command{
		Use:   "measure LABEL...",
		Short: "Estimate the concentration of unknown samples",
		Long: `Read each unknown sample and estimate its concentration with the most
recently accepted calibration (or --session).

Examples:
  spectrocal measure A1 A2 A3 --wait
  spectrocal measure B7 --signal 512.4`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			useSig = cmd.Flags().Changed("signal")
			svc, err := a.service(ctx, false)
			if err != nil {
				return err
			}
			if session != "" {
				_, err = svc.Resume(ctx, session)
			} else {
				_, err = svc.ResumeAccepted(ctx)
			}
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "Sample ID\tBinary Volts\tAbsorbance\tConcentration\tNote")
			for _, label := range args {
				var m core.Measurement
				if useSig {
					m, err = svc.MeasureSignal(ctx, label, signal)
				} else {
					if wait {
						if err := a.waitForEnter(fmt.Sprintf("Put sample %s in the holder.", label)); err != nil {
							return err
						}
					}
					m, err = svc.Measure(ctx, label)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%.3f\t%.3f\t%s\t%s\n", m.Label, m.Signal, m.Absorbance, formatConcentration(m.Concentration), measurementNote(m))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Float64Var(&signal, "signal", 0, "Use this signal instead of reading the sensor")
	cmd.Flags().BoolVar(&wait, "wait", false, "Prompt before each reading")
	cmd.Flags().StringVar(&session, "session", "", "Measure with this accepted session")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var (
		session string
		replace bool
	)
	cmd := &cobra.Command{
		Use:   "export measurements|calibration NAME",
		Short: "Save measurements or calibration standards to the export store",
		Long: `Write a comma separated export to the configured store (by default the
first mounted USB drive). ".csv" is appended when missing. An existing file
of the same name is kept unless --replace is given.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := a.service(ctx, true)
			if err != nil {
				return err
			}
			if session != "" {
				_, err = svc.Resume(ctx, session)
			} else {
				_, err = svc.ResumeAccepted(ctx)
			}
			if err != nil {
				return err
			}
			var opts []core.ExportOption
			if replace {
				opts = append(opts, core.ReplaceExisting())
			}
			var res core.ExportResult
			switch args[0] {
			case "measurements":
				res, err = svc.ExportMeasurements(ctx, args[1], opts...)
			case "calibration":
				res, err = svc.ExportCalibration(ctx, args[1], opts...)
			default:
				return fmt.Errorf("unknown export kind %q", args[0])
			}
			if errors.Is(err, blob.ErrExists) {
				return fmt.Errorf("%w; run again with --replace to overwrite it", err)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%d lines written to %s\n", res.Rows, res.Info.Key)
			if res.URL != "" {
				fmt.Fprintln(a.out, res.URL)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "Export this session instead of the accepted one")
	cmd.Flags().BoolVar(&replace, "replace", false, "Overwrite an existing export of the same name")
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List exports already in the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.service(cmd.Context(), true)
			if err != nil {
				return err
			}
			infos, err := svc.ListExports(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "Name\tBytes\tSession\tWritten")
			for _, info := range infos {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", info.Key, info.Size, info.Metadata["session"], info.LastModified.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	})
	return cmd
}

func newSessionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List calibration sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.service(cmd.Context(), false)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTarget\tStatus\tStandards\tMeasurements\tOutcome\tUpdated")
			for _, s := range svc.Sessions() {
				outcome := "-"
				if s.Decision != nil {
					outcome = string(s.Decision.Outcome)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n", s.ID, s.Target, s.Status, len(s.Samples),
					len(svc.Measurements(s.ID)), outcome, s.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}
}

func newFitCmd(a *app) *cobra.Command {
	var powers []int
	cmd := &cobra.Command{
		Use:   "fit FILE",
		Short: "Fit a polynomial to a calibration export and print its statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			samples, err := readSamples(args[0])
			if err != nil {
				return err
			}
			m, err := calibration.Fit(samples, powers)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "Power\tCoefficient\tStd Err\tt\tp\t95% CI\tSignificant")
			for i, p := range m.Powers {
				fmt.Fprintf(tw, "%d\t%.6g\t%.4g\t%.4g\t%.4g\t[%.4g, %.4g]\t%t\n", p, m.Coefficients[i],
					m.StdErr[i], m.TStat[i], m.PValue[i], m.CILow[i], m.CIHigh[i], m.Significant(i))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "n = %d, R^2 = %.6f, adjusted R^2 = %.6f\n", m.N, m.RSquared, m.RSquaredAdjusted)
			fmt.Fprintln(a.out, calibration.ModelEquation(m))
			if eq := calibration.ConcentrationEquation(m); eq != "" {
				fmt.Fprintln(a.out, eq)
			}
			return nil
		},
	}
	cmd.Annotations = map[string]string{"config": "none"}
	cmd.Flags().IntSliceVar(&powers, "powers", []int{0, 1}, "Powers of concentration to fit")
	return cmd
}

func newFixturesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fixtures [NAME]",
		Short: "List the built-in calibration data sets or print one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if len(args) == 0 {
				for _, name := range calibration.FixtureNames() {
					fmt.Fprintln(a.out, name)
				}
				return nil
			}
			samples, err := calibration.Fixture(args[0])
			if err != nil {
				return err
			}
			return writeSamples(a, samples)
		},
	}
	cmd.Annotations = map[string]string{"config": "none"}
	return cmd
}

func newPortsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ports",
		Short: "List serial ports a sensor bridge may be attached to",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			ports, err := spectro.ListPorts()
			if err != nil {
				return err
			}
			if len(ports) == 0 {
				fmt.Fprintln(a.out, "No serial ports found.")
			}
			for _, p := range ports {
				fmt.Fprintln(a.out, p)
			}
			return nil
		},
	}
	cmd.Annotations = map[string]string{"config": "none"}
	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	initCmd := &cobra.Command{
		Use:   "init PATH",
		Short: "Write the default configuration to PATH",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if _, err := os.Stat(args[0]); err == nil {
				return fmt.Errorf("%s already exists", args[0])
			} else if !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := config.WriteDefault(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Wrote %s\n", args[0])
			return nil
		},
	}
	initCmd.Annotations = map[string]string{"config": "none"}
	cmd.AddCommand(initCmd)
	return cmd
}

// readSamples loads standards from a calibration export.
func readSamples(path string) ([]calibration.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	table, err := tabular.Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	conc, err := table.Floats(core.CalibrationColumns[0])
	if err != nil {
		return nil, err
	}
	signal, err := table.Floats(core.CalibrationColumns[1])
	if err != nil {
		return nil, err
	}
	abs, err := table.Floats(core.CalibrationColumns[2])
	if err != nil {
		return nil, err
	}
	samples := make([]calibration.Sample, len(conc))
	for i := range conc {
		samples[i] = calibration.Sample{Concentration: conc[i], Signal: signal[i], Absorbance: abs[i]}
	}
	return samples, nil
}

func writeSamples(a *app, samples []calibration.Sample) error {
	w := tabular.NewWriter(a.out)
	if err := w.WriteHeader(core.CalibrationColumns...); err != nil {
		return err
	}
	for _, s := range samples {
		if err := w.WriteRow(s.Concentration, s.Signal, s.Absorbance); err != nil {
			return err
		}
	}
	return w.Flush()
}

func printSamples(a *app, samples []calibration.Sample) {
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(core.CalibrationColumns, "\t"))
	for _, s := range samples {
		fmt.Fprintf(tw, "%.3f\t%.3f\t%.3f\n", s.Concentration, s.Signal, s.Absorbance)
	}
	_ = tw.Flush()
}

func formatConcentration(c *float64) string {
	if c == nil {
		return "-"
	}
	return strconv.FormatFloat(*c, 'f', 3, 64)
}

func measurementNote(m core.Measurement) string {
	var notes []string
	switch {
	case m.Error != "":
		notes = append(notes, m.Error)
	case !m.InRange:
		notes = append(notes, "outside calibration range")
	}
	if m.Simulated {
		notes = append(notes, "simulated reading")
	}
	return strings.Join(notes, "; ")
}
