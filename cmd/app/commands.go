package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"MarketGuard/internal/di"
	"MarketGuard/internal/domain/models"
	"MarketGuard/internal/services/stress"
	"MarketGuard/pkg/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "marketguard",
		Short:         "Market-data integrity and systemic-risk monitor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), stressCmd(), validateCmd())
	return root
}

func serveCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the risk pipeline and HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadWithEnv(path)
			if err != nil {
				return err
			}
			app, err := di.InitializeApp(cfg)
			if err != nil {
				return fmt.Errorf("initialize: %w", err)
			}
			return app.Run()
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "configs/config.yaml", "config file path")
	return cmd
}

func validateCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadWithEnv(path)
			if err != nil {
				return err
			}
			oc := di.OrchestratorConfig(cfg)
			return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
				"environment":   cfg.Environment,
				"backend":       cfg.Backend.Type,
				"symbols":       oc.Symbols,
				"auto_register": oc.AutoRegister,
				"policy":        oc.Policy,
				"feed":          oc.Feed,
				"contagion":     oc.Contagion,
			})
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "configs/config.yaml", "config file path")
	return cmd
}

// stressCmd runs the scenario battery against a baseline given on the
// command line, without any live feed.
func stressCmd() *cobra.Command {
	var (
		b     models.StressBaseline
		trust map[string]string
	)
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run the standard stress battery against a manual baseline",
		Example: "  marketguard stress --msi 78 --crs 25 --trust AAPL=85,MSFT=80,NVDA=70",
		RunE: func(cmd *cobra.Command, _ []string) error {
			b.TrustScores = make(map[string]float64, len(trust))
			for sym, v := range trust {
				f, err := strconv.ParseFloat(v, 64)
				if err != nil {
					return fmt.Errorf("trust for %s: %w", sym, err)
				}
				b.TrustScores[sym] = f
			}
			eng, err := stress.New(b)
			if err != nil {
				return err
			}
			reports, err := eng.StandardBattery()
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), reports)
		},
	}
	f := cmd.Flags()
	f.Float64Var(&b.MSI, "msi", 0, "baseline market stability index (0-100)")
	f.Float64Var(&b.CRS, "crs", 0, "baseline contagion risk score (0-100)")
	f.Float64Var(&b.FeedMismatchRate, "feed-mismatch", 0, "baseline feed mismatch rate (0-1)")
	f.Float64Var(&b.AnomalyRate, "anomaly-rate", 0, "baseline anomaly rate (0-1)")
	f.IntVar(&b.AnomalyCount, "anomaly-count", 0, "baseline anomaly count")
	f.StringToStringVar(&trust, "trust", nil, "per-symbol trust scores, e.g. AAPL=85,MSFT=80")
	_ = cmd.MarkFlagRequired("trust")
	return cmd
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
