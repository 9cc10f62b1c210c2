package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haukened/rr-dnsml/internal/ml/common/log"
	"github.com/haukened/rr-dnsml/internal/ml/common/metrics"
	"github.com/haukened/rr-dnsml/internal/ml/config"
	"github.com/haukened/rr-dnsml/internal/ml/domain"
	"github.com/haukened/rr-dnsml/internal/ml/services/classifier"
)

// cli carries state shared by subcommands once the root has loaded config.
type cli struct {
	cfg *config.AppConfig
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Build, train and query the domain ad/tracker classifier",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			if err := log.Configure(cfg.Env, cfg.LogLevel); err != nil {
				return fmt.Errorf("logging configuration error: %w", err)
			}
			c.cfg = cfg
			return nil
		},
	}

	cmd.AddCommand(c.datasetCmd(), c.trainCmd(), c.predictCmd(), c.featuresCmd())
	return cmd
}

func (c *cli) datasetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Manage the labeled dataset",
	}

	var out, from string
	build := &cobra.Command{
		Use:   "build",
		Short: "Write a balanced dataset CSV from both domain lists or a labeled file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if out != "" {
				c.cfg.DatasetPath = out
			}
			if from != "" {
				c.cfg.LabeledPath = from
			}
			app, err := buildApplication(c.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			ds, err := app.pipeline.BuildDataset(cmd.Context())
			if err != nil {
				return err
			}
			blocked, allowed := ds.Counts()
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d rows (%d blocked, %d allowed) to %s\n",
				ds.Len(), blocked, allowed, c.cfg.DatasetPath)
			return nil
		},
	}
	build.Flags().StringVarP(&out, "out", "o", "", "Dataset CSV path (defaults to DNSML_DATASET_PATH)")
	build.Flags().StringVarP(&from, "from", "f", "", "Labeled domain,blocked CSV to balance instead of fetching (defaults to DNSML_LABELED_PATH)")

	cmd.AddCommand(build)
	return cmd
}

func (c *cli) trainCmd() *cobra.Command {
	var exportDir string

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train on the dataset (building it if missing) and export the model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if exportDir != "" {
				c.cfg.ExportDir = exportDir
			}
			app, err := buildApplication(c.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			rep, err := app.pipeline.Train(cmd.Context())
			if err != nil {
				return err
			}
			last, _ := rep.History.Last()
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "run %s: %d rows, %d epochs\n", rep.RunID, rep.Rows, len(rep.History))
			fmt.Fprintf(w, "loss %.4f  accuracy %.4f  val_loss %.4f  val_accuracy %.4f\n",
				last.Loss, last.Accuracy, last.ValLoss, last.ValAccuracy)
			fmt.Fprintf(w, "model written to %s\n", rep.Artifact.Dir)
			return nil
		},
	}
	cmd.Flags().StringVarP(&exportDir, "export-dir", "e", "", "Model output directory (defaults to DNSML_EXPORT_DIR)")
	return cmd
}

func (c *cli) predictCmd() *cobra.Command {
	var modelDir, modeName string

	cmd := &cobra.Command{
		Use:   "predict <domain...>",
		Short: "Score domains with an exported model or the keyword heuristic",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if modeName == "" {
				modeName = c.cfg.ScoreMode
			}
			mode, err := classifier.ParseMode(modeName)
			if err != nil {
				return err
			}
			dir := c.cfg.ExportDir
			if modelDir != "" {
				dir = modelDir
			}
			clf, err := openClassifier(c.cfg, mode, dir)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DOMAIN\tSCORE\tCONFIDENCE\tVERDICT")
			for _, p := range clf.PredictBatch(args) {
				verdict := "allowed"
				if p.Blocked {
					verdict = "blocked"
				}
				fmt.Fprintf(tw, "%s\t%.4f\t%s\t%s\n", p.Domain, p.Score, p.Confidence, verdict)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if err := metrics.WriteTextfile(c.cfg.MetricsFile); err != nil {
				log.Warn(map[string]any{"error": err}, "metrics_write_failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&modelDir, "model", "m", "", "Model directory (defaults to DNSML_EXPORT_DIR)")
	cmd.Flags().StringVar(&modeName, "mode", "", "Scoring mode, model or heuristic (defaults to DNSML_SCORE_MODE)")
	return cmd
}

func (c *cli) featuresCmd() *cobra.Command {
	var modelDir string

	cmd := &cobra.Command{
		Use:   "features <domain...>",
		Short: "Print the feature vector of each domain",
		Long: "Print the raw feature vector of each domain. With --model the " +
			"vector is normalized with the scales and extractor sets stored in that model.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			extract := buildExtractor(c.cfg).ExtractDomain
			if modelDir != "" {
				clf, err := openClassifier(c.cfg, classifier.ModeModel, modelDir)
				if err != nil {
					return err
				}
				extract = func(name string) domain.FeatureVector {
					_, norm := clf.Features(name)
					return norm
				}
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprint(tw, "DOMAIN")
			for _, n := range domain.FeatureNames {
				fmt.Fprint(tw, "\t"+n)
			}
			fmt.Fprintln(tw)
			for _, name := range args {
				fmt.Fprint(tw, name)
				for _, v := range extract(name) {
					fmt.Fprint(tw, "\t"+strconv.FormatFloat(v, 'g', 6, 64))
				}
				fmt.Fprintln(tw)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&modelDir, "model", "m", "", "Normalize with the model in this directory")
	return cmd
}
