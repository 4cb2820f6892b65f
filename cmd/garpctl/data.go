package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"nichegarp/internal/dataextract"
)

func newSplitCmd() *cobra.Command {
	var (
		input      string
		outDir     string
		classCol   string
		idCol      string
		xCol       string
		yCol       string
		layerNames string
	)
	cmd := &cobra.Command{
		Use:   "split",
		Short: "Split a combined occurrence table into presence and absence files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(input) == "" {
				return errors.New("--input is required")
			}
			in, err := os.Open(input)
			if err != nil {
				return err
			}
			defer in.Close()

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}
			presencePath := filepath.Join(outDir, dataextract.PresenceFile)
			absencePath := filepath.Join(outDir, dataextract.AbsenceFile)
			presence, err := os.Create(presencePath)
			if err != nil {
				return err
			}
			defer presence.Close()
			absence, err := os.Create(absencePath)
			if err != nil {
				return err
			}
			defer absence.Close()

			summary, err := dataextract.SplitOccurrencesCSV(in, presence, absence, dataextract.SplitOptions{
				ClassColumnName:  classCol,
				IDColumnName:     idCol,
				XColumnName:      xCol,
				YColumnName:      yCol,
				LayerColumnNames: splitList(layerNames),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "presences=%d file=%s\n", summary.Presences, presencePath)
			fmt.Fprintf(cmd.OutOrStdout(), "absences=%d file=%s\n", summary.Absences, absencePath)
			fmt.Fprintf(cmd.OutOrStdout(), "layers=%s\n", strings.Join(summary.Layers, ","))
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "combined occurrence csv")
	cmd.Flags().StringVar(&outDir, "out", ".", "directory for presence.csv and absence.csv")
	cmd.Flags().StringVar(&classCol, "class-column", "class", "presence/absence column")
	cmd.Flags().StringVar(&idCol, "id-column", "id", "point id column")
	cmd.Flags().StringVar(&xCol, "x-column", "x", "longitude column")
	cmd.Flags().StringVar(&yCol, "y-column", "y", "latitude column")
	cmd.Flags().StringVar(&layerNames, "layers", "", "comma separated layer columns (default: all others)")
	return cmd
}

func newDescribeCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "describe <occurrences.csv>",
		Short: "Summarize the environment layers of an occurrence file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer in.Close()

			desc, err := dataextract.DescribeOccurrencesCSV(in)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), desc)
			}
			fmt.Fprint(cmd.OutOrStdout(), dataextract.FormatDescription(desc))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit the description as JSON")
	return cmd
}

func newGenerateCmd() *cobra.Command {
	opts := dataextract.DefaultSyntheticOptions()
	var outDir string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a synthetic presence/absence data set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := dataextract.WriteSyntheticFiles(outDir, opts)
			if err != nil {
				return err
			}
			for _, path := range paths {
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", ".", "output directory")
	cmd.Flags().Int64Var(&opts.Seed, "seed", opts.Seed, "random seed")
	cmd.Flags().IntVar(&opts.Layers, "layers", opts.Layers, "environment layers")
	cmd.Flags().IntVar(&opts.Presences, "presences", opts.Presences, "presence points")
	cmd.Flags().IntVar(&opts.Absences, "absences", opts.Absences, "absence points")
	cmd.Flags().IntVar(&opts.Background, "background", opts.Background, "background points")
	return cmd
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
