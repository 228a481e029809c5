package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/FACorreiaa/echo-ingest/internal/domain/import/dedup"
	"github.com/FACorreiaa/echo-ingest/internal/domain/import/parser"
	"github.com/FACorreiaa/echo-ingest/internal/domain/recurring"
)

func detectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detect <files...>",
		Short: "Detect recurring payments across one or more statements",
		Long: `Parse every statement, drop lines that overlapping statements repeat, and
print the recurring payment patterns found in the combined history.

Examples:
  echoctl detect ~/Downloads/chase_*.csv
  echoctl detect --amount-tolerance 0.15 jan.ofx feb.ofx mar.ofx`,
		Args: cobra.MinimumNArgs(1),
		RunE: runDetect,
	}

	defaults := recurring.DefaultConfig()
	cmd.Flags().StringP("format", "f", "", "statement format for every file; defaults to each file's extension")
	cmd.Flags().String("as-of", "", "evaluate pattern status as of this date (YYYY-MM-DD); defaults to today")
	cmd.Flags().Int("min-occurrences", defaults.MinOccurrences, "smallest number of payments that forms a pattern")
	cmd.Flags().Float64("amount-tolerance", defaults.AmountTolerance, "relative amount distance within one pattern")
	cmd.Flags().Float64("interval-tolerance", defaults.IntervalTolerance, "relative gap distance within one pattern")

	_ = viper.BindPFlag("recurring.minoccurrences", cmd.Flags().Lookup("min-occurrences"))
	_ = viper.BindPFlag("recurring.amounttolerance", cmd.Flags().Lookup("amount-tolerance"))
	_ = viper.BindPFlag("recurring.intervaltolerance", cmd.Flags().Lookup("interval-tolerance"))
	return cmd
}

type detectOutput struct {
	Files        int                          `json:"files"`
	Transactions int                          `json:"transactions"`
	Overlapping  int                          `json:"overlapping_skipped"`
	Patterns     []recurring.RecurringPattern `json:"patterns"`
}

func runDetect(cmd *cobra.Command, args []string) error {
	formatFlag, _ := cmd.Flags().GetString("format")
	asOf, _ := cmd.Flags().GetString("as-of")

	now := time.Now().UTC()
	if asOf != "" {
		t, err := time.Parse(time.DateOnly, asOf)
		if err != nil {
			return fmt.Errorf("invalid --as-of: %w", err)
		}
		now = t
	}

	files, err := expandFiles(args)
	if err != nil {
		return err
	}

	statements := make([]*parser.ParsedStatement, 0, len(files))
	for _, path := range files {
		stmt, err := parseFile(path, formatFlag)
		if err != nil {
			return err
		}
		slog.Info("parsed statement", "file", path, "transactions", len(stmt.Transactions), "warnings", len(stmt.Warnings))
		statements = append(statements, stmt)
	}

	history, overlapping := mergeStatements(statements)

	detector := recurring.NewDetector(recurring.Config{
		MinOccurrences:    viper.GetInt("recurring.minoccurrences"),
		AmountTolerance:   viper.GetFloat64("recurring.amounttolerance"),
		IntervalTolerance: viper.GetFloat64("recurring.intervaltolerance"),
	})
	patterns := detector.Detect(history, now)
	if patterns == nil {
		patterns = []recurring.RecurringPattern{}
	}

	return writeJSON(cmd.OutOrStdout(), detectOutput{
		Files:        len(files),
		Transactions: len(history),
		Overlapping:  overlapping,
		Patterns:     patterns,
	})
}

// mergeStatements flattens statements in order into one history. Lines a later
// statement repeats from an earlier one (overlapping date ranges) are dropped and
// counted.
func mergeStatements(statements []*parser.ParsedStatement) ([]recurring.Transaction, int) {
	var (
		history     []recurring.Transaction
		seen        []dedup.ExistingTransaction
		overlapping int
	)
	for _, stmt := range statements {
		for _, p := range dedup.Detect(seen, stmt.Transactions) {
			if p.IsDuplicate {
				overlapping++
				continue
			}
			id := uuid.New()
			seen = append(seen, dedup.ExistingTransaction{
				ID: id, Date: p.Date, AmountCents: p.AmountCents, Type: p.Type,
				Description: p.Description, ExternalID: p.ExternalID,
			})
			history = append(history, recurring.Transaction{
				ID: id, Date: p.Date, AmountCents: p.AmountCents,
				Description: p.Description, Category: p.Category,
			})
		}
	}
	return history, overlapping
}

func expandFiles(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			if _, err := os.Stat(pattern); err != nil {
				slog.Warn("no files found matching pattern", "pattern", pattern)
				continue
			}
			matches = []string{pattern}
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no statement files found")
	}
	return files, nil
}
