package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/FACorreiaa/echo-ingest/internal/domain/import/categorizer"
	"github.com/FACorreiaa/echo-ingest/internal/domain/import/parser"
)

func parseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parse <file>",
		Short: "Parse one statement and print it as JSON",
		Long: `Parse a CSV, OFX/QFX or extracted PDF text statement.

Examples:
  echoctl parse ~/Downloads/Chase_Checking_x1234.csv
  echoctl parse --format pdf_text statement.txt --categorize`,
		Args: cobra.ExactArgs(1),
		RunE: runParse,
	}
	cmd.Flags().StringP("format", "f", "", "statement format (csv, ofx, pdf_text); defaults to the file extension")
	cmd.Flags().Bool("categorize", false, "attach keyword categories and cleaned merchant names")
	return cmd
}

type parsedLine struct {
	parser.ParsedTransaction
	CleanedMerchant    string `json:"cleaned_merchant,omitempty"`
	SuggestedCategory  string `json:"suggested_category,omitempty"`
	CategoryConfidence int    `json:"category_confidence,omitempty"`
}

type parseOutput struct {
	*parser.ParsedStatement
	Transactions []parsedLine `json:"transactions"`
}

func runParse(cmd *cobra.Command, args []string) error {
	formatFlag, _ := cmd.Flags().GetString("format")
	categorize, _ := cmd.Flags().GetBool("categorize")

	stmt, err := parseFile(args[0], formatFlag)
	if err != nil {
		return err
	}
	for _, w := range stmt.Warnings {
		slog.Warn("parser warning", "file", args[0], "warning", w)
	}

	out := parseOutput{ParsedStatement: stmt, Transactions: make([]parsedLine, len(stmt.Transactions))}
	for i, tx := range stmt.Transactions {
		out.Transactions[i] = parsedLine{ParsedTransaction: tx}
	}
	if categorize {
		cats, err := categorizer.NewKeywordCategorizer().Categorize(cmd.Context(), uuid.Nil, stmt.Transactions)
		if err != nil {
			return fmt.Errorf("failed to categorize: %w", err)
		}
		for i := range out.Transactions {
			out.Transactions[i].CleanedMerchant = cats[i].CleanedMerchant
			out.Transactions[i].SuggestedCategory = cats[i].Category
			out.Transactions[i].CategoryConfidence = cats[i].Confidence
		}
	}
	return writeJSON(cmd.OutOrStdout(), out)
}

// parseFile reads path and parses it. An empty formatTag selects the format from
// the file extension.
func parseFile(path, formatTag string) (*parser.ParsedStatement, error) {
	if formatTag == "" {
		formatTag = filepath.Ext(path)
	}
	format, err := parser.ParseFormat(formatTag)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return parser.Parse(format, data, filepath.Base(path)), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
