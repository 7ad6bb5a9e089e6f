package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harborline/tally/internal/cli"
	"github.com/harborline/tally/internal/importer"
	"github.com/harborline/tally/internal/model"
	"github.com/harborline/tally/internal/service"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file.jsonl>",
		Short: "Import bank statement rows",
		Long: `Import bank statement rows from a JSON-lines file, one record per line:

  {"account_number": "...", "transaction_date": "2026-01-15", "description": "...",
   "debit_amount": "150.00", "running_balance": "1234.56", "source_file": "jan.csv"}

Rows already present (same date, description, and amount) are skipped.
Malformed rows are rejected individually without aborting the batch.`,
		Args: cobra.ExactArgs(1),
		RunE: runImport,
	}
	addBatchFlags(cmd)
	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	write, limit, err := batchMode(cmd)
	if err != nil {
		return err
	}

	rows, parseErrors, err := readImportFile(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	imp := importer.New(store)
	summary, err := imp.ImportRows(ctx, rows, importer.Options{
		Write: write,
		Limit: limit,
		Actor: currentActor(),
	})
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	summary.Rejected = append(parseErrors, summary.Rejected...)

	fmt.Println(cli.RenderImportSummary(summary))
	if !write {
		fmt.Println(cli.DryRunNotice())
	}
	if len(summary.Rejected) > 0 {
		return fmt.Errorf("%d row(s) could not be parsed", len(summary.Rejected))
	}
	return nil
}

// readImportFile decodes one ImportRow per line. Undecodable lines are
// returned as row errors keyed by line number, not fatal.
func readImportFile(path string) ([]model.ImportRow, []service.RowError, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var (
		rows       []model.ImportRow
		rowErrors  []service.RowError
		lineNumber int
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lineNumber++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var row model.ImportRow
		if err := json.Unmarshal(line, &row); err != nil {
			rowErrors = append(rowErrors, service.RowError{Line: lineNumber, Err: err})
			continue
		}
		row.Line = lineNumber
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return rows, rowErrors, nil
}
