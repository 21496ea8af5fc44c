package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/config"
)

var lookupJSON bool

var lookupCmd = &cobra.Command{
	Use:   "lookup SYMBOL...",
	Short: "Resolve tickers to instrument ids",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runLookup,
}

func init() {
	lookupCmd.Flags().BoolVar(&lookupJSON, "json", false, "print results as JSON")
	rootCmd.AddCommand(lookupCmd)
}

func runLookup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()

	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := a.service.LookupSymbols(ctx, args)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if lookupJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tINSTRUMENT ID\tNAME")
	for _, r := range results {
		switch {
		case r.Error != "":
			fmt.Fprintf(w, "%s\t-\terror: %s\n", r.Symbol, r.Error)
		case !r.Found:
			fmt.Fprintf(w, "%s\t-\tnot found\n", r.Symbol)
		default:
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.Symbol, r.Instrument.InstrumentID, r.Instrument.Name)
		}
	}
	return w.Flush()
}

func loadSeedSymbols(path string) ([]string, error) {
	seed, err := config.LoadSeed(path)
	if err != nil {
		return nil, err
	}
	return seed.Symbols, nil
}
