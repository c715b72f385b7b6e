package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/finsheet/statement-mapper/internal/domain/evidence"
	"github.com/finsheet/statement-mapper/internal/engine"
)

var (
	mapTemplate      string
	mapStatementType string
	mapTargetPeriod  string
	mapAllPeriods    bool
	mapSkipChecks    bool
	mapUseLLM        bool
	mapJSONOut       bool
	mapOutputPattern string
)

// runSummary is the machine-readable result printed with --json.
type runSummary struct {
	Success              bool   `json:"success"`
	RunID                string `json:"run_id"`
	OutputPath           string `json:"output_path,omitempty"`
	FactsExtracted       int    `json:"facts_extracted"`
	FactsMapped          int    `json:"facts_mapped"`
	CellsPosted          int    `json:"cells_posted"`
	NeedsReview          int    `json:"needs_review"`
	ReconciliationPassed bool   `json:"reconciliation_passed"`
	ConfidenceLevel      string `json:"confidence_level"`
	Warnings             int    `json:"warnings"`
	Errors               int    `json:"errors"`
	ErrorMessage         string `json:"error_message,omitempty"`
}

var mapCmd = &cobra.Command{
	Use:   "map [pdf...]",
	Short: "Map one or more statement PDFs into a template",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pattern := cfg.Mapping.OutputFilenamePattern
		if mapOutputPattern != "" {
			pattern = mapOutputPattern
		}
		eng, err := engine.New(logger, engine.Options{
			TemplatePath:          mapTemplate,
			PDFPaths:              args,
			StatementType:         mapStatementType,
			TargetPeriod:          mapTargetPeriod,
			AutoDetectPeriods:     mapAllPeriods,
			MinConfidence:         cfg.Mapping.MinConfidence,
			AutoMapThreshold:      cfg.Mapping.AutoMapThreshold,
			SkipValidation:        mapSkipChecks,
			UseLLMClassification:  mapUseLLM,
			LLMModel:              cfg.Anthropic.Model,
			AnthropicAPIKey:       cfg.Anthropic.APIKey,
			MatchingRulesPath:     cfg.Mapping.RulesPath,
			OutputFilenamePattern: pattern,
		})
		if err != nil {
			return fmt.Errorf("build engine: %w", err)
		}

		result := eng.Run(cmd.Context())

		summary := runSummary{
			Success:              result.Success,
			RunID:                result.RunID,
			OutputPath:           result.OutputPath,
			FactsExtracted:       result.TotalFactsExtracted,
			FactsMapped:          result.FactsMapped,
			CellsPosted:          result.CellsPosted,
			NeedsReview:          result.NeedsReview,
			ReconciliationPassed: result.ReconciliationPassed,
			ConfidenceLevel:      string(result.ConfidenceLevel),
			ErrorMessage:         result.ErrorMessage,
		}
		for _, e := range result.Audit.Exceptions {
			if e.Severity == evidence.SeverityWarning {
				summary.Warnings++
			} else {
				summary.Errors++
			}
		}

		if mapJSONOut {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(summary); err != nil {
				return err
			}
		} else {
			printSummary(summary)
		}

		if !result.Success {
			return fmt.Errorf("run failed: %s", result.ErrorMessage)
		}
		return nil
	},
}

func printSummary(s runSummary) {
	fmt.Printf("Run %s\n", s.RunID)
	if s.OutputPath != "" {
		fmt.Printf("  output:          %s\n", s.OutputPath)
	}
	fmt.Printf("  facts extracted: %d\n", s.FactsExtracted)
	fmt.Printf("  facts mapped:    %d\n", s.FactsMapped)
	fmt.Printf("  cells posted:    %d\n", s.CellsPosted)
	fmt.Printf("  needs review:    %d\n", s.NeedsReview)
	fmt.Printf("  reconciliation:  %v\n", s.ReconciliationPassed)
	fmt.Printf("  confidence:      %s\n", s.ConfidenceLevel)
	fmt.Printf("  warnings/errors: %d/%d\n", s.Warnings, s.Errors)
}

func init() {
	mapCmd.Flags().StringVarP(&mapTemplate, "template", "t", "", "path to the spreadsheet template (required)")
	mapCmd.Flags().StringVar(&mapStatementType, "statement-type", "", "classification hint: income_statement, balance_sheet, cash_flow")
	mapCmd.Flags().StringVar(&mapTargetPeriod, "period", "", "restrict mapping to one period key, e.g. FY2023")
	mapCmd.Flags().BoolVar(&mapAllPeriods, "all-periods", false, "map every period found in the template")
	mapCmd.Flags().BoolVar(&mapSkipChecks, "skip-validation", false, "skip reconciliation checks")
	mapCmd.Flags().BoolVar(&mapUseLLM, "llm-classify", false, "use the Anthropic API for tables keywords cannot classify")
	mapCmd.Flags().BoolVar(&mapJSONOut, "json", false, "print the run summary as JSON")
	mapCmd.Flags().StringVar(&mapOutputPattern, "output-pattern", "", "output filename pattern, e.g. {template_name}_{statement_type}.xlsx")
	_ = mapCmd.MarkFlagRequired("template")
	rootCmd.AddCommand(mapCmd)
}
