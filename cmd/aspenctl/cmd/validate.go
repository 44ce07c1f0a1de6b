package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/aspen-pdp/aspen/parser"
	"github.com/aspen-pdp/aspen/prp"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Parse-check every policy document in the directory",
	Long: `Validate parses every .aspen file in the policies directory and
reports syntax errors, restricted-target violations and duplicate
document names. The exit code is non-zero if any document is invalid.

Examples:
  aspenctl validate
  aspenctl validate -p ./deploy/policies`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	entries, err := os.ReadDir(policiesPath)
	if err != nil {
		return fmt.Errorf("cannot read policy directory: %w", err)
	}

	names := make(map[string]string)
	var checked, failed int
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), prp.PolicyFileExtension) {
			continue
		}
		checked++
		full := filepath.Join(policiesPath, entry.Name())
		data, err := os.ReadFile(full)
		if err != nil {
			failed++
			color.Red("✗ %s: %v", entry.Name(), err)
			continue
		}

		doc, err := parser.ParseDocument(entry.Name(), string(data))
		if err != nil {
			failed++
			color.Red("✗ %s: %v", entry.Name(), err)
			continue
		}

		if prev, dup := names[doc.DocumentName()]; dup {
			failed++
			color.Red("✗ %s: document name %q already declared in %s", entry.Name(), doc.DocumentName(), prev)
			continue
		}
		names[doc.DocumentName()] = entry.Name()
		color.Green("✓ %s (%s)", entry.Name(), doc.DocumentName())
	}

	if checked == 0 {
		color.Yellow("no %s files found in %s", prp.PolicyFileExtension, policiesPath)
		return nil
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents invalid", failed, checked)
	}
	fmt.Printf("%d documents valid\n", checked)
	return nil
}
