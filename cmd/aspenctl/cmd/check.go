package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/aspen-pdp/aspen/ast"
	"github.com/aspen-pdp/aspen/pdp"
	"github.com/aspen-pdp/aspen/prp"
)

var (
	checkSubject     string
	checkAction      string
	checkResource    string
	checkEnvironment string
	checkAlgorithm   string
	checkTimeout     time.Duration
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate an authorization subscription against the policies",
	Long: `Check builds a decision engine over the policies directory,
evaluates one subscription and prints the decision.

Each subscription slot is parsed as JSON; a value that is not valid
JSON is taken as a plain string, so --subject alice and
--subject '{"name":"alice","age":17}' both work.

Examples:
  aspenctl check --subject alice --action read --resource document
  aspenctl check -p ./policies \
      --subject '{"name":"bob","birthday":"2012-04-09"}' \
      --action read --resource '{"type":"book","ageRating":12}'`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVar(&checkSubject, "subject", "null", "Subscription subject (JSON or plain string)")
	checkCmd.Flags().StringVar(&checkAction, "action", "null", "Subscription action (JSON or plain string)")
	checkCmd.Flags().StringVar(&checkResource, "resource", "null", "Subscription resource (JSON or plain string)")
	checkCmd.Flags().StringVar(&checkEnvironment, "environment", "null", "Subscription environment (JSON or plain string)")
	checkCmd.Flags().StringVar(&checkAlgorithm, "algorithm", string(ast.DenyOverrides), "Top-level combining algorithm")
	checkCmd.Flags().DurationVar(&checkTimeout, "timeout", 10*time.Second, "Evaluation deadline")
}

func runCheck(cmd *cobra.Command, args []string) error {
	sources, err := readPolicySources(policiesPath)
	if err != nil {
		return err
	}

	retrieval, err := prp.NewInMemorySource(sources)
	if err != nil {
		return fmt.Errorf("invalid policy documents (run 'aspenctl validate'): %w", err)
	}

	engine, err := pdp.New(retrieval,
		pdp.WithCombiningAlgorithm(ast.CombiningAlgorithm(checkAlgorithm)),
		pdp.WithEvaluationTimeout(checkTimeout),
	)
	if err != nil {
		return err
	}

	sub, err := pdp.NewSubscription(
		parseSlot(checkSubject),
		parseSlot(checkAction),
		parseSlot(checkResource),
		parseSlot(checkEnvironment),
	)
	if err != nil {
		return err
	}

	dec := engine.Decide(context.Background(), sub)

	if outputFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(dec)
	}

	printDecision(dec)
	return nil
}

func printDecision(dec pdp.AuthorizationDecision) {
	switch dec.Decision {
	case pdp.Permit:
		color.Green("PERMIT")
	case pdp.Deny:
		color.Red("DENY")
	case pdp.Indeterminate:
		color.Yellow("INDETERMINATE")
	default:
		fmt.Println("NOT_APPLICABLE")
	}

	for _, o := range dec.Obligations {
		fmt.Printf("  obligation: %s\n", o)
	}
	for _, a := range dec.Advice {
		fmt.Printf("  advice:     %s\n", a)
	}
	if dec.Resource != nil {
		fmt.Printf("  resource:   %s\n", *dec.Resource)
	}
}

// parseSlot interprets a flag value as JSON, falling back to a string.
func parseSlot(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

func readPolicySources(path string) (map[string]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read policy directory: %w", err)
	}
	sources := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), prp.PolicyFileExtension) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(path, entry.Name()))
		if err != nil {
			return nil, err
		}
		sources[entry.Name()] = string(data)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no %s files found in %s", prp.PolicyFileExtension, path)
	}
	return sources, nil
}
