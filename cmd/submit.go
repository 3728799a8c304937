package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	submitParams     []string
	submitParamsJSON string
)

var submitCmd = &cobra.Command{
	Use:   "submit <template-name>",
	Short: "Submit a scenario template for expansion and publication",
	Long: `Materialises the named scenario template against the supplied parameters into
a task DAG and publishes it to the store, printing the resulting scenario id.

Parameters can be given as repeated key=value pairs:

  muster-scenario-core submit shorts-video --param topic="cats" --param slide_count=3

or as one JSON object:

  muster-scenario-core submit shorts-video --params-json '{"topic":"cats","slide_count":3}'`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().StringArrayVar(&submitParams, "param", nil, "a parameter as key=value (repeatable)")
	submitCmd.Flags().StringVar(&submitParamsJSON, "params-json", "", "parameters as one JSON object")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	templateName := args[0]

	parameters, err := parseSubmitParameters()
	if err != nil {
		printError(err)
		return err
	}

	a, err := bootstrap(cmd)
	if err != nil {
		printError(err)
		return err
	}
	defer a.Close()

	scenarioID, err := a.Service.SubmitScenario(cmd.Context(), templateName, parameters)
	if err != nil {
		printError(err)
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), scenarioID)
	return nil
}

func parseSubmitParameters() (map[string]interface{}, error) {
	if submitParamsJSON != "" && len(submitParams) > 0 {
		return nil, fmt.Errorf("use either --param or --params-json, not both")
	}

	if submitParamsJSON != "" {
		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(submitParamsJSON), &parsed); err != nil {
			return nil, fmt.Errorf("parsing --params-json: %w", err)
		}
		return parsed, nil
	}

	parameters := make(map[string]interface{}, len(submitParams))
	for _, kv := range submitParams {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("--param %q must be in key=value form", kv)
		}
		parameters[key] = value
	}
	return parameters, nil
}
