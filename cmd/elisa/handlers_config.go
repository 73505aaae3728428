package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/elisa/internal/config"
)

func runConfigSchema(cmd *cobra.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
	return err
}

func runConfigValidate(cmd *cobra.Command, configPath string) error {
	if configPath == "" {
		return errors.New("no configuration file given (use --config or ELISA_CONFIG)")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s has %d problem(s):\n", configPath, len(verr.Issues))
			for _, issue := range verr.Issues {
				fmt.Fprintf(out, "  - %s\n", issue)
			}
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is valid (database: %s, llm: %s)\n", configPath, cfg.Database.Driver, cfg.LLM.Provider)
	return nil
}
