package main

import (
	"encoding/json"
	"fmt"

	"github.com/maruel/checkform/internal/models"
	"github.com/maruel/checkform/internal/server/dto"
	"github.com/maruel/ksid"
	"github.com/spf13/cobra"
)

func newResponsesCommand(g *globals) *cobra.Command {
	var item, field string
	cmd := &cobra.Command{Use: "responses", Short: "Inspect submitted responses"}
	list := &cobra.Command{
		Use:   "list",
		Short: "Print matching response records as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var filter models.ResponseFilter
			var err error
			if item != "" {
				if filter.ChecklistItemID, err = ksid.Parse(item); err != nil {
					return fmt.Errorf("%w: --item: %w", errArgs, err)
				}
			}
			if field != "" {
				if filter.TaskFieldID, err = ksid.Parse(field); err != nil {
					return fmt.Errorf("%w: --field: %w", errArgs, err)
				}
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			recs, err := c.ListResponses(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if recs == nil {
				recs = []models.ResponseRecord{}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(recs)
		},
	}
	list.Flags().StringVar(&item, "item", "", "checklist item ID")
	list.Flags().StringVar(&field, "field", "", "task field ID")
	cmd.AddCommand(list)
	return cmd
}

func newJSONSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "jsonschema",
		Short: "Print the JSON Schemas of the API payloads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(dto.JSONSchemas())
		},
	}
}
