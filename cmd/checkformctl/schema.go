package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/maruel/checkform/internal/forms"
	"github.com/maruel/checkform/internal/models"
	"github.com/maruel/ksid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// schemaDoc is the portable form of a task's schema. IDs are dropped and a
// group's count field is named by its label.
type schemaDoc struct {
	Fields []schemaField `yaml:"fields"`
}

type schemaField struct {
	models.FieldDefinition `yaml:",inline"`
	CountField             string `yaml:"count_field,omitempty"`
}

// exportDoc converts stored definitions, sorted by field_order, into a
// portable document.
func exportDoc(defs []models.FieldDefinition) (*schemaDoc, error) {
	labels := make(map[ksid.ID]string, len(defs))
	for i := range defs {
		labels[defs[i].ID] = defs[i].FieldLabel
	}
	doc := &schemaDoc{Fields: make([]schemaField, len(defs))}
	for i := range defs {
		d := *defs[i].Clone()
		sf := schemaField{}
		if id := d.ValidationRules.RepeatCountFieldID; !id.IsZero() {
			l, ok := labels[id]
			if !ok {
				return nil, fmt.Errorf("field %q links to unknown count field %s", d.FieldLabel, id)
			}
			sf.CountField = l
		}
		if d.ShowIf != nil {
			return nil, fmt.Errorf("field %q has show_if, which cannot be exported", d.FieldLabel)
		}
		d.ID, d.TaskID = 0, 0
		d.ValidationRules.RepeatCountFieldID = 0
		sf.FieldDefinition = d
		doc.Fields[i] = sf
	}
	return doc, nil
}

// importDoc fills an empty builder with the document's fields, resolves
// count_field labels into links and saves, replacing the stored schema.
func importDoc(ctx context.Context, b *forms.Builder, doc *schemaDoc) error {
	labels := make([]string, len(doc.Fields))
	for i := range doc.Fields {
		labels[i] = doc.Fields[i].FieldLabel
	}
	for i := range doc.Fields {
		src := doc.Fields[i].FieldDefinition
		idx, err := b.AddField()
		if err != nil {
			return err
		}
		if err := b.Update(idx, func(def *models.FieldDefinition) {
			def.FieldType = src.FieldType
			def.FieldLabel = src.FieldLabel
			def.IsRequired = src.IsRequired
			def.ValidationRules = src.ValidationRules.Clone()
			def.ValidationRules.RepeatCountFieldID = 0
			def.Options = slices.Clone(src.Options)
		}); err != nil {
			return err
		}
	}
	for i := range doc.Fields {
		name := doc.Fields[i].CountField
		if name == "" {
			continue
		}
		j := slices.Index(labels, name)
		if j < 0 {
			return fmt.Errorf("field %q: unknown count_field %q", labels[i], name)
		}
		if err := b.SetCountField(i, j); err != nil {
			return err
		}
	}
	if err := b.Validate(); err != nil {
		return err
	}
	return b.Save(ctx)
}

func newSchemaCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{Use: "schema", Short: "Export or import a task's field schema"}
	cmd.AddCommand(&cobra.Command{
		Use:   "export <task-id>",
		Short: "Write the task's schema as YAML to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := ksid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("%w: task ID: %w", errArgs, err)
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			defs, err := c.ListFields(cmd.Context(), taskID)
			if err != nil {
				return err
			}
			models.SortFields(defs)
			doc, err := exportDoc(defs)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(doc); err != nil {
				return err
			}
			return enc.Close()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "import <task-id> <file|->",
		Short: "Replace the task's schema with the YAML document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := ksid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("%w: task ID: %w", errArgs, err)
			}
			doc, err := readDoc(cmd, args[1])
			if err != nil {
				return err
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			b := forms.NewBuilder(c, taskID)
			if err := importDoc(cmd.Context(), b, doc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d fields into task %s\n", b.Len(), taskID)
			return nil
		},
	})
	return cmd
}

func readDoc(cmd *cobra.Command, name string) (*schemaDoc, error) {
	var r io.Reader = cmd.InOrStdin()
	if name != "-" {
		f, err := os.Open(name) //nolint:gosec // G304: user-chosen input file
		if err != nil {
			return nil, err
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	doc := &schemaDoc{}
	if err := dec.Decode(doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return doc, nil
}
