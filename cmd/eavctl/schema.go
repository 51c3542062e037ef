package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/lychee-technology/eav"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type schemaFlags struct {
	name     string
	title    string
	datatype string
	helpText string
	required bool
	searched bool
	filtered bool
	sortable bool
	choices  []string
}

func (f *schemaFlags) schema() (*eav.Schema, error) {
	dt := eav.DataType(f.datatype)
	if !dt.Valid() {
		return nil, fmt.Errorf("unknown datatype %q (expected one of %v)", f.datatype, eav.DataTypes())
	}
	s := &eav.Schema{
		Name:     f.name,
		Title:    f.title,
		HelpText: f.helpText,
		DataType: dt,
		Required: f.required,
		Searched: f.searched,
		Filtered: f.filtered,
		Sortable: f.sortable,
	}
	for _, title := range f.choices {
		if title = strings.TrimSpace(title); title != "" {
			s.Choices = append(s.Choices, eav.Choice{Title: title})
		}
	}
	if len(s.Choices) > 0 && dt != eav.DataTypeMany {
		return nil, fmt.Errorf("choices require datatype %q", eav.DataTypeMany)
	}
	return s, nil
}

func newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "List, create and delete attribute schemata",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List schemata ordered by title",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd.Context(), func(em eav.EntityManager) error {
				schemata, err := em.ListSchemata(cmd.Context())
				if err != nil {
					return err
				}
				return printSchemata(cmd.OutOrStdout(), schemata)
			})
		},
	})

	flags := &schemaFlags{}
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a schema; the name defaults to a slug of the title",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := flags.schema()
			if err != nil {
				return err
			}
			return withManager(cmd.Context(), func(em eav.EntityManager) error {
				created, err := em.CreateSchema(cmd.Context(), s)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", created.Name, created)
				return nil
			})
		},
	}
	create.Flags().StringVar(&flags.title, "title", "", "human readable title")
	create.Flags().StringVar(&flags.name, "name", "", "attribute name (slug)")
	create.Flags().StringVar(&flags.datatype, "type", string(eav.DataTypeText), "datatype: text, int, float, date, bool or many")
	create.Flags().StringVar(&flags.helpText, "help-text", "", "help text")
	create.Flags().BoolVar(&flags.required, "required", false, "require a value on save")
	create.Flags().BoolVar(&flags.searched, "searched", false, "include in full text search")
	create.Flags().BoolVar(&flags.filtered, "filtered", false, "offer as a facet")
	create.Flags().BoolVar(&flags.sortable, "sortable", false, "allow ordering by this attribute")
	create.Flags().StringSliceVar(&flags.choices, "choices", nil, "choice titles for many-valued schemata")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a schema together with its values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd.Context(), func(em eav.EntityManager) error {
				if err := em.DeleteSchema(cmd.Context(), args[0]); err != nil {
					return err
				}
				zap.S().Infow("schema deleted", "name", args[0])
				return nil
			})
		},
	})
	return cmd
}

func printSchemata(w io.Writer, schemata []*eav.Schema) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTITLE\tTYPE\tFLAGS\tCHOICES")
	for _, s := range schemata {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.Name, s.Title, s.DataType, schemaFlagsString(s), strings.Join(s.ChoiceNames(), ","))
	}
	return tw.Flush()
}

func schemaFlagsString(s *eav.Schema) string {
	var flags []string
	for _, f := range []struct {
		on   bool
		name string
	}{
		{s.Required, "required"},
		{s.Searched, "searched"},
		{s.Filtered, "filtered"},
		{s.Sortable, "sortable"},
		{s.Managed, "managed"},
	} {
		if f.on {
			flags = append(flags, f.name)
		}
	}
	if len(flags) == 0 {
		return "-"
	}
	return strings.Join(flags, ",")
}

func newChoiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "choice",
		Short: "Add or remove choices of many-valued schemata",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <schema> <title>",
		Short: "Add a choice and its managed schema",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd.Context(), func(em eav.EntityManager) error {
				c, err := em.AddChoice(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", c.Name, c.Title)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "remove <schema> <choice>",
		Short: "Remove a choice, its managed schema and selections",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd.Context(), func(em eav.EntityManager) error {
				return em.RemoveChoice(cmd.Context(), args[0], args[1])
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "sync <schema>",
		Short: "Recreate missing managed schemata of a many-valued schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd.Context(), func(em eav.EntityManager) error {
				return em.SyncManagedSchemata(cmd.Context(), args[0])
			})
		},
	})
	return cmd
}
