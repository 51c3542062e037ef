package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/lychee-technology/eav"
	"github.com/lychee-technology/eav/export"
	"github.com/spf13/cobra"
)

type exportFlags struct {
	table    string
	idColumn string
	fields   []string
	out      string
	upload   bool
}

func newExportCmd() *cobra.Command {
	flags := &exportFlags{}
	cmd := &cobra.Command{
		Use:   "export <entity-type>",
		Short: "Export entities and their attributes to a Parquet file",
		Long: `Export pivots every entity of the given type into one Parquet row:
the id, the static fields given with --field and one column per schema.
With --upload the file is copied to the configured S3 bucket.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			et, err := flags.entityType(args[0])
			if err != nil {
				return err
			}
			out := flags.out
			if out == "" {
				out = et.Name + ".parquet"
			}
			ctx := cmd.Context()

			return withManager(ctx, func(em eav.EntityManager) error {
				if err := em.RegisterEntityType(et); err != nil {
					return err
				}
				x, err := export.NewParquetExporter(ctx, em, cfg.Export)
				if err != nil {
					return err
				}
				defer x.Close()

				res, err := x.Export(ctx, et.Name, out)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d rows\t%d columns\n", res.Path, res.Rows, len(res.Columns))
				if !flags.upload {
					return nil
				}

				up, err := export.NewUploader(ctx, cfg.Export)
				if err != nil {
					return err
				}
				if err := up.EnsureBucket(ctx); err != nil {
					return err
				}
				uri, err := up.Upload(ctx, out, filepath.Base(out))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), uri)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&flags.table, "table", "", "entity table (defaults to the entity type)")
	cmd.Flags().StringVar(&flags.idColumn, "id-column", "", "UUID id column (defaults to id)")
	cmd.Flags().StringArrayVar(&flags.fields, "field", nil, "static field as name[:type], repeatable")
	cmd.Flags().StringVarP(&flags.out, "out", "o", "", "output file (defaults to <entity-type>.parquet)")
	cmd.Flags().BoolVar(&flags.upload, "upload", false, "upload the file to export.s3_bucket")
	return cmd
}

func (f *exportFlags) entityType(name string) (eav.EntityType, error) {
	fields, err := parseFields(f.fields)
	if err != nil {
		return eav.EntityType{}, err
	}
	table := f.table
	if table == "" {
		table = name
	}
	et := eav.EntityType{Name: name, Table: table, IDColumn: f.idColumn, Fields: fields}
	if err := et.Validate(); err != nil {
		return eav.EntityType{}, err
	}
	return et, nil
}

// parseFields reads "name[:type]" specs; the type defaults to text.
func parseFields(specs []string) ([]eav.Field, error) {
	fields := make([]eav.Field, 0, len(specs))
	for _, spec := range specs {
		name, typ, _ := strings.Cut(strings.TrimSpace(spec), ":")
		if name == "" {
			return nil, fmt.Errorf("invalid field %q: missing name", spec)
		}
		dt := eav.DataTypeText
		if typ != "" {
			dt = eav.DataType(typ)
		}
		if !dt.Scalar() {
			return nil, fmt.Errorf("invalid field %q: unsupported type %q", spec, typ)
		}
		fields = append(fields, eav.Field{Name: name, Type: dt})
	}
	return fields, nil
}
