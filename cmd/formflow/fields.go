package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bitfantasy/formflow/internal/form/repository"
	"github.com/bitfantasy/formflow/internal/form/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := repository.Migrate(a.db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			a.logger.Info("Migration complete")
			return nil
		},
	}
}

func newSeedFieldsCommand(opts *rootOptions) *cobra.Command {
	var (
		dir   string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "seed-fields",
		Short: "Load field schemas from YAML seed files",
		Long: `Load every *.yaml file in the seed directory as a field schema.

A form type that already has a schema is skipped unless --force is given, in
which case the file becomes the next schema version.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()
			svc, _, err := a.services(ctx, nil)
			if err != nil {
				return err
			}

			files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no seed files in %s", dir)
			}
			sort.Strings(files)
			for _, path := range files {
				res, err := seedFile(ctx, svc, path, force)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				if res == nil {
					a.logger.Info("Schema exists, skipped", zap.String("file", path))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-14s v%d  %d fields  %d sections\n",
					res.FormType, res.Version, res.Fields, len(res.Sections))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "configs/fields", "directory of seed files")
	cmd.Flags().BoolVar(&force, "force", false, "import even when a schema exists")
	return cmd
}

// seedFile imports one YAML file; a nil result means it was skipped.
func seedFile(ctx context.Context, svc *service.Services, path string, force bool) (*service.ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	formType, defs, err := service.LoadFieldYAML(f)
	if err != nil {
		return nil, err
	}
	if !force {
		active, err := svc.Fields.Active(ctx, formType)
		if err != nil {
			return nil, err
		}
		if active.Version > 0 {
			return nil, nil
		}
	}
	return svc.Fields.Import(ctx, formType, defs)
}

func newImportFieldsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import-fields <form-type> <file.csv>",
		Short: "Import a field schema from a CSV sheet",
		Long: `Import a field schema from a CSV export with a header row.

Recognised columns: key (or field_key), label (or question), group (or
section) and required. The group column becomes the field section.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()
			svc, _, err := a.services(ctx, nil)
			if err != nil {
				return err
			}

			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			defs, err := service.ParseFieldCSV(f)
			if err != nil {
				return err
			}
			res, err := svc.Fields.Import(ctx, args[0], defs)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s v%d: %d fields\n", res.FormType, res.Version, res.Fields)
			names := make([]string, 0, len(res.Sections))
			for name := range res.Sections {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				label := name
				if label == "" {
					label = "(no group)"
				}
				fmt.Fprintf(out, "  %-32s %d\n", label, res.Sections[name])
			}
			return nil
		},
	}
}
