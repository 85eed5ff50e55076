// Command forms-cli administers a form catalog: registry seeding, taxonomy
// management, version inspection and tabular import/export.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/AlecAivazis/survey/v2"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	forms "github.com/nexgensis/go-forms"
	"github.com/nexgensis/go-forms/internal/tabular"
	"github.com/nexgensis/go-forms/pkg/bulk"
	"github.com/nexgensis/go-forms/pkg/config"
	"github.com/nexgensis/go-forms/pkg/model"
	"github.com/nexgensis/go-forms/pkg/registry"
)

type app struct {
	cfgPath string
	verbose bool
	yes     bool

	svc *forms.Service
	log *zap.Logger
}

func main() {
	a := &app{}

	root := &cobra.Command{
		Use:           "forms-cli",
		Short:         "Administer the versioned form catalog",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	root.PersistentFlags().BoolVarP(&a.yes, "yes", "y", false, "skip confirmation prompts")

	root.AddCommand(
		a.seedCmd(),
		a.typesCmd(),
		a.fieldTypesCmd(),
		a.formsCmd(),
		a.draftCmd(),
		a.importCmd(),
		a.exportCmd(),
		a.schemaCmd(),
	)

	if err := root.Execute(); err != nil {
		if verr, ok := model.AsValidation(err); ok {
			fmt.Fprintln(os.Stderr, "validation failed:")
			for _, issue := range verr.Issues {
				fmt.Fprintf(os.Stderr, "  %s\n", issue)
			}
		} else {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func (a *app) init() error {
	cfg := config.Default()
	if a.cfgPath != "" {
		var err error
		if cfg, err = config.Load(a.cfgPath); err != nil {
			return err
		}
	}

	log := zap.NewNop()
	if a.verbose {
		var err error
		if log, err = zap.NewDevelopment(); err != nil {
			return err
		}
	}
	a.log = log

	svc, err := forms.Open(cfg, log)
	if err != nil {
		return err
	}
	a.svc = svc
	return nil
}

func (a *app) close() {
	if a.svc != nil {
		if err := a.svc.Close(); err != nil {
			fmt.Fprintln(os.Stderr, "close:", err)
		}
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}

func (a *app) confirm(prompt string) (bool, error) {
	if a.yes {
		return true, nil
	}
	ok := false
	if err := survey.AskOne(&survey.Confirm{Message: prompt}, &ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (a *app) seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seed the default data types",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.svc.Registry().SeedDefaults(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("registry seeded")
			return nil
		},
	}
}

func (a *app) typesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "types",
		Short: "Manage the form type taxonomy",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List current form types",
		RunE: func(c *cobra.Command, _ []string) error {
			nodes, err := a.svc.FormTypes(c.Context())
			if err != nil {
				return err
			}
			for _, node := range nodes {
				parent := "-"
				if node.ParentRoot != nil {
					parent = node.ParentRoot.String()
				}
				fmt.Printf("%s\tv%d\t%s\tparent=%s\n", node.Code, node.Rev.Version, node.Name, parent)
			}
			return nil
		},
	})

	var parentRoot string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a form type, optionally under a parent lineage root",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			var parent *uuid.UUID
			if parentRoot != "" {
				id, err := uuid.Parse(parentRoot)
				if err != nil {
					return fmt.Errorf("bad --parent: %w", err)
				}
				parent = &id
			}
			node, err := a.svc.CreateFormType(c.Context(), args[0], "", parent)
			if err != nil {
				return err
			}
			fmt.Printf("created %s (%s)\n", node.Code, node.Rev.Root)
			return nil
		},
	}
	create.Flags().StringVar(&parentRoot, "parent", "", "parent lineage root id")
	cmd.AddCommand(create)

	var expect int
	del := &cobra.Command{
		Use:   "delete <root>",
		Short: "Retire a form type lineage",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			root, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("bad root: %w", err)
			}
			ok, err := a.confirm("Retire this form type and hide it from listings?")
			if err != nil || !ok {
				return err
			}
			return a.svc.DeleteFormType(c.Context(), root, expect)
		},
	}
	del.Flags().IntVar(&expect, "expect", 1, "expected current version")
	cmd.AddCommand(del)

	return cmd
}

func (a *app) fieldTypesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fieldtypes",
		Short: "Manage reusable field types",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List field types",
		RunE: func(c *cobra.Command, _ []string) error {
			types, err := a.svc.Registry().FieldTypes(c.Context())
			if err != nil {
				return err
			}
			for _, ft := range types {
				dynamic := ""
				if ft.Dynamic {
					dynamic = "\tdynamic " + ft.Endpoint
				}
				fmt.Printf("%s\t%s%s\n", ft.ID, ft.Name, dynamic)
			}
			return nil
		},
	})

	var def registry.Definition
	var rulesCell string
	define := &cobra.Command{
		Use:   "define <name>",
		Short: "Define a field type against a data type",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			def.Name = args[0]
			if rulesCell != "" {
				rules, err := bulk.DecodeRules(rulesCell)
				if err != nil {
					return err
				}
				def.Rules = rules
			}
			ft, err := a.svc.Registry().DefineFieldType(c.Context(), def)
			if err != nil {
				return err
			}
			fmt.Printf("defined %s (%s)\n", ft.Name, ft.ID)
			return nil
		},
	}
	define.Flags().StringVar(&def.DataType, "data-type", "", "data type name (required)")
	define.Flags().BoolVar(&def.Dynamic, "dynamic", false, "options come from an endpoint")
	define.Flags().StringVar(&def.Endpoint, "endpoint", "", "options endpoint for dynamic types")
	define.Flags().StringVar(&rulesCell, "rules", "", `default rules, "key=value;key=value"`)
	_ = define.MarkFlagRequired("data-type")
	cmd.AddCommand(define)

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an unused field type",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("bad id: %w", err)
			}
			ok, err := a.confirm("Delete this field type?")
			if err != nil || !ok {
				return err
			}
			return a.svc.Registry().DeleteFieldType(c.Context(), id)
		},
	}
	cmd.AddCommand(del)

	return cmd
}

func (a *app) formsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forms",
		Short: "Inspect form lineages",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List current forms",
		RunE: func(c *cobra.Command, _ []string) error {
			rows, err := a.svc.Forms(c.Context())
			if err != nil {
				return err
			}
			for _, f := range rows {
				fmt.Printf("%s\tv%d\t%s\troot=%s\n", f.Code, f.Rev.Version, f.Title, f.Rev.Root)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "lineage <root>",
		Short: "Show every version of a form lineage",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			root, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("bad root: %w", err)
			}
			history, err := a.svc.FormLineage(c.Context(), root)
			if err != nil {
				return err
			}
			for _, f := range history {
				state := "closed " + f.Rev.End.Format("2006-01-02")
				if f.Rev.Current() {
					state = "current"
				}
				fmt.Printf("v%d\t%s\t%s\t%s\n", f.Rev.Version, f.Title, f.Rev.Start.Format("2006-01-02"), state)
			}
			return nil
		},
	})

	return cmd
}

func (a *app) draftCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "draft",
		Short: "Manage working drafts",
	}

	var owner, target string
	save := &cobra.Command{
		Use:   "save <content.json>",
		Short: "Save a draft from a JSON form snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var content model.FormSnapshot
			if err := json.Unmarshal(data, &content); err != nil {
				return fmt.Errorf("bad snapshot: %w", err)
			}
			var root *uuid.UUID
			if target != "" {
				id, err := uuid.Parse(target)
				if err != nil {
					return fmt.Errorf("bad --target: %w", err)
				}
				root = &id
			}
			row, err := a.svc.SaveDraft(c.Context(), owner, root, content)
			if err != nil {
				return err
			}
			fmt.Printf("saved draft %s\n", row.ID)
			return nil
		},
	}
	save.Flags().StringVar(&owner, "owner", "", "draft owner (required)")
	save.Flags().StringVar(&target, "target", "", "existing lineage root the draft amends")
	_ = save.MarkFlagRequired("owner")
	cmd.AddCommand(save)

	var listOwner string
	list := &cobra.Command{
		Use:   "list",
		Short: "List an owner's drafts",
		RunE: func(c *cobra.Command, _ []string) error {
			rows, err := a.svc.Drafts().List(c.Context(), listOwner)
			if err != nil {
				return err
			}
			for _, d := range rows {
				target := "new form"
				if d.TargetRoot != nil {
					target = fmt.Sprintf("%s v%d", d.TargetRoot, d.BaseVersion)
				}
				fmt.Printf("%s\t%s\t%s\t%s\n", d.ID, d.Content.Title, target, d.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
	list.Flags().StringVar(&listOwner, "owner", "", "draft owner (required)")
	_ = list.MarkFlagRequired("owner")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "promote <id>",
		Short: "Validate a draft and publish it as a form version",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("bad id: %w", err)
			}
			form, err := a.svc.PromoteDraft(c.Context(), id)
			if err != nil {
				return err
			}
			fmt.Printf("promoted to %s v%d\n", form.Code, form.Rev.Version)
			return nil
		},
	})

	discard := &cobra.Command{
		Use:   "discard <id>",
		Short: "Discard a draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("bad id: %w", err)
			}
			ok, err := a.confirm("Discard this draft?")
			if err != nil || !ok {
				return err
			}
			return a.svc.Drafts().Discard(c.Context(), id)
		},
	}
	cmd.AddCommand(discard)

	return cmd
}

func (a *app) importCmd() *cobra.Command {
	var title, description, target string
	var base int
	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import a tabular form definition as one atomic batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			rows, err := tabular.Read(f)
			if err != nil {
				return err
			}

			req := bulk.Request{Title: title, Description: description, Rows: rows}
			if target != "" {
				root, err := uuid.Parse(target)
				if err != nil {
					return fmt.Errorf("bad --target: %w", err)
				}
				req.TargetRoot = &root
				req.BaseVersion = base
				ok, err := a.confirm(fmt.Sprintf("Create a new version of %s from %d rows?", root, len(rows)))
				if err != nil || !ok {
					return err
				}
			}

			res, err := a.svc.ImportRows(c.Context(), req)
			if err != nil {
				return err
			}
			fmt.Printf("imported %s v%d: %d sections, %d fields\n",
				res.Form.Code, res.Form.Rev.Version, res.Sections, res.Fields)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "form title (required)")
	cmd.Flags().StringVar(&description, "description", "", "form description")
	cmd.Flags().StringVar(&target, "target", "", "existing lineage root to version")
	cmd.Flags().IntVar(&base, "base", 1, "expected current version of --target")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func (a *app) exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <root>",
		Short: "Export the current version of a form as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			root, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("bad root: %w", err)
			}
			rows, err := a.svc.ExportRows(c.Context(), root)
			if err != nil {
				return err
			}

			w := os.Stdout
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return tabular.Write(w, rows)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (stdout if empty)")
	return cmd
}

func (a *app) schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema <root>",
		Short: "Emit the current version of a form as an OpenAPI object schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			root, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("bad root: %w", err)
			}
			schema, err := a.svc.FormSchema(c.Context(), root)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(schema)
		},
	}
}
