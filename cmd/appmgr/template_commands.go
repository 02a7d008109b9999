package main

import (
	"fmt"
	"sort"

	"github.com/loykin/appmgr/internal/config"
	"github.com/loykin/appmgr/pkg/template"
	"github.com/spf13/cobra"
)

// TemplateCreateFlags holds flags for the template command
type TemplateCreateFlags struct {
	Type   string
	Port   int
	AppDir string
	Force  bool
	Print  bool
}

func createTemplateCommand() *cobra.Command {
	flags := &TemplateCreateFlags{}
	cmd := &cobra.Command{
		Use:   "template <name>",
		Short: "Scaffold a new application",
		Long: `Create the manifest and the start and stop scripts of a new application.
Add the name to the global manifest to register it.

Examples:
  appmgr template web --type web --port 8080
  appmgr template pg --type database --app-dir ./app
  appmgr template jobs --type worker --print`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return templateCreate(cmd, args[0], flags)
		},
	}
	cmd.Flags().StringVar(&flags.Type, "type", "simple", "template type: web, api, worker, database, simple")
	cmd.Flags().IntVar(&flags.Port, "port", 0, "application port (default depends on type)")
	cmd.Flags().StringVar(&flags.AppDir, "app-dir", config.DefaultAppDir, "application directory")
	cmd.Flags().BoolVar(&flags.Force, "force", false, "overwrite existing files")
	cmd.Flags().BoolVar(&flags.Print, "print", false, "print the manifest instead of writing files")
	return cmd
}

func templateCreate(cmd *cobra.Command, name string, f *TemplateCreateFlags) error {
	generator := template.NewGenerator()
	if f.Print {
		b, err := generator.GenerateJSON(template.TemplateType(f.Type), name, f.Port)
		if err != nil {
			return fmt.Errorf("failed to generate template: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(b)
		return err
	}
	tmpl, err := generator.Generate(template.TemplateType(f.Type), name, f.Port)
	if err != nil {
		return fmt.Errorf("failed to generate template: %w", err)
	}
	written, err := tmpl.Write(f.AppDir, f.Force)
	if err != nil {
		return err
	}
	sort.Strings(written)
	out := cmd.OutOrStdout()
	for _, p := range written {
		_, _ = fmt.Fprintf(out, "created %s\n", p)
	}
	_, _ = fmt.Fprintf(out, "Add %q to the apps list of the global manifest to register it.\n", name)
	return nil
}
