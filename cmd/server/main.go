package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"atrium/server/internal/app"
	"atrium/server/internal/net/proto"
	"atrium/server/internal/schema"
)

type rootOptions struct {
	ConfigPath string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Fatalf("%v", err)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "atrium-server",
		Short: "Atrium world-sync server",
		Long:  "Hosts a shared 3D room: presence, entity synchronization and the message authorization gate.",
	}
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newSchemaCommand())

	return cmd
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the room server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return app.Run(ctx, app.RunConfig{
				ConfigPath: opts.ConfigPath,
				Addr:       addr,
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func newSchemaCommand() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Emit the JSON schema of the wire envelope and built-in templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := buildSchemaDocument()
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal schema: %w", err)
			}
			data = append(data, '\n')

			if outPath == "" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}
			if err := os.WriteFile(outPath, data, 0o644); err != nil {
				return fmt.Errorf("write schema: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "output path (defaults to stdout)")
	return cmd
}

type schemaDocument struct {
	Ver       int                `json:"ver"`
	Envelope  *jsonschema.Schema `json:"envelope"`
	Templates []schema.Template  `json:"templates"`
}

func buildSchemaDocument() (schemaDocument, error) {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
	}
	envelope := reflector.Reflect(&proto.Envelope{})
	if envelope == nil {
		return schemaDocument{}, fmt.Errorf("reflect envelope schema")
	}
	return schemaDocument{
		Ver:       proto.Version,
		Envelope:  envelope,
		Templates: schema.BuiltInTemplates,
	}, nil
}
