package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/aiprocessor/internal/core/domain"
	"github.com/vietddude/aiprocessor/internal/infra/storage"
	"github.com/vietddude/aiprocessor/internal/infra/storage/postgres"
	"github.com/vietddude/aiprocessor/internal/prompt"
	"github.com/vietddude/aiprocessor/internal/validation"
)

var (
	promptRef          string
	promptTemplateFile string
	promptSchemaFile   string
)

var promptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Manage prompt templates stored in the database",
}

var promptPutCmd = &cobra.Command{
	Use:   "put",
	Short: "Create or replace the active prompt for a ref",
	Run:   runPromptPut,
}

var promptListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active prompts",
	Run:   runPromptList,
}

func init() {
	promptPutCmd.Flags().StringVar(&promptRef, "ref", "", "prompt reference (required)")
	promptPutCmd.Flags().StringVar(&promptTemplateFile, "template-file", "", "file holding the prompt template (required)")
	promptPutCmd.Flags().StringVar(&promptSchemaFile, "schema-file", "", "file holding the result JSON schema (required)")
	_ = promptPutCmd.MarkFlagRequired("ref")
	_ = promptPutCmd.MarkFlagRequired("template-file")
	_ = promptPutCmd.MarkFlagRequired("schema-file")

	promptCmd.AddCommand(promptPutCmd, promptListCmd)
	rootCmd.AddCommand(promptCmd)
}

func openPromptRepo(ctx context.Context) (*postgres.DB, storage.PromptRepository) {
	cfg := loadConfig()
	if cfg.Database.URL == "" {
		slog.Error("Prompts are read from the config file when no database is configured")
		os.Exit(1)
	}
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	if cfg.Database.Migrate {
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			slog.Error("Failed to migrate database", "error", err)
			os.Exit(1)
		}
	}
	return db, postgres.NewPromptRepo(db)
}

func runPromptPut(cmd *cobra.Command, args []string) {
	template, err := os.ReadFile(promptTemplateFile)
	if err != nil {
		slog.Error("Failed to read template", "error", err)
		os.Exit(1)
	}
	schema, err := os.ReadFile(promptSchemaFile)
	if err != nil {
		slog.Error("Failed to read schema", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, repo := openPromptRepo(ctx)
	defer func() {
		_ = db.Close()
	}()

	spec := domain.PromptSpec{Ref: promptRef, Template: string(template), SchemaJSON: string(schema)}
	if err := putPrompt(ctx, repo, spec); err != nil {
		slog.Error("Failed to save prompt", "ref", promptRef, "error", err)
		os.Exit(1)
	}
	fmt.Printf("prompt %s saved\n", promptRef)
}

func runPromptList(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, repo := openPromptRepo(ctx)
	defer func() {
		_ = db.Close()
	}()

	if err := writePrompts(ctx, os.Stdout, repo); err != nil {
		slog.Error("Failed to list prompts", "error", err)
		os.Exit(1)
	}
}

// putPrompt checks spec and stores it as the active prompt of its ref.
func putPrompt(ctx context.Context, repo storage.PromptRepository, spec domain.PromptSpec) error {
	spec.Ref = strings.TrimSpace(spec.Ref)
	if spec.Ref == "" {
		return fmt.Errorf("ref must not be blank")
	}
	if strings.TrimSpace(spec.Template) == "" {
		return fmt.Errorf("template must not be blank")
	}
	if _, err := validation.CompileSchema(spec.SchemaJSON); err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	if !strings.Contains(spec.Template, prompt.PayloadPlaceholder) {
		slog.Warn("Template has no payload placeholder", "ref", spec.Ref, "placeholder", prompt.PayloadPlaceholder)
	}
	return repo.Save(ctx, &spec)
}

func writePrompts(ctx context.Context, out io.Writer, repo storage.PromptRepository) error {
	specs, err := repo.List(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "REF\tTEMPLATE\tSCHEMA BYTES")
	for _, s := range specs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\n", s.Ref, firstLine(s.Template, 60), len(s.SchemaJSON))
	}
	return w.Flush()
}

func firstLine(s string, limit int) string {
	s, _, _ = strings.Cut(strings.TrimSpace(s), "\n")
	if r := []rune(s); len(r) > limit {
		return string(r[:limit]) + "..."
	}
	return s
}
