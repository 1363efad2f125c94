package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/proposal-rag/internal/core/domain"
	"github.com/kirillkom/proposal-rag/internal/infrastructure/resource/filesystem"
)

func newResolveCommand(factory Factory) *cobra.Command {
	var (
		extensions string
		flat       bool
	)
	cmd := &cobra.Command{
		Use:   "resolve [root]",
		Short: "List the resources an ingestion run would read",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, factory, func(svc *Services) error {
				root := svc.DefaultRoot
				if len(args) == 1 {
					root = args[0]
				}
				exts := svc.Extensions
				if cmd.Flags().Changed("extensions") {
					exts = filesystem.ParseExtensions(extensions)
				}
				resources, err := svc.Resolver.Resolve(cmd.Context(), root, svc.Recursive && !flat, exts)
				if err != nil {
					return fmt.Errorf("resolve %s: %w", root, err)
				}
				for _, res := range resources {
					cmd.Printf("%s\t%s\t%s\n", res.Kind, res.Extension, res.Location)
				}
				cmd.PrintErrf("%d resources\n", len(resources))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&extensions, "extensions", "e", "", "comma-separated extension allow-list; empty means all")
	cmd.Flags().BoolVar(&flat, "flat", false, "do not descend into subdirectories")
	return cmd
}

func newIngestCommand(factory Factory) *cobra.Command {
	var (
		extensions string
		batchSize  int
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "ingest [root]",
		Short: "Run one ingestion into the vector store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if batchSize < 0 {
				return fmt.Errorf("--batch-size must be positive, got %d", batchSize)
			}
			req := domain.IngestRequest{BatchSize: batchSize, Trigger: "cli"}
			if len(args) == 1 {
				req.Root = args[0]
			}
			if cmd.Flags().Changed("extensions") {
				req.Extensions = filesystem.ParseExtensions(extensions)
			}
			return withServices(cmd, factory, func(svc *Services) error {
				run, err := svc.Ingestor.Run(cmd.Context(), req)
				if run != nil {
					if printErr := printRun(cmd, run, asJSON); printErr != nil {
						return printErr
					}
				}
				if err != nil {
					return fmt.Errorf("ingestion failed: %w", err)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&extensions, "extensions", "e", "", "comma-separated extension allow-list; empty means all")
	cmd.Flags().IntVarP(&batchSize, "batch-size", "b", 0, "chunks per vector store write (0 = configured)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run record as JSON")
	return cmd
}

func printRun(cmd *cobra.Command, run *domain.IngestionRun, asJSON bool) error {
	if asJSON {
		data, err := json.MarshalIndent(run, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal run: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}
	cmd.Printf("run %s %s: %d resources, %d documents, %d chunks in %d batches\n",
		run.ID, run.Status, run.Resources, run.Documents, run.Chunks, run.Batches)
	for _, s := range run.Skipped {
		cmd.Printf("  skipped %s: %s\n", s.Location, s.Reason)
	}
	return nil
}

func newAskCommand(factory Factory) *cobra.Command {
	var (
		search bool
		topK   int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Draft a proposal for a question",
		Long: `Draft a proposal for a question using the most similar past proposals as
context. With --search only the retrieved excerpts are printed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			if strings.TrimSpace(question) == "" {
				return errors.New("question must not be empty")
			}
			return withServices(cmd, factory, func(svc *Services) error {
				if search {
					chunks, err := svc.Proposals.Retrieve(cmd.Context(), question, topK)
					if err != nil {
						return fmt.Errorf("search failed: %w", err)
					}
					return printChunks(cmd, chunks, asJSON)
				}
				answer, err := svc.Proposals.Answer(cmd.Context(), question)
				if err != nil {
					return fmt.Errorf("answer failed: %w", err)
				}
				if asJSON {
					data, err := json.MarshalIndent(answer, "", "  ")
					if err != nil {
						return fmt.Errorf("marshal answer: %w", err)
					}
					cmd.Println(string(data))
					return nil
				}
				if answer.Degraded {
					cmd.PrintErrln("warning: retrieval failed, answer has no proposal context")
				}
				cmd.Println(answer.PlainText())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&search, "search", false, "print retrieved excerpts instead of generating")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "excerpts to retrieve with --search (0 = configured)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func printChunks(cmd *cobra.Command, chunks []domain.RetrievedChunk, asJSON bool) error {
	if asJSON {
		data, err := json.MarshalIndent(chunks, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal results: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}
	if len(chunks) == 0 {
		cmd.Println("No results found.")
		return nil
	}
	for i, c := range chunks {
		cmd.Printf("[%d] %s (%.2f)\n", i+1, c.Source, c.Score)
		cmd.Printf("    %s\n", c.Text)
	}
	return nil
}

func newMCPCommand(factory Factory) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve proposal tools over MCP stdio",
		Long: `Serve the generate_proposal and search_proposals tools over the Model Context
Protocol on stdin/stdout. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withServices(cmd, factory, func(svc *Services) error {
				if svc.ServeMCP == nil {
					return errNoServices
				}
				return svc.ServeMCP(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
			})
		},
	}
}
