// Package cli is the ragctl command tree.
package cli

import (
	"context"
	"errors"
	"io"

	"github.com/spf13/cobra"

	"github.com/kirillkom/proposal-rag/internal/core/ports"
)

// Services is what the commands run against. Bootstrap builds it lazily so
// that --help and argument errors never touch external systems.
type Services struct {
	Resolver  ports.ResourceResolver
	Ingestor  ports.Ingestor
	Proposals ports.ProposalService
	ServeMCP  func(ctx context.Context, in io.Reader, out io.Writer) error

	DefaultRoot string
	Recursive   bool
	Extensions  []string

	Close func()
}

// Factory builds the services for one command invocation.
type Factory func(ctx context.Context) (*Services, error)

var errNoServices = errors.New("services not configured")

func NewRootCommand(factory Factory, version string) *cobra.Command {
	root := &cobra.Command{
		Use:           "ragctl",
		Short:         "Operate the proposal retrieval service",
		Long:          "ragctl resolves and ingests proposal corpora, asks for proposal drafts and serves them over MCP.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newResolveCommand(factory),
		newIngestCommand(factory),
		newAskCommand(factory),
		newMCPCommand(factory),
	)
	return root
}

// withServices builds the services, runs fn and releases them.
func withServices(cmd *cobra.Command, factory Factory, fn func(*Services) error) error {
	if factory == nil {
		return errNoServices
	}
	svc, err := factory(cmd.Context())
	if err != nil {
		return err
	}
	if svc.Close != nil {
		defer svc.Close()
	}
	return fn(svc)
}
