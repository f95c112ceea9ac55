package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/roach88/invar/internal/ir"
	"github.com/roach88/invar/internal/project"
)

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Config.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Config.Verbose,
	}
}

// loadProject loads paths plus the built-in registries when configured. A policy
// disable request in the configuration is a security error; anything else
// that stops loading is a command error.
func loadProject(opts *RootOptions, f *OutputFormatter, paths []string) (*project.Project, error) {
	if len(paths) == 0 && !opts.Config.Library && !opts.Config.Defensive {
		return nil, f.Fail(ExitCommandError, "no documents", errors.New("pass document paths, --library or --defensive"))
	}
	p, err := project.Load(project.Options{
		Paths:     paths,
		Library:   opts.Config.Library,
		Defensive: opts.Config.Defensive,
		Sandbox:   opts.Config.Sandbox,
		Logger:    opts.Logger,
	})
	if err != nil {
		code := ExitCommandError
		if ir.IsSecurityError(err) {
			code = ExitSecurity
		}
		return nil, f.Fail(code, "failed to load documents", err)
	}
	for _, r := range p.Rejected {
		f.VerboseLog("rejected %s: %v", r.Invariant, r.Err)
	}
	return p, nil
}

// RejectionInfo describes a rejected declaration.
type RejectionInfo struct {
	Invariant string   `json:"invariant"`
	Kind      string   `json:"kind"`
	Message   string   `json:"message"`
	Items     []string `json:"items,omitempty"`
}

func rejections(p *project.Project) []RejectionInfo {
	out := make([]RejectionInfo, len(p.Rejected))
	for i, r := range p.Rejected {
		out[i] = RejectionInfo{Invariant: r.Invariant, Kind: string(r.Kind()), Message: r.Err.Error()}
		var ie *ir.Error
		if errors.As(r.Err, &ie) {
			out[i].Items = ie.Items
		}
	}
	return out
}
