package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/invar/internal/codegen"
	"github.com/roach88/invar/internal/project"
	"github.com/roach88/invar/internal/typecheck"
)

// GenerateOptions holds flags for the generate command.
type GenerateOptions struct {
	*RootOptions
	Chains []string
	Output string
}

// GeneratedArtifact describes one generated file.
type GeneratedArtifact struct {
	Invariant string            `json:"invariant"`
	Chain     string            `json:"chain"`
	Path      string            `json:"path,omitempty"`
	Manifest  string            `json:"manifest,omitempty"`
	Artifact  *codegen.Artifact `json:"artifact,omitempty"` // set when not written to disk
}

// manifestSuffix is appended to an artifact's base name for its manifest.
const manifestSuffix = ".manifest.json"

// chainExt is the source file extension per chain.
var chainExt = map[codegen.Chain]string{
	codegen.ChainEVM:    ".sol",
	codegen.ChainMove:   ".move",
	codegen.ChainSolana: ".rs",
}

// NewGenerateCommand creates the generate command.
func NewGenerateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GenerateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "generate [documents...]",
		Short: "Generate on-chain checks for invariants",
		Long: `Render every checked invariant as check code for each chain and verify
the result before emitting it.

With --output, each artifact is written to <output>/<chain>/check_<name><ext>
next to a .manifest.json file; otherwise sources are printed.

Example:
  invar generate --chain evm ./invariants.yaml
  invar generate --chain evm,move,solana -o ./generated --library`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(opts, args, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Chains, "chain", []string{string(codegen.ChainEVM)}, "target chains (evm, move, solana)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output directory")

	return cmd
}

func runGenerate(opts *GenerateOptions, paths []string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	var gens []*codegen.Generator
	for _, name := range opts.Chains {
		chain, err := codegen.ParseChain(name)
		if err != nil {
			return f.Fail(ExitCommandError, "invalid chain", err)
		}
		gen, err := codegen.New(chain)
		if err != nil {
			return f.Fail(ExitCommandError, "invalid chain", err)
		}
		gens = append(gens, gen)
	}

	p, err := loadProject(opts.RootOptions, f, paths)
	if err != nil {
		return err
	}

	var out []GeneratedArtifact
	for _, gen := range gens {
		for _, inv := range p.Invariants {
			art, err := generateVerified(p, gen, inv)
			if err != nil {
				return f.Fail(failureCode(err), "generation failed", err)
			}
			ga := GeneratedArtifact{Invariant: inv.Name(), Chain: string(gen.Chain())}
			if opts.Output == "" {
				ga.Artifact = art
			} else if ga.Path, ga.Manifest, err = writeArtifact(opts.Output, art); err != nil {
				return f.Fail(ExitCommandError, "failed to write artifact", err)
			}
			opts.Logger.Debug("generated", "invariant", inv.Name(), "chain", gen.Chain())
			out = append(out, ga)
		}
	}

	if f.Format == "json" {
		if err := f.Success(out); err != nil {
			return err
		}
	} else {
		printGenerate(f, out)
	}
	return rejectedExit(p)
}

// generateVerified generates an artifact and runs the injection and tamper
// checks on it.
func generateVerified(p *project.Project, gen *codegen.Generator, inv *typecheck.Invariant) (*codegen.Artifact, error) {
	art, err := gen.Generate(inv)
	if err != nil {
		return nil, err
	}
	if err := p.Validator.VerifyInjection(inv, art); err != nil {
		return nil, err
	}
	if _, err := p.Validator.VerifyTamper(inv, art); err != nil {
		return nil, err
	}
	return art, nil
}

func writeArtifact(dir string, art *codegen.Artifact) (string, string, error) {
	m := art.Manifest
	base := filepath.Join(dir, string(m.Chain), codegen.FuncName(m.Invariant))
	if err := os.MkdirAll(filepath.Dir(base), 0o755); err != nil {
		return "", "", err
	}
	src := base + chainExt[m.Chain]
	if err := os.WriteFile(src, []byte(art.Source), 0o644); err != nil {
		return "", "", err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", "", err
	}
	manifest := base + manifestSuffix
	if err := os.WriteFile(manifest, append(data, '\n'), 0o644); err != nil {
		return "", "", err
	}
	return src, manifest, nil
}

// manifestPath returns the manifest path for an artifact source path.
func manifestPath(src string) string {
	return strings.TrimSuffix(src, filepath.Ext(src)) + manifestSuffix
}

func printGenerate(f *OutputFormatter, out []GeneratedArtifact) {
	for _, ga := range out {
		if ga.Artifact != nil {
			fmt.Fprintf(f.Writer, "// --- %s (%s)\n%s\n", ga.Invariant, ga.Chain, ga.Artifact.Source)
			continue
		}
		fmt.Fprintf(f.Writer, "✓ %s (%s) → %s\n", ga.Invariant, ga.Chain, ga.Path)
	}
}
