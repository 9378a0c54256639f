package cli

import (
	"encoding/hex"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/timewave-computer/causality-sub006/internal/errs"
	"github.com/timewave-computer/causality-sub006/internal/ids"
)

// RootInfo is the output of state root.
type RootInfo struct {
	Root    string   `json:"root"`
	Keys    int      `json:"keys"`
	History []string `json:"history,omitempty"`
}

// KeyValue is the output of state get.
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"` // hex
}

// ProofInfo is the output of state proof.
type ProofInfo struct {
	Key      string `json:"key"`
	Root     string `json:"root"`
	Domain   string `json:"domain,omitempty"`
	Included bool   `json:"included"`
	Verified bool   `json:"verified"`
	Siblings int    `json:"siblings"`
}

// NewStateCommand creates the state command group.
func NewStateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect the sparse Merkle state tree",
	}
	cmd.AddCommand(newStateRootCommand(rootOpts))
	cmd.AddCommand(newStateKeysCommand(rootOpts))
	cmd.AddCommand(newStateGetCommand(rootOpts))
	cmd.AddCommand(newStateProofCommand(rootOpts))
	return cmd
}

func newStateRootCommand(rootOpts *RootOptions) *cobra.Command {
	var history bool
	cmd := &cobra.Command{
		Use:           "root",
		Short:         "Print the current state root",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			ws, err := openWorkspace(cmd.Context(), rootOpts.Workspace)
			if err != nil {
				return f.fail(ExitCommandError, "open workspace", err)
			}
			defer ws.Close()

			info := RootInfo{Root: ws.tree.StateRoot().Hex(), Keys: ws.tree.Len()}
			if history {
				roots, err := ws.tree.RootHistory(cmd.Context())
				if err != nil {
					return f.fail(ExitCommandError, "read root history", err)
				}
				for _, r := range roots {
					info.History = append(info.History, r.Hex())
				}
			}
			if f.Format == "json" {
				return f.Success(info)
			}
			fmt.Fprintf(f.Writer, "%s (%d keys)\n", info.Root, info.Keys)
			for i, r := range info.History {
				fmt.Fprintf(f.Writer, "  [%d] %s\n", i, r)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&history, "history", false, "also print every committed root, oldest first")
	return cmd
}

func newStateKeysCommand(rootOpts *RootOptions) *cobra.Command {
	var domain string
	cmd := &cobra.Command{
		Use:           "keys [prefix]",
		Short:         "List stored keys",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			ws, err := openWorkspace(cmd.Context(), rootOpts.Workspace)
			if err != nil {
				return f.fail(ExitCommandError, "open workspace", err)
			}
			defer ws.Close()

			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			if domain != "" {
				prefix = ids.NamespacePrefix(ids.DomainFromName(domain)) + prefix
			}
			keys := ws.tree.Keys(prefix)
			if keys == nil {
				keys = []string{}
			}
			if f.Format == "json" {
				return f.Success(keys)
			}
			for _, k := range keys {
				fmt.Fprintln(f.Writer, k)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&domain, "domain", "", "restrict to one domain's namespace (by name)")
	return cmd
}

func newStateGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "get <key>",
		Short:         "Print the value stored under a key, hex encoded",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			ws, err := openWorkspace(cmd.Context(), rootOpts.Workspace)
			if err != nil {
				return f.fail(ExitCommandError, "open workspace", err)
			}
			defer ws.Close()

			data, err := ws.tree.Get(args[0])
			if err != nil {
				return f.fail(ExitFailure, "get", err)
			}
			kv := KeyValue{Key: args[0], Value: hex.EncodeToString(data)}
			if f.Format == "json" {
				return f.Success(kv)
			}
			fmt.Fprintln(f.Writer, kv.Value)
			return nil
		},
	}
}

func newStateProofCommand(rootOpts *RootOptions) *cobra.Command {
	var domain string
	cmd := &cobra.Command{
		Use:   "proof <key>",
		Short: "Open a key against the state root and verify the proof",
		Long: `Open a key against the current state root, or against one domain's
sub-root with --domain. A stored key yields an inclusion proof; any other
key yields a non-inclusion proof. Exits 1 if the proof does not verify.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			ws, err := openWorkspace(cmd.Context(), rootOpts.Workspace)
			if err != nil {
				return f.fail(ExitCommandError, "open workspace", err)
			}
			defer ws.Close()

			key := args[0]
			root := ws.tree.StateRoot()
			proof, err := ws.tree.Proof(key)
			if domain != "" {
				d := ids.DomainFromName(domain)
				root = ws.tree.DomainRoot(d)
				proof, err = ws.tree.DomainProof(d, key)
			}
			if err != nil {
				return f.fail(ExitCommandError, "proof", err)
			}

			// nil asks for non-inclusion
			var value []byte
			if v, err := ws.tree.Get(key); err == nil {
				value = append([]byte{}, v...)
			} else if !errs.Is(err, errs.NotFound) {
				return f.fail(ExitCommandError, "get", err)
			}

			info := ProofInfo{
				Key:      key,
				Root:     root.Hex(),
				Domain:   domain,
				Included: proof.Includes(key),
				Verified: ws.tree.VerifyProof(root, key, value, proof),
				Siblings: len(proof.Siblings),
			}
			err = f.Table(
				table.Row{"Key", "Root", "Included", "Verified", "Siblings"},
				[]table.Row{{info.Key, shortHex(info.Root), info.Included, info.Verified, info.Siblings}},
				info,
			)
			if err != nil {
				return err
			}
			if !info.Verified {
				return NewExitError(ExitFailure, "proof did not verify")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&domain, "domain", "", "prove against this domain's sub-root (by name)")
	return cmd
}
