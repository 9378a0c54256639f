package cli

import (
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/timewave-computer/causality-sub006/internal/ids"
	"github.com/timewave-computer/causality-sub006/internal/lifecycle"
)

// RegisterView is the output shape of one register.
type RegisterView struct {
	ID        string `json:"id"`
	Owner     string `json:"owner"`
	Domain    string `json:"domain"`
	State     string `json:"state"`
	Kind      string `json:"kind"`
	Contents  string `json:"contents"`
	Epoch     uint64 `json:"epoch"`
	History   int    `json:"history"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func viewOf(r *lifecycle.Register) RegisterView {
	return RegisterView{
		ID:        r.ID.Hex(),
		Owner:     string(r.Owner),
		Domain:    r.Domain.Hex(),
		State:     r.State.String(),
		Kind:      r.Contents.Kind,
		Contents:  string(r.Contents.Data),
		Epoch:     r.Epoch,
		History:   len(r.History),
		CreatedAt: r.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: r.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

var registerHeader = table.Row{"ID", "Owner", "Domain", "State", "Epoch", "History"}

func (v RegisterView) row() table.Row {
	return table.Row{shortHex(v.ID), v.Owner, shortHex(v.Domain), v.State, v.Epoch, v.History}
}

// NewRegisterCommand creates the register command group.
func NewRegisterCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create and inspect registers",
		Long: `Create and inspect registers in the workspace.

Operations are signed with ed25519 keys derived from --secret (or
CAUSALITY_SECRET) and the acting address, so the same secret always
authorizes the same principals.`,
	}
	cmd.AddCommand(newRegisterCreateCommand(rootOpts))
	cmd.AddCommand(newRegisterShowCommand(rootOpts))
	cmd.AddCommand(newRegisterListCommand(rootOpts))
	return cmd
}

func newRegisterCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var owner, domain, kind, contents, txID string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a register",
		Example: `  causality register create --owner 0xAAA --domain D1 --contents hello
  causality register create --owner 0xAAA --domain D1 --kind json --contents '{"n":1}' --tx-id tx-7`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			if owner == "" || domain == "" {
				_ = f.Error(ErrCodeGeneric, "--owner and --domain are required", nil)
				return NewExitError(ExitCommandError, "--owner and --domain are required")
			}
			ws, err := openWorkspace(cmd.Context(), rootOpts.Workspace)
			if err != nil {
				return f.fail(ExitCommandError, "open workspace", err)
			}
			defer ws.Close()

			addr := lifecycle.Address(owner)
			op := lifecycle.NewCreate(addr, ids.DomainFromName(domain), lifecycle.Contents{Kind: kind, Data: []byte(contents)}, txID)
			ws.registers.PinHeads(op)
			op.Auth = lifecycle.SignOperation(ws.signer(rootOpts.Secret, addr), addr, op)
			regs, err := ws.registers.ApplyOperation(cmd.Context(), op)
			if err != nil {
				return f.fail(ExitFailure, "create register", err)
			}
			f.VerboseLog("state root %s", ws.tree.StateRoot().Hex())

			v := viewOf(regs[0])
			if f.Format == "json" {
				return f.Success(v)
			}
			return f.Success(v.ID)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner address")
	cmd.Flags().StringVar(&domain, "domain", "", "home domain name")
	cmd.Flags().StringVar(&kind, "kind", "bytes", "contents kind tag")
	cmd.Flags().StringVar(&contents, "contents", "", "register contents")
	cmd.Flags().StringVar(&txID, "tx-id", "", "creating transaction id")
	return cmd
}

func newRegisterShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <register-id>",
		Short:         "Show one register",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			id, err := ids.Parse[ids.RegisterKind](args[0])
			if err != nil {
				return f.fail(ExitCommandError, "parse register id", err)
			}
			ws, err := openWorkspace(cmd.Context(), rootOpts.Workspace)
			if err != nil {
				return f.fail(ExitCommandError, "open workspace", err)
			}
			defer ws.Close()

			r, err := ws.registers.GetRegister(id)
			if err != nil {
				return f.fail(ExitFailure, "show register", err)
			}
			v := viewOf(r)
			return f.Table(table.Row{"Field", "Value"}, []table.Row{
				{"id", v.ID},
				{"owner", v.Owner},
				{"domain", v.Domain},
				{"state", v.State},
				{"kind", v.Kind},
				{"contents", v.Contents},
				{"epoch", v.Epoch},
				{"history", v.History},
				{"created_at", v.CreatedAt},
				{"updated_at", v.UpdatedAt},
			}, v)
		},
	}
}

func newRegisterListCommand(rootOpts *RootOptions) *cobra.Command {
	var owner, domain string
	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List registers, optionally by owner or domain",
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

			var regs []*lifecycle.Register
			switch {
			case owner != "":
				regs = ws.registers.QueryByOwner(lifecycle.Address(owner))
			case domain != "":
				regs = ws.registers.QueryByDomain(ids.DomainFromName(domain))
			default:
				regs = ws.registers.All()
			}

			views := make([]RegisterView, 0, len(regs))
			rows := make([]table.Row, 0, len(regs))
			for _, r := range regs {
				if domain != "" && r.Domain != ids.DomainFromName(domain) {
					continue
				}
				v := viewOf(r)
				views = append(views, v)
				rows = append(rows, v.row())
			}
			return f.Table(registerHeader, rows, views)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "only registers owned by this address")
	cmd.Flags().StringVar(&domain, "domain", "", "only registers homed in this domain (by name)")
	return cmd
}
