package cli

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/timewave-computer/causality-sub006/internal/ids"
	"github.com/timewave-computer/causality-sub006/internal/relationship"
	"github.com/timewave-computer/causality-sub006/internal/scheduler"
	"github.com/timewave-computer/causality-sub006/internal/teg"
	"github.com/timewave-computer/causality-sub006/internal/temporal"
	"github.com/timewave-computer/causality-sub006/internal/value"
)

// SyncRow is the outcome of one relationship in a sync pass.
type SyncRow struct {
	Name     string `json:"name"`
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Status   string `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Attempts int    `json:"attempts"`
}

// SyncReport is the output of the sync command.
type SyncReport struct {
	Queued        int       `json:"queued"`
	Seeded        int       `json:"seeded"`
	GraphKeys     int       `json:"graph_keys"`
	Snapshots     int       `json:"snapshots"`
	Relationships []SyncRow `json:"relationships"`
	Root          string    `json:"root"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync <decls-dir>",
		Short: "Run one synchronization pass over declared relationships",
		Long: `Load the CUE declarations in a directory and run one scheduler pass.

Declared resource states are written first (only when they changed) and
effect graphs are persisted to the state tree. Every relationship due to
sync is then queued and executed; transient failures are retried with the
configured backoff within the pass when their delay has elapsed. Task
transitions are recorded in the workspace database.

Exit codes:
  0 - Every executed sync succeeded or was skipped
  1 - One or more syncs failed, including those left pending a retry
  2 - Command error (invalid declarations, unreadable workspace, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runSync(ctx context.Context, opts *RootOptions, dir string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	decls, loadErrs := LoadDeclarations(dir, LoadModeFailFast)
	if len(loadErrs) > 0 {
		le, ok := loadErrs[0].(*LoadError)
		if !ok {
			le = &LoadError{Code: ErrCodeGeneric, Message: loadErrs[0].Error()}
		}
		if err := f.Error(le.Code, le.Error(), nil); err != nil {
			return err
		}
		return WrapExitError(ExitCommandError, "load declarations", loadErrs[0])
	}
	f.VerboseLog("Found %d CUE file(s) in %s", decls.FileCount, dir)

	ws, err := openWorkspace(ctx, opts.Workspace)
	if err != nil {
		return f.fail(ExitCommandError, "open workspace", err)
	}
	defer ws.Close()

	report := SyncReport{}
	resources := relationship.NewResourceStore(ws.tree)
	if report.Seeded, err = seedResources(ctx, resources, decls); err != nil {
		return f.fail(ExitCommandError, "seed resources", err)
	}
	for _, g := range decls.Graphs {
		keys, err := teg.Persist(ctx, ws.tree, g.Graph)
		if err != nil {
			return f.fail(ExitCommandError, "persist graph "+g.Name, err)
		}
		report.GraphKeys += len(keys)
	}

	validator, err := newValidator(ws.cfg.SyncLevel(), decls.Rules)
	if err != nil {
		return f.fail(ExitCommandError, "load rules", err)
	}
	registry := relationship.NewRegistry()
	syncer := relationship.NewSyncManager(resources,
		relationship.WithValidator(validator),
		relationship.WithHistoryLimit(ws.cfg.Sync.HistoryLimit),
		relationship.WithEventDrivenFallback(ws.cfg.Sync.EventDrivenFallback),
	)
	names := make(map[ids.RelationshipID]string, len(decls.Relationships))
	for _, d := range decls.Relationships {
		r := d.Relationship
		if _, err := registry.Add(r); err != nil {
			return f.fail(ExitCommandError, "register relationship "+d.Name, err)
		}
		names[r.ID] = d.Name
		if d.Script != "" {
			if err := syncer.RegisterDerivedScript(r.SourceDomain, r.TargetDomain, d.Script); err != nil {
				return f.fail(ExitCommandError, "derived script "+d.Name, err)
			}
		}
	}

	var mu sync.Mutex
	last := make(map[ids.RelationshipID]scheduler.TaskResult)
	attempts := make(map[ids.RelationshipID]int)
	sched, err := scheduler.New(registry, syncer, ws.cfg.SchedulerConfig(),
		scheduler.WithTaskLog(ws.store),
		scheduler.WithObserver(func(res scheduler.TaskResult) {
			mu.Lock()
			defer mu.Unlock()
			last[res.Task.Relationship] = res
			attempts[res.Task.Relationship]++
		}),
	)
	if err != nil {
		return f.fail(ExitCommandError, "configure scheduler", err)
	}
	if report.Queued, err = sched.RunOnce(ctx); err != nil {
		return f.fail(ExitCommandError, "run scheduler", err)
	}

	tm := temporal.NewManager(ws.cfg.TemporalConfig())
	n, err := tm.SynchronizeRelationships(registry)
	if err != nil {
		return f.fail(ExitCommandError, "record relationship snapshots", err)
	}
	m, err := tm.SynchronizeResources(temporal.Registers{Manager: ws.registers}, temporal.Resources(ws.registers))
	if err != nil {
		return f.fail(ExitCommandError, "record register snapshots", err)
	}
	report.Snapshots = n + m

	failed := 0
	rows := make([]table.Row, 0, len(decls.Relationships))
	for _, d := range decls.Relationships {
		r := d.Relationship
		row := SyncRow{Name: names[r.ID], ID: r.ID.Hex(), Kind: r.Kind.String(), Status: "not_due"}
		if res, ok := last[r.ID]; ok {
			row.Status, row.Detail = describeResult(res)
			row.Attempts = attempts[r.ID]
			if res.Err != nil || res.Result.Status == relationship.StatusFailed {
				failed++
			}
		}
		report.Relationships = append(report.Relationships, row)
		rows = append(rows, table.Row{row.Name, row.Kind, row.Status, row.Detail, row.Attempts})
	}
	report.Root = ws.tree.StateRoot().Hex()

	if err := f.Table(table.Row{"Relationship", "Kind", "Status", "Detail", "Attempts"}, rows, report); err != nil {
		return err
	}
	f.VerboseLog("queued %d, seeded %d, graph keys %d, snapshots %d, root %s",
		report.Queued, report.Seeded, report.GraphKeys, report.Snapshots, report.Root)
	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d sync(s) failed", failed))
	}
	return nil
}

// seedResources writes each declared state whose data differs from what
// is stored, ticking the domain clock with wall time.
func seedResources(ctx context.Context, resources *relationship.ResourceStore, decls *LoadResult) (int, error) {
	n := 0
	for _, s := range decls.Seeds {
		cur, ok, err := resources.State(s.Domain, s.Resource)
		if err != nil {
			return n, err
		}
		if ok && value.Equal(cur.Data, s.Data) {
			continue
		}
		if _, err := resources.Write(ctx, s.Domain, s.Resource, s.Data, uint64(time.Now().UnixMilli())); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func describeResult(res scheduler.TaskResult) (status, detail string) {
	r := res.Result
	switch {
	case res.Retried:
		return scheduler.TaskRetrying, errText(res.Err, r.Err)
	case r.Status == relationship.StatusSuccess:
		return r.Status.String(), r.Metadata["action"]
	case r.Status == relationship.StatusSkipped:
		return r.Status.String(), r.Reason
	case r.Status == relationship.StatusFailed:
		return r.Status.String(), errText(res.Err, r.Err)
	default:
		return r.Status.String(), ""
	}
}

func errText(errs ...error) string {
	for _, err := range errs {
		if err != nil {
			return err.Error()
		}
	}
	return ""
}
