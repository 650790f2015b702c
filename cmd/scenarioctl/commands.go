package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/signalsfoundry/scenario-composer/internal/logging"
	"github.com/signalsfoundry/scenario-composer/internal/remote"
	"github.com/signalsfoundry/scenario-composer/internal/scenariofile"
	"github.com/signalsfoundry/scenario-composer/internal/topology"
	"github.com/signalsfoundry/scenario-composer/model"
	"github.com/spf13/cobra"
)

// errSimulation is returned when the simulator reports an ERROR event.
var errSimulation = errors.New("simulation failed")

func (a *app) initCmd() *cobra.Command {
	var (
		name  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "init [file]",
		Short: "Write a new, empty scenario file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "scenario.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				}
			}
			sc := model.DefaultScenario()
			if name != "" {
				sc.Parameters.Name = name
			}
			if err := sc.Validate(); err != nil {
				return err
			}
			if err := scenariofile.Save(path, sc); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "scenario name")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func (a *app) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a scenario file and print a summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.loadStore(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			sc := store.Snapshot()
			c := sc.Counts()
			fmt.Fprintf(a.stdout, "%s: ok (%d nodes, %d devices, %d connections, %d tracers)\n",
				sc.Parameters.Name, c.Nodes, c.Devices, c.Connections, c.Registers)
			for _, ref := range sc.DanglingInterfaces() {
				fmt.Fprintf(a.stdout, "warning: %s does not match any node device\n", ref)
			}
			return nil
		},
	}
}

func (a *app) exportCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Export a scenario as simulator XML",
		Long: `Export writes the scenario's XML document to <name>.xml, where <name> is the
scenario name, or to the path given with -o. Use -o - for standard output.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.loadStore(ctx, args[0])
			if err != nil {
				return err
			}
			doc, err := store.XML(ctx)
			if err != nil {
				return err
			}

			target := output
			if target == "" {
				target = store.Parameters().Name
			}
			if target == "-" {
				_, err := io.WriteString(a.stdout, doc)
				return err
			}
			target = xmlPath(target)
			if err := os.WriteFile(target, []byte(doc), 0o644); err != nil {
				return err
			}
			a.log.Info(ctx, "scenario exported", logging.String("path", target), logging.Int("bytes", len(doc)))
			fmt.Fprintf(a.stdout, "wrote %s\n", target)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path, or - for stdout")
	return cmd
}

// xmlPath appends .xml unless path already ends with it.
func xmlPath(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".xml") {
		return path
	}
	return path + ".xml"
}

func (a *app) topologyCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "topology <file>",
		Short: "Render the scenario topology as Graphviz DOT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.loadStore(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			g := topology.Build(store.Snapshot())
			if output == "" || output == "-" {
				return topology.WriteDOT(a.stdout, g)
			}
			var buf bytes.Buffer
			if err := topology.WriteDOT(&buf, g); err != nil {
				return err
			}
			return os.WriteFile(output, buf.Bytes(), 0o644)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default stdout)")
	return cmd
}

func (a *app) submitCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "submit <file>",
		Short: "Export a scenario and start it on the remote simulator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.loadStore(ctx, args[0])
			if err != nil {
				return err
			}
			doc, err := store.XML(ctx)
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}

			// Subscribe before starting so events sent while /start is
			// handled are not lost.
			var stream *remote.Stream
			if watch {
				w, err := a.watcher()
				if err != nil {
					return err
				}
				if stream, err = w.Connect(ctx); err != nil {
					return err
				}
			}
			if err := client.Start(ctx, doc); err != nil {
				if stream != nil {
					_ = stream.Close()
				}
				return err
			}
			fmt.Fprintf(a.stdout, "submitted %s to %s\n", store.Parameters().Name, client.BaseURL())
			if stream == nil {
				return nil
			}
			return a.follow(ctx, stream.Watch, true)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "follow the status channel until the results are uploaded")
	return cmd
}

func (a *app) stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the simulation running on the remote simulator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			if err := client.Stop(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, "stop requested")
			return nil
		},
	}
}

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print status events from the remote simulator until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, err := a.watcher()
			if err != nil {
				return err
			}
			return a.follow(cmd.Context(), w.Watch, false)
		},
	}
}

// errUploaded ends a follow once results are available.
var errUploaded = errors.New("results uploaded")

// follow prints status events. When untilDone is set it returns after an
// UPLOADED event, or with errSimulation after an ERROR event.
func (a *app) follow(ctx context.Context, watch func(context.Context, remote.Handler) error, untilDone bool) error {
	err := watch(ctx, func(ctx context.Context, ev remote.Event) error {
		logging.LoggerFromContext(ctx, a.log).Debug(ctx, "status event",
			logging.String("status", string(ev.Status)),
			logging.Int("msg_bytes", len(ev.Msg)),
		)
		switch ev.Status {
		case remote.StatusLog:
			fmt.Fprintln(a.stdout, ev.Msg)
		case remote.StatusUploaded:
			fmt.Fprintf(a.stdout, "uploaded %s\n", ev.Msg)
			if untilDone {
				return errUploaded
			}
		case remote.StatusError:
			fmt.Fprintf(a.stderr, "ERROR: %s\n", ev.Msg)
			if untilDone {
				return fmt.Errorf("%w: %s", errSimulation, ev.Msg)
			}
		}
		return nil
	})
	switch {
	case errors.Is(err, errUploaded), errors.Is(err, context.Canceled):
		return nil
	default:
		return err
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the scenarioctl version",
		Args:  cobra.NoArgs,
		// Skip config loading so version works with a broken config.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "scenarioctl %s\n", version)
			return nil
		},
	}
}
