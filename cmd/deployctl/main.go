package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"deployd/internal/client"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		server string
		asJSON bool
	)
	defServer := os.Getenv("DEPLOYD_URL")
	if defServer == "" {
		defServer = "http://localhost:8000"
	}
	root := &cobra.Command{
		Use:           "deployctl",
		Short:         "Command-line client for deployd",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&server, "server", defServer, "deployd base URL (defaults DEPLOYD_URL)")
	root.PersistentFlags().BoolVar(&asJSON, "json", false, "Print raw JSON")
	c := func() *client.Client { return client.New(server, nil) }

	emit := func(w io.Writer, v any, table func(io.Writer)) error {
		if asJSON {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		}
		table(w)
		return nil
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "models",
			Short: "List registered models",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				models, err := c().Models(cmd.Context())
				if err != nil {
					return err
				}
				return emit(cmd.OutOrStdout(), models, func(w io.Writer) {
					for _, m := range models {
						fmt.Fprintln(w, m)
					}
				})
			},
		},
		&cobra.Command{
			Use:     "versions MODEL",
			Short:   "List versions of a model",
			Args:    cobra.ExactArgs(1),
			Example: "  deployctl versions iris",
			RunE: func(cmd *cobra.Command, args []string) error {
				versions, err := c().Versions(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return emit(cmd.OutOrStdout(), versions, func(w io.Writer) {
					for _, v := range versions {
						fmt.Fprintln(w, v)
					}
				})
			},
		},
		&cobra.Command{
			Use:     "deploy MODEL VERSION",
			Short:   "Deploy a model version and wait until it serves",
			Args:    cobra.ExactArgs(2),
			Example: "  deployctl deploy iris 3",
			RunE: func(cmd *cobra.Command, args []string) error {
				r, err := c().Deploy(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return emit(cmd.OutOrStdout(), r, func(w io.Writer) { fmt.Fprintln(w, r.Message) })
			},
		},
		&cobra.Command{
			Use:     "undeploy ID",
			Short:   "Stop a deployment and release its port",
			Args:    cobra.ExactArgs(1),
			Example: "  deployctl undeploy iris-3",
			RunE: func(cmd *cobra.Command, args []string) error {
				r, err := c().Undeploy(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return emit(cmd.OutOrStdout(), r, func(w io.Writer) { fmt.Fprintln(w, r.Message) })
			},
		},
		&cobra.Command{
			Use:     "list",
			Aliases: []string{"ls"},
			Short:   "List deployments",
			Args:    cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ds, err := c().Deployments(cmd.Context())
				if err != nil {
					return err
				}
				return emit(cmd.OutOrStdout(), ds, func(w io.Writer) {
					ids := make([]string, 0, len(ds))
					for id := range ds {
						ids = append(ids, id)
					}
					sort.Strings(ids)
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tMODEL\tVERSION\tPORT\tRUN")
					for _, id := range ids {
						d := ds[id]
						fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", id, d.ModelName, d.Version, d.Port, d.RunReference)
					}
					_ = tw.Flush()
				})
			},
		},
		&cobra.Command{
			Use:   "free-ports",
			Short: "Show how many ports are still available",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				fp, err := c().FreePorts(cmd.Context())
				if err != nil {
					return err
				}
				return emit(cmd.OutOrStdout(), fp, func(w io.Writer) {
					fmt.Fprintf(w, "%d free in [%d,%d)\n", fp.Free, fp.Start, fp.End)
				})
			},
		},
	)
	return root
}
