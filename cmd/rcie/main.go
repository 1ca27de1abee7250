package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"rcie/adapters/excel"
	"rcie/domain/core"
	"rcie/internal"
	"rcie/internal/config"
	"rcie/internal/container"
	"rcie/internal/plan"
	"rcie/internal/workflow"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "rcie",
		Short:         "Causal inference workflow client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newRunCmd(),
		newDiscoverCmd(),
		newUploadCmd(),
		newSignupCmd(),
		newHistoryCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// bootstrap loads .env and configuration, then wires the container.
func bootstrap(ctx context.Context) (*container.Container, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := internal.NewLogger(internal.ParseLogLevel(cfg.Log.Level), cfg.Log.Format)

	c, err := container.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	c.StartStatus()
	return c, nil
}

func shutdown(c *container.Container) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Close(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "shutdown:", err)
	}
}

func newRunCmd() *cobra.Command {
	var asJSON, stay bool

	cmd := &cobra.Command{
		Use:   "run [plan.yaml]",
		Short: "Execute a workflow plan",
		Long: `Execute a YAML workflow plan: optional upload and login, discovery,
optional training, then a batch of counterfactual, simulation and
optimization analyses.

Example: rcie run plans/weekly.yaml --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := plan.LoadFile(args[0])
			if err != nil {
				return err
			}
			if p.Name == "" {
				p.Name = filepath.Base(args[0])
			}

			c, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer shutdown(c)

			report, runErr := plan.NewRunner(c.Controller, c.Logger).Run(cmd.Context(), p)
			if asJSON {
				if err := printJSON(report); err != nil {
					return err
				}
			} else {
				printReport(report)
			}

			if stay && c.Status != nil {
				fmt.Fprintf(os.Stderr, "status API on %s, press Ctrl+C to exit\n", c.Config.Status.Addr)
				<-cmd.Context().Done()
			}
			if runErr != nil {
				return runErr
			}
			if n := report.Failed(); n > 0 {
				return fmt.Errorf("%d step(s) failed", n)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	cmd.Flags().BoolVar(&stay, "stay", false, "Keep the status API running after the plan finishes")
	return cmd
}

func newDiscoverCmd() *cobra.Command {
	var method, dataset string
	var explain bool

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Discover a causal graph from a dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer shutdown(c)

			if dataset != "" {
				if err := c.Controller.UseDataset(core.DatasetRef(dataset)); err != nil {
					return err
				}
			}
			out, err := c.Controller.RunDiscovery(cmd.Context(), "", method)
			if err != nil {
				return err
			}

			t := newTable()
			t.SetTitle(fmt.Sprintf("%s graph v%d: %d nodes", out.Method, out.Version, len(out.Nodes)))
			t.AppendHeader(table.Row{"Cause", "Effect"})
			for _, e := range out.Edges {
				t.AppendRow(table.Row{e.Cause, e.Effect})
			}
			fmt.Println(t.Render())

			if explain {
				exp := c.Controller.RequestExplanation(cmd.Context(), nil)
				fmt.Println()
				fmt.Println(exp.Narrative)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&method, "method", workflow.DefaultDiscoveryMethod, "Discovery method (pc, notears, ges)")
	cmd.Flags().StringVar(&dataset, "dataset", "", "Dataset path on the gateway (default: RCIE_DEFAULT_DATASET)")
	cmd.Flags().BoolVar(&explain, "explain", false, "Also request a plain-language explanation")
	return cmd
}

func newUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload [file.csv|file.xlsx]",
		Short: "Upload a dataset to the gateway (workbooks are sent as CSV)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := excel.Open(args[0])
			if err != nil {
				return err
			}
			defer src.Close()

			c, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer shutdown(c)

			ref, err := c.Controller.UploadDataset(cmd.Context(), src.Name, src)
			if err != nil {
				return err
			}
			fmt.Printf("Uploaded: %s\n", ref)
			return nil
		},
	}
}

func newSignupCmd() *cobra.Command {
	var email, fullName string

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Register an account (password from RCIE_PASSWORD)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer shutdown(c)

			if err := c.Controller.Signup(cmd.Context(), email, os.Getenv("RCIE_PASSWORD"), fullName); err != nil {
				return err
			}
			fmt.Printf("Registered %s\n", email)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&fullName, "name", "", "Full name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List or clear saved analyses (password from RCIE_PASSWORD)",
	}
	cmd.PersistentFlags().StringVar(&email, "email", "", "Account email")
	_ = cmd.MarkPersistentFlagRequired("email")

	login := func(cmd *cobra.Command) (*container.Container, error) {
		c, err := bootstrap(cmd.Context())
		if err != nil {
			return nil, err
		}
		if _, err := c.Controller.Login(cmd.Context(), email, os.Getenv("RCIE_PASSWORD")); err != nil {
			shutdown(c)
			return nil, err
		}
		return c, nil
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the 20 most recent analyses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := login(cmd)
			if err != nil {
				return err
			}
			defer shutdown(c)
			if err := c.Controller.HistoryError(); err != nil {
				return err
			}

			t := newTable()
			t.AppendHeader(table.Row{"ID", "Type", "Timestamp", "Inputs"})
			for _, e := range c.Controller.History() {
				t.AppendRow(table.Row{e.ID, e.Type, e.Timestamp, summarize(e.Inputs)})
			}
			fmt.Println(t.Render())
			return nil
		},
	}

	var yes bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Irreversibly delete all saved analyses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := login(cmd)
			if err != nil {
				return err
			}
			defer shutdown(c)

			if err := c.Controller.ClearHistory(cmd.Context(), yes); err != nil {
				return fmt.Errorf("%w (pass --yes to confirm)", err)
			}
			fmt.Printf("Cleared history for %s\n", email)
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")

	cmd.AddCommand(list, clearCmd)
	return cmd
}

func printReport(r *plan.Report) {
	t := newTable()
	t.SetTitle(r.Plan)
	t.AppendHeader(table.Row{"Step", "Phase", "Status", "Detail", "Duration"})
	for _, s := range r.Steps {
		detail := s.Detail
		if s.Error != "" {
			detail = s.Error
		}
		t.AppendRow(table.Row{s.Step, s.Phase, s.Status, detail, s.Duration.Round(time.Millisecond)})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d failed", r.Failed()), "", ""})
	fmt.Println(t.Render())
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 4, WidthMax: 72}})
	return t
}

// summarize flattens a history snapshot to "key=value" pairs in key order.
func summarize(m map[string]interface{}) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += " "
		}
		b, _ := json.Marshal(m[k])
		out += k + "=" + string(b)
	}
	return out
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
