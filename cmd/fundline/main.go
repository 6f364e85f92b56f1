package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fundline/internal/app"
	"fundline/internal/checkout"
	"fundline/internal/config"
	"fundline/internal/domain"
	"fundline/internal/ledger"
	"fundline/internal/metrics"
	"fundline/internal/repo"
	"fundline/internal/server"
	"fundline/internal/settlement"
)

var rootCmd = &cobra.Command{
	Use:   "fundline",
	Short: "Fundline CLI",
	Long: `Fundline reconciles crowdfunding intents against payment provider settlements.
- Workspace: the directory holding fundline.yml and the .fundline database.
- Projects: the static funding catalog defined in fundline.yml.
- Intents: individual funding attempts; pending until a verified settlement
  event confirms, fails, or reverses them.
- Settlements: signed provider webhooks, applied exactly once per event id.
- Totals: per-project confirmed sums, recomputed from the intent table.
- Event log: diary of changes, view with 'fundline log tail'.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	// .env is optional; real secrets usually arrive through it in dev.
	_ = godotenv.Load()
	viper.SetEnvPrefix("FUNDLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(intentCmd())
	rootCmd.AddCommand(totalsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func withApp(fn func(a *app.App) error) error {
	a, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// --- project ---

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Inspect the project catalog"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				items, err := a.Repo.ListProjects()
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Goal", "Currency"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, formatAmount(p.FundingGoal), p.Currency})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show one project with its totals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				p, err := a.Repo.GetProject(args[0])
				if err != nil {
					return err
				}
				t, err := a.Ledger.ProjectTotals(args[0])
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"project": p, "totals": t})
			})
		},
	}
}

// --- intent ---

func intentCmd() *cobra.Command {
	in := &cobra.Command{Use: "intent", Short: "Manage funding intents"}
	in.AddCommand(intentCreateCmd())
	in.AddCommand(intentListCmd())
	in.AddCommand(intentGetCmd())
	in.AddCommand(intentAttachCmd())
	in.AddCommand(intentAuditCmd())
	return in
}

func intentCreateCmd() *cobra.Command {
	var projectID, provider, name, email, message string
	var amount int64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a pending funding intent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				in, err := a.Ledger.CreateIntent(ledger.CreateIntentParams{
					ProjectID:      projectID,
					Amount:         amount,
					Provider:       domain.Provider(provider),
					SupporterName:  name,
					SupporterEmail: email,
					Message:        message,
				})
				if err != nil {
					return err
				}
				return printJSON(in)
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().Int64Var(&amount, "amount", 0, "amount in minor units (cents)")
	cmd.Flags().StringVar(&provider, "provider", "", "payment provider (stripe|paypal)")
	cmd.Flags().StringVar(&name, "name", "", "supporter name")
	cmd.Flags().StringVar(&email, "email", "", "supporter email")
	cmd.Flags().StringVar(&message, "message", "", "supporter message")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("provider")
	return cmd
}

func intentListCmd() *cobra.Command {
	var f repo.IntentFilter
	var state, provider string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List funding intents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				f.State = domain.IntentState(state)
				f.Provider = domain.Provider(provider)
				items, err := a.Repo.ListIntents(f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Project", "Amount", "Provider", "State", "Reference"})
				for _, in := range items {
					ref := ""
					if in.ProviderReference != nil {
						ref = *in.ProviderReference
					}
					tw.AppendRow(table.Row{in.ID, in.ProjectID, formatAmount(in.Amount), in.Provider, in.State, ref})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project filter")
	cmd.Flags().StringVar(&state, "state", "", "state filter")
	cmd.Flags().StringVar(&provider, "provider", "", "provider filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func intentGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <intent-id>",
		Short: "Show one funding intent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				in, err := a.Repo.GetIntent(args[0])
				if err != nil {
					return err
				}
				return printJSON(in)
			})
		},
	}
}

func intentAttachCmd() *cobra.Command {
	var ref string
	cmd := &cobra.Command{
		Use:   "attach <intent-id>",
		Short: "Attach a provider checkout reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				in, err := a.Ledger.AttachProviderReference(args[0], ref)
				if err != nil {
					return err
				}
				return printJSON(in)
			})
		},
	}
	cmd.Flags().StringVar(&ref, "reference", "", "provider reference (checkout session / payment id)")
	_ = cmd.MarkFlagRequired("reference")
	return cmd
}

func intentAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit <intent-id>",
		Short: "Show the intent's transition audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				entries, err := a.Repo.ListAudit(args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Event", "From", "To", "At"})
				for _, e := range entries {
					tw.AppendRow(table.Row{e.EventID, e.FromState, e.ToState, e.TS})
				}
				tw.Render()
				return nil
			})
		},
	}
}

// --- totals ---

func totalsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "totals",
		Short: "Show confirmed funding per project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				totals, err := a.Ledger.AllProjectTotals()
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(totals)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Project", "Confirmed", "Goal", "Percent"})
				for _, t := range totals {
					tw.AppendRow(table.Row{
						t.ProjectID,
						formatAmount(t.ConfirmedAmount),
						formatAmount(t.FundingGoal),
						fmt.Sprintf("%.1f%%", t.PercentOfGoal),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
}

// --- log ---

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Inspect the activity log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var projectID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				events, err := a.Repo.LatestEvents(projectID, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Project", "Entity", "Payload"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.TS, e.Type, e.ProjectID, e.EntityID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&n, "lines", "n", 20, "number of events")
	cmd.Flags().StringVar(&projectID, "project", "", "project filter")
	return cmd
}

// --- config ---

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default fundline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config (secrets redacted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			redacted := *cfg
			redacted.Providers.Stripe.APIKey = redact(cfg.Providers.Stripe.APIKey)
			redacted.Providers.Stripe.WebhookSecret = redact(cfg.Providers.Stripe.WebhookSecret)
			redacted.Providers.PayPal.ClientSecret = redact(cfg.Providers.PayPal.ClientSecret)
			redacted.Providers.PayPal.WebhookSecret = redact(cfg.Providers.PayPal.WebhookSecret)
			return printJSON(redacted)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate fundline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Open(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer a.Close()

			m := metrics.New()
			dispatcher := settlement.NewDispatcher(a.Ledger, m,
				settlement.NewStripeVerifier(a.Config.Providers.Stripe.WebhookSecret),
				settlement.NewPayPalVerifier(a.Config.Providers.PayPal.WebhookSecret),
			)
			registry := checkout.NewRegistry(
				checkout.NewStripeClient(a.Config),
				checkout.NewPayPalClient(a.Config),
			)
			handler, err := server.New(server.Config{
				Ledger:     a.Ledger,
				Dispatcher: dispatcher,
				Checkout:   registry,
				Metrics:    m,
				BasePath:   basePath,
				Auth:       server.AuthConfig{JWTSecret: os.Getenv("FUNDLINE_JWT_SECRET")},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Fundline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatAmount(minor int64) string {
	return fmt.Sprintf("%d.%02d", minor/100, minor%100)
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}
