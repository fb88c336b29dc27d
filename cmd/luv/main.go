package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"luvia/internal/app"
	"luvia/internal/config"
	"luvia/internal/db"
	"luvia/internal/domain"
	"luvia/internal/engine"
	"luvia/internal/repo"
	"luvia/internal/server"
	"luvia/internal/sop"
)

var rootCmd = &cobra.Command{
	Use:   "luv",
	Short: "LUVIA CLI",
	Long: `LUVIA runs service jobs from booking to escrow release.
- Jobs: a booking moves PENDING -> EN_ROUTE -> ON_SITE -> WORK_IN_PROGRESS -> COMPLETED -> VERIFIED.
- SOP: the injected checklist; mandatory tasks need evidence (or a recorded reading) before review.
- Escrow: 70% of the total releases at booking, the remaining 30% on client verification.
- Points: the loyalty ledger; 100 points equal 1 naira at checkout and booking.
- Marketplace: eco supplies bought with money plus points.
- Event log: diary of changes, view with 'luv log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
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
	viper.SetEnvPrefix("LUV")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(sopCmd())
	rootCmd.AddCommand(pricingCmd())
	rootCmd.AddCommand(marketCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var orgName string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config %s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(orgName)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&orgName, "org", "LUVIA", "organization name")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace config"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	})
	return cfg
}

func jobCmd() *cobra.Command {
	job := &cobra.Command{
		Use:   "job",
		Short: "Manage jobs",
		Long:  "Jobs move through PENDING -> EN_ROUTE -> ON_SITE -> WORK_IN_PROGRESS -> COMPLETED -> VERIFIED. Injecting a checklist starts the work; verified mandatory evidence unlocks review; the client releases escrow.",
	}
	job.AddCommand(jobBookCmd())
	job.AddCommand(jobListCmd())
	job.AddCommand(jobShowCmd())
	job.AddCommand(jobProgressCmd())
	job.AddCommand(jobInjectCmd())
	job.AddCommand(jobStatusCmd())
	job.AddCommand(jobSubmitCmd())
	job.AddCommand(jobReleaseCmd())
	return job
}

func jobBookCmd() *cobra.Command {
	var opts engine.BookJobOptions
	var service string
	var moduleIDs, customTasks []string
	cmd := &cobra.Command{
		Use:   "book",
		Short: "Book a job",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			opts.Service = domain.ServiceType(service)
			opts.ModuleIDs = moduleIDs
			for _, text := range customTasks {
				opts.CustomTasks = append(opts.CustomTasks, sop.CustomTask{Text: text, Mandatory: true})
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				j, err := e.BookJob(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ClientID, "client", "", "client user id")
	cmd.Flags().StringVar(&service, "service", "cleaning", "service type (cleaning, technical)")
	cmd.Flags().StringVar(&opts.PropertySize, "size", "", "property size category")
	cmd.Flags().StringVar(&opts.Location, "location", "", "site location")
	cmd.Flags().StringVar(&opts.ServiceName, "name", "", "display name (defaults from config)")
	cmd.Flags().Int64Var(&opts.PointsToApply, "points", 0, "points to redeem")
	cmd.Flags().StringArrayVar(&moduleIDs, "module", []string{}, "SOP module id (repeatable)")
	cmd.Flags().StringArrayVar(&customTasks, "task", []string{}, "custom mandatory task (repeatable)")
	_ = cmd.MarkFlagRequired("client")
	_ = cmd.MarkFlagRequired("size")
	return cmd
}

func jobListCmd() *cobra.Command {
	var f repo.JobFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				jobs, err := r.ListJobs(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(jobs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Service", "Client", "Status", "Total", "Escrow"})
				for _, j := range jobs {
					tw.AppendRow(table.Row{j.ID, j.ServiceName, j.ClientName, j.Status, j.TotalAmount, j.EscrowAmount})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ClientID, "client", "", "client filter")
	cmd.Flags().StringVar(&f.ProviderID, "provider", "", "provider filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func jobShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a job with its checklist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				j, err := r.GetJob(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	return cmd
}

func jobProgressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "progress <id>",
		Short: "Show execution progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				p, err := e.Progress(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("Job %s (%s): %d%% complete\n", p.Job.ID, p.Job.Status, p.Percent)
				if p.MandatoryDone {
					fmt.Println("Mandatory evidence: satisfied")
				} else {
					fmt.Printf("Mandatory evidence: %d items remain\n", p.Missing)
					if p.NextMandatory != nil {
						fmt.Printf("Next: %s (%s)\n", p.NextMandatory.Task, p.NextMandatory.Category)
					}
				}
				return nil
			})
		},
	}
	return cmd
}

func jobInjectCmd() *cobra.Command {
	var moduleIDs, customTasks []string
	cmd := &cobra.Command{
		Use:   "sop <id>",
		Short: "Inject SOP modules into a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var custom []sop.CustomTask
			for _, text := range customTasks {
				custom = append(custom, sop.CustomTask{Text: text, Mandatory: true})
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				j, err := e.InjectSOP(ctx, args[0], moduleIDs, custom, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringArrayVar(&moduleIDs, "module", []string{}, "SOP module id (repeatable)")
	cmd.Flags().StringArrayVar(&customTasks, "task", []string{}, "custom mandatory task (repeatable)")
	return cmd
}

func jobStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Mark travel progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := domain.ParseJobStatus(status)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				j, err := e.SetTravelStatus(ctx, args[0], s, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&status, "to", "", "target status (EN_ROUTE, ON_SITE)")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func jobSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <id>",
		Short: "Submit a job for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				j, err := e.SubmitForReview(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	return cmd
}

func jobReleaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release <id>",
		Short: "Release escrow and verify the job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				j, err := e.ReleaseEscrow(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Work checklist tasks",
		Long:  "Providers mark checklist tasks on site: toggle a plain task, record a reading for scientific tasks, or capture photo evidence.",
	}
	task.AddCommand(taskToggleCmd())
	task.AddCommand(taskValueCmd())
	task.AddCommand(taskEvidenceCmd())
	return task
}

func taskToggleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "toggle <job-id> <task-id>",
		Short: "Toggle task completion",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				j, err := e.ToggleTask(ctx, args[0], args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	return cmd
}

func taskValueCmd() *cobra.Command {
	var value string
	cmd := &cobra.Command{
		Use:   "value <job-id> <task-id>",
		Short: "Record a scientific reading",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				j, err := e.RecordValue(ctx, args[0], args[1], value, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&value, "value", "", "reading value (empty clears)")
	return cmd
}

func taskEvidenceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evidence <job-id> <task-id>",
		Short: "Capture task evidence",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				j, err := e.AttachEvidence(ctx, args[0], args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	return cmd
}

func sopCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "sop", Short: "SOP catalog"}
	cmd.AddCommand(&cobra.Command{
		Use:   "modules",
		Short: "List catalog modules",
		RunE: func(cmd *cobra.Command, args []string) error {
			if viper.GetBool("json") {
				return printJSON(sop.Catalog)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Name", "Category", "Tasks"})
			for _, m := range sop.Catalog {
				tw.AppendRow(table.Row{m.ID, m.Name, m.Category, len(m.Tasks)})
			}
			tw.Render()
			return nil
		},
	})
	return cmd
}

func pricingCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "pricing", Short: "Pricing and demand factor"}
	cmd.AddCommand(pricingQuoteCmd())
	cmd.AddCommand(pricingFactorCmd())
	return cmd
}

func pricingQuoteCmd() *cobra.Command {
	var service, size, tier string
	var points int64
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Quote a booking",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				q, err := e.QuoteBooking(ctx, domain.ServiceType(service), size, domain.SubscriptionTier(tier), points)
				if err != nil {
					return err
				}
				return printJSONOrTable(q)
			})
		},
	}
	cmd.Flags().StringVar(&service, "service", "cleaning", "service type (cleaning, technical)")
	cmd.Flags().StringVar(&size, "size", "", "property size category")
	cmd.Flags().StringVar(&tier, "tier", "SEEDLING", "subscription tier")
	cmd.Flags().Int64Var(&points, "points", 0, "points to redeem")
	_ = cmd.MarkFlagRequired("size")
	return cmd
}

func pricingFactorCmd() *cobra.Command {
	var set float64
	cmd := &cobra.Command{
		Use:   "factor",
		Short: "Show or set the demand factor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if cmd.Flags().Changed("set") {
					if err := e.SetPricingFactor(ctx, set, viper.GetString("actor-id")); err != nil {
						return err
					}
				}
				factor, err := e.PricingFactor(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"factor": factor})
			})
		},
	}
	cmd.Flags().Float64Var(&set, "set", 0, "new factor (1.0 to 3.0)")
	return cmd
}

func marketCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "market", Short: "Marketplace"}
	cmd.AddCommand(marketProductsCmd())
	cmd.AddCommand(marketCheckoutCmd())
	return cmd
}

func marketProductsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "products",
		Short: "List products",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProducts(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Category", "Price", "Eco"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Category, p.Price, p.Eco})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func marketCheckoutCmd() *cobra.Command {
	var userID string
	var lines, refills []string
	var points int64
	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Settle a cart",
		Long:  "Each --item is product-id or product-id=quantity. Lines named by --refill subscribe for recurring delivery at 10% off. Points redeem at 100 per naira.",
		RunE: func(cmd *cobra.Command, args []string) error {
			refill := make(map[string]bool, len(refills))
			for _, id := range refills {
				refill[id] = true
			}
			items := make([]engine.CheckoutItem, 0, len(lines))
			for _, line := range lines {
				id, qtyRaw, found := strings.Cut(line, "=")
				qty := 1
				if found {
					if _, err := fmt.Sscanf(qtyRaw, "%d", &qty); err != nil {
						return fmt.Errorf("malformed --item %q", line)
					}
				}
				items = append(items, engine.CheckoutItem{ProductID: id, Quantity: qty, AutoRefill: refill[id]})
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				res, err := e.Checkout(ctx, userID, items, points, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "buyer user id")
	cmd.Flags().StringArrayVar(&lines, "item", []string{}, "cart line (repeatable)")
	cmd.Flags().StringArrayVar(&refills, "refill", []string{}, "product id to auto-refill (repeatable)")
	cmd.Flags().Int64Var(&points, "points", 0, "points to redeem")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("item")
	return cmd
}

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Users and ledgers"}
	user.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				u, err := r.GetUser(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	})
	user.AddCommand(userTransactionsCmd())
	return user
}

func userTransactionsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "transactions <id>",
		Short: "List a user's ledger entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListTransactions(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Job", "Amount", "Points"})
				for _, t := range items {
					jobID := ""
					if t.JobID != nil {
						jobID = *t.JobID
					}
					tw.AppendRow(table.Row{t.ID, t.Kind, jobID, t.Amount, t.PointsDelta})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "n", 20, "number of entries")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: bookings, transitions, task mutations, releases.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "API keys"}
	cmd.AddCommand(apikeyCreateCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var actor, role, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			r := domain.Role(strings.ToUpper(role))
			switch r {
			case domain.RoleClient, domain.RoleHandyperson, domain.RoleCleaner, domain.RoleAdmin:
			default:
				return fmt.Errorf("unknown role %q", role)
			}
			raw := make([]byte, 24)
			if _, err := rand.Read(raw); err != nil {
				return err
			}
			key := "luv_" + hex.EncodeToString(raw)
			return withRepo(cmd.Context(), func(ctx context.Context, rp repo.Repo) error {
				tx, err := rp.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				apiKey := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   actor,
					Role:      r,
					Name:      name,
					KeyHash:   repo.HashAPIKey(key),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := rp.InsertAPIKey(ctx, tx, apiKey); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				fmt.Printf("API key for %s (%s): %s\n", actor, r, key)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id the key authenticates")
	cmd.Flags().StringVar(&role, "role", "", "role (CLIENT, HANDYPERSON, CLEANER, ADMIN)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, cfg, err := app.Resolve(cmd.Context(), workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              cfg.Auth.JWTSecret,
				AllowLegacyActorHeader: cfg.Auth.AllowLegacyActorHeader,
			}
			if secret := os.Getenv("LUV_JWT_SECRET"); secret != "" {
				authCfg.JWTSecret = secret
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowLegacyActorHeader {
				return fmt.Errorf("LUV_JWT_SECRET is required when the legacy actor header is disabled")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving LUVIA API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, cfg, err := app.Resolve(ctx, workspace)
	if err != nil {
		return err
	}
	defer conn.Close()
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, _, err := app.Resolve(ctx, workspace)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
