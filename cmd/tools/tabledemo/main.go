// Command tabledemo drives the headless user table against a running server
// or an in-process schema and reports how many renders each edit caused.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/user-table/backend/internal/client"
	"github.com/zhouzirui/user-table/backend/internal/demo"
	"github.com/zhouzirui/user-table/backend/internal/gql"
	"github.com/zhouzirui/user-table/backend/internal/logging"
	"github.com/zhouzirui/user-table/backend/internal/model/user"
	usersvc "github.com/zhouzirui/user-table/backend/internal/service/user"
)

type rootOptions struct {
	addr      string
	users     int
	seed      int64
	latency   time.Duration
	logLevel  string
	logFormat string

	logger *zap.Logger
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "tabledemo",
		Short:        "Drive the user table and count renders",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			logger, err := logging.New(opts.logLevel, opts.logFormat)
			if err != nil {
				return err
			}
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.addr, "addr", "", "GraphQL endpoint, e.g. http://localhost:8080/graphql (empty runs in-process)")
	flags.IntVar(&opts.users, "users", 12, "in-process user count")
	flags.Int64Var(&opts.seed, "seed", user.DefaultSeed, "in-process seed")
	flags.DurationVar(&opts.latency, "latency", 0, "simulated network latency for in-process runs")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level")
	flags.StringVar(&opts.logFormat, "log-format", "console", "log format: console or json")

	root.AddCommand(newRunCmd(opts), newCompareCmd(opts), newWatchCmd(opts))
	return root
}

// newClient connects to --addr, or builds a fresh in-process store and
// schema when it is empty.
func (o *rootOptions) newClient() (*client.Client, error) {
	var transport client.Transport
	if o.addr != "" {
		transport = client.NewHTTPTransport(o.addr)
	} else {
		store := user.NewMemoryStore(user.Seed(o.seed, o.users))
		svc := usersvc.NewService(store, usersvc.Config{EventBuffer: 16}, o.logger, nil)
		schema, err := gql.NewSchema(gql.NewResolver(svc), gql.Options{MaxDepth: 12}, o.logger)
		if err != nil {
			return nil, err
		}
		transport = &client.LocalTransport{Schema: schema, Latency: o.latency}
	}
	return client.New(client.Options{Transport: transport, Logger: o.logger})
}

type editOptions struct {
	id       string
	field    string
	text     string
	debounce time.Duration
	add      string
}

func (e *editOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&e.id, "user", "", "user id to edit (default: first row)")
	cmd.Flags().StringVar(&e.field, "field", demo.FieldZodiac, "field to type into: name or zodiac")
	cmd.Flags().StringVar(&e.text, "text", "Virgo", "text typed one rune at a time")
	cmd.Flags().DurationVar(&e.debounce, "debounce", 0, "debounce per row field (0 sends every keystroke)")
	cmd.Flags().StringVar(&e.add, "add", "", `also add a user, given as "name:zodiac"`)
}

// session mounts one table, types, optionally adds a user and returns the
// render counts caused by those actions.
func (o *rootOptions) session(ctx context.Context, mode demo.Mode, e editOptions) (demo.Stats, []demo.Row, error) {
	c, err := o.newClient()
	if err != nil {
		return demo.Stats{}, nil, err
	}
	defer c.Close()

	table, err := demo.NewTable(c, demo.Config{Mode: mode, Debounce: e.debounce, Logger: o.logger})
	if err != nil {
		return demo.Stats{}, nil, err
	}
	defer table.Unmount()
	if err := table.Mount(ctx); err != nil {
		return demo.Stats{}, nil, err
	}
	rows := table.Rows()
	if len(rows) == 0 {
		return demo.Stats{}, nil, errors.New("the user list is empty")
	}
	id := e.id
	if id == "" {
		id = rows[0].ID
	}

	table.ResetStats()
	start := time.Now()
	if err := table.Type(ctx, id, e.field, e.text); err != nil {
		return demo.Stats{}, nil, err
	}
	if err := table.Flush(); err != nil {
		return demo.Stats{}, nil, err
	}
	if e.add != "" {
		name, zodiac, _ := strings.Cut(e.add, ":")
		if _, err := table.AddUser(ctx, name, zodiac); err != nil {
			return demo.Stats{}, nil, err
		}
	}
	o.logger.Info("session finished",
		zap.String("mode", string(mode)),
		zap.String("user_id", id),
		zap.Duration("elapsed", time.Since(start)))
	return table.Stats(), table.Rows(), nil
}

func newRunCmd(o *rootOptions) *cobra.Command {
	var (
		mode string
		edit editOptions
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Type into one row in a single mode and print per-row renders",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := demo.ParseMode(mode)
			if err != nil {
				return err
			}
			stats, rows, err := o.session(cmd.Context(), m, edit)
			if err != nil {
				return err
			}
			return printRows(cmd.OutOrStdout(), stats, rows)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(demo.ModeSlow), "rendering mode: slow, memo or nonreactive")
	edit.register(cmd)
	return cmd
}

func newCompareCmd(o *rootOptions) *cobra.Command {
	var edit editOptions
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Run the same edit in every mode and compare render counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Every session has its own client and cache, so modes run side by side.
			results := make([]demo.Stats, len(demo.Modes))
			g, ctx := errgroup.WithContext(cmd.Context())
			for i, mode := range demo.Modes {
				g.Go(func() error {
					stats, _, err := o.session(ctx, mode, edit)
					if err != nil {
						return fmt.Errorf("%s: %w", mode, err)
					}
					results[i] = stats
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MODE\tLIST RENDERS\tROW RENDERS\tROWS TOUCHED")
			for i, mode := range demo.Modes {
				stats := results[i]
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", mode, stats.ListRenders, stats.TotalRowRenders(), len(stats.RowRenders))
			}
			return w.Flush()
		},
	}
	edit.register(cmd)
	return cmd
}

func newWatchCmd(o *rootOptions) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream userChanged events from a server over websocket",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if o.addr == "" {
				return errors.New("watch needs --addr")
			}
			ws := client.NewWSTransport(o.addr, client.DefaultWSOptions(), o.logger)
			defer ws.Close()
			c, err := client.New(client.Options{
				Transport:  client.NewHTTPTransport(o.addr),
				Subscriber: ws,
				Logger:     o.logger,
			})
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			out := cmd.OutOrStdout()
			seen := 0
			done, err := c.Subscribe(ctx, `subscription UserChanged { userChanged { kind user { id name zodiac } } }`, nil,
				func(data map[string]any, err error) {
					if err != nil {
						fmt.Fprintf(out, "error: %v\n", err)
						return
					}
					evt, _ := data["userChanged"].(map[string]any)
					u, _ := evt["user"].(map[string]any)
					fmt.Fprintf(out, "%v\t%v\t%v\t%v\n", evt["kind"], u["id"], u["name"], u["zodiac"])
					seen++
					if count > 0 && seen >= count {
						cancel()
					}
				})
			if err != nil {
				return err
			}
			<-done
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "stop after this many events (0 streams until interrupted)")
	return cmd
}

func printRows(w io.Writer, stats demo.Stats, rows []demo.Row) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "list renders: %d\n", stats.ListRenders)
	fmt.Fprintln(tw, "ID\tNAME\tZODIAC\tRENDERS")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", r.ID, r.Name, r.Zodiac, stats.RowRenders[r.ID])
	}
	return tw.Flush()
}
