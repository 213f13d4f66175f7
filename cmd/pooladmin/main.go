package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"moltyagent.ai/internal/bootstrap"
	"moltyagent.ai/internal/config"
	"moltyagent.ai/internal/events"
	"moltyagent.ai/internal/gameapi"
	"moltyagent.ai/internal/identity"
	"moltyagent.ai/internal/persistence/eventlog"
)

const usage = `usage: pooladmin <command> [flags]

commands:
  list      print the identities in the pool
  create    create one account (--name) and add it to the pool
  bulk      create --count accounts with generated names
  me        show balance, games and wins for an account
  history   show recent transactions for an account
  events    print recorded agent events (--data, --kind)
  restore   load a pool export from the backup bucket into the pool (--key)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "list":
		err = listCmd(os.Args[2:], os.Stdout)
	case "create":
		err = createCmd(os.Args[2:], os.Stdout)
	case "bulk":
		err = bulkCmd(os.Args[2:], os.Stdout)
	case "me":
		err = meCmd(os.Args[2:], os.Stdout)
	case "history":
		err = historyCmd(os.Args[2:], os.Stdout)
	case "events":
		err = eventsCmd(os.Args[2:], os.Stdout)
	case "restore":
		err = restoreCmd(os.Args[2:], os.Stdout)
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// poolFlags are shared by every command that touches the pool.
type poolFlags struct {
	configPath string
	poolPath   string
	poolDriver string
}

func (p *poolFlags) add(fs *pflag.FlagSet) {
	fs.StringVarP(&p.configPath, "config", "c", "", "path to agent.yaml")
	fs.StringVar(&p.poolPath, "pool", "", "identity pool path (overrides pool.path)")
	fs.StringVar(&p.poolDriver, "pool-driver", "", "file or sqlite (overrides pool.driver)")
}

func (p *poolFlags) load() (config.Config, error) {
	cfg, err := config.Load(p.configPath)
	if err != nil {
		return cfg, err
	}
	cfg.ApplyEnv(os.LookupEnv)
	if p.poolPath != "" {
		cfg.Pool.Path = p.poolPath
	}
	if p.poolDriver != "" {
		cfg.Pool.Driver = p.poolDriver
	}
	cfg.Normalize()
	return cfg, cfg.Validate()
}

// env is what the pool commands operate on.
type env struct {
	pool  *identity.Pool
	prov  *identity.APIProvisioner
	close func()
}

func openEnv(p *poolFlags, logger *log.Logger) (*env, error) {
	cfg, err := p.load()
	if err != nil {
		return nil, err
	}
	client, err := gameapi.New(cfg.APIConfig())
	if err != nil {
		return nil, err
	}
	store, err := bootstrap.OpenStore(cfg.Pool)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	notifier, closeNotifier := bootstrap.Notifier(cfg, logger)

	seed := time.Now().UnixNano()
	prov := identity.NewAPIProvisioner(client, identity.NewNameGenerator(cfg.Pool.NamePrefixes, rand.New(rand.NewSource(seed))), rand.New(rand.NewSource(seed+1)))
	ev := events.NewEmitter("pooladmin", nil, events.LineSink(func(line string) { logger.Println(line) }))
	pool := identity.NewPool(identity.PoolConfig{
		Store:       store,
		Provisioner: prov,
		Notifier:    notifier,
		Events:      ev,
		ExportName:  cfg.Pool.ExportName,
	})
	return &env{
		pool: pool,
		prov: prov,
		close: func() {
			closeNotifier()
			_ = store.Close()
		},
	}, nil
}

func newLogger() *log.Logger {
	return log.New(os.Stderr, "[pooladmin] ", log.LstdFlags)
}

func listCmd(args []string, out io.Writer) error {
	var pf poolFlags
	fs := pflag.NewFlagSet("list", pflag.ContinueOnError)
	pf.add(fs)
	showKeys := fs.Bool("keys", false, "print full api keys")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := pf.load()
	if err != nil {
		return err
	}
	store, err := bootstrap.OpenStore(cfg.Pool)
	if err != nil {
		return err
	}
	defer store.Close()

	ids, err := store.Load(context.Background())
	if err != nil {
		return err
	}
	return writeIdentities(out, ids, *showKeys)
}

func writeIdentities(out io.Writer, ids []identity.Identity, showKeys bool) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tNAME\tAPI KEY\tADDRESS\tCREATED")
	for _, id := range ids {
		key := id.APIKey
		if !showKeys {
			key = maskKey(key)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", id.AccountID, id.Name, key, dash(id.Address), dash(id.CreatedAt))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "%d identities\n", len(ids))
	return err
}

func maskKey(k string) string {
	if len(k) <= 8 {
		return strings.Repeat("*", len(k))
	}
	return k[:4] + strings.Repeat("*", len(k)-8) + k[len(k)-4:]
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func createCmd(args []string, out io.Writer) error {
	var pf poolFlags
	fs := pflag.NewFlagSet("create", pflag.ContinueOnError)
	pf.add(fs)
	name := fs.String("name", "", "display name for the new account (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*name) == "" {
		return errors.New("missing --name")
	}

	e, err := openEnv(&pf, newLogger())
	if err != nil {
		return err
	}
	defer e.close()

	ctx := context.Background()
	id, err := e.prov.ProvisionNamed(ctx, strings.TrimSpace(*name))
	if err != nil {
		return err
	}
	stored, err := e.pool.Admit(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "created %s (%s)\n", stored.Name, stored.AccountID)
	return nil
}

func bulkCmd(args []string, out io.Writer) error {
	var pf poolFlags
	fs := pflag.NewFlagSet("bulk", pflag.ContinueOnError)
	pf.add(fs)
	count := fs.Int("count", 1, "number of accounts to create")
	interval := fs.Duration("interval", 2*time.Second, "pause between creations")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *count <= 0 {
		return errors.New("--count must be positive")
	}

	e, err := openEnv(&pf, newLogger())
	if err != nil {
		return err
	}
	defer e.close()

	ctx, cancel := signalContext()
	defer cancel()
	created, failed := 0, 0
	for i := 0; i < *count; i++ {
		if i > 0 && !sleepCtx(ctx, *interval) {
			break
		}
		id, err := e.pool.ProvisionNew(ctx)
		if err != nil {
			failed++
			fmt.Fprintf(out, "[%d/%d] failed: %v\n", i+1, *count, err)
			continue
		}
		created++
		fmt.Fprintf(out, "[%d/%d] created %s (%s)\n", i+1, *count, id.Name, id.AccountID)
	}
	fmt.Fprintf(out, "bulk done: created=%d failed=%d\n", created, failed)
	if created == 0 {
		return errors.New("no accounts created")
	}
	return nil
}

// accountFlags select the account for me/history: an explicit key, or a
// pool entry by account id or name.
type accountFlags struct {
	poolFlags
	apiKey  string
	account string
}

func (a *accountFlags) add(fs *pflag.FlagSet) {
	a.poolFlags.add(fs)
	fs.StringVar(&a.apiKey, "api-key", "", "api key (or set MOLTY_API_KEY)")
	fs.StringVar(&a.account, "account", "", "pool account id or name")
}

func (a *accountFlags) client(ctx context.Context) (*gameapi.Client, error) {
	cfg, err := a.load()
	if err != nil {
		return nil, err
	}
	client, err := gameapi.New(cfg.APIConfig())
	if err != nil {
		return nil, err
	}
	key := strings.TrimSpace(a.apiKey)
	if key == "" && a.account == "" {
		key = strings.TrimSpace(os.Getenv("MOLTY_API_KEY"))
	}
	if key != "" {
		return client.With(gameapi.Credentials{APIKey: key}), nil
	}
	if a.account == "" {
		return nil, errors.New("need --api-key or --account")
	}

	store, err := bootstrap.OpenStore(cfg.Pool)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	ids, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	id, ok := findAccount(ids, a.account)
	if !ok {
		return nil, fmt.Errorf("account %q not in pool", a.account)
	}
	return client.With(id.Credentials()), nil
}

func findAccount(ids []identity.Identity, ref string) (identity.Identity, bool) {
	for _, id := range ids {
		if id.AccountID == ref {
			return id, true
		}
	}
	for _, id := range ids {
		if strings.EqualFold(id.Name, ref) {
			return id, true
		}
	}
	return identity.Identity{}, false
}

func meCmd(args []string, out io.Writer) error {
	var af accountFlags
	fs := pflag.NewFlagSet("me", pflag.ContinueOnError)
	af.add(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx := context.Background()
	c, err := af.client(ctx)
	if err != nil {
		return err
	}
	p, err := c.Me(ctx)
	if err != nil {
		return err
	}
	winRate := 0.0
	if p.TotalGames > 0 {
		winRate = 100 * float64(p.TotalWins) / float64(p.TotalGames)
	}
	fmt.Fprintf(out, "Name:    %s\nBalance: %d Moltz\nGames:   %d\nWins:    %d (%.1f%%)\n", p.Name, p.Balance, p.TotalGames, p.TotalWins, winRate)
	if p.VerificationCode != "" {
		fmt.Fprintf(out, "Verification code: %s\n", p.VerificationCode)
	}
	return nil
}

func historyCmd(args []string, out io.Writer) error {
	var af accountFlags
	fs := pflag.NewFlagSet("history", pflag.ContinueOnError)
	af.add(fs)
	limit := fs.Int("limit", 10, "number of transactions")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx := context.Background()
	c, err := af.client(ctx)
	if err != nil {
		return err
	}
	txs, err := c.History(ctx, *limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tAMOUNT\tREASON")
	for _, tx := range txs {
		fmt.Fprintf(tw, "%s\t%s\t%+d\t%s\n", tx.ID, tx.Type, tx.Amount, dash(tx.Reason))
	}
	return tw.Flush()
}

func eventsCmd(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("events", pflag.ContinueOnError)
	dataDir := fs.String("data", "./data", "event log directory used by the agent")
	kinds := fs.StringSlice("kind", nil, "only these kinds (repeatable or comma separated)")
	account := fs.String("account", "", "only events for this display name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	want := map[events.Kind]bool{}
	for _, k := range *kinds {
		want[events.Kind(strings.ToLower(strings.TrimSpace(k)))] = true
	}
	evs, err := eventlog.Read(*dataDir, func(e events.Event) bool {
		if len(want) > 0 && !want[e.Kind] {
			return false
		}
		return *account == "" || e.Account == *account
	})
	if err != nil {
		return err
	}
	for _, e := range evs {
		fmt.Fprintf(out, "%s %s %s\n", e.Time.UTC().Format(time.RFC3339), dash(e.Account), e.Line())
	}
	return nil
}

func restoreCmd(args []string, out io.Writer) error {
	var pf poolFlags
	fs := pflag.NewFlagSet("restore", pflag.ContinueOnError)
	pf.add(fs)
	key := fs.String("key", "", "object key of the export (defaults to the latest one)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := pf.load()
	if err != nil {
		return err
	}
	if !cfg.Backup.Enabled() {
		return errors.New("backup not configured: set backup.endpoint, backup.bucket, MOLTY_R2_ACCESS_KEY_ID and MOLTY_R2_SECRET_ACCESS_KEY")
	}
	mirror, err := bootstrap.Mirror(cfg.Backup)
	if err != nil {
		return err
	}
	store, err := bootstrap.OpenStore(cfg.Pool)
	if err != nil {
		return err
	}
	defer store.Close()
	return restorePool(context.Background(), mirror, *key, store, out)
}

type exportFetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// restorePool upserts every identity of a stored export. Restored entries
// do not trigger admit notices.
func restorePool(ctx context.Context, src exportFetcher, key string, store identity.Store, out io.Writer) error {
	raw, err := src.Fetch(ctx, key)
	if err != nil {
		return err
	}
	var ids []identity.Identity
	if err := json.Unmarshal(raw, &ids); err != nil {
		return fmt.Errorf("decode export: %w", err)
	}
	restored := 0
	for _, id := range ids {
		if _, err := store.Upsert(ctx, id); err != nil {
			fmt.Fprintf(out, "skip %s: %v\n", dash(id.AccountID), err)
			continue
		}
		restored++
	}
	fmt.Fprintf(out, "restored %d of %d identities\n", restored, len(ids))
	return nil
}
