package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pingsantohq/smokestack/internal/apiclient"
	"github.com/pingsantohq/smokestack/internal/catalog"
	"github.com/pingsantohq/smokestack/internal/importer"
	"github.com/pingsantohq/smokestack/internal/resolver"
	"github.com/pingsantohq/smokestack/internal/verify"
)

const usage = `catalogctl manages the smokestack target catalog through catalogd.

Usage:
  catalogctl [--base-url URL] [--token TOKEN] <command> [flags]

Commands:
  status
  list [--active] [--category name]
  get --id N
  create --name N --host H --category C [--title T] [--probe P] [--lookup L] [--inactive]
  update --id N [--title T] [--host H] [--category C] [--probe P] [--lookup L] [--active true|false]
  toggle --id N
  delete --id N
  import --file path [--skip-existing] [--pubkey key]
  categories | probes | sources
  migrate [--direction FILE_TO_DATABASE]
  render | restart | apply
`

func run(ctx context.Context, args []string, stdout io.Writer) error {
	global := flag.NewFlagSet("catalogctl", flag.ContinueOnError)
	baseURL := global.String("base-url", envDefault("CATALOG_BASE_URL", "http://localhost:8080"), "catalogd base URL")
	token := global.String("token", os.Getenv("ADMIN_BEARER_TOKEN"), "Admin bearer token")
	timeout := global.Duration("timeout", 2*time.Minute, "Request timeout")
	global.Usage = func() { fmt.Fprint(global.Output(), usage) }
	if err := global.Parse(args); err != nil {
		return err
	}
	rest := global.Args()
	if len(rest) == 0 {
		global.Usage()
		return errors.New("command required")
	}

	client, err := apiclient.NewClient(apiclient.Config{BaseURL: *baseURL, Token: *token},
		apiclient.Dependencies{HTTPClient: &http.Client{Timeout: *timeout}})
	if err != nil {
		return err
	}
	c := cli{client: client, out: stdout}

	name, cmdArgs := rest[0], rest[1:]
	switch name {
	case "status":
		return c.print(client.Status(ctx))
	case "list":
		return c.list(ctx, cmdArgs)
	case "get":
		id, err := parseID(name, cmdArgs)
		if err != nil {
			return err
		}
		return c.print(client.GetTarget(ctx, id))
	case "create":
		return c.create(ctx, cmdArgs)
	case "update":
		return c.update(ctx, cmdArgs)
	case "toggle":
		id, err := parseID(name, cmdArgs)
		if err != nil {
			return err
		}
		return c.print(client.ToggleActive(ctx, id))
	case "delete":
		id, err := parseID(name, cmdArgs)
		if err != nil {
			return err
		}
		if err := client.DeleteTarget(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "deleted target %d\n", id)
		return nil
	case "import":
		return c.importFile(ctx, cmdArgs)
	case "categories":
		return c.print(client.ListCategories(ctx))
	case "probes":
		return c.print(client.ListProbes(ctx))
	case "sources":
		return c.print(client.ListSources(ctx))
	case "migrate":
		fs := flag.NewFlagSet(name, flag.ContinueOnError)
		direction := fs.String("direction", string(resolver.FileToDatabase), "Migration direction")
		if err := fs.Parse(cmdArgs); err != nil {
			return err
		}
		dir, err := resolver.ParseDirection(*direction)
		if err != nil {
			return err
		}
		return c.print(client.Migrate(ctx, dir))
	case "render":
		return c.print(client.Render(ctx))
	case "restart":
		if err := client.Restart(ctx); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "probing engine restarted")
		return nil
	case "apply":
		return c.print(client.Apply(ctx))
	default:
		global.Usage()
		return fmt.Errorf("unknown command: %s", name)
	}
}

type cli struct {
	client *apiclient.Client
	out    io.Writer
}

func (c cli) print(v any, err error) error {
	if err != nil {
		return err
	}
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c cli) list(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	active := fs.Bool("active", false, "Only active targets")
	category := fs.String("category", "", "Only targets in this category")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return c.print(c.client.ListTargets(ctx, catalog.Filter{ActiveOnly: *active, Category: *category}))
}

func (c cli) create(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	var spec catalog.TargetSpec
	fs.StringVar(&spec.Name, "name", "", "Target name")
	fs.StringVar(&spec.Host, "host", "", "Hostname or address")
	fs.StringVar(&spec.Category, "category", "custom", "Category name")
	fs.StringVar(&spec.Title, "title", "", "Display title (default name)")
	fs.StringVar(&spec.Probe, "probe", "", "Probe kind (default probe when empty)")
	fs.StringVar(&spec.Lookup, "lookup", "", "Name to resolve for DNS probes")
	inactive := fs.Bool("inactive", false, "Create the target inactive")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *inactive {
		active := false
		spec.Active = &active
	}
	return c.print(c.client.CreateTarget(ctx, spec))
}

func (c cli) update(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	id := fs.Int64("id", 0, "Target id")
	title := fs.String("title", "", "New title")
	host := fs.String("host", "", "New host")
	category := fs.String("category", "", "New category")
	probe := fs.String("probe", "", "New probe kind")
	lookup := fs.String("lookup", "", "New lookup name")
	active := fs.String("active", "", "Set active state (true|false)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id <= 0 {
		return errors.New("update: --id is required")
	}

	var patch catalog.TargetPatch
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["title"] {
		patch.Title = title
	}
	if set["host"] {
		patch.Host = host
	}
	if set["category"] {
		patch.Category = category
	}
	if set["probe"] {
		patch.Probe = probe
	}
	if set["lookup"] {
		patch.Lookup = lookup
	}
	if set["active"] {
		v, err := parseBool(*active)
		if err != nil {
			return err
		}
		patch.Active = &v
	}
	if patch.Empty() {
		return errors.New("update: nothing to change")
	}
	return c.print(c.client.UpdateTarget(ctx, *id, patch))
}

func (c cli) importFile(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	path := fs.String("file", "", "Discovery file (YAML or JSON)")
	skip := fs.Bool("skip-existing", false, "Skip names that already exist instead of failing them")
	pubkey := fs.String("pubkey", os.Getenv("REFRESH_PUBKEY"), "Minisign public key or key file; verifies <file>.minisig")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var v importer.Verifier
	if strings.TrimSpace(*pubkey) != "" {
		mv, err := verify.LoadPublicKey(*pubkey)
		if err != nil {
			return err
		}
		v = mv
	}
	specs, err := importer.Load(ctx, *path, v)
	if err != nil {
		return err
	}
	return c.print(c.client.Import(ctx, specs, *skip))
}

func parseID(name string, args []string) (int64, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	id := fs.Int64("id", 0, "Target id")
	if err := fs.Parse(args); err != nil {
		return 0, err
	}
	if *id <= 0 {
		return 0, fmt.Errorf("%s: --id is required", name)
	}
	return *id, nil
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value: %s", value)
	}
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
