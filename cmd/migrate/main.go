// migrate applies the embedded schema migrations and seeds, and can
// bootstrap the first administrator account.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"fleetdesk.org/internal/auth"
	"fleetdesk.org/internal/config"
	"fleetdesk.org/internal/migrate"
	"fleetdesk.org/internal/store/pg"
)

const usage = `usage: migrate [flags] <command>

commands:
  up               apply pending migrations
  down             roll back the latest migration
  seed             apply pending seed files
  status           list applied migrations
  pending          list migrations not yet applied
  bootstrap-admin  create a user holding the protected role

flags:
`

type options struct {
	dsn       string
	timeout   time.Duration
	email     string
	password  string
	firstName string
	lastName  string
	role      string
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var opts options
	flags := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	flags.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (default: $FLEETDESK_PG_DSN)")
	flags.DurationVar(&opts.timeout, "timeout", time.Minute, "overall deadline")
	flags.StringVar(&opts.email, "email", "", "administrator email (bootstrap-admin)")
	flags.StringVar(&opts.password, "password", "", "administrator password (bootstrap-admin; default: $FLEETDESK_ADMIN_PASSWORD)")
	flags.StringVar(&opts.firstName, "first-name", "Administrator", "administrator first name")
	flags.StringVar(&opts.lastName, "last-name", "", "administrator last name")
	flags.StringVar(&opts.role, "role", auth.DefaultProtectedRole, "role code granted by bootstrap-admin")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flags.NArg() != 1 {
		flags.Usage()
		return errors.New("exactly one command is required")
	}
	if opts.dsn == "" {
		opts.dsn = config.DSN()
	}
	if opts.dsn == "" {
		return errors.New("missing DSN: provide via --dsn or FLEETDESK_PG_DSN")
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	store, err := pg.Open(opts.dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	migrations, seeds := migrate.Embedded()
	mgr := migrate.NewManager(store.DB(), migrations, seeds)

	switch cmd := flags.Arg(0); cmd {
	case "up":
		applied, err := mgr.Up(ctx)
		printNames("applied", applied)
		return err
	case "down":
		name, err := mgr.Down(ctx)
		if err != nil {
			return err
		}
		fmt.Println("rolled back", name)
		return nil
	case "seed":
		applied, err := mgr.Seed(ctx)
		printNames("seeded", applied)
		return err
	case "status":
		history, err := mgr.Status(ctx)
		printNames("applied", history)
		return err
	case "pending":
		pending, err := mgr.Pending(ctx)
		printNames("pending", pending)
		return err
	case "bootstrap-admin":
		return bootstrapAdmin(ctx, store, opts)
	default:
		flags.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func printNames(verb string, names []string) {
	if len(names) == 0 {
		fmt.Println("nothing", verb)
		return
	}
	for _, name := range names {
		fmt.Println(verb, name)
	}
}

func bootstrapAdmin(ctx context.Context, store *pg.Store, opts options) error {
	if opts.password == "" {
		opts.password = os.Getenv("FLEETDESK_ADMIN_PASSWORD")
	}
	if opts.email == "" || opts.password == "" {
		return errors.New("bootstrap-admin needs --email and --password")
	}
	users, err := auth.NewUserService(store, store, auth.WithUserProtectedRole(opts.role))
	if err != nil {
		return err
	}
	perms, err := auth.NewPermissionService(store, store, auth.WithProtectedRole(opts.role))
	if err != nil {
		return err
	}
	roles, err := perms.ListRoles(ctx)
	if err != nil {
		return err
	}
	var role auth.Role
	for _, r := range roles {
		if r.Code == perms.ProtectedRole() {
			role = r
		}
	}
	if role.ID == "" {
		return fmt.Errorf("role %q not found; run seed first", strings.ToLower(opts.role))
	}
	user, err := users.CreateUser(ctx, auth.NewUser{
		Email:     opts.email,
		Password:  opts.password,
		FirstName: opts.firstName,
		LastName:  opts.lastName,
	})
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	if _, err := perms.AssignRole(ctx, user.ID, role.ID); err != nil {
		return fmt.Errorf("assign %s: %w", role.Code, err)
	}
	fmt.Printf("created %s (%s) with role %s\n", user.Email, user.ID, role.Code)
	return nil
}
