// Command clubctl performs administrative tasks against the club database.
//
// Usage:
//
//	clubctl create-admin -email admin@example.com [-name "Club Admin"] [-generate-password]
//
// The password is read without echo when stdin is a terminal, otherwise as
// two lines (password and confirmation) from stdin. With -generate-password a
// random password is chosen and printed once instead.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aussiebroadwan/clubhouse/internal/club/app"
	"github.com/aussiebroadwan/clubhouse/internal/club/service"
	"github.com/aussiebroadwan/clubhouse/pkg/cryptox"
	"github.com/aussiebroadwan/clubhouse/pkg/slogx"
	"golang.org/x/term"
)

// Test seams for the terminal.
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}

	switch args[0] {
	case "create-admin":
		if err := createAdmin(ctx, args[1:], stdin, stdout, stderr); err != nil {
			if errors.Is(err, flag.ErrHelp) {
				return 0
			}
			fmt.Fprintf(stderr, "clubctl: %v\n", err)
			return 1
		}
		return 0
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "clubctl: unknown command %q\n\n", args[0])
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	fmt.Fprint(w, `Usage: clubctl <command> [flags]

Commands:
  create-admin   create an admin account, or promote an existing one

Database and pepper locations come from CLUB_DATABASE_FILE and CLUB_PEPPER_FILE.
`)
}

func createAdmin(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("create-admin", flag.ContinueOnError)
	fs.SetOutput(stderr)
	email := fs.String("email", "", "admin email address (required)")
	name := fs.String("name", "", "display name")
	generate := fs.Bool("generate-password", false, "generate a random password and print it")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*email) == "" {
		return errors.New("-email is required")
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	logger := slogx.New(slogx.Config{
		Service: "clubctl",
		Version: app.BuildVersion,
		Env:     cfg.Env,
		Level:   "warn",
		Format:  "text",
		Output:  stderr,
	})
	ctx = slogx.WithContext(ctx, logger)

	var password string
	if *generate {
		if password, err = cryptox.GeneratePassword(); err != nil {
			return err
		}
	} else if password, err = readNewPassword(newPrompter(stdin, stderr)); err != nil {
		return err
	}

	db, err := app.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	hasher, err := app.NewHasher(cfg)
	if err != nil {
		return err
	}

	svc := &service.BootstrapService{
		Store:    db,
		Hasher:   hasher,
		Policy:   service.DefaultPasswordPolicy,
		Activity: &service.ActivityService{Store: db},
	}
	u, created, err := svc.CreateAdmin(ctx, service.CreateAdminInput{Email: *email, Name: *name, Password: password})
	if err != nil {
		return err
	}

	verb := "promoted"
	if created {
		verb = "created"
	}
	fmt.Fprintf(stdout, "%s admin %s (%s)\n", verb, u.Email, u.ID)
	if *generate {
		fmt.Fprintf(stdout, "password: %s\n", password)
	}
	return nil
}

func readNewPassword(p *prompter) (string, error) {
	password, err := p.password("Password: ")
	if err != nil {
		return "", err
	}
	confirm, err := p.password("Confirm password: ")
	if err != nil {
		return "", err
	}
	if password != confirm {
		return "", errors.New("passwords do not match")
	}
	return password, nil
}

// prompter reads secrets from a terminal without echo, or line by line
// when input is piped.
type prompter struct {
	fd    int
	tty   bool
	lines *bufio.Reader
	out   io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	p := &prompter{lines: bufio.NewReader(in), out: out}
	if f, ok := in.(interface{ Fd() uintptr }); ok {
		p.fd = int(f.Fd())
		p.tty = isTerminal(p.fd)
	}
	return p
}

func (p *prompter) password(prompt string) (string, error) {
	if !p.tty {
		line, err := p.lines.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(p.out, prompt)
	pw, err := readPassword(p.fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(pw), nil
}
