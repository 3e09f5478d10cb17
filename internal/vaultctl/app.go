// Package vaultctl implements the operator tool for a vault deployment:
// creating the sealed key blob, unlocking and locking a running server and
// printing request signatures for manual calls.
package vaultctl

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kaytervn/msa-backend/internal/common"
	"github.com/kaytervn/msa-backend/internal/server/config"
	"github.com/kaytervn/msa-backend/internal/server/keyring"
)

const defaultServer = "http://127.0.0.1:6677"

const usage = `Usage: vaultctl <command> [flags]

Commands:
  init    create a sealed key blob with fresh deployment secrets
  unlock  submit the master key to a running server
  lock    clear the master key on a running server
  sign    print signature headers for a request made now
`

var errUsage = errors.New("usage")

type App struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func NewApp(stdout, stderr io.Writer) *App {
	return &App{stdout: stdout, stderr: stderr, now: time.Now}
}

// Run executes the command named by args[0] and returns the exit code.
func (a *App) Run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(a.stderr, usage)
		return 2
	}

	var err error
	switch args[0] {
	case "init":
		err = a.runInit(ctx, args[1:])
	case "unlock":
		err = a.runUnlock(ctx, args[1:])
	case "lock":
		err = a.runLock(ctx, args[1:])
	case "sign":
		err = a.runSign(args[1:])
	case "help", "-h", "--help":
		fmt.Fprint(a.stdout, usage)
		return 0
	default:
		fmt.Fprintf(a.stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage), errors.Is(err, flag.ErrHelp):
		return 2
	default:
		fmt.Fprintf(a.stderr, "vaultctl %s: %v\n", args[0], err)
		return 1
	}
}

func (a *App) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	return fs
}

func (a *App) runInit(ctx context.Context, args []string) error {
	fs := a.flagSet("init")
	source := fs.String("k", config.KeySourceFile, "key blob source (file|s3)")
	out := fs.String("o", "keyring.json", "key blob file path")
	mailUser := fs.String("mail-user", "", "SMTP login sealed as MAIL_USER")
	mailPass := fs.String("mail-pass", "", "SMTP password sealed as MAIL_PASS")

	var s3 keyring.S3Settings
	fs.StringVar(&s3.User, "u", "", "s3 access key")
	fs.StringVar(&s3.Password, "p", "", "s3 secret key")
	fs.StringVar(&s3.Bucket, "b", "", "s3 bucket")
	fs.StringVar(&s3.Region, "g", "us-east-1", "s3 region")
	fs.StringVar(&s3.BaseEndpoint, "e", "", "s3 endpoint for compatible stores")
	fs.StringVar(&s3.Key, "obj", "keyring/keyring.json", "s3 object key")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var dst keyring.Source
	switch *source {
	case config.KeySourceFile:
		dst = keyring.NewFileSource(*out)
	case config.KeySourceS3:
		dst = keyring.NewS3Source(s3)
	default:
		fmt.Fprintf(a.stderr, "unknown key source %q\n", *source)
		return errUsage
	}

	masterKey, err := GetNewPassword(a.stderr, "Master key")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(masterKey)

	props, err := NewProperties(*mailUser, *mailPass)
	if err != nil {
		return err
	}
	if err := WriteBlob(ctx, dst, masterKey, props); err != nil {
		return err
	}

	fmt.Fprintln(a.stderr, "Key blob written. Configure clients with:")
	printClientSettings(a.stdout, props)
	return nil
}

func (a *App) runUnlock(ctx context.Context, args []string) error {
	fs := a.flagSet("unlock")
	server := fs.String("a", defaultServer, "server base URL")
	if err := fs.Parse(args); err != nil {
		return err
	}

	masterKey, err := GetPassword(a.stderr, "Master key")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(masterKey)

	if err := NewRemote(*server).Unlock(ctx, string(masterKey)); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, "unlocked")
	return nil
}

func (a *App) runLock(ctx context.Context, args []string) error {
	fs := a.flagSet("lock")
	server := fs.String("a", defaultServer, "server base URL")
	clientID := fs.String("id", os.Getenv("MSA_CLIENT_ID"), "client id")
	clientSecret := fs.String("secret", os.Getenv("MSA_CLIENT_SECRET"), "client secret")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := NewRemote(*server).Lock(ctx, *clientID, *clientSecret); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, "locked")
	return nil
}

func (a *App) runSign(args []string) error {
	fs := a.flagSet("sign")
	clientID := fs.String("id", os.Getenv("MSA_CLIENT_ID"), "client id")
	clientSecret := fs.String("secret", os.Getenv("MSA_CLIENT_SECRET"), "client secret")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *clientID == "" || *clientSecret == "" {
		fmt.Fprintln(a.stderr, "both -id and -secret are required")
		return errUsage
	}

	printSignHeaders(a.stdout, *clientID, *clientSecret, a.now())
	return nil
}
