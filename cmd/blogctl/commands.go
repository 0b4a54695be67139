package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/pflag"

	"github.com/nkiryanov/blogpress/internal/service/auth"
	"github.com/nkiryanov/blogpress/internal/service/connectivity"
)

const secretKeyBytesLen = 32

type command struct {
	usage string

	// Command does not need the session stack
	standalone func(out io.Writer, args []string) error

	run func(ctx context.Context, a *App, args []string) error
}

var commands = map[string]command{
	"login":           {usage: "login --email EMAIL --password PASSWORD [--remember]", run: runLogin},
	"logout":          {usage: "logout", run: runLogout},
	"register":        {usage: "register --username NAME --email EMAIL --password PASSWORD", run: runRegister},
	"whoami":          {usage: "whoami", run: runWhoami},
	"verify":          {usage: "verify", run: runVerify},
	"refresh":         {usage: "refresh", run: runRefresh},
	"change-password": {usage: "change-password --current PASSWORD --new PASSWORD", run: runChangePassword},
	"request-reset":   {usage: "request-reset --email EMAIL", run: runRequestReset},
	"reset-password":  {usage: "reset-password --token TOKEN --new PASSWORD", run: runResetPassword},
	"audit":           {usage: "audit flush|list", run: runAudit},
	"agent":           {usage: "agent [--keepalive 1m] [--probe 10s]", run: runAgent},
	"gensecret":       {usage: "gensecret", standalone: runGenSecret},
}

func usage() string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	text := "usage: blogctl [global flags] <command> [flags]\n\ncommands:\n"
	for _, name := range names {
		text += "  " + commands[name].usage + "\n"
	}
	return text
}

func newFlagSet(name string) *pflag.FlagSet {
	return pflag.NewFlagSet(name, pflag.ContinueOnError)
}

func requireFlags(values map[string]string) error {
	var missing []string
	for name, value := range values {
		if value == "" {
			missing = append(missing, "--"+name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("required flags not set: %v", missing)
}

func runLogin(ctx context.Context, a *App, args []string) error {
	var creds auth.Credentials
	fs := newFlagSet("login")
	fs.StringVar(&creds.Email, "email", "", "Account email")
	fs.StringVar(&creds.Password, "password", "", "Account password")
	fs.BoolVar(&creds.RememberMe, "remember", false, "Keep session longer")
	if err := fs.Parse(args); err != nil {
		return err
	}

	user, err := a.auth.Login(ctx, creds)
	if err != nil {
		return err
	}

	// Backend may answer with tokens only
	if user == nil {
		_, err = fmt.Fprintln(a.out, "Logged in")
		return err
	}
	_, err = fmt.Fprintf(a.out, "Logged in as %s (%s)\n", user.Username, user.Role)
	return err
}

func runLogout(ctx context.Context, a *App, _ []string) error {
	a.auth.Logout(ctx)
	_, err := fmt.Fprintln(a.out, "Logged out")
	return err
}

func runRegister(ctx context.Context, a *App, args []string) error {
	var params auth.RegisterParams
	fs := newFlagSet("register")
	fs.StringVar(&params.Username, "username", "", "Username")
	fs.StringVar(&params.Email, "email", "", "Account email")
	fs.StringVar(&params.Password, "password", "", "Account password")
	if err := fs.Parse(args); err != nil {
		return err
	}

	user, err := a.auth.Register(ctx, params)
	if err != nil {
		return err
	}

	if user == nil {
		_, err = fmt.Fprintln(a.out, "Registered, log in to continue")
		return err
	}
	_, err = fmt.Fprintf(a.out, "Registered as %s\n", user.Username)
	return err
}

func runWhoami(ctx context.Context, a *App, _ []string) error {
	user, err := a.auth.CurrentUser(ctx)
	if err != nil {
		return err
	}
	return writeJSON(a.out, user)
}

func runVerify(ctx context.Context, a *App, _ []string) error {
	if !a.auth.VerifySession(ctx) {
		return errors.New("session is not valid")
	}
	_, err := fmt.Fprintln(a.out, "Session is valid")
	return err
}

func runRefresh(ctx context.Context, a *App, _ []string) error {
	if !a.auth.RefreshToken(ctx) {
		return errors.New("token refresh failed, log in again")
	}

	expiry, _ := a.tokens.Expiry(ctx)
	_, err := fmt.Fprintf(a.out, "Token refreshed, expires at %s\n", expiry.Format(time.RFC3339))
	return err
}

func runChangePassword(ctx context.Context, a *App, args []string) error {
	var current, next string
	fs := newFlagSet("change-password")
	fs.StringVar(&current, "current", "", "Current password")
	fs.StringVar(&next, "new", "", "New password")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := a.auth.ChangePassword(ctx, current, next); err != nil {
		return err
	}
	_, err := fmt.Fprintln(a.out, "Password changed")
	return err
}

func runRequestReset(ctx context.Context, a *App, args []string) error {
	var email string
	fs := newFlagSet("request-reset")
	fs.StringVar(&email, "email", "", "Account email")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := a.auth.RequestPasswordReset(ctx, email); err != nil {
		return err
	}
	_, err := fmt.Fprintln(a.out, "Password reset requested, check your email")
	return err
}

func runResetPassword(ctx context.Context, a *App, args []string) error {
	var token, next string
	fs := newFlagSet("reset-password")
	fs.StringVar(&token, "token", "", "Reset token from email")
	fs.StringVar(&next, "new", "", "New password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlags(map[string]string{"token": token}); err != nil {
		return err
	}

	if err := a.auth.ResetPassword(ctx, token, next); err != nil {
		return err
	}
	_, err := fmt.Fprintln(a.out, "Password reset, log in with the new one")
	return err
}

func runAudit(ctx context.Context, a *App, args []string) error {
	if len(args) == 0 {
		return errors.New("audit subcommand required: flush or list")
	}

	switch args[0] {
	case "flush":
		sent := a.audit.ProcessLocalCache(ctx)
		_, err := fmt.Fprintf(a.out, "Sent %d cached entries, %d left\n", sent, a.audit.CacheSize())
		return err
	case "list":
		return writeJSON(a.out, a.audit.CachedEntries())
	default:
		return fmt.Errorf("unknown audit subcommand %q", args[0])
	}
}

// Long running mode: keeps session fresh and delivers cached audit entries
// when backend becomes reachable
func runAgent(ctx context.Context, a *App, args []string) error {
	var keepAlive, probe time.Duration
	fs := newFlagSet("agent")
	fs.DurationVar(&keepAlive, "keepalive", time.Minute, "How often to check token expiry")
	fs.DurationVar(&probe, "probe", 10*time.Second, "How often to probe backend")
	if err := fs.Parse(args); err != nil {
		return err
	}

	monitor := connectivity.New(a.api, probe, a.logger.With("component", "connectivity"))
	monitor.Check(ctx)

	auditStopped := a.audit.Init(ctx, monitor)
	monitorStopped := monitor.Run(ctx)
	keepAliveStopped := a.auth.KeepAlive(ctx, keepAlive)

	a.logger.Info("Agent started", "online", monitor.Online(), "cached_audit_entries", a.audit.CacheSize())

	var err error
	if a.metricsAddr != "" {
		err = a.serveMetrics(ctx, a.metricsAddr)
	} else {
		<-ctx.Done()
	}

	<-monitorStopped
	<-auditStopped
	<-keepAliveStopped
	a.logger.Info("Agent stopped")

	return err
}

func runGenSecret(out io.Writer, _ []string) error {
	b := make([]byte, secretKeyBytesLen)

	if _, err := rand.Read(b); err != nil {
		return fmt.Errorf("error while generating secret key: %w", err)
	}

	_, err := fmt.Fprintln(out, hex.EncodeToString(b))
	return err
}

func writeJSON(out io.Writer, value any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
