package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/ryde/accounts/internal/localidp"
	"github.com/ryde/accounts/internal/onboarding"
	"github.com/ryde/accounts/internal/queue/tasks"
	"github.com/ryde/accounts/pkg/config"
	"github.com/ryde/accounts/pkg/logger"
)

// onboard walks through sign-up and sign-in against the local identity
// provider, provisioning users through the accounts API.
func main() {
	cfg := config.MustLoad()
	log, err := logger.Init(cfg.LogLevel, "console")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	secret := cfg.SessionSecret
	if secret == "" {
		if !cfg.IsDevelopment() {
			log.Fatal("SESSION_SECRET is required outside development")
		}
		secret = uuid.NewString()
	}
	idp, err := localidp.New([]byte(secret), nil)
	if err != nil {
		log.Fatal("identity provider setup failed", zap.Error(err))
	}

	var opts []onboarding.Option
	if cfg.RedisAddr != "" {
		client := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer client.Close()
		opts = append(opts, onboarding.WithRetryQueue(tasks.NewRetryQueue(client)))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	flow := onboarding.NewFlow(idp, onboarding.NewHTTPProvisioner(cfg.ProvisioningURL, nil), opts...)
	t := &terminal{in: bufio.NewScanner(os.Stdin), out: os.Stdout}
	if err := run(ctx, t, flow); err != nil && !errors.Is(err, io.EOF) {
		log.Fatal("onboarding aborted", zap.Error(err))
	}
}

type terminal struct {
	in  *bufio.Scanner
	out io.Writer
}

func (t *terminal) ask(prompt string) (string, error) {
	fmt.Fprintf(t.out, "%s: ", prompt)
	if !t.in.Scan() {
		if err := t.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(t.in.Text()), nil
}

func run(ctx context.Context, t *terminal, flow *onboarding.Flow) error {
	for ctx.Err() == nil {
		switch flow.State() {
		case onboarding.StateSessionActive:
			fmt.Fprintf(t.out, "Signed in. Session %s\n", flow.SessionID())
			if flow.ProvisioningDeferred() {
				fmt.Fprintln(t.out, "Your account is still being set up.")
			}
			return nil

		case onboarding.StatePendingChallenge:
			code, err := t.ask("Verification code")
			if err != nil {
				return err
			}
			report(t, flow, flow.Verify(ctx, code))

		case onboarding.StateFailed:
			report(t, flow, flow.Reset())

		default:
			mode, err := t.ask("Sign [u]p or sign [i]n")
			if err != nil {
				return err
			}
			switch strings.ToLower(mode) {
			case "u", "up", "signup":
				err = signUp(ctx, t, flow)
			case "i", "in", "signin":
				err = signIn(ctx, t, flow)
			default:
				continue
			}
			if err != nil {
				return err
			}
		}
	}
	return ctx.Err()
}

func signUp(ctx context.Context, t *terminal, flow *onboarding.Flow) error {
	var c onboarding.Credentials
	var err error
	if c.Name, err = t.ask("Name"); err != nil {
		return err
	}
	if c.Email, err = t.ask("Email"); err != nil {
		return err
	}
	if c.Password, err = t.ask("Password"); err != nil {
		return err
	}
	report(t, flow, flow.SignUp(ctx, c))
	return nil
}

func signIn(ctx context.Context, t *terminal, flow *onboarding.Flow) error {
	email, err := t.ask("Email")
	if err != nil {
		return err
	}
	password, err := t.ask("Password")
	if err != nil {
		return err
	}
	report(t, flow, flow.SignIn(ctx, email, password))
	return nil
}

func report(t *terminal, flow *onboarding.Flow, err error) {
	if err == nil {
		return
	}
	if msg := flow.Message(); msg != "" {
		fmt.Fprintln(t.out, msg)
		return
	}
	fmt.Fprintln(t.out, err)
}
