package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BTreeMap/ContactPipe/internal/api"
	"github.com/BTreeMap/ContactPipe/internal/config"
	"github.com/BTreeMap/ContactPipe/internal/lockfile"
	"github.com/BTreeMap/ContactPipe/internal/messaging"
	"github.com/BTreeMap/ContactPipe/internal/notion"
	"github.com/BTreeMap/ContactPipe/internal/telegram"
	"github.com/BTreeMap/ContactPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/ContactPipe/internal/whatsapp"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newServeCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve webhooks, health and metrics over HTTP",
		Long: "Serve registers the Telegram webhook when TELEGRAM_WEBHOOK_URL is set and falls back to " +
			"long polling otherwise. WhatsApp and Twilio transports always run under serve.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(true); err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, *cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			switch cfg.Transport {
			case config.TransportTelegram:
				if cfg.TelegramWebhookURL == "" {
					slog.Info("ContactPipe serve: TELEGRAM_WEBHOOK_URL not set, using long polling")
					return runPolling(ctx, a)
				}
				return runTelegramWebhook(ctx, a)
			case config.TransportWhatsApp:
				return runWhatsApp(ctx, a)
			case config.TransportTwilio:
				return runTwilio(ctx, a)
			default:
				return fmt.Errorf("unsupported transport %q", cfg.Transport)
			}
		},
	}
}

func newPollCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Long-poll Telegram for updates instead of using a webhook",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Transport != config.TransportTelegram {
				return fmt.Errorf("poll only supports the telegram transport, got %q", cfg.Transport)
			}
			if err := cfg.Validate(true); err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, *cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return runPolling(ctx, a)
		},
	}
}

func newVerifySchemaCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-schema",
		Short: "Check the Notion database schema against the field mapping",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(false); err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			return reportSchema(ctx, cmd, newRecordStore(*cfg))
		},
	}
}

// reportSchema prints the schema check result on the command's output.
func reportSchema(ctx context.Context, cmd *cobra.Command, records *notion.RecordStore) error {
	err := verifySchema(ctx, records)
	var schemaErr *notion.SchemaError
	switch {
	case err == nil:
		fmt.Fprintln(cmd.OutOrStdout(), "Notion schema OK")
		return nil
	case errors.As(err, &schemaErr):
		lines := make([]string, len(schemaErr.Mismatches))
		for i, m := range schemaErr.Mismatches {
			lines[i] = "  - " + m.String()
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Notion schema has %d mismatch(es):\n%s\n", len(lines), strings.Join(lines, "\n"))
		return err
	default:
		return err
	}
}

func newTelegramClient(cfg config.Config) *telegram.Client {
	return telegram.NewClient(cfg.TelegramToken)
}

func runTelegramWebhook(ctx context.Context, a *app) error {
	client := newTelegramClient(a.cfg)
	me, err := client.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}
	slog.Info("ContactPipe: Telegram bot authenticated", "username", me.Username)

	url := strings.TrimRight(a.cfg.TelegramWebhookURL, "/")
	if !strings.HasSuffix(url, api.TelegramWebhookPath) {
		url += api.TelegramWebhookPath
	}
	if err := client.SetWebhook(ctx, url, a.cfg.TelegramWebhookSecret); err != nil {
		return fmt.Errorf("set telegram webhook: %w", err)
	}
	slog.Info("ContactPipe: Telegram webhook registered", "url", url, "secret_set", a.cfg.TelegramWebhookSecret != "")

	var opts []messaging.TelegramOption
	if a.cfg.TelegramWebhookSecret != "" {
		opts = append(opts, messaging.WithWebhookSecret(a.cfg.TelegramWebhookSecret))
	}
	svc := messaging.NewTelegramService(client, opts...)
	server := api.NewServer(a.engine, append(a.serverOptions(), api.WithTelegramWebhook(svc.WebhookHandler))...)
	return a.run(ctx, svc, server)
}

// runPolling deletes any webhook and long-polls. The state directory lock
// keeps a second poller from fighting over the same bot.
func runPolling(ctx context.Context, a *app) error {
	lock, err := lockfile.AcquireLock(a.cfg.StateDir, "poll")
	if err != nil {
		return err
	}
	defer lock.Release()

	client := newTelegramClient(a.cfg)
	if err := client.DeleteWebhook(ctx); err != nil {
		return fmt.Errorf("delete telegram webhook: %w", err)
	}
	svc := messaging.NewTelegramService(client, messaging.WithPolling(telegram.DefaultPollTimeout))
	return a.run(ctx, svc, api.NewServer(a.engine, a.serverOptions()...))
}

func runWhatsApp(ctx context.Context, a *app) error {
	opts := []whatsapp.Option{whatsapp.WithDBDSN(a.cfg.WhatsAppDSN)}
	if a.cfg.WhatsAppQROutput != "" {
		opts = append(opts, whatsapp.WithQRCodeOutput(a.cfg.WhatsAppQROutput))
	}
	if a.cfg.WhatsAppNumericCode {
		opts = append(opts, whatsapp.WithNumericCode())
	}
	client, err := whatsapp.NewClient(ctx, opts...)
	if err != nil {
		return fmt.Errorf("whatsapp client: %w", err)
	}
	svc := messaging.NewWhatsAppService(client)
	return a.run(ctx, svc, api.NewServer(a.engine, a.serverOptions()...))
}

func runTwilio(ctx context.Context, a *app) error {
	client, err := twiliowhatsapp.NewClient()
	if err != nil {
		return fmt.Errorf("twilio client: %w", err)
	}
	var opts []messaging.TwilioOption
	if a.cfg.TwilioValidateSignature {
		opts = append(opts, messaging.WithSignatureValidation(client, a.cfg.TwilioWebhookURL))
	} else {
		slog.Warn("ContactPipe: Twilio signature validation disabled")
	}
	svc := messaging.NewTwilioService(client, opts...)
	server := api.NewServer(a.engine, append(a.serverOptions(), api.WithTwilioWebhook(svc.TwilioWebhookHandler))...)
	return a.run(ctx, svc, server)
}
