// Package notify implements the notify command, which sends a test alert
// and optionally a status report through the configured providers.
package notify

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cribwatch/cribwatch/internal/api"
	"github.com/cribwatch/cribwatch/internal/conf"
	"github.com/cribwatch/cribwatch/internal/datastore"
	"github.com/cribwatch/cribwatch/internal/httpclient"
	"github.com/cribwatch/cribwatch/internal/notification"
	"github.com/cribwatch/cribwatch/internal/status"
)

// Command returns a cobra command that sends a test notification via the notification service
func Command(settings *conf.Settings) *cobra.Command {
	var (
		level     string
		title     string
		message   string
		report    string
		imagePath string
		record    bool
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Send a test alert through the configured providers",
		Long: `Send a test alert, and optionally a status report, through every
configured notification provider.

Examples:
  # Warning-level test alert
  cribwatch notify

  # Danger alert with an attached snapshot
  cribwatch notify --level=danger --title="Face covered" --image=snapshot.jpg

  # Also post a status report
  cribwatch notify --report="All quiet for the last 5 minutes"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			risk, err := parseLevel(level)
			if err != nil {
				return err
			}

			var image []byte
			if imagePath != "" {
				if image, err = os.ReadFile(imagePath); err != nil {
					return fmt.Errorf("error reading image: %w", err)
				}
			}

			client := httpclient.New(&httpclient.Config{DefaultTimeout: settings.Notification.Timeout})
			defer client.Close()

			var opts []notification.Option
			if record {
				store, err := datastore.New(settings)
				if err != nil {
					return err
				}
				if err := store.Open(); err != nil {
					return err
				}
				defer store.Close()
				opts = append(opts, notification.WithMessageLog(store))
			}

			service, err := notification.NewServiceFromSettings(&settings.Notification, client, opts...)
			if err != nil {
				return err
			}
			if !service.HasProviders() {
				return fmt.Errorf("no notification providers configured")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			out := cmd.OutOrStdout()
			sent := service.SendAlert(ctx, title, message, risk, image)
			fmt.Fprintf(out, "Alert sent: level=%s delivered=%t\n", risk, sent)
			if report != "" {
				reported := service.SendStatusReport(ctx, report, image)
				fmt.Fprintf(out, "Status report sent: delivered=%t\n", reported)
				sent = sent && reported
			}
			for _, p := range service.Providers() {
				fmt.Fprintf(out, "  %s: circuit=%s failures=%d\n", p.Name, p.CircuitState, p.Failures)
			}
			if !sent {
				return fmt.Errorf("notification was not delivered by any provider")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&level, "level", string(status.RiskWarning), "Alert level: safe|warning|danger")
	cmd.Flags().StringVar(&title, "title", api.TestAlertTitle, "Alert title")
	cmd.Flags().StringVar(&message, "message", api.TestAlertDescription, "Alert description")
	cmd.Flags().StringVar(&report, "report", "", "Also send a status report with this summary")
	cmd.Flags().StringVar(&imagePath, "image", "", "JPEG to attach")
	cmd.Flags().BoolVar(&record, "record", false, "Log the delivery to the datastore")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall delivery timeout")

	return cmd
}

func parseLevel(s string) (status.RiskLevel, error) {
	switch status.RiskLevel(s) {
	case status.RiskSafe, status.RiskWarning, status.RiskDanger:
		return status.RiskLevel(s), nil
	default:
		return "", fmt.Errorf("invalid level: %s", s)
	}
}
