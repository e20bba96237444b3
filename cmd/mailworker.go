/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/campusreg/apiserver/config"
	"github.com/campusreg/apiserver/internal/mailer"
	"github.com/campusreg/apiserver/internal/mq"
)

// mailworkerCmd consumes the email queue and logs each message. It stands in
// for the real delivery worker during local development, so reset tokens and
// welcome mails are visible without an SMTP setup.
var mailworkerCmd = &cobra.Command{
	Use:   "mailworker",
	Short: "Consume and log queued email (development helper)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		logger := newLogger(cfg.Environment)

		broker, err := mq.NewFromConfig(cmd.Context(), cfg.MQ)
		if err != nil {
			return err
		}
		if broker == nil {
			fmt.Fprintln(os.Stderr, "MQ_BACKEND is not configured")
			os.Exit(1)
		}
		defer broker.Close()

		return broker.Subscribe(cmd.Context(), mailer.Channel, func(ctx context.Context, msg mq.Message) error {
			var email mailer.Email
			if err := json.Unmarshal(msg.Data, &email); err != nil {
				logger.Error("dropping malformed email message", "message_id", msg.ID, "error", err)
				return nil
			}
			logger.Info("email received",
				"message_id", msg.ID,
				"to", email.To,
				"template", email.Template,
				"data", email.Data,
			)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(mailworkerCmd)
}
