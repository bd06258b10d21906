package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	opt := &Options{}

	cmd := &cobra.Command{
		Use:          "foodbot",
		Short:        "Chat assistant for the university food reservation portal",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, arguments []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := godotenv.Load(); err != nil {
				log.WithError(err).Debug("no .env file, using the process environment only")
			}
			return opt.Run(ctx)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opt.HTTPAddr, "http-addr", opt.HTTPAddr, "Address for the web gateway, review API and metrics (overrides HTTP_ADDR)")
	flags.StringVar(&opt.LogLevel, "log-level", opt.LogLevel, "Log level (overrides LOG_LEVEL)")
	flags.BoolVar(&opt.NoTelegram, "no-telegram", opt.NoTelegram, "Do not start the Telegram gateway even if a token is configured")

	if err := cmd.Execute(); err != nil {
		log.WithError(err).Fatal("foodbot exited")
	}
}
