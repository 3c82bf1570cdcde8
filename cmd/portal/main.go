package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mfalmeh/skyfi-tadipa-portal/portal"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "portal",
		Short:   "Tadipa WiFi payment bridge: MTN MoMo payments to access vouchers",
		Version: Version,
	}

	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the payment bridge HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env is fine; real deployments set the environment directly.
			_ = godotenv.Load()

			logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

			app := portal.NewApp(logger, configFromEnv())
			if err := app.Start(); err != nil {
				return err
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			<-sig

			app.Shutdown()
			return nil
		},
	}
}

func configFromEnv() *portal.Config {
	cfg := portal.DefaultConfig()

	if v := os.Getenv("PORT"); v != "" {
		cfg.HTTPAddr = ":" + v
	}
	cfg.RepoBackend = getenv("REPO_BACKEND", cfg.RepoBackend)
	cfg.DatabaseURL = os.Getenv("DB_DSN")
	cfg.VoucherProfile = getenv("VOUCHER_PROFILE", cfg.VoucherProfile)

	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PollInterval = d
		}
	}

	cfg.Momo.BaseURL = os.Getenv("BASE_URL")
	cfg.Momo.APIUser = os.Getenv("API_USER_ID")
	cfg.Momo.APIKey = os.Getenv("API_KEY")
	cfg.Momo.SubscriptionKey = os.Getenv("SUBSCRIPTION_KEY")
	cfg.Momo.TargetEnvironment = getenv("TARGET_ENVIRONMENT", "sandbox")
	cfg.Momo.Currency = getenv("CURRENCY", "UGX")

	cfg.IronWifi.APIKey = os.Getenv("IRONWIFI_API_KEY")
	cfg.IronWifi.LocationID = os.Getenv("IRONWIFI_LOCATION_ID")

	cfg.SMS.Username = os.Getenv("AFRICASTALKING_USERNAME")
	cfg.SMS.APIKey = os.Getenv("AFRICASTALKING_API_KEY")

	return cfg
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
