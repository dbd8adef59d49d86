// Package commands implements the historysync CLI.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bienestar/internal/config"
	"bienestar/internal/crypto"
	"bienestar/internal/history"
	"bienestar/internal/reconcile"
	"bienestar/internal/remote"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCmd builds the historysync command tree. Settings resolve as
// flags > environment > config file > defaults.
func NewRootCmd(version string) *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "historysync",
		Short: "Sync and inspect a user's assessment history",
		Long: `historysync reconciles the assessment history stored on this device with
the evaluations API, and lets you inspect or export the local copy.

Commands:
  refresh                    Run one reconciliation
  show                       Print the local history
  export                     Export the local history (json, yaml, xlsx, html)
  submit                     Save a new assessment locally and send it
  watch                      Refresh on a cron schedule
  envelope encrypt|decrypt   Encrypt or decrypt a wire envelope
  doctor                     Run pre-flight checks

Environment: EVAL_API_URL, EVAL_API_KEY, SHARED_SECRET, HISTORY_DSN, ...`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if path := v.GetString("config"); path != "" {
				v.SetConfigFile(path)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read config: %w", err)
				}
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "YAML config file")
	flags.StringP("user", "u", "", "User id whose history to use")
	flags.String("history-dsn", "", "History store (directory, sqlite://, mysql:// or redis://)")
	flags.String("eval-api-url", "", "Evaluations API URL")
	flags.Duration("fetch-timeout", 0, "Timeout for each remote call")

	for _, name := range []string{"config", "user", "history-dsn", "eval-api-url", "fetch-timeout"} {
		v.BindPFlag(strings.ReplaceAll(name, "-", "_"), flags.Lookup(name))
	}

	root.AddCommand(
		newRefreshCmd(v),
		newShowCmd(v),
		newExportCmd(v),
		newSubmitCmd(v),
		newWatchCmd(v),
		newEnvelopeCmd(v),
		newDoctorCmd(v),
	)
	return root
}

// loadConfig overlays viper settings on the environment configuration
func loadConfig(v *viper.Viper) *config.Config {
	cfg := config.Load()

	if v.IsSet("history_dsn") {
		cfg.HistoryDSN = v.GetString("history_dsn")
	}
	if v.IsSet("eval_api_url") {
		cfg.EvalAPIURL = v.GetString("eval_api_url")
	}
	if v.IsSet("eval_api_key") {
		cfg.EvalAPIKey = v.GetString("eval_api_key")
	}
	if v.IsSet("shared_secret") {
		cfg.SharedSecret = v.GetString("shared_secret")
	}
	if v.IsSet("random_iv") {
		cfg.RandomIV = v.GetBool("random_iv")
	}
	if v.IsSet("history_encrypt") {
		cfg.HistoryEncrypt = v.GetBool("history_encrypt")
	}
	if v.IsSet("sync_schedule") {
		cfg.SyncSchedule = v.GetString("sync_schedule")
	}
	if v.IsSet("fetch_timeout") {
		if d := v.GetDuration("fetch_timeout"); d > 0 {
			cfg.FetchTimeout = d
		}
	}
	return cfg
}

func userID(v *viper.Viper) (string, error) {
	user := strings.TrimSpace(v.GetString("user"))
	if user == "" {
		return "", errors.New("--user is required")
	}
	return user, nil
}

func newCodec(cfg *config.Config) (*crypto.Codec, error) {
	if cfg.SharedSecret == "" {
		return nil, errors.New("SHARED_SECRET is not set")
	}
	return crypto.NewCodec(crypto.CodecConfig{Secret: cfg.SharedSecret, RandomIV: cfg.RandomIV})
}

func openStore(ctx context.Context, cfg *config.Config) (history.Store, error) {
	var vault *crypto.Vault
	if cfg.HistoryEncrypt {
		var err error
		vault, err = crypto.NewVault(cfg.SharedSecret)
		if err != nil {
			return nil, err
		}
	}
	return history.Open(ctx, cfg.HistoryDSN, vault)
}

// session wires the full pipeline for commands that talk to the API
type session struct {
	cfg        *config.Config
	store      history.Store
	reconciler *reconcile.Reconciler
	client     *remote.Client
}

func newSession(ctx context.Context, v *viper.Viper) (*session, error) {
	user, err := userID(v)
	if err != nil {
		return nil, err
	}

	cfg := loadConfig(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	codec, err := newCodec(cfg)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	client := remote.NewClient(remote.Options{
		BaseURL:         cfg.EvalAPIURL,
		APIKey:          cfg.EvalAPIKey,
		Timeout:         cfg.FetchTimeout,
		RPS:             cfg.UpstreamRPS,
		BreakerFailures: uint32(cfg.BreakerFailures),
	}, codec)

	rec, err := reconcile.New(reconcile.Options{
		UserID:  user,
		Store:   store,
		Remote:  client,
		Codec:   codec,
		Timeout: cfg.FetchTimeout,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &session{cfg: cfg, store: store, reconciler: rec, client: client}, nil
}

func (s *session) Close() {
	s.reconciler.Close()
	s.store.Close()
}

func formatTime(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return t.UTC().Format("2006-01-02 15:04")
}
