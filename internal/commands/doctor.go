package commands

import (
	"errors"
	"fmt"

	"bienestar/internal/preflight"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newDoctorCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, codec and history store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(v)

			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "❌ History store: %v\n", err)
			} else {
				defer store.Close()
			}

			results := preflight.NewChecker(cfg, store).RunAll(cmd.Context())
			out := cmd.OutOrStdout()
			for _, r := range results {
				icon := "✅"
				switch r.Status {
				case "fail":
					icon = "❌"
				case "warning":
					icon = "⚠️ "
				}
				fmt.Fprintf(out, "%s %s: %s\n", icon, r.Name, r.Message)
				if r.Error != nil {
					fmt.Fprintf(out, "   %v\n", r.Error)
				}
			}

			if err != nil || preflight.HasFailures(results) {
				return errors.New("pre-flight checks failed")
			}
			return nil
		},
	}
}
