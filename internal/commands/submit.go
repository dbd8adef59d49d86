package commands

import (
	"fmt"
	"strconv"
	"strings"

	"bienestar/internal/models"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newSubmitCmd(v *viper.Viper) *cobra.Command {
	var feedback string
	var scores []string
	var areas []string

	cmd := &cobra.Command{
		Use:     "submit",
		Short:   "Save a new assessment on this device and send it to the API",
		Example: `  historysync submit -u 42 --score calma=4 --score ansiedad=2 --area sueño --feedback "Semana tranquila"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := parseScores(scores)
			if err != nil {
				return err
			}

			s, err := newSession(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.reconciler.Submit(cmd.Context(), models.AssessmentData{
				EmotionalProfile: profile,
				PriorityAreas:    areas,
				Feedback:         strings.TrimSpace(feedback),
			})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if res.Synced {
				fmt.Fprintf(w, "✅ Saved assessment %s\n", res.Record.ID)
			} else {
				fmt.Fprintf(w, "⚠️  %s: %s\n", res.Advisory, res.Record.ID)
				fmt.Fprintf(w, "   cause: %v\n", res.Err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&feedback, "feedback", "", "Feedback text (required)")
	cmd.Flags().StringArrayVar(&scores, "score", nil, "Dimension score as name=value (repeatable)")
	cmd.Flags().StringArrayVar(&areas, "area", nil, "Priority area (repeatable, max 3)")
	return cmd
}

func parseScores(pairs []string) (map[string]float64, error) {
	profile := make(map[string]float64, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid score %q, expected name=value", p)
		}
		score, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid score %q: %w", p, err)
		}
		profile[name] = score
	}
	return profile, nil
}
