package commands

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"bienestar/internal/export"
	"bienestar/internal/models"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newShowCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the history stored on this device",
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := loadLocal(cmd, v)
			if err != nil {
				return err
			}
			printRecords(cmd.OutOrStdout(), records)
			return nil
		},
	}
}

func newExportCmd(v *viper.Viper) *cobra.Command {
	var format, out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the history stored on this device",
		Example: `  historysync export -u 42 --format xlsx --out historial.xlsx
  historysync export -u 42 --format yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}

			records, err := loadLocal(cmd, v)
			if err != nil {
				return err
			}

			if out == "" || out == "-" {
				return export.Write(cmd.OutOrStdout(), f, records)
			}

			file, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", out, err)
			}
			if err := export.Write(file, f, records); err != nil {
				file.Close()
				return err
			}
			if err := file.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "📄 Exported %d records to %s\n", len(records), out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "Export format: json, yaml, xlsx or html")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default stdout)")
	return cmd
}

func loadLocal(cmd *cobra.Command, v *viper.Viper) ([]models.AssessmentRecord, error) {
	user, err := userID(v)
	if err != nil {
		return nil, err
	}
	cfg := loadConfig(v)

	store, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	return store.Load(cmd.Context(), user)
}

func printRecords(w io.Writer, records []models.AssessmentRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No assessments stored on this device.")
		return
	}

	fmt.Fprintf(w, "📋 %d assessments\n", len(records))
	for _, rec := range records {
		fmt.Fprintf(w, "\n• %s  [%s]\n", formatTime(rec.Timestamp), rec.ID)

		dims := make([]string, 0, len(rec.Data.EmotionalProfile))
		for name := range rec.Data.EmotionalProfile {
			dims = append(dims, name)
		}
		slices.Sort(dims)
		for _, name := range dims {
			fmt.Fprintf(w, "   %-20s %g\n", name, rec.Data.EmotionalProfile[name])
		}
		if len(rec.Data.PriorityAreas) > 0 {
			fmt.Fprintf(w, "   Priorities: %s\n", strings.Join(rec.Data.PriorityAreas, ", "))
		}
		fmt.Fprintf(w, "   %s\n", rec.Data.Feedback)
	}
}
