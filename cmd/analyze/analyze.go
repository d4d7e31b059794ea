// Package analyze implements the analyze command, which runs the audio
// analyzer offline over a WAV file.
package analyze

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cribwatch/cribwatch/internal/audio"
	"github.com/cribwatch/cribwatch/internal/conf"
)

// Summary aggregates the windows of one file.
type Summary struct {
	Windows       int     `json:"windows"`
	CryWindows    int     `json:"cry_windows"`
	BreathWindows int     `json:"breathing_windows"`
	MeanRMS       float64 `json:"mean_rms"`
}

// Command creates the analyze command.
func Command(settings *conf.Settings) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "analyze <file.wav>",
		Short: "Analyze a WAV file for crying and breathing",
		Long:  "Split a WAV file into analysis windows and print the cry and breathing result of each.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := audio.AnalyzeFile(args[0], settings.Audio.ChunkDuration)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Summary Summary              `json:"summary"`
					Windows []audio.WindowResult `json:"windows"`
				}{Summarize(results), results})
			}
			return Print(cmd.OutOrStdout(), results)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	return cmd
}

func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().DurationVar(&settings.Audio.ChunkDuration, "chunk", viper.GetDuration("audio.chunkduration"), "Analysis window length")
	if err := viper.BindPFlag("audio.chunkduration", cmd.Flags().Lookup("chunk")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}

// Summarize counts cry and breathing windows.
func Summarize(results []audio.WindowResult) Summary {
	s := Summary{Windows: len(results)}
	if len(results) == 0 {
		return s
	}
	var rms float64
	for _, r := range results {
		if r.Status.IsCrying {
			s.CryWindows++
		}
		if r.Status.BreathingDetected {
			s.BreathWindows++
		}
		rms += r.Status.RMSLevel
	}
	s.MeanRMS = rms / float64(len(results))
	return s
}

// Print writes one row per window followed by the summary.
func Print(w io.Writer, results []audio.WindowResult) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OFFSET\tRMS\tCENTROID\tCRYING\tCONFIDENCE\tBREATHING\tRATE\tDESCRIPTION")
	for _, r := range results {
		st := r.Status
		rate := "-"
		if st.BreathingDetected {
			rate = fmt.Sprintf("%.1f/min", st.BreathingRate)
		}
		fmt.Fprintf(tw, "%s\t%.4f\t%.0f Hz\t%t\t%.2f\t%t\t%s\t%s\n",
			r.Offset.Truncate(time.Millisecond), st.RMSLevel, st.SpectralCentroid,
			st.IsCrying, st.CryConfidence, st.BreathingDetected, rate, st.Description)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	s := Summarize(results)
	_, err := fmt.Fprintf(w, "\n%d windows, %d crying, %d with breathing, mean RMS %.4f\n",
		s.Windows, s.CryWindows, s.BreathWindows, s.MeanRMS)
	return err
}
