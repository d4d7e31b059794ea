// Package devices implements the devices command.
package devices

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cribwatch/cribwatch/internal/audio"
	"github.com/cribwatch/cribwatch/internal/audio/malgo"
	"github.com/cribwatch/cribwatch/internal/camera"
	"github.com/cribwatch/cribwatch/internal/camera/opencv"
	"github.com/cribwatch/cribwatch/internal/conf"
)

// Listing is the machine-readable output of the devices command.
type Listing struct {
	Cameras     []camera.DeviceInfo `json:"cameras"`
	Microphones []audio.DeviceInfo  `json:"microphones"`
}

// Command creates the devices command.
func Command(settings *conf.Settings) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List cameras and microphones",
		RunE: func(cmd *cobra.Command, args []string) error {
			listing, err := Collect(opencv.ListDevices, malgo.ListDevices)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(listing)
			}
			return Print(cmd.OutOrStdout(), listing, settings)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the listing as JSON")
	return cmd
}

// Collect runs both enumerations. A failed microphone listing is reported
// but does not hide the cameras.
func Collect(cameras func() ([]camera.DeviceInfo, error), mics func() ([]audio.DeviceInfo, error)) (Listing, error) {
	var l Listing
	var err error
	if l.Cameras, err = cameras(); err != nil {
		return l, fmt.Errorf("error listing cameras: %w", err)
	}
	if l.Microphones, err = mics(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: error listing microphones: %v\n", err)
	}
	return l, nil
}

// Print writes a table of l, marking the devices selected in settings.
func Print(w io.Writer, l Listing, settings *conf.Settings) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CAMERA\tNAME\tPATH\tRESOLUTION\tSELECTED")
	for _, c := range l.Cameras {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", c.ID, c.Name, c.Path, c.Resolution, cameraRole(c.ID, settings))
	}
	if len(l.Cameras) == 0 {
		fmt.Fprintln(tw, "-\tno cameras found\t\t\t")
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "MICROPHONE\tNAME\tDEVICE ID\tDEFAULT\t")
	for _, m := range l.Microphones {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t\n", m.Index, m.Name, m.DeviceID, m.IsDefault)
	}
	if len(l.Microphones) == 0 {
		fmt.Fprintln(tw, "-\tno microphones found\t\t\t")
	}
	return tw.Flush()
}

func cameraRole(id int, settings *conf.Settings) string {
	stream := id == settings.Camera.DeviceID
	ai := id == settings.AICameraID()
	switch {
	case stream && ai:
		return "stream+ai"
	case stream:
		return "stream"
	case ai:
		return "ai"
	default:
		return ""
	}
}
