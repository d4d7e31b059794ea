package alert

import (
	"fmt"
	"strings"
	"time"

	"github.com/cribwatch/cribwatch/internal/status"
)

// NoDataSummary is reported when nothing was observed in a period.
const NoDataSummary = "No data collected in this period."

// Report banners.
const (
	BannerDanger  = "🔴 **Danger events occurred during this period**"
	BannerWarning = "🟡 **Warning events occurred during this period**"
	BannerSafe    = "🟢 **No safety concerns during this period**"
)

// Danger reasons, in reporting order.
const (
	ReasonFaceCovered = "Baby's face is covered - suffocation risk!"
	ReasonProne       = "Baby is face-down (prone position)"
	ReasonOutOfCrib   = "Baby may be outside the crib!"
	ReasonLooseObject = "Loose objects or blanket near the baby's face"
)

// DangerReasons lists the active hazard flags of baby in fixed order. When no
// flag is set it falls back to the description.
func DangerReasons(baby status.BabyStatus) string {
	var reasons []string
	if baby.FaceCovered {
		reasons = append(reasons, ReasonFaceCovered)
	}
	if baby.Position == status.PositionProne {
		reasons = append(reasons, ReasonProne)
	}
	if !baby.InCrib {
		reasons = append(reasons, ReasonOutOfCrib)
	}
	if baby.LooseObjects || baby.BlanketNearFace {
		reasons = append(reasons, ReasonLooseObject)
	}
	if len(reasons) == 0 {
		return baby.Description
	}
	return strings.Join(reasons, "\n")
}

// Summarize composes the status report for history collected over interval.
func Summarize(history []status.Observation, interval time.Duration) string {
	if len(history) == 0 {
		return NoDataSummary
	}

	n := len(history)
	motionCount := 0
	var magnitudeSum float64
	hadDanger, hadWarning := false, false
	for _, obs := range history {
		if obs.Motion.HasMotion {
			motionCount++
		}
		magnitudeSum += obs.Motion.Magnitude
		switch obs.Baby.RiskLevel {
		case status.RiskDanger:
			hadDanger = true
		case status.RiskWarning:
			hadWarning = true
		}
	}

	lines := []string{
		fmt.Sprintf("**Period**: Last %d minutes", int(interval/time.Minute)),
		fmt.Sprintf("**Samples**: %d", n),
		fmt.Sprintf("**Most common position**: %s", mostCommonPosition(history)),
		fmt.Sprintf("**Movement detected**: %d/%d frames", motionCount, n),
		fmt.Sprintf("**Avg motion magnitude**: %.1f", magnitudeSum/float64(n)),
	}
	switch {
	case hadDanger:
		lines = append(lines, BannerDanger)
	case hadWarning:
		lines = append(lines, BannerWarning)
	default:
		lines = append(lines, BannerSafe)
	}

	if last := history[n-1].Baby.Description; last != "" {
		lines = append(lines, "\n**Latest observation**: "+last)
	}
	return strings.Join(lines, "\n")
}

// mostCommonPosition breaks ties in favor of the position seen first.
func mostCommonPosition(history []status.Observation) status.Position {
	counts := make(map[status.Position]int)
	var order []status.Position
	for _, obs := range history {
		p := obs.Baby.Position
		if counts[p] == 0 {
			order = append(order, p)
		}
		counts[p]++
	}
	best := order[0]
	for _, p := range order[1:] {
		if counts[p] > counts[best] {
			best = p
		}
	}
	return best
}
