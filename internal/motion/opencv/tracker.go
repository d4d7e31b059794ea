// Package opencv implements motion.Tracker on top of gocv.
package opencv

import (
	"image"
	"math"

	"gocv.io/x/gocv"

	"github.com/cribwatch/cribwatch/internal/errors"
	"github.com/cribwatch/cribwatch/internal/motion"
)

// Shi-Tomasi and Lucas-Kanade parameters.
const (
	maxCorners    = 100
	qualityLevel  = 0.3
	minDistance   = 7
	pyramidLevels = 2
	maxIterations = 10
	epsilon       = 0.03
	minEigen      = 1e-4
)

var winSize = image.Pt(15, 15)

// Tracker runs cv::goodFeaturesToTrack on the previous frame and follows the
// corners with cv::calcOpticalFlowPyrLK. It holds no state between calls.
type Tracker struct {
	criteria gocv.TermCriteria
}

// NewTracker returns a tracker with the default termination criteria.
func NewTracker() *Tracker {
	return &Tracker{criteria: gocv.NewTermCriteria(gocv.Count|gocv.EPS, maxIterations, epsilon)}
}

// Track implements motion.Tracker.
func (t *Tracker) Track(prev, cur motion.Gray) ([]float64, int, error) {
	prevMat, err := gocv.NewMatFromBytes(prev.Height, prev.Width, gocv.MatTypeCV8UC1, prev.Pix)
	if err != nil {
		return nil, 0, trackError(err, "load_previous")
	}
	defer prevMat.Close()

	curMat, err := gocv.NewMatFromBytes(cur.Height, cur.Width, gocv.MatTypeCV8UC1, cur.Pix)
	if err != nil {
		return nil, 0, trackError(err, "load_current")
	}
	defer curMat.Close()

	corners := gocv.NewMat()
	defer corners.Close()
	if err := gocv.GoodFeaturesToTrack(prevMat, &corners, maxCorners, qualityLevel, minDistance); err != nil {
		return nil, 0, trackError(err, "good_features")
	}
	if corners.Empty() {
		return nil, 0, nil
	}

	next := gocv.NewMat()
	defer next.Close()
	found := gocv.NewMat()
	defer found.Close()
	residual := gocv.NewMat()
	defer residual.Close()

	if err := gocv.CalcOpticalFlowPyrLKWithParams(prevMat, curMat, corners, next, &found, &residual,
		winSize, pyramidLevels, t.criteria, 0, minEigen); err != nil {
		return nil, 0, trackError(err, "optical_flow")
	}

	n := corners.Rows()
	displacements := make([]float64, 0, n)
	for i := range n {
		if found.GetUCharAt(i, 0) != 1 {
			continue
		}
		p0 := corners.GetVecfAt(i, 0)
		p1 := next.GetVecfAt(i, 0)
		displacements = append(displacements, math.Hypot(float64(p1[0]-p0[0]), float64(p1[1]-p0[1])))
	}
	return displacements, n, nil
}

func trackError(err error, op string) error {
	return errors.New(err).
		Component("motion").
		Category(errors.CategoryMotion).
		Context("operation", op).
		Build()
}
