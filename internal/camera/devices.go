package camera

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// DeviceInfo describes a capture device for listings.
type DeviceInfo struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Path       string `json:"path,omitempty"`
	Resolution string `json:"resolution"`
}

// videoDeviceGlob is a variable so tests can point it at a temp dir.
var videoDeviceGlob = "/dev/video*"

// ListDevices enumerates V4L2 nodes without opening them, so a device held by
// a running capture is still listed.
func ListDevices() ([]DeviceInfo, error) {
	paths, err := filepath.Glob(videoDeviceGlob)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimSuffix(videoDeviceGlob, "*")

	seen := make(map[int]bool)
	devices := make([]DeviceInfo, 0, len(paths))
	for _, p := range paths {
		idx, err := strconv.Atoi(strings.TrimPrefix(p, prefix))
		if err != nil || seen[idx] {
			continue
		}
		seen[idx] = true
		devices = append(devices, DeviceInfo{
			ID:         idx,
			Name:       fmt.Sprintf("Camera %d", idx),
			Path:       p,
			Resolution: "unknown",
		})
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices, nil
}

// Annotate fills in the live resolution of any listed device that s is
// currently capturing from.
func (s *Source) Annotate(devices []DeviceInfo) []DeviceInfo {
	if !s.Running() {
		return devices
	}
	id := s.ID()
	w, h := s.Resolution()
	for i := range devices {
		if devices[i].ID == id {
			devices[i].Resolution = fmt.Sprintf("%dx%d", w, h)
		}
	}
	return devices
}
