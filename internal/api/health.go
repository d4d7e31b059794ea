package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/cribwatch/cribwatch/internal/logger"
)

const (
	hostCacheKey = "host"
	hostCacheTTL = 5 * time.Second
	hostTimeout  = 2 * time.Second
)

// HostInfo is the system section of the health report.
type HostInfo struct {
	Hostname          string  `json:"hostname,omitempty"`
	OS                string  `json:"os,omitempty"`
	Platform          string  `json:"platform,omitempty"`
	PlatformVersion   string  `json:"platform_version,omitempty"`
	KernelVersion     string  `json:"kernel_version,omitempty"`
	HostUptime        uint64  `json:"host_uptime_seconds,omitempty"`
	CPUPercent        float64 `json:"cpu_percent"`
	MemoryTotal       uint64  `json:"memory_total"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`
	DiskTotal         uint64  `json:"disk_total"`
	DiskUsedPercent   float64 `json:"disk_used_percent"`
}

// PipelineHealth is the pipeline section of the health report.
type PipelineHealth struct {
	CameraID         int       `json:"camera_id"`
	AICameraID       int       `json:"ai_camera_id"`
	VisionInProgress bool      `json:"vlm_in_progress"`
	LastVisionUpdate time.Time `json:"last_vision_update"`
	LastMotionUpdate time.Time `json:"last_motion_update"`
	VisionErrors     uint64    `json:"vision_errors"`
}

// HealthResponse is the body of /api/health.
type HealthResponse struct {
	Status        string          `json:"status"`
	Uptime        string          `json:"uptime"`
	UptimeSeconds float64         `json:"uptime_seconds"`
	Timestamp     string          `json:"timestamp"`
	Pipeline      *PipelineHealth `json:"pipeline,omitempty"`
	Host          *HostInfo       `json:"host,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	uptime := time.Since(s.startTime)
	resp := HealthResponse{
		Status:        "healthy",
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		Timestamp:     time.Now().Format(time.RFC3339),
		Host:          s.hostInfo(c.Request().Context()),
	}
	if s.monitor != nil {
		st := s.monitor.Status()
		ph := &PipelineHealth{
			CameraID:         s.monitor.CameraID(),
			AICameraID:       s.monitor.AICameraID(),
			VisionInProgress: st.VisionInProgress,
			LastVisionUpdate: st.LastVisionUpdate,
			LastMotionUpdate: st.LastMotionUpdate,
		}
		if vs, ok := s.monitor.VisionStats(); ok {
			ph.VisionErrors = vs.Errors
		}
		resp.Pipeline = ph
	}
	return c.JSON(http.StatusOK, resp)
}

// hostInfo collects host metrics, cached for hostCacheTTL. Failed probes
// leave their fields zero.
func (s *Server) hostInfo(ctx context.Context) *HostInfo {
	if cached, ok := s.respCache.Get(hostCacheKey); ok {
		if hi, ok := cached.(*HostInfo); ok {
			return hi
		}
	}

	ctx, cancel := context.WithTimeout(ctx, hostTimeout)
	defer cancel()

	hi := &HostInfo{}
	if info, err := host.InfoWithContext(ctx); err != nil {
		s.log.Debug("host info unavailable", logger.Error(err))
	} else {
		hi.Hostname = info.Hostname
		hi.OS = info.OS
		hi.Platform = info.Platform
		hi.PlatformVersion = info.PlatformVersion
		hi.KernelVersion = info.KernelVersion
		hi.HostUptime = info.Uptime
	}
	// zero interval compares against the previous call
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		s.log.Debug("cpu usage unavailable", logger.Error(err))
	} else if len(pct) > 0 {
		hi.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		s.log.Debug("memory usage unavailable", logger.Error(err))
	} else {
		hi.MemoryTotal = vm.Total
		hi.MemoryUsedPercent = vm.UsedPercent
	}
	if du, err := disk.UsageWithContext(ctx, "/"); err != nil {
		s.log.Debug("disk usage unavailable", logger.Error(err))
	} else {
		hi.DiskTotal = du.Total
		hi.DiskUsedPercent = du.UsedPercent
	}

	s.respCache.Set(hostCacheKey, hi, hostCacheTTL)
	return hi
}
