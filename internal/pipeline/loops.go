package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cribwatch/cribwatch/internal/lifecycle"
	"github.com/cribwatch/cribwatch/internal/logger"
	"github.com/cribwatch/cribwatch/internal/status"
)

// visionLoop classifies a frame per period until ctx ends.
func (o *Orchestrator) visionLoop(ctx context.Context) {
	period := lifecycle.Period(o.cfg.VisionFPS)
	o.log.Debug("vision loop started", logger.Duration("period", period))
	for {
		start := time.Now()
		o.safeCycle("vision", func() { o.visionCycle(ctx) })
		o.metrics.ObserveVisionCycle(time.Since(start))
		if !lifecycle.SleepRemainder(start, period, ctx.Done()) {
			o.log.Debug("vision loop stopped")
			return
		}
	}
}

// motionLoop estimates motion per period until ctx ends and records motion
// and audio every log interval.
func (o *Orchestrator) motionLoop(ctx context.Context) {
	period := lifecycle.Period(o.cfg.MotionFPS)
	o.log.Debug("motion loop started", logger.Duration("period", period))
	lastLog := time.Now()
	for {
		start := time.Now()
		o.safeCycle("motion", func() { o.motionCycle() })
		if start.Sub(lastLog) >= o.cfg.LogInterval {
			lastLog = start
			o.safeCycle("observation log", func() { o.logObservations(ctx) })
		}
		if !lifecycle.SleepRemainder(start, period, ctx.Done()) {
			o.log.Debug("motion loop stopped")
			return
		}
	}
}

// safeCycle keeps a panicking iteration from ending its loop.
func (o *Orchestrator) safeCycle(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("pipeline cycle panicked",
				logger.String("loop", name),
				logger.String("panic", fmt.Sprint(r)))
		}
	}()
	fn()
}

func (o *Orchestrator) visionCycle(ctx context.Context) {
	audio := o.audioStatus()
	frame, ok := o.visionFrame()
	if !ok || o.guard == nil {
		// cries are still reported without a camera or classifier
		o.alerts.ObserveAudio(ctx, audio, nil)
		o.alerts.Tick(ctx, nil)
		return
	}

	o.snapshot.BeginVision(o.clock())
	baby, err := o.guard.Classify(ctx, frame)
	if err != nil {
		if ctx.Err() != nil {
			o.snapshot.EndVision()
			return
		}
		o.metrics.IncVisionErrors()
		o.log.Warn("vision classification failed, keeping last result", logger.Error(err))
		o.recordEvent(ctx, status.EventVisionError, status.SeverityWarning, map[string]any{
			"error": err.Error(),
		})
	}

	// audio may have advanced during inference
	audio = o.audioStatus()
	o.snapshot.UpdateVision(baby, audio, o.clock())
	if err == nil && o.recorder != nil {
		if rerr := o.recorder.RecordVision(ctx, baby); rerr != nil {
			o.log.Debug("vision result not recorded", logger.Error(rerr))
		}
	}

	image := o.imageFunc(frame)
	if err != nil {
		// the retained classification is stale; only audio is fresh
		o.alerts.ObserveAudio(ctx, audio, image)
		o.alerts.Tick(ctx, image)
		return
	}
	o.alerts.Observe(ctx, baby, o.snapshot.Motion(), image)
	o.alerts.ObserveAudio(ctx, audio, image)
}

func (o *Orchestrator) motionCycle() {
	frame, ok := o.stream.GetFrame()
	if !ok {
		return
	}
	start := time.Now()
	m := o.motion.Estimate(frame)
	o.snapshot.UpdateMotion(m, o.clock())
	o.metrics.ObserveMotionCycle(time.Since(start), m.Magnitude)
}

func (o *Orchestrator) logObservations(ctx context.Context) {
	captured, dropped := o.stream.Stats()
	o.metrics.SetFrameStats(strconv.Itoa(o.stream.ID()), captured, dropped)

	if o.recorder == nil {
		return
	}
	if err := o.recorder.RecordMotion(ctx, o.snapshot.Motion()); err != nil {
		o.log.Debug("motion not recorded", logger.Error(err))
	}
	if o.audio != nil && o.audio.Running() {
		if err := o.recorder.RecordAudio(ctx, o.audio.Status()); err != nil {
			o.log.Debug("audio not recorded", logger.Error(err))
		}
	}
}
