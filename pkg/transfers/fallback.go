package transfers

import (
	"time"

	"github.com/rs/zerolog"
)

// FallbackConfig tunes the resolution fallback controller.
type FallbackConfig struct {
	LossThresholdPercent float64
	EvalWindow           time.Duration
	MinPacketsForEval    uint64
	AutoRecovery         bool
	RecoveryDelay        time.Duration

	// MJPEG frames averaging below this share of the expected minimum
	// size over a batch indicate the link cannot carry the resolution.
	MJPEGMinSizePercent int
	MJPEGSizeBatch      int
}

func DefaultFallbackConfig() FallbackConfig {
	return FallbackConfig{
		LossThresholdPercent: 10.0,
		EvalWindow:           5 * time.Second,
		MinPacketsForEval:    100,
		AutoRecovery:         true,
		RecoveryDelay:        30 * time.Second,
		MJPEGMinSizePercent:  30,
		MJPEGSizeBatch:       30,
	}
}

// StreamRestarter is the session surface the controller drives when it
// moves between ladder levels.
type StreamRestarter interface {
	StopStream() error
	AcceptVideoFrame(width, height uint16) error
	StartStream() error
	ResetSessionStats()
}

const restartSettleDelay = 50 * time.Millisecond

// FallbackController reacts to sustained USB-level loss, or to
// undersized MJPEG frames, by stepping down the resolution ladder; it
// climbs back up after the link has been stable for a while.
type FallbackController struct {
	cfg    FallbackConfig
	ladder ResolutionLadder
	log    zerolog.Logger

	restarter StreamRestarter

	level  int
	target int
	active bool
	warned bool

	windowStart   time.Time
	windowPackets uint64
	windowErrors  uint64
	stableSince   time.Time

	lastTransition time.Time

	mjpegSizeSum   uint64
	mjpegSizeCount int
	mjpegMinSize   int

	now   func() time.Time
	sleep func(time.Duration)
}

func NewFallbackController(cfg FallbackConfig, ladder ResolutionLadder, restarter StreamRestarter, log zerolog.Logger) *FallbackController {
	if cfg.EvalWindow <= 0 {
		cfg = DefaultFallbackConfig()
	}
	return &FallbackController{
		cfg:       cfg,
		ladder:    ladder,
		restarter: restarter,
		log:       log,
		now:       time.Now,
		sleep:     time.Sleep,
	}
}

// Level is the current ladder position; 0 is the best resolution.
func (c *FallbackController) Level() int { return c.level }

// Active reports whether a fallback is in effect.
func (c *FallbackController) Active() bool { return c.active }

// Current returns the ladder rung at the current level.
func (c *FallbackController) Current() ResolutionLevel { return c.ladder.At(c.level) }

// SetLevel forces a ladder position without a restart, used at session
// start (safe mode starts at the bottom).
func (c *FallbackController) SetLevel(level int) {
	if level < 0 {
		level = 0
	}
	if max := c.ladder.MaxLevel(); level > max {
		level = max
	}
	c.level = level
	c.active = level > 0
}

// Reset clears window state; called on StartStream.
func (c *FallbackController) Reset() {
	c.windowStart = time.Time{}
	c.windowPackets = 0
	c.windowErrors = 0
	c.stableSince = time.Time{}
	c.mjpegSizeSum = 0
	c.mjpegSizeCount = 0
}

// SetExpectedMJPEGMinSize derives the undersized-frame floor for a
// resolution: MJPEG typically compresses at least 20:1, so frames below
// 5% of the raw YUY2 size already point at starvation.
func (c *FallbackController) SetExpectedMJPEGMinSize(width, height uint16) {
	c.mjpegMinSize = int(width) * int(height) * 2 / 20
}

// ObservePackets feeds per-window packet deltas from the pump's stats.
func (c *FallbackController) ObservePackets(success, errors uint64) {
	c.windowPackets += success + errors
	c.windowErrors += errors
	c.evaluate()
}

// ObserveMJPEGFrameSize feeds completed MJPEG frame sizes. A batch
// averaging far below the expected minimum triggers a fall directly:
// the frames are arriving, but starved of payload.
func (c *FallbackController) ObserveMJPEGFrameSize(size int) {
	if c.mjpegMinSize == 0 {
		return
	}
	c.mjpegSizeSum += uint64(size)
	c.mjpegSizeCount++
	if c.mjpegSizeCount < c.cfg.MJPEGSizeBatch {
		return
	}
	avg := int(c.mjpegSizeSum / uint64(c.mjpegSizeCount))
	c.mjpegSizeSum = 0
	c.mjpegSizeCount = 0
	if avg < c.mjpegMinSize*c.cfg.MJPEGMinSizePercent/100 {
		c.log.Warn().
			Int("average_size", avg).
			Int("expected_min", c.mjpegMinSize).
			Msg("MJPEG frames undersized; bandwidth insufficient")
		c.fall()
	}
}

func (c *FallbackController) evaluate() {
	now := c.now()
	if c.windowStart.IsZero() {
		c.windowStart = now
		return
	}
	if now.Sub(c.windowStart) < c.cfg.EvalWindow {
		return
	}
	packets, errors := c.windowPackets, c.windowErrors
	c.windowStart = now
	c.windowPackets = 0
	c.windowErrors = 0
	if packets < c.cfg.MinPacketsForEval {
		return
	}

	lossPercent := 100 * float64(errors) / float64(packets)
	if lossPercent > c.cfg.LossThresholdPercent {
		c.log.Warn().
			Float64("loss_percent", lossPercent).
			Float64("threshold", c.cfg.LossThresholdPercent).
			Msg("packet loss above threshold")
		c.fall()
		c.stableSince = time.Time{}
		return
	}

	if c.stableSince.IsZero() {
		c.stableSince = now
	} else if c.cfg.AutoRecovery && c.active && now.Sub(c.stableSince) > c.cfg.RecoveryDelay {
		c.recover()
	}
}

func (c *FallbackController) fall() {
	maxLevel := c.ladder.MaxLevel()
	if c.level >= maxLevel {
		if !c.warned {
			c.log.Warn().Msg("already at minimum resolution, cannot fall back further")
			c.warned = true
		}
		return
	}
	c.target = c.level + 1
	next := c.ladder.At(c.target)
	c.log.Info().
		Int("level", c.target).
		Uint16("width", next.Width).
		Uint16("height", next.Height).
		Msg("falling back to lower resolution")
	if err := c.restart(next); err != nil {
		c.log.Error().Err(err).Msg("resolution fallback restart failed")
		return
	}
	c.level = c.target
	c.active = true
	c.warned = false
	c.lastTransition = c.now()
	c.Reset()
	c.restarter.ResetSessionStats()
}

func (c *FallbackController) recover() {
	if c.level <= 0 {
		return
	}
	c.target = c.level - 1
	next := c.ladder.At(c.target)
	c.log.Info().
		Int("level", c.target).
		Uint16("width", next.Width).
		Uint16("height", next.Height).
		Msg("link stable, recovering resolution")
	if err := c.restart(next); err != nil {
		c.log.Error().Err(err).Msg("resolution recovery restart failed")
		c.stableSince = time.Time{}
		return
	}
	c.level = c.target
	c.active = c.level > 0
	c.lastTransition = c.now()
	c.stableSince = time.Time{}
	c.Reset()
	c.restarter.ResetSessionStats()
}

// restart runs the stop → settle → accept → start sequence.
func (c *FallbackController) restart(next ResolutionLevel) error {
	if err := c.restarter.StopStream(); err != nil {
		return err
	}
	c.sleep(restartSettleDelay)
	if err := c.restarter.AcceptVideoFrame(next.Width, next.Height); err != nil {
		return err
	}
	return c.restarter.StartStream()
}
