package context

import "sync"

// TokenCalibrator corrects the character heuristic with the input token
// counts the provider actually billed. It keeps a fixed window of the most
// recent calls and running sums over it.
type TokenCalibrator struct {
	mu         sync.Mutex
	window     [][2]int // {estimated, actual}
	next       int
	sumEst     int
	sumActual  int
	maxSamples int
}

// The ratio estimated/actual is clamped to this band.
const (
	minRatio = 0.5
	maxRatio = 2.0
)

func NewTokenCalibrator(maxSamples int) *TokenCalibrator {
	if maxSamples <= 0 {
		maxSamples = 50
	}
	return &TokenCalibrator{maxSamples: maxSamples, window: make([][2]int, 0, maxSamples)}
}

// Record adds one provider call: the raw estimate of what was sent and the
// billed input tokens, cache reads included. Non-positive values are ignored.
func (c *TokenCalibrator) Record(estimated, actual int) {
	if c == nil || estimated <= 0 || actual <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	sample := [2]int{estimated, actual}
	if len(c.window) < c.maxSamples {
		c.window = append(c.window, sample)
	} else {
		old := c.window[c.next]
		c.sumEst -= old[0]
		c.sumActual -= old[1]
		c.window[c.next] = sample
		c.next = (c.next + 1) % c.maxSamples
	}
	c.sumEst += estimated
	c.sumActual += actual
}

func (c *TokenCalibrator) ratioLocked() float64 {
	if c.sumActual == 0 {
		return 1.0
	}
	return min(max(float64(c.sumEst)/float64(c.sumActual), minRatio), maxRatio)
}

// Adjust scales a raw estimate by the learned ratio. A nil or empty
// calibrator returns it unchanged.
func (c *TokenCalibrator) Adjust(estimated int) int {
	if c == nil {
		return estimated
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return int(float64(estimated) / c.ratioLocked())
}

func (c *TokenCalibrator) Ratio() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ratioLocked()
}

func (c *TokenCalibrator) SampleCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.window)
}
