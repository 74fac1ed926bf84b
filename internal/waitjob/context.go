package waitjob

import (
	"fmt"
	"strings"
	"time"
)

// Default bounds for a JobContext's rolling windows.
const (
	DefaultFrameCap   = 4
	DefaultVerdictCap = 3
)

// JobContext is a per-job bounded rolling window of recent frames and
// verdicts, used to build the vision prompt. Eviction is FIFO; the most
// recent frame is always retained until job termination.
type JobContext struct {
	frameCap   int
	verdictCap int

	frames   []*Frame
	verdicts []Verdict

	StartedAt    time.Time
	LastChangeAt time.Time
}

// NewJobContext returns an empty context bounded by frameCap/verdictCap.
func NewJobContext(frameCap, verdictCap int, now time.Time) *JobContext {
	return &JobContext{
		frameCap:   frameCap,
		verdictCap: verdictCap,
		StartedAt:  now,
	}
}

// AddFrame appends f, evicting the oldest frame if the window is full, and
// updates LastChangeAt to f's capture time.
func (c *JobContext) AddFrame(f *Frame) {
	c.frames = append(c.frames, f)
	if len(c.frames) > c.frameCap {
		c.frames = c.frames[len(c.frames)-c.frameCap:]
	}
	c.LastChangeAt = f.CapturedAt
}

// AddVerdict appends v, evicting the oldest verdict if the window is full.
func (c *JobContext) AddVerdict(v Verdict) {
	c.verdicts = append(c.verdicts, v)
	if len(c.verdicts) > c.verdictCap {
		c.verdicts = c.verdicts[len(c.verdicts)-c.verdictCap:]
	}
}

// Frames returns the current frame window, oldest first.
func (c *JobContext) Frames() []*Frame { return c.frames }

// Verdicts returns the current verdict window, oldest first.
func (c *JobContext) Verdicts() []Verdict { return c.verdicts }

// PartialStreakOf counts the trailing run of consecutive partial verdicts.
func (c *JobContext) PartialStreakOf() int {
	streak := 0
	for i := len(c.verdicts) - 1; i >= 0; i-- {
		if c.verdicts[i].Label != LabelPartial {
			break
		}
		streak++
	}
	return streak
}

// Prompt is a built vision prompt: the free-text instructions and the
// ordered image list (thumbnails of history, full-res of the latest frame
// last).
type Prompt struct {
	Text   string
	Images [][]byte
}

// BuildPrompt assembles the prompt: condition text
// verbatim, elapsed time, time since last change, a compact prior-verdict
// list (oldest→newest, each with relative age), the decision policy, and
// the exact FINAL_JSON output contract.
func (c *JobContext) BuildPrompt(condition string, now time.Time) Prompt {
	var b strings.Builder

	fmt.Fprintf(&b, "Wake condition: %s\n", condition)
	fmt.Fprintf(&b, "Elapsed since job start: %s\n", now.Sub(c.StartedAt).Round(time.Second))
	if !c.LastChangeAt.IsZero() {
		fmt.Fprintf(&b, "Time since last observed change: %s\n", now.Sub(c.LastChangeAt).Round(time.Second))
	} else {
		b.WriteString("Time since last observed change: none observed yet\n")
	}

	if len(c.verdicts) > 0 {
		b.WriteString("Prior verdicts (oldest to newest):\n")
		for _, v := range c.verdicts {
			age := now.Sub(v.At).Round(time.Second)
			fmt.Fprintf(&b, "- [%s ago] %s: %s\n", age, v.Label, v.Description)
		}
	}

	b.WriteString("\nDecision policy: respond \"resolved\" when the evidence clearly " +
		"shows the condition is met (confidence >= 0.75); respond \"partial\" when there " +
		"is clear progress toward the condition but it is not yet met; respond " +
		"\"watching\" only when evidence is absent, unreadable, or contradicts the " +
		"condition.\n")
	b.WriteString("Give a short free-form reasoning, then end your reply with exactly one " +
		"final line of the form:\n")
	b.WriteString(`FINAL_JSON: {"decision": "resolved|watching|partial", "confidence": <0..1>, "evidence": [...], "summary": "..."}` + "\n")

	images := make([][]byte, 0, len(c.frames))
	if len(c.frames) > 0 {
		for _, f := range c.frames[:len(c.frames)-1] {
			images = append(images, f.Thumbnail)
		}
		images = append(images, c.frames[len(c.frames)-1].Full)
	}

	return Prompt{Text: b.String(), Images: images}
}
