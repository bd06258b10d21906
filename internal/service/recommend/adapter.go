// Package recommend turns one day's menu into a prompt for the
// recommendation service and absorbs every failure into a fallback text.
package recommend

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"github.com/zhouzirui/foodbot/internal/metrics"
	"github.com/zhouzirui/foodbot/internal/model/review"
	"github.com/zhouzirui/foodbot/internal/model/schedule"
)

const (
	DefaultMaxComments    = 3
	DefaultMaxPromptRunes = 4000
	DefaultTimeout        = 25 * time.Second
)

// Generator is the recommendation service: prompt text in, advice out.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// DayMenu is the input of one recommendation.
type DayMenu struct {
	Date    string
	DayName string
	Items   []schedule.Item
}

// Config bounds the prompt and the service call.
type Config struct {
	MaxComments    int
	MaxPromptRunes int
	Timeout        time.Duration
	Fallback       string
}

func (c Config) withDefaults() Config {
	if c.MaxComments < 0 {
		c.MaxComments = 0
	} else if c.MaxComments == 0 {
		c.MaxComments = DefaultMaxComments
	}
	if c.MaxPromptRunes <= 0 {
		c.MaxPromptRunes = DefaultMaxPromptRunes
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Adapter builds prompts and calls the Generator.
type Adapter struct {
	gen     Generator
	reviews review.Store
	cfg     Config
}

// NewAdapter wires an Adapter. gen may be nil when no service is configured;
// every call then yields the fallback.
func NewAdapter(gen Generator, reviews review.Store, cfg Config) *Adapter {
	return &Adapter{gen: gen, reviews: reviews, cfg: cfg.withDefaults()}
}

// Recommend never fails: any error, timeout or blank answer gives the
// fallback text.
func (a *Adapter) Recommend(ctx context.Context, menu DayMenu) string {
	if a.gen == nil {
		metrics.Recommendations.WithLabelValues("fallback").Inc()
		return a.cfg.Fallback
	}

	prompt := a.BuildPrompt(ctx, menu)

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	text, err := a.gen.Generate(ctx, prompt)
	if err != nil {
		log.WithError(err).WithField("date", menu.Date).Warn("recommendation failed, using fallback")
		metrics.Recommendations.WithLabelValues("fallback").Inc()
		return a.cfg.Fallback
	}
	text = strings.TrimSpace(text)
	if text == "" {
		metrics.Recommendations.WithLabelValues("fallback").Inc()
		return a.cfg.Fallback
	}

	metrics.Recommendations.WithLabelValues("ok").Inc()
	return text
}

// BuildPrompt describes the menu line by line: name, slot, price, rating
// and a few recent comments. Lines that would overflow MaxPromptRunes are
// dropped whole.
func (a *Adapter) BuildPrompt(ctx context.Context, menu DayMenu) string {
	var b strings.Builder
	budget := a.cfg.MaxPromptRunes

	write := func(line string) bool {
		n := utf8.RuneCountInString(line) + 1
		if n > budget {
			return false
		}
		budget -= n
		b.WriteString(line)
		b.WriteByte('\n')
		return true
	}

	if !write(strings.TrimSpace(fmt.Sprintf("%s %s", menu.DayName, menu.Date))) {
		return truncateRunes(b.String(), a.cfg.MaxPromptRunes)
	}

	for _, item := range menu.Items {
		if !write(a.itemLine(ctx, item)) {
			break
		}
		for _, comment := range a.recentComments(ctx, item.Key) {
			if !write("  > " + comment) {
				break
			}
		}
	}
	return b.String()
}

func (a *Adapter) itemLine(ctx context.Context, item schedule.Item) string {
	line := fmt.Sprintf("- %s | %s | %s | %s", item.DisplayName, item.TimeSlot, item.SelfName, item.Price)
	if a.reviews == nil {
		return line
	}
	agg, err := a.reviews.Aggregate(ctx, item.Key)
	if err != nil {
		log.WithError(err).WithField("item", item.Key).Debug("aggregate unavailable for prompt")
		return line
	}
	if agg.Count > 0 {
		line += fmt.Sprintf(" | %.1f/5 (%d)", agg.Average, agg.Count)
	}
	return line
}

func (a *Adapter) recentComments(ctx context.Context, itemKey string) []string {
	if a.reviews == nil || a.cfg.MaxComments == 0 {
		return nil
	}
	records, err := a.reviews.ByItem(ctx, itemKey)
	if err != nil {
		return nil
	}
	out := make([]string, 0, a.cfg.MaxComments)
	for _, r := range records {
		comment := strings.Join(strings.Fields(r.Comment), " ")
		if comment == "" {
			continue
		}
		out = append(out, comment)
		if len(out) == a.cfg.MaxComments {
			break
		}
	}
	return out
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
