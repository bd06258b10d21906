package reservation

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/zhouzirui/foodbot/internal/model/review"
	"github.com/zhouzirui/foodbot/internal/model/schedule"
)

const maxListedReviews = 10

func row(buttons ...Button) []Button { return buttons }

func newButton(text, payload string) Button {
	return Button{Text: text, Payload: payload}
}

func (w *Workflow) mainMenu(text string, loggedIn bool) Outbound {
	b := w.text.Buttons
	var rows [][]Button
	if loggedIn {
		rows = append(rows, row(newButton(b.Schedule, PayloadSchedule)))
	} else {
		rows = append(rows, row(newButton(b.Login, PayloadLogin)))
	}
	rows = append(rows,
		row(newButton(b.MyReviews, PayloadMyReviews)),
		row(newButton(b.Help, PayloadHelp)),
	)
	if loggedIn {
		rows = append(rows, row(newButton(b.Logout, PayloadLogout)))
	}
	return Outbound{Text: text, Buttons: rows}
}

func (w *Workflow) backOnly(text string) Outbound {
	return Outbound{Text: text, Buttons: [][]Button{row(newButton(w.text.Buttons.Back, PayloadBack))}}
}

func (w *Workflow) dayList(catalog *schedule.Catalog) Outbound {
	rows := make([][]Button, 0, len(catalog.Days)+1)
	for _, day := range catalog.Days {
		label := strings.TrimSpace(day.Name + " " + day.Date)
		rows = append(rows, row(newButton(fmt.Sprintf("%s (%d)", label, len(day.Items)), dayPayload(catalog.Generation, day.Index))))
	}
	rows = append(rows, row(newButton(w.text.Buttons.Back, PayloadBack)))
	return Outbound{Text: w.text.Schedule.DaysTitle, Buttons: rows}
}

func (w *Workflow) itemList(ctx context.Context, catalog *schedule.Catalog, dayIndex int) Outbound {
	items := catalog.DayItems(dayIndex)
	rows := make([][]Button, 0, len(items)+2)
	for _, item := range items {
		label := fmt.Sprintf("%s - %s", item.DisplayName, item.TimeSlot)
		if item.SelfName != "" {
			label += " (" + item.SelfName + ")"
		}
		if agg, ok := w.aggregate(ctx, item.Key); ok && agg.Count > 0 {
			label += fmt.Sprintf(" ⭐%.1f", agg.Average)
		}
		rows = append(rows, row(newButton(label, itemPayload(catalog.Generation, item.Index))))
	}
	rows = append(rows,
		row(newButton(w.text.Buttons.Recommend, recommendPayload(catalog.Generation, dayIndex))),
		row(newButton(w.text.Buttons.Back, PayloadBack)),
	)
	return Outbound{Text: w.text.Schedule.ItemsTitle, Buttons: rows}
}

func (w *Workflow) itemDetail(ctx context.Context, catalog *schedule.Catalog, item schedule.Item, notice string) Outbound {
	t := w.text.Schedule
	orUnknown := func(v string) string {
		if strings.TrimSpace(v) == "" {
			return t.Unknown
		}
		return v
	}

	var sb strings.Builder
	if notice != "" {
		sb.WriteString(notice)
		sb.WriteString("\n\n")
	}
	sb.WriteString(t.DetailsTitle)
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "%s: %s\n", t.Name, orUnknown(item.DisplayName))
	fmt.Fprintf(&sb, "%s: %s %s\n", t.Date, item.DayName, orUnknown(item.Date))
	fmt.Fprintf(&sb, "%s: %s\n", t.Time, orUnknown(item.TimeSlot))
	if item.SelfName != "" {
		fmt.Fprintf(&sb, "%s: %s\n", t.Self, item.SelfName)
	}
	fmt.Fprintf(&sb, "%s: %s %s\n", t.Price, item.Price, t.Currency)
	if agg, ok := w.aggregate(ctx, item.Key); ok && agg.Count > 0 {
		fmt.Fprintf(&sb, "\n%s: %.1f/5 (%d %s)\n", t.Rating, agg.Average, agg.Count, t.ReviewsCount)
	}

	b := w.text.Buttons
	return Outbound{
		Text: sb.String(),
		Buttons: [][]Button{
			row(newButton(b.Confirm, PayloadConfirm)),
			row(newButton(b.ViewReviews, PayloadReviews)),
			row(newButton(b.Items, dayPayload(catalog.Generation, item.DayIndex))),
			row(newButton(b.Back, PayloadBack)),
		},
	}
}

func (w *Workflow) ratingPrompt(text string) Outbound {
	stars := func(n int) Button { return newButton(strings.Repeat("⭐", n), ratePayload(n)) }
	return Outbound{
		Text: text,
		Buttons: [][]Button{
			row(stars(1), stars(2), stars(3)),
			row(stars(4), stars(5)),
			row(newButton(w.text.Buttons.SkipReview, PayloadSkipReview)),
		},
	}
}

func (w *Workflow) commentPrompt() Outbound {
	return Outbound{
		Text:    w.text.Review.CommentPrompt,
		Buttons: [][]Button{row(newButton(w.text.Buttons.SkipReview, PayloadSkipReview))},
	}
}

// reviewList renders records; withItem adds the item name to each line.
func (w *Workflow) reviewList(title string, records []review.Record, withItem bool) string {
	if len(records) == 0 {
		return w.text.Review.NoReviews
	}
	var sb strings.Builder
	sb.WriteString(title)
	sb.WriteString("\n")
	for i, r := range records {
		if i == maxListedReviews {
			break
		}
		sb.WriteString("\n")
		if withItem {
			sb.WriteString("🍽️ " + r.ItemDisplayName + "\n")
		} else {
			sb.WriteString("👤 " + r.UserDisplayName + "\n")
		}
		sb.WriteString(strings.Repeat("⭐", r.Rating))
		sb.WriteString(" " + r.CreatedAt.Format("2006-01-02"))
		if r.Comment != "" {
			sb.WriteString("\n💬 " + r.Comment)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (w *Workflow) aggregate(ctx context.Context, key string) (review.Aggregate, bool) {
	agg, err := w.reviews.Aggregate(ctx, key)
	if err != nil {
		log.WithError(err).WithField("item", key).Warn("review aggregate unavailable")
		return review.Aggregate{}, false
	}
	return agg, true
}
