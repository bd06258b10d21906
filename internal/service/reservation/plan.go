package reservation

import (
	"strconv"
	"strings"

	sessionmodel "github.com/zhouzirui/foodbot/internal/model/session"
)

// Button payloads.
const (
	PayloadLogin      = "login"
	PayloadSchedule   = "schedule"
	PayloadConfirm    = "confirm"
	PayloadReviews    = "reviews"
	PayloadSkipReview = "skip_review"
	PayloadMyReviews  = "my_reviews"
	PayloadHelp       = "help"
	PayloadBack       = "back"
	PayloadCancel     = "cancel"
	PayloadLogout     = "logout"

	prefixDay       = "day"
	prefixItem      = "item"
	prefixRecommend = "recommend"
	prefixRate      = "rate"
)

// Commands.
const (
	CommandStart     = "/start"
	CommandHelp      = "/help"
	CommandCancel    = "/cancel"
	CommandSkip      = "/skip"
	CommandLogout    = "/logout"
	CommandMyReviews = "/myreviews"
)

// actionKind names what the executor should do. The values double as
// metric labels.
type actionKind string

const (
	actWelcome     actionKind = "welcome"
	actHelp        actionKind = "help"
	actPromptLogin actionKind = "login"
	actUsername    actionKind = "username"
	actPassword    actionKind = "password"
	actSchedule    actionKind = "schedule"
	actDay         actionKind = "day"
	actItem        actionKind = "item"
	actConfirm     actionKind = "confirm"
	actItemReviews actionKind = "item_reviews"
	actRecommend   actionKind = "recommend"
	actRate        actionKind = "rate"
	actComment     actionKind = "comment"
	actSkipComment actionKind = "skip_comment"
	actSkipReview  actionKind = "skip_review"
	actMyReviews   actionKind = "my_reviews"
	actBack        actionKind = "back"
	actLogout      actionKind = "logout"
	actStale       actionKind = "stale"
	actNeedLogin   actionKind = "need_login"
)

// action is the outcome of planning: what to do and the parsed arguments.
type action struct {
	kind   actionKind
	index  int
	rating int
	text   string
}

// guard is the part of the session that planning may look at.
type guard struct {
	state      sessionmodel.State
	loggedIn   bool
	generation int
	days       int
	items      int
}

func guardOf(s *sessionmodel.Session) guard {
	g := guard{state: s.State, loggedIn: s.Portal != nil}
	if s.Catalog != nil {
		g.generation = s.Catalog.Generation
		g.days = len(s.Catalog.Days)
		g.items = len(s.Catalog.Items)
	}
	return g
}

// plan maps an event in a given situation to an action. It has no side
// effects; the executor applies the action.
func plan(g guard, ev Event) action {
	switch ev.Kind {
	case EventCommand:
		return planCommand(g, ev)
	case EventButton:
		return planButton(g, ev)
	default:
		return planText(g, ev)
	}
}

func planCommand(g guard, ev Event) action {
	name := strings.Fields(ev.Payload + " ")[0]
	if i := strings.IndexByte(name, '@'); i > 0 {
		name = name[:i]
	}

	command := strings.ToLower(name)
	// A password may look like a command; only /cancel leaves the prompt.
	if g.state == sessionmodel.StateAwaitingPassword && command != CommandCancel {
		return planText(g, ev)
	}

	switch command {
	case CommandStart:
		return action{kind: actWelcome}
	case CommandHelp:
		return action{kind: actHelp}
	case CommandCancel:
		return action{kind: actBack}
	case CommandLogout:
		return action{kind: actLogout}
	case CommandMyReviews:
		return action{kind: actMyReviews}
	case CommandSkip:
		switch g.state {
		case sessionmodel.StateAwaitingReviewComment:
			return action{kind: actSkipComment}
		case sessionmodel.StateAwaitingReviewRating:
			return action{kind: actSkipReview}
		}
		return action{kind: actWelcome}
	}
	// Anything else is treated like text, which matters for credentials
	// that happen to start with a slash.
	return planText(g, ev)
}

func planText(g guard, ev Event) action {
	text := strings.TrimSpace(ev.Payload)
	switch g.state {
	case sessionmodel.StateAwaitingUsername:
		if text == "" {
			return action{kind: actPromptLogin}
		}
		return action{kind: actUsername, text: text}
	case sessionmodel.StateAwaitingPassword:
		return action{kind: actPassword, text: ev.Payload}
	case sessionmodel.StateAwaitingReviewRating:
		rating, err := strconv.Atoi(text)
		if err != nil {
			rating = 0
		}
		return action{kind: actRate, rating: rating}
	case sessionmodel.StateAwaitingReviewComment:
		if text == "" {
			return action{kind: actSkipComment}
		}
		return action{kind: actComment, text: text}
	}
	return action{kind: actWelcome}
}

func planButton(g guard, ev Event) action {
	name, args := splitPayload(ev.Payload)

	switch name {
	case PayloadHelp:
		return action{kind: actHelp}
	case PayloadMyReviews:
		return action{kind: actMyReviews}
	case PayloadBack, PayloadCancel:
		return action{kind: actBack}
	case PayloadLogout:
		return action{kind: actLogout}
	case PayloadLogin:
		return action{kind: actPromptLogin}
	case PayloadSkipReview:
		if g.state == sessionmodel.StateAwaitingReviewRating || g.state == sessionmodel.StateAwaitingReviewComment {
			return action{kind: actSkipReview}
		}
		return action{kind: actStale}
	case prefixRate:
		if g.state != sessionmodel.StateAwaitingReviewRating || len(args) != 1 {
			return action{kind: actStale}
		}
		rating, err := strconv.Atoi(args[0])
		if err != nil {
			rating = 0
		}
		return action{kind: actRate, rating: rating}
	}

	if !g.loggedIn {
		return action{kind: actNeedLogin}
	}

	switch name {
	case PayloadSchedule:
		return action{kind: actSchedule}
	case PayloadConfirm:
		if g.state != sessionmodel.StateItemDetail {
			return action{kind: actStale}
		}
		return action{kind: actConfirm}
	case PayloadReviews:
		if g.state != sessionmodel.StateItemDetail {
			return action{kind: actStale}
		}
		return action{kind: actItemReviews}
	case prefixDay:
		return indexed(g, args, actDay, g.days, sessionmodel.StateDayList, sessionmodel.StateItemList, sessionmodel.StateItemDetail)
	case prefixItem:
		return indexed(g, args, actItem, g.items, sessionmodel.StateItemList, sessionmodel.StateItemDetail)
	case prefixRecommend:
		return indexed(g, args, actRecommend, g.days, sessionmodel.StateItemList, sessionmodel.StateItemDetail)
	}
	return action{kind: actStale}
}

// indexed validates a "<name>:<generation>:<index>" button against the
// current catalog and state.
func indexed(g guard, args []string, kind actionKind, bound int, states ...sessionmodel.State) action {
	if len(args) != 2 {
		return action{kind: actStale}
	}
	gen, err := strconv.Atoi(args[0])
	if err != nil || gen != g.generation || g.generation == 0 {
		return action{kind: actStale}
	}
	index, err := strconv.Atoi(args[1])
	if err != nil || index < 0 || index >= bound {
		return action{kind: actStale}
	}
	for _, s := range states {
		if g.state == s {
			return action{kind: kind, index: index}
		}
	}
	return action{kind: actStale}
}

func splitPayload(payload string) (string, []string) {
	parts := strings.Split(strings.TrimSpace(payload), ":")
	return parts[0], parts[1:]
}

func dayPayload(generation, index int) string {
	return prefixDay + ":" + strconv.Itoa(generation) + ":" + strconv.Itoa(index)
}

func itemPayload(generation, index int) string {
	return prefixItem + ":" + strconv.Itoa(generation) + ":" + strconv.Itoa(index)
}

func recommendPayload(generation, day int) string {
	return prefixRecommend + ":" + strconv.Itoa(generation) + ":" + strconv.Itoa(day)
}

func ratePayload(rating int) string {
	return prefixRate + ":" + strconv.Itoa(rating)
}
