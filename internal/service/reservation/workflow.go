// Package reservation drives each user through login, schedule browsing,
// reservation and the optional review. Planning is a pure function of the
// session state and the event; the Workflow applies the planned action.
package reservation

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/zhouzirui/foodbot/internal/apperrors"
	"github.com/zhouzirui/foodbot/internal/locales"
	"github.com/zhouzirui/foodbot/internal/metrics"
	"github.com/zhouzirui/foodbot/internal/model/review"
	"github.com/zhouzirui/foodbot/internal/model/schedule"
	sessionmodel "github.com/zhouzirui/foodbot/internal/model/session"
	"github.com/zhouzirui/foodbot/internal/service/portal"
	"github.com/zhouzirui/foodbot/internal/service/recommend"
	sessionsvc "github.com/zhouzirui/foodbot/internal/service/session"
)

const opLogin = "workflow.login"

// PortalClient is a portal session that can still be signed in.
type PortalClient interface {
	sessionmodel.Portal
	Authenticate(ctx context.Context, username, password string) error
}

// PortalFactory creates a fresh, unauthenticated portal client.
type PortalFactory func() (PortalClient, error)

// Recommender produces advice text for a day's menu. It never fails.
type Recommender interface {
	Recommend(ctx context.Context, menu recommend.DayMenu) string
}

// Config tunes retry and notification behaviour.
type Config struct {
	// AuthAttempts bounds sign-in attempts on transport failures.
	AuthAttempts int
	// RetryBackoff is the first pause between attempts; it doubles.
	RetryBackoff  time.Duration
	NotifyTimeout time.Duration
}

// Deps are the collaborators of a Workflow. Recommender and Notifier are
// optional.
type Deps struct {
	Sessions    *sessionsvc.Manager
	Gateway     Gateway
	Portals     PortalFactory
	Reviews     review.Store
	Recommender Recommender
	Notifier    Notifier
}

// Workflow is the reservation state machine bound to one gateway.
type Workflow struct {
	sessions    *sessionsvc.Manager
	gateway     Gateway
	portals     PortalFactory
	reviews     review.Store
	capture     *ReviewCapture
	recommender Recommender
	notifier    Notifier
	cfg         Config
	text        *locales.Locales
}

// New wires a Workflow.
func New(deps Deps, cfg Config) *Workflow {
	if cfg.AuthAttempts <= 0 {
		cfg.AuthAttempts = 1
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 5 * time.Second
	}
	text := locales.Get()
	return &Workflow{
		sessions:    deps.Sessions,
		gateway:     deps.Gateway,
		portals:     deps.Portals,
		reviews:     deps.Reviews,
		capture:     NewReviewCapture(deps.Reviews, text.Review.DefaultName),
		recommender: deps.Recommender,
		notifier:    deps.Notifier,
		cfg:         cfg,
		text:        text,
	}
}

// Handle processes one event while holding the user's session lock. User
// facing failures are answered in chat; the returned error only reports a
// reply that could not be delivered.
func (w *Workflow) Handle(ctx context.Context, ev Event) error {
	return w.sessions.With(ev.UserID, func(s *sessionmodel.Session) error {
		act := plan(guardOf(s), ev)
		err := w.apply(ctx, s, ev, act)

		metrics.WorkflowEvents.WithLabelValues(string(act.kind), metrics.Result(err)).Inc()
		log.WithFields(log.Fields{
			"user":   ev.UserID,
			"kind":   ev.Kind,
			"action": act.kind,
			"state":  s.State,
		}).Debug("event handled")
		return err
	})
}

func (w *Workflow) apply(ctx context.Context, s *sessionmodel.Session, ev Event, act action) error {
	target := replyTarget(ev)

	switch act.kind {
	case actWelcome:
		w.reset(s)
		return w.reply(ctx, s, target, w.mainMenu(w.text.Menu.Welcome, s.Portal != nil))
	case actHelp:
		return w.reply(ctx, s, target, w.mainMenu(w.text.Menu.Help, s.Portal != nil))
	case actBack:
		w.reset(s)
		return w.reply(ctx, s, target, w.mainMenu(w.text.Menu.Welcome, s.Portal != nil))
	case actLogout:
		s.Logout()
		return w.reply(ctx, s, target, w.mainMenu(w.text.Menu.LoggedOut, false))
	case actNeedLogin:
		return w.reply(ctx, s, target, w.mainMenu(w.text.Menu.NeedLogin, false))
	case actStale:
		return w.reply(ctx, s, target, w.stale(s))
	case actPromptLogin:
		return w.promptLogin(ctx, s, target)
	case actUsername:
		s.Username = act.text
		s.State = sessionmodel.StateAwaitingPassword
		return w.reply(ctx, s, target, w.cancelOnly(w.text.Login.PasswordPrompt))
	case actPassword:
		return w.login(ctx, s, ev, act.text)
	case actSchedule:
		return w.showSchedule(ctx, s, ev)
	case actDay:
		s.ClearSelection()
		s.SelectedDay = act.index
		s.State = sessionmodel.StateItemList
		return w.reply(ctx, s, target, w.itemList(ctx, s.Catalog, act.index))
	case actItem:
		return w.showItem(ctx, s, target, act.index)
	case actConfirm:
		return w.confirm(ctx, s, ev)
	case actItemReviews:
		return w.itemReviews(ctx, s, target)
	case actRecommend:
		return w.recommend(ctx, s, ev, act.index)
	case actRate:
		return w.rate(ctx, s, target, act.rating)
	case actComment:
		return w.finishReview(ctx, s, ev, act.text, false)
	case actSkipComment:
		return w.finishReview(ctx, s, ev, "", true)
	case actSkipReview:
		w.reset(s)
		return w.reply(ctx, s, target, w.mainMenu(w.text.Review.Skipped, s.Portal != nil))
	case actMyReviews:
		return w.myReviews(ctx, s, target)
	}
	return errors.Errorf("unplanned action %q", act.kind)
}

// reset abandons any sub-flow. A signed-in user lands on the idle menu,
// everybody else on the anonymous one.
func (w *Workflow) reset(s *sessionmodel.Session) {
	s.ClearSelection()
	if s.Portal != nil {
		s.State = sessionmodel.StateAuthenticatedIdle
		return
	}
	s.Username = ""
	s.State = sessionmodel.StateAnonymous
}

func (w *Workflow) promptLogin(ctx context.Context, s *sessionmodel.Session, target sessionmodel.MessageRef) error {
	if s.Portal != nil {
		s.Logout()
	}
	s.ClearSelection()
	s.Username = ""
	s.State = sessionmodel.StateAwaitingUsername
	return w.reply(ctx, s, target, w.cancelOnly(w.text.Login.UsernamePrompt))
}

func (w *Workflow) login(ctx context.Context, s *sessionmodel.Session, ev Event, password string) error {
	// The password must not stay in the chat history, whatever happens next.
	if !ev.Message.IsZero() {
		if err := w.gateway.Delete(ctx, ev.Message); err != nil {
			log.WithError(err).WithField("user", s.UserID).Warn("failed to delete password message")
		}
	}

	target := w.busy(ctx, s, sessionmodel.MessageRef{})
	client, err := w.authenticate(ctx, s.Username, password)
	if err != nil {
		s.Username = ""
		s.State = sessionmodel.StateAnonymous

		text := w.text.Errors.Relogin
		switch {
		case errors.Is(err, portal.ErrInvalidCredentials):
			text = w.text.Login.InvalidCredentials
		case apperrors.Retryable(err):
			text = w.text.Errors.Connectivity
		}
		log.WithError(err).WithField("user", s.UserID).Info("portal sign-in failed")
		return w.reply(ctx, s, target, w.mainMenu(text, false))
	}

	s.Portal = client
	s.Catalog = nil
	s.ClearSelection()
	s.State = sessionmodel.StateAuthenticatedIdle
	log.WithField("user", s.UserID).Info("portal sign-in succeeded")
	return w.reply(ctx, s, target, w.mainMenu(w.text.Login.Success, true))
}

// authenticate signs in with a fresh client per attempt, retrying only
// transport failures.
func (w *Workflow) authenticate(ctx context.Context, username, password string) (PortalClient, error) {
	backoff := w.cfg.RetryBackoff
	var lastErr error
	for attempt := 1; attempt <= w.cfg.AuthAttempts; attempt++ {
		client, err := w.portals()
		if err != nil {
			return nil, err
		}
		err = client.Authenticate(ctx, username, password)
		if err == nil {
			return client, nil
		}
		client.Close()
		lastErr = err

		if !apperrors.Retryable(err) || attempt == w.cfg.AuthAttempts {
			break
		}
		log.WithError(err).WithField("attempt", attempt).Warn("portal sign-in failed, retrying")
		if backoff > 0 {
			select {
			case <-ctx.Done():
				return nil, apperrors.New(apperrors.Transport, opLogin, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return nil, lastErr
}

func (w *Workflow) showSchedule(ctx context.Context, s *sessionmodel.Session, ev Event) error {
	target := w.busy(ctx, s, replyTarget(ev))

	catalog, err := s.Portal.FetchSchedule(ctx)
	if err != nil {
		return w.portalFailure(ctx, s, target, err, w.mainMenu(w.text.Errors.Connectivity, true))
	}

	catalog.Generation = s.NextGeneration()
	s.Catalog = &catalog
	s.ClearSelection()
	if catalog.Len() == 0 {
		s.State = sessionmodel.StateAuthenticatedIdle
		return w.reply(ctx, s, target, w.mainMenu(w.text.Schedule.Empty, true))
	}
	s.State = sessionmodel.StateDayList
	return w.reply(ctx, s, target, w.dayList(s.Catalog))
}

func (w *Workflow) showItem(ctx context.Context, s *sessionmodel.Session, target sessionmodel.MessageRef, index int) error {
	item, ok := s.Catalog.Item(index)
	if !ok {
		return w.reply(ctx, s, target, w.stale(s))
	}
	s.Pending = nil
	s.Select(item)
	s.State = sessionmodel.StateItemDetail
	return w.reply(ctx, s, target, w.itemDetail(ctx, s.Catalog, item, ""))
}

func (w *Workflow) confirm(ctx context.Context, s *sessionmodel.Session, ev Event) error {
	item, ok := s.Selected()
	if !ok {
		return w.reply(ctx, s, replyTarget(ev), w.stale(s))
	}

	target := w.busy(ctx, s, replyTarget(ev))
	s.State = sessionmodel.StateConfirming
	result, err := s.Portal.SubmitReservation(ctx, item.Raw)
	if err != nil {
		s.State = sessionmodel.StateItemDetail
		return w.portalFailure(ctx, s, target, err, w.itemDetail(ctx, s.Catalog, item, w.text.Errors.Connectivity))
	}
	if !result.Accepted {
		s.State = sessionmodel.StateItemDetail
		notice := w.text.Reservation.SlotUnavailable
		if msg := strings.TrimSpace(result.Message); msg != "" {
			notice += "\n" + w.text.Reservation.PortalSaid + ": " + msg
		}
		return w.reply(ctx, s, target, w.itemDetail(ctx, s.Catalog, item, notice))
	}

	s.Pending = &sessionmodel.PendingReview{ItemKey: item.Key, ItemDisplayName: item.DisplayName}
	s.State = sessionmodel.StateAwaitingReviewRating
	w.notify(s.UserID, item, result)
	return w.reply(ctx, s, target, w.ratingPrompt(w.text.Reservation.Success))
}

// portalFailure answers a failed portal call. Transport failures keep the
// session as it was; anything else means the portal session is unusable.
func (w *Workflow) portalFailure(ctx context.Context, s *sessionmodel.Session, target sessionmodel.MessageRef, err error, onTransport Outbound) error {
	if apperrors.Retryable(err) {
		log.WithError(err).WithField("user", s.UserID).Warn("portal unreachable")
		return w.reply(ctx, s, target, onTransport)
	}
	log.WithError(err).WithField("user", s.UserID).Error("portal session unusable, signing out")
	s.Logout()
	return w.reply(ctx, s, target, w.mainMenu(w.text.Errors.Relogin, false))
}

func (w *Workflow) rate(ctx context.Context, s *sessionmodel.Session, target sessionmodel.MessageRef, rating int) error {
	if err := w.capture.CaptureRating(s, rating); err != nil {
		return w.reply(ctx, s, target, w.ratingPrompt(w.text.Review.RatingInvalid))
	}
	s.State = sessionmodel.StateAwaitingReviewComment
	return w.reply(ctx, s, target, w.commentPrompt())
}

func (w *Workflow) finishReview(ctx context.Context, s *sessionmodel.Session, ev Event, comment string, skip bool) error {
	target := replyTarget(ev)
	record, err := w.capture.CaptureComment(ctx, s, comment, skip, ev.Profile)
	w.reset(s)

	switch {
	case err == nil:
		log.WithFields(log.Fields{"user": s.UserID, "item": record.ItemKey, "rating": record.Rating}).Info("review stored")
		return w.reply(ctx, s, target, w.mainMenu(w.text.Review.Saved, s.Portal != nil))
	case errors.Is(err, apperrors.ErrValidation):
		return w.reply(ctx, s, target, w.mainMenu(w.text.Errors.Generic, s.Portal != nil))
	default:
		log.WithError(err).WithField("user", s.UserID).Error("failed to store review")
		return w.reply(ctx, s, target, w.mainMenu(w.text.Errors.StoreFailure, s.Portal != nil))
	}
}

func (w *Workflow) itemReviews(ctx context.Context, s *sessionmodel.Session, target sessionmodel.MessageRef) error {
	item, ok := s.Selected()
	if !ok {
		return w.reply(ctx, s, target, w.stale(s))
	}

	text := w.text.Errors.StoreFailure
	records, err := w.reviews.ByItem(ctx, item.Key)
	if err != nil {
		log.WithError(err).WithField("item", item.Key).Warn("failed to load item reviews")
	} else {
		text = w.reviewList(w.text.Review.ItemTitle, records, false)
	}
	return w.reply(ctx, s, target, Outbound{
		Text: text,
		Buttons: [][]Button{
			row(newButton(w.text.Buttons.Back, itemPayload(s.Catalog.Generation, item.Index))),
		},
	})
}

func (w *Workflow) myReviews(ctx context.Context, s *sessionmodel.Session, target sessionmodel.MessageRef) error {
	text := w.text.Errors.StoreFailure
	records, err := w.reviews.ByUser(ctx, s.UserID)
	if err != nil {
		log.WithError(err).WithField("user", s.UserID).Warn("failed to load user reviews")
	} else {
		text = w.reviewList(w.text.Review.YourTitle, records, true)
	}
	return w.reply(ctx, s, target, w.backOnly(text))
}

func (w *Workflow) recommend(ctx context.Context, s *sessionmodel.Session, ev Event, dayIndex int) error {
	day, ok := s.Catalog.Day(dayIndex)
	if !ok {
		return w.reply(ctx, s, replyTarget(ev), w.stale(s))
	}
	menu := recommend.DayMenu{Date: day.Date, DayName: day.Name}
	for _, i := range day.Items {
		menu.Items = append(menu.Items, s.Catalog.Items[i])
	}

	text := w.text.Recommend.Fallback
	target := replyTarget(ev)
	if w.recommender != nil {
		target = w.busy(ctx, s, target)
		text = w.recommender.Recommend(ctx, menu)
	}
	return w.reply(ctx, s, target, Outbound{
		Text: w.text.Recommend.Title + "\n\n" + text,
		Buttons: [][]Button{
			row(newButton(w.text.Buttons.Items, dayPayload(s.Catalog.Generation, dayIndex))),
			row(newButton(w.text.Buttons.Back, PayloadBack)),
		},
	})
}

func (w *Workflow) stale(s *sessionmodel.Session) Outbound {
	if s.Portal == nil {
		return w.mainMenu(w.text.Errors.StaleSelection, false)
	}
	return Outbound{
		Text: w.text.Errors.StaleSelection,
		Buttons: [][]Button{
			row(newButton(w.text.Buttons.Schedule, PayloadSchedule)),
			row(newButton(w.text.Buttons.Back, PayloadBack)),
		},
	}
}

func (w *Workflow) cancelOnly(text string) Outbound {
	return Outbound{Text: text, Buttons: [][]Button{row(newButton(w.text.Buttons.Cancel, PayloadCancel))}}
}

func (w *Workflow) notify(userID string, item schedule.Item, result schedule.Submission) {
	if w.notifier == nil {
		return
	}
	c := Confirmation{
		UserID:          userID,
		ItemKey:         item.Key,
		ItemDisplayName: item.DisplayName,
		Date:            item.Date,
		TimeSlot:        item.TimeSlot,
		Price:           item.Price,
		PortalMessage:   result.Message,
		ConfirmedAt:     time.Now().UTC(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.cfg.NotifyTimeout)
		defer cancel()
		if err := w.notifier.ReservationConfirmed(ctx, c); err != nil {
			log.WithError(err).WithField("item", c.ItemKey).Warn("failed to publish reservation")
		}
	}()
}

// replyTarget is the message a reply should replace: the message holding the
// pressed button, or none for typed input.
func replyTarget(ev Event) sessionmodel.MessageRef {
	if ev.Kind == EventButton {
		return ev.Reply
	}
	return sessionmodel.MessageRef{}
}

// busy shows the processing notice where the answer will appear and returns
// that message.
func (w *Workflow) busy(ctx context.Context, s *sessionmodel.Session, target sessionmodel.MessageRef) sessionmodel.MessageRef {
	out := Outbound{Text: w.text.Menu.Processing}
	if !target.IsZero() {
		if err := w.gateway.Edit(ctx, target, out); err != nil && !errors.Is(err, ErrNotModified) {
			log.WithError(err).Debug("failed to show progress")
		}
		return target
	}
	ref, err := w.gateway.Send(ctx, s.UserID, out)
	if err != nil {
		log.WithError(err).Debug("failed to show progress")
		return sessionmodel.MessageRef{}
	}
	return ref
}

// reply edits target when set, falling back to a new message.
func (w *Workflow) reply(ctx context.Context, s *sessionmodel.Session, target sessionmodel.MessageRef, out Outbound) error {
	if !target.IsZero() {
		err := w.gateway.Edit(ctx, target, out)
		if err == nil || errors.Is(err, ErrNotModified) {
			s.LastMessage = target
			return nil
		}
		log.WithError(err).WithField("user", s.UserID).Debug("edit failed, sending a new message")
	}

	ref, err := w.gateway.Send(ctx, s.UserID, out)
	if err != nil {
		return errors.Wrap(err, "failed to deliver reply")
	}
	s.LastMessage = ref
	return nil
}
