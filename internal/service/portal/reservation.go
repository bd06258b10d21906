package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"github.com/zhouzirui/foodbot/internal/apperrors"
	"github.com/zhouzirui/foodbot/internal/model/schedule"
)

const (
	opFetchSchedule = "portal.fetch_schedule"
	opSubmit        = "portal.submit_reservation"

	// AcceptedStateMessage is the literal status the portal returns for a
	// stored reservation.
	AcceptedStateMessage = "با موفقیت ثبت شد"
)

// reservationConstants are the fixed markers the portal expects on every
// reservation row.
var reservationConstants = map[string]json.RawMessage{
	"LastCounts": json.RawMessage(`0`),
	"Counts":     json.RawMessage(`1`),
	"PriceType":  json.RawMessage(`2`),
	"State":      json.RawMessage(`0`),
	"Type":       json.RawMessage(`1`),
	"OP":         json.RawMessage(`1`),
	"OpCategory": json.RawMessage(`1`),
	"Provider":   json.RawMessage(`1`),
	"Saved":      json.RawMessage(`0`),
}

// FetchSchedule downloads the current schedule and flattens it. An empty
// schedule is returned as an empty catalog; any failure is an error.
func (c *Client) FetchSchedule(ctx context.Context) (catalog schedule.Catalog, err error) {
	defer func() { record("fetch_schedule", err) }()

	token := c.token()
	if token == "" {
		return schedule.Catalog{}, apperrors.NewNotAuthenticated(opFetchSchedule)
	}

	ctx, cancel := withTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	target, _ := c.resolve(reservationPath + "?" + scheduleQuery)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return schedule.Catalog{}, apperrors.New(apperrors.Protocol, opFetchSchedule, err)
	}
	req.Header.Set(xsrfHeader, token)
	req.Header.Set("Accept", "application/json")

	resp, body, err := c.roundTrip(c.follow, opFetchSchedule, req)
	if err != nil {
		return schedule.Catalog{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return schedule.Catalog{}, statusError(opFetchSchedule, resp.StatusCode)
	}

	return schedule.Normalize(body)
}

// SubmitReservation reserves one catalog item. payload must be the item's
// RawPayload from the latest fetch. A portal refusal is reported through
// Submission.Accepted, not as an error.
func (c *Client) SubmitReservation(ctx context.Context, payload schedule.RawPayload) (result schedule.Submission, err error) {
	defer func() {
		if err == nil && !result.Accepted {
			record("submit_reservation", errors.New("refused"))
			return
		}
		record("submit_reservation", err)
	}()

	token := c.token()
	if token == "" {
		return schedule.Submission{}, apperrors.NewNotAuthenticated(opSubmit)
	}
	if len(payload) == 0 {
		return schedule.Submission{}, apperrors.Validationf(opSubmit, "empty reservation payload")
	}

	body, err := json.Marshal(BuildReservationRows(payload))
	if err != nil {
		return schedule.Submission{}, apperrors.New(apperrors.Protocol, opSubmit, errors.Wrap(err, "failed to encode payload"))
	}

	ctx, cancel := withTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	target, _ := c.resolve(reservationPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return schedule.Submission{}, apperrors.New(apperrors.Protocol, opSubmit, err)
	}
	req.Header.Set(xsrfHeader, token)
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	req.Header.Set("Accept", "application/json")

	resp, respBody, err := c.roundTrip(c.follow, opSubmit, req)
	if err != nil {
		return schedule.Submission{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return schedule.Submission{}, statusError(opSubmit, resp.StatusCode)
	}

	return ParseSubmission(respBody)
}

// BuildReservationRows wraps the item's fields, copied verbatim, into the
// single-row array the portal expects, then adds the fixed markers.
func BuildReservationRows(payload schedule.RawPayload) []schedule.RawPayload {
	row := payload.Clone()
	for _, key := range []string{"Row", "DayIndex", "MealIndex"} {
		if _, ok := row[key]; !ok {
			row[key] = json.RawMessage(`0`)
		}
	}
	if subsidy, ok := row["Yarane"]; ok {
		row["SobsidPrice"] = subsidy
	} else if _, ok := row["SobsidPrice"]; !ok {
		row["SobsidPrice"] = json.RawMessage(`0`)
	}
	for key, value := range reservationConstants {
		row[key] = value
	}
	return []schedule.RawPayload{row}
}

// ParseSubmission reads the portal's verdict from a reservation response.
func ParseSubmission(body []byte) (schedule.Submission, error) {
	if !gjson.ValidBytes(body) {
		return schedule.Submission{}, apperrors.Protocolf(opSubmit, "reservation response is not valid JSON")
	}
	root := gjson.ParseBytes(body)
	if !root.IsArray() || len(root.Array()) == 0 {
		return schedule.Submission{}, apperrors.Protocolf(opSubmit, "reservation response is not a non-empty array")
	}

	message := root.Get("0.StateMessage").String()
	return schedule.Submission{
		Accepted: message == AcceptedStateMessage,
		Message:  message,
	}, nil
}
