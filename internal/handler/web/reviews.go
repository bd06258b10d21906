package web

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/foodbot/internal/model/review"
	"github.com/zhouzirui/foodbot/pkg/utils"
)

// ReviewHandler exposes stored reviews read-only.
type ReviewHandler struct {
	store review.Store
}

// NewReviewHandler creates a handler over store.
func NewReviewHandler(store review.Store) *ReviewHandler {
	return &ReviewHandler{store: store}
}

// RegisterRoutes mounts the review endpoints on r.
func (h *ReviewHandler) RegisterRoutes(r chi.Router) {
	r.Get("/items/{itemKey}/reviews", h.itemReviews)
	r.Get("/users/{userID}/reviews", h.userReviews)
}

type itemReviewsResponse struct {
	ItemKey   string           `json:"itemKey"`
	Aggregate review.Aggregate `json:"aggregate"`
	Reviews   []review.Record  `json:"reviews"`
}

type userReviewsResponse struct {
	UserID  string          `json:"userId"`
	Reviews []review.Record `json:"reviews"`
}

func (h *ReviewHandler) itemReviews(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(chi.URLParam(r, "itemKey"))
	if key == "" {
		utils.RespondError(w, http.StatusBadRequest, "itemKey is required")
		return
	}

	agg, err := h.store.Aggregate(r.Context(), key)
	if err != nil {
		utils.RespondFailure(w, err)
		return
	}
	records, err := h.store.ByItem(r.Context(), key)
	if err != nil {
		utils.RespondFailure(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, itemReviewsResponse{
		ItemKey:   key,
		Aggregate: agg,
		Reviews:   nonNil(records),
	})
}

func (h *ReviewHandler) userReviews(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		utils.RespondError(w, http.StatusBadRequest, "userID is required")
		return
	}

	records, err := h.store.ByUser(r.Context(), userID)
	if err != nil {
		utils.RespondFailure(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, userReviewsResponse{UserID: userID, Reviews: nonNil(records)})
}

func nonNil(records []review.Record) []review.Record {
	if records == nil {
		return []review.Record{}
	}
	return records
}
