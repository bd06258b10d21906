// Package locales holds the user-facing strings, embedded from locales.json.
package locales

import (
	_ "embed"
	"encoding/json"

	log "github.com/sirupsen/logrus"
)

//go:embed locales.json
var localesJSON []byte

// Locales mirrors locales.json.
type Locales struct {
	Menu struct {
		Welcome    string `json:"welcome"`
		Help       string `json:"help"`
		NeedLogin  string `json:"need_login"`
		LoggedOut  string `json:"logged_out"`
		Processing string `json:"processing"`
	} `json:"menu"`

	Buttons struct {
		Login       string `json:"login"`
		Schedule    string `json:"schedule"`
		MyReviews   string `json:"my_reviews"`
		Help        string `json:"help"`
		Logout      string `json:"logout"`
		Back        string `json:"back"`
		Cancel      string `json:"cancel"`
		Confirm     string `json:"confirm"`
		ViewReviews string `json:"view_reviews"`
		Recommend   string `json:"recommend"`
		Items       string `json:"items"`
		SkipReview  string `json:"skip_review"`
	} `json:"buttons"`

	Login struct {
		UsernamePrompt     string `json:"username_prompt"`
		UsernameEmpty      string `json:"username_empty"`
		PasswordPrompt     string `json:"password_prompt"`
		Success            string `json:"success"`
		InvalidCredentials string `json:"invalid_credentials"`
	} `json:"login"`

	Schedule struct {
		DaysTitle    string `json:"days_title"`
		ItemsTitle   string `json:"items_title"`
		Empty        string `json:"empty"`
		DetailsTitle string `json:"details_title"`
		Name         string `json:"name"`
		Date         string `json:"date"`
		Time         string `json:"time"`
		Self         string `json:"self"`
		Price        string `json:"price"`
		Currency     string `json:"currency"`
		Rating       string `json:"rating"`
		ReviewsCount string `json:"reviews_count"`
		Unknown      string `json:"unknown"`
	} `json:"schedule"`

	Reservation struct {
		Success         string `json:"success"`
		SlotUnavailable string `json:"slot_unavailable"`
		PortalSaid      string `json:"portal_said"`
	} `json:"reservation"`

	Review struct {
		RatingInvalid string `json:"rating_invalid"`
		CommentPrompt string `json:"comment_prompt"`
		Saved         string `json:"saved"`
		Skipped       string `json:"skipped"`
		NoReviews     string `json:"no_reviews"`
		ItemTitle     string `json:"item_title"`
		YourTitle     string `json:"your_title"`
		DefaultName   string `json:"default_name"`
	} `json:"review"`

	Errors struct {
		Connectivity   string `json:"connectivity"`
		Relogin        string `json:"relogin"`
		StaleSelection string `json:"stale_selection"`
		StoreFailure   string `json:"store_failure"`
		Generic        string `json:"generic"`
	} `json:"errors"`

	Recommend struct {
		Title    string `json:"title"`
		Fallback string `json:"fallback"`
		System   string `json:"system"`
	} `json:"recommend"`
}

var l *Locales

func init() {
	l = &Locales{}
	if err := json.Unmarshal(localesJSON, l); err != nil {
		log.Fatalf("failed to parse locales.json: %v", err)
	}
}

// Get returns the loaded strings.
func Get() *Locales {
	return l
}
