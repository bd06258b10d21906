package schedule

import (
	"encoding/json"
	"fmt"
	"sort"
)

// RawPayload is the opaque bag of portal fields an item was built from.
// Values are kept as the exact JSON bytes the portal sent and must be passed
// back to the reservation endpoint without interpretation.
type RawPayload map[string]json.RawMessage

// Get returns the raw JSON for key.
func (p RawPayload) Get(key string) (json.RawMessage, bool) {
	v, ok := p[key]
	return v, ok
}

// Clone returns a deep copy so callers can add fields without touching the catalog.
func (p RawPayload) Clone() RawPayload {
	out := make(RawPayload, len(p))
	for k, v := range p {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// Keys returns the field names in sorted order.
func (p RawPayload) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Item is one reservable {meal slot, food, price tier} unit.
type Item struct {
	Key         string     `json:"key"`
	Index       int        `json:"index"`
	DayIndex    int        `json:"dayIndex"`
	DisplayName string     `json:"displayName"`
	Date        string     `json:"date"`
	DayName     string     `json:"dayName,omitempty"`
	TimeSlot    string     `json:"timeSlot"`
	SelfName    string     `json:"selfName,omitempty"`
	Price       string     `json:"price"`
	Raw         RawPayload `json:"-"`
}

// Day groups the items of one schedule day, in schedule order.
type Day struct {
	Index int    `json:"index"`
	Date  string `json:"date"`
	Name  string `json:"name,omitempty"`
	Items []int  `json:"items"`
}

// Catalog is a flattened snapshot of one schedule fetch.
//
// Item keys are unique within a catalog but the portal may renumber its ids
// between fetches, so keys are not guaranteed stable across catalogs.
type Catalog struct {
	Generation int    `json:"generation"`
	Days       []Day  `json:"days"`
	Items      []Item `json:"items"`

	byKey map[string]int
}

// Len returns the number of reservable items.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Items)
}

// Item returns the item at index, or false if the index is out of range.
func (c *Catalog) Item(index int) (Item, bool) {
	if c == nil || index < 0 || index >= len(c.Items) {
		return Item{}, false
	}
	return c.Items[index], true
}

// Day returns the day at index, or false if the index is out of range.
func (c *Catalog) Day(index int) (Day, bool) {
	if c == nil || index < 0 || index >= len(c.Days) {
		return Day{}, false
	}
	return c.Days[index], true
}

// DayItems returns the items of a day in schedule order.
func (c *Catalog) DayItems(index int) []Item {
	day, ok := c.Day(index)
	if !ok {
		return nil
	}
	items := make([]Item, 0, len(day.Items))
	for _, i := range day.Items {
		items = append(items, c.Items[i])
	}
	return items
}

// Lookup finds an item by key. When the portal repeats a key the first
// occurrence wins.
func (c *Catalog) Lookup(key string) (Item, bool) {
	if c == nil {
		return Item{}, false
	}
	if c.byKey == nil {
		c.reindex()
	}
	i, ok := c.byKey[key]
	if !ok {
		return Item{}, false
	}
	return c.Items[i], true
}

func (c *Catalog) reindex() {
	c.byKey = make(map[string]int, len(c.Items))
	for i, item := range c.Items {
		if _, dup := c.byKey[item.Key]; !dup {
			c.byKey[item.Key] = i
		}
	}
}

// ItemKey builds the composite key joining an item to its reviews.
func ItemKey(mealID, foodID, selfID string) string {
	return fmt.Sprintf("%s_%s_%s", mealID, foodID, selfID)
}

// Submission is the portal's verdict on a reservation. A rejected
// reservation is a normal outcome, not an error.
type Submission struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
}
