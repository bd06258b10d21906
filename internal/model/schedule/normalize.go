package schedule

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/zhouzirui/foodbot/internal/apperrors"
)

// Nested collection fields of the portal response. They describe structure,
// not the item itself, and are left out of RawPayload.
const (
	fieldMeals    = "Meals"
	fieldFoodMenu = "FoodMenu"
	fieldSelfMenu = "SelfMenu"
)

const opNormalize = "schedule.normalize"

// Normalize flattens the portal's day → meal → food → price-tier response into
// a Catalog. Days and meals keep their schedule order. It performs no I/O and
// is deterministic for identical input.
func Normalize(body []byte) (Catalog, error) {
	if !gjson.ValidBytes(body) {
		return Catalog{}, apperrors.Protocolf(opNormalize, "schedule response is not valid JSON")
	}
	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		return Catalog{}, apperrors.Protocolf(opNormalize, "schedule response is not an array")
	}

	var (
		catalog Catalog
		fault   error
	)
	dayIndex := 0
	root.ForEach(func(_, day gjson.Result) bool {
		d, items, err := normalizeDay(day, dayIndex, len(catalog.Items))
		if err != nil {
			fault = err
			return false
		}
		catalog.Days = append(catalog.Days, d)
		catalog.Items = append(catalog.Items, items...)
		dayIndex++
		return true
	})
	if fault != nil {
		return Catalog{}, fault
	}
	catalog.reindex()
	return catalog, nil
}

func normalizeDay(day gjson.Result, dayIndex, offset int) (Day, []Item, error) {
	if !day.IsObject() {
		return Day{}, nil, apperrors.Protocolf(opNormalize, "day %d is not an object", dayIndex)
	}
	date := day.Get("DayDate")
	if !date.Exists() {
		return Day{}, nil, apperrors.Protocolf(opNormalize, "day %d has no DayDate", dayIndex)
	}

	d := Day{Index: dayIndex, Date: date.String(), Name: day.Get("DayName").String()}
	var items []Item
	var fault error

	day.Get(fieldMeals).ForEach(func(_, meal gjson.Result) bool {
		mealID, mealName := meal.Get("Id"), meal.Get("MealName")
		if !mealID.Exists() || !mealName.Exists() {
			fault = apperrors.Protocolf(opNormalize, "meal on %s lacks Id or MealName", d.Date)
			return false
		}
		meal.Get(fieldFoodMenu).ForEach(func(_, food gjson.Result) bool {
			foodID, foodName := food.Get("FoodId"), food.Get("FoodName")
			if !foodID.Exists() || !foodName.Exists() {
				fault = apperrors.Protocolf(opNormalize, "food in meal %s lacks FoodId or FoodName", mealID.String())
				return false
			}
			food.Get(fieldSelfMenu).ForEach(func(_, self gjson.Result) bool {
				selfID := self.Get("SelfId")
				if !selfID.Exists() {
					fault = apperrors.Protocolf(opNormalize, "price tier of food %s lacks SelfId", foodID.String())
					return false
				}

				raw := RawPayload{}
				copyFields(raw, day, fieldMeals)
				copyFields(raw, food, fieldSelfMenu)
				copyFields(raw, meal, fieldFoodMenu)
				copyFields(raw, self, "")
				raw["Date"] = json.RawMessage(date.Raw)

				price := "0"
				if p := self.Get("Price"); p.Exists() {
					price = p.String()
				}

				index := offset + len(items)
				items = append(items, Item{
					Key:         ItemKey(mealID.String(), foodID.String(), selfID.String()),
					Index:       index,
					DayIndex:    dayIndex,
					DisplayName: foodName.String(),
					Date:        d.Date,
					DayName:     d.Name,
					TimeSlot:    mealName.String(),
					SelfName:    self.Get("SelfName").String(),
					Price:       price,
					Raw:         raw,
				})
				d.Items = append(d.Items, index)
				return true
			})
			return fault == nil
		})
		return fault == nil
	})
	if fault != nil {
		return Day{}, nil, fault
	}
	return d, items, nil
}

// copyFields copies every member of obj except skip into dst, later calls
// overriding earlier ones.
func copyFields(dst RawPayload, obj gjson.Result, skip string) {
	obj.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if name == skip {
			return true
		}
		dst[name] = json.RawMessage(value.Raw)
		return true
	})
}
