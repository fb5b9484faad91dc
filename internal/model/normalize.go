package model

import (
	"encoding/json"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// providerCategories maps raw provider category codes onto the canonical range.
var providerCategories = map[string]int{
	"AT4": CategoryAttraction, // tourist attraction
	"CT1": CategoryAttraction, // cultural facility
	"FD6": CategoryRestaurant,
	"CE7": CategoryCafe,
	"AD5": CategoryLodging,
}

// NormalizeCategory collapses a raw category value into 0..4.
// Accepts canonical integers, numeric strings and provider codes.
// Anything else maps to CategoryCustom.
func NormalizeCategory(raw string) int {
	raw = strings.ToUpper(strings.Trim(strings.TrimSpace(raw), `"`))
	if code, ok := providerCategories[raw]; ok {
		return code
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < CategoryCustom || n > CategoryLodging {
		return CategoryCustom
	}
	return n
}

// normalizeText applies NFC so names compare equal across clients that
// compose characters differently.
func normalizeText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// UnmarshalJSON decodes a block while collapsing provider aliasing:
// coordinates may arrive as xLocation/yLocation (any casing) or
// longitude/latitude, and the category may be numeric or a provider code.
func (b *BlockDTO) UnmarshalJSON(data []byte) error {
	var raw struct {
		BlockID     int64           `json:"timetablePlaceBlockId"`
		TimetableID int64           `json:"timetableId"`
		PlaceID     json.RawMessage `json:"placeId"`
		CategoryID  json.RawMessage `json:"placeCategoryId"`
		Category    json.RawMessage `json:"placeCategory"`
		Name        *string         `json:"placeName"`
		Address     *string         `json:"placeAddress"`
		Rating      *float64        `json:"placeRating"`
		ImageURL    *string         `json:"placeImageUrl"`
		XLocation   *float64        `json:"xLocation"` // field matching is case-insensitive
		YLocation   *float64        `json:"yLocation"`
		Longitude   *float64        `json:"longitude"`
		Latitude    *float64        `json:"latitude"`
		StartTime   string          `json:"startTime"`
		EndTime     string          `json:"endTime"`
		Memo        *string         `json:"memo"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*b = BlockDTO{
		BlockID:     raw.BlockID,
		TimetableID: raw.TimetableID,
		StartTime:   strings.TrimSpace(raw.StartTime),
		EndTime:     strings.TrimSpace(raw.EndTime),
	}
	if place := strings.Trim(string(raw.PlaceID), `"`); place != "" && place != "null" {
		b.PlaceID = place
		b.Present |= FieldPlace
	}
	if raw.Name != nil {
		b.Name = normalizeText(*raw.Name)
		b.Present |= FieldName
	}
	if raw.Address != nil {
		b.Address = normalizeText(*raw.Address)
		b.Present |= FieldAddress
	}
	if raw.Rating != nil {
		b.Rating = *raw.Rating
		b.Present |= FieldRating
	}
	if raw.ImageURL != nil {
		b.ImageURL = strings.TrimSpace(*raw.ImageURL)
		b.Present |= FieldImage
	}
	if raw.Memo != nil {
		b.Memo = norm.NFC.String(*raw.Memo)
		b.Present |= FieldMemo
	}

	category := raw.CategoryID
	if len(category) == 0 {
		category = raw.Category
	}
	if len(category) > 0 && string(category) != "null" {
		b.Present |= FieldCategory
	}
	b.CategoryID = NormalizeCategory(string(category))

	if raw.XLocation != nil || raw.YLocation != nil || raw.Longitude != nil || raw.Latitude != nil {
		b.Present |= FieldLocation
	}
	b.Longitude = firstOf(raw.XLocation, raw.Longitude)
	b.Latitude = firstOf(raw.YLocation, raw.Latitude)
	return nil
}

func firstOf(vals ...*float64) float64 {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return 0
}

// EntryFromDTO converts an inbound block into an Entry addressed by its
// durable id. Times are truncated to "HH:MM".
func EntryFromDTO(b BlockDTO) Entry {
	e := Entry{
		ExternalRefID: b.PlaceID,
		CategoryID:    b.CategoryID,
		Name:          b.Name,
		Address:       b.Address,
		Rating:        b.Rating,
		ImageURL:      b.ImageURL,
		Longitude:     b.Longitude,
		Latitude:      b.Latitude,
		StartTime:     trimSeconds(b.StartTime),
		EndTime:       trimSeconds(b.EndTime),
		Memo:          b.Memo,
	}
	if b.BlockID > 0 {
		e.LocalID = FormatDurableID(b.BlockID)
	}
	return e
}

// DTO converts an entry into its wire form for the day with the given
// durable id. Temporary entries carry no block id.
func (e Entry) DTO(dayID int64) BlockDTO {
	return BlockDTO{
		BlockID:     e.DurableID(),
		TimetableID: dayID,
		PlaceID:     e.ExternalRefID,
		CategoryID:  e.CategoryID,
		Name:        e.Name,
		Address:     e.Address,
		Rating:      e.Rating,
		ImageURL:    e.ImageURL,
		Longitude:   e.Longitude,
		Latitude:    e.Latitude,
		StartTime:   e.StartTime,
		EndTime:     e.EndTime,
		Memo:        e.Memo,
	}
}

// DayFromDTO converts an inbound timetable into a Day without entries.
func DayFromDTO(t TimetableDTO) Day {
	return Day{
		DurableID:   t.TimetableID,
		Date:        t.Date,
		WindowStart: trimSeconds(t.StartTime),
		WindowEnd:   trimSeconds(t.EndTime),
	}
}

// DTO converts the day into its wire form.
func (d Day) DTO() TimetableDTO {
	return TimetableDTO{
		TimetableID: d.DurableID,
		Date:        d.Date,
		StartTime:   d.WindowStart,
		EndTime:     d.WindowEnd,
	}
}

// PlanFromDTO converts inbound plan metadata.
func PlanFromDTO(p PlanDTO) Plan {
	return Plan{
		DurableID: p.PlanID,
		Title:     normalizeText(p.Title),
		StartDate: p.StartDate,
		EndDate:   p.EndDate,
	}
}

// DTO converts the plan into its wire form.
func (p Plan) DTO() PlanDTO {
	return PlanDTO{PlanID: p.DurableID, Title: p.Title, StartDate: p.StartDate, EndDate: p.EndDate}
}

// trimSeconds turns "HH:MM:SS" into "HH:MM".
func trimSeconds(s string) string {
	if len(s) == len("15:04:05") && strings.Count(s, ":") == 2 {
		return s[:5]
	}
	return s
}
