package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDurableID(t *testing.T) {
	id, ok := ParseDurableID("42")
	require.True(t, ok)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "tmp_1700000000000abc", "x1", "0", "-3"} {
		_, ok := ParseDurableID(bad)
		assert.False(t, ok, "ParseDurableID(%q)", bad)
	}
}

func TestEntry_Temporary(t *testing.T) {
	tmp := Entry{LocalID: "tmp_1700000000000abcd1234"}
	assert.True(t, tmp.IsTemporary())
	assert.Equal(t, int64(0), tmp.DurableID())

	durable := Entry{LocalID: "17"}
	assert.False(t, durable.IsTemporary())
	assert.Equal(t, int64(17), durable.DurableID())
}

func TestEntry_Duration(t *testing.T) {
	e := Entry{StartTime: "10:00", EndTime: "11:30"}
	assert.Equal(t, 600, e.StartMinutes())
	assert.Equal(t, 690, e.EndMinutes())
	assert.Equal(t, 90, e.Duration())
}

func TestNormalizeCategory(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"", CategoryCustom},
		{"0", CategoryCustom},
		{"2", CategoryRestaurant},
		{"4", CategoryLodging},
		{"7", CategoryCustom},
		{"-1", CategoryCustom},
		{`"FD6"`, CategoryRestaurant},
		{"ce7", CategoryCafe},
		{"AT4", CategoryAttraction},
		{"AD5", CategoryLodging},
		{"null", CategoryCustom},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeCategory(tt.raw), "NormalizeCategory(%q)", tt.raw)
	}
}

func TestDecodeEnvelope_NormalizesAliases(t *testing.T) {
	data := []byte(`{
		"entity": "TimetablePlaceBlock",
		"action": "CREATE",
		"eventId": "tmp_1",
		"timetablePlaceBlockDtos": [{
			"timetablePlaceBlockId": 501,
			"timetableId": 9,
			"placeId": 12345,
			"placeCategory": "FD6",
			"placeName": "  Café Noir ",
			"xlocation": 126.97,
			"latitude": 37.56,
			"startTime": "12:00:00",
			"endTime": "13:00:00"
		}]
	}`)

	env, err := DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, TargetPlaceBlock, env.Entity)
	assert.Equal(t, ActionCreate, env.Action)
	assert.Equal(t, "tmp_1", env.EventID)
	require.Len(t, env.Blocks, 1)

	b := env.Blocks[0]
	assert.Equal(t, int64(501), b.BlockID)
	assert.Equal(t, int64(9), b.TimetableID)
	assert.Equal(t, "12345", b.PlaceID)
	assert.Equal(t, CategoryRestaurant, b.CategoryID)
	assert.Equal(t, "Café Noir", b.Name, "name should be trimmed and NFC-composed")
	assert.InDelta(t, 126.97, b.Longitude, 1e-9)
	assert.InDelta(t, 37.56, b.Latitude, 1e-9)

	e := EntryFromDTO(b)
	assert.Equal(t, "501", e.LocalID)
	assert.Equal(t, "12:00", e.StartTime)
	assert.Equal(t, "13:00", e.EndTime)
}

func TestBlockDTO_PresentFields(t *testing.T) {
	var b BlockDTO
	require.NoError(t, json.Unmarshal([]byte(`{"timetablePlaceBlockId":1,"memo":"","placeCategoryId":0,"placeName":"Ramen"}`), &b))
	assert.True(t, b.Present.Has(FieldMemo|FieldCategory|FieldName))
	assert.False(t, b.Present.Has(FieldAddress))
	assert.False(t, b.Present.Has(FieldLocation))
	assert.False(t, b.Present.Has(FieldPlace))

	require.NoError(t, json.Unmarshal([]byte(`{"placeId":null,"longitude":0}`), &b))
	assert.False(t, b.Present.Has(FieldPlace), "null place id is absent")
	assert.True(t, b.Present.Has(FieldLocation))
	assert.False(t, b.Present.Has(FieldMemo), "decode resets the set")
}

func TestDecodeEnvelope_SingularPayload(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"entity":"plan","action":"update","planDto":{"planId":3,"title":"Kyoto"}}`))
	require.NoError(t, err)
	require.Len(t, env.Plans, 1)
	assert.Equal(t, "Kyoto", env.Plans[0].Title)
}

func TestDecodeEnvelope_Errors(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`not json`))
	assert.Error(t, err)

	_, err = DecodeEnvelope([]byte(`{"action":"create"}`))
	assert.Error(t, err)
}

func TestPendingMessage_Encode(t *testing.T) {
	msg := PendingMessage{
		Action:        ActionDelete,
		Target:        TargetPlaceBlock,
		Payload:       BlockDTO{BlockID: 7, TimetableID: 2, StartTime: "10:00", EndTime: "11:00"},
		CorrelationID: "",
	}
	data, err := msg.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"entity": "timetableplaceblock",
		"action": "delete",
		"timetablePlaceBlockDtos": [{
			"timetablePlaceBlockId": 7,
			"timetableId": 2,
			"placeCategoryId": 0,
			"placeName": "",
			"placeAddress": "",
			"placeRating": 0,
			"xLocation": 0,
			"yLocation": 0,
			"startTime": "10:00",
			"endTime": "11:00",
			"memo": ""
		}]
	}`, string(data))
}

func TestPendingMessage_EnvelopeFieldByTarget(t *testing.T) {
	env, err := PendingMessage{Action: ActionUpdate, Target: TargetPlan, Payload: PlanDTO{PlanID: 1, Title: "Rome"}}.Envelope()
	require.NoError(t, err)
	assert.Len(t, env.Plans, 1)
	assert.Empty(t, env.Blocks)

	env, err = PendingMessage{Action: ActionCreate, Target: TargetTimetable, Payload: []TimetableDTO{{Date: "2026-05-01"}, {Date: "2026-05-02"}}}.Envelope()
	require.NoError(t, err)
	assert.Len(t, env.Timetables, 2)
}

func TestPendingMessage_PayloadMismatch(t *testing.T) {
	_, err := PendingMessage{Action: ActionCreate, Target: TargetPlan, Payload: BlockDTO{}}.Envelope()
	assert.ErrorIs(t, err, ErrPayloadMismatch)

	_, err = PendingMessage{Action: ActionCreate, Target: "hotel", Payload: BlockDTO{}}.Envelope()
	assert.Error(t, err)
}

func TestDecodePresence(t *testing.T) {
	pb, err := DecodePresence([]byte(`{"action":"create","uid":"u2","userNickname":"bo","users":[{"uid":"u1","userNickname":"ana"},{"uid":"u2","userNickname":"bo"}]}`))
	require.NoError(t, err)
	assert.Equal(t, ActionCreate, pb.Action)
	assert.Equal(t, []Member{{ConnectionID: "u1", DisplayName: "ana"}, {ConnectionID: "u2", DisplayName: "bo"}}, pb.Users)
}

func TestDay_CloneAndIndexOf(t *testing.T) {
	d := Day{Entries: []Entry{{LocalID: "1"}, {LocalID: "2"}}}
	c := d.Clone()
	c.Entries[0].LocalID = "changed"

	assert.Equal(t, "1", d.Entries[0].LocalID)
	assert.Equal(t, 1, d.IndexOf("2"))
	assert.Equal(t, -1, d.IndexOf("3"))
}
