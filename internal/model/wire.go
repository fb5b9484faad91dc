package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Action is the mutation verb carried by an envelope.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Target identifies the entity kind an envelope refers to.
type Target string

const (
	TargetPlaceBlock Target = "timetableplaceblock"
	TargetTimetable  Target = "timetable"
	TargetPlan       Target = "plan"
)

// ErrPayloadMismatch is returned when a message payload does not match its target.
var ErrPayloadMismatch = errors.New("payload does not match target")

// BlockDTO is the wire form of an Entry.
type BlockDTO struct {
	BlockID     int64   `json:"timetablePlaceBlockId,omitempty"`
	TimetableID int64   `json:"timetableId,omitempty"`
	PlaceID     string  `json:"placeId,omitempty"`
	CategoryID  int     `json:"placeCategoryId"`
	Name        string  `json:"placeName"`
	Address     string  `json:"placeAddress"`
	Rating      float64 `json:"placeRating"`
	ImageURL    string  `json:"placeImageUrl,omitempty"`
	Longitude   float64 `json:"xLocation"`
	Latitude    float64 `json:"yLocation"`
	StartTime   string  `json:"startTime"`
	EndTime     string  `json:"endTime"`
	Memo        string  `json:"memo"`

	// Present is set by UnmarshalJSON to the optional fields whose keys
	// appeared on the wire, so explicit zero values can be told from absent
	// ones. It is zero for DTOs built in code.
	Present Fields `json:"-"`
}

// Fields is a set of optional block fields.
type Fields uint16

const (
	FieldPlace Fields = 1 << iota
	FieldCategory
	FieldName
	FieldAddress
	FieldRating
	FieldImage
	FieldLocation
	FieldMemo
)

// Has reports whether every field in f is in the set.
func (s Fields) Has(f Fields) bool { return s&f == f }

// TimetableDTO is the wire form of a Day.
type TimetableDTO struct {
	TimetableID int64  `json:"timetableId,omitempty"`
	Date        string `json:"date"`
	StartTime   string `json:"timeTableStartTime,omitempty"`
	EndTime     string `json:"timeTableEndTime,omitempty"`
}

// PlanDTO is the wire form of a Plan.
type PlanDTO struct {
	PlanID    int64  `json:"planId,omitempty"`
	Title     string `json:"title"`
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
}

// Envelope is the message exchanged on a trip's broadcast topic.
// Exactly one of the payload slices is populated, chosen by Entity.
type Envelope struct {
	Entity     Target         `json:"entity"`
	Action     Action         `json:"action"`
	Blocks     []BlockDTO     `json:"timetablePlaceBlockDtos,omitempty"`
	Timetables []TimetableDTO `json:"timetableDtos,omitempty"`
	Plans      []PlanDTO      `json:"planDtos,omitempty"`
	EventID    string         `json:"eventId,omitempty"`
}

// PendingMessage is a local mutation intent waiting to be sent.
type PendingMessage struct {
	Action        Action
	Target        Target
	Payload       any
	CorrelationID string
}

// Envelope converts the message into its wire envelope.
// Payload may be a single DTO or a slice of DTOs matching Target.
func (m PendingMessage) Envelope() (Envelope, error) {
	env := Envelope{Entity: m.Target, Action: m.Action, EventID: m.CorrelationID}

	switch m.Target {
	case TargetPlaceBlock:
		switch p := m.Payload.(type) {
		case BlockDTO:
			env.Blocks = []BlockDTO{p}
		case []BlockDTO:
			env.Blocks = p
		default:
			return Envelope{}, fmt.Errorf("%w: %s got %T", ErrPayloadMismatch, m.Target, m.Payload)
		}
	case TargetTimetable:
		switch p := m.Payload.(type) {
		case TimetableDTO:
			env.Timetables = []TimetableDTO{p}
		case []TimetableDTO:
			env.Timetables = p
		default:
			return Envelope{}, fmt.Errorf("%w: %s got %T", ErrPayloadMismatch, m.Target, m.Payload)
		}
	case TargetPlan:
		switch p := m.Payload.(type) {
		case PlanDTO:
			env.Plans = []PlanDTO{p}
		case []PlanDTO:
			env.Plans = p
		default:
			return Envelope{}, fmt.Errorf("%w: %s got %T", ErrPayloadMismatch, m.Target, m.Payload)
		}
	default:
		return Envelope{}, fmt.Errorf("unknown target %q", m.Target)
	}

	return env, nil
}

// Encode serializes the message into wire bytes.
func (m PendingMessage) Encode() ([]byte, error) {
	env, err := m.Envelope()
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope parses an inbound broadcast.
// Entity and action are lower-cased; a singular payload object is accepted
// alongside the array form.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var raw struct {
		Envelope
		Block     *BlockDTO     `json:"timetablePlaceBlockDto"`
		Timetable *TimetableDTO `json:"timetableDto"`
		Plan      *PlanDTO      `json:"planDto"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}

	env := raw.Envelope
	env.Entity = Target(strings.ToLower(strings.TrimSpace(string(env.Entity))))
	env.Action = Action(strings.ToLower(strings.TrimSpace(string(env.Action))))
	if raw.Block != nil {
		env.Blocks = append(env.Blocks, *raw.Block)
	}
	if raw.Timetable != nil {
		env.Timetables = append(env.Timetables, *raw.Timetable)
	}
	if raw.Plan != nil {
		env.Plans = append(env.Plans, *raw.Plan)
	}
	if env.Entity == "" {
		return Envelope{}, errors.New("decode envelope: missing entity")
	}
	return env, nil
}

// PresenceBroadcast is received on a trip's presence topic.
// Users is always the complete member list.
type PresenceBroadcast struct {
	Action   Action   `json:"action"`
	UID      string   `json:"uid"`
	Nickname string   `json:"userNickname"`
	Users    []Member `json:"users"`
}

// DecodePresence parses a presence broadcast.
func DecodePresence(data []byte) (PresenceBroadcast, error) {
	var pb PresenceBroadcast
	if err := json.Unmarshal(data, &pb); err != nil {
		return PresenceBroadcast{}, fmt.Errorf("decode presence: %w", err)
	}
	for i := range pb.Users {
		pb.Users[i].DisplayName = normalizeText(pb.Users[i].DisplayName)
	}
	return pb, nil
}
