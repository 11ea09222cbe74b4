package poolbridge

import (
	"fmt"
	"regexp"
	"sort"
	"time"
)

// Snapshot field names reported by the chlorinator shadow document.
const (
	FieldTemperature     = "temperature"
	FieldPH              = "ph"
	FieldORP             = "orp"
	FieldPHSetpoint      = "ph_sp"
	FieldORPSetpoint     = "orp_sp"
	FieldErrorCode       = "error_code"
	FieldError           = "error"
	FieldErrorState      = "error_state"
	FieldProduction      = "production"
	FieldBoost           = "boost"
	FieldBoostTime       = "boost_time"
	FieldLowMode         = "low"
	FieldFilterPump      = "filter_pump"
	FieldPumpRPM         = "pump_rpm"
	FieldAux1            = "aux_1"
	FieldAux2            = "aux_2"
	FieldPower           = "exo_state"
	FieldHeatingSetpoint = "heating_sp"
	FieldHeatingEnabled  = "heating_enabled"
	FieldFirmware        = "firmware"
	FieldSerialNumber    = "serial_number"
)

// SchedulePrefix namespaces schedule entries inside a snapshot's field map,
// e.g. "schedule:sch6".
const SchedulePrefix = "schedule:"

// ScheduleField returns the snapshot field name for a schedule key.
func ScheduleField(key string) string {
	return SchedulePrefix + key
}

// Translation of chlorinator error codes to readable text.
var errorCodeText = map[int]string{
	0: "No Error",
	3: "Low Conductivity",
	4: "Check Output",
	6: "Low Water Temp",
	7: "pH Dosing Stop",
	9: "ORP Stop",
}

// ErrorCodeText maps a numeric device error code to its label.
func ErrorCodeText(code int) string {
	if text, ok := errorCodeText[code]; ok {
		return text
	}
	return "Unknown Error"
}

var timeOfDayRe = regexp.MustCompile(`^\d{2}:\d{2}(:\d{2})?$`)

// TimeOfDay is a wall-clock time encoded as "HH:MM".
type TimeOfDay string

// Midnight is the zero time-of-day; a schedule spanning midnight to midnight
// is the disabled encoding.
const Midnight TimeOfDay = "00:00"

// ParseTimeOfDay validates an "HH:MM" or "HH:MM:SS" string and truncates it
// to "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	if !timeOfDayRe.MatchString(s) {
		return "", fmt.Errorf("invalid time %q: expected HH:MM or HH:MM:SS", s)
	}
	return TimeOfDay(s[0:5]), nil
}

// IsMidnight reports whether the time is 00:00. The empty value counts as
// midnight so an unset field and the zero encoding stay equivalent.
func (t TimeOfDay) IsMidnight() bool {
	return t == "" || t == Midnight
}

// ScheduleKind classifies what a schedule drives.
type ScheduleKind string

const (
	ScheduleVSP   ScheduleKind = "VSP" // variable speed pump, carries rpm
	ScheduleSWC   ScheduleKind = "SWC" // salt water chlorinator
	ScheduleAux   ScheduleKind = "AUX"
	ScheduleOther ScheduleKind = "OTHER"
)

// ScheduleRecord is one timer slot on the device.
type ScheduleRecord struct {
	Key     string       `json:"key"`
	Enabled bool         `json:"enabled"`
	Start   TimeOfDay    `json:"start"`
	End     TimeOfDay    `json:"end"`
	Kind    ScheduleKind `json:"kind"`
	RPM     *int         `json:"rpm,omitempty"` // VSP schedules only
}

// Normalized enforces the disabled encoding: disabled and 00:00-00:00 are the
// same state and are never distinguished.
func (r ScheduleRecord) Normalized() ScheduleRecord {
	if r.Start.IsMidnight() && r.End.IsMidnight() {
		r.Enabled = false
		r.Start = Midnight
		r.End = Midnight
	}
	if !r.Enabled {
		r.Start = Midnight
		r.End = Midnight
	}
	return r
}

// DeviceSnapshot is the cached device state produced by one successful fetch.
// Values are numbers, booleans, strings, or ScheduleRecord. A snapshot value
// is immutable once published; readers always get their own copy.
type DeviceSnapshot struct {
	Fields           map[string]any `json:"fields"`
	SupportedFields  []string       `json:"supported_fields"`
	OptimisticFields []string       `json:"optimistic_fields,omitempty"`
	FetchedAt        time.Time      `json:"fetched_at"`
}

// Field returns a single field value.
func (s DeviceSnapshot) Field(name string) (any, bool) {
	v, ok := s.Fields[name]
	return v, ok
}

// Schedule returns the schedule record stored under the given key.
func (s DeviceSnapshot) Schedule(key string) (ScheduleRecord, bool) {
	v, ok := s.Fields[ScheduleField(key)]
	if !ok {
		return ScheduleRecord{}, false
	}
	rec, ok := v.(ScheduleRecord)
	return rec, ok
}

// Supports reports whether the hardware variant exposes the named field.
func (s DeviceSnapshot) Supports(field string) bool {
	for _, f := range s.SupportedFields {
		if f == field {
			return true
		}
	}
	return false
}

// Clone returns an independent copy of the snapshot.
func (s DeviceSnapshot) Clone() DeviceSnapshot {
	dup := s
	dup.Fields = make(map[string]any, len(s.Fields))
	for k, v := range s.Fields {
		dup.Fields[k] = v
	}
	dup.SupportedFields = append([]string(nil), s.SupportedFields...)
	dup.OptimisticFields = append([]string(nil), s.OptimisticFields...)
	return dup
}

// RecomputeSupported rebuilds the capability set from the present fields.
func (s *DeviceSnapshot) RecomputeSupported() {
	supported := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		supported = append(supported, name)
	}
	sort.Strings(supported)
	s.SupportedFields = supported
}

// WriteIntent is one observer's request to change a device field.
type WriteIntent struct {
	TargetField  string    `json:"target_field"`
	DesiredValue any       `json:"desired_value"`
	IssuedAt     time.Time `json:"issued_at"`
	Origin       string    `json:"origin"`
}

// Pool event types recorded in the event log.
const (
	EventPollFailed    = "POLL_FAILED"
	EventRateLimited   = "RATE_LIMITED"
	EventCommandSent   = "COMMAND_SENT"
	EventCommandFailed = "COMMAND_FAILED"
	EventAuthFailed    = "AUTH_FAILED"
	EventReload        = "RELOAD"
	EventDeviceAdded   = "DEVICE_ADDED"
	EventDeviceRemoved = "DEVICE_REMOVED"
)

// PoolEvent is a single event-log entry.
type PoolEvent struct {
	EventID     string    `json:"event_id"`
	DeviceID    string    `json:"device_id,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Metadata    any       `json:"metadata,omitempty"`
}

// Device is a registered pool controller.
type Device struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	SerialNumber       string    `json:"serial_number"`
	Email              string    `json:"email"`
	Password           string    `json:"-"`
	RefreshIntervalSec int       `json:"refresh_interval_sec"`
	CreatedAt          time.Time `json:"created_at"`
}

type User struct {
	ID           int    `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
}
