package cloud

import (
	"strings"
	"time"

	"poolbridge"
)

// shadowDocument mirrors the vendor's device-shadow envelope.
type shadowDocument struct {
	State struct {
		Reported map[string]any `json:"reported"`
	} `json:"state"`
}

// parseReported flattens the reported shadow into the snapshot field map.
// Fields absent from the document are absent from the snapshot, which is how
// hardware variants advertise what they support.
func parseReported(reported map[string]any) poolbridge.DeviceSnapshot {
	fields := make(map[string]any)

	swc := subMap(subMap(reported, "equipment"), "swc_0")

	if v, ok := sensorValue(swc, "sns_3"); ok {
		fields[poolbridge.FieldTemperature] = v
	}
	if v, ok := sensorValue(swc, "sns_2"); ok {
		fields[poolbridge.FieldORP] = v
	}
	if v, ok := sensorValue(swc, "sns_1"); ok {
		fields[poolbridge.FieldPH] = v
	}
	if v, ok := asFloat(swc["orp_sp"]); ok {
		fields[poolbridge.FieldORPSetpoint] = v
	}
	if v, ok := asFloat(swc["ph_sp"]); ok {
		fields[poolbridge.FieldPHSetpoint] = v
	}
	if v, ok := asInt(swc["error_code"]); ok {
		fields[poolbridge.FieldErrorCode] = v
		fields[poolbridge.FieldError] = poolbridge.ErrorCodeText(v)
	}
	if v, ok := asBool(swc["error_state"]); ok {
		fields[poolbridge.FieldErrorState] = v
	}
	if v, ok := asFloat(swc["production"]); ok {
		fields[poolbridge.FieldProduction] = v
	}
	if v, ok := asBool(swc["boost"]); ok {
		fields[poolbridge.FieldBoost] = v
	}
	if v, ok := asString(swc["boost_time"]); ok {
		fields[poolbridge.FieldBoostTime] = v
	}
	if v, ok := asBool(swc["low"]); ok {
		fields[poolbridge.FieldLowMode] = v
	}
	if v, ok := asBool(swc["exo_state"]); ok {
		fields[poolbridge.FieldPower] = v
	}
	if v, ok := asBool(subMap(swc, "aux_1")["state"]); ok {
		fields[poolbridge.FieldAux1] = v
	}
	if v, ok := asBool(subMap(swc, "aux_2")["state"]); ok {
		fields[poolbridge.FieldAux2] = v
	}
	if v, ok := asBool(subMap(swc, "filter_pump")["state"]); ok {
		fields[poolbridge.FieldFilterPump] = v
	}
	if v, ok := asString(swc["sn"]); ok {
		fields[poolbridge.FieldSerialNumber] = v
	}

	heating := subMap(reported, "heating")
	if v, ok := asFloat(heating["sp"]); ok {
		fields[poolbridge.FieldHeatingSetpoint] = v
	}
	if v, ok := asBool(heating["enabled"]); ok {
		fields[poolbridge.FieldHeatingEnabled] = v
	}

	if v, ok := asString(subMap(reported, "debug")["Version Firmware"]); ok {
		fields[poolbridge.FieldFirmware] = v
	}

	for key, rec := range parseSchedules(subMap(reported, "schedules")) {
		fields[poolbridge.ScheduleField(key)] = rec
		// The pump's live rpm is reported through whichever vsp schedule is
		// currently active.
		if rec.Kind == poolbridge.ScheduleVSP && rec.Enabled && rec.RPM != nil {
			if active, ok := asBool(subMap(subMap(reported, "schedules"), key)["active"]); ok && active {
				fields[poolbridge.FieldPumpRPM] = float64(*rec.RPM)
			}
		}
	}

	snap := poolbridge.DeviceSnapshot{
		Fields:    fields,
		FetchedAt: time.Now().UTC(),
	}
	snap.RecomputeSupported()
	return snap
}

// parseSchedules extracts timer slots, skipping non-schedule entries such as
// the "supported" count that shares the schedules map.
func parseSchedules(raw map[string]any) map[string]poolbridge.ScheduleRecord {
	out := make(map[string]poolbridge.ScheduleRecord, len(raw))
	for key, value := range raw {
		entry, ok := value.(map[string]any)
		if !ok {
			continue
		}
		timer := subMap(entry, "timer")
		start, startErr := timeOfDay(timer["start"])
		end, endErr := timeOfDay(timer["end"])
		if startErr != nil || endErr != nil {
			continue
		}
		enabled, _ := asBool(entry["enabled"])
		rec := poolbridge.ScheduleRecord{
			Key:     key,
			Enabled: enabled,
			Start:   start,
			End:     end,
			Kind:    scheduleKind(entry["endpoint"]),
		}
		if rec.Kind == poolbridge.ScheduleVSP {
			if rpm, ok := asInt(entry["rpm"]); ok {
				rec.RPM = &rpm
			}
		}
		out[key] = rec.Normalized()
	}
	return out
}

func scheduleKind(endpoint any) poolbridge.ScheduleKind {
	s, _ := asString(endpoint)
	s = strings.ToLower(s)
	switch {
	case strings.HasPrefix(s, "vsp"):
		return poolbridge.ScheduleVSP
	case strings.HasPrefix(s, "swc"):
		return poolbridge.ScheduleSWC
	case strings.HasPrefix(s, "aux"):
		return poolbridge.ScheduleAux
	default:
		return poolbridge.ScheduleOther
	}
}

func timeOfDay(v any) (poolbridge.TimeOfDay, error) {
	s, ok := asString(v)
	if !ok {
		return poolbridge.Midnight, nil
	}
	return poolbridge.ParseTimeOfDay(s)
}

func subMap(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	sub, _ := m[key].(map[string]any)
	return sub
}

func sensorValue(swc map[string]any, sensor string) (float64, bool) {
	return asFloat(subMap(swc, sensor)["value"])
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func asInt(v any) (int, bool) {
	f, ok := asFloat(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// asBool accepts the 0/1 integers the shadow uses for switches.
func asBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case float64:
		return b != 0, true
	case int:
		return b != 0, true
	default:
		return false, false
	}
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}
