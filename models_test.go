package poolbridge

import "testing"

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeOfDay
		wantErr bool
	}{
		{"11:00", "11:00", false},
		{"00:00", "00:00", false},
		{"23:59:59", "23:59", false},
		{"9:00", "", true},
		{"11.00", "", true},
		{"", "", true},
		{"bedtime", "", true},
	}
	for _, tt := range tests {
		got, err := ParseTimeOfDay(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseTimeOfDay(%q) accepted", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseTimeOfDay(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseTimeOfDay(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestScheduleRecordNormalized(t *testing.T) {
	// Midnight-to-midnight is the disabled encoding, whatever Enabled says.
	rec := ScheduleRecord{Key: "sch1", Enabled: true, Start: "00:00", End: "00:00"}
	norm := rec.Normalized()
	if norm.Enabled {
		t.Fatal("midnight-to-midnight schedule still enabled")
	}

	// Disabling forces the timer to the zero encoding.
	rec = ScheduleRecord{Key: "sch1", Enabled: false, Start: "08:00", End: "20:00"}
	norm = rec.Normalized()
	if norm.Start != Midnight || norm.End != Midnight {
		t.Fatalf("disabled schedule kept timer %s-%s", norm.Start, norm.End)
	}

	// An enabled schedule with a real timer is untouched.
	rec = ScheduleRecord{Key: "sch1", Enabled: true, Start: "08:00", End: "20:00"}
	if norm = rec.Normalized(); norm != rec {
		t.Fatalf("normalization changed a valid schedule: %+v", norm)
	}
}

func TestErrorCodeText(t *testing.T) {
	if got := ErrorCodeText(0); got != "No Error" {
		t.Fatalf("code 0 = %q", got)
	}
	if got := ErrorCodeText(3); got != "Low Conductivity" {
		t.Fatalf("code 3 = %q", got)
	}
	if got := ErrorCodeText(42); got != "Unknown Error" {
		t.Fatalf("unknown code = %q", got)
	}
}

func TestSnapshotCloneIsDeep(t *testing.T) {
	snap := DeviceSnapshot{Fields: map[string]any{FieldPH: 7.2}}
	snap.RecomputeSupported()

	dup := snap.Clone()
	dup.Fields[FieldPH] = 9.9
	dup.SupportedFields[0] = "tampered"

	if snap.Fields[FieldPH] != 7.2 {
		t.Fatal("clone shares the field map")
	}
	if snap.SupportedFields[0] != FieldPH {
		t.Fatal("clone shares the capability slice")
	}
}

func TestScheduleFieldNaming(t *testing.T) {
	if got := ScheduleField("sch6"); got != "schedule:sch6" {
		t.Fatalf("ScheduleField = %q", got)
	}
	snap := DeviceSnapshot{Fields: map[string]any{
		ScheduleField("sch6"): ScheduleRecord{Key: "sch6", Enabled: true, Start: "09:00", End: "17:00"},
	}}
	rec, ok := snap.Schedule("sch6")
	if !ok || rec.Key != "sch6" {
		t.Fatalf("Schedule lookup = %+v, %v", rec, ok)
	}
	if _, ok := snap.Schedule("sch7"); ok {
		t.Fatal("missing schedule reported present")
	}
}
