package mqtt

import "testing"

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"entity state", topics.EntityState("rvc", "light-bedroom-main"), "coachsync/state/rvc/light-bedroom-main"},
		{"entity command", topics.EntityCommand("j1939", "pump-fresh-water"), "coachsync/command/j1939/pump-fresh-water"},
		{"entity availability", topics.EntityAvailability("rvc", "lock-entry"), "coachsync/availability/rvc/lock-entry"},
		{"system status", topics.SystemStatus(), "coachsync/system/status"},
		{"all states pattern", topics.AllEntityStates(), "coachsync/state/+/+"},
		{"all availability pattern", topics.AllEntityAvailability(), "coachsync/availability/+/+"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestParseEntityTopic(t *testing.T) {
	tests := []struct {
		name         string
		topic        string
		wantProtocol string
		wantEntityID string
		wantOK       bool
	}{
		{"state topic", "coachsync/state/rvc/light-1", "rvc", "light-1", true},
		{"availability topic", "coachsync/availability/j1939/tank-grey", "j1939", "tank-grey", true},
		{"wrong prefix", "homebus/state/rvc/light-1", "", "", false},
		{"too few segments", "coachsync/state/rvc", "", "", false},
		{"too many segments", "coachsync/state/rvc/light-1/extra", "", "", false},
		{"empty entity id", "coachsync/state/rvc/", "", "", false},
		{"empty protocol", "coachsync/state//light-1", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			protocol, entityID, ok := ParseEntityTopic(tt.topic)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if protocol != tt.wantProtocol || entityID != tt.wantEntityID {
				t.Errorf("got (%q, %q), want (%q, %q)", protocol, entityID, tt.wantProtocol, tt.wantEntityID)
			}
		})
	}
}

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on zero client error = %v, want nil", err)
	}
}
