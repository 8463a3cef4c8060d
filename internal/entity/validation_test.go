package entity

import (
	"errors"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	valid := func() *Entity {
		return &Entity{
			ID:       "light-1",
			Name:     "Bedroom Light",
			Type:     DeviceTypeLight,
			Protocol: ProtocolRVC,
			State:    State{"on": false},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Entity)
		wantErr error
	}{
		{"valid entity", func(*Entity) {}, nil},
		{"empty name", func(e *Entity) { e.Name = "" }, ErrInvalidName},
		{"whitespace name", func(e *Entity) { e.Name = "   " }, ErrInvalidName},
		{"name too long", func(e *Entity) { e.Name = strings.Repeat("x", 129) }, ErrInvalidName},
		{"unknown device type", func(e *Entity) { e.Type = "toaster" }, ErrInvalidDeviceType},
		{"empty device type", func(e *Entity) { e.Type = "" }, ErrInvalidDeviceType},
		{"unknown protocol", func(e *Entity) { e.Protocol = "zigbee" }, ErrInvalidProtocol},
		{"empty state field name", func(e *Entity) { e.State = State{"": true} }, ErrInvalidState},
		{"nil state is fine", func(e *Entity) { e.State = nil }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ent := valid()
			tt.mutate(ent)
			err := Validate(ent)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
			// Every validation failure is also ErrInvalid, which is what
			// HTTP handlers branch on to return 400 instead of 500.
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() error = %v does not wrap ErrInvalid", err)
			}
		})
	}
}

func TestValidateNil(t *testing.T) {
	if err := Validate(nil); !errors.Is(err, ErrInvalid) {
		t.Errorf("Validate(nil) error = %v, want ErrInvalid", err)
	}
}

func TestGenerateID(t *testing.T) {
	a := GenerateID()
	b := GenerateID()
	if a == "" || b == "" {
		t.Fatal("GenerateID() returned empty string")
	}
	if a == b {
		t.Error("GenerateID() returned duplicate IDs")
	}
}
