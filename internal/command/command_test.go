package command

import (
	"errors"
	"testing"

	"github.com/coachsync/coachsync/internal/entity"
)

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

func TestCommandValidate(t *testing.T) {
	tests := []struct {
		name    string
		cmd     Command
		wantErr bool
	}{
		{"set state", Command{Kind: KindSet, State: boolPtr(true)}, false},
		{"set brightness", Command{Kind: KindSet, Brightness: intPtr(50)}, false},
		{"set both", Command{Kind: KindSet, State: boolPtr(true), Brightness: intPtr(100)}, false},
		{"set nothing", Command{Kind: KindSet}, true},
		{"toggle", Command{Kind: KindToggle}, false},
		{"brightness up", Command{Kind: KindBrightnessUp}, false},
		{"brightness down", Command{Kind: KindBrightnessDown}, false},
		{"lock", Command{Kind: KindLock}, false},
		{"unlock", Command{Kind: KindUnlock}, false},
		{"empty kind", Command{}, true},
		{"unknown kind", Command{Kind: "explode"}, true},
		{"brightness below range", Command{Kind: KindSet, Brightness: intPtr(-1)}, true},
		{"brightness above range", Command{Kind: KindSet, Brightness: intPtr(101)}, true},
		{"brightness boundary low", Command{Kind: KindSet, Brightness: intPtr(0)}, false},
		{"brightness boundary high", Command{Kind: KindSet, Brightness: intPtr(100)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidCommand) {
					t.Errorf("Validate() error = %v, want ErrInvalidCommand", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() error = %v, want nil", err)
			}
		})
	}
}

func TestTargetState(t *testing.T) {
	light := func(on bool, brightness float64) *entity.Entity {
		return &entity.Entity{
			ID:    "light-1",
			Type:  entity.DeviceTypeLight,
			State: entity.State{"on": on, "brightness": brightness},
		}
	}

	tests := []struct {
		name string
		ent  *entity.Entity
		cmd  Command
		want entity.State
	}{
		{
			"set on",
			light(false, 0),
			Command{Kind: KindSet, State: boolPtr(true)},
			entity.State{"on": true},
		},
		{
			"set brightness implies on",
			light(false, 0),
			Command{Kind: KindSet, Brightness: intPtr(60)},
			entity.State{"on": true, "brightness": float64(60)},
		},
		{
			"set brightness zero does not imply on",
			light(true, 50),
			Command{Kind: KindSet, Brightness: intPtr(0)},
			entity.State{"brightness": float64(0)},
		},
		{
			"toggle off to on",
			light(false, 0),
			Command{Kind: KindToggle},
			entity.State{"on": true},
		},
		{
			"toggle on to off",
			light(true, 80),
			Command{Kind: KindToggle},
			entity.State{"on": false},
		},
		{
			"brightness up steps by 10",
			light(true, 40),
			Command{Kind: KindBrightnessUp},
			entity.State{"on": true, "brightness": float64(50)},
		},
		{
			"brightness up clamps at 100",
			light(true, 95),
			Command{Kind: KindBrightnessUp},
			entity.State{"on": true, "brightness": float64(100)},
		},
		{
			"brightness down steps by 10",
			light(true, 40),
			Command{Kind: KindBrightnessDown},
			entity.State{"brightness": float64(30)},
		},
		{
			"brightness down clamps at 0 and turns off",
			light(true, 5),
			Command{Kind: KindBrightnessDown},
			entity.State{"brightness": float64(0), "on": false},
		},
		{
			"lock",
			&entity.Entity{ID: "lock-1", Type: entity.DeviceTypeLock, State: entity.State{"locked": false}},
			Command{Kind: KindLock},
			entity.State{"locked": true},
		},
		{
			"unlock",
			&entity.Entity{ID: "lock-1", Type: entity.DeviceTypeLock, State: entity.State{"locked": true}},
			Command{Kind: KindUnlock},
			entity.State{"locked": false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TargetState(tt.ent, tt.cmd)
			if len(got) != len(tt.want) {
				t.Fatalf("TargetState() = %v, want %v", got, tt.want)
			}
			for k, want := range tt.want {
				if !valuesEqual(got[k], want) {
					t.Errorf("TargetState()[%q] = %v, want %v", k, got[k], want)
				}
			}
		})
	}
}
