package tapocli

import "fmt"

// Domain is the integration's identifier in Home Assistant.
const Domain = "tapo_p105"

// Keys the helper's info output carries.
const (
	KeyDeviceID  = "device_id"
	KeyNickname  = "nickname"
	KeyDeviceOn  = "device_on"
	KeyModel     = "model"
	KeyHWVersion = "hw_ver"
	KeySWVersion = "fw_ver"
	KeyMAC       = "mac"
)

// RequiredKeys must be present for a status to describe a device.
var RequiredKeys = []string{KeyDeviceID, KeyNickname, KeyDeviceOn}

// DeviceStatus is one decoded info snapshot. Values are whatever the
// helper's JSON held; nothing is carried between snapshots.
type DeviceStatus map[string]interface{}

// String returns the value at key if it is a string.
func (s DeviceStatus) String(key string) (string, bool) {
	v, ok := s[key].(string)
	return v, ok
}

// Bool returns the value at key if it is a boolean.
func (s DeviceStatus) Bool(key string) (bool, bool) {
	v, ok := s[key].(bool)
	return v, ok
}

// DeviceID returns the unique id, or "" if absent.
func (s DeviceStatus) DeviceID() string {
	v, _ := s.String(KeyDeviceID)
	return v
}

// Nickname returns the display name, or "" if absent.
func (s DeviceStatus) Nickname() string {
	v, _ := s.String(KeyNickname)
	return v
}

// IsOn returns the relay state; false if absent.
func (s DeviceStatus) IsOn() bool {
	v, _ := s.Bool(KeyDeviceOn)
	return v
}

func (s DeviceStatus) Model() string {
	v, _ := s.String(KeyModel)
	return v
}

func (s DeviceStatus) HWVersion() string {
	v, _ := s.String(KeyHWVersion)
	return v
}

func (s DeviceStatus) SWVersion() string {
	v, _ := s.String(KeySWVersion)
	return v
}

func (s DeviceStatus) MAC() string {
	v, _ := s.String(KeyMAC)
	return v
}

// Validate checks that the required keys are present with the right types.
func (s DeviceStatus) Validate() error {
	for _, key := range RequiredKeys {
		if _, ok := s[key]; !ok {
			return fmt.Errorf("missing key %q", key)
		}
	}
	if _, ok := s.String(KeyDeviceID); !ok {
		return fmt.Errorf("key %q is not a string", KeyDeviceID)
	}
	if _, ok := s.Bool(KeyDeviceOn); !ok {
		return fmt.Errorf("key %q is not a boolean", KeyDeviceOn)
	}
	return nil
}
