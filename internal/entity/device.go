package entity

import (
	"strings"
	"unicode"

	"tapop105/internal/tapocli"
)

// Manufacturer is reported for every plug.
const Manufacturer = "TAPO"

// ConnectionNetworkMAC is the registry connection type for MAC addresses.
const ConnectionNetworkMAC = "mac"

// Identifier is a (domain, id) pair in the device registry.
type Identifier struct {
	Domain string `json:"domain" yaml:"domain"`
	ID     string `json:"id" yaml:"id"`
}

// Connection is a (type, value) pair in the device registry.
type Connection struct {
	Type  string `json:"type" yaml:"type"`
	Value string `json:"value" yaml:"value"`
}

// DeviceInfo is the device-registry record shared by a plug's entities.
type DeviceInfo struct {
	Identifiers  []Identifier `json:"identifiers"`
	Name         string       `json:"name"`
	SWVersion    string       `json:"sw_version,omitempty"`
	HWVersion    string       `json:"hw_version,omitempty"`
	Model        string       `json:"model,omitempty"`
	Manufacturer string       `json:"manufacturer"`
	Connections  []Connection `json:"connections,omitempty"`
}

// NewDeviceInfo builds the registry record from a status snapshot.
func NewDeviceInfo(status tapocli.DeviceStatus) DeviceInfo {
	info := DeviceInfo{
		Identifiers:  []Identifier{{Domain: tapocli.Domain, ID: status.DeviceID()}},
		Name:         status.Nickname(),
		SWVersion:    status.SWVersion(),
		HWVersion:    status.HWVersion(),
		Model:        status.Model(),
		Manufacturer: Manufacturer,
	}
	if mac := status.MAC(); mac != "" {
		info.Connections = []Connection{{Type: ConnectionNetworkMAC, Value: FormatMAC(mac)}}
	}
	return info
}

// FormatMAC normalises a MAC address to lower-case colon-separated form.
// Input it does not recognise is returned unchanged.
func FormatMAC(mac string) string {
	s := mac
	switch {
	case len(s) == 17 && strings.Count(s, ":") == 5:
		return strings.ToLower(s)
	case len(s) == 17 && strings.Count(s, "-") == 5:
		s = strings.ReplaceAll(s, "-", "")
	case len(s) == 14 && strings.Count(s, ".") == 2:
		s = strings.ReplaceAll(s, ".", "")
	}

	if len(s) != 12 {
		return mac
	}

	s = strings.ToLower(s)
	parts := make([]string, 0, 6)
	for i := 0; i < 12; i += 2 {
		parts = append(parts, s[i:i+2])
	}
	return strings.Join(parts, ":")
}

// TitleCase upper-cases the first letter of every run of letters and
// lower-cases the rest.
func TitleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToTitle(r))
			}
			prevLetter = true
			continue
		}
		b.WriteRune(r)
		prevLetter = false
	}
	return b.String()
}

// DisplayName is the entity name derived from the device nickname.
func DisplayName(nickname string) string {
	return TitleCase(strings.TrimSpace(nickname))
}
