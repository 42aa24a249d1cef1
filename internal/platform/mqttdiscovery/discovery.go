package mqttdiscovery

import (
	"encoding/json"

	"tapop105/internal/config"
	"tapop105/internal/entity"
	"tapop105/internal/tapocli"
)

// Payloads used on the state and command topics.
const (
	PayloadOn  = "ON"
	PayloadOff = "OFF"
)

// Topics is the topic layout of one plug.
type Topics struct {
	Base         string
	State        string
	Command      string
	Availability string
	Attributes   string
}

// NewTopics returns the topics under tapo_p105/<node>.
func NewTopics(node string) Topics {
	base := tapocli.Domain + "/" + node
	return Topics{
		Base:         base,
		State:        base + "/state",
		Command:      base + "/set",
		Availability: base + "/availability",
		Attributes:   base + "/attributes",
	}
}

// BridgeAvailabilityTopic carries the bridge process's last will.
func BridgeAvailabilityTopic() string {
	return tapocli.Domain + "/bridge/availability"
}

// ConfigTopic returns <prefix>/<component>/<node>/config.
func ConfigTopic(prefix, component, node string) string {
	return prefix + "/" + component + "/" + node + "/config"
}

// StatusTopic is where Home Assistant announces its own restarts.
func StatusTopic(prefix string) string {
	return prefix + "/status"
}

// Availability is one entry of a discovery availability list.
type Availability struct {
	Topic string `json:"topic"`
}

// Device is the device block of a discovery payload.
type Device struct {
	Identifiers  []string    `json:"identifiers"`
	Connections  [][2]string `json:"connections,omitempty"`
	Name         string      `json:"name"`
	Manufacturer string      `json:"manufacturer"`
	Model        string      `json:"model,omitempty"`
	SWVersion    string      `json:"sw_version,omitempty"`
	HWVersion    string      `json:"hw_version,omitempty"`
}

// Config is a Home Assistant MQTT discovery payload.
type Config struct {
	Name                string         `json:"name"`
	UniqueID            string         `json:"unique_id"`
	ObjectID            string         `json:"object_id,omitempty"`
	DeviceClass         string         `json:"device_class,omitempty"`
	StateTopic          string         `json:"state_topic"`
	CommandTopic        string         `json:"command_topic,omitempty"`
	JSONAttributesTopic string         `json:"json_attributes_topic,omitempty"`
	PayloadOn           string         `json:"payload_on"`
	PayloadOff          string         `json:"payload_off"`
	Availability        []Availability `json:"availability"`
	AvailabilityMode    string         `json:"availability_mode"`
	Device              Device         `json:"device"`
}

// NewDevice converts the registry record into the discovery device block.
func NewDevice(info entity.DeviceInfo, name string) Device {
	d := Device{
		Name:         name,
		Manufacturer: info.Manufacturer,
		Model:        info.Model,
		SWVersion:    info.SWVersion,
		HWVersion:    info.HWVersion,
	}
	for _, id := range info.Identifiers {
		d.Identifiers = append(d.Identifiers, id.Domain+"_"+id.ID)
	}
	for _, conn := range info.Connections {
		d.Connections = append(d.Connections, [2]string{conn.Type, conn.Value})
	}
	return d
}

// BuildConfigs returns the discovery payloads for a plug keyed by component:
// a binary_sensor of class plug and an outlet switch.
func BuildConfigs(e entity.Entity, topics Topics, node string) map[string]Config {
	availability := []Availability{
		{Topic: BridgeAvailabilityTopic()},
		{Topic: topics.Availability},
	}
	device := NewDevice(e.DeviceInfo(), e.Name())
	uniqueID := config.Slugify(e.UniqueID())

	return map[string]Config{
		"binary_sensor": {
			Name:                e.Name(),
			UniqueID:            tapocli.Domain + "_" + uniqueID + "_plug",
			ObjectID:            node,
			DeviceClass:         entity.DeviceClassPlug,
			StateTopic:          topics.State,
			JSONAttributesTopic: topics.Attributes,
			PayloadOn:           PayloadOn,
			PayloadOff:          PayloadOff,
			Availability:        availability,
			AvailabilityMode:    "all",
			Device:              device,
		},
		"switch": {
			Name:             e.Name() + " Switch",
			UniqueID:         tapocli.Domain + "_" + uniqueID + "_switch",
			ObjectID:         node + "_switch",
			DeviceClass:      "outlet",
			StateTopic:       topics.State,
			CommandTopic:     topics.Command,
			PayloadOn:        PayloadOn,
			PayloadOff:       PayloadOff,
			Availability:     availability,
			AvailabilityMode: "all",
			Device:           device,
		},
	}
}

// Marshal encodes a discovery payload.
func (c Config) Marshal() ([]byte, error) {
	return json.Marshal(c)
}
