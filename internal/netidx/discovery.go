package netidx

import (
	"encoding/json"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// haDevice groups every entity this supervisor publishes under one Home
// Assistant device, the same grouping pattern as the teacher's
// CreateBatteryEntity.
type haDevice struct {
	Identifiers []string `json:"identifiers"`
	Name        string   `json:"name"`
	Manufacturer string  `json:"manufacturer,omitempty"`
	Model       string   `json:"model,omitempty"`
}

type haSwitchConfig struct {
	Name        string   `json:"name"`
	CommandTopic string  `json:"command_topic"`
	StateTopic  string   `json:"state_topic"`
	PayloadOn   string   `json:"payload_on"`
	PayloadOff  string   `json:"payload_off"`
	UniqueID    string   `json:"unique_id"`
	Device      haDevice `json:"device"`
}

type haSensorConfig struct {
	Name              string   `json:"name"`
	StateTopic        string   `json:"state_topic"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	StateClass        string   `json:"state_class,omitempty"`
	UniqueID          string   `json:"unique_id"`
	Device            haDevice `json:"device"`
}

// publishDiscovery announces the control switches and a handful of
// diagnostic sensors via retained Home-Assistant discovery configs. This
// is additive UI sugar the original's solar-gui crate covered and the
// distilled spec dropped; it is not required by the core command/reply
// protocol.
func (p *Publisher) publishDiscovery(c mqtt.Client) {
	device := haDevice{
		Identifiers:  []string{"solar-supervisor-" + p.base},
		Name:         "Solar Supervisor",
		Manufacturer: "estokes",
		Model:        "Prostar MPPT supervisor",
	}

	switches := []struct{ field, name string }{
		{"charging", "Solar Charging"},
		{"load", "Solar Load"},
	}
	for _, sw := range switches {
		cfg := haSwitchConfig{
			Name:         sw.name,
			CommandTopic: p.topic("control", sw.field, "set"),
			StateTopic:   p.topic("control", sw.field),
			PayloadOn:    "true",
			PayloadOff:   "false",
			UniqueID:     "solar_" + sw.field,
			Device:       device,
		}
		publishDiscoveryConfig(c, "switch", cfg.UniqueID, cfg)
	}

	sensors := []struct {
		field, name, unit, deviceClass string
	}{
		{"battery_terminal_voltage", "Battery Voltage", "V", "voltage"},
		{"array_power", "Array Power", "W", "power"},
		{"charge_state", "Charge State", "", ""},
		{"battery_temperature", "Battery Temperature", "°C", "temperature"},
	}
	for _, s := range sensors {
		cfg := haSensorConfig{
			Name:              s.name,
			StateTopic:        p.topic("stats", s.field),
			UnitOfMeasurement: s.unit,
			DeviceClass:       s.deviceClass,
			StateClass:        "measurement",
			UniqueID:          "solar_" + s.field,
			Device:            device,
		}
		publishDiscoveryConfig(c, "sensor", cfg.UniqueID, cfg)
	}
}

func publishDiscoveryConfig(c mqtt.Client, component, uniqueID string, cfg any) {
	topic := "homeassistant/" + component + "/" + uniqueID + "/config"
	b, err := json.Marshal(cfg)
	if err != nil {
		log.Printf("netidx: marshal discovery config %s: %v", uniqueID, err)
		return
	}
	if token := c.Publish(topic, 0, true, b); token.Wait() && token.Error() != nil {
		log.Printf("netidx: publish discovery config %s: %v", uniqueID, token.Error())
	}
}
