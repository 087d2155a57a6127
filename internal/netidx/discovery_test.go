package netidx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDiscoveryPublishesSwitchesAndSensors(t *testing.T) {
	p, fc := newTestPublisher()
	p.publishDiscovery(fc)

	_, ok := fc.find("homeassistant/switch/solar_charging/config")
	require.True(t, ok)
	_, ok = fc.find("homeassistant/switch/solar_load/config")
	require.True(t, ok)
	_, ok = fc.find("homeassistant/sensor/solar_array_power/config")
	require.True(t, ok)

	payload, ok := fc.find("homeassistant/switch/solar_charging/config")
	require.True(t, ok)
	assert.Contains(t, payload, "solar/control/charging/set")
}
