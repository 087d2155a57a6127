package netidx

import (
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estokes/solar/internal/control"
	"github.com/estokes/solar/internal/mppt"
	"github.com/estokes/solar/internal/stats"
)

// doneToken is a mqtt.Token that is already satisfied, for fakeClient calls
// that don't need to simulate network latency.
type doneToken struct{ err error }

func (d *doneToken) Wait() bool                     { return true }
func (d *doneToken) WaitTimeout(time.Duration) bool { return true }
func (d *doneToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (d *doneToken) Error() error                   { return d.err }

type publishedMsg struct {
	topic   string
	payload string
}

// fakeClient records every Publish call so tests can assert on exactly what
// left the Publisher without a real broker.
type fakeClient struct {
	mu        sync.Mutex
	published []publishedMsg
}

func (f *fakeClient) IsConnected() bool      { return true }
func (f *fakeClient) IsConnectionOpen() bool { return true }
func (f *fakeClient) Connect() mqtt.Token    { return &doneToken{} }
func (f *fakeClient) Disconnect(quiesce uint) {}
func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	var s string
	switch p := payload.(type) {
	case string:
		s = p
	case []byte:
		s = string(p)
	}
	f.published = append(f.published, publishedMsg{topic: topic, payload: s})
	return &doneToken{}
}
func (f *fakeClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	return &doneToken{}
}
func (f *fakeClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	return &doneToken{}
}
func (f *fakeClient) Unsubscribe(topics ...string) mqtt.Token    { return &doneToken{} }
func (f *fakeClient) AddRoute(topic string, callback mqtt.MessageHandler) {}
func (f *fakeClient) OptionsReader() mqtt.ClientOptionsReader     { return mqtt.ClientOptionsReader{} }

func (f *fakeClient) find(topic string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.published) - 1; i >= 0; i-- {
		if f.published[i].topic == topic {
			return f.published[i].payload, true
		}
	}
	return "", false
}

func (f *fakeClient) count(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.published {
		if m.topic == topic {
			n++
		}
	}
	return n
}

func newTestPublisher() (*Publisher, *fakeClient) {
	fc := &fakeClient{}
	p := &Publisher{
		client:         fc,
		base:           "solar",
		cmds:           make(chan control.Command, 10),
		lastSent:       make(map[string]string),
		controlWrites:  make(chan writeRequest, 10),
		settingsWrites: make(chan writeRequest, 10),
	}
	return p, fc
}

func TestFieldFromSetTopic(t *testing.T) {
	assert.Equal(t, "regulation_voltage", fieldFromSetTopic("solar", "solar/settings/regulation_voltage/set"))
	assert.Equal(t, "", fieldFromSetTopic("solar", "solar/settings/set"))
	assert.Equal(t, "", fieldFromSetTopic("solar", "other/settings/x/set"))
	assert.Equal(t, "", fieldFromSetTopic("solar", "solar/settings/x/setx"))
}

func TestParseBoolAccepted(t *testing.T) {
	for _, s := range []string{"true", "True", "1", "ON", "on"} {
		b, err := parseBool(s)
		require.NoError(t, err)
		assert.True(t, b)
	}
	for _, s := range []string{"false", "False", "0", "OFF", "off"} {
		b, err := parseBool(s)
		require.NoError(t, err)
		assert.False(t, b)
	}
}

func TestParseBoolRejectsGarbage(t *testing.T) {
	_, err := parseBool("maybe")
	assert.Error(t, err)
}

func TestApplySettingsFieldFloat(t *testing.T) {
	var s mppt.Settings
	require.NoError(t, applySettingsField(&s, "regulation_voltage", "56.8"))
	assert.InDelta(t, 56.8, s.RegulationVoltage, 0.01)
}

func TestApplySettingsFieldBool(t *testing.T) {
	var s mppt.Settings
	require.NoError(t, applySettingsField(&s, "alarm_on_setting_change", "true"))
	assert.True(t, s.AlarmOnSettingChange)
}

func TestApplySettingsFieldUint(t *testing.T) {
	var s mppt.Settings
	require.NoError(t, applySettingsField(&s, "modbus_id", "7"))
	assert.Equal(t, uint8(7), s.ModbusID)
}

func TestApplySettingsFieldRejectsWrongType(t *testing.T) {
	var s mppt.Settings
	err := applySettingsField(&s, "regulation_voltage", "not-a-float")
	assert.Error(t, err)
}

func TestApplySettingsFieldUnknown(t *testing.T) {
	var s mppt.Settings
	err := applySettingsField(&s, "no_such_field", "1")
	assert.Error(t, err)
}

func TestPublishChangedSuppressesDuplicates(t *testing.T) {
	p, fc := newTestPublisher()
	p.publishChanged("solar/stats/array_power", "10", false)
	p.publishChanged("solar/stats/array_power", "10", false)
	assert.Equal(t, 1, fc.count("solar/stats/array_power"))
}

func TestPublishChangedRepublishesOnChange(t *testing.T) {
	p, fc := newTestPublisher()
	p.publishChanged("solar/stats/array_power", "10", false)
	p.publishChanged("solar/stats/array_power", "11", false)
	assert.Equal(t, 2, fc.count("solar/stats/array_power"))
}

func TestPublishChangedUnconditionalAlwaysSends(t *testing.T) {
	p, fc := newTestPublisher()
	p.publishChanged("solar/stats/timestamp", "t0", true)
	p.publishChanged("solar/stats/timestamp", "t0", true)
	assert.Equal(t, 2, fc.count("solar/stats/timestamp"))
}

func TestPublishStatsDerivesChargingAndLoad(t *testing.T) {
	p, fc := newTestPublisher()
	env := stats.NewV3(time.Now(), &mppt.Stats{
		ChargeState: mppt.ChargeBulk,
		LoadState:   mppt.LoadNormal,
	})
	p.PublishStats(env)

	charging, ok := fc.find("solar/control/charging")
	require.True(t, ok)
	assert.Equal(t, "true", charging)

	load, ok := fc.find("solar/control/load")
	require.True(t, ok)
	assert.Equal(t, "true", load)
}

func TestPublishStatsDisconnectIsNotCharging(t *testing.T) {
	p, fc := newTestPublisher()
	env := stats.NewV3(time.Now(), &mppt.Stats{
		ChargeState: mppt.ChargeDisconnect,
		LoadState:   mppt.LoadLVD,
	})
	p.PublishStats(env)

	charging, _ := fc.find("solar/control/charging")
	assert.Equal(t, "false", charging)
	load, _ := fc.find("solar/control/load")
	assert.Equal(t, "false", load)
}

func TestPublishStatsSkipsWhenControllerNil(t *testing.T) {
	p, fc := newTestPublisher()
	p.PublishStats(stats.Envelope{})
	assert.Empty(t, fc.published)
}

func TestPublishSettingsUpdatesCacheAndPublishesFields(t *testing.T) {
	p, fc := newTestPublisher()
	p.PublishSettings(mppt.Settings{RegulationVoltage: 56, ModbusID: 3})

	p.mu.Lock()
	cached := p.settings
	p.mu.Unlock()
	assert.Equal(t, float32(56), cached.RegulationVoltage)

	v, ok := fc.find("solar/settings/regulation_voltage")
	require.True(t, ok)
	assert.Equal(t, "56", v)
}

func TestIsCounterField(t *testing.T) {
	assert.True(t, isCounterField("hourmeter"))
	assert.True(t, isCounterField("ah_charge_total"))
	assert.False(t, isCounterField("array_power"))
}
