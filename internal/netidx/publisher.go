// Package netidx publishes the supervisor's stats, settings, and control
// state over MQTT, and translates writes to control/settings leaves back
// into reactor commands. It stands in for the original's netidx name-tree
// (see the REDESIGN note in SPEC_FULL.md): no attested Go netidx client
// exists anywhere in the retrieval corpus, while MQTT with Home-Assistant
// discovery is the corpus's actual idiom for "every stat is an addressable,
// externally-writable leaf".
package netidx

import (
	"encoding/json"
	"fmt"
	"log"
	"reflect"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/estokes/solar/internal/control"
	"github.com/estokes/solar/internal/mppt"
	"github.com/estokes/solar/internal/stats"
)

// writeRequest is a decoded MQTT write to a settings or control leaf,
// queued for the write-dispatcher goroutine.
type writeRequest struct {
	field string
	value string
}

// Publisher owns the MQTT client and the mutex-protected cache of last
// published leaf values plus the cached Settings snapshot. The mutex is
// held only for brief map/field lookups; any long operation (awaiting a
// reactor reply) happens after it is released, per the concurrency model.
type Publisher struct {
	client mqtt.Client
	base   string
	cmds   chan<- control.Command

	mu       sync.Mutex
	lastSent map[string]string
	settings mppt.Settings

	controlWrites  chan writeRequest
	settingsWrites chan writeRequest
}

// Connect dials the configured broker, subscribes to the writable leaves,
// publishes Home-Assistant discovery configs for the control switches and
// a handful of diagnostic sensors, and starts the write-dispatcher
// goroutine. cmds is the channel the reactor drains Command values from.
func Connect(broker, clientID, base string, cmds chan<- control.Command) (*Publisher, error) {
	p := &Publisher{
		base:           base,
		cmds:           cmds,
		lastSent:       make(map[string]string),
		controlWrites:  make(chan writeRequest, 100),
		settingsWrites: make(chan writeRequest, 100),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("netidx: mqtt connection lost: %v", err)
	})
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		p.subscribeWritable(c)
		p.publishDiscovery(c)
	})

	p.client = mqtt.NewClient(opts)
	if token := p.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt broker %s: %w", broker, token.Error())
	}

	go p.dispatchWrites()
	return p, nil
}

func (p *Publisher) topic(parts ...string) string {
	t := p.base
	for _, part := range parts {
		t += "/" + part
	}
	return t
}

func (p *Publisher) subscribeWritable(c mqtt.Client) {
	for _, leaf := range []string{"charging", "load", "reset", "phy_solar", "phy_battery", "phy_master"} {
		leaf := leaf
		topic := p.topic("control", leaf, "set")
		if token := c.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			p.controlWrites <- writeRequest{field: leaf, value: string(msg.Payload())}
		}); token.Wait() && token.Error() != nil {
			log.Printf("netidx: subscribe %s: %v", topic, token.Error())
		}
	}

	settingsSetTopic := p.topic("settings", "+", "set")
	if token := c.Subscribe(settingsSetTopic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		field := fieldFromSetTopic(p.base, msg.Topic())
		if field == "" {
			return
		}
		p.settingsWrites <- writeRequest{field: field, value: string(msg.Payload())}
	}); token.Wait() && token.Error() != nil {
		log.Printf("netidx: subscribe %s: %v", settingsSetTopic, token.Error())
	}
}

func fieldFromSetTopic(base, topic string) string {
	prefix := base + "/settings/"
	const suffix = "/set"
	if len(topic) <= len(prefix)+len(suffix) {
		return ""
	}
	if topic[:len(prefix)] != prefix || topic[len(topic)-len(suffix):] != suffix {
		return ""
	}
	return topic[len(prefix) : len(topic)-len(suffix)]
}

// dispatchWrites fuses the control and settings write channels, biased
// toward control: a ready control write is always processed before a
// settings write, matching the reactor's own tick-vs-client bias.
func (p *Publisher) dispatchWrites() {
	for {
		select {
		case w, ok := <-p.controlWrites:
			if !ok {
				return
			}
			p.handleControlWrite(w)
			continue
		default:
		}
		select {
		case w, ok := <-p.controlWrites:
			if !ok {
				return
			}
			p.handleControlWrite(w)
		case w, ok := <-p.settingsWrites:
			if !ok {
				return
			}
			p.handleSettingsWrite(w)
		}
	}
}

func (p *Publisher) handleControlWrite(w writeRequest) {
	b, err := parseBool(w.value)
	if err != nil {
		log.Printf("netidx: control.%s: %v", w.field, err)
		return
	}
	var req control.FromClient
	switch w.field {
	case "charging":
		req = control.FromClient{Cmd: control.SetCharging, Bool: b}
	case "load":
		req = control.FromClient{Cmd: control.SetLoad, Bool: b}
	case "reset":
		req = control.FromClient{Cmd: control.ResetController}
	case "phy_solar":
		req = control.FromClient{Cmd: control.SetPhySolar, Bool: b}
	case "phy_battery":
		req = control.FromClient{Cmd: control.SetPhyBattery, Bool: b}
	case "phy_master":
		req = control.FromClient{Cmd: control.SetPhyMaster, Bool: b}
	default:
		return
	}
	reply := control.NewReplyChan()
	cmd, ok := p.send(control.Command{Req: req, Reply: reply})
	if !ok {
		return
	}
	_ = cmd
	r, ok := <-reply
	if !ok {
		return
	}
	if r.Kind == control.ReplyErr {
		log.Printf("netidx: control.%s rejected: %s", w.field, r.Err)
	}
}

func (p *Publisher) handleSettingsWrite(w writeRequest) {
	p.mu.Lock()
	copySettings := p.settings
	p.mu.Unlock()

	if err := applySettingsField(&copySettings, w.field, w.value); err != nil {
		log.Printf("netidx: settings.%s: %v", w.field, err)
		return
	}

	reply := control.NewReplyChan()
	_, ok := p.send(control.Command{
		Req:   control.FromClient{Cmd: control.WriteSettingsCmd, Settings: &copySettings},
		Reply: reply,
	})
	if !ok {
		return
	}
	r, ok := <-reply
	if !ok {
		return
	}
	if r.Kind == control.ReplyErr {
		log.Printf("netidx: settings.%s write rejected: %s", w.field, r.Err)
		return
	}
	p.mu.Lock()
	p.settings = copySettings
	p.mu.Unlock()
}

// send enqueues cmd on the reactor's command channel. It always returns
// ok=true: the reactor never closes cmds, so a reactor that has stopped is
// not detected, and a full channel simply blocks, matching the documented
// backpressure policy.
func (p *Publisher) send(cmd control.Command) (control.Command, bool) {
	p.cmds <- cmd
	return cmd, true
}

func parseBool(s string) (bool, error) {
	switch s {
	case "true", "True", "1", "ON", "on":
		return true, nil
	case "false", "False", "0", "OFF", "off":
		return false, nil
	default:
		return false, fmt.Errorf("not a bool: %q", s)
	}
}

// PublishStats publishes every Stats field under <base>/stats/<field>,
// suppressing consecutive duplicates (update_changed semantics) except for
// the timestamp and counter fields, which are republished every time. It also
// publishes the derived control.charging/control.load booleans.
func (p *Publisher) PublishStats(env stats.Envelope) {
	if env.Controller == nil {
		return
	}
	p.publishStruct("stats", *env.Controller)

	charging := env.Controller.ChargeState != mppt.ChargeDisconnect && env.Controller.ChargeState != mppt.ChargeFault
	load := env.Controller.LoadState != mppt.LoadDisconnectState &&
		env.Controller.LoadState != mppt.LoadFault && env.Controller.LoadState != mppt.LoadLVD
	p.publishChanged(p.topic("control", "charging"), boolStr(charging), false)
	p.publishChanged(p.topic("control", "load"), boolStr(load), false)
}

// PublishSettings publishes every Settings field under
// <base>/settings/<field> and updates the cached copy used by
// handleSettingsWrite.
func (p *Publisher) PublishSettings(s mppt.Settings) {
	p.mu.Lock()
	p.settings = s
	p.mu.Unlock()
	p.publishStruct("settings", s)
}

func (p *Publisher) publishStruct(branch string, v any) {
	rv := reflect.ValueOf(v)
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		tag := f.Tag.Get("json")
		if tag == "" || tag == "-" {
			continue
		}
		name := tag
		if idx := indexOfComma(tag); idx >= 0 {
			name = tag[:idx]
		}
		fv := rv.Field(i)
		if fv.Kind() == reflect.Ptr {
			if fv.IsNil() {
				continue
			}
			fv = fv.Elem()
		}
		unconditional := name == "timestamp" || isCounterField(name)
		p.publishChanged(p.topic(branch, name), formatValue(fv), unconditional)
	}
}

func indexOfComma(s string) int {
	for i, c := range s {
		if c == ',' {
			return i
		}
	}
	return -1
}

func isCounterField(name string) bool {
	switch name {
	case "ah_charge_resettable", "ah_charge_total", "kwh_charge_resettable", "kwh_charge_total",
		"ah_load_resettable", "ah_load_total", "hourmeter":
		return true
	default:
		return false
	}
}

func formatValue(v reflect.Value) string {
	switch v.Kind() {
	case reflect.Bool:
		return boolStr(v.Bool())
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'f', -1, 64)
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint:
		return strconv.FormatUint(v.Uint(), 10)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10)
	default:
		if t, ok := v.Interface().(time.Time); ok {
			return t.Format(time.RFC3339)
		}
		b, _ := json.Marshal(v.Interface())
		return string(b)
	}
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// publishChanged publishes payload to topic unless it is identical to the
// last value published on that topic, unless unconditional is set.
func (p *Publisher) publishChanged(topic, payload string, unconditional bool) {
	p.mu.Lock()
	last, seen := p.lastSent[topic]
	if !unconditional && seen && last == payload {
		p.mu.Unlock()
		return
	}
	p.lastSent[topic] = payload
	p.mu.Unlock()

	p.client.Publish(topic, 0, false, payload)
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
