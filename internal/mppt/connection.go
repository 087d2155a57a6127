package mppt

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/goburrow/modbus"
)

// Connection is a single open Modbus-RTU link to one Prostar MPPT
// controller. It has no retry or throttle policy of its own — that lives in
// internal/session, which is the only caller. Connection just knows how to
// turn register reads/writes into Stats/Settings/Coil operations.
type Connection struct {
	client  modbus.Client
	handler *modbus.RTUClientHandler
}

// Register layout. The real Prostar MPPT register map is considerably
// larger; this lists only what the supervisor core consumes. Appended
// fields (RTS temperature, the three fixed-array readings) live past the
// original 48-register block rather than aliasing an already-assigned
// index.
const (
	regStatsBase  = 0x0000
	regStatsCount = 52

	regRTSTemperature      = 48
	regArrayMaxPowerSweep  = 49
	regArrayVoltageFixed   = 50
	regArrayVocPercentFixed = 51

	regSettingsBase  = 0x0100
	regSettingsCount = 34

	regMPPTFixedVmp        = 32
	regMPPTFixedVmpPercent = 33

	coilChargeDisconnect = 0x0000
	coilLoadDisconnect   = 0x0001
	coilResetControl     = 0x0002
)

// Open dials a new RTU connection at device/address. Timeout bounds every
// individual Modbus transaction issued on this connection.
func Open(device string, address uint8, timeout time.Duration) (*Connection, error) {
	handler := modbus.NewRTUClientHandler(device)
	handler.BaudRate = 9600
	handler.DataBits = 8
	handler.Parity = "N"
	handler.StopBits = 1
	handler.SlaveId = address
	handler.Timeout = timeout

	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("connect modbus device %s: %w", device, err)
	}
	return &Connection{client: modbus.NewClient(handler), handler: handler}, nil
}

// Close releases the underlying serial port.
func (c *Connection) Close() error {
	return c.handler.Close()
}

func u16(b []byte, i int) uint16 { return binary.BigEndian.Uint16(b[i*2:]) }

// scaled16 interprets register i as a signed fixed-point value scaled by
// divisor, matching how the Prostar MPPT encodes voltage/current registers
// at varying precision.
func scaled16(b []byte, i int, divisor float32) float32 {
	return float32(int16(u16(b, i))) / divisor
}

// ReadStats reads the controller's instrumentation and counter registers
// and decodes them into a Stats snapshot stamped with the current time.
func (c *Connection) ReadStats() (Stats, error) {
	b, err := c.client.ReadInputRegisters(regStatsBase, regStatsCount)
	if err != nil {
		return Stats{}, fmt.Errorf("read stats registers: %w", err)
	}
	return decodeStats(b, time.Now())
}

// decodeStats turns a raw register block into a Stats value. Split out of
// ReadStats so the register codec can be exercised with hand-crafted byte
// slices without a live Modbus client.
func decodeStats(b []byte, timestamp time.Time) (Stats, error) {
	if len(b) < regStatsCount*2 {
		return Stats{}, fmt.Errorf("read stats registers: short read (%d bytes)", len(b))
	}

	s := Stats{
		Timestamp:                        timestamp,
		SoftwareVersion:                  u16(b, 0),
		BatteryVoltageSettingsMultiplier: u16(b, 1),
		Supply3V3Volts:                   scaled16(b, 2, 32768/20),
		Supply12VVolts:                   scaled16(b, 3, 32768/20),
		Supply5VVolts:                    scaled16(b, 4, 32768/20),
		GateDriveVoltageVolts:            scaled16(b, 5, 32768/20),
		BatteryTerminalVoltage:           scaled16(b, 6, 32768/100),
		ArrayVoltage:                     scaled16(b, 7, 32768/100),
		LoadVoltage:                      scaled16(b, 8, 32768/100),
		ChargeCurrentAmps:                scaled16(b, 9, 32768/80),
		ArrayCurrentAmps:                 scaled16(b, 10, 32768/80),
		LoadCurrentAmps:                  scaled16(b, 11, 32768/80),
		BatteryCurrentNetAmps:            scaled16(b, 12, 32768/80),
		BatterySenseVoltage:              scaled16(b, 13, 32768/100),
		MeterbusVoltage:                  scaled16(b, 14, 32768/100),
		HeatsinkTemperatureC:             float32(int16(u16(b, 15))),
		BatteryTemperatureC:              float32(int16(u16(b, 16))),
		AmbientTemperatureC:              float32(int16(u16(b, 17))),
		UInductorTemperatureC:            float32(int16(u16(b, 18))),
		VInductorTemperatureC:            float32(int16(u16(b, 19))),
		WInductorTemperatureC:            float32(int16(u16(b, 20))),
		ChargeState:                      ChargeState(u16(b, 21)),
		ArrayFaults:                      u16(b, 22),
		BatteryVoltageSlow:               scaled16(b, 23, 32768/100),
		TargetVoltage:                    scaled16(b, 24, 32768/100),
		AhChargeResettable:               float32(binary.BigEndian.Uint32(b[25*2:])) / 10,
		AhChargeTotal:                    float32(binary.BigEndian.Uint32(b[27*2:])) / 10,
		KWhChargeResettable:              scaled16(b, 29, 10),
		KWhChargeTotal:                   float32(binary.BigEndian.Uint32(b[30*2:])) / 10,
		LoadState:                        LoadState(u16(b, 32)),
		LoadFaults:                       u16(b, 33),
		LVDSetpointVolts:                 scaled16(b, 34, 32768/100),
		AhLoadResettable:                 float32(binary.BigEndian.Uint32(b[35*2:])) / 10,
		AhLoadTotal:                      float32(binary.BigEndian.Uint32(b[37*2:])) / 10,
		HourmeterHours:                   float32(binary.BigEndian.Uint32(b[39*2:])),
		Alarms:                           binary.BigEndian.Uint32(b[41*2:]),
		ArrayPowerWatts:                  scaled16(b, 43, 32768/2000),
		ArrayVmpVolts:                    scaled16(b, 44, 32768/100),
		ArrayVocVolts:                    scaled16(b, 45, 32768/100),
		BatteryVMinDaily:                 scaled16(b, 46, 32768/100),
		BatteryVMaxDaily:                 scaled16(b, 47, 32768/100),
		ArrayMaxPowerSweepWatts:          scaled16(b, regArrayMaxPowerSweep, 32768/2000),
		ArrayVoltageFixed:                scaled16(b, regArrayVoltageFixed, 32768/100),
		ArrayVocPercentFixed:             scaled16(b, regArrayVocPercentFixed, 32768/100),
	}

	// Remote temperature sensor is optional: the real controller reports a
	// sentinel at its own dedicated register when none is attached.
	if raw := int16(u16(b, regRTSTemperature)); raw != math.MaxInt16 {
		t := float32(raw)
		s.RTSTemperatureC = &t
	}
	return s, nil
}

// ReadSettings reads the controller's writable parameter registers.
func (c *Connection) ReadSettings() (Settings, error) {
	b, err := c.client.ReadHoldingRegisters(regSettingsBase, regSettingsCount)
	if err != nil {
		return Settings{}, fmt.Errorf("read settings registers: %w", err)
	}
	return decodeSettings(b)
}

func decodeSettings(b []byte) (Settings, error) {
	if len(b) < regSettingsCount*2 {
		return Settings{}, fmt.Errorf("read settings registers: short read (%d bytes)", len(b))
	}
	return Settings{
		RegulationVoltage:                       scaled16(b, 0, 32768/100),
		FloatVoltage:                            scaled16(b, 1, 32768/100),
		TimeBeforeFloatSeconds:                  float32(u16(b, 2)),
		TimeBeforeFloatLowBatterySeconds:        float32(u16(b, 3)),
		FloatLowBatteryVoltageTrigger:           scaled16(b, 4, 32768/100),
		FloatCancelVoltage:                      scaled16(b, 5, 32768/100),
		ExitFloatTimeMinutes:                    float32(u16(b, 6)),
		EqualizeVoltage:                         scaled16(b, 7, 32768/100),
		DaysBetweenEqualizeCycles:               float32(u16(b, 8)),
		EqualizeTimeLimitAboveRegulationVoltage: float32(u16(b, 9)),
		EqualizeTimeLimitAtRegulationVoltage:    float32(u16(b, 10)),
		AlarmOnSettingChange:                    u16(b, 11) != 0,
		ReferenceChargeVoltageLimit:             scaled16(b, 12, 32768/100),
		BatteryChargeCurrentLimit:               scaled16(b, 13, 32768/80),
		TemperatureCompensationCoefficient:      scaled16(b, 14, 32768/100),
		HighVoltageDisconnect:                   scaled16(b, 15, 32768/100),
		HighVoltageReconnect:                    scaled16(b, 16, 32768/100),
		MaximumChargeVoltageReference:            scaled16(b, 17, 32768/100),
		MaxBatteryTempCompensationLimit:          scaled16(b, 18, 32768/100),
		MinBatteryTempCompensationLimit:          scaled16(b, 19, 32768/100),
		LoadLowVoltageDisconnect:                 scaled16(b, 20, 32768/100),
		LoadLowVoltageReconnect:                  scaled16(b, 21, 32768/100),
		LoadHighVoltageDisconnect:                scaled16(b, 22, 32768/100),
		LoadHighVoltageReconnect:                 scaled16(b, 23, 32768/100),
		LVDLoadCurrentCompensation:               scaled16(b, 24, 32768/100),
		LVDWarningTimeoutSeconds:                 float32(u16(b, 25)),
		LEDGreenToGreenAndYellowLimit:            scaled16(b, 26, 32768/100),
		LEDGreenAndYellowToYellowLimit:           scaled16(b, 27, 32768/100),
		LEDYellowToYellowAndRedLimit:             scaled16(b, 28, 32768/100),
		LEDYellowAndRedToRedFlashingLimit:        scaled16(b, 29, 32768/100),
		ModbusID:                                 uint8(u16(b, 30)),
		MeterbusID:                               uint8(u16(b, 30) >> 8),
		ChargeCurrentLimit:                       scaled16(b, 31, 32768/80),
		MPPTFixedVmp:                             scaled16(b, regMPPTFixedVmp, 32768/100),
		MPPTFixedVmpPercent:                      scaled16(b, regMPPTFixedVmpPercent, 32768/100),
	}, nil
}

// WriteSettings writes the full settings record back to the controller's
// holding registers in one multi-register write.
func (c *Connection) WriteSettings(s Settings) error {
	b := encodeSettings(s)
	if _, err := c.client.WriteMultipleRegisters(regSettingsBase, regSettingsCount, b); err != nil {
		return fmt.Errorf("write settings registers: %w", err)
	}
	return nil
}

func encodeSettings(s Settings) []byte {
	b := make([]byte, regSettingsCount*2)
	put := func(i int, v float32, scale float32) {
		binary.BigEndian.PutUint16(b[i*2:], uint16(int16(v*scale)))
	}
	put(0, s.RegulationVoltage, 32768/100)
	put(1, s.FloatVoltage, 32768/100)
	binary.BigEndian.PutUint16(b[2*2:], uint16(s.TimeBeforeFloatSeconds))
	binary.BigEndian.PutUint16(b[3*2:], uint16(s.TimeBeforeFloatLowBatterySeconds))
	put(4, s.FloatLowBatteryVoltageTrigger, 32768/100)
	put(5, s.FloatCancelVoltage, 32768/100)
	binary.BigEndian.PutUint16(b[6*2:], uint16(s.ExitFloatTimeMinutes))
	put(7, s.EqualizeVoltage, 32768/100)
	binary.BigEndian.PutUint16(b[8*2:], uint16(s.DaysBetweenEqualizeCycles))
	binary.BigEndian.PutUint16(b[9*2:], uint16(s.EqualizeTimeLimitAboveRegulationVoltage))
	binary.BigEndian.PutUint16(b[10*2:], uint16(s.EqualizeTimeLimitAtRegulationVoltage))
	if s.AlarmOnSettingChange {
		binary.BigEndian.PutUint16(b[11*2:], 1)
	}
	put(12, s.ReferenceChargeVoltageLimit, 32768/100)
	put(13, s.BatteryChargeCurrentLimit, 32768/80)
	put(14, s.TemperatureCompensationCoefficient, 32768/100)
	put(15, s.HighVoltageDisconnect, 32768/100)
	put(16, s.HighVoltageReconnect, 32768/100)
	put(17, s.MaximumChargeVoltageReference, 32768/100)
	put(18, s.MaxBatteryTempCompensationLimit, 32768/100)
	put(19, s.MinBatteryTempCompensationLimit, 32768/100)
	put(20, s.LoadLowVoltageDisconnect, 32768/100)
	put(21, s.LoadLowVoltageReconnect, 32768/100)
	put(22, s.LoadHighVoltageDisconnect, 32768/100)
	put(23, s.LoadHighVoltageReconnect, 32768/100)
	put(24, s.LVDLoadCurrentCompensation, 32768/100)
	binary.BigEndian.PutUint16(b[25*2:], uint16(s.LVDWarningTimeoutSeconds))
	put(26, s.LEDGreenToGreenAndYellowLimit, 32768/100)
	put(27, s.LEDGreenAndYellowToYellowLimit, 32768/100)
	put(28, s.LEDYellowToYellowAndRedLimit, 32768/100)
	put(29, s.LEDYellowAndRedToRedFlashingLimit, 32768/100)
	binary.BigEndian.PutUint16(b[30*2:], uint16(s.ModbusID)|uint16(s.MeterbusID)<<8)
	put(31, s.ChargeCurrentLimit, 32768/80)
	put(regMPPTFixedVmp, s.MPPTFixedVmp, 32768/100)
	put(regMPPTFixedVmpPercent, s.MPPTFixedVmpPercent, 32768/100)
	return b
}

// WriteCoil writes a single bit coil. ResetControl is special-cased by the
// caller (internal/session): the controller resets before it can reply, so
// that write must never wait for a response.
func (c *Connection) WriteCoil(coil Coil, bit bool) error {
	addr, err := coilAddress(coil)
	if err != nil {
		return err
	}
	var value uint16
	if bit {
		value = 0xFF00
	}
	if _, err := c.client.WriteSingleCoil(addr, value); err != nil {
		return fmt.Errorf("write coil %v: %w", coil, err)
	}
	return nil
}

func coilAddress(coil Coil) (uint16, error) {
	switch coil {
	case ChargeDisconnectCoil:
		return coilChargeDisconnect, nil
	case LoadDisconnectCoil:
		return coilLoadDisconnect, nil
	case ResetControlCoil:
		return coilResetControl, nil
	default:
		return 0, fmt.Errorf("unknown coil %v", coil)
	}
}
