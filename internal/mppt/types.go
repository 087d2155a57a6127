// Package mppt is the boundary to the Morningstar Prostar MPPT charge
// controller: the Stats/Settings data model and the Modbus register codec
// that turns raw registers into them. Everything else in the supervisor
// only ever sees the types in this file; nothing downstream cares that the
// wire format is Modbus-RTU registers.
package mppt

import "time"

// ChargeState mirrors the controller's charge-state register.
type ChargeState uint16

const (
	ChargeStart ChargeState = iota
	ChargeNightCheck
	ChargeDisconnect
	ChargeNight
	ChargeBulk
	ChargeAbsorption
	ChargeFloat
	ChargeEqualize
	ChargeFault
)

// LoadState mirrors the controller's load-state register.
type LoadState uint16

const (
	LoadStart LoadState = iota
	LoadNormal
	LoadLVDWarning
	LoadLVD
	LoadFault
	LoadDisconnectState
	LoadNormalOff
	LoadOverride
	LoadNotUsed
)

// Coil identifies one of the controller's writable single-bit registers.
type Coil int

const (
	ChargeDisconnectCoil Coil = iota
	LoadDisconnectCoil
	ResetControlCoil
)

// Stats is an immutable snapshot of one read of the charge controller's
// instrumentation and counter registers.
type Stats struct {
	Timestamp      time.Time `json:"timestamp"`
	SoftwareVersion uint16   `json:"software_version"`

	// Environment
	HeatsinkTemperatureC  float32  `json:"heatsink_temperature"`
	BatteryTemperatureC   float32  `json:"battery_temperature"`
	AmbientTemperatureC   float32  `json:"ambient_temperature"`
	UInductorTemperatureC float32  `json:"u_inductor_temperature"`
	VInductorTemperatureC float32  `json:"v_inductor_temperature"`
	WInductorTemperatureC float32  `json:"w_inductor_temperature"`
	RTSTemperatureC       *float32 `json:"rts_temperature,omitempty"`

	// Electrical instantaneous
	Supply3V3Volts           float32 `json:"supply_3v3"`
	Supply12VVolts           float32 `json:"supply_12v"`
	Supply5VVolts            float32 `json:"supply_5v"`
	GateDriveVoltageVolts    float32 `json:"gate_drive_voltage"`
	BatteryTerminalVoltage   float32 `json:"battery_terminal_voltage"`
	ArrayVoltage             float32 `json:"array_voltage"`
	LoadVoltage              float32 `json:"load_voltage"`
	ChargeCurrentAmps        float32 `json:"charge_current"`
	ArrayCurrentAmps         float32 `json:"array_current"`
	LoadCurrentAmps          float32 `json:"load_current"`
	BatteryCurrentNetAmps    float32 `json:"battery_current_net"`
	BatterySenseVoltage      float32 `json:"battery_sense_voltage"`
	MeterbusVoltage          float32 `json:"meterbus_voltage"`
	BatteryVoltageSlow       float32 `json:"battery_voltage_slow"`
	TargetVoltage            float32 `json:"target_voltage"`
	ArrayPowerWatts          float32 `json:"array_power"`
	ArrayVmpVolts            float32 `json:"array_vmp"`
	ArrayMaxPowerSweepWatts  float32 `json:"array_max_power_sweep"`
	ArrayVocVolts            float32 `json:"array_voc"`
	ArrayVoltageFixed        float32 `json:"array_voltage_fixed"`
	ArrayVocPercentFixed     float32 `json:"array_voc_percent_fixed"`
	LVDSetpointVolts         float32 `json:"lvd_setpoint"`

	// Counters (monotone within a reset epoch)
	AhChargeResettable   float32 `json:"ah_charge_resettable"`
	AhChargeTotal        float32 `json:"ah_charge_total"`
	KWhChargeResettable  float32 `json:"kwh_charge_resettable"`
	KWhChargeTotal       float32 `json:"kwh_charge_total"`
	AhLoadResettable     float32 `json:"ah_load_resettable"`
	AhLoadTotal          float32 `json:"ah_load_total"`
	HourmeterHours       float32 `json:"hourmeter"`

	// State / daily
	BatteryVoltageSettingsMultiplier uint16      `json:"battery_voltage_settings_multiplier"`
	ChargeState                     ChargeState `json:"charge_state"`
	LoadState                       LoadState   `json:"load_state"`
	ArrayFaults                     uint16      `json:"array_faults"`
	LoadFaults                      uint16      `json:"load_faults"`
	Alarms                          uint32      `json:"alarms"`
	BatteryVMinDaily                float32     `json:"battery_v_min_daily"`
	BatteryVMaxDaily                float32     `json:"battery_v_max_daily"`
	AhChargeDaily                   float32     `json:"ah_charge_daily"`
	AhLoadDaily                     float32     `json:"ah_load_daily"`
	ArrayVoltageMaxDaily            float32     `json:"array_voltage_max_daily"`
	ArrayFaultsDaily                uint16      `json:"array_faults_daily"`
	LoadFaultsDaily                 uint16      `json:"load_faults_daily"`
	AlarmsDaily                     uint32      `json:"alarms_daily"`
}

// Clone returns a deep copy (RTSTemperatureC is the only pointer field).
func (s Stats) Clone() Stats {
	if s.RTSTemperatureC != nil {
		t := *s.RTSTemperatureC
		s.RTSTemperatureC = &t
	}
	return s
}

// Settings is the writable subset of the charge controller's parameters.
type Settings struct {
	RegulationVoltage                         float32 `json:"regulation_voltage"`
	FloatVoltage                              float32 `json:"float_voltage"`
	TimeBeforeFloatSeconds                    float32 `json:"time_before_float"`
	TimeBeforeFloatLowBatterySeconds          float32 `json:"time_before_float_low_battery"`
	FloatLowBatteryVoltageTrigger             float32 `json:"float_low_battery_voltage_trigger"`
	FloatCancelVoltage                        float32 `json:"float_cancel_voltage"`
	ExitFloatTimeMinutes                      float32 `json:"exit_float_time"`
	EqualizeVoltage                           float32 `json:"equalize_voltage"`
	DaysBetweenEqualizeCycles                 float32 `json:"days_between_equalize_cycles"`
	EqualizeTimeLimitAboveRegulationVoltage    float32 `json:"equalize_time_limit_above_regulation_voltage"`
	EqualizeTimeLimitAtRegulationVoltage       float32 `json:"equalize_time_limit_at_regulation_voltage"`
	AlarmOnSettingChange                      bool    `json:"alarm_on_setting_change"`
	ReferenceChargeVoltageLimit                float32 `json:"reference_charge_voltage_limit"`
	BatteryChargeCurrentLimit                  float32 `json:"battery_charge_current_limit"`
	TemperatureCompensationCoefficient          float32 `json:"temperature_compensation_coefficent"`
	HighVoltageDisconnect                      float32 `json:"high_voltage_disconnect"`
	HighVoltageReconnect                       float32 `json:"high_voltage_reconnect"`
	MaximumChargeVoltageReference               float32 `json:"maximum_charge_voltage_reference"`
	MaxBatteryTempCompensationLimit             float32 `json:"max_battery_temp_compensation_limit"`
	MinBatteryTempCompensationLimit             float32 `json:"min_battery_temp_compensation_limit"`
	LoadLowVoltageDisconnect                    float32 `json:"load_low_voltage_disconnect"`
	LoadLowVoltageReconnect                     float32 `json:"load_low_voltage_reconnect"`
	LoadHighVoltageDisconnect                   float32 `json:"load_high_voltage_disconnect"`
	LoadHighVoltageReconnect                    float32 `json:"load_high_voltage_reconnect"`
	LVDLoadCurrentCompensation                  float32 `json:"lvd_load_current_compensation"`
	LVDWarningTimeoutSeconds                    float32 `json:"lvd_warning_timeout"`
	LEDGreenToGreenAndYellowLimit                float32 `json:"led_green_to_green_and_yellow_limit"`
	LEDGreenAndYellowToYellowLimit                float32 `json:"led_green_and_yellow_to_yellow_limit"`
	LEDYellowToYellowAndRedLimit                  float32 `json:"led_yellow_to_yellow_and_red_limit"`
	LEDYellowAndRedToRedFlashingLimit              float32 `json:"led_yellow_and_red_to_red_flashing_limit"`
	ModbusID                                    uint8   `json:"modbus_id"`
	MeterbusID                                  uint8   `json:"meterbus_id"`
	MPPTFixedVmp                                float32 `json:"mppt_fixed_vmp"`
	MPPTFixedVmpPercent                         float32 `json:"mppt_fixed_vmp_percent"`
	ChargeCurrentLimit                          float32 `json:"charge_current_limit"`
}
