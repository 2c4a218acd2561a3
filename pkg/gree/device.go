package gree

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sync"
)

// Protocol-level property codes for air conditioning units.
const (
	PropPower            = "Pow"
	PropMode             = "Mod"
	PropTargetTemp       = "SetTem"
	PropSensorTemp       = "TemSen"
	PropTempUnit         = "TemUn"
	PropTempBit          = "TemRec"
	PropFanSpeed         = "WdSpd"
	PropFreshAir         = "Air"
	PropXFan             = "Blo"
	PropAnion            = "Health"
	PropSleep            = "SwhSlp"
	PropSleepMode        = "SlpMod"
	PropLight            = "Lig"
	PropSwingHorizontal  = "SwingLfRig"
	PropSwingVertical    = "SwUpDn"
	PropQuiet            = "Quiet"
	PropTurbo            = "Tur"
	PropSteadyHeat       = "StHt"
	PropPowerSave        = "SvSt"
	PropTargetHumidity   = "Dwet"
	PropSensorHumidity   = "DwatSen"
	PropCleanFilter      = "Dfltr"
	PropWaterFull        = "DwatFul"
	PropDehumidifierMode = "Dmod"

	propHID = "hid"
)

// Mode is the operating mode of an AC unit.
type Mode int

const (
	ModeAuto Mode = iota
	ModeCool
	ModeDry
	ModeFan
	ModeHeat
)

// FanSpeed is the fan speed of an AC unit.
type FanSpeed int

const (
	FanAuto FanSpeed = iota
	FanLow
	FanMediumLow
	FanMedium
	FanMediumHigh
	FanHigh
)

// HorizontalSwing positions of the louver.
type HorizontalSwing int

const (
	HSwingDefault HorizontalSwing = iota
	HSwingFull
	HSwingLeft
	HSwingLeftCenter
	HSwingCenter
	HSwingRightCenter
	HSwingRight
)

// VerticalSwing positions of the louver.
type VerticalSwing int

const (
	VSwingDefault VerticalSwing = iota
	VSwingFull
	VSwingFixedUpper
	VSwingFixedUpperMiddle
	VSwingFixedMiddle
	VSwingFixedLowerMiddle
	VSwingFixedLower
	VSwingUpper
	VSwingUpperMiddle
	VSwingMiddle
	VSwingLowerMiddle
	VSwingLower
)

// TemperatureUnit selects between Celsius and Fahrenheit reporting.
type TemperatureUnit int

const (
	Celsius TemperatureUnit = iota
	Fahrenheit
)

const (
	tempMin      = 8
	tempMax      = 30
	tempOffset   = 40
	tempMinTable = -60
	tempMaxTable = 60

	humidityMin = 30
	humidityMax = 80
)

// tempRecord maps a Fahrenheit temperature onto the firmware's paired
// celsius value and rounding bit.
type tempRecord struct {
	f      int
	temSet int
	temRec int
}

var tempTable = buildTempTable()

func buildTempTable() []tempRecord {
	var table []tempRecord
	for f := -76; f <= 140; f++ {
		table = append(table, makeTempRecord(f))
	}
	return table
}

func makeTempRecord(f int) tempRecord {
	c := (float64(f) - 32.0) * 5.0 / 9.0
	temSet := int(math.Round(c))
	temRec := 0
	if c-float64(temSet) > 0 {
		temRec = 1
	}
	return tempRecord{f: f, temSet: temSet, temRec: temRec}
}

// acPropNames is the full set requested on a state update.
var acPropNames = []string{
	PropPower, PropMode, PropTargetTemp, PropSensorTemp, PropTempUnit,
	PropTempBit, PropFanSpeed, PropFreshAir, PropXFan, PropAnion,
	PropSleep, PropSleepMode, PropLight, PropSwingHorizontal,
	PropSwingVertical, PropQuiet, PropTurbo, PropSteadyHeat,
	PropPowerSave, PropTargetHumidity, PropSensorHumidity,
	PropCleanFilter, PropWaterFull, PropDehumidifierMode,
}

var hidVersionRe = regexp.MustCompile(`V([\d.]+)\.bin$`)

// Device maps named appliance attributes onto protocol property codes over
// a bound session. Setters only stage changes locally; PushStateUpdate
// sends the staged set, UpdateState refreshes from the unit.
type Device struct {
	client  *Client
	session *Session

	mu           sync.Mutex
	properties   map[string]any
	dirty        []string
	hid          string
	version      string
	checkVersion bool
}

// NewDevice wraps a bound session in the named-property facade.
func NewDevice(client *Client, session *Session) *Device {
	return &Device{
		client:       client,
		session:      session,
		properties:   make(map[string]any),
		checkVersion: true,
	}
}

// Session returns the underlying bound session.
func (d *Device) Session() *Session { return d.session }

// Version returns the firmware version parsed from the unit's hid, empty
// until the first state update.
func (d *Device) Version() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.version
}

// Property returns the raw tracked value of a protocol property code.
func (d *Device) Property(name string) (any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.properties[name]
	return v, ok
}

// SetProperty stages a raw property write for the next PushStateUpdate.
func (d *Device) SetProperty(name string, value any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stage(name, value)
}

// stage records a changed value. Caller holds d.mu.
func (d *Device) stage(name string, value any) {
	if cur, ok := d.properties[name]; ok && cur == value {
		return
	}
	d.properties[name] = value
	for _, n := range d.dirty {
		if n == name {
			return
		}
	}
	d.dirty = append(d.dirty, name)
}

func (d *Device) intProp(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return asInt(d.properties[name])
}

func (d *Device) boolProp(name string) bool {
	return d.intProp(name) != 0
}

// asInt normalizes values that arrive as JSON numbers or were staged as Go
// ints.
func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case bool:
		if n {
			return 1
		}
		return 0
	default:
		return 0
	}
}

func (d *Device) Power() bool        { return d.boolProp(PropPower) }
func (d *Device) SetPower(on bool)   { d.SetProperty(PropPower, asInt(on)) }
func (d *Device) Mode() Mode         { return Mode(d.intProp(PropMode)) }
func (d *Device) SetMode(m Mode)     { d.SetProperty(PropMode, int(m)) }
func (d *Device) FanSpeed() FanSpeed { return FanSpeed(d.intProp(PropFanSpeed)) }
func (d *Device) SetFanSpeed(f FanSpeed) {
	d.SetProperty(PropFanSpeed, int(f))
}

func (d *Device) TemperatureUnits() TemperatureUnit {
	return TemperatureUnit(d.intProp(PropTempUnit))
}

func (d *Device) SetTemperatureUnits(u TemperatureUnit) {
	d.SetProperty(PropTempUnit, int(u))
}

// TargetTemperature reports the setpoint in the unit's configured
// temperature units.
func (d *Device) TargetTemperature() (int, error) {
	return d.convertToUnits(d.intProp(PropTargetTemp), d.intProp(PropTempBit))
}

// SetTargetTemperature stages a setpoint in the configured units. Out of
// range values are rejected.
func (d *Device) SetTargetTemperature(value int) error {
	if d.TemperatureUnits() == Fahrenheit {
		rec := makeTempRecord(value)
		if rec.temSet < tempMin || rec.temSet > tempMax {
			return fmt.Errorf("temperature %d out of range", value)
		}
		d.mu.Lock()
		d.stage(PropTargetTemp, rec.temSet)
		d.stage(PropTempBit, rec.temRec)
		d.mu.Unlock()
		return nil
	}
	if value < tempMin || value > tempMax {
		return fmt.Errorf("temperature %d out of range", value)
	}
	d.SetProperty(PropTargetTemp, value)
	return nil
}

// CurrentTemperature reports the sensed temperature. Units before firmware
// v4 report the value offset by 40 to avoid negatives; v4 reports celsius
// directly.
func (d *Device) CurrentTemperature() (int, error) {
	raw, ok := d.Property(PropSensorTemp)
	bit := d.intProp(PropTempBit)
	if ok {
		v := asInt(raw)
		if versionMajor(d.Version()) == 4 {
			return d.convertToUnits(v, bit)
		}
		if v != 0 {
			return d.convertToUnits(v-tempOffset, bit)
		}
	}
	return d.TargetTemperature()
}

func (d *Device) convertToUnits(value, bit int) (int, error) {
	if d.TemperatureUnits() != Fahrenheit {
		return value, nil
	}
	if value < tempMinTable || value > tempMaxTable {
		return 0, fmt.Errorf("temperature %d out of range", value)
	}
	fallback := -1
	for _, rec := range tempTable {
		if rec.temSet != value {
			continue
		}
		if rec.temRec == bit {
			return rec.f, nil
		}
		if fallback < 0 {
			fallback = rec.f
		}
	}
	if fallback < 0 {
		return 0, fmt.Errorf("temperature %d out of range", value)
	}
	return fallback, nil
}

func (d *Device) FreshAir() bool       { return d.boolProp(PropFreshAir) }
func (d *Device) SetFreshAir(on bool)  { d.SetProperty(PropFreshAir, asInt(on)) }
func (d *Device) XFan() bool           { return d.boolProp(PropXFan) }
func (d *Device) SetXFan(on bool)      { d.SetProperty(PropXFan, asInt(on)) }
func (d *Device) Anion() bool          { return d.boolProp(PropAnion) }
func (d *Device) SetAnion(on bool)     { d.SetProperty(PropAnion, asInt(on)) }
func (d *Device) Light() bool          { return d.boolProp(PropLight) }
func (d *Device) SetLight(on bool)     { d.SetProperty(PropLight, asInt(on)) }
func (d *Device) Turbo() bool          { return d.boolProp(PropTurbo) }
func (d *Device) SetTurbo(on bool)     { d.SetProperty(PropTurbo, asInt(on)) }
func (d *Device) SteadyHeat() bool     { return d.boolProp(PropSteadyHeat) }
func (d *Device) SetSteadyHeat(b bool) { d.SetProperty(PropSteadyHeat, asInt(b)) }
func (d *Device) PowerSave() bool      { return d.boolProp(PropPowerSave) }
func (d *Device) SetPowerSave(b bool)  { d.SetProperty(PropPowerSave, asInt(b)) }
func (d *Device) CleanFilter() bool    { return d.boolProp(PropCleanFilter) }
func (d *Device) WaterFull() bool      { return d.boolProp(PropWaterFull) }

func (d *Device) Quiet() bool { return d.boolProp(PropQuiet) }

// SetQuiet uses the firmware's tri-state field, 2 for on and 0 for off.
func (d *Device) SetQuiet(on bool) {
	v := 0
	if on {
		v = 2
	}
	d.SetProperty(PropQuiet, v)
}

func (d *Device) Sleep() bool { return d.boolProp(PropSleep) }

// SetSleep stages both the sleep switch and the paired sleep mode field.
func (d *Device) SetSleep(on bool) {
	d.mu.Lock()
	d.stage(PropSleep, asInt(on))
	d.stage(PropSleepMode, asInt(on))
	d.mu.Unlock()
}

func (d *Device) HorizontalSwing() HorizontalSwing {
	return HorizontalSwing(d.intProp(PropSwingHorizontal))
}

func (d *Device) SetHorizontalSwing(s HorizontalSwing) {
	d.SetProperty(PropSwingHorizontal, int(s))
}

func (d *Device) VerticalSwing() VerticalSwing {
	return VerticalSwing(d.intProp(PropSwingVertical))
}

func (d *Device) SetVerticalSwing(s VerticalSwing) {
	d.SetProperty(PropSwingVertical, int(s))
}

// TargetHumidity reports the dehumidifier setpoint as a percentage.
func (d *Device) TargetHumidity() int {
	return 15 + d.intProp(PropTargetHumidity)*5
}

func (d *Device) SetTargetHumidity(percent int) error {
	if percent < humidityMin || percent > humidityMax {
		return fmt.Errorf("humidity %d out of range", percent)
	}
	d.SetProperty(PropTargetHumidity, (percent-15)/5)
	return nil
}

func (d *Device) CurrentHumidity() int { return d.intProp(PropSensorHumidity) }

// UpdateState reads the full property set from the unit and refreshes the
// local cache. It is possible for the unit to change state from other
// controllers, so call this periodically.
func (d *Device) UpdateState(ctx context.Context) error {
	names := d.updateProps()
	batch, err := d.client.RequestProperties(ctx, d.session, names)
	if err != nil {
		return err
	}
	d.applyBatch(batch)
	return nil
}

// updateProps returns the property names to request; the firmware id is
// only asked for until it is known.
func (d *Device) updateProps() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := append([]string(nil), acPropNames...)
	if d.hid == "" {
		names = append(names, propHID)
	}
	return names
}

// applyBatch folds device-reported values into the cache without marking
// them dirty.
func (d *Device) applyBatch(batch *PropertyBatch) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, name := range batch.Names() {
		v, _ := batch.Get(name)
		if name == propHID {
			d.applyHID(v)
			continue
		}
		d.properties[name] = v
	}

	// Ex: hid = 362001000762+U-CS532AE(LT)V3.31.bin
	if d.checkVersion {
		if raw, ok := d.properties[PropSensorTemp]; ok {
			d.checkVersion = false
			if t := asInt(raw); t != 0 && t < tempOffset {
				// Sensor reports plain celsius, this is v4 firmware.
				d.version = "4.0"
			}
		}
	}
}

// applyHID captures the firmware id and extracts the version. Caller holds
// d.mu.
func (d *Device) applyHID(v any) {
	hid, ok := v.(string)
	if !ok || hid == "" {
		return
	}
	d.hid = hid
	if m := hidVersionRe.FindStringSubmatch(hid); m != nil {
		d.version = m[1]
	}
}

// PushStateUpdate sends every staged property change to the unit and folds
// the device-confirmed values back into the cache. A no-op when nothing is
// staged.
func (d *Device) PushStateUpdate(ctx context.Context) error {
	d.mu.Lock()
	if len(d.dirty) == 0 {
		d.mu.Unlock()
		return nil
	}
	batch := NewPropertyBatch()
	for _, name := range d.dirty {
		batch.Add(name, d.properties[name])
		// The setpoint only takes effect together with its unit and
		// rounding-bit companions.
		if name == PropTargetTemp {
			batch.Add(PropTempBit, d.properties[PropTempBit])
			batch.Add(PropTempUnit, d.properties[PropTempUnit])
		}
	}
	d.dirty = nil
	d.mu.Unlock()

	confirmed, err := d.client.SetProperties(ctx, d.session, batch)
	if err != nil {
		return err
	}
	d.applyBatch(confirmed)
	return nil
}
