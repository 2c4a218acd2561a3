package gree

import "context"

// Protocol-level property codes for Versati air-water heat pumps. Water
// temperatures are split across a whole-number code (offset by 100) and a
// decimal code.
const (
	PropWaterInTempWhole      = "AllInWatTemHi"
	PropWaterInTempDecimal    = "AllInWatTemLo"
	PropWaterOutTempWhole     = "AllOutWatTemHi"
	PropWaterOutTempDecimal   = "AllOutWatTemLo"
	PropOptWaterTempWhole     = "HepOutWatTemHi"
	PropOptWaterTempDecimal   = "HepOutWatTemLo"
	PropHotWaterTempWhole     = "WatBoxTemHi"
	PropHotWaterTempDecimal   = "WatBoxTemLo"
	PropRemoteHomeTempWhole   = "RmoHomTemHi"
	PropRemoteHomeTempDecimal = "RmoHomTemLo"

	PropTankHeater      = "WatBoxElcHeRunSta"
	PropDefrosting      = "SyAnFroRunSta"
	PropHPHeater1       = "ElcHe1RunSta"
	PropHPHeater2       = "ElcHe2RunSta"
	PropFrostProtection = "AnFrzzRunSta"

	PropCoolTempSet     = "CoWatOutTemSet"
	PropHeatTempSet     = "HeWatOutTemSet"
	PropHotWaterTempSet = "WatBoxTemSet"
	PropCoolHomeTempSet = "CoHomTemSet"
	PropHeatHomeTempSet = "HeHomTemSet"

	PropCoolAndHotWater = "ColHtWter"
	PropHeatAndHotWater = "HetHtWter"
	PropFastHeatWater   = "FastHtWter"
	PropLeftHome        = "LefHom"
	PropDisinfect       = "SwDisFct"
	PropVersatiSeries   = "VersatiSeries"
	PropAllError        = "AllErr"
)

// awhpPropNames is the full Versati property set requested on an update.
var awhpPropNames = []string{
	PropPower, PropMode, PropTempUnit, PropTempBit, PropAllError,
	PropWaterInTempWhole, PropWaterInTempDecimal,
	PropWaterOutTempWhole, PropWaterOutTempDecimal,
	PropOptWaterTempWhole, PropOptWaterTempDecimal,
	PropHotWaterTempWhole, PropHotWaterTempDecimal,
	PropRemoteHomeTempWhole, PropRemoteHomeTempDecimal,
	PropTankHeater, PropDefrosting, PropHPHeater1, PropHPHeater2,
	PropFrostProtection,
	PropCoolTempSet, PropHeatTempSet, PropHotWaterTempSet,
	PropCoolHomeTempSet, PropHeatHomeTempSet,
	PropCoolAndHotWater, PropHeatAndHotWater, PropFastHeatWater,
	PropLeftHome, PropDisinfect, PropQuiet, PropPowerSave,
	PropVersatiSeries,
}

// AwhpDevice is the named-property facade for Versati-series air-water
// heat pumps.
type AwhpDevice struct {
	Device
}

// NewAwhpDevice wraps a bound session in the heat pump facade.
func NewAwhpDevice(client *Client, session *Session) *AwhpDevice {
	d := &AwhpDevice{}
	d.client = client
	d.session = session
	d.properties = make(map[string]any)
	d.checkVersion = true
	return d
}

// celsiusPair combines a whole-number property (offset by 100) with its
// decimal companion into degrees celsius.
func (d *AwhpDevice) celsiusPair(wholeProp, decimalProp string) (float64, bool) {
	d.mu.Lock()
	whole, okW := d.properties[wholeProp]
	decimal, okD := d.properties[decimalProp]
	d.mu.Unlock()
	if !okW || !okD {
		return 0, false
	}
	return float64(asInt(whole)-100) + float64(asInt(decimal))/10, true
}

// WaterInTemp is the return water temperature entering the unit.
func (d *AwhpDevice) WaterInTemp() (float64, bool) {
	return d.celsiusPair(PropWaterInTempWhole, PropWaterInTempDecimal)
}

// WaterOutTemp is the flow water temperature leaving the unit.
func (d *AwhpDevice) WaterOutTemp() (float64, bool) {
	return d.celsiusPair(PropWaterOutTempWhole, PropWaterOutTempDecimal)
}

// OptWaterTemp is the optimal flow temperature computed by the unit.
func (d *AwhpDevice) OptWaterTemp() (float64, bool) {
	return d.celsiusPair(PropOptWaterTempWhole, PropOptWaterTempDecimal)
}

// HotWaterTemp is the domestic hot water tank temperature.
func (d *AwhpDevice) HotWaterTemp() (float64, bool) {
	return d.celsiusPair(PropHotWaterTempWhole, PropHotWaterTempDecimal)
}

// RemoteHomeTemp is the room temperature from the remote sensor.
func (d *AwhpDevice) RemoteHomeTemp() (float64, bool) {
	return d.celsiusPair(PropRemoteHomeTempWhole, PropRemoteHomeTempDecimal)
}

func (d *AwhpDevice) CoolTempSet() int          { return d.intProp(PropCoolTempSet) }
func (d *AwhpDevice) SetCoolTempSet(v int)      { d.SetProperty(PropCoolTempSet, v) }
func (d *AwhpDevice) HeatTempSet() int          { return d.intProp(PropHeatTempSet) }
func (d *AwhpDevice) SetHeatTempSet(v int)      { d.SetProperty(PropHeatTempSet, v) }
func (d *AwhpDevice) HotWaterTempSet() int      { return d.intProp(PropHotWaterTempSet) }
func (d *AwhpDevice) SetHotWaterTempSet(v int)  { d.SetProperty(PropHotWaterTempSet, v) }
func (d *AwhpDevice) CoolHomeTempSet() int      { return d.intProp(PropCoolHomeTempSet) }
func (d *AwhpDevice) SetCoolHomeTempSet(v int)  { d.SetProperty(PropCoolHomeTempSet, v) }
func (d *AwhpDevice) HeatHomeTempSet() int      { return d.intProp(PropHeatHomeTempSet) }
func (d *AwhpDevice) SetHeatHomeTempSet(v int)  { d.SetProperty(PropHeatHomeTempSet, v) }

func (d *AwhpDevice) CoolAndHotWater() bool        { return d.boolProp(PropCoolAndHotWater) }
func (d *AwhpDevice) SetCoolAndHotWater(on bool)   { d.SetProperty(PropCoolAndHotWater, asInt(on)) }
func (d *AwhpDevice) HeatAndHotWater() bool        { return d.boolProp(PropHeatAndHotWater) }
func (d *AwhpDevice) SetHeatAndHotWater(on bool)   { d.SetProperty(PropHeatAndHotWater, asInt(on)) }
func (d *AwhpDevice) FastHeatWater() bool          { return d.boolProp(PropFastHeatWater) }
func (d *AwhpDevice) SetFastHeatWater(on bool)     { d.SetProperty(PropFastHeatWater, asInt(on)) }
func (d *AwhpDevice) LeftHome() bool               { return d.boolProp(PropLeftHome) }
func (d *AwhpDevice) SetLeftHome(on bool)          { d.SetProperty(PropLeftHome, asInt(on)) }
func (d *AwhpDevice) Disinfect() bool              { return d.boolProp(PropDisinfect) }
func (d *AwhpDevice) SetDisinfect(on bool)         { d.SetProperty(PropDisinfect, asInt(on)) }
func (d *AwhpDevice) VersatiSeries() bool          { return d.boolProp(PropVersatiSeries) }

func (d *AwhpDevice) TankHeaterActive() bool      { return d.boolProp(PropTankHeater) }
func (d *AwhpDevice) Defrosting() bool            { return d.boolProp(PropDefrosting) }
func (d *AwhpDevice) HPHeater1Active() bool       { return d.boolProp(PropHPHeater1) }
func (d *AwhpDevice) HPHeater2Active() bool       { return d.boolProp(PropHPHeater2) }
func (d *AwhpDevice) FrostProtectionActive() bool { return d.boolProp(PropFrostProtection) }
func (d *AwhpDevice) ErrorCode() int              { return d.intProp(PropAllError) }

// UpdateState reads the Versati property set from the unit. Shadows the
// generic AC update with the heat pump's own property list.
func (d *AwhpDevice) UpdateState(ctx context.Context) error {
	names := append([]string(nil), awhpPropNames...)
	d.mu.Lock()
	if d.hid == "" {
		names = append(names, propHID)
	}
	d.mu.Unlock()

	batch, err := d.client.RequestProperties(ctx, d.session, names)
	if err != nil {
		return err
	}
	d.applyBatch(batch)
	return nil
}
