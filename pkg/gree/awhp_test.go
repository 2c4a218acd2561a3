package gree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAwhpDevice_CelsiusPair(t *testing.T) {
	d := NewAwhpDevice(nil, nil)
	d.applyBatch(NewPropertyBatch().
		Add(PropWaterOutTempWhole, 135).
		Add(PropWaterOutTempDecimal, 5))

	got, ok := d.WaterOutTemp()
	require.True(t, ok)
	assert.InDelta(t, 35.5, got, 0.001)

	// Sub-zero temperatures sit below the 100 offset.
	d.applyBatch(NewPropertyBatch().
		Add(PropWaterInTempWhole, 97).
		Add(PropWaterInTempDecimal, 2))
	got, ok = d.WaterInTemp()
	require.True(t, ok)
	assert.InDelta(t, -2.8, got, 0.001)

	// Missing either half means no reading.
	_, ok = d.HotWaterTemp()
	assert.False(t, ok)
}

func TestAwhpDevice_Setpoints(t *testing.T) {
	d := NewAwhpDevice(nil, nil)

	d.SetHeatTempSet(55)
	d.SetHotWaterTempSet(50)
	assert.Equal(t, 55, d.HeatTempSet())
	assert.Equal(t, 50, d.HotWaterTempSet())
	assert.ElementsMatch(t, []string{PropHeatTempSet, PropHotWaterTempSet}, d.dirty)
}

func TestAwhpDevice_StatusFlags(t *testing.T) {
	d := NewAwhpDevice(nil, nil)
	d.applyBatch(NewPropertyBatch().
		Add(PropTankHeater, 1).
		Add(PropDefrosting, 0).
		Add(PropFrostProtection, 1).
		Add(PropAllError, 0))

	assert.True(t, d.TankHeaterActive())
	assert.False(t, d.Defrosting())
	assert.True(t, d.FrostProtectionActive())
	assert.Equal(t, 0, d.ErrorCode())
}

func TestAwhpDevice_UpdateState(t *testing.T) {
	fake := newFakeDevice(t, LegacyECB)
	fake.set(PropPower, 1)
	fake.set(PropHeatTempSet, 48)
	fake.set(PropHotWaterTempWhole, 152)
	fake.set(PropHotWaterTempDecimal, 3)
	c := newTestClient(t)
	session := bindFake(t, c, fake)
	d := NewAwhpDevice(c, session)

	require.NoError(t, d.UpdateState(context.Background()))

	assert.True(t, d.Power())
	assert.Equal(t, 48, d.HeatTempSet())
	got, ok := d.HotWaterTemp()
	require.True(t, ok)
	assert.InDelta(t, 52.3, got, 0.001)
}

func TestAwhpDevice_PushStateUpdate(t *testing.T) {
	fake := newFakeDevice(t, LegacyECB)
	c := newTestClient(t)
	session := bindFake(t, c, fake)
	d := NewAwhpDevice(c, session)

	d.SetPower(true)
	d.SetFastHeatWater(true)
	require.NoError(t, d.PushStateUpdate(context.Background()))

	assert.EqualValues(t, 1, asInt(fake.get(PropPower)))
	assert.EqualValues(t, 1, asInt(fake.get(PropFastHeatWater)))
}
