package lpmui

import (
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/sailfish-mce/tklock-core/internal/clock"
	"github.com/sailfish-mce/tklock-core/internal/facts"
	"github.com/sailfish-mce/tklock-core/internal/pipes"
	"github.com/sailfish-mce/tklock-core/internal/settings"
)

func newHarness(t *testing.T) (*Machine, *pipes.Pipes, *clock.FakeSource, *clock.Service) {
	t.Helper()
	log := hclog.NewNullLogger()
	src := clock.NewFakeSource(0)
	cs := clock.NewService(log, src)
	p := pipes.NewPipes()
	sett := settings.NewTracker(log)
	settings.Default(sett)
	m := New(log, p, cs, sett)
	return m, p, src, cs
}

// A long covered stretch followed by a fresh uncover reads as "taken
// from pocket" and lights the glance screen.
func TestLPMUI_FromPocketGestureTriggers(t *testing.T) {
	_, p, src, _ := newHarness(t)

	p.SystemState.Publish(facts.SystemUser)
	p.LipstickAvailable.Publish(true)

	src.Set(500)
	p.ProximitySensor.Publish(facts.CoverClosed)
	src.Set(3500)
	p.ProximitySensor.Publish(facts.CoverClosed)
	src.Set(4000)
	p.ProximitySensor.Publish(facts.CoverOpen)

	src.Set(4200)
	p.DisplayState.Publish(facts.DisplayOff) // display-off re-evaluates the gesture

	require.Equal(t, facts.DisplayLPMOn, p.DisplayStateReq.Read())
	require.Equal(t, facts.TkLockRequestLocked, p.TkLockRequest.Read())
	require.True(t, p.LPMUIEnabled.Read())
}

func TestLPMUI_NoMatchWithoutClosedHistory(t *testing.T) {
	_, p, src, _ := newHarness(t)

	p.SystemState.Publish(facts.SystemUser)
	p.LipstickAvailable.Publish(true)

	src.Set(4000)
	p.ProximitySensor.Publish(facts.CoverOpen)

	src.Set(4200)
	p.DisplayState.Publish(facts.DisplayOff)

	require.False(t, p.LPMUIEnabled.Read())
}

func TestLPMUI_PrerequisitesBlockTrigger(t *testing.T) {
	_, p, src, _ := newHarness(t)
	// SystemState never set to User: prerequisites unmet.
	src.Set(500)
	p.ProximitySensor.Publish(facts.CoverClosed)
	src.Set(3500)
	p.ProximitySensor.Publish(facts.CoverClosed)
	src.Set(4000)
	p.ProximitySensor.Publish(facts.CoverOpen)
	src.Set(4200)
	p.DisplayState.Publish(facts.DisplayOff)

	require.False(t, p.LPMUIEnabled.Read())
}

// Clearing the from-pocket bit in lpm_ui_trigger_mask must suppress the
// gesture that would otherwise fire on the same history.
func TestLPMUI_TriggerMaskDisablesFromPocket(t *testing.T) {
	m, p, src, _ := newHarness(t)
	m.sett.SetInt(settings.KeyLPMUITriggerMask, settings.LPMUITriggerOnTable)

	p.SystemState.Publish(facts.SystemUser)
	p.LipstickAvailable.Publish(true)

	src.Set(500)
	p.ProximitySensor.Publish(facts.CoverClosed)
	src.Set(3500)
	p.ProximitySensor.Publish(facts.CoverClosed)
	src.Set(4000)
	p.ProximitySensor.Publish(facts.CoverOpen)
	src.Set(4200)
	p.DisplayState.Publish(facts.DisplayOff)

	require.False(t, p.LPMUIEnabled.Read())
}

func TestLPMUI_ThermalVetoSuppressesTrigger(t *testing.T) {
	_, p, src, _ := newHarness(t)
	p.SystemState.Publish(facts.SystemUser)
	p.LipstickAvailable.Publish(true)
	p.ThermalState.Publish(facts.ThermalOverheated)

	src.Set(500)
	p.ProximitySensor.Publish(facts.CoverClosed)
	src.Set(3500)
	p.ProximitySensor.Publish(facts.CoverClosed)
	src.Set(4000)
	p.ProximitySensor.Publish(facts.CoverOpen)
	src.Set(4200)
	p.DisplayState.Publish(facts.DisplayOff)

	require.False(t, p.LPMUIEnabled.Read())
}
