package kbdslide

import (
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/sailfish-mce/tklock-core/internal/facts"
	"github.com/sailfish-mce/tklock-core/internal/pipes"
	"github.com/sailfish-mce/tklock-core/internal/settings"
)

func newHarness(t *testing.T) (*Machine, *pipes.Pipes, *settings.Tracker) {
	t.Helper()
	log := hclog.NewNullLogger()
	p := pipes.NewPipes()
	sett := settings.NewTracker(log)
	settings.Default(sett)
	m := New(log, p, sett)
	return m, p, sett
}

func TestKbdSlide_OpenAlwaysTriggerWakesDisplay(t *testing.T) {
	_, p, sett := newHarness(t)
	sett.SetString(settings.KeyKbdOpenTrigger, settings.TriggerAlways)
	sett.SetString(settings.KeyKbdOpenAction, settings.ActionDisplayAndLock)

	p.DisplayState.Publish(facts.DisplayOff)
	p.KeyboardSlide.Publish(facts.CoverClosed) // establish a known starting slide state
	p.KeyboardSlide.Publish(facts.CoverOpen)

	require.Equal(t, facts.DisplayOn, p.DisplayStateReq.Read())
	require.Equal(t, facts.TkLockRequestUnlocked, p.TkLockRequest.Read())
}

func TestKbdSlide_OpenNeverTriggerDoesNothing(t *testing.T) {
	_, p, _ := newHarness(t)
	p.DisplayState.Publish(facts.DisplayOff)
	p.KeyboardSlide.Publish(facts.CoverClosed)
	p.KeyboardSlide.Publish(facts.CoverOpen)

	require.Equal(t, facts.DisplayOff, p.DisplayStateReq.Read())
}

func TestKbdSlide_CloseAfterOpenTriggerLocksDisplay(t *testing.T) {
	_, p, sett := newHarness(t)
	sett.SetString(settings.KeyKbdOpenTrigger, settings.TriggerAlways)
	sett.SetString(settings.KeyKbdCloseTrigger, settings.TriggerAfterOpen)
	sett.SetString(settings.KeyKbdCloseAction, settings.ActionDisplayAndLock)

	p.DisplayState.Publish(facts.DisplayOff)
	p.KeyboardSlide.Publish(facts.CoverClosed)
	p.KeyboardSlide.Publish(facts.CoverOpen)
	p.DisplayState.Publish(facts.DisplayOn)

	p.KeyboardSlide.Publish(facts.CoverClosed)

	require.Equal(t, facts.DisplayOff, p.DisplayStateReq.Read())
	require.Equal(t, facts.TkLockRequestLocked, p.TkLockRequest.Read())
}

func TestKbdSlide_CloseSkippedDuringCall(t *testing.T) {
	_, p, sett := newHarness(t)
	sett.SetString(settings.KeyKbdCloseTrigger, settings.TriggerAlways)
	sett.SetString(settings.KeyKbdCloseAction, settings.ActionDisplayAndLock)

	p.DisplayState.Publish(facts.DisplayOn)
	p.DisplayStateReq.Publish(facts.DisplayOn)
	p.ExceptionState.Publish(facts.ExceptionCall)
	p.KeyboardSlide.Publish(facts.CoverClosed)

	require.NotEqual(t, facts.DisplayOff, p.DisplayStateReq.Read())
	require.NotEqual(t, facts.TkLockRequestLocked, p.TkLockRequest.Read())
}
