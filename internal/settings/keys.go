package settings

// Setting keys, one per policy knob. Exported so consumer packages can
// Track/Notify without string literals scattered through the tree.
const (
	KeyAutolockEnabled        = "autolock_enabled"
	KeyAutolockDelayMs        = "autolock_delay_ms"
	KeyInputPolicyEnabled     = "input_policy_enabled"
	KeyLidSensorEnabled       = "lid_sensor_enabled"
	KeyALSEnabled             = "als_enabled"
	KeyFilterLidWithALS       = "filter_lid_with_als"
	KeyFilterLidALSLimitLux   = "filter_lid_als_limit_lux"
	KeyLockscreenAnimEnabled  = "lockscreen_anim_enabled"
	KeyProximityBlocksTouch   = "proximity_blocks_touch"
	KeyDevicelockInLockscreen = "devicelock_in_lockscreen"
	KeyVolumeKeyPolicy        = "volume_key_policy"
	KeyLidOpenAction          = "lid_open_action"
	KeyLidCloseAction         = "lid_close_action"
	KeyKbdOpenTrigger         = "kbd_open_trigger"
	KeyKbdOpenAction          = "kbd_open_action"
	KeyKbdCloseTrigger        = "kbd_close_trigger"
	KeyKbdCloseAction         = "kbd_close_action"
	KeyTouchscreenGestureMode = "touchscreen_gesture_mode"
	KeyLPMUITriggerMask       = "lpm_ui_trigger_mask"
)

// Exception-length causes, one per event source that can raise a
// time-limited display exception.
const (
	ExCauseCallIn      = "call-in"
	ExCauseCallOut     = "call-out"
	ExCauseAlarm       = "alarm"
	ExCauseUSBConnect  = "usb-connect"
	ExCauseUSBDialog   = "usb-dialog"
	ExCauseCharger     = "charger"
	ExCauseBatteryLow  = "battery"
	ExCauseJackIn      = "jack-in"
	ExCauseJackOut     = "jack-out"
	ExCauseCamera      = "camera"
	ExCauseVolume      = "volume"
	ExCauseActivity    = "activity"
)

// Action/trigger string values for lid_open_action, lid_close_action,
// kbd_open_action, kbd_close_action, kbd_open_trigger, kbd_close_trigger.
const (
	ActionDisplayOnly    = "display-only"
	ActionDisplayAndLock = "display-and-tklock"

	TriggerNever       = "never"
	TriggerAlways      = "always"
	TriggerNoProximity = "no-proximity"
	TriggerAfterOpen   = "after-open"
)

// Values for touchscreen_gesture_mode, feeding the double-tap enable
// predicate.
const (
	GestureModeDisabled    = "disabled"
	GestureModeAlways      = "always"
	GestureModeNoProximity = "no-proximity"
)

// Values for volume_key_policy; media-only forces the keypad grab while
// no music is playing.
const (
	VolumePolicyIgnore    = "ignore"
	VolumePolicyMediaOnly = "media-only"
)

// Bits of lpm_ui_trigger_mask: which low-power-mode UI gestures
// ("from pocket" / "on table") are enabled.
const (
	LPMUITriggerFromPocket = 1 << 0
	LPMUITriggerOnTable    = 1 << 1

	LPMUITriggerDefaultMask = LPMUITriggerFromPocket | LPMUITriggerOnTable
)

// Clamp bounds and compiled defaults for the numeric knobs.
const (
	AutolockDelayMinMs = 100
	AutolockDelayMaxMs = 120000
	AutolockDelayDefMs = 15000

	ALSLimitLuxMin = 0
	ALSLimitLuxMax = 60000
	ALSLimitLuxDef = 3

	ExceptionLengthMinMs = 500
	ExceptionLengthMaxMs = 60000
)

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SanitizeAutolockDelay clamps to [AutolockDelayMinMs, AutolockDelayMaxMs].
func SanitizeAutolockDelay(v int) int {
	return clampInt(v, AutolockDelayMinMs, AutolockDelayMaxMs)
}

// SanitizeALSLimitLux clamps the configured lux threshold used by the lid
// filter's three-valued ALS mapping.
func SanitizeALSLimitLux(v int) int {
	return clampInt(v, ALSLimitLuxMin, ALSLimitLuxMax)
}

// Default registers every knob on t with its compiled default and
// sanitizer; TrackInt/TrackBool always start from a known-good default
// before any file is loaded.
func Default(t *Tracker) {
	t.TrackBool(KeyAutolockEnabled, true)
	t.TrackInt(KeyAutolockDelayMs, AutolockDelayDefMs, SanitizeAutolockDelay)
	t.TrackBool(KeyInputPolicyEnabled, true)
	t.TrackBool(KeyLidSensorEnabled, true)
	t.TrackBool(KeyALSEnabled, true)
	t.TrackBool(KeyFilterLidWithALS, true)
	t.TrackInt(KeyFilterLidALSLimitLux, ALSLimitLuxDef, SanitizeALSLimitLux)
	t.TrackBool(KeyLockscreenAnimEnabled, true)
	t.TrackBool(KeyProximityBlocksTouch, true)
	t.TrackBool(KeyDevicelockInLockscreen, false)
	t.TrackString(KeyVolumeKeyPolicy, "ignore")
	t.TrackString(KeyLidOpenAction, ActionDisplayOnly)
	t.TrackString(KeyLidCloseAction, ActionDisplayAndLock)
	t.TrackString(KeyKbdOpenTrigger, TriggerNever)
	t.TrackString(KeyKbdOpenAction, ActionDisplayOnly)
	t.TrackString(KeyKbdCloseTrigger, TriggerNever)
	t.TrackString(KeyKbdCloseAction, ActionDisplayAndLock)
	t.TrackString(KeyTouchscreenGestureMode, "disabled")
	t.TrackInt(KeyLPMUITriggerMask, LPMUITriggerDefaultMask, nil)

	for _, cause := range []string{
		ExCauseCallIn, ExCauseCallOut, ExCauseAlarm, ExCauseUSBConnect,
		ExCauseUSBDialog, ExCauseCharger, ExCauseBatteryLow, ExCauseJackIn,
		ExCauseJackOut, ExCauseCamera, ExCauseVolume, ExCauseActivity,
	} {
		t.TrackInt(exceptionLengthKey(cause), 5000, func(v int) int {
			return clampInt(v, ExceptionLengthMinMs, ExceptionLengthMaxMs)
		})
	}
}

func exceptionLengthKey(cause string) string {
	return "exception_length_ms." + cause
}

// ExceptionLengthMs returns the configured exception length for cause, or
// the tracker's default if cause was never explicitly set.
func ExceptionLengthMs(t *Tracker, cause string) int {
	return t.Int(exceptionLengthKey(cause))
}

// Apply pushes every non-nil field of f into t via SetInt/SetBool, so
// unset YAML fields leave the current (possibly file-reloaded, possibly
// still-default) value untouched rather than reverting to zero.
func Apply(t *Tracker, f *File) {
	applyBool(t, KeyAutolockEnabled, f.AutolockEnabled)
	applyInt(t, KeyAutolockDelayMs, f.AutolockDelayMs)
	applyBool(t, KeyInputPolicyEnabled, f.InputPolicyEnabled)
	applyBool(t, KeyLidSensorEnabled, f.LidSensorEnabled)
	applyBool(t, KeyALSEnabled, f.ALSEnabled)
	applyBool(t, KeyFilterLidWithALS, f.FilterLidWithALS)
	applyInt(t, KeyFilterLidALSLimitLux, f.FilterLidALSLimitLux)
	applyBool(t, KeyLockscreenAnimEnabled, f.LockscreenAnimEnabled)
	applyBool(t, KeyProximityBlocksTouch, f.ProximityBlocksTouch)
	applyBool(t, KeyDevicelockInLockscreen, f.DevicelockInLockscreen)
	applyString(t, KeyVolumeKeyPolicy, f.VolumeKeyPolicy)
	applyString(t, KeyLidOpenAction, f.LidOpenAction)
	applyString(t, KeyLidCloseAction, f.LidCloseAction)
	applyString(t, KeyKbdOpenTrigger, f.KbdOpenTrigger)
	applyString(t, KeyKbdOpenAction, f.KbdOpenAction)
	applyString(t, KeyKbdCloseTrigger, f.KbdCloseTrigger)
	applyString(t, KeyKbdCloseAction, f.KbdCloseAction)
	applyString(t, KeyTouchscreenGestureMode, f.TouchscreenGestureMode)
	applyInt(t, KeyLPMUITriggerMask, f.LPMUITriggerMask)

	for cause, ms := range f.ExceptionLengthsMs {
		t.SetInt(exceptionLengthKey(cause), ms)
	}
}

func applyBool(t *Tracker, key string, v *bool) {
	if v != nil {
		t.SetBool(key, *v)
	}
}

func applyInt(t *Tracker, key string, v *int) {
	if v != nil {
		t.SetInt(key, *v)
	}
}

func applyString(t *Tracker, key string, v *string) {
	if v != nil {
		t.SetString(key, *v)
	}
}
