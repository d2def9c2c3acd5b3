// Package pipes is the complete observable-fact registry for the policy
// core, collected in one struct so the core and every state-machine
// package can depend on the pipe registry without depending on each
// other.
package pipes

import (
	"github.com/sailfish-mce/tklock-core/internal/datapipe"
	"github.com/sailfish-mce/tklock-core/internal/facts"
)

// Pipes is the complete observable-fact registry: every latched state,
// service-availability and event pipe the state machines read or write.
type Pipes struct {
	DisplayState     *datapipe.Pipe[facts.DisplayState]
	DisplayStateNext *datapipe.Pipe[facts.DisplayState]
	DisplayStateReq  *datapipe.Pipe[facts.DisplayState]

	CallState    *datapipe.Pipe[facts.CallState]
	AlarmUIState *datapipe.Pipe[facts.AlarmUIState]

	SystemState *datapipe.Pipe[facts.SystemState]
	Submode     *datapipe.Pipe[facts.Submode]

	ChargerState  *datapipe.Pipe[facts.ChargerState]
	BatteryStatus *datapipe.Pipe[facts.BatteryStatus]
	USBCableState *datapipe.Pipe[facts.USBCableState]
	AudioRoute    *datapipe.Pipe[facts.AudioRoute]

	DeviceLockState *datapipe.Pipe[facts.DeviceLockState]

	ProximitySensor     *datapipe.Pipe[facts.CoverState]
	LidCoverSensor      *datapipe.Pipe[facts.CoverState]
	LidCoverPolicy      *datapipe.Pipe[facts.CoverState]
	LensCover           *datapipe.Pipe[facts.CoverState]
	KeyboardSlide       *datapipe.Pipe[facts.CoverState]
	KeyboardAvailable   *datapipe.Pipe[facts.CoverState]
	OrientationSensor   *datapipe.Pipe[facts.CoverState]
	JackSense           *datapipe.Pipe[facts.CoverState]
	LidSensorIsWorking  *datapipe.Pipe[bool]

	AmbientLightSensor *datapipe.Pipe[int] // lux; <0 = powered down
	AmbientLightPoll   *datapipe.Pipe[bool]

	Heartbeat *datapipe.Pipe[int64]

	LipstickAvailable    *datapipe.Pipe[bool]
	CompositorAvailable  *datapipe.Pipe[bool]
	DevicelockAvailable  *datapipe.Pipe[bool]
	MusicPlayback        *datapipe.Pipe[bool]
	UpdateMode           *datapipe.Pipe[bool]
	ShuttingDown         *datapipe.Pipe[bool]
	InteractionExpected  *datapipe.Pipe[bool]
	PackagekitLocked     *datapipe.Pipe[bool]
	MasterRadio          *datapipe.Pipe[bool]
	DeviceResumed        *datapipe.Pipe[struct{}]
	CameraButton         *datapipe.Pipe[struct{}]
	VolumeKeyPressed     *datapipe.Pipe[struct{}]
	UserActivity         *datapipe.Pipe[struct{}]

	ThermalState    *datapipe.Pipe[facts.ThermalState]
	PowerSavingMode *datapipe.Pipe[facts.PowerSavingMode]

	ExceptionState *datapipe.Pipe[facts.ExceptionState]

	TkLockRequest *datapipe.Pipe[facts.TkLockRequest]

	TouchGrabWanted  *datapipe.Pipe[bool]
	TouchGrabActive  *datapipe.Pipe[bool]
	KeypadGrabWanted *datapipe.Pipe[bool]
	KeypadGrabActive *datapipe.Pipe[bool]

	ProximityBlank *datapipe.Pipe[bool]

	LPMUIEnabled *datapipe.Pipe[bool]
}

// NewPipes constructs every pipe with its documented caching policy and a
// conservative initial value. Event-only pipes (user activity, camera
// button, device resumed) use CacheNone since they carry no latched state.
func NewPipes() *Pipes {
	return &Pipes{
		DisplayState:     datapipe.New("display_state", datapipe.CacheOutdata, facts.DisplayOff),
		DisplayStateNext: datapipe.New("display_state_next", datapipe.CacheOutdata, facts.DisplayOff),
		DisplayStateReq:  datapipe.New("display_state_req", datapipe.CacheOutdata, facts.DisplayOff),

		CallState:    datapipe.New("call_state", datapipe.CacheOutdata, facts.CallNone),
		AlarmUIState: datapipe.New("alarm_ui_state", datapipe.CacheOutdata, facts.AlarmOff),

		SystemState: datapipe.New("system_state", datapipe.CacheOutdata, facts.SystemUnknown),
		Submode:     datapipe.New("submode", datapipe.CacheOutdata, facts.Submode(0)),

		ChargerState:  datapipe.New("charger_state", datapipe.CacheOutdata, facts.ChargerUnknown),
		BatteryStatus: datapipe.New("battery_status", datapipe.CacheOutdata, facts.BatteryStatusUnknown),
		USBCableState: datapipe.New("usb_cable_state", datapipe.CacheOutdata, facts.USBCableUnknown),
		AudioRoute:    datapipe.New("audio_route", datapipe.CacheOutdata, facts.AudioRouteUndef),

		DeviceLockState: datapipe.New("device_lock_state", datapipe.CacheOutdata, facts.DeviceLockUndefined),

		ProximitySensor:    datapipe.New("proximity_sensor", datapipe.CacheOutdata, facts.CoverOpen),
		LidCoverSensor:     datapipe.New("lid_cover_sensor", datapipe.CacheOutdata, facts.CoverOpen),
		LidCoverPolicy:     datapipe.New("lid_cover_policy", datapipe.CacheOutdata, facts.CoverUndef),
		LensCover:          datapipe.New("lens_cover", datapipe.CacheOutdata, facts.CoverOpen),
		KeyboardSlide:      datapipe.New("keyboard_slide", datapipe.CacheOutdata, facts.CoverOpen),
		KeyboardAvailable:  datapipe.New("keyboard_available", datapipe.CacheOutdata, facts.CoverUndef),
		OrientationSensor:  datapipe.New("orientation_sensor", datapipe.CacheOutdata, facts.CoverUndef),
		JackSense:          datapipe.New("jack_sense", datapipe.CacheOutdata, facts.CoverUndef),
		LidSensorIsWorking: datapipe.New("lid_sensor_is_working", datapipe.CacheOutdata, false),

		AmbientLightSensor: datapipe.New("ambient_light_sensor", datapipe.CacheOutdata, -1),
		AmbientLightPoll:   datapipe.New("ambient_light_poll", datapipe.CacheOutdata, false),

		Heartbeat: datapipe.New("heartbeat", datapipe.CacheOutdata, int64(0)),

		LipstickAvailable:   datapipe.New("lipstick_available", datapipe.CacheOutdata, false),
		CompositorAvailable: datapipe.New("compositor_available", datapipe.CacheOutdata, false),
		DevicelockAvailable: datapipe.New("devicelock_available", datapipe.CacheOutdata, false),
		MusicPlayback:       datapipe.New("music_playback", datapipe.CacheOutdata, false),
		UpdateMode:          datapipe.New("update_mode", datapipe.CacheOutdata, false),
		ShuttingDown:        datapipe.New("shutting_down", datapipe.CacheOutdata, false),
		InteractionExpected: datapipe.New("interaction_expected", datapipe.CacheOutdata, false),
		PackagekitLocked:    datapipe.New("packagekit_locked", datapipe.CacheOutdata, false),
		MasterRadio:         datapipe.New("master_radio", datapipe.CacheOutdata, false),
		DeviceResumed:       datapipe.New("device_resumed", datapipe.CacheNone, struct{}{}),
		CameraButton:        datapipe.New("camera_button", datapipe.CacheNone, struct{}{}),
		VolumeKeyPressed:    datapipe.New("volume_key_pressed", datapipe.CacheNone, struct{}{}),
		UserActivity:        datapipe.New("user_activity", datapipe.CacheNone, struct{}{}),

		ThermalState:    datapipe.New("thermal_state", datapipe.CacheOutdata, facts.ThermalNormal),
		PowerSavingMode: datapipe.New("power_saving_mode", datapipe.CacheOutdata, facts.PowerSavingOff),

		ExceptionState: datapipe.New("exception_state", datapipe.CacheOutdata, facts.ExceptionNone),

		TkLockRequest: datapipe.New("tk_lock_request", datapipe.CacheIndata, facts.TkLockRequestUndef),

		TouchGrabWanted:  datapipe.New("touch_grab_wanted", datapipe.CacheOutdata, false),
		TouchGrabActive:  datapipe.New("touch_grab_active", datapipe.CacheOutdata, false),
		KeypadGrabWanted: datapipe.New("keypad_grab_wanted", datapipe.CacheOutdata, false),
		KeypadGrabActive: datapipe.New("keypad_grab_active", datapipe.CacheOutdata, false),

		ProximityBlank: datapipe.New("proximity_blank", datapipe.CacheOutdata, false),

		LPMUIEnabled: datapipe.New("lpm_ui_enabled", datapipe.CacheOutdata, false),
	}
}
