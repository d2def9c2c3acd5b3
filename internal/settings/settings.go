// Package settings implements the bound, mutable policy knobs the rest
// of the core reads. Each knob is a Track* call registering a key, a
// default, a sanitizer, and a change-callback list identified by a typed
// NotifierID.
//
// The store behind the tracker is intentionally a thin YAML file adapter
// (see Store), not a settings persistence backend: this daemon only
// observes a config source owned by someone else.
package settings

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"
)

// NotifierID identifies a registered change callback for later removal,
// mirroring mce_setting_notifier_remove(guint id).
type NotifierID uint64

// Tracker owns a set of typed, validated, observed settings. It is not
// goroutine-safe to call Track* concurrently with Store.Load; both are expected
// to run on the single event-loop goroutine.
type Tracker struct {
	log hclog.Logger

	mu      sync.Mutex
	ints    map[string]*trackedInt
	bools   map[string]*trackedBool
	strings map[string]*trackedString
	nextID  NotifierID
}

type trackedInt struct {
	val       int
	def       int
	sanitize  func(int) int
	callbacks map[NotifierID]func(int)
}

type trackedBool struct {
	val       bool
	def       bool
	callbacks map[NotifierID]func(bool)
}

type trackedString struct {
	val       string
	def       string
	callbacks map[NotifierID]func(string)
}

func NewTracker(log hclog.Logger) *Tracker {
	return &Tracker{
		log:     log.Named("settings"),
		ints:    make(map[string]*trackedInt),
		bools:   make(map[string]*trackedBool),
		strings: make(map[string]*trackedString),
	}
}

// TrackString registers a string setting, mirroring mce_setting_track_string.
func (t *Tracker) TrackString(key string, def string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.strings[key] = &trackedString{val: def, def: def, callbacks: make(map[NotifierID]func(string))}
}

// TrackInt registers an integer setting. sanitize is applied on both
// initial load and every subsequent Set; if sanitize is nil the value is
// used as-is. Mirrors mce_setting_track_int.
func (t *Tracker) TrackInt(key string, def int, sanitize func(int) int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if sanitize == nil {
		sanitize = func(v int) int { return v }
	}
	t.ints[key] = &trackedInt{val: sanitize(def), def: def, sanitize: sanitize, callbacks: make(map[NotifierID]func(int))}
}

// TrackBool registers a boolean setting. Mirrors mce_setting_track_bool.
func (t *Tracker) TrackBool(key string, def bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bools[key] = &trackedBool{val: def, def: def, callbacks: make(map[NotifierID]func(bool))}
}

// Int returns key's current sanitized value, or 0 if key was never tracked.
func (t *Tracker) Int(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ti, ok := t.ints[key]; ok {
		return ti.val
	}
	return 0
}

// Bool returns key's current value, or false if key was never tracked.
func (t *Tracker) Bool(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tb, ok := t.bools[key]; ok {
		return tb.val
	}
	return false
}

// String returns key's current value, or "" if key was never tracked.
func (t *Tracker) String(key string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ts, ok := t.strings[key]; ok {
		return ts.val
	}
	return ""
}

// NotifyInt registers cb to run whenever key's sanitized value changes,
// returning a NotifierID accepted by RemoveNotifier.
func (t *Tracker) NotifyInt(key string, cb func(int)) NotifierID {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	if ti, ok := t.ints[key]; ok {
		ti.callbacks[id] = cb
	}
	return id
}

func (t *Tracker) NotifyBool(key string, cb func(bool)) NotifierID {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	if tb, ok := t.bools[key]; ok {
		tb.callbacks[id] = cb
	}
	return id
}

func (t *Tracker) NotifyString(key string, cb func(string)) NotifierID {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	if ts, ok := t.strings[key]; ok {
		ts.callbacks[id] = cb
	}
	return id
}

// RemoveNotifier removes a previously registered callback. Idempotent,
// mirroring mce_setting_notifier_remove's tolerance of unknown ids.
func (t *Tracker) RemoveNotifier(key string, id NotifierID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ti, ok := t.ints[key]; ok {
		delete(ti.callbacks, id)
	}
	if tb, ok := t.bools[key]; ok {
		delete(tb.callbacks, id)
	}
	if ts, ok := t.strings[key]; ok {
		delete(ts.callbacks, id)
	}
}

// SetInt sanitizes and stores value, invoking changed callbacks only if
// the sanitized value actually differs from the current one; the same
// change-detection discipline the datapipes follow applies here too.
// Unknown keys log a warning and no-op.
func (t *Tracker) SetInt(key string, value int) {
	t.mu.Lock()
	ti, ok := t.ints[key]
	if !ok {
		t.mu.Unlock()
		t.log.Warn("set unknown int setting", "key", key)
		return
	}
	sanitized := ti.sanitize(value)
	if sanitized != value {
		t.log.Warn("int setting out of range, sanitized", "key", key, "requested", value, "used", sanitized)
	}
	changed := sanitized != ti.val
	ti.val = sanitized
	var cbs []func(int)
	if changed {
		for _, cb := range ti.callbacks {
			cbs = append(cbs, cb)
		}
	}
	t.mu.Unlock()
	for _, cb := range cbs {
		cb(sanitized)
	}
}

func (t *Tracker) SetBool(key string, value bool) {
	t.mu.Lock()
	tb, ok := t.bools[key]
	if !ok {
		t.mu.Unlock()
		t.log.Warn("set unknown bool setting", "key", key)
		return
	}
	changed := value != tb.val
	tb.val = value
	var cbs []func(bool)
	if changed {
		for _, cb := range tb.callbacks {
			cbs = append(cbs, cb)
		}
	}
	t.mu.Unlock()
	for _, cb := range cbs {
		cb(value)
	}
}

// SetString stores value, invoking changed callbacks only if it actually
// differs from the current value. Unknown keys log a warning and no-op.
func (t *Tracker) SetString(key string, value string) {
	t.mu.Lock()
	ts, ok := t.strings[key]
	if !ok {
		t.mu.Unlock()
		t.log.Warn("set unknown string setting", "key", key)
		return
	}
	changed := value != ts.val
	ts.val = value
	var cbs []func(string)
	if changed {
		for _, cb := range ts.callbacks {
			cbs = append(cbs, cb)
		}
	}
	t.mu.Unlock()
	for _, cb := range cbs {
		cb(value)
	}
}

// File is the on-disk YAML shape settings.Store reads. Field names match
// the tracked setting keys.
type File struct {
	AutolockEnabled       *bool   `yaml:"autolock_enabled"`
	AutolockDelayMs       *int    `yaml:"autolock_delay_ms"`
	InputPolicyEnabled    *bool   `yaml:"input_policy_enabled"`
	LidSensorEnabled      *bool   `yaml:"lid_sensor_enabled"`
	ALSEnabled            *bool   `yaml:"als_enabled"`
	FilterLidWithALS      *bool   `yaml:"filter_lid_with_als"`
	FilterLidALSLimitLux  *int    `yaml:"filter_lid_als_limit_lux"`
	LockscreenAnimEnabled *bool   `yaml:"lockscreen_anim_enabled"`
	ProximityBlocksTouch  *bool   `yaml:"proximity_blocks_touch"`
	DevicelockInLockscreen *bool  `yaml:"devicelock_in_lockscreen"`
	VolumeKeyPolicy       *string `yaml:"volume_key_policy"`
	LidOpenAction         *string `yaml:"lid_open_action"`
	LidCloseAction        *string `yaml:"lid_close_action"`
	KbdOpenTrigger        *string `yaml:"kbd_open_trigger"`
	KbdOpenAction         *string `yaml:"kbd_open_action"`
	KbdCloseTrigger       *string `yaml:"kbd_close_trigger"`
	KbdCloseAction        *string `yaml:"kbd_close_action"`
	TouchscreenGestureMode *string `yaml:"touchscreen_gesture_mode"`
	LPMUITriggerMask      *int    `yaml:"lpm_ui_trigger_mask"`

	ExceptionLengthsMs map[string]int `yaml:"exception_lengths_ms"`
}

// Store watches a YAML file on disk and applies each edit to a Tracker
// via Apply; fsnotify does the watching, no polling involved. Reloads
// run through the dispatch hook so tracker mutation (and any notifier it
// fires) happens on the event loop, not on the watcher goroutine.
type Store struct {
	log      hclog.Logger
	path     string
	watcher  *fsnotify.Watcher
	dispatch func(fn func())
}

func NewStore(log hclog.Logger, path string) *Store {
	return &Store{
		log:      log.Named("settings.store"),
		path:     path,
		dispatch: func(fn func()) { fn() },
	}
}

// SetDispatch installs the event-loop funnel reload work is serialized
// through; call before Watch.
func (s *Store) SetDispatch(d func(fn func())) {
	if d != nil {
		s.dispatch = d
	}
}

// Load reads the YAML file once and applies it to t. A missing file is
// not an error: the tracker's compiled defaults stand.
func (s *Store) Load(t *Tracker) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.log.Warn("settings file missing, using compiled defaults", "path", s.path)
			return nil
		}
		return fmt.Errorf("read settings file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		s.log.Warn("settings file invalid yaml, using compiled defaults", "path", s.path, "error", err)
		return nil
	}
	Apply(t, &f)
	return nil
}

// Watch starts an fsnotify watch on the settings file's directory and calls
// Load(t) whenever the file is written. It returns immediately; call Close
// to stop watching. Errors from the watcher are logged and tolerated, not
// propagated.
func (s *Store) Watch(t *Tracker) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	s.watcher = w
	dir := dirOf(s.path)
	if err := w.Add(dir); err != nil {
		s.log.Warn("could not watch settings directory", "dir", dir, "error", err)
		return nil
	}
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Name == s.path && (ev.Op&(fsnotify.Write|fsnotify.Create) != 0) {
					s.dispatch(func() {
						if err := s.Load(t); err != nil {
							s.log.Warn("reload failed", "error", err)
						}
					})
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.log.Warn("watcher error", "error", err)
			}
		}
	}()
	return nil
}

func (s *Store) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
