package config

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/cgxeiji/clapsync/beat"
	"github.com/cgxeiji/clapsync/output"
	"github.com/cgxeiji/clapsync/tempo"
)

func TestDefault(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	if !regexp.MustCompile(`^clapsync-[0-9a-f]{8}$`).MatchString(c.MQTT.DeviceID) {
		t.Errorf("device id %q", c.MQTT.DeviceID)
	}
	if d := c.DetectorConfig(); d != beat.DefaultConfig() {
		t.Errorf("DetectorConfig() = %+v, want defaults", d)
	}
	if tc := c.TempoConfig(); tc != tempo.DefaultConfig() {
		t.Errorf("TempoConfig() = %+v, want defaults", tc)
	}
	if o := c.OutputConfig(); o != output.DefaultConfig() {
		t.Errorf("OutputConfig() = %+v, want defaults", o)
	}
}

func TestParse(t *testing.T) {
	c, err := Parse([]byte(`
audio:
  debounce: 30ms
  gain: 60
  kick_only: true
bpm:
  max_bpm: 240
output:
  mode: relay
  pulse_duration: 80ms
mqtt:
  enabled: true
  broker: broker.local
  device_id: stage-left
`))
	if err != nil {
		t.Fatal(err)
	}

	d := c.DetectorConfig()
	if d.Debounce != 30*time.Millisecond || d.Gain != beat.Gain60 || !d.KickOnly {
		t.Errorf("detector config %+v", d)
	}
	if d.ThresholdMargin != 80 {
		t.Errorf("untouched margin = %d, want 80", d.ThresholdMargin)
	}
	if c.TempoConfig().MaxBPM != 240 {
		t.Errorf("max bpm = %v", c.TempoConfig().MaxBPM)
	}
	o := c.OutputConfig()
	if o.Mode != output.RelayOnly || o.PulseDuration != 80*time.Millisecond {
		t.Errorf("output config %+v", o)
	}
	if c.MQTT.DeviceID != "stage-left" || c.MQTT.Port != 1883 {
		t.Errorf("mqtt %+v", c.MQTT)
	}
}

func TestParseEmpty(t *testing.T) {
	c, err := Parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	if c.MQTT.DeviceID == "" {
		t.Error("device id not generated")
	}
}

func TestParseRTCAging(t *testing.T) {
	c, err := Parse([]byte("hardware:\n  rtc_aging: -12\n"))
	if err != nil {
		t.Fatal(err)
	}
	if c.Hardware.RTCAging != -12 {
		t.Errorf("rtc_aging = %d, want -12", c.Hardware.RTCAging)
	}
	if _, err := Parse([]byte("hardware:\n  rtc_aging: 200\n")); err == nil {
		t.Error("rtc_aging 200 accepted")
	}
}

func TestParseStableTaps(t *testing.T) {
	if _, err := Parse([]byte("bpm:\n  min_stable_taps: 2\n")); !errors.Is(err, ErrInvalid) {
		t.Errorf("Parse() = %v, want ErrInvalid", err)
	}
}

func TestParseUnknownKey(t *testing.T) {
	if _, err := Parse([]byte("audio:\n  treshold_margin: 90\n")); err == nil {
		t.Error("unknown key accepted")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		key  string
		edit func(c *Config)
	}{
		{"sample rate", "audio.sample_rate", func(c *Config) { c.Audio.SampleRate = 44100 }},
		{"margin", "audio.threshold_margin", func(c *Config) { c.Audio.ThresholdMargin = 49 }},
		{"debounce", "audio.debounce", func(c *Config) { c.Audio.Debounce = 101 * time.Millisecond }},
		{"gain", "audio.gain", func(c *Config) { c.Audio.Gain = 45 }},
		{"min bpm", "bpm.min_bpm", func(c *Config) { c.BPM.MinBPM = 29 }},
		{"max bpm", "bpm.max_bpm", func(c *Config) { c.BPM.MaxBPM = 601 }},
		{"stability", "bpm.stability_threshold", func(c *Config) { c.BPM.StabilityCV = 0.5 }},
		{"stable taps", "bpm.min_stable_taps", func(c *Config) { c.BPM.MinStableTaps = 3 }},
		{"mode", "output.mode", func(c *Config) { c.Output.Mode = "midi" }},
		{"ppqn", "output.ppqn", func(c *Config) { c.Output.PPQN = 48 }},
		{"initial bpm", "output.initial_bpm", func(c *Config) { c.Output.InitialBPM = 250 }},
		{"pulse", "output.pulse_duration", func(c *Config) { c.Output.PulseDuration = 5 * time.Millisecond }},
		{"watchdog", "output.watchdog_timeout", func(c *Config) { c.Output.WatchdogTimeout = 0 }},
		{"off time", "output.min_off_time", func(c *Config) { c.Output.MinOffTime = -time.Millisecond }},
		{"mqtt port", "mqtt.port", func(c *Config) { c.MQTT.Enabled, c.MQTT.Broker, c.MQTT.Port = true, "b", 0 }},
		{"status interval", "mqtt.status_interval", func(c *Config) {
			c.MQTT.Enabled, c.MQTT.Broker, c.MQTT.StatusInterval = true, "b", 500*time.Millisecond
		}},
		{"log format", "log.format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.edit(&c)
			err := c.Validate()
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("Validate() = %v, want ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Errorf("error %q does not name %s", err, tt.key)
			}
		})
	}
}

func TestValidateMQTTDisabled(t *testing.T) {
	c := Default()
	c.MQTT.Port = 0
	if err := c.Validate(); err != nil {
		t.Errorf("disabled mqtt validated: %v", err)
	}
}

func TestValidateBPMBounds(t *testing.T) {
	c := Default()
	c.BPM.MinBPM = 100
	c.BPM.MaxBPM = 200
	if err := c.Validate(); err != nil {
		t.Fatalf("100-200 rejected: %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clapsync.yaml")
	if err := os.WriteFile(path, []byte("output:\n  initial_bpm: 20\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !errors.Is(err, ErrInvalid) {
		t.Errorf("Load() = %v, want ErrInvalid", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load() = %v, want ErrNotExist", err)
	}
}
