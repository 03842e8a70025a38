// Package config loads the clapsync configuration file.
//
// A file only needs the keys it changes; everything else keeps the value
// from Default. Unknown keys are an error.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/cgxeiji/clapsync/beat"
	"github.com/cgxeiji/clapsync/output"
	"github.com/cgxeiji/clapsync/rtpmidi"
	"github.com/cgxeiji/clapsync/tempo"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("config: invalid value")

// Config is the whole configuration file.
type Config struct {
	Audio    Audio    `yaml:"audio"`
	BPM      BPM      `yaml:"bpm"`
	Output   Output   `yaml:"output"`
	Network  Network  `yaml:"network"`
	MQTT     MQTT     `yaml:"mqtt"`
	Web      Web      `yaml:"web"`
	Hardware Hardware `yaml:"hardware"`
	Log      Log      `yaml:"log"`
}

// Audio configures sampling and beat detection.
type Audio struct {
	SampleRate      int           `yaml:"sample_rate"`
	ThresholdMargin int           `yaml:"threshold_margin"`
	MinAmplitude    int           `yaml:"min_amplitude"`
	WideRange       int           `yaml:"wide_range"`
	Debounce        time.Duration `yaml:"debounce"`
	KickRise        time.Duration `yaml:"kick_rise"`
	ClipLevel       int           `yaml:"clip_level"`
	Gain            int           `yaml:"gain"`
	KickOnly        bool          `yaml:"kick_only"`
	// TelemetryInterval is the detector snapshot period.
	TelemetryInterval time.Duration `yaml:"telemetry_interval"`
}

// BPM configures the tempo engine.
type BPM struct {
	MinBPM        float64       `yaml:"min_bpm"`
	MaxBPM        float64       `yaml:"max_bpm"`
	StabilityCV   float64       `yaml:"stability_threshold"`
	MinStableTaps int           `yaml:"min_stable_taps"`
	Correction    bool          `yaml:"tempo_correction"`
	CorrectionRun int           `yaml:"correction_run"`
	LockTimeout   time.Duration `yaml:"lock_timeout"`
}

// Output configures the clock stream and the relay.
type Output struct {
	Mode            string        `yaml:"mode"`
	PPQN            int           `yaml:"ppqn"`
	InitialBPM      float64       `yaml:"initial_bpm"`
	PulseDuration   time.Duration `yaml:"pulse_duration"`
	WatchdogTimeout time.Duration `yaml:"watchdog_timeout"`
	MinOffTime      time.Duration `yaml:"min_off_time"`
	AutoSync        bool          `yaml:"auto_sync"`
}

// Network configures the RTP-MIDI peer.
type Network struct {
	// Peer is the "host:port" receiving the clock stream. Empty disables
	// the stream.
	Peer         string        `yaml:"rtp_peer"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	SSRC         uint32        `yaml:"ssrc"`
}

// MQTT configures telemetry publishing.
type MQTT struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	TLS      bool   `yaml:"tls"`
	Prefix   string `yaml:"prefix"`
	DeviceID string `yaml:"device_id"`
	QoS      int    `yaml:"qos"`
	// AudioInterval throttles detector snapshots sent to the broker.
	AudioInterval  time.Duration `yaml:"audio_interval"`
	StatusInterval time.Duration `yaml:"status_interval"`
	QueueSize      int           `yaml:"queue_size"`
}

// Web configures the WebSocket and status server.
type Web struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Hardware names the buses and pins.
type Hardware struct {
	// Simulate replaces the ADC with a generated click track.
	Simulate bool   `yaml:"simulate"`
	Bus      string `yaml:"i2c_bus"`
	ADCAddr  uint16 `yaml:"adc_addr"`
	RelayPin string `yaml:"relay_pin"`
	GainPin  string `yaml:"gain_pin"`
	RTC      bool   `yaml:"rtc"`
	// RTCAging is the DS3231 crystal aging offset, about 0.1ppm per step.
	RTCAging int8 `yaml:"rtc_aging"`
}

// Log configures logging.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the default configuration.
func Default() Config {
	d := beat.DefaultConfig()
	t := tempo.DefaultConfig()
	o := output.DefaultConfig()

	c := Config{
		Audio: Audio{
			SampleRate:        8000,
			ThresholdMargin:   int(d.ThresholdMargin),
			MinAmplitude:      int(d.MinAmplitude),
			WideRange:         int(d.WideRange),
			Debounce:          d.Debounce,
			KickRise:          d.KickRise,
			ClipLevel:         int(d.ClipLevel),
			Gain:              int(d.Gain),
			TelemetryInterval: d.TelemetryInterval,
		},
		BPM: BPM{
			MinBPM:        t.MinBPM,
			MaxBPM:        t.MaxBPM,
			StabilityCV:   t.StabilityCV,
			MinStableTaps: t.MinStableTaps,
			Correction:    t.Correction,
			CorrectionRun: t.CorrectionRun,
			LockTimeout:   t.LockTimeout,
		},
		Output: Output{
			Mode:            o.Mode.String(),
			PPQN:            o.PPQN,
			InitialBPM:      o.InitialBPM,
			PulseDuration:   o.PulseDuration,
			WatchdogTimeout: o.WatchdogTimeout,
			MinOffTime:      o.MinOffTime,
			AutoSync:        true,
		},
		Network: Network{
			WriteTimeout: 2 * time.Millisecond,
			SSRC:         rtpmidi.DefaultSSRC,
		},
		MQTT: MQTT{
			Port:           1883,
			Prefix:         "clapsync",
			AudioInterval:  time.Second,
			StatusInterval: time.Minute,
			QueueSize:      64,
		},
		Web: Web{
			Enabled: true,
			Listen:  ":8080",
		},
		Hardware: Hardware{
			RTC: true,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
	c.fill()
	return c
}

// Load reads the file at path over the defaults and validates the result.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: could not read file: %w", err)
	}
	return Parse(b)
}

// Parse decodes data over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	c := Default()
	id := c.MQTT.DeviceID

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: could not decode: %w", err)
	}

	if c.MQTT.DeviceID == "" {
		c.MQTT.DeviceID = id
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) fill() {
	if c.MQTT.DeviceID == "" {
		c.MQTT.DeviceID = "clapsync-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}
}

// Validate checks every value against its allowed range. All problems are
// reported, each wrapping ErrInvalid.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, key string, v any, allowed string) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s = %v, want %s", ErrInvalid, key, v, allowed))
		}
	}

	a := c.Audio
	check(a.SampleRate >= 8000 && a.SampleRate <= 16000, "audio.sample_rate", a.SampleRate, "8000-16000")
	check(a.ThresholdMargin >= 50 && a.ThresholdMargin <= 200, "audio.threshold_margin", a.ThresholdMargin, "50-200")
	check(a.MinAmplitude >= 0 && a.MinAmplitude <= 4095, "audio.min_amplitude", a.MinAmplitude, "0-4095")
	check(a.WideRange >= 0 && a.WideRange <= 4095, "audio.wide_range", a.WideRange, "0-4095")
	check(a.Debounce >= 20*time.Millisecond && a.Debounce <= 100*time.Millisecond, "audio.debounce", a.Debounce, "20ms-100ms")
	check(a.KickRise > 0, "audio.kick_rise", a.KickRise, "> 0")
	check(a.ClipLevel > 0 && a.ClipLevel <= 4095, "audio.clip_level", a.ClipLevel, "1-4095")
	check(a.Gain == 40 || a.Gain == 50 || a.Gain == 60, "audio.gain", a.Gain, "40, 50 or 60")
	check(a.TelemetryInterval > 0, "audio.telemetry_interval", a.TelemetryInterval, "> 0")

	b := c.BPM
	check(b.MinBPM >= 30 && b.MinBPM <= 100, "bpm.min_bpm", b.MinBPM, "30-100")
	check(b.MaxBPM >= 200 && b.MaxBPM <= 600, "bpm.max_bpm", b.MaxBPM, "200-600")
	check(b.MinBPM < b.MaxBPM, "bpm.min_bpm", b.MinBPM, "below bpm.max_bpm")
	check(b.StabilityCV >= 1 && b.StabilityCV <= 10, "bpm.stability_threshold", b.StabilityCV, "1-10")
	check(b.MinStableTaps >= 4 && b.MinStableTaps <= tempo.BufferSize, "bpm.min_stable_taps", b.MinStableTaps, "4-64")
	check(b.CorrectionRun >= 1, "bpm.correction_run", b.CorrectionRun, ">= 1")
	check(b.LockTimeout > 0, "bpm.lock_timeout", b.LockTimeout, "> 0")

	o := c.Output
	_, err := output.ParseMode(o.Mode)
	check(err == nil, "output.mode", o.Mode, "disabled, clock, relay or both")
	check(o.PPQN == 24, "output.ppqn", o.PPQN, "24")
	check(o.InitialBPM >= 40 && o.InitialBPM <= 240, "output.initial_bpm", o.InitialBPM, "40-240")
	check(o.PulseDuration >= 10*time.Millisecond && o.PulseDuration <= 500*time.Millisecond, "output.pulse_duration", o.PulseDuration, "10ms-500ms")
	check(o.WatchdogTimeout > 0, "output.watchdog_timeout", o.WatchdogTimeout, "> 0")
	check(o.MinOffTime >= 0, "output.min_off_time", o.MinOffTime, ">= 0")

	n := c.Network
	check(n.WriteTimeout > 0, "network.write_timeout", n.WriteTimeout, "> 0")

	m := c.MQTT
	if m.Enabled {
		check(m.Broker != "", "mqtt.broker", m.Broker, "a host name")
		check(m.Port >= 1 && m.Port <= 65535, "mqtt.port", m.Port, "1-65535")
		check(m.QoS >= 0 && m.QoS <= 2, "mqtt.qos", m.QoS, "0-2")
		check(m.AudioInterval >= time.Second, "mqtt.audio_interval", m.AudioInterval, ">= 1s")
		check(m.StatusInterval >= time.Second, "mqtt.status_interval", m.StatusInterval, ">= 1s")
	}

	if c.Web.Enabled {
		check(c.Web.Listen != "", "web.listen", c.Web.Listen, "an address")
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		check(false, "log.format", c.Log.Format, "text or json")
	}

	return errors.Join(errs...)
}

// DetectorConfig returns the beat detector settings.
func (c Config) DetectorConfig() beat.Config {
	a := c.Audio
	return beat.Config{
		ThresholdMargin:   uint16(a.ThresholdMargin),
		MinAmplitude:      uint16(a.MinAmplitude),
		WideRange:         uint16(a.WideRange),
		Debounce:          a.Debounce,
		KickRise:          a.KickRise,
		ClipLevel:         uint16(a.ClipLevel),
		TelemetryInterval: a.TelemetryInterval,
		Gain:              beat.Gain(a.Gain),
		KickOnly:          a.KickOnly,
	}
}

// TempoConfig returns the tempo engine settings.
func (c Config) TempoConfig() tempo.Config {
	t := tempo.DefaultConfig()
	t.MinBPM = c.BPM.MinBPM
	t.MaxBPM = c.BPM.MaxBPM
	t.StabilityCV = c.BPM.StabilityCV
	t.MinStableTaps = c.BPM.MinStableTaps
	t.Correction = c.BPM.Correction
	t.CorrectionRun = c.BPM.CorrectionRun
	t.LockTimeout = c.BPM.LockTimeout
	return t
}

// OutputConfig returns the output driver settings. An unknown mode, which
// Validate rejects, disables the outputs.
func (c Config) OutputConfig() output.Config {
	mode, _ := output.ParseMode(c.Output.Mode)
	return output.Config{
		Mode:            mode,
		PPQN:            c.Output.PPQN,
		InitialBPM:      c.Output.InitialBPM,
		PulseDuration:   c.Output.PulseDuration,
		WatchdogTimeout: c.Output.WatchdogTimeout,
		MinOffTime:      c.Output.MinOffTime,
		SSRC:            c.Network.SSRC,
	}
}
