// Command clapsync listens for claps and drums, follows their tempo and
// drives a MIDI clock and a relay at that tempo.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cgxeiji/clapsync"
	"github.com/cgxeiji/clapsync/beat"
	"github.com/cgxeiji/clapsync/clock"
	"github.com/cgxeiji/clapsync/config"
	"github.com/cgxeiji/clapsync/output"
	"github.com/cgxeiji/clapsync/rtpmidi"
	"github.com/cgxeiji/clapsync/telemetry"
	"github.com/cgxeiji/clapsync/tempo"
)

const (
	watchdogPeriod = 5 * time.Millisecond
	expiryPeriod   = 100 * time.Millisecond
	rtcPeriod      = 10 * time.Second
	hubPeriod      = time.Second
)

func main() {
	path := flag.String("config", "/etc/clapsync.yaml", "configuration file")
	level := flag.String("log-level", "", "log level, overrides log.level")
	simulate := flag.Bool("simulate", false, "use a generated click track instead of the microphone")
	syncRTC := flag.Bool("sync-rtc", false, "set the RTC from the host clock at start")
	flag.Parse()

	log := logrus.New()

	cfg, err := config.Load(*path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.WithField("path", *path).Warn("no configuration file, using defaults")
		cfg = config.Default()
	case err != nil:
		log.Fatal(err)
	}
	if *level != "" {
		cfg.Log.Level = *level
	}
	if *simulate {
		cfg.Hardware.Simulate = true
	}
	if err := setupLog(log, cfg.Log); err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *syncRTC, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
	log.Info("stopped")
}

func setupLog(log *logrus.Logger, cfg config.Log) error {
	lvl, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func run(ctx context.Context, cfg config.Config, syncRTC bool, log *logrus.Logger) error {
	var (
		src   clapsync.Source
		dev   *clapsync.Device
		relay output.Relay
		rtc   clock.RTC
	)
	if cfg.Hardware.Simulate {
		log.Info("simulating a click track at 120 bpm")
		src = clapsync.NewClicks(120, cfg.Audio.SampleRate)
	} else {
		var err error
		dev, err = clapsync.New(
			clapsync.OnBus(cfg.Hardware.Bus),
			clapsync.OnADCAddr(cfg.Hardware.ADCAddr),
			clapsync.OnRelayPin(cfg.Hardware.RelayPin),
			clapsync.OnGainPin(cfg.Hardware.GainPin),
			clapsync.WithoutRTC(!cfg.Hardware.RTC),
			clapsync.OnRTCAging(cfg.Hardware.RTCAging),
		)
		if err != nil {
			return err
		}
		defer dev.Close()

		src = dev
		if p := dev.Relay(); p != nil {
			relay = p
		}
		rtc = dev.RTC()
	}

	clk := clock.NewRTCProvider(clock.NewSystem(), rtc)
	if rtc != nil {
		if syncRTC {
			if err := clk.Sync(); err != nil {
				log.WithError(err).Warn("could not set RTC")
			}
		} else if err := clk.Poll(); errors.Is(err, clock.ErrLostPower) {
			log.Warn("RTC lost power, set it with -sync-rtc")
		} else if err != nil {
			log.WithError(err).Warn("could not read RTC")
		}
	}

	var tx io.Writer
	if cfg.Network.Peer != "" {
		conn, err := rtpmidi.Dial(cfg.Network.Peer, cfg.Network.WriteTimeout)
		if err != nil {
			return err
		}
		defer conn.Close()
		tx = conn
		log.WithFields(logrus.Fields{
			"peer":  cfg.Network.Peer,
			"local": conn.LocalAddr(),
		}).Info("sending clock")
	}

	det := beat.New(cfg.DetectorConfig())
	eng := tempo.New(cfg.TempoConfig(), clk)
	out := output.New(cfg.OutputConfig(), clk, tx, relay)
	defer out.Close()

	p := clapsync.NewPipeline(det, eng, out)
	p.Bridge.SetAutoSyncEnabled(cfg.Output.AutoSync)

	if dev != nil && cfg.Hardware.GainPin != "" {
		if err := dev.SetGain(det.Gain()); err != nil {
			return err
		}
	}
	det.OnGainChange(func(g beat.Gain) {
		log.WithField("gain", g).Warn("signal clipping, gain lowered")
		if dev == nil || cfg.Hardware.GainPin == "" {
			return
		}
		if err := dev.SetGain(g); err != nil {
			log.WithError(err).Error("could not set gain")
		}
	})
	p.OnUpdate(func(u tempo.Update) {
		log.WithFields(logrus.Fields{
			"bpm":    u.BPM,
			"stable": u.Stable,
			"taps":   u.TapCount,
		}).Debug("tempo")
	})

	sampler := clapsync.NewSampler(src, det, clk, cfg.Audio.SampleRate, log)
	start := time.Now()
	status := func() telemetry.Status {
		return telemetry.Status{
			Device:         cfg.MQTT.DeviceID,
			Time:           clk.Wall(),
			Uptime:         time.Since(start).Seconds(),
			State:          out.State(),
			Mode:           out.Mode().String(),
			BPM:            eng.BPM(),
			LockedBPM:      eng.LockedBPM(),
			Stable:         eng.Stable(),
			Beats:          det.BeatCount(),
			FalsePositives: det.FalsePositives(),
			SampleErrors:   sampler.Errors(),
			RTCHealthy:     clk.RTCHealthy(),
			RTCTemperature: clk.RTCTemperature(),
			Output:         out.Stats(),
			Gain:           det.Gain(),
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sampler.Run(ctx) })
	g.Go(func() error { return out.Run(ctx) })
	g.Go(func() error { return out.Watch(ctx, watchdogPeriod) })
	g.Go(func() error { return p.Expire(ctx, expiryPeriod) })

	if rtc != nil {
		g.Go(func() error {
			return every(ctx, rtcPeriod, func() {
				healthy := clk.RTCHealthy()
				if err := clk.Poll(); err != nil && healthy && !clk.RTCHealthy() {
					log.WithError(err).Error("RTC unhealthy")
				}
			})
		})
	}

	if cfg.Web.Enabled {
		hub := telemetry.NewHub(log)
		p.OnUpdate(hub.PublishBPM)
		p.OnTelemetry(hub.PublishAudio)

		srv := &http.Server{
			Addr:              cfg.Web.Listen,
			Handler:           hub.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.WithField("addr", srv.Addr).Info("serving")
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdown, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return srv.Shutdown(shutdown)
		})
		g.Go(func() error {
			return every(ctx, hubPeriod, func() { hub.PublishStatus(status()) })
		})
	}

	if cfg.MQTT.Enabled {
		pub := telemetry.NewPublisher(telemetry.PublisherConfig{
			Broker:    cfg.MQTT.Broker,
			Port:      cfg.MQTT.Port,
			TLS:       cfg.MQTT.TLS,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			ClientID:  cfg.MQTT.DeviceID,
			Prefix:    cfg.MQTT.Prefix,
			Device:    cfg.MQTT.DeviceID,
			QoS:       byte(cfg.MQTT.QoS),
			QueueSize: cfg.MQTT.QueueSize,
		}, log)
		if err := pub.Connect(); err != nil {
			log.WithError(err).Warn("broker not reachable yet")
		}
		defer pub.Close()

		p.OnUpdate(pub.PublishBPM)
		audioUs := uint64(cfg.MQTT.AudioInterval / time.Microsecond)
		var lastAudio uint64
		p.OnTelemetry(func(t beat.Telemetry) {
			// runs on the sampler goroutine only
			if lastAudio != 0 && t.Timestamp-lastAudio < audioUs {
				return
			}
			lastAudio = t.Timestamp
			pub.PublishAudio(t)
		})

		g.Go(func() error { return pub.Run(ctx) })
		g.Go(func() error { return pub.Report(ctx, cfg.MQTT.StatusInterval, status) })
	}

	log.WithFields(logrus.Fields{
		"mode":   out.Mode(),
		"rate":   cfg.Audio.SampleRate,
		"device": cfg.MQTT.DeviceID,
	}).Info("listening")

	err := g.Wait()
	if out.State() != output.Stopped {
		out.StopSync()
	}
	return err
}

// every calls f every period until ctx is done.
func every(ctx context.Context, period time.Duration, f func()) error {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			f()
		}
	}
}
