package session

import (
	"time"

	"github.com/chaz8081/gattprobe/internal/ble"
	"github.com/chaz8081/gattprobe/internal/config"
)

// Options configures a Manager.
type Options struct {
	ConnectAttempts int           // bounded connect retries (default 3)
	ConnectTimeout  time.Duration // per attempt, 0 for none
	ScanTimeout     time.Duration
	JoinTimeout     time.Duration // bound on Close

	ReadThrottle        time.Duration // pause between read-all reads
	KeepaliveInterval   time.Duration // 0 disables keepalive
	KeepaliveUUID       string
	ForceSubscribe      []string
	ForceSubscribeDelay time.Duration
	SkipServices        []string
	SkipCharacteristics []string
	AutoReadAll         bool
	MaxValueBytes       int // hex truncation in log lines

	Discovery DiscoveryOptions
}

// DiscoveryOptions names the vendor characteristics and pacing used by
// the protocol discovery operations.
type DiscoveryOptions struct {
	VendorService      string
	PrimeUUID          string
	TriggerUUID        string
	ReturnUUID         string
	ReturnFallbackUUID string
	AltUUID            string
	InfoUUID           string

	ProbeDelay    time.Duration
	BruteDelay    time.Duration
	NotifyWindow  time.Duration // hit if a notification arrived this recently
	MeasureWait   time.Duration // max wait for a response per measure frame
	MeasurePoll   time.Duration
	MeasureSettle time.Duration
	PrimeSettle   time.Duration

	BruteSeeds []byte
	AltSeeds   []byte
}

// DefaultOptions returns the defaults from config.Default.
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default())
}

// OptionsFromConfig maps the YAML configuration onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	d := cfg.Discovery
	return Options{
		ConnectAttempts:     cfg.Transport.ConnectAttempts,
		ConnectTimeout:      cfg.Transport.ConnectTimeout,
		ScanTimeout:         cfg.Transport.ScanTimeout,
		JoinTimeout:         2 * time.Second,
		ReadThrottle:        cfg.Session.ReadThrottle,
		KeepaliveInterval:   cfg.Session.KeepaliveInterval,
		KeepaliveUUID:       ble.NormalizeUUID(cfg.Session.KeepaliveUUID),
		ForceSubscribe:      normalizeAll(cfg.Session.ForceSubscribe),
		ForceSubscribeDelay: 100 * time.Millisecond,
		SkipServices:        normalizeAll(cfg.Session.SkipServices),
		SkipCharacteristics: normalizeAll(cfg.Session.SkipCharacteristics),
		AutoReadAll:         cfg.Session.AutoReadAll,
		MaxValueBytes:       cfg.Log.MaxValueBytes,
		Discovery: DiscoveryOptions{
			VendorService:      ble.NormalizeUUID(d.VendorService),
			PrimeUUID:          ble.NormalizeUUID(d.PrimeUUID),
			TriggerUUID:        ble.NormalizeUUID(d.TriggerUUID),
			ReturnUUID:         ble.NormalizeUUID(d.ReturnUUID),
			ReturnFallbackUUID: ble.NormalizeUUID(d.ReturnFallbackUUID),
			AltUUID:            ble.NormalizeUUID(d.AltUUID),
			InfoUUID:           ble.NormalizeUUID(d.InfoUUID),
			ProbeDelay:         d.ProbeDelay,
			BruteDelay:         d.BruteDelay,
			NotifyWindow:       d.NotifyWindow,
			MeasureWait:        d.MeasureWait,
			MeasurePoll:        100 * time.Millisecond,
			MeasureSettle:      d.MeasureSettle,
			PrimeSettle:        d.PrimeSettle,
			BruteSeeds:         toBytes(d.BruteSeeds),
			AltSeeds:           toBytes(d.AltSeeds),
		},
	}
}

func (o *Options) normalize() {
	if o.ConnectAttempts <= 0 {
		o.ConnectAttempts = 3
	}
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = 2 * time.Second
	}
	if o.ScanTimeout <= 0 {
		o.ScanTimeout = 5 * time.Second
	}
	if o.Discovery.NotifyWindow <= 0 {
		o.Discovery.NotifyWindow = 800 * time.Millisecond
	}
	if o.Discovery.MeasurePoll <= 0 {
		o.Discovery.MeasurePoll = 100 * time.Millisecond
	}
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, ble.NormalizeUUID(s))
	}
	return out
}

func toBytes(in []int) []byte {
	out := make([]byte, 0, len(in))
	for _, v := range in {
		out = append(out, byte(v))
	}
	return out
}
