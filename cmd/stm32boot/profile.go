package main

import (
	"io/ioutil"
	"time"

	"github.com/amrbekhit/stm32boot"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// deviceProfile holds the board specific settings that would otherwise be
// given on the command line every time.
type deviceProfile struct {
	Port    string `yaml:"port"`
	Baud    int    `yaml:"baud"`
	Driver  string `yaml:"driver"`
	Reset   string `yaml:"reset"`
	Boot    string `yaml:"boot"`
	ResetMs int    `yaml:"reset_ms"`
	Retries int    `yaml:"retries"`
	// Timeouts in milliseconds, zero for the defaults.
	ReadTimeoutMs  int `yaml:"read_timeout_ms"`
	EraseTimeoutMs int `yaml:"erase_timeout_ms"`
	// Alignment pads images to a multiple of this many bytes.
	Alignment int `yaml:"alignment"`
	Layout    struct {
		FlashBase uint32 `yaml:"flash_base"`
		FlashSize uint32 `yaml:"flash_size"`
		PageSize  uint32 `yaml:"page_size"`
	} `yaml:"layout"`
}

func loadProfile(fileName string) (*deviceProfile, error) {
	f, err := ioutil.ReadFile(fileName)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open profile file")
	}
	p := new(deviceProfile)
	if err := yaml.UnmarshalStrict(f, p); err != nil {
		return nil, errors.Wrap(err, "failed to parse profile file")
	}
	return p, nil
}

func (p *deviceProfile) layout() stm32boot.Layout {
	return stm32boot.Layout{
		FlashBase: p.Layout.FlashBase,
		FlashSize: p.Layout.FlashSize,
		PageSize:  p.Layout.PageSize,
	}
}

func (p *deviceProfile) config() (stm32boot.Config, error) {
	config := stm32boot.DefaultConfig()
	config.Baud = p.Baud
	if p.Retries > 0 {
		config.Retry.Retries = p.Retries
	}
	var err error
	if config.Signals.Reset, err = stm32boot.ParseSignal(p.Reset); err != nil {
		return config, errors.Wrap(err, "reset signal")
	}
	if config.Signals.Boot, err = stm32boot.ParseSignal(p.Boot); err != nil {
		return config, errors.Wrap(err, "boot signal")
	}
	config.Signals.ResetFor = time.Duration(p.ResetMs) * time.Millisecond
	if p.ReadTimeoutMs > 0 {
		config.ReadTimeout = time.Duration(p.ReadTimeoutMs) * time.Millisecond
	}
	if p.EraseTimeoutMs > 0 {
		config.EraseTimeout = time.Duration(p.EraseTimeoutMs) * time.Millisecond
	}
	return config, nil
}

// runReport is what -report saves after a flash run and what -resume reads
// back to continue it.
type runReport struct {
	Image      string `yaml:"image"`
	Base       uint32 `yaml:"base"`
	Length     int    `yaml:"length"`
	NextOffset int    `yaml:"next_offset"`
	Complete   bool   `yaml:"complete"`
	Booted     bool   `yaml:"booted"`
	State      string `yaml:"state"`
	Error      string `yaml:"error,omitempty"`
}

func newRunReport(image string, r *stm32boot.Report, runErr error) runReport {
	rr := runReport{
		Image:      image,
		Base:       r.Base,
		Length:     r.Length,
		NextOffset: r.NextOffset(),
		Complete:   r.Complete(),
		Booted:     r.Booted,
		State:      r.State.String(),
	}
	if runErr != nil {
		rr.Error = runErr.Error()
	}
	return rr
}

func saveReport(fileName string, rr runReport) error {
	out, err := yaml.Marshal(rr)
	if err != nil {
		return err
	}
	return ioutil.WriteFile(fileName, out, 0644)
}

func loadReport(fileName string) (*runReport, error) {
	f, err := ioutil.ReadFile(fileName)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open report file")
	}
	rr := new(runReport)
	if err := yaml.Unmarshal(f, rr); err != nil {
		return nil, errors.Wrap(err, "failed to parse report file")
	}
	return rr, nil
}

// resumeOffset returns the image offset to continue from, checking that the
// report belongs to the same image.
func (rr *runReport) resumeOffset(img *stm32boot.Image) (int, error) {
	if rr.Base != img.Base || rr.Length < len(img.Data) || rr.Length > len(img.Data)+stm32boot.MaxPacketSize {
		return 0, errors.Errorf("report describes %d bytes at %08X, image is %d bytes at %08X",
			rr.Length, rr.Base, len(img.Data), img.Base)
	}
	if rr.Complete {
		return 0, errors.New("report says the image was already written")
	}
	return rr.NextOffset, nil
}
