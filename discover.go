package stm32boot

import (
	"github.com/pkg/errors"
	"go.bug.st/serial/enumerator"
)

// PortInfo describes a serial port found on the host.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

// Ports lists the serial ports present on the host.
func Ports() ([]PortInfo, error) {
	list, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "enumerate ports")
	}
	ports := make([]PortInfo, 0, len(list))
	for _, p := range list {
		ports = append(ports, PortInfo{
			Name:         p.Name,
			IsUSB:        p.IsUSB,
			VID:          p.VID,
			PID:          p.PID,
			SerialNumber: p.SerialNumber,
			Product:      p.Product,
		})
	}
	return ports, nil
}

// DeviceInfo is a bootloader found by Discover.
type DeviceInfo struct {
	Port         PortInfo
	Capabilities CapabilitySet
	// ProductID is zero when the device does not support Get ID.
	ProductID uint16
	Device    *Device
}

// OpenFunc opens a transport on the named port.
type OpenFunc func(name string, baud int) (Transport, error)

// Discover tries every serial port on the host for a bootloader and returns
// the ones that answer. Ports that fail are logged and skipped.
func Discover(config Config) ([]DeviceInfo, error) {
	ports, err := Ports()
	if err != nil {
		return nil, err
	}
	return scanPorts(ports, config, OpenPort), nil
}

func scanPorts(ports []PortInfo, config Config, open OpenFunc) []DeviceInfo {
	var found []DeviceInfo
	for _, port := range ports {
		info, err := identify(port, config, open)
		if err != nil {
			pkgLog.Warnf("%s: %v", port.Name, err)
			continue
		}
		found = append(found, info)
	}
	return found
}

func identify(port PortInfo, config Config, open OpenFunc) (DeviceInfo, error) {
	t, err := open(port.Name, config.Baud)
	if err != nil {
		return DeviceInfo{}, err
	}
	s, err := Synchronize(t, config)
	if err != nil {
		t.Close()
		return DeviceInfo{}, err
	}
	defer s.Close()

	caps, err := s.Discover()
	if err != nil {
		return DeviceInfo{}, err
	}
	info := DeviceInfo{Port: port, Capabilities: caps}
	if caps.Supports(CmdGetID) {
		pid, err := s.GetID()
		if err != nil {
			return DeviceInfo{}, errors.Wrap(err, "get id")
		}
		info.ProductID = pid
		if dev, ok := LookupDevice(pid); ok {
			info.Device = &dev
		}
	}
	return info, nil
}
