package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/amrbekhit/stm32boot"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

type outputFormat string

const (
	formatText  outputFormat = "text"
	formatTable outputFormat = "table"
	formatYAML  outputFormat = "yaml"
	formatJSON  outputFormat = "json"
)

var formats = []outputFormat{formatText, formatTable, formatYAML, formatJSON}

func parseFormat(s string) (outputFormat, error) {
	for _, f := range formats {
		if strings.EqualFold(s, string(f)) {
			return f, nil
		}
	}
	return "", errors.Errorf("invalid output format %q, one of %v", s, formats)
}

// printer writes command results in the selected format.
type printer struct {
	w      io.Writer
	format outputFormat
}

var out = &printer{w: os.Stdout, format: formatText}

// table is the text rendering of a result; v is what yaml and json encode.
type table struct {
	header []string
	rows   [][]string
}

func (p *printer) print(v interface{}, t table) error {
	switch p.format {
	case formatJSON:
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		b, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = p.w.Write(b)
		return err
	case formatTable:
		tw := tabwriter.NewWriter(p.w, 0, 8, 2, ' ', 0)
		fmt.Fprintln(tw, strings.Join(t.header, "\t"))
		for _, row := range t.rows {
			fmt.Fprintln(tw, strings.Join(row, "\t"))
		}
		return tw.Flush()
	default:
		for _, row := range t.rows {
			if _, err := fmt.Fprintln(p.w, strings.Join(nonEmpty(row), " ")); err != nil {
				return err
			}
		}
		return nil
	}
}

func nonEmpty(fields []string) []string {
	var kept []string
	for _, f := range fields {
		if f != "" {
			kept = append(kept, f)
		}
	}
	return kept
}

type bootloaderInfo struct {
	Version  string        `yaml:"version" json:"version"`
	Commands []commandInfo `yaml:"commands" json:"commands"`
}

type commandInfo struct {
	Opcode string `yaml:"opcode" json:"opcode"`
	Name   string `yaml:"name" json:"name"`
}

func newBootloaderInfo(caps stm32boot.CapabilitySet) bootloaderInfo {
	info := bootloaderInfo{Version: caps.VersionString()}
	for _, cmd := range caps.Commands {
		info.Commands = append(info.Commands, commandInfo{Opcode: fmt.Sprintf("0x%02X", byte(cmd)), Name: cmd.String()})
	}
	return info
}

func (p *printer) capabilities(caps stm32boot.CapabilitySet) error {
	info := newBootloaderInfo(caps)
	t := table{header: []string{"OPCODE", "COMMAND"}}
	if p.format == formatText {
		t.rows = append(t.rows, []string{"bootloader version:", info.Version})
	}
	for _, c := range info.Commands {
		t.rows = append(t.rows, []string{c.Opcode, c.Name})
	}
	return p.print(info, t)
}

type versionInfo struct {
	Version string `yaml:"version" json:"version"`
	Options string `yaml:"options" json:"options"`
}

func (p *printer) version(v stm32boot.VersionInfo) error {
	info := versionInfo{Version: v.String(), Options: fmt.Sprintf("%02X %02X", v.Options[0], v.Options[1])}
	return p.print(info, table{
		header: []string{"VERSION", "OPTIONS"},
		rows:   [][]string{{info.Version, info.Options}},
	})
}

type idInfo struct {
	ProductID string `yaml:"product_id" json:"product_id"`
	Device    string `yaml:"device,omitempty" json:"device,omitempty"`
	PageSize  uint32 `yaml:"page_size,omitempty" json:"page_size,omitempty"`
}

func newIDInfo(pid uint16) idInfo {
	info := idInfo{ProductID: fmt.Sprintf("0x%03X", pid)}
	if dev, ok := stm32boot.LookupDevice(pid); ok {
		info.Device = dev.Name
		info.PageSize = dev.PageSize
	}
	return info
}

func (p *printer) id(pid uint16) error {
	info := newIDInfo(pid)
	page := ""
	if info.PageSize != 0 {
		page = fmt.Sprint(info.PageSize)
	}
	return p.print(info, table{
		header: []string{"PRODUCT ID", "DEVICE", "PAGE SIZE"},
		rows:   [][]string{{info.ProductID, info.Device, page}},
	})
}

type portInfo struct {
	Name    string `yaml:"name" json:"name"`
	USB     bool   `yaml:"usb" json:"usb"`
	VID     string `yaml:"vid,omitempty" json:"vid,omitempty"`
	PID     string `yaml:"pid,omitempty" json:"pid,omitempty"`
	Serial  string `yaml:"serial,omitempty" json:"serial,omitempty"`
	Product string `yaml:"product,omitempty" json:"product,omitempty"`
}

func (p *printer) ports(ports []stm32boot.PortInfo) error {
	infos := make([]portInfo, 0, len(ports))
	t := table{header: []string{"PORT", "VID:PID", "SERIAL", "PRODUCT"}}
	for _, port := range ports {
		info := portInfo{Name: port.Name, USB: port.IsUSB, VID: port.VID, PID: port.PID, Serial: port.SerialNumber, Product: port.Product}
		infos = append(infos, info)
		usb := ""
		if port.IsUSB {
			usb = port.VID + ":" + port.PID
		}
		t.rows = append(t.rows, []string{info.Name, usb, info.Serial, info.Product})
	}
	return p.print(infos, t)
}

type deviceInfo struct {
	Port       string         `yaml:"port" json:"port"`
	ID         idInfo         `yaml:"id" json:"id"`
	Bootloader bootloaderInfo `yaml:"bootloader" json:"bootloader"`
}

func (p *printer) devices(found []stm32boot.DeviceInfo) error {
	infos := make([]deviceInfo, 0, len(found))
	t := table{header: []string{"PORT", "PRODUCT ID", "DEVICE", "VERSION", "COMMANDS"}}
	for _, d := range found {
		info := deviceInfo{
			Port:       d.Port.Name,
			ID:         newIDInfo(d.ProductID),
			Bootloader: newBootloaderInfo(d.Capabilities),
		}
		infos = append(infos, info)
		t.rows = append(t.rows, []string{info.Port, info.ID.ProductID, info.ID.Device, "v" + info.Bootloader.Version, fmt.Sprint(len(info.Bootloader.Commands))})
	}
	return p.print(infos, t)
}
