package main

import (
	"encoding/hex"
	"fmt"
	"io/ioutil"
	"os"
	"strconv"
	"strings"

	"github.com/amrbekhit/stm32boot"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

func processGet(session *stm32boot.Session, args []string) {
	if err := showCapabilities(out, session); err != nil {
		log.Fatal(err)
	}
}

func showCapabilities(p *printer, session *stm32boot.Session) error {
	caps, ok := session.Capabilities()
	if !ok {
		return errors.New("no capabilities recorded")
	}
	return p.capabilities(caps)
}

func processGetVersion(session *stm32boot.Session, args []string) {
	if err := showVersion(out, session); err != nil {
		log.Fatal(err)
	}
}

func showVersion(p *printer, session *stm32boot.Session) error {
	ver, err := session.GetVersion()
	if err != nil {
		return errors.Wrap(err, "failed to read version")
	}
	return p.version(ver)
}

func processGetID(session *stm32boot.Session, args []string) {
	if err := showID(out, session); err != nil {
		log.Fatal(err)
	}
}

func showID(p *printer, session *stm32boot.Session) error {
	pid, err := session.GetID()
	if err != nil {
		return errors.Wrap(err, "failed to read id")
	}
	return p.id(pid)
}

func getAddrAndLen(args []string) (uint32, int) {
	if len(args) != 2 {
		log.Fatalf("expected: addr len")
	}
	addr, err := strconv.ParseUint(args[0], 0, 32)
	if err != nil {
		log.Fatalf("invalid address: %v", err)
	}
	len, err := strconv.ParseUint(args[1], 0, 32)
	if err != nil {
		log.Fatalf("invalid length: %v", err)
	}
	return uint32(addr), int(len)
}

func processRead(session *stm32boot.Session, args []string) {
	addr, length := getAddrAndLen(args)
	data := make([]byte, 0, length)
	for len(data) < length {
		n := length - len(data)
		if n > stm32boot.MaxPacketSize {
			n = stm32boot.MaxPacketSize
		}
		chunk, err := session.ReadMemory(addr+uint32(len(data)), n)
		if err != nil {
			log.Fatalf("failed to read memory at %08X: %v", addr+uint32(len(data)), err)
		}
		data = append(data, chunk...)
	}
	fmt.Print(hex.Dump(data))
}

func getAddrAndData(args []string) (uint32, []byte) {
	if len(args) != 2 {
		log.Fatalf("expected: addr datafile")
	}
	addr, err := strconv.ParseUint(args[0], 0, 32)
	if err != nil {
		log.Fatalf("invalid address: %v", err)
	}
	data, err := ioutil.ReadFile(args[1])
	if err != nil {
		log.Fatalf("failed to read data file: %v", err)
	}
	return uint32(addr), data
}

func processWrite(session *stm32boot.Session, args []string) {
	addr, data := getAddrAndData(args)
	for sent := 0; sent < len(data); sent += stm32boot.MaxPacketSize {
		end := sent + stm32boot.MaxPacketSize
		if end > len(data) {
			end = len(data)
		}
		if err := session.WriteMemory(addr+uint32(sent), data[sent:end]); err != nil {
			log.Fatalf("failed to write memory at %08X: %v", addr+uint32(sent), err)
		}
	}
}

func processErase(session *stm32boot.Session, args []string) {
	if len(args) == 0 {
		log.Fatalf("expected: pages... or mass, bank1, bank2")
	}
	caps, _ := session.Capabilities()
	plan := stm32boot.ErasePlan{Extended: caps.Supports(stm32boot.CmdExtendedErase)}
	switch strings.ToLower(args[0]) {
	case "mass":
		plan.Mass = stm32boot.MassEraseGlobal
	case "bank1":
		plan.Mass = stm32boot.MassEraseBank1
	case "bank2":
		plan.Mass = stm32boot.MassEraseBank2
	default:
		for _, arg := range args {
			page, err := strconv.ParseUint(arg, 0, 16)
			if err != nil {
				log.Fatalf("invalid page: %v", err)
			}
			plan.Pages = append(plan.Pages, uint16(page))
		}
	}
	if err := session.Erase(plan); err != nil {
		log.Fatalf("failed to erase: %v", err)
	}
	log.Infof("%v complete", plan)
}

func processGo(session *stm32boot.Session, args []string) {
	if len(args) != 1 {
		log.Fatalf("expected: addr")
	}
	addr, err := strconv.ParseUint(args[0], 0, 32)
	if err != nil {
		log.Fatalf("invalid address: %v", err)
	}
	if err := session.Go(uint32(addr)); err != nil {
		log.Fatalf("failed to jump to %08X: %v", addr, err)
	}
}

func processWriteProtect(session *stm32boot.Session, args []string) {
	var sectors []byte
	for _, arg := range args {
		sector, err := strconv.ParseUint(arg, 0, 8)
		if err != nil {
			log.Fatalf("invalid sector: %v", err)
		}
		sectors = append(sectors, byte(sector))
	}
	logReset(session.WriteProtect(sectors))
}

func processWriteUnprotect(session *stm32boot.Session, args []string) {
	logReset(session.WriteUnprotect())
}

func processReadoutProtect(session *stm32boot.Session, args []string) {
	logReset(session.ReadoutProtect())
}

func processReadoutUnprotect(session *stm32boot.Session, args []string) {
	logReset(session.ReadoutUnprotect())
}

func logReset(r *stm32boot.Reset, err error) {
	if err != nil {
		log.Fatal(err)
	}
	log.Infof("%v", r)
}

func processPorts(config stm32boot.Config, open stm32boot.OpenFunc) {
	if err := showPorts(out); err != nil {
		log.Fatal(err)
	}
}

func showPorts(p *printer) error {
	ports, err := stm32boot.Ports()
	if err != nil {
		return err
	}
	return p.ports(ports)
}

func processDiscover(config stm32boot.Config, open stm32boot.OpenFunc) {
	if err := showDevices(out, config); err != nil {
		log.Fatal(err)
	}
}

func showDevices(p *printer, config stm32boot.Config) error {
	found, err := stm32boot.Discover(config)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		log.Infof("no bootloader found")
	}
	return p.devices(found)
}

func processShell(config stm32boot.Config, open stm32boot.OpenFunc) {
	sh := newShell(os.Stdin, out, config, open)
	sh.prompt = isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
	if err := sh.run(); err != nil {
		log.Fatal(err)
	}
}
