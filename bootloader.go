// Package stm32boot implements the STM32 USART bootloader protocol (AN3155).
//
// The package contains two main layers: Session and the flash programmer.
// Session drives the individual bootloader commands over a Transport, one
// request at a time: the initial synchronisation, capability discovery via
// Get, memory read/write, erase, go and the protection commands. Flash builds
// on top of it and turns "write this image at this address" into an erase
// plan followed by a sequence of acknowledged, retried 256-byte writes with
// optional read-back verification.
//
// Also included is a command line tool, found in the cmd/stm32boot directory,
// that serves as both an example on how to use the library and a fully
// functional host program to upload HEX and binary images to devices.
package stm32boot

import "fmt"

// Command is an AN3155 command opcode.
type Command byte

// Bootloader commands.
const (
	CmdGet              Command = 0x00
	CmdGetVersion       Command = 0x01
	CmdGetID            Command = 0x02
	CmdReadMemory       Command = 0x11
	CmdGo               Command = 0x21
	CmdWriteMemory      Command = 0x31
	CmdErase            Command = 0x43
	CmdExtendedErase    Command = 0x44
	CmdWriteProtect     Command = 0x63
	CmdWriteUnprotect   Command = 0x73
	CmdReadoutProtect   Command = 0x82
	CmdReadoutUnprotect Command = 0x92
)

// Commands lists every command known to the package in opcode order.
var Commands = []Command{
	CmdGet,
	CmdGetVersion,
	CmdGetID,
	CmdReadMemory,
	CmdGo,
	CmdWriteMemory,
	CmdErase,
	CmdExtendedErase,
	CmdWriteProtect,
	CmdWriteUnprotect,
	CmdReadoutProtect,
	CmdReadoutUnprotect,
}

var commandNames = map[Command]string{
	CmdGet:              "Get",
	CmdGetVersion:       "Get Version",
	CmdGetID:            "Get ID",
	CmdReadMemory:       "Read Memory",
	CmdGo:               "Go",
	CmdWriteMemory:      "Write Memory",
	CmdErase:            "Erase",
	CmdExtendedErase:    "Extended Erase",
	CmdWriteProtect:     "Write Protect",
	CmdWriteUnprotect:   "Write Unprotect",
	CmdReadoutProtect:   "Readout Protect",
	CmdReadoutUnprotect: "Readout Unprotect",
}

// String returns the name of the command.
func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("unknown (0x%02X)", byte(c))
}

// Wire bytes.
const (
	syncByte = 0x7F
	ackByte  = 0x79
	nackByte = 0x1F
)

// MaxPacketSize is the largest payload accepted by Read Memory and Write Memory.
const MaxPacketSize = 256

// VersionInfo holds the results of the Get Version command.
type VersionInfo struct {
	Version byte
	// Option bytes reported by older bootloaders (read protection counters).
	// Most devices report zeros.
	Options [2]byte
}

// String returns the version in major.minor form.
func (v VersionInfo) String() string {
	return versionString(v.Version)
}

func versionString(v byte) string {
	return fmt.Sprintf("%d.%d", v>>4, v&0x0F)
}
