package stm32boot

import (
	"bytes"
	"testing"
)

func TestChecksum(t *testing.T) {
	tests := []struct {
		data []byte
		want byte
	}{
		{nil, 0x00},
		{[]byte{0x08, 0x00, 0x00, 0x00}, 0x08},
		{[]byte{0x12, 0x34, 0x56, 0x78}, 0x08},
		{[]byte{0xFF, 0xFF}, 0x00},
		{[]byte{0x00, 0x01, 0x02}, 0x03},
	}
	for _, tt := range tests {
		if got := Checksum(tt.data...); got != tt.want {
			t.Errorf("Checksum(% X) = %02X, want %02X", tt.data, got, tt.want)
		}
	}
}

func TestComplement(t *testing.T) {
	for _, cmd := range Commands {
		if c := complement(byte(cmd)); byte(cmd)^c != 0xFF {
			t.Errorf("%v: complement %02X does not pair with %02X", cmd, c, byte(cmd))
		}
	}
	want := map[Command]byte{
		CmdGet:           0xFF,
		CmdReadMemory:    0xEE,
		CmdWriteMemory:   0xCE,
		CmdExtendedErase: 0xBB,
	}
	for cmd, c := range want {
		if got := complement(byte(cmd)); got != c {
			t.Errorf("complement(%v) = %02X, want %02X", cmd, got, c)
		}
	}
}

func TestEncodeAddress(t *testing.T) {
	got := encodeAddress(0x08000100)
	if want := []byte{0x08, 0x00, 0x01, 0x00}; !bytes.Equal(got, want) {
		t.Errorf("encodeAddress = % X, want % X", got, want)
	}
}

func TestCommandString(t *testing.T) {
	if s := CmdExtendedErase.String(); s != "Extended Erase" {
		t.Errorf("got %q", s)
	}
	if s := Command(0x55).String(); s != "unknown (0x55)" {
		t.Errorf("got %q", s)
	}
	if s := (VersionInfo{Version: 0x31}).String(); s != "3.1" {
		t.Errorf("got %q", s)
	}
}
