package stm32boot

import "testing"

func TestLookupDevice(t *testing.T) {
	d, ok := LookupDevice(0x410)
	if !ok {
		t.Fatal("0x410 not found")
	}
	if d.PageSize != 1024 || d.FlashBase != 0x08000000 {
		t.Errorf("got %+v", d)
	}
	if _, ok := LookupDevice(0x413); ok {
		t.Error("sector based device listed")
	}
	for id, d := range devices {
		if d.ID != id || d.PageSize == 0 || d.Name == "" {
			t.Errorf("bad entry %03X: %+v", id, d)
		}
	}
}
