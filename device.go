package stm32boot

// Device describes the flash layout of a product ID reported by Get ID.
type Device struct {
	ID        uint16
	Name      string
	FlashBase uint32
	PageSize  uint32
}

const defaultFlashBase = 0x08000000

// Only devices with uniformly sized flash pages are listed. Sector based
// parts (F2, F4, F7) need an explicit layout or a mass erase.
var devices = map[uint16]Device{}

func register(d Device) {
	if d.FlashBase == 0 {
		d.FlashBase = defaultFlashBase
	}
	devices[d.ID] = d
}

func init() {
	// STM32F0
	register(Device{ID: 0x440, Name: "STM32F030x8/F05x", PageSize: 1024})
	register(Device{ID: 0x442, Name: "STM32F030xC/F09x", PageSize: 2048})
	register(Device{ID: 0x444, Name: "STM32F03x", PageSize: 1024})
	register(Device{ID: 0x445, Name: "STM32F04x", PageSize: 1024})
	register(Device{ID: 0x448, Name: "STM32F070xB/F071/F072", PageSize: 2048})

	// STM32F1
	register(Device{ID: 0x410, Name: "STM32F10x medium-density", PageSize: 1024})
	register(Device{ID: 0x412, Name: "STM32F10x low-density", PageSize: 1024})
	register(Device{ID: 0x414, Name: "STM32F10x high-density", PageSize: 2048})
	register(Device{ID: 0x418, Name: "STM32F105/F107", PageSize: 2048})
	register(Device{ID: 0x420, Name: "STM32F100 value line", PageSize: 1024})
	register(Device{ID: 0x428, Name: "STM32F100 high-density value line", PageSize: 2048})
	register(Device{ID: 0x430, Name: "STM32F10x XL-density", PageSize: 2048})

	// STM32F3
	register(Device{ID: 0x422, Name: "STM32F302xB/C, F303xB/C", PageSize: 2048})
	register(Device{ID: 0x432, Name: "STM32F37x", PageSize: 2048})
	register(Device{ID: 0x438, Name: "STM32F303x6/8, F334", PageSize: 2048})
	register(Device{ID: 0x439, Name: "STM32F301, F302x6/8", PageSize: 2048})
	register(Device{ID: 0x446, Name: "STM32F302xD/E, F303xD/E", PageSize: 2048})

	// STM32G0/G4
	register(Device{ID: 0x460, Name: "STM32G07x/G08x", PageSize: 2048})
	register(Device{ID: 0x466, Name: "STM32G03x/G04x", PageSize: 2048})
	register(Device{ID: 0x468, Name: "STM32G431/G441", PageSize: 2048})

	// STM32L0/L4
	register(Device{ID: 0x417, Name: "STM32L05x/L06x", PageSize: 128})
	register(Device{ID: 0x425, Name: "STM32L031/L041", PageSize: 128})
	register(Device{ID: 0x447, Name: "STM32L07x/L08x", PageSize: 128})
	register(Device{ID: 0x457, Name: "STM32L01x/L02x", PageSize: 128})
	register(Device{ID: 0x415, Name: "STM32L47x/L48x", PageSize: 2048})
	register(Device{ID: 0x435, Name: "STM32L43x/L44x", PageSize: 2048})
	register(Device{ID: 0x461, Name: "STM32L496/L4A6", PageSize: 2048})
	register(Device{ID: 0x462, Name: "STM32L45x/L46x", PageSize: 2048})
	register(Device{ID: 0x464, Name: "STM32L41x/L42x", PageSize: 2048})
}

// LookupDevice returns the known layout for a product ID.
func LookupDevice(id uint16) (Device, bool) {
	d, ok := devices[id]
	return d, ok
}
