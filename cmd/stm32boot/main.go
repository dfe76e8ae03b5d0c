package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/amrbekhit/stm32boot"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

type command func(*stm32boot.Session, []string)

var commands = map[string]command{
	"get":   processGet,
	"ver":   processGetVersion,
	"id":    processGetID,
	"read":  processRead,
	"write": processWrite,
	"erase": processErase,
	"go":    processGo,
	"wp":    processWriteProtect,
	"wunp":  processWriteUnprotect,
	"rp":    processReadoutProtect,
	"runp":  processReadoutUnprotect,
}

// Commands that do not talk to a single bootloader.
var hostCommands = map[string]func(stm32boot.Config, stm32boot.OpenFunc){
	"ports":    processPorts,
	"discover": processDiscover,
	"shell":    processShell,
}

var drivers = map[string]stm32boot.OpenFunc{
	"bugst": stm32boot.OpenPort,
	"tarm":  stm32boot.OpenSerial,
}

const appVersion = "0.1.0"

func main() {
	version := flag.Bool("version", false, "Prints the program version.")
	port := flag.String("port", "", "Serial port name.")
	baud := flag.Int("baud", 115200, "Baud rate.")
	driver := flag.String("driver", "bugst", "Serial driver, bugst or tarm. Only bugst can drive the reset and boot signals.")
	reset := flag.String("reset", "none", "Line driving RESET: none, rts, dtr, !rts or !dtr.")
	boot := flag.String("boot", "none", "Line driving BOOT0: none, rts, dtr, !rts or !dtr.")
	retries := flag.Int("retries", stm32boot.DefaultRetryPolicy().Retries, "Number of retries after a NACK or timeout.")
	verbose := flag.Bool("v", false, "Enable verbose logging.")
	before := flag.String("before", "", "Command to run before programming.")
	after := flag.String("after", "", "Command to run after programming has been completed successfully.")
	addr := flag.String("addr", "0x08000000", "Load address of a .bin image.")
	erase := flag.String("erase", "pages", "Erase before programming: pages, mass or none.")
	verify := flag.Bool("verify", true, "Read back every chunk after writing it.")
	start := flag.Bool("go", false, "Start the application once programmed.")
	report := flag.String("report", "", "Save a report of the programming run to this yaml file.")
	resume := flag.String("resume", "", "Continue the run described by this report file.")
	format := flag.String("format", string(formatText), fmt.Sprintf("Output format of get, ver, id, ports and discover, one of: %v", formats))

	// Format an empty deviceProfile struct in YAML format as an example.
	buf := new(bytes.Buffer)
	enc := yaml.NewEncoder(buf)
	enc.Encode(deviceProfile{})
	profile := flag.String("profile", "", "Device profile yaml file, overridden by explicit flags. Example:\n\n"+buf.String())

	cmdList := []string{}
	for key := range commands {
		cmdList = append(cmdList, key)
	}
	for key := range hostCommands {
		cmdList = append(cmdList, key)
	}
	sort.Strings(cmdList)
	cmdName := flag.String("cmd", "", fmt.Sprintf("Command to run, one of: %+v\n"+
		"Memory read commands have the following usage: read addr length, e.g. read 0x08000000 32\n"+
		"Memory write commands have the following usage: write addr datafile, e.g. write 0x08000000 datafile\n"+
		"erase takes page numbers, or mass, bank1 or bank2\n"+
		"wp takes sector numbers\n"+
		"shell reads commands from stdin, type help for the list",
		cmdList))

	flag.Parse()

	if *version {
		fmt.Println(appVersion)
		return
	}

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	stm32boot.SetLogger(log.StandardLogger())

	var err error
	if out.format, err = parseFormat(*format); err != nil {
		log.Fatal(err)
	}

	prof := new(deviceProfile)
	if *profile != "" {
		if prof, err = loadProfile(*profile); err != nil {
			log.Fatal(err)
		}
	}
	// Explicit flags win over the profile.
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	override := func(name string, dst *string, val string) {
		if set[name] || *dst == "" {
			*dst = val
		}
	}
	override("port", &prof.Port, *port)
	override("driver", &prof.Driver, *driver)
	override("reset", &prof.Reset, *reset)
	override("boot", &prof.Boot, *boot)
	if set["baud"] || prof.Baud == 0 {
		prof.Baud = *baud
	}
	if set["retries"] || prof.Retries == 0 {
		prof.Retries = *retries
	}

	config, err := prof.config()
	if err != nil {
		log.Fatal(err)
	}

	open, ok := drivers[prof.Driver]
	if !ok {
		log.Fatalf("invalid driver %v", prof.Driver)
	}

	if f, ok := hostCommands[*cmdName]; ok {
		f(config, open)
		return
	}

	if prof.Port == "" {
		log.Fatal("must specify port")
	}

	var cmd command
	var img *stm32boot.Image
	var opts stm32boot.FlashOptions
	if *cmdName != "" {
		if cmd, ok = commands[*cmdName]; !ok {
			log.Fatalf("invalid command %v", *cmdName)
		}
	} else {
		// Try and program an image file
		if len(flag.Args()) != 1 {
			log.Fatalf("must specify hex or bin file to program")
		}
		img = loadImage(flag.Args()[0], *addr)
		opts = flashOptions(prof, *erase, *verify, *start)
		if err := img.Fits(opts.Layout); err != nil {
			log.Fatal(err)
		}
		if *resume != "" {
			rr, err := loadReport(*resume)
			if err != nil {
				log.Fatal(err)
			}
			if opts.Offset, err = rr.resumeOffset(img); err != nil {
				log.Fatalf("cannot resume: %v", err)
			}
			log.Infof("resuming at offset %d", opts.Offset)
		}

		// Run the before command
		if *before != "" {
			log.Infof("running before command...")
			if err := exec.Command(*before).Run(); err != nil {
				log.Fatalf("failed to run before command: %v", err)
			}
		}
	}

	transport, err := open(prof.Port, prof.Baud)
	if err != nil {
		log.Fatalf("failed to initialise bootloader: %v", err)
	}
	if _, ok := transport.(stm32boot.Signaler); !ok && (config.Signals.Reset.Line != stm32boot.LineNone || config.Signals.Boot.Line != stm32boot.LineNone) {
		log.Warnf("driver %v cannot drive the reset and boot signals, ignoring them", prof.Driver)
	}

	log.Infof("connecting to device...")
	session, err := stm32boot.Synchronize(transport, config)
	if err != nil {
		transport.Close()
		log.Fatalf("failed to open bootloader: %v", err)
	}
	defer session.Close()
	caps, err := session.Discover()
	if err != nil {
		log.Fatalf("failed to query bootloader: %v", err)
	}
	log.Infof("connected, bootloader %v", caps)

	if cmd != nil {
		cmd(session, flag.Args())
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	log.Infof("programming %d bytes at %08X...", len(img.Data), img.Base)
	r, err := session.FlashImage(ctx, img, opts)
	if *report != "" {
		if serr := saveReport(*report, newRunReport(flag.Args()[0], r, err)); serr != nil {
			log.Errorf("failed to save report: %v", serr)
		}
	}
	if err != nil {
		log.Fatalf("programming failed after %d of %d bytes: %v", r.NextOffset(), r.Length, err)
	}
	log.Infof("complete, %d bytes in %v", r.Length-r.Offset, r.Elapsed)

	// Run the after command
	if *after != "" {
		log.Infof("running after command...")
		if err := exec.Command(*after).Run(); err != nil {
			log.Fatalf("failed to run after command: %v", err)
		}
	}
}

func loadImage(fileName, addr string) *stm32boot.Image {
	file, err := os.Open(fileName)
	if err != nil {
		log.Fatal(err)
	}
	defer file.Close()

	var img *stm32boot.Image
	if strings.EqualFold(filepath.Ext(fileName), ".hex") {
		img, err = stm32boot.LoadHex(file)
	} else {
		base, perr := strconv.ParseUint(addr, 0, 32)
		if perr != nil {
			log.Fatalf("invalid address: %v", perr)
		}
		img, err = stm32boot.LoadBinary(file, uint32(base))
	}
	if err != nil {
		log.Fatalf("failed to load %v: %v", fileName, err)
	}
	log.Infof("image loaded, %d bytes at %08X", len(img.Data), img.Base)
	return img
}

func flashOptions(prof *deviceProfile, erase string, verify, start bool) stm32boot.FlashOptions {
	opts := stm32boot.DefaultFlashOptions()
	if layout := prof.layout(); layout != (stm32boot.Layout{}) {
		opts.Layout = layout
	}
	switch erase {
	case "pages":
		opts.Erase = stm32boot.ErasePages
	case "mass":
		opts.Erase = stm32boot.EraseMass
	case "none":
		opts.Erase = stm32boot.EraseNone
	default:
		log.Fatalf("invalid erase mode %v", erase)
	}
	if prof.Alignment > 0 {
		opts.Alignment = prof.Alignment
	}
	opts.Verify = verify
	opts.Go = start
	opts.Progress = logProgress
	return opts
}

func logProgress(p stm32boot.Progress) {
	switch p.Phase {
	case stm32boot.PhaseWriting:
		log.Debugf("chunk %d/%d, %d of %d bytes", p.Chunk, p.Chunks, p.Written, p.Total)
	default:
		log.Infof("%s...", p.Phase)
	}
}
