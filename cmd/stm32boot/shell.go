package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/amrbekhit/stm32boot"
	"github.com/pkg/errors"
)

const shellHelp = `open port        connect to the bootloader on port
close            release the open port
set [key value]  show or change settings used by the next open:
                 baud, reset, boot, reset_ms, retries, format
ports            list serial ports
discover         look for bootloaders on every port
get              show the commands the bootloader supports
ver              show the bootloader version
id               show the product id
quit             leave the shell`

var errNotOpen = errors.New("no device open, use: open port")

// shell reads one command per line and runs it against at most one open
// session. Errors are printed and the shell carries on.
type shell struct {
	in      io.Reader
	out     *printer
	config  stm32boot.Config
	open    stm32boot.OpenFunc
	prompt  bool
	port    string
	session *stm32boot.Session
}

func newShell(in io.Reader, out *printer, config stm32boot.Config, open stm32boot.OpenFunc) *shell {
	p := *out
	return &shell{in: in, out: &p, config: config, open: open}
}

func (sh *shell) run() error {
	defer sh.close()
	scanner := bufio.NewScanner(sh.in)
	for {
		if sh.prompt {
			fmt.Fprint(sh.out.w, "stm32boot> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		quit, err := sh.exec(fields[0], fields[1:])
		if err != nil {
			fmt.Fprintf(sh.out.w, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

func (sh *shell) exec(name string, args []string) (bool, error) {
	name = strings.ToLower(name)
	switch name {
	case "quit", "exit":
		return true, nil
	case "help", "?":
		fmt.Fprintln(sh.out.w, shellHelp)
	case "open":
		if len(args) != 1 {
			return false, errors.New("expected: open port")
		}
		return false, sh.connect(args[0])
	case "close":
		if sh.session == nil {
			return false, errNotOpen
		}
		sh.close()
	case "set":
		if len(args) == 0 {
			sh.settings()
			return false, nil
		}
		if len(args) != 2 {
			return false, errors.New("expected: set key value")
		}
		return false, sh.set(strings.ToLower(args[0]), args[1])
	case "ports":
		return false, showPorts(sh.out)
	case "discover":
		return false, showDevices(sh.out, sh.config)
	case "get", "ver", "id":
		if sh.session == nil {
			return false, errNotOpen
		}
		switch name {
		case "get":
			return false, showCapabilities(sh.out, sh.session)
		case "ver":
			return false, showVersion(sh.out, sh.session)
		default:
			return false, showID(sh.out, sh.session)
		}
	default:
		return false, errors.Errorf("unknown command %q, try help", name)
	}
	return false, nil
}

func (sh *shell) connect(port string) error {
	sh.close()
	t, err := sh.open(port, sh.config.Baud)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", port)
	}
	session, err := stm32boot.Synchronize(t, sh.config)
	if err != nil {
		t.Close()
		return errors.Wrapf(err, "failed to open bootloader on %s", port)
	}
	caps, err := session.Discover()
	if err != nil {
		session.Close()
		return errors.Wrap(err, "failed to query bootloader")
	}
	sh.port, sh.session = port, session
	fmt.Fprintf(sh.out.w, "connected to %s, bootloader %v\n", port, caps)
	return nil
}

func (sh *shell) close() {
	if sh.session == nil {
		return
	}
	sh.session.Close()
	sh.session = nil
	fmt.Fprintf(sh.out.w, "closed %s\n", sh.port)
}

// set changes one setting, leaving it untouched if value does not parse.
func (sh *shell) set(key, value string) error {
	config, format := sh.config, sh.out.format
	var err error
	switch key {
	case "baud":
		config.Baud, err = strconv.Atoi(value)
	case "reset":
		config.Signals.Reset, err = stm32boot.ParseSignal(value)
	case "boot":
		config.Signals.Boot, err = stm32boot.ParseSignal(value)
	case "reset_ms":
		var ms int
		ms, err = strconv.Atoi(value)
		config.Signals.ResetFor = time.Duration(ms) * time.Millisecond
	case "retries":
		config.Retry.Retries, err = strconv.Atoi(value)
	case "format":
		format, err = parseFormat(value)
	default:
		return errors.Errorf("unknown setting %q", key)
	}
	if err != nil {
		return errors.Wrapf(err, "invalid %s", key)
	}
	sh.config, sh.out.format = config, format
	return nil
}

func (sh *shell) settings() {
	fmt.Fprintf(sh.out.w, "baud %d\nreset %v\nboot %v\nreset_ms %d\nretries %d\nformat %s\n",
		sh.config.Baud,
		sh.config.Signals.Reset,
		sh.config.Signals.Boot,
		sh.config.Signals.ResetFor.Milliseconds(),
		sh.config.Retry.Retries,
		sh.out.format)
}
