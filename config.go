// Package ebusgw is the composition root: it wires the pure protocol core
// (symbol, addr, seq, telegram, bus, engine, enhanced, value) to a real
// serial line, a bounded client queue, a client table, and the TCP
// listeners described in spec section 6.
package ebusgw

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mlanger/ebusgw/addr"
)

// Flags, in the teacher's package-level flag.X(...) style.
var (
	SerialFlag       = flag.String("serial", "/dev/ttyUSB0", "Set the serial `device` the eBUS adapter hardware is attached to.")
	BaudFlag         = flag.Uint("baud", 2400, "Set the line `rate`. The eBUS wire rate is fixed at 2400; any other value is rejected at startup.")
	OwnAddrsFlag     = flag.String("own-addrs", "0x03", "Comma-separated `list` of own master addresses available for arbitration (hex with 0x prefix or decimal).")
	RawAddrFlag      = flag.String("raw-addr", ":8880", "Listen `address` for the raw read/write TCP port.")
	RawROAddrFlag    = flag.String("raw-ro-addr", ":8881", "Listen `address` for the raw read-only TCP port.")
	EnhancedAddrFlag = flag.String("enhanced-addr", ":8882", "Listen `address` for the enhanced framed TCP port.")
	MetricsAddrFlag  = flag.String("metrics-addr", ":9090", "Listen `address` for the Prometheus metrics endpoint.")
	QueueCapFlag     = flag.Uint("queue-cap", 256, "Capacity of the bounded client event `queue`.")
	WatchdogFlag     = flag.Duration("watchdog", 30*time.Second, "Maximum `duration` of bus silence before the process exits for an external supervisor to restart it.")
)

// Config is the validated, parsed form of the command-line flags.
type Config struct {
	SerialDevice string
	Baud         uint
	OwnAddresses []byte

	RawAddr      string
	RawROAddr    string
	EnhancedAddr string
	MetricsAddr  string

	QueueCapacity int
	WatchdogIdle  time.Duration
}

// MustConfig validates the parsed flags and returns a Config, exiting the
// process via CmdLog.Fatal on the first invalid value, matching
// cmd/iecat's mustTCPConfig/mustPacketStream convention.
func MustConfig() Config {
	switch {
	case *SerialFlag == "":
		CmdLog.Fatal("serial device path is empty")
	case *BaudFlag != 2400:
		CmdLog.Fatalf("baud rate %d is not the eBUS line rate of 2400", *BaudFlag)
	case *RawAddrFlag == "":
		CmdLog.Fatal("raw-addr is empty")
	case *RawROAddrFlag == "":
		CmdLog.Fatal("raw-ro-addr is empty")
	case *EnhancedAddrFlag == "":
		CmdLog.Fatal("enhanced-addr is empty")
	case *QueueCapFlag == 0:
		CmdLog.Fatal("queue-cap is zero")
	case *WatchdogFlag <= 0:
		CmdLog.Fatal("watchdog duration must be positive")
	}

	return Config{
		SerialDevice:  *SerialFlag,
		Baud:          *BaudFlag,
		OwnAddresses:  mustOwnAddresses(*OwnAddrsFlag),
		RawAddr:       *RawAddrFlag,
		RawROAddr:     *RawROAddrFlag,
		EnhancedAddr:  *EnhancedAddrFlag,
		MetricsAddr:   *MetricsAddrFlag,
		QueueCapacity: int(*QueueCapFlag),
		WatchdogIdle:  *WatchdogFlag,
	}
}

// mustOwnAddresses parses a comma-separated address list, rejecting
// anything that is not one of the 25 valid master addresses.
func mustOwnAddresses(s string) []byte {
	var out []byte
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseUint(part, 0, 8)
		if err != nil {
			CmdLog.Fatalf("own address %q: %v", part, err)
		}
		if !addr.IsMaster(byte(n)) {
			CmdLog.Fatalf("own address %s is not one of the 25 valid master addresses", fmt.Sprintf("0x%02X", n))
		}
		out = append(out, byte(n))
	}
	if len(out) == 0 {
		CmdLog.Fatal("own-addrs yields no usable master address")
	}
	return out
}
