// Package serial provides the Linux serial-port layer of multi-serial:
// opening devices in raw mode, cancellable line-oriented reads, and
// discovery of the ports present on the host.
//
// # Basic Usage
//
// Open a serial port with the default configuration (9600 8N1, newline
// framing):
//
//	port, err := serial.Open("/dev/ttyUSB0")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer port.Close()
//
//	line, err := port.ReadLine(ctx)
//
// # Configuration Options
//
// Use functional options for custom configuration:
//
//	port, err := serial.Open("/dev/ttyACM0",
//	    serial.WithBaudRate(115200),
//	    serial.WithParity(serial.ParityEven),
//	    serial.WithDelimiter('\r'),
//	)
//
// # Cancellation
//
// ReadLine blocks until a full line arrives, the device hangs up (io.EOF),
// the context ends (ctx.Err()) or the port is closed (ErrPortClosed). A
// blocked read waits in poll(2) together with a self-pipe, so cancelling the
// context or calling Close wakes it immediately. Close is idempotent.
//
// # Port Discovery
//
// List the ports present on the host and keep those matching glob patterns:
//
//	ports, err := serial.ListPorts()
//	candidates := serial.FilterPorts(ports,
//	    []string{"/dev/ttyUSB*", "/dev/ttyACM*"},
//	    []string{"/dev/ttyS*"},
//	)
//
// GetPortInfo adds a description and, for USB adapters, the vendor, product
// and serial number read from sysfs.
//
// # Error Handling
//
// Use errors.Is() with the exported sentinel errors:
//
//	if errors.Is(err, serial.ErrPermissionDenied) {
//	    // add the user to the dialout group
//	}
package serial
