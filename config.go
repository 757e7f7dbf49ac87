package serial

// Parity represents the parity mode
type Parity int

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
)

// Config holds the configuration for a serial port
type Config struct {
	BaudRate  int
	DataBits  int
	StopBits  int
	Parity    Parity
	Delimiter byte // Line terminator used by ReadLine
}

// Option is a functional option for configuring a serial port
type Option func(*Config) error

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		BaudRate:  9600,
		DataBits:  8,
		StopBits:  1,
		Parity:    ParityNone,
		Delimiter: '\n',
	}
}

// WithBaudRate sets the baud rate
func WithBaudRate(rate int) Option {
	return func(c *Config) error {
		if _, err := getBaudRate(rate); err != nil {
			return err
		}
		c.BaudRate = rate
		return nil
	}
}

// WithDataBits sets the number of data bits (5, 6, 7, or 8)
func WithDataBits(bits int) Option {
	return func(c *Config) error {
		if bits < 5 || bits > 8 {
			return ErrInvalidConfig
		}
		c.DataBits = bits
		return nil
	}
}

// WithStopBits sets the number of stop bits (1 or 2)
func WithStopBits(bits int) Option {
	return func(c *Config) error {
		if bits != 1 && bits != 2 {
			return ErrInvalidConfig
		}
		c.StopBits = bits
		return nil
	}
}

// WithParity sets the parity mode
func WithParity(parity Parity) Option {
	return func(c *Config) error {
		switch parity {
		case ParityNone, ParityOdd, ParityEven:
		default:
			return ErrInvalidConfig
		}
		c.Parity = parity
		return nil
	}
}

// WithDelimiter sets the byte that terminates a line for ReadLine
func WithDelimiter(delim byte) Option {
	return func(c *Config) error {
		c.Delimiter = delim
		return nil
	}
}
