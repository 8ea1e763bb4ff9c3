package spectro

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// readCommand asks the ADC bridge for one conversion.
const readCommand = "r\n"

// Port is the subset of a serial port the source uses.
type Port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
}

// PortOpener opens a named serial port.
type PortOpener func(name string, baud int, timeout time.Duration) (Port, error)

// OpenSerialPort opens name with go.bug.st/serial in 8N1 mode.
func OpenSerialPort(name string, baud int, timeout time.Duration) (Port, error) {
	p, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, err
	}
	if timeout > 0 {
		if err := p.SetReadTimeout(timeout); err != nil {
			_ = p.Close()
			return nil, err
		}
	}
	return p, nil
}

// ListPorts returns the serial ports present on the system.
func ListPorts() ([]string, error) { return serial.GetPortsList() }

// SerialConfig describes how to reach the ADC bridge.
type SerialConfig struct {
	Port    string        `yaml:"port" json:"port"`
	Baud    int           `yaml:"baud" json:"baud"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// SerialSource reads ADC counts from a microcontroller that answers each
// "r" line with a single numeric line.
type SerialSource struct {
	mu     sync.Mutex
	port   Port
	reader *bufio.Reader
}

// OpenSerial opens the configured port. A nil opener uses OpenSerialPort.
func OpenSerial(cfg SerialConfig, open PortOpener) (*SerialSource, error) {
	if cfg.Port == "" {
		return nil, fmt.Errorf("spectro: serial port not configured")
	}
	if cfg.Baud == 0 {
		cfg.Baud = 9600
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	if open == nil {
		open = OpenSerialPort
	}
	p, err := open(cfg.Port, cfg.Baud, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("spectro: open %s: %w", cfg.Port, err)
	}
	return NewSerialSource(p), nil
}

// NewSerialSource wraps an already open port.
func NewSerialSource(p Port) *SerialSource {
	return &SerialSource{port: p, reader: bufio.NewReader(p)}
}

// ReadSingle requests and parses one reading.
func (s *SerialSource) ReadSingle(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return 0, fmt.Errorf("spectro: serial source closed")
	}
	_ = s.port.ResetInputBuffer()
	s.reader.Reset(s.port)
	if _, err := io.WriteString(s.port, readCommand); err != nil {
		return 0, fmt.Errorf("spectro: write command: %w", err)
	}
	line, err := s.reader.ReadString('\n')
	if err != nil && (line == "" || err != io.EOF) {
		return 0, fmt.Errorf("spectro: read reply: %w", err)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
	if err != nil {
		return 0, fmt.Errorf("spectro: parse reply %q: %w", strings.TrimSpace(line), err)
	}
	return v, nil
}

// Close closes the port.
func (s *SerialSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}
