package ecu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/shaunagostinho/mbe-dash/internal/mbe"
)

// Link talks to the controller through a serial CAN/ISO-TP bridge. Each MBE
// request is written as one frame and the bridge answers with one frame
// holding the controller's reply.
//
// Two framings are supported:
//
//	envelope: <size_hi> <size_lo> <payload...> <crc32_4bytes_BE>
//	raw:      payload bytes only, a reply ends after a quiet gap
type Link struct {
	portPath  string
	baudRate  int
	framing   string
	timeout   time.Duration
	port      port
	mu        sync.Mutex
	connected bool

	open func(path string, mode *serial.Mode) (port, error)
}

// LinkConfig holds connection configuration for the serial link.
type LinkConfig struct {
	PortPath string        `yaml:"port_path" json:"portPath"`
	BaudRate int           `yaml:"baud_rate" json:"baudRate"`
	Framing  string        `yaml:"framing" json:"framing"` // "envelope" or "raw"
	Timeout  time.Duration `yaml:"timeout" json:"timeout"` // reply timeout
}

// port is the part of serial.Port the link uses.
type port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

func openSerial(path string, mode *serial.Mode) (port, error) {
	return serial.Open(path, mode)
}

const (
	FramingEnvelope = "envelope"
	FramingRaw      = "raw"

	maxPayload = 1024

	// Drain / timing constants
	drainSilenceMs = 100                     // silence threshold for drain loop
	drainTimeout   = 1500 * time.Millisecond // max time to spend draining
	rawGap         = 50 * time.Millisecond   // quiet gap that ends a raw reply
)

// NewLink creates a serial link. Call Connect before use.
func NewLink(cfg LinkConfig) *Link {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	if cfg.Framing == "" {
		cfg.Framing = FramingEnvelope
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 500 * time.Millisecond
	}
	return &Link{
		portPath: cfg.PortPath,
		baudRate: cfg.BaudRate,
		framing:  cfg.Framing,
		timeout:  cfg.Timeout,
		open:     openSerial,
	}
}

func (l *Link) Name() string { return "MBE serial (" + l.framing + ")" }

// Connect opens the serial port and clears anything the bridge sent while
// nobody was listening.
func (l *Link) Connect() error {
	if l.framing != FramingEnvelope && l.framing != FramingRaw {
		return fmt.Errorf("link: unknown framing %q", l.framing)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.connected {
		return nil
	}
	// The port is opened exclusively; a stale handle would make the reopen fail
	l.closePort()

	mode := &serial.Mode{
		BaudRate: l.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := l.open(l.portPath, mode)
	if err != nil {
		return fmt.Errorf("link: failed to open %s: %w", l.portPath, err)
	}
	if err := p.SetReadTimeout(l.timeout); err != nil {
		p.Close()
		return fmt.Errorf("link: failed to set timeout: %w", err)
	}

	l.port = p
	l.drain("open")
	l.connected = true
	log.Printf("[link] connected to %s at %d baud (%s framing)", l.portPath, l.baudRate, l.framing)
	return nil
}

func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = false
	return l.closePort()
}

// closePort releases the handle. Callers hold l.mu.
func (l *Link) closePort() error {
	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	return err
}

func (l *Link) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// Send writes one request frame. Stale input is discarded first so the next
// Receive only sees the answer to this request.
func (l *Link) Send(req []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected || l.port == nil {
		return fmt.Errorf("link: not connected")
	}
	l.port.ResetInputBuffer()

	frame := req
	if l.framing == FramingEnvelope {
		frame = wrapEnvelope(req)
	}
	if _, err := l.port.Write(frame); err != nil {
		l.connected = false
		l.closePort()
		return fmt.Errorf("link: write failed: %w", err)
	}
	return nil
}

// Receive reads one reply frame. Silence until the timeout is reported as
// mbe.ErrNoResponse.
func (l *Link) Receive() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected || l.port == nil {
		return nil, fmt.Errorf("link: not connected")
	}
	if l.framing == FramingRaw {
		return readRaw(l.port, l.timeout)
	}
	return readEnvelope(l.port, l.timeout)
}

// drain reads and discards pending data until there is silence for
// drainSilenceMs, or drainTimeout has elapsed.
func (l *Link) drain(label string) {
	l.port.ResetInputBuffer()

	l.port.SetReadTimeout(time.Duration(drainSilenceMs) * time.Millisecond)
	defer l.port.SetReadTimeout(l.timeout)

	total := 0
	deadline := time.Now().Add(drainTimeout)
	buf := make([]byte, 256)
	for time.Now().Before(deadline) {
		n, _ := l.port.Read(buf)
		if n == 0 {
			break
		}
		total += n
	}
	if total > 0 {
		log.Printf("[link] drain(%s) cleared %d bytes", label, total)
	}
}

func wrapEnvelope(payload []byte) []byte {
	env := make([]byte, 2, 2+len(payload)+4)
	binary.BigEndian.PutUint16(env, uint16(len(payload)))
	env = append(env, payload...)
	return binary.BigEndian.AppendUint32(env, crc32.ChecksumIEEE(payload))
}

func readEnvelope(p io.Reader, timeout time.Duration) ([]byte, error) {
	header := make([]byte, 2)
	got, err := readExact(p, header, timeout)
	if got == 0 {
		return nil, mbe.ErrNoResponse
	}
	if err != nil {
		return nil, fmt.Errorf("link: size header: %w", err)
	}
	size := int(binary.BigEndian.Uint16(header))
	if size == 0 || size > maxPayload {
		return nil, fmt.Errorf("link: invalid payload size: %d", size)
	}

	rest := make([]byte, size+4)
	if _, err := readExact(p, rest, timeout); err != nil {
		return nil, fmt.Errorf("link: payload+crc: %w", err)
	}
	payload := rest[:size]
	want := binary.BigEndian.Uint32(rest[size:])
	if calc := crc32.ChecksumIEEE(payload); calc != want {
		return nil, fmt.Errorf("link: CRC mismatch: got 0x%08X, want 0x%08X", calc, want)
	}
	return payload, nil
}

// readRaw collects bytes until a read comes back empty after at least one
// byte arrived, or the timeout passes.
func readRaw(p port, timeout time.Duration) ([]byte, error) {
	p.SetReadTimeout(rawGap)
	defer p.SetReadTimeout(timeout)

	var resp []byte
	buf := make([]byte, 256)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) && len(resp) < maxPayload {
		n, err := p.Read(buf)
		resp = append(resp, buf[:n]...)
		if n == 0 && (len(resp) > 0 || errors.Is(err, io.EOF)) {
			break
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("link: read: %w", err)
		}
	}
	if len(resp) == 0 {
		return nil, mbe.ErrNoResponse
	}
	return resp, nil
}

// readExact reads exactly len(buf) bytes within the deadline and reports how
// many arrived.
func readExact(p io.Reader, buf []byte, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	got := 0
	for got < len(buf) && time.Now().Before(deadline) {
		n, err := p.Read(buf[got:])
		got += n
		if err != nil && n == 0 {
			return got, fmt.Errorf("read error after %d/%d bytes: %w", got, len(buf), err)
		}
	}
	if got < len(buf) {
		return got, fmt.Errorf("incomplete: got %d bytes, want %d", got, len(buf))
	}
	return got, nil
}
