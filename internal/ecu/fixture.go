package ecu

import (
	"encoding/hex"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/shaunagostinho/mbe-dash/internal/mbe"
)

// Pair is one captured request and the controller's reply, hex encoded.
type Pair struct {
	Request  string `yaml:"request" json:"request"`
	Response string `yaml:"response" json:"response"`
}

// FixtureFile is the on-disk layout of a fixture.
type FixtureFile struct {
	// Strict makes requests the captures cannot answer return no response
	// instead of zero bytes.
	Strict bool   `yaml:"strict" json:"strict"`
	Pairs  []Pair `yaml:"pairs" json:"pairs"`
}

// DefaultPairs were captured from a running car.
func DefaultPairs() []Pair {
	return []Pair{
		{"0100000000f83031363744454c4d4e4f50515a5b5c5d646a6b7c7d9e9fa0a1d8d9dadb", "81bc5c9d45fe548a4e7085bc5c7417f2799eb04fc409e8af8e0500800080"},
		{"0100000000f9babbbcbd", "81781edc1e"},
		{"0100000000fa64656c", "81482458"},
		{"0100000000fd202425264042434d", "81a900000180b00040"},
		{"0100000000126667a8a9", "81746b1600"},
		{"01000000001a525c5d", "81846e12"},
		{"0100000000e2cccdcecf", "81ffffff07"},
	}
}

// Fixture answers requests from captured traffic. An exact request match
// replays its response. Anything else is assembled byte by byte from a page
// image built out of every capture.
type Fixture struct {
	mu        sync.Mutex
	exact     map[string][]byte
	image     map[uint8]map[uint8]byte
	strict    bool
	pending   []byte
	hasReq    bool
	connected bool
}

// NewFixture indexes pairs. Every pair must hold a well formed request and
// a response with one byte per requested offset.
func NewFixture(pairs []Pair, strict bool) (*Fixture, error) {
	f := &Fixture{
		exact:  make(map[string][]byte),
		image:  make(map[uint8]map[uint8]byte),
		strict: strict,
	}
	for i, p := range pairs {
		req, err := hex.DecodeString(p.Request)
		if err != nil {
			return nil, fmt.Errorf("fixture: pair %d request: %w", i, err)
		}
		resp, err := hex.DecodeString(p.Response)
		if err != nil {
			return nil, fmt.Errorf("fixture: pair %d response: %w", i, err)
		}
		page, offsets, err := mbe.SplitRequest(req)
		if err != nil {
			return nil, fmt.Errorf("fixture: pair %d: %w", i, err)
		}
		if len(resp) != len(offsets)+1 || resp[0] != mbe.ResponseMarker {
			return nil, fmt.Errorf("fixture: pair %d: %w: %d bytes for %d offsets",
				i, mbe.ErrMalformedResponse, len(resp), len(offsets))
		}

		f.exact[hex.EncodeToString(req)] = resp
		img, ok := f.image[page]
		if !ok {
			img = make(map[uint8]byte)
			f.image[page] = img
		}
		for j, off := range offsets {
			img[off] = resp[j+1]
		}
	}
	return f, nil
}

// ReadPairs loads a FixtureFile from YAML.
func ReadPairs(path string) (*FixtureFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ff FixtureFile
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("fixture: parse %s: %w", path, err)
	}
	return &ff, nil
}

// LoadFixture builds a Fixture from a YAML file, or from DefaultPairs when
// path is empty.
func LoadFixture(path string) (*Fixture, error) {
	if path == "" {
		return NewFixture(DefaultPairs(), false)
	}
	ff, err := ReadPairs(path)
	if err != nil {
		return nil, err
	}
	return NewFixture(ff.Pairs, ff.Strict)
}

func (f *Fixture) Name() string { return "Fixture (Captured)" }

func (f *Fixture) Connect() error {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *Fixture) Close() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *Fixture) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *Fixture) Send(req []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending[:0], req...)
	f.hasReq = true
	return nil
}

// Receive answers the last request sent. Each request is answered once.
func (f *Fixture) Receive() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasReq {
		return nil, mbe.ErrNoResponse
	}
	f.hasReq = false

	if resp, ok := f.exact[hex.EncodeToString(f.pending)]; ok {
		return append([]byte(nil), resp...), nil
	}

	page, offsets, err := mbe.SplitRequest(f.pending)
	if err != nil {
		return nil, mbe.ErrNoResponse
	}
	img := f.image[page]
	resp := make([]byte, 0, len(offsets)+1)
	resp = append(resp, mbe.ResponseMarker)
	for _, off := range offsets {
		b, ok := img[off]
		if !ok && f.strict {
			return nil, fmt.Errorf("%w: page 0x%02x offset 0x%02x not captured", mbe.ErrNoResponse, page, off)
		}
		resp = append(resp, b)
	}
	return resp, nil
}
