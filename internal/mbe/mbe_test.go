package mbe

import (
	"encoding/hex"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/mbe-dash/internal/ec2"
)

// Captured request/response pairs from a running car.
var samplePairs = map[string]string{
	"0100000000f83031363744454c4d4e4f50515a5b5c5d646a6b7c7d9e9fa0a1d8d9dadb": "81bc5c9d45fe548a4e7085bc5c7417f2799eb04fc409e8af8e0500800080",
	"0100000000f9babbbcbd":         "81781edc1e",
	"0100000000fa64656c":           "81482458",
	"0100000000fd202425264042434d": "81a900000180b00040",
	"0100000000126667a8a9":         "81746b1600",
	"01000000001a525c5d":           "81846e12",
	"0100000000e2cccdcecf":         "81ffffff07",
}

func sampleCatalog(t *testing.T) *Catalog {
	t.Helper()
	defs, err := ec2.Load("testdata/sample.ec2")
	require.NoError(t, err)
	cat, err := NewCatalog(defs)
	require.NoError(t, err)
	return cat
}

const docTemplate = `[PARAMETER PROTOTYPES]
[end PARAMETER PROTOTYPES]
[NUMERIC SCALES]
[SCALE_RAW]
Units = counts
Scale Minimum = 0
Scale Maximum = 65535
[SCALE_TEMP]
Units = C
Scale Minimum = -40
Scale Maximum = 215
[end NUMERIC SCALES]
[PARAMETER DEFINITIONS]
%s[end PARAMETER DEFINITIONS]
`

func varBlock(name string, page uint8, addr uint16, bytes int, scale string) string {
	return fmt.Sprintf("[%s]\nPage = %02X\nAddress = %04X\nBytes per Cell = %d\n0 = %s\n", name, page, addr, bytes, scale)
}

func parseDoc(t *testing.T, blocks ...string) *ec2.Definitions {
	t.Helper()
	defs, err := ec2.Parse(strings.NewReader(fmt.Sprintf(docTemplate, strings.Join(blocks, ""))), "test.ec2")
	require.NoError(t, err)
	return defs
}

func catalogOf(t *testing.T, blocks ...string) *Catalog {
	t.Helper()
	cat, err := NewCatalog(parseDoc(t, blocks...))
	require.NoError(t, err)
	return cat
}

func unhex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

type fakeTransport struct {
	pairs   map[string]string
	sent    []string
	last    string
	sendErr error
}

func (f *fakeTransport) Send(req []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.last = hex.EncodeToString(req)
	f.sent = append(f.sent, f.last)
	return nil
}

func (f *fakeTransport) Receive() ([]byte, error) {
	resp, ok := f.pairs[f.last]
	if !ok {
		return nil, ErrNoResponse
	}
	return hex.DecodeString(resp)
}
