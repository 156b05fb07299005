// Command mbedecode prints the field layout and decoded values of captured
// request/response pairs. Pairs come from a fixture YAML file, or from the
// built-in captures when none is given.
package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/shaunagostinho/mbe-dash/internal/ec2"
	"github.com/shaunagostinho/mbe-dash/internal/ecu"
	"github.com/shaunagostinho/mbe-dash/internal/mbe"
)

func main() {
	defsPath := flag.String("v", "", "Variable definitions (.ec2 or .json)")
	pairsPath := flag.String("p", "", "Fixture YAML with request/response pairs")
	flag.Parse()

	log.SetFlags(0)
	if *defsPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	defs, err := ec2.LoadFile(*defsPath)
	if err != nil {
		log.Fatalf("[mbedecode] %v", err)
	}
	cat, err := mbe.NewCatalog(defs)
	if err != nil {
		log.Fatalf("[mbedecode] %v", err)
	}

	pairs := ecu.DefaultPairs()
	if *pairsPath != "" {
		ff, err := ecu.ReadPairs(*pairsPath)
		if err != nil {
			log.Fatalf("[mbedecode] %v", err)
		}
		pairs = ff.Pairs
	}

	failed := 0
	for i, p := range pairs {
		if err := decodePair(os.Stdout, cat, i+1, p); err != nil {
			log.Printf("[mbedecode] pair %d: %v", i+1, err)
			failed++
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// decodePair writes one block per pair: a header line and one line per field.
// A truncated response still prints the fields that fit.
func decodePair(w io.Writer, cat *mbe.Catalog, n int, p ecu.Pair) error {
	req, err := hex.DecodeString(p.Request)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	resp, err := hex.DecodeString(p.Response)
	if err != nil {
		return fmt.Errorf("response: %w", err)
	}

	ex, err := cat.Interpret(req, resp)
	if err != nil && !errors.Is(err, mbe.ErrTruncatedResponse) {
		return err
	}

	fmt.Fprintf(w, "#[%d]# page 0x%02x, %d fields\n", n, ex.Page, len(ex.Fields))
	for _, f := range ex.Fields {
		if !f.Mapped {
			fmt.Fprintf(w, "  %s@0x%02x: 0x%0*x\n", f.Name, f.Offset, f.Bytes*2, f.Raw)
			continue
		}
		desc := ""
		if v, lerr := cat.Lookup(f.Name); lerr == nil {
			desc = v.ShortDesc
		}
		fmt.Fprintf(w, "  %s=%.5g %s (%s) [0x%0*x=%d]\n", f.Name, f.Value, f.Units, desc, f.Bytes*2, f.Raw, f.Raw)
	}
	return err
}
