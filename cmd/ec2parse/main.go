// Command ec2parse converts an EC2 definition file into JSON, CSV or YAML.
// The output format follows the output file extension.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/shaunagostinho/mbe-dash/internal/ec2"
)

func main() {
	input := flag.String("i", "", "Input .ec2 file")
	output := flag.String("o", "", "Output file (.json, .csv or .yaml); stdout JSON when empty")
	list := flag.Bool("l", false, "Only list variable names in file order")
	flag.Parse()

	log.SetFlags(0)
	if *input == "" {
		flag.Usage()
		os.Exit(2)
	}

	defs, err := ec2.Load(*input)
	if err != nil {
		log.Fatalf("[ec2parse] %v", err)
	}

	if *list {
		for _, name := range defs.Names() {
			fmt.Println(name)
		}
		return
	}

	write, err := writerFor(*output)
	if err != nil {
		log.Fatalf("[ec2parse] %v", err)
	}

	var w io.Writer = os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			log.Fatalf("[ec2parse] %v", err)
		}
		defer f.Close()
		w = f
	}

	if err := write(w, defs); err != nil {
		log.Fatalf("[ec2parse] write %s: %v", *output, err)
	}
	log.Printf("[ec2parse] %d variables, %d scales", len(defs.Variables), len(defs.Scales))
}

func writerFor(path string) (func(io.Writer, *ec2.Definitions) error, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case "", ".json":
		return ec2.WriteJSON, nil
	case ".csv":
		return ec2.WriteCSV, nil
	case ".yaml", ".yml":
		return ec2.WriteYAML, nil
	default:
		return nil, fmt.Errorf("unsupported output format %q", ext)
	}
}
