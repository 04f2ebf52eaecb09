// Package main implements gendata, which writes a benchmark dataset where
// the record at key k holds the value k.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	randread "github.com/luhtfiimanal/go-randread"
)

func main() {
	var (
		output   string
		count    uint64
		width    int
		padBlock int
		verify   bool
	)

	flag.StringVar(&output, "output", "", "Dataset file to write")
	flag.Uint64Var(&count, "count", 0, "Number of records")
	flag.IntVar(&width, "width", 8, "Record width in bytes (4 or 8)")
	flag.IntVar(&padBlock, "pad-block", 512, "Round the record count up to whole blocks of this size (0 = no padding)")
	flag.BoolVar(&verify, "verify", false, "Read the dataset back and check every record")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "gendata - write a randread dataset\n\n")
		fmt.Fprintf(os.Stderr, "Usage: gendata --output PATH --count N [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if output == "" || count == 0 {
		flag.Usage()
		os.Exit(2)
	}

	start := time.Now()
	n, err := randread.GenerateDataset(output, count, width, padBlock)
	if err != nil {
		log.Fatalf("gendata: %v", err)
	}
	log.Printf("Wrote %d records (%d bytes) to %s in %v", n, n*uint64(width), output, time.Since(start).Round(time.Millisecond))

	if !verify {
		return
	}
	st, err := randread.OpenPositioned(output, randread.Options{Width: width})
	if err != nil {
		log.Fatalf("gendata: open for verify: %v", err)
	}
	defer st.Close()
	start = time.Now()
	sum, err := randread.Verify(st, n)
	if err != nil {
		log.Fatalf("gendata: verify: %v", err)
	}
	log.Printf("Verified %d records (sum %d) in %v", n, sum, time.Since(start).Round(time.Millisecond))
}
