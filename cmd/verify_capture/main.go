package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"

	"pose-engine/binlog"
	"pose-engine/server"
)

func readDatagrams(path string) ([]binlog.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return binlog.ReadAll(f, binlog.FlagDatagram)
}

func summarize(name string, recs []binlog.Record) {
	var wheels, ranges, dropped int
	for _, r := range recs {
		samples, d := server.ParseDatagram(r.Data)
		dropped += d
		for _, s := range samples {
			if s.Kind == server.RangeKind {
				ranges++
			} else {
				wheels++
			}
		}
	}
	fmt.Printf("%s: %d datagrams, %d wheel frames, %d range frames, %d undecodable\n",
		name, len(recs), wheels, ranges, dropped)
}

func main() {
	file1 := flag.String("1", "", "Original capture")
	file2 := flag.String("2", "", "Second capture to compare (optional)")
	flag.Parse()

	if *file1 == "" {
		log.Fatal("Usage: verify_capture -1 <original> [-2 <replayed>]")
	}

	recs1, err := readDatagrams(*file1)
	if err != nil {
		log.Fatalf("Error reading %s: %v", *file1, err)
	}
	summarize(*file1, recs1)
	if *file2 == "" {
		return
	}

	recs2, err := readDatagrams(*file2)
	if err != nil {
		log.Fatalf("Error reading %s: %v", *file2, err)
	}
	summarize(*file2, recs2)

	mismatches := 0
	for i := 0; i < min(len(recs1), len(recs2)); i++ {
		if !bytes.Equal(recs1[i].Data, recs2[i].Data) {
			fmt.Printf("Mismatch at datagram %d: len1=%d len2=%d\n", i, len(recs1[i].Data), len(recs2[i].Data))
			mismatches++
			if mismatches > 10 {
				fmt.Println("Too many mismatches, stopping.")
				break
			}
		}
	}
	if len(recs1) != len(recs2) {
		fmt.Printf("Count mismatch: %d vs %d\n", len(recs1), len(recs2))
		mismatches++
	}

	if mismatches == 0 {
		fmt.Println("SUCCESS: All payloads match.")
	} else {
		fmt.Println("FAILURE: Mismatches found.")
		os.Exit(1)
	}
}
