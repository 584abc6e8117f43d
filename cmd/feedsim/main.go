// feedsim pretends to be a telemetry device. It listens for the station's
// device link, emits one JSON frame per interval and prints any commands
// the station forwards from its plugins.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net"
	"sync/atomic"
	"time"
)

// telemetry is one simulated sensor reading.
type telemetry struct {
	Seq   uint64  `json:"seq"`
	Time  int64   `json:"t"`
	Volts float64 `json:"volts"`
	RSSI  int     `json:"rssi"`
	AltM  float64 `json:"alt_m"`
}

func main() {
	listen := flag.String("listen", ":9000", "Address to listen on for the station's device link")
	interval := flag.Duration("interval", 100*time.Millisecond, "Delay between frames")
	flag.Parse()

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		log.Fatalf("Failed to listen on %s: %v", *listen, err)
	}
	defer ln.Close()

	fmt.Printf("Simulated telemetry feed listening on %s (one frame every %s)\n", ln.Addr(), *interval)
	fmt.Println("Start feedsim before stationd and point the device address here.")

	var seq atomic.Uint64
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		fmt.Printf("Station connected from %s\n", conn.RemoteAddr())
		go serve(conn, *interval, &seq)
	}
}

func serve(conn net.Conn, interval time.Duration, seq *atomic.Uint64) {
	defer conn.Close()

	// Print anything the station writes back (plugin commands).
	go func() {
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			fmt.Printf("<- command: %s\n", scanner.Text())
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
	for now := range ticker.C {
		elapsed := now.Sub(start).Seconds()
		reading := telemetry{
			Seq:   seq.Add(1),
			Time:  now.UnixMilli(),
			Volts: 3.3 + 0.2*math.Sin(elapsed/3),
			RSSI:  -60 - rand.Intn(20),
			AltM:  120 + 40*math.Sin(elapsed/10) + rand.Float64(),
		}

		line, err := json.Marshal(reading)
		if err != nil {
			continue
		}
		line = append(line, '\n')

		if _, err := conn.Write(line); err != nil {
			fmt.Printf("Station disconnected: %v\n", err)
			return
		}
	}
}
