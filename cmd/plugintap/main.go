// plugintap is a command-line plugin: it connects to a running station's
// plugin endpoint, prints every envelope it receives and can push one
// command up the reverse channel.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/lakeshorelabs/groundstation/internal/testclient"
	"github.com/lakeshorelabs/groundstation/internal/wire"
)

func main() {
	addr := flag.String("addr", "localhost:7777", "Plugin endpoint address")
	send := flag.String("send", "", "Command to send up the reverse channel after connecting")
	flag.Parse()

	client, err := testclient.Connect("plugintap", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to connect to %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer client.Close()

	fmt.Printf("Connected to plugin endpoint at %s\n", *addr)
	fmt.Println("Make sure the endpoint is enabled, or the station will drop this connection.")

	if *send != "" {
		if err := client.SendLine(*send); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to send command: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("-> %s\n", *send)
	}

	printed := 0
	printNew := func() {
		messages := client.Messages()
		for _, msg := range messages[printed:] {
			switch msg.Kind {
			case wire.KindFrameBatch:
				for _, payload := range msg.Frames {
					fmt.Printf("frame %s\n", payload)
				}
			case wire.KindRawChunk:
				fmt.Printf("raw   %q\n", msg.Raw)
			}
		}
		printed = len(messages)
	}

	for {
		select {
		case <-client.Done():
			printNew()
			fmt.Println("Connection closed by station")
			return
		case <-time.After(50 * time.Millisecond):
			printNew()
		}
	}
}
