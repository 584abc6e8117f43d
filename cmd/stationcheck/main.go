package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/lakeshorelabs/groundstation/test"
)

func main() {
	pluginAddr := flag.String("addr", "localhost:7777", "Plugin endpoint address")
	apiAddr := flag.String("api", "127.0.0.1:7780", "Control API address (empty to skip API scenarios)")
	verbose := flag.Bool("v", false, "Verbose output - show detailed actions for each test")
	flag.Parse()

	// Set verbose mode
	test.Verbose = *verbose

	fmt.Printf("Running smoke tests against %s\n", *pluginAddr)
	fmt.Println("Make sure stationd is running with a live device feed (feedsim works)!")
	if *verbose {
		fmt.Println("Verbose mode enabled - showing detailed test actions")
	}
	fmt.Println()

	results := test.RunAllTests(*pluginAddr, *apiAddr)
	test.PrintResults(results)

	// Exit with error code if any tests failed
	for _, result := range results {
		if !result.Passed {
			os.Exit(1)
		}
	}
}
