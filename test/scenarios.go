// Package test is a black-box smoke suite for a running station. It needs
// a live stationd with a device feed behind it (feedsim works) and checks
// the plugin endpoint and control API from the outside, the way a real
// integration would.
package test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Verbose controls whether detailed logging is shown during tests
var Verbose = false

// TestResult represents the result of a test
type TestResult struct {
	Name    string
	Passed  bool
	Message string
}

// logAction logs a test action when verbose mode is enabled
func logAction(testName, action string) {
	if Verbose {
		fmt.Printf("  [%s] %s\n", testName, action)
	}
}

// logResult logs an expected vs actual result when verbose mode is enabled
func logResult(testName string, success bool, detail string) {
	if Verbose {
		status := "OK"
		if !success {
			status = "FAIL"
		}
		fmt.Printf("  [%s] %s: %s\n", testName, status, detail)
	}
}

// =============================================================================
// Test Runner
// =============================================================================

// RunAllTests runs every scenario against the given plugin endpoint.
// Control API scenarios run only when apiAddr is non-empty.
func RunAllTests(pluginAddr, apiAddr string) []TestResult {
	results := make([]TestResult, 0)

	// Group 1: Plugin endpoint
	results = append(results, TestEndpointConnection(pluginAddr))
	results = append(results, TestFrameDelivery(pluginAddr))
	results = append(results, TestMultiplePluginDelivery(pluginAddr))
	results = append(results, TestRawPassthrough(pluginAddr))
	results = append(results, TestReverseChannelAccepted(pluginAddr))

	// Group 2: Control API
	if apiAddr != "" {
		results = append(results, TestStatusReportsConnections(pluginAddr, apiAddr))
		results = append(results, TestDisableDropsPlugins(pluginAddr, apiAddr))
	}

	return results
}

// PrintResults prints a summary of all test results
func PrintResults(results []TestResult) {
	passed := 0
	failed := 0

	fmt.Println("============================================================")
	fmt.Println("Station Smoke Test Results")
	fmt.Println("============================================================")
	fmt.Println()

	for _, r := range results {
		status := "PASS"
		if !r.Passed {
			status = "FAIL"
			failed++
		} else {
			passed++
		}
		fmt.Printf("[%s] %s: %s\n", status, r.Name, r.Message)
	}

	fmt.Println()
	fmt.Println("------------------------------------------------------------")
	fmt.Printf("Total: %d | Passed: %d | Failed: %d\n", len(results), passed, failed)
	fmt.Println("------------------------------------------------------------")
}

// =============================================================================
// Control API Helpers
// =============================================================================

// apiGet fetches a JSON document from the control API.
func apiGet(apiAddr, path string) (map[string]any, error) {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get("http://" + apiAddr + path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s returned status %d", path, resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body, nil
}

// apiSetEnabled flips the endpoint's enabled switch through the control API.
func apiSetEnabled(apiAddr string, enabled bool) error {
	payload, _ := json.Marshal(map[string]bool{"enabled": enabled})

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Post("http://"+apiAddr+"/api/enabled", "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("POST /api/enabled returned status %d", resp.StatusCode)
	}
	return nil
}
