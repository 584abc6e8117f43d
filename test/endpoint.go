package test

import (
	"fmt"
	"time"

	"github.com/lakeshorelabs/groundstation/internal/testclient"
)

// =============================================================================
// Group 1: Plugin Endpoint
// =============================================================================

// TestEndpointConnection checks that a plugin can connect and stay connected
func TestEndpointConnection(pluginAddr string) TestResult {
	const testName = "Endpoint Connection"

	logAction(testName, fmt.Sprintf("Connecting to %s...", pluginAddr))
	client, err := testclient.Connect("smoke-connect", pluginAddr)
	if err != nil {
		return TestResult{Name: testName, Passed: false, Message: fmt.Sprintf("Failed to connect: %v", err)}
	}
	defer client.Close()

	// A disabled endpoint drops fresh connections almost immediately.
	select {
	case <-client.Done():
		return TestResult{Name: testName, Passed: false, Message: "Server dropped the connection; is the endpoint enabled?"}
	case <-time.After(500 * time.Millisecond):
	}

	logResult(testName, true, "Connection held open")
	return TestResult{Name: testName, Passed: true, Message: "Connected and stayed connected"}
}

// TestFrameDelivery checks that buffered frames arrive as batch envelopes
func TestFrameDelivery(pluginAddr string) TestResult {
	const testName = "Frame Delivery"

	client, err := testclient.Connect("smoke-frames", pluginAddr)
	if err != nil {
		return TestResult{Name: testName, Passed: false, Message: fmt.Sprintf("Failed to connect: %v", err)}
	}
	defer client.Close()

	logAction(testName, "Waiting for a frame batch (device feed must be live)...")
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(client.FrameBatches()) > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	batches := client.FrameBatches()
	logResult(testName, len(batches) > 0, fmt.Sprintf("Received %d batches", len(batches)))
	if len(batches) == 0 {
		return TestResult{Name: testName, Passed: false, Message: "No frame batch arrived; is the device feeding frames?"}
	}
	if len(batches[0]) == 0 {
		return TestResult{Name: testName, Passed: false, Message: "Batch envelope arrived with no frames in it"}
	}

	return TestResult{Name: testName, Passed: true, Message: fmt.Sprintf("Received %d batches (first holds %d frames)", len(batches), len(batches[0]))}
}

// TestMultiplePluginDelivery checks that every connected plugin receives broadcasts
func TestMultiplePluginDelivery(pluginAddr string) TestResult {
	const testName = "Multiple Plugin Delivery"

	logAction(testName, "Connecting 3 plugins...")
	clients := make([]*testclient.Client, 0, 3)
	for i := 0; i < 3; i++ {
		client, err := testclient.Connect(fmt.Sprintf("smoke-multi-%d", i), pluginAddr)
		if err != nil {
			return TestResult{Name: testName, Passed: false, Message: fmt.Sprintf("Failed to connect plugin %d: %v", i, err)}
		}
		defer client.Close()
		clients = append(clients, client)
	}

	for i, client := range clients {
		if !client.WaitForMessages(1, 5*time.Second) {
			return TestResult{Name: testName, Passed: false, Message: fmt.Sprintf("Plugin %d never received a broadcast", i)}
		}
		logResult(testName, true, fmt.Sprintf("Plugin %d received %d envelopes", i, len(client.Messages())))
	}

	return TestResult{Name: testName, Passed: true, Message: "All 3 plugins received broadcasts"}
}

// TestRawPassthrough checks that raw device bytes arrive as passthrough envelopes
func TestRawPassthrough(pluginAddr string) TestResult {
	const testName = "Raw Passthrough"

	client, err := testclient.Connect("smoke-raw", pluginAddr)
	if err != nil {
		return TestResult{Name: testName, Passed: false, Message: fmt.Sprintf("Failed to connect: %v", err)}
	}
	defer client.Close()

	logAction(testName, "Waiting for raw chunks...")
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(client.RawChunks()) > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	chunks := client.RawChunks()
	logResult(testName, len(chunks) > 0, fmt.Sprintf("Received %d raw chunks", len(chunks)))
	if len(chunks) == 0 {
		return TestResult{Name: testName, Passed: false, Message: "No raw chunk arrived; is the device feeding data?"}
	}

	return TestResult{Name: testName, Passed: true, Message: fmt.Sprintf("Received %d raw chunks", len(chunks))}
}

// TestReverseChannelAccepted checks that sending a command does not cost the connection
func TestReverseChannelAccepted(pluginAddr string) TestResult {
	const testName = "Reverse Channel"

	client, err := testclient.Connect("smoke-reverse", pluginAddr)
	if err != nil {
		return TestResult{Name: testName, Passed: false, Message: fmt.Sprintf("Failed to connect: %v", err)}
	}
	defer client.Close()

	logAction(testName, "Sending a command up the reverse channel...")
	if err := client.SendLine("smoke-test-command"); err != nil {
		return TestResult{Name: testName, Passed: false, Message: fmt.Sprintf("Failed to send command: %v", err)}
	}

	select {
	case <-client.Done():
		return TestResult{Name: testName, Passed: false, Message: "Server dropped the connection after a reverse-channel write"}
	case <-time.After(500 * time.Millisecond):
	}

	if !client.WaitForMessages(1, 5*time.Second) {
		return TestResult{Name: testName, Passed: false, Message: "No broadcasts after a reverse-channel write"}
	}

	logResult(testName, true, "Connection survived and broadcasts kept flowing")
	return TestResult{Name: testName, Passed: true, Message: "Command accepted without losing the connection"}
}
