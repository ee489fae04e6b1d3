package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"goa.design/clue/log"

	"goa.design/agentd/runtime/ident"
	"goa.design/agentd/runtime/turn"
)

// chatCmd runs an interactive terminal chat against a running runtime. Each
// line becomes one turn on a CLI channel; assistant deltas print as they
// stream.
func chatCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	var (
		addrF    = fs.String("addr", "http://localhost:8080", "runtime address")
		channelF = fs.String("channel", "cli", "channel identifier")
		agentF   = fs.String("agent", "", "agent identifier (required)")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *agentF == "" {
		return fmt.Errorf("-agent is required")
	}

	if err := createChannel(ctx, *addrF, *channelF, *agentF); err != nil {
		return err
	}
	log.Printf(ctx, "chatting on channel %q as agent %q (ctrl-d to quit)", *channelF, *agentF)

	ids := ident.UUID{}
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := sendMessage(ctx, *addrF, *channelF, ids.NewID(), line); err != nil {
			log.Errorf(ctx, err, "turn failed")
		}
	}
}

func createChannel(ctx context.Context, addr, channelID, agentID string) error {
	body, _ := json.Marshal(map[string]string{"type": "CLI", "agentId": agentID})
	url := fmt.Sprintf("%s/channels/%s/create", addr, channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("create channel: unexpected status %s", resp.Status)
	}
	return nil
}

func sendMessage(ctx context.Context, addr, channelID, turnID, content string) error {
	body, _ := json.Marshal(map[string]string{"turnId": turnID, "content": content})
	url := fmt.Sprintf("%s/channels/%s/messages", addr, channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("send message: unexpected status %s", resp.Status)
	}
	return printSSE(resp.Body)
}

// printSSE renders an SSE turn stream: assistant deltas inline, tool calls
// and failures as annotated lines.
func printSSE(body interface{ Read([]byte) (int, error) }) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var failed error
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event turn.Event
		if err := json.Unmarshal([]byte(line[len("data: "):]), &event); err != nil {
			continue
		}
		switch event.Type {
		case turn.EventAssistantDelta:
			fmt.Print(event.Delta)
		case turn.EventToolCall:
			fmt.Printf("\n[tool %s]\n", event.ToolName)
		case turn.EventTurnCompleted:
			fmt.Println()
		case turn.EventTurnFailed:
			failed = fmt.Errorf("%s: %s", event.ErrorCode, event.Message)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return failed
}
