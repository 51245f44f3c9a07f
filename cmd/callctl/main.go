// callctl is a command line client for the meshcall gateway. It connects
// as a user, places or answers calls and prints gateway events, which
// makes it handy for poking at a running node.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

type intent struct {
	Type     string `json:"type"`
	CallID   string `json:"call_id,omitempty"`
	CalleeID string `json:"callee_id,omitempty"`
	CallType string `json:"call_type,omitempty"`
}

type event struct {
	Type    string `json:"type"`
	CallID  string `json:"call_id,omitempty"`
	Intent  string `json:"intent,omitempty"`
	Message string `json:"message,omitempty"`
}

func main() {
	server := flag.String("server", "localhost:8080", "gateway host:port")
	user := flag.String("user", "", "user id to connect as (required)")
	callee := flag.String("call", "", "user id to call")
	callType := flag.String("type", "voice", "call type: voice or video")
	autoAnswer := flag.Bool("answer", false, "answer incoming calls automatically")
	flag.Parse()

	if *user == "" {
		fmt.Fprintln(os.Stderr, "usage: callctl -user <id> [-call <id>] [-answer]")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	u := url.URL{Scheme: "ws", Host: *server, Path: "/ws", RawQuery: "user_id=" + url.QueryEscape(*user)}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect %s: %v\n", u.String(), err)
		os.Exit(1)
	}
	defer conn.Close()
	fmt.Printf("connected as %s\n", *user)

	if *callee != "" {
		msg := intent{Type: "start_call", CalleeID: *callee, CallType: *callType}
		if err := conn.WriteJSON(msg); err != nil {
			fmt.Fprintf(os.Stderr, "start call: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("calling %s (%s)\n", *callee, *callType)
	}

	events := make(chan event)
	go func() {
		defer close(events)
		for {
			var ev event
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			events <- ev
		}
	}()

	for {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(time.Second)
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		case ev, ok := <-events:
			if !ok {
				fmt.Println("connection closed")
				return
			}
			handleEvent(conn, ev, *autoAnswer)
		}
	}
}

func handleEvent(conn *websocket.Conn, ev event, autoAnswer bool) {
	switch ev.Type {
	case "incoming_call":
		fmt.Printf("incoming call %s\n", ev.CallID)
		if autoAnswer {
			if err := conn.WriteJSON(intent{Type: "answer_call", CallID: ev.CallID}); err != nil {
				fmt.Fprintf(os.Stderr, "answer: %v\n", err)
				return
			}
			fmt.Printf("answered %s\n", ev.CallID)
		}
	case "error":
		fmt.Printf("error from gateway (%s): %s\n", ev.Intent, ev.Message)
	default:
		raw, _ := json.Marshal(ev)
		fmt.Printf("event: %s\n", raw)
	}
}
