// Command chatcli is an interactive WebSocket client for poking at a running
// gateway by hand.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

// Client represents a WebSocket client.
type Client struct {
	conn *websocket.Conn
	seq  int
	done chan struct{}
}

// NewClient connects to the gateway with a bearer credential.
func NewClient(addr, token string) (*Client, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(addr, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial: %w (HTTP %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}

	return &Client{
		conn: conn,
		done: make(chan struct{}),
	}, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	close(c.done)
	return c.conn.Close()
}

// Send writes one event, stamping it with a request id.
func (c *Client) Send(event map[string]interface{}) (string, error) {
	c.seq++
	rid := fmt.Sprintf("cli-%d", c.seq)
	event["requestId"] = rid
	event["ts"] = time.Now().UnixMilli()
	return rid, c.conn.WriteJSON(event)
}

// ReadMessages reads and prints messages from the server.
func (c *Client) ReadMessages() {
	for {
		select {
		case <-c.done:
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.Printf("Read error: %v", err)
				}
				return
			}

			var pretty map[string]interface{}
			if err := json.Unmarshal(data, &pretty); err != nil {
				log.Printf("Unmarshal error: %v", err)
				continue
			}
			formatted, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Printf("\n[%v] Received:\n%s\n> ", pretty["type"], string(formatted))
		}
	}
}

// parseCommand turns one input line into an event.
func parseCommand(line string) (map[string]interface{}, error) {
	if strings.HasPrefix(line, "{") {
		var raw map[string]interface{}
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		return raw, nil
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	rest := func(from int) string {
		if len(args) <= from {
			return ""
		}
		return strings.Join(args[from:], " ")
	}
	need := func(n int) error {
		if len(args) < n {
			return fmt.Errorf("%s needs %d argument(s)", cmd, n)
		}
		return nil
	}

	switch cmd {
	case "/join":
		if err := need(1); err != nil {
			return nil, err
		}
		return map[string]interface{}{"type": "join_conversation", "conversationId": args[0]}, nil
	case "/leave":
		if err := need(1); err != nil {
			return nil, err
		}
		return map[string]interface{}{"type": "leave_conversation", "conversationId": args[0]}, nil
	case "/send":
		if err := need(2); err != nil {
			return nil, err
		}
		return map[string]interface{}{"type": "send_message", "conversationId": args[0], "content": rest(1)}, nil
	case "/read":
		if err := need(1); err != nil {
			return nil, err
		}
		return map[string]interface{}{"type": "mark_as_read", "conversationId": args[0]}, nil
	case "/ticket":
		if err := need(2); err != nil {
			return nil, err
		}
		return map[string]interface{}{"type": "ticket_message", "ticketId": args[0], "message": rest(1)}, nil
	case "/assign":
		if err := need(1); err != nil {
			return nil, err
		}
		return map[string]interface{}{"type": "assign_ticket", "ticketId": args[0]}, nil
	case "/agent":
		return map[string]interface{}{"type": "request_agent"}, nil
	case "/say":
		if err := need(2); err != nil {
			return nil, err
		}
		return map[string]interface{}{"type": "customer_send_message", "sessionId": args[0], "message": rest(1)}, nil
	default:
		return nil, fmt.Errorf("unknown command %s", cmd)
	}
}

const help = `Commands:
  /join <conversation>          /leave <conversation>
  /send <conversation> <text>   /read <conversation>
  /ticket <ticket> <text>       /assign <ticket>
  /agent                        /say <session> <text>
  {"type": ...}                 send a raw event
  /quit`

func run(addr, token string) error {
	fmt.Printf("Connecting to %s...\n", addr)

	client, err := NewClient(addr, token)
	if err != nil {
		return err
	}
	defer client.Close()

	fmt.Println("Connected.")
	fmt.Println(help)

	// Start reading messages in background
	go client.ReadMessages()

	// Handle Ctrl+C
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		fmt.Print("> ")
		select {
		case <-interrupt:
			fmt.Println("\nInterrupted")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if line == "/quit" {
				fmt.Println("Bye!")
				return nil
			}

			event, err := parseCommand(line)
			if err != nil {
				fmt.Println(err)
				continue
			}
			rid, err := client.Send(event)
			if err != nil {
				log.Printf("Send error: %v", err)
				continue
			}
			fmt.Printf("sent %v (%s)\n", event["type"], rid)
		}
	}
}

func main() {
	var addr, token string
	root := &cobra.Command{
		Use:   "chatcli",
		Short: "Interactive client for the realtime gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				token = os.Getenv("GATEWAY_TOKEN")
			}
			return run(addr, token)
		},
		SilenceUsage: true,
	}
	root.Flags().StringVar(&addr, "addr", "ws://localhost:8090/ws", "WebSocket server address")
	root.Flags().StringVar(&token, "token", "", "bearer credential (default $GATEWAY_TOKEN)")

	log.SetFlags(log.Ltime)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
