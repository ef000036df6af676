// Package main provides a terminal chat client for the research assistant WebSocket endpoint.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/banminseok/assistantAPI/internal/domain"
	"github.com/banminseok/assistantAPI/internal/transport/ws/protocol"
)

// frame is the union of the server message fields the client renders.
type frame struct {
	protocol.BaseMessage
	Role     domain.Role      `json:"role"`
	Text     string           `json:"text"`
	Code     string           `json:"code"`
	Message  string           `json:"message"`
	Messages []domain.Message `json:"messages"`
}

// Client represents a WebSocket client.
type Client struct {
	conn      *websocket.Conn
	out       io.Writer
	sessionID string
	done      chan struct{}

	mu      sync.Mutex
	role    domain.Role
	printed int
	idle    chan struct{}
}

// NewClient creates a new client and connects to the server.
func NewClient(addr string, out io.Writer) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	return &Client{
		conn: conn,
		out:  out,
		done: make(chan struct{}),
		idle: make(chan struct{}, 1),
	}, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	close(c.done)
	return c.conn.Close()
}

// SendHello sends a hello message and waits for hello_ack.
func (c *Client) SendHello(sessionID, apiKey string) error {
	msg := protocol.HelloMessage{
		BaseMessage: protocol.BaseMessage{
			Type:      protocol.TypeHello,
			Ts:        time.Now().UnixMilli(),
			SessionID: sessionID,
		},
		APIKey: apiKey,
	}

	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write hello: %w", err)
	}

	var f frame
	if err := c.conn.ReadJSON(&f); err != nil {
		return fmt.Errorf("read hello_ack: %w", err)
	}
	if f.Type == protocol.TypeError {
		return fmt.Errorf("hello failed: %s - %s", f.Code, f.Message)
	}
	if f.Type != protocol.TypeHelloAck {
		return fmt.Errorf("expected hello_ack, got: %s", f.Type)
	}

	c.sessionID = f.SessionID
	return nil
}

// SendUserMessage sends one query.
func (c *Client) SendUserMessage(content string) error {
	msg := protocol.UserMessage{
		BaseMessage: protocol.BaseMessage{
			Type:      protocol.TypeUserMessage,
			Ts:        time.Now().UnixMilli(),
			SessionID: c.sessionID,
			RequestID: fmt.Sprintf("req_%d", time.Now().UnixNano()),
		},
		Content: content,
	}
	return c.conn.WriteJSON(msg)
}

// ReadMessages reads and renders messages from the server until the
// connection closes.
func (c *Client) ReadMessages() {
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			select {
			case <-c.done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					fmt.Fprintf(c.out, "\nread error: %v\n", err)
				}
			}
			c.signalIdle()
			return
		}
		c.render(f)
	}
}

func (c *Client) render(f frame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch f.Type {
	case protocol.TypeHistory:
		for _, m := range f.Messages {
			fmt.Fprintf(c.out, "[%s] %s\n", m.Role, m.Content)
		}
		c.signalIdle()
	case protocol.TypeMessageStarted:
		// The server echoes the user's own message; the terminal already shows it.
		c.printed = 0
		c.role = f.Role
		if f.Role == domain.RoleAssistant {
			fmt.Fprintf(c.out, "[%s] ", f.Role)
		}
	case protocol.TypeDelta:
		if c.role != domain.RoleAssistant {
			return
		}
		// Deltas carry the full text so far.
		if c.printed <= len(f.Text) {
			fmt.Fprint(c.out, f.Text[c.printed:])
		} else {
			fmt.Fprint(c.out, "\n", f.Text)
		}
		c.printed = len(f.Text)
	case protocol.TypeDone:
		fmt.Fprintln(c.out)
		c.signalIdle()
	case protocol.TypeWarning:
		fmt.Fprintf(c.out, "warning: %s\n", f.Message)
		c.signalIdle()
	case protocol.TypeError:
		fmt.Fprintf(c.out, "\nerror (%s): %s\n", f.Code, f.Message)
		c.signalIdle()
	}
}

func (c *Client) signalIdle() {
	select {
	case c.idle <- struct{}{}:
	default:
	}
}

func (c *Client) drainIdle() {
	select {
	case <-c.idle:
	default:
	}
}

// Wait blocks until the last request finished or timeout elapses.
func (c *Client) Wait(timeout time.Duration) {
	select {
	case <-c.idle:
	case <-time.After(timeout):
	}
}

func buildRootCmd() *cobra.Command {
	var (
		addr      string
		apiKey    string
		sessionID string
	)
	cmd := &cobra.Command{
		Use:   "research-cli",
		Short: "Chat with the research assistant from a terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, addr, apiKey, sessionID)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "ws://localhost:8080/ws", "WebSocket server address")
	cmd.Flags().StringVar(&apiKey, "api-key", os.Getenv("OPENAI_API_KEY"), "OpenAI API key")
	cmd.Flags().StringVar(&sessionID, "session", "", "Host session ID to resume")
	return cmd
}

func runChat(cmd *cobra.Command, addr, apiKey, sessionID string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Connecting to %s...\n", addr)

	client, err := NewClient(addr, out)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.SendHello(sessionID, apiKey); err != nil {
		return err
	}
	fmt.Fprintf(out, "Session: %s\n", client.sessionID)

	go client.ReadMessages()
	client.Wait(30 * time.Second)

	fmt.Fprintln(out, "\nType a message and press Enter to send. /quit to exit.")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Fprint(out, "> ")
		select {
		case <-interrupt:
			fmt.Fprintln(out, "\nInterrupted")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			input := strings.TrimSpace(line)
			if input == "" {
				continue
			}
			if input == "/quit" {
				fmt.Fprintln(out, "Bye!")
				return nil
			}
			client.drainIdle()
			if err := client.SendUserMessage(input); err != nil {
				return fmt.Errorf("send: %w", err)
			}
			client.Wait(5 * time.Minute)
		}
	}
}

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
