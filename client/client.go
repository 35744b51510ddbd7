// Package client is a small synchronous client for the broker's line
// protocol. Methods issue one command and read its response; they are not
// safe for concurrent use on the same Client.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

var ErrBadResponse = errors.New("unexpected server response")

// ServerError is an ERR response from the broker. The connection stays
// usable after one.
type ServerError struct {
	Reason string
}

func (e *ServerError) Error() string {
	return "server error: " + e.Reason
}

type Client struct {
	conn net.Conn
	r    *bufio.Reader
}

func Dial(host string, port int) (*Client, error) {
	return DialAddr(net.JoinHostPort(host, strconv.Itoa(port)))
}

func DialAddr(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, r: bufio.NewReader(conn)}, nil
}

// NewFromConn wraps an already established transport.
func NewFromConn(conn net.Conn) *Client {
	return &Client{conn: conn, r: bufio.NewReader(conn)}
}

func (c *Client) send(line string) error {
	_, err := fmt.Fprintf(c.conn, "%s\n", line)
	return err
}

func (c *Client) readLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *Client) expectOK() error {
	line, err := c.readLine()
	if err != nil {
		return err
	}
	if reason, ok := strings.CutPrefix(line, "ERR "); ok {
		return &ServerError{Reason: reason}
	}
	if line != "OK" {
		return fmt.Errorf("%w: %q", ErrBadResponse, line)
	}
	return nil
}

func (c *Client) Ping() error {
	if err := c.send("PING"); err != nil {
		return err
	}
	line, err := c.readLine()
	if err != nil {
		return err
	}
	if line != "PONG" {
		return fmt.Errorf("%w: %q", ErrBadResponse, line)
	}
	return nil
}

func (c *Client) Subscribe(channel string) error {
	if err := c.send("SUB " + channel); err != nil {
		return err
	}
	return c.expectOK()
}

func (c *Client) Unsubscribe(channel string) error {
	if err := c.send("UNSUB " + channel); err != nil {
		return err
	}
	return c.expectOK()
}

// Publish sends a message to a channel and returns the recipient count the
// broker reported.
func (c *Client) Publish(channel, message string) (int, error) {
	if err := c.send("PUB " + channel + " " + message); err != nil {
		return 0, err
	}
	line, err := c.readLine()
	if err != nil {
		return 0, err
	}
	if reason, ok := strings.CutPrefix(line, "ERR "); ok {
		return 0, &ServerError{Reason: reason}
	}
	count, ok := strings.CutPrefix(line, "OK ")
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrBadResponse, line)
	}
	return strconv.Atoi(count)
}

// Send delivers a channel-less message into this connection's own session
// queue on the broker.
func (c *Client) Send(message string) error {
	if err := c.send("SEND " + message); err != nil {
		return err
	}
	return c.expectOK()
}

// Recv pops one pending message. The second return is false when the broker
// answered EMPTY. A literal payload "EMPTY" is indistinguishable from the
// no-message reply; the wire format reserves that word.
func (c *Client) Recv() (string, bool, error) {
	if err := c.send("RECV"); err != nil {
		return "", false, err
	}
	line, err := c.readLine()
	if err != nil {
		return "", false, err
	}
	if line == "EMPTY" {
		return "", false, nil
	}
	if reason, ok := strings.CutPrefix(line, "ERR "); ok {
		return "", false, &ServerError{Reason: reason}
	}
	return line, true, nil
}

// Listen polls for messages until the context is done, invoking the callback
// for each one.
func (c *Client) Listen(ctx context.Context, interval time.Duration, fn func(string)) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for {
				msg, ok, err := c.Recv()
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				fn(msg)
			}
		}
	}
}

// Disconnect asks the broker to drop the connection, then closes it.
func (c *Client) Disconnect() error {
	c.send("DISCONNECT")
	return c.conn.Close()
}

func (c *Client) Close() error {
	return c.conn.Close()
}
