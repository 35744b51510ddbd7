// Command client is the line-protocol front-end for the broker: one-shot
// flags for each verb plus an interactive command loop.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"pubsubd/client"
)

type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, ",")
}

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	var (
		host        = flag.String("host", "localhost", "server host")
		port        = flag.Int("port", 7878, "server port")
		ping        = flag.Bool("ping", false, "ping the server")
		channel     = flag.String("channel", "", "channel to publish the message on")
		message     = flag.String("msg", "", "message to send")
		recv        = flag.Bool("recv", false, "receive one pending message")
		listen      = flag.Bool("listen", false, "poll for messages until interrupted")
		interactive = flag.Bool("i", false, "interactive command loop")
		subs        stringList
		unsubs      stringList
	)
	flag.Var(&subs, "sub", "channel to subscribe to (repeatable)")
	flag.Var(&unsubs, "unsub", "channel to unsubscribe from (repeatable)")
	flag.Parse()

	if *channel != "" && *message == "" {
		fmt.Fprintln(os.Stderr, "a channel requires a message (-msg)")
		os.Exit(2)
	}

	c, err := client.Dial(*host, *port)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connection failed: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	if *ping {
		if err := c.Ping(); err != nil {
			fmt.Fprintf(os.Stderr, "ping failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("PONG")
	}

	for _, ch := range subs {
		if err := c.Subscribe(ch); err != nil {
			fmt.Fprintf(os.Stderr, "subscribe %s failed: %v\n", ch, err)
			os.Exit(1)
		}
	}
	for _, ch := range unsubs {
		if err := c.Unsubscribe(ch); err != nil {
			fmt.Fprintf(os.Stderr, "unsubscribe %s failed: %v\n", ch, err)
			os.Exit(1)
		}
	}

	if *message != "" {
		if *channel != "" {
			n, err := c.Publish(*channel, *message)
			if err != nil {
				fmt.Fprintf(os.Stderr, "publish failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("delivered to %d subscriber(s)\n", n)
		} else {
			if err := c.Send(*message); err != nil {
				fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
				os.Exit(1)
			}
		}
	}

	if *recv {
		msg, ok, err := c.Recv()
		if err != nil {
			fmt.Fprintf(os.Stderr, "recv failed: %v\n", err)
			os.Exit(1)
		}
		if ok {
			fmt.Println(msg)
		} else {
			fmt.Println("EMPTY")
		}
	}

	if *listen {
		err := c.Listen(context.Background(), 200*time.Millisecond, func(msg string) {
			fmt.Println(msg)
		})
		if err != nil && err != context.Canceled {
			fmt.Fprintf(os.Stderr, "listen failed: %v\n", err)
			os.Exit(1)
		}
	}

	if *interactive {
		if err := repl(c); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
	}
}

// repl translates each input line into one protocol call. Session state is
// the single connection.
func repl(c *client.Client) error {
	fmt.Println("commands: ping | sub <ch> | unsub <ch> | pub <ch> <msg> | send <msg> | recv | quit")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		verb, rest, _ := strings.Cut(line, " ")

		switch strings.ToLower(verb) {
		case "ping":
			if err := c.Ping(); err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Println("PONG")
		case "sub":
			report(c.Subscribe(rest))
		case "unsub":
			report(c.Unsubscribe(rest))
		case "pub":
			ch, msg, ok := strings.Cut(rest, " ")
			if !ok {
				fmt.Println("usage: pub <channel> <message>")
				continue
			}
			n, err := c.Publish(ch, msg)
			if err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Printf("OK %d\n", n)
		case "send":
			report(c.Send(rest))
		case "recv":
			msg, ok, err := c.Recv()
			if err != nil {
				fmt.Println(err)
				continue
			}
			if ok {
				fmt.Println(msg)
			} else {
				fmt.Println("EMPTY")
			}
		case "quit", "exit":
			return c.Disconnect()
		default:
			fmt.Printf("unknown command: %s\n", verb)
		}
	}
}

func report(err error) {
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println("OK")
}
