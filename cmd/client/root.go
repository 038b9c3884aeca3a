package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

const maxDatagram = 64 * 1024

type options struct {
	name   string
	secret string
	linger time.Duration
}

func newRootCmd(stdin io.Reader) *cobra.Command {
	var opts options

	rootCmd := &cobra.Command{
		Use:           "gochat-client <server-addr>",
		Short:         "Send stdin lines to the chat server and print its replies",
		Long:          "gochat-client sends every line read from stdin as one datagram to the server and prints every datagram it receives. With --name and --secret it logs in first.",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (opts.name == "") != (opts.secret == "") {
				return errors.New("--name and --secret must be given together")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, args[0], opts, stdin, cmd.OutOrStdout())
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&opts.name, "name", "", "account name to log in with")
	flags.StringVar(&opts.secret, "secret", "", "account secret")
	flags.DurationVar(&opts.linger, "linger", time.Second, "how long to keep printing replies after stdin ends")
	return rootCmd
}

func run(ctx context.Context, addr string, opts options, in io.Reader, out io.Writer) error {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		receive(conn, out)
	}()
	defer func() {
		_ = conn.Close()
		wg.Wait()
	}()

	if opts.name != "" {
		if err := send(conn, "login "+opts.name+" "+opts.secret); err != nil {
			return err
		}
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				if err := <-readErr; err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				return linger(ctx, opts.linger)
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := send(conn, line); err != nil {
				return err
			}
		}
	}
}

func send(conn *net.UDPConn, line string) error {
	if _, err := conn.Write([]byte(line)); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// receive prints datagrams until conn is closed.
func receive(conn *net.UDPConn, out io.Writer) {
	buf := make([]byte, maxDatagram)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			// A refused datagram (no server yet) surfaces as a read error on
			// connected UDP sockets; keep listening.
			continue
		}
		_, _ = fmt.Fprintln(out, string(buf[:n]))
	}
}

func linger(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
	return nil
}
