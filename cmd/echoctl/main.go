// Package main implements echoctl, the command-line control tool for
// an echod gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/c360/echopipe/client"
	"github.com/c360/echopipe/pipe"
	"github.com/c360/echopipe/pkg/retry"
)

const appName = "echoctl"

func usage() {
	_, _ = fmt.Fprintf(os.Stderr, `Usage:
  %[1]s clear
  %[1]s events [-rwW]
  %[1]s poll [-rwW]
  %[1]s read [-b] [-m max]
  %[1]s resize <size>
  %[1]s size
  %[1]s write [-b] <data>
  %[1]s writer open
  %[1]s writer close <token>

The gateway URL comes from ECHOPIPE_URL (default http://localhost:8080).
`, appName)
	os.Exit(1)
}

func gatewayURL() string {
	if url := os.Getenv("ECHOPIPE_URL"); url != "" {
		return url
	}
	return "http://localhost:8080"
}

// newClient builds a single-attempt client: every failure, transport
// included, surfaces immediately instead of being retried.
func newClient() *client.Client {
	c, err := client.New(gatewayURL(), client.WithRetryConfig(retry.Config{MaxAttempts: 1}))
	if err != nil {
		fatal("invalid gateway URL: %v", err)
	}
	return c
}

func fatal(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, appName+": "+format+"\n", args...)
	os.Exit(1)
}

// dirFlags parses the -r/-w selection shared by poll and events.
// Neither flag set means both directions.
func dirFlags(readable, writable bool) string {
	switch {
	case readable && !writable:
		return "r"
	case writable && !readable:
		return "w"
	default:
		return "rw"
	}
}

func cmdSize(args []string) {
	if len(args) != 0 {
		usage()
	}
	size, err := newClient().GetSize(context.Background())
	if err != nil {
		fatal("get size: %v", err)
	}
	fmt.Println(size)
}

func cmdResize(args []string) {
	if len(args) != 1 {
		usage()
	}
	size, err := strconv.Atoi(args[0])
	if err != nil || size < 0 {
		fatal("new size is invalid: %q", args[0])
	}
	if err := newClient().SetSize(context.Background(), size); err != nil {
		fatal("resize: %v", err)
	}
}

func cmdClear(args []string) {
	if len(args) != 0 {
		usage()
	}
	if err := newClient().Clear(context.Background()); err != nil {
		fatal("clear: %v", err)
	}
}

func cmdPoll(args []string) {
	fs := flag.NewFlagSet("poll", flag.ExitOnError)
	readable := fs.Bool("r", false, "check read readiness")
	writable := fs.Bool("w", false, "check write readiness")
	wait := fs.Bool("W", false, "wait until ready instead of returning immediately")
	_ = fs.Parse(args)
	if fs.NArg() != 0 {
		usage()
	}

	dir := dirFlags(*readable, *writable)
	st, err := newClient().Status(context.Background(), dir, *wait)
	if err != nil {
		fatal("poll: %v", err)
	}

	fmt.Print("Returned events:")
	if st.Readable {
		fmt.Print(" readable")
	}
	if st.Writable {
		fmt.Print(" writable")
	}
	if st.EOF {
		fmt.Print(" eof")
	}
	if !st.Readable && !st.Writable && !st.EOF {
		fmt.Print(" none")
	}
	fmt.Println()

	if dir != "w" {
		fmt.Printf("%d bytes available to read\n", st.Buffered)
	}
	if dir != "r" {
		fmt.Printf("room to write %d bytes\n", st.Space)
	}
}

func cmdEvents(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	readable := fs.Bool("r", false, "watch read readiness")
	writable := fs.Bool("w", false, "watch write readiness")
	wait := fs.Bool("W", false, "keep streaming instead of reporting the current state")
	_ = fs.Parse(args)
	if fs.NArg() != 0 {
		usage()
	}

	var dirs []pipe.Direction
	if *readable || !*writable {
		dirs = append(dirs, pipe.DirectionRead)
	}
	if *writable || !*readable {
		dirs = append(dirs, pipe.DirectionWrite)
	}

	c := newClient()

	if !*wait {
		// One-shot: report the readiness pending right now.
		st, err := c.Status(context.Background(), dirFlags(*readable, *writable), false)
		if err != nil {
			fatal("events: %v", err)
		}
		for _, dir := range dirs {
			switch {
			case dir == pipe.DirectionRead && st.EOF:
				printEvent(pipe.Event{Direction: dir, Ready: int64(st.Buffered), EOF: true})
			case dir == pipe.DirectionRead && st.Readable:
				printEvent(pipe.Event{Direction: dir, Ready: int64(st.Buffered)})
			case dir == pipe.DirectionWrite && st.Writable:
				printEvent(pipe.Event{Direction: dir, Ready: int64(st.Space)})
			}
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	merged := make(chan pipe.Event)
	var wg sync.WaitGroup
	for _, dir := range dirs {
		events, err := c.Events(ctx, dir)
		if err != nil {
			fatal("events: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range events {
				merged <- ev
			}
		}()
	}
	go func() {
		wg.Wait()
		close(merged)
	}()

	for ev := range merged {
		printEvent(ev)
	}
}

func printEvent(ev pipe.Event) {
	if ev.EOF {
		fmt.Printf("%s: eof, %d bytes\n", ev.Direction, ev.Ready)
		return
	}
	fmt.Printf("%s: %d bytes\n", ev.Direction, ev.Ready)
}

func cmdRead(args []string) {
	fs := flag.NewFlagSet("read", flag.ExitOnError)
	block := fs.Bool("b", false, "block until data arrives")
	max := fs.Int("m", 4096, "maximum bytes to read")
	_ = fs.Parse(args)
	if fs.NArg() != 0 {
		usage()
	}

	data, err := newClient().Read(context.Background(), *max, *block)
	if err == io.EOF {
		return
	}
	if err != nil {
		fatal("read: %v", err)
	}
	_, _ = os.Stdout.Write(data)
}

func cmdWrite(args []string) {
	fs := flag.NewFlagSet("write", flag.ExitOnError)
	block := fs.Bool("b", false, "block until all bytes fit")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		usage()
	}

	data := []byte(fs.Arg(0))
	n, err := newClient().Write(context.Background(), data, *block)
	if err != nil {
		fatal("write: %v", err)
	}
	if n < len(data) {
		fatal("short write: %d of %d bytes", n, len(data))
	}
}

func cmdWriter(args []string) {
	if len(args) == 0 {
		usage()
	}
	switch args[0] {
	case "open":
		if len(args) != 1 {
			usage()
		}
		token, err := newClient().OpenWriter(context.Background())
		if err != nil {
			fatal("open writer: %v", err)
		}
		fmt.Println(token)
	case "close":
		if len(args) != 2 {
			usage()
		}
		if err := newClient().CloseWriter(context.Background(), args[1]); err != nil {
			fatal("close writer: %v", err)
		}
	default:
		usage()
	}
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	args := os.Args[2:]
	switch os.Args[1] {
	case "clear":
		cmdClear(args)
	case "events":
		cmdEvents(args)
	case "poll":
		cmdPoll(args)
	case "read":
		cmdRead(args)
	case "resize":
		cmdResize(args)
	case "size":
		cmdSize(args)
	case "write":
		cmdWrite(args)
	case "writer":
		cmdWriter(args)
	default:
		usage()
	}
}
