// bidimapper is a thin launcher around the mapper core: it dials a
// Chrome/Chromium debugging endpoint over CDP and speaks newline-
// delimited BiDi JSON on stdio, the mode Chromium's own bundled mapper
// binary uses when embedded in a WebDriver BiDi client. Proof that the
// core is wireable end-to-end; the core itself has no transport
// opinion, per SPEC_FULL.md §8.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/Lightning00Blade/chromium-bidi/cdp"
	"github.com/Lightning00Blade/chromium-bidi/mapper"
)

var (
	flagCDP                 = flag.String("cdp", "ws://localhost:9222/devtools/browser", "CDP browser debugger websocket endpoint")
	flagAcceptInsecureCerts = flag.Bool("accept-insecure-certs", false, "accept insecure TLS certificates on every target")
	flagVerbose             = flag.Bool("verbose", false, "pass a debug logging hook to the mapper (the mapper does not log frames through it)")
)

func main() {
	flag.Parse()

	logger := log.New(os.Stderr, "bidimapper ", log.LstdFlags)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt)
	go func() {
		<-sigc
		cancel()
	}()

	if err := run(ctx, logger); err != nil {
		logger.Fatal(err)
	}
}

func run(ctx context.Context, logger *log.Logger) error {
	conn, err := cdp.Dial(ctx, *flagCDP,
		cdp.WithLogf(logger.Printf),
		cdp.WithErrorf(logger.Printf),
	)
	if err != nil {
		return fmt.Errorf("bidimapper: dial %s: %w", *flagCDP, err)
	}
	defer conn.Close()

	out := bufio.NewWriter(os.Stdout)
	sink := mapper.Sink(func(frame interface{}) {
		writeFrame(out, frame, logger)
	})

	opts := []mapper.Option{
		mapper.WithLogf(logger.Printf),
		mapper.WithErrorf(logger.Printf),
		mapper.WithAcceptInsecureCerts(*flagAcceptInsecureCerts),
	}
	if *flagVerbose {
		opts = append(opts, mapper.WithDebugf(logger.Printf))
	}

	m, err := mapper.New(conn, sink, opts...)
	if err != nil {
		return fmt.Errorf("bidimapper: new mapper: %w", err)
	}
	if err := m.Start(ctx); err != nil {
		return fmt.Errorf("bidimapper: start: %w", err)
	}

	return readCommands(ctx, m, logger)
}

// readCommands drains newline-delimited BiDi command frames from stdin,
// handing each to the mapper, until ctx is done or stdin closes.
// Grounded on chromedp-proxy's proxyWS copy-loop: one goroutine pumping
// one direction of a byte stream until an error or cancellation.
func readCommands(ctx context.Context, m *mapper.Mapper, logger *log.Logger) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	errc := make(chan error, 1)
	go func() {
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			frame := make([]byte, len(line))
			copy(frame, line)
			m.HandleCommand(ctx, frame)
		}
		errc <- scanner.Err()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errc:
		return err
	}
}

func writeFrame(out *bufio.Writer, frame interface{}, logger *log.Logger) {
	buf, err := json.Marshal(frame)
	if err != nil {
		logger.Printf("bidimapper: marshal outbound frame: %v", err)
		return
	}
	if _, err := out.Write(buf); err != nil {
		logger.Printf("bidimapper: write outbound frame: %v", err)
		return
	}
	if err := out.WriteByte('\n'); err != nil {
		logger.Printf("bidimapper: write outbound frame: %v", err)
		return
	}
	if err := out.Flush(); err != nil {
		logger.Printf("bidimapper: flush outbound frame: %v", err)
	}
}
