// Package fabric implements the daemon fabric: Unix-domain-socket pipes
// carrying framed sensation-ingress records between processes, dependency-
// gated startup, and reconnecting tailers, generalized from WebSocket/MQTT
// reconnect loops (internal/homeassistant/websocket.go,
// internal/mqtt/subscriber.go).
package fabric

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/dancxjo/psyche/internal/bus"
	"github.com/dancxjo/psyche/internal/sensation"
)

// sentinel is the exact line (after CR/LF stripping) that terminates one
// ingress record.
const sentinel = "---"

// Record is one parsed sensation-ingress record: a path naming the
// sensation within this pipe, and its (possibly multi-line) text body.
type Record struct {
	Path string
	Text string
}

// ingressPayload is the structured shape a sensation-ingress record is
// stored as, so a journaled row exposes both the originating path and the
// text rather than collapsing the two into a bare string.
type ingressPayload struct {
	Path string `json:"path"`
	Text string `json:"text"`
}

// PipeListener accepts connections on a Unix socket and parses each as a
// sequence of framed ingress records, publishing one sensation per record.
type PipeListener struct {
	Name       string
	SocketPath string
	KindPrefix string // prepended to each record's Path to form the sensation Kind
	DependsOn  []string
	Bus        *bus.Bus
	Logger     *slog.Logger
}

// Listen waits for any declared dependencies, removes a stale socket file,
// binds a new Unix listener, and serves connections until ctx is canceled.
// A missing dependency blocks only this pipe.
func (p *PipeListener) Listen(ctx context.Context) error {
	logger := p.logger()

	if err := WaitForDependencies(ctx, p.DependsOn, logger); err != nil {
		return err
	}

	_ = os.Remove(p.SocketPath)

	ln, err := net.Listen("unix", p.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on pipe socket %q: %w", p.SocketPath, err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	logger.Info("pipe listening", "pipe", p.Name, "socket", p.SocketPath)
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept on pipe socket %q: %w", p.SocketPath, err)
			}
		}
		go p.handleConn(ctx, conn)
	}
}

func (p *PipeListener) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

// handleConn reads framed records from conn until it closes, publishing
// each as a sensation. A read error other than EOF is logged and ends the
// connection.
func (p *PipeListener) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	logger := p.logger()

	reader := bufio.NewReader(conn)
	for {
		rec, err := readRecord(reader)
		if err != nil {
			if err.Error() != "EOF" {
				logger.Error("pipe read failed", "pipe", p.Name, "err", err)
			}
			return
		}
		kind := rec.Path
		if p.KindPrefix != "" {
			kind = p.KindPrefix + rec.Path
		}
		payload, err := sensation.JSONPayload(ingressPayload{Path: rec.Path, Text: rec.Text})
		if err != nil {
			logger.Error("pipe payload encode failed", "pipe", p.Name, "err", err)
			continue
		}
		s := sensation.Sensation{
			Kind:   kind,
			When:   time.Now().UTC(),
			What:   payload,
			Source: rec.Path,
		}
		p.Bus.Publish(kind, s)
	}
}

// readRecord reads one "<path>\n<text...>\n---\n" record from r. Text may
// span multiple lines; reading stops at the first line that is exactly
// "---" once CR/LF is stripped. A text body cannot contain that literal
// line: the record ends there, whatever follows is read as the next
// record, and no error is reported.
func readRecord(r *bufio.Reader) (Record, error) {
	path, err := readLine(r)
	if err != nil {
		return Record{}, err
	}

	var textLines []string
	for {
		line, err := readLine(r)
		if err != nil {
			return Record{}, err
		}
		if line == sentinel {
			break
		}
		textLines = append(textLines, line)
	}
	return Record{Path: path, Text: strings.Join(textLines, "\n")}, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if line == "" {
			return "", err
		}
		// Treat a final line with no trailing newline as complete.
	}
	return strings.TrimRight(line, "\r\n"), nil
}
