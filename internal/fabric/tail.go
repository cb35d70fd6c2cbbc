package fabric

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/dancxjo/psyche/internal/bus"
	"github.com/dancxjo/psyche/internal/fastclock"
	"github.com/dancxjo/psyche/internal/sensation"
)

// reconnectPause is how long a tailer waits before redialing after a
// failed dial or an EOF from the upstream
const reconnectPause = time.Second

// Tailer dials a Unix socket and republishes each line it reads as a
// sensation, reconnecting on dial failure or EOF rather than treating
// either as terminal (WSClient.Reconnect /
// mqtt.Subscriber reconnect loop).
type Tailer struct {
	Name       string
	SocketPath string
	Kind       string
	DependsOn  []string
	Bus        *bus.Bus
	Logger     *slog.Logger
}

// Run blocks, dialing SocketPath and forwarding lines until ctx is
// canceled. It never returns early on a connection error; it only returns
// when ctx is done.
func (t *Tailer) Run(ctx context.Context) error {
	logger := t.logger()

	if err := WaitForDependencies(ctx, t.DependsOn, logger); err != nil {
		return err
	}

	pause := fastclock.Interval(reconnectPause)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := t.tailOnce(ctx); err != nil {
			logger.Error("tailer connection failed", "tailer", t.Name, "socket", t.SocketPath, "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(pause):
		}
	}
}

func (t *Tailer) tailOnce(ctx context.Context) error {
	conn, err := net.Dial("unix", t.SocketPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		t.Bus.Publish(t.Kind, sensation.Sensation{
			Kind:   t.Kind,
			When:   time.Now().UTC(),
			What:   sensation.StringPayload(line),
			Source: t.SocketPath,
		})
	}
	return scanner.Err()
}

func (t *Tailer) logger() *slog.Logger {
	if t.Logger == nil {
		return slog.Default()
	}
	return t.Logger
}
