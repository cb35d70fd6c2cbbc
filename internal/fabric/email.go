package fabric

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dancxjo/psyche/internal/bus"
	"github.com/dancxjo/psyche/internal/fastclock"
	"github.com/dancxjo/psyche/internal/sensation"
)

// EmailSensorConfig names the IMAP account an EmailSensor polls.
type EmailSensorConfig struct {
	Host     string
	Port     int
	TLS      bool
	Username string
	Password string
	Folder   string // defaults to INBOX
}

// EmailSensor is a sensation producer that polls an IMAP inbox for unseen
// messages and publishes one "email.received" sensation per message,
// internal/email/client.go (connect/reconnect)
// and internal/email/list.go (NotFlag: Seen unseen-message search).
type EmailSensor struct {
	Name     string
	Cfg      EmailSensorConfig
	Interval time.Duration // default 30s
	Bus      *bus.Bus
	Logger   *slog.Logger
}

// Listen polls the configured inbox every Interval until ctx is canceled,
// reconnecting on any IMAP error
// policy.
func (s *EmailSensor) Listen(ctx context.Context) error {
	logger := s.logger()
	interval := s.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(fastclock.Interval(interval))
	defer ticker.Stop()

	for {
		if err := s.pollOnce(ctx); err != nil {
			logger.Error("email sensor poll failed", "sensor", s.Name, "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *EmailSensor) pollOnce(ctx context.Context) error {
	folder := s.Cfg.Folder
	if folder == "" {
		folder = "INBOX"
	}
	addr := net.JoinHostPort(s.Cfg.Host, fmt.Sprintf("%d", s.Cfg.Port))

	var opts imapclient.Options
	if s.Cfg.TLS {
		opts.TLSConfig = &tls.Config{ServerName: s.Cfg.Host}
	}

	var client *imapclient.Client
	var err error
	if s.Cfg.TLS {
		client, err = imapclient.DialTLS(addr, &opts)
	} else {
		client, err = imapclient.DialInsecure(addr, &opts)
	}
	if err != nil {
		return fmt.Errorf("dial imap %s: %w", addr, err)
	}
	defer client.Close()

	if err := client.Login(s.Cfg.Username, s.Cfg.Password).Wait(); err != nil {
		return fmt.Errorf("imap login as %s: %w", s.Cfg.Username, err)
	}

	if _, err := client.Select(folder, nil).Wait(); err != nil {
		return fmt.Errorf("select folder %s: %w", folder, err)
	}

	criteria := &imap.SearchCriteria{NotFlag: []imap.Flag{imap.FlagSeen}}
	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return fmt.Errorf("search unseen in %s: %w", folder, err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil
	}

	uidSet := imap.UIDSet{}
	for _, uid := range uids {
		uidSet.AddNum(uid)
	}

	fetchCmd := client.Fetch(uidSet, &imap.FetchOptions{UID: true, Envelope: true})
	defer fetchCmd.Close()

	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		var subject, from string
		for {
			item := msg.Next()
			if item == nil {
				break
			}
			if data, ok := item.(imapclient.FetchItemDataEnvelope); ok && data.Envelope != nil {
				subject = data.Envelope.Subject
				if len(data.Envelope.From) > 0 {
					from = data.Envelope.From[0].Addr()
				}
			}
		}

		now := time.Now().UTC()
		text := fmt.Sprintf("from %s: %s", from, subject)
		s.Bus.Publish("email.received", sensation.Sensation{
			Kind:   "email.received",
			When:   now,
			What:   sensation.StringPayload(text),
			Source: "sensor:" + s.Name,
		})
	}

	storeCmd := client.Store(uidSet, &imap.StoreFlags{
		Op:    imap.StoreFlagsAdd,
		Flags: []imap.Flag{imap.FlagSeen},
	}, nil)
	return storeCmd.Close()
}

func (s *EmailSensor) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
