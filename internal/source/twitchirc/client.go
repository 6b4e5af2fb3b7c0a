package twitchirc

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/you/tl2/internal/event"
)

var errAuthFailed = errors.New("twitchirc: authentication failed")

// client owns one IRC connection and up to maxChannelsPerConnection
// channels. It reconnects with exponential backoff on any error other than
// a closed context.
type client struct {
	cfg      Config
	channels []string
	out      chan<- event.AllEvents
}

func newClient(cfg Config, channels []string, out chan<- event.AllEvents) *client {
	return &client{cfg: cfg, channels: channels, out: out}
}

func (c *client) run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.runOnce(ctx); err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			log.Printf("twitchirc: connection (%d channels) disconnected: %v; reconnecting in %s", len(c.channels), err, backoff)
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			if backoff < 60*time.Second {
				backoff *= 2
				if backoff > 60*time.Second {
					backoff = 60 * time.Second
				}
			}
			continue
		}
		backoff = time.Second
	}
}

func (c *client) runOnce(ctx context.Context) error {
	token := strings.TrimSpace(c.cfg.Token)
	if c.cfg.TokenProvider != nil {
		if provided := strings.TrimSpace(c.cfg.TokenProvider()); provided != "" {
			token = provided
		}
	}
	if token == "" {
		return errors.New("twitchirc: token is required")
	}
	token = NormalizeToken(token)

	host := "irc.chat.twitch.tv"
	addr := host + ":6667"
	if c.cfg.UseTLS {
		addr = host + ":6697"
	}
	if strings.TrimSpace(c.cfg.Addr) != "" {
		addr = strings.TrimSpace(c.cfg.Addr)
	}

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	d := &net.Dialer{}
	var conn net.Conn
	var err error
	if c.cfg.UseTLS {
		rawConn, dialErr := d.DialContext(dialCtx, "tcp", addr)
		if dialErr != nil {
			return fmt.Errorf("dial: %w", dialErr)
		}
		conn = tls.Client(rawConn, &tls.Config{ServerName: host})
	} else {
		conn, err = d.DialContext(dialCtx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("dial: %w", err)
		}
	}
	defer conn.Close()

	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	send := func(s string) error {
		if _, err := rw.WriteString(s + "\r\n"); err != nil {
			return err
		}
		return rw.Flush()
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	if err := send("PASS " + token); err != nil {
		return fmt.Errorf("send PASS: %w", err)
	}
	if err := send("NICK " + c.cfg.Nick); err != nil {
		return fmt.Errorf("send NICK: %w", err)
	}
	if err := send("CAP REQ :twitch.tv/tags twitch.tv/commands twitch.tv/membership"); err != nil {
		return fmt.Errorf("send CAP REQ: %w", err)
	}

	joinLimiter := rate.NewLimiter(rate.Every(messagePacing), 1)
	for _, channel := range c.channels {
		if err := joinLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("wait for JOIN pacing: %w", err)
		}
		if err := send("JOIN #" + channel); err != nil {
			return fmt.Errorf("send JOIN %s: %w", channel, err)
		}
	}
	log.Printf("twitchirc: joined %d channels as %s", len(c.channels), c.cfg.Nick)

	reader := rw.Reader
	nextPing := time.Now().Add(4 * time.Minute)
	readDeadline := 2 * time.Minute

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			return fmt.Errorf("set deadline: %w", err)
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if now := time.Now(); now.After(nextPing) {
					if err := send("PING :keepalive"); err != nil {
						return fmt.Errorf("send PING: %w", err)
					}
					nextPing = now.Add(4 * time.Minute)
				}
				continue
			}
			return fmt.Errorf("read: %w", err)
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		if authFailure(line) {
			return errAuthFailed
		}

		if strings.HasPrefix(line, "PING ") {
			if err := send("PONG " + strings.TrimPrefix(line, "PING ")); err != nil {
				return fmt.Errorf("send PONG: %w", err)
			}
			nextPing = time.Now().Add(4 * time.Minute)
			continue
		}

		if fields := strings.Fields(line); len(fields) >= 2 && fields[0] == ":tmi.twitch.tv" && fields[1] == "RECONNECT" {
			return fmt.Errorf("server requested reconnect")
		}

		if ev, ok := parseIRCLine(line); ok {
			select {
			case c.out <- event.AllEvents{Kind: event.SourceTwitch, Twitch: ev}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func authFailure(line string) bool {
	lower := strings.ToLower(line)
	return strings.Contains(lower, "login authentication failed") ||
		strings.Contains(lower, "improperly formatted auth") ||
		strings.Contains(lower, "authentication failed")
}

// parseIRCLine maps one raw IRC protocol line onto a TwitchEvent. Unknown
// commands are dropped per spec.md §4.5.
func parseIRCLine(line string) (event.TwitchEvent, bool) {
	rest := line
	tags := map[string]string{}

	if strings.HasPrefix(rest, "@") {
		idx := strings.Index(rest, " ")
		if idx == -1 {
			return event.TwitchEvent{}, false
		}
		tagPart := rest[1:idx]
		rest = strings.TrimSpace(rest[idx+1:])
		for _, kv := range strings.Split(tagPart, ";") {
			if kv == "" {
				continue
			}
			parts := strings.SplitN(kv, "=", 2)
			val := ""
			if len(parts) == 2 {
				val = unescapeIRC(parts[1])
			}
			tags[parts[0]] = val
		}
	}

	if !strings.HasPrefix(rest, ":") {
		return event.TwitchEvent{}, false
	}
	rest = rest[1:]

	idx := strings.Index(rest, " ")
	if idx == -1 {
		return event.TwitchEvent{}, false
	}
	prefix := rest[:idx]
	rest = strings.TrimSpace(rest[idx+1:])

	fields := strings.Fields(rest)
	if len(fields) < 2 {
		return event.TwitchEvent{}, false
	}
	command := strings.ToUpper(fields[0])

	switch command {
	case "PRIVMSG":
		return parsePrivmsg(prefix, rest, tags)
	case "USERNOTICE":
		return parseUserNotice(prefix, rest, tags)
	case "CLEARCHAT":
		return parseClearChat(rest, tags)
	case "HOSTTARGET":
		return parseHostTarget(rest)
	default:
		return event.TwitchEvent{}, false
	}
}

func senderFromTags(prefix string, tags map[string]string) event.Sender {
	login := extractUser(prefix)
	s := event.Sender{ID: tags["user-id"], Login: strings.ToLower(login), DisplayName: tags["display-name"]}
	if s.DisplayName == "" {
		s.DisplayName = login
	}
	return s
}

func timestampFromTags(tags map[string]string) time.Time {
	if tsStr := tags["tmi-sent-ts"]; tsStr != "" {
		if ms, err := strconv.ParseInt(tsStr, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC()
		}
	}
	return time.Now().UTC()
}

func parsePrivmsg(prefix, rest string, tags map[string]string) (event.TwitchEvent, bool) {
	if !strings.HasPrefix(strings.ToUpper(rest), "PRIVMSG #") {
		return event.TwitchEvent{}, false
	}
	rest = rest[len("PRIVMSG #"):]
	idx := strings.Index(rest, " ")
	if idx == -1 {
		return event.TwitchEvent{}, false
	}
	channel := rest[:idx]
	rest = strings.TrimSpace(rest[idx+1:])
	if !strings.HasPrefix(rest, ":") {
		return event.TwitchEvent{}, false
	}
	text := rest[1:]

	bits, _ := strconv.Atoi(tags["bits"])
	return event.TwitchEvent{
		Kind:        event.TwitchPrivmsg,
		Timestamp:   timestampFromTags(tags),
		ChannelName: channel,
		Sender:      senderFromTags(prefix, tags),
		Text:        text,
		Bits:        bits,
		Badges:      splitList(tags["badges"], ","),
	}, true
}

func parseUserNotice(prefix, rest string, tags map[string]string) (event.TwitchEvent, bool) {
	if !strings.HasPrefix(strings.ToUpper(rest), "USERNOTICE #") {
		return event.TwitchEvent{}, false
	}
	rest = rest[len("USERNOTICE #"):]
	channel := strings.TrimSpace(rest)
	if idx := strings.Index(channel, " "); idx != -1 {
		channel = channel[:idx]
	}

	raidViewers, _ := strconv.Atoi(tags["msg-param-viewerCount"])
	cumulativeMonths, _ := strconv.Atoi(tags["msg-param-cumulative-months"])
	massGiftCount, _ := strconv.Atoi(tags["msg-param-mass-gift-count"])
	return event.TwitchEvent{
		Kind:             event.TwitchUserNotice,
		Timestamp:        timestampFromTags(tags),
		ChannelName:      channel,
		Sender:           senderFromTags(prefix, tags),
		SystemMsg:        unescapeIRC(tags["system-msg"]),
		NoticeMsgID:      tags["msg-id"],
		SubPlan:          event.SubPlan(tags["msg-param-sub-plan"]),
		IsResub:          tags["msg-id"] == "resub",
		CumulativeMonths: cumulativeMonths,
		MassGiftCount:    massGiftCount,
		RaidViewerCount:  raidViewers,
		IsAnonymousGift:  tags["msg-id"] == "subgift" && tags["display-name"] == "ananonymousgifter",
		RecipientID:      tags["msg-param-recipient-id"],
		RecipientLogin:   strings.ToLower(tags["msg-param-recipient-user-name"]),
		RecipientName:    tags["msg-param-recipient-display-name"],
		GifterLogin:      strings.ToLower(tags["msg-param-sender-login"]),
		GifterName:       tags["msg-param-sender-name"],
	}, true
}

func parseClearChat(rest string, tags map[string]string) (event.TwitchEvent, bool) {
	if !strings.HasPrefix(strings.ToUpper(rest), "CLEARCHAT #") {
		return event.TwitchEvent{}, false
	}
	rest = rest[len("CLEARCHAT #"):]
	parts := strings.SplitN(rest, " :", 2)
	channel := strings.TrimSpace(parts[0])
	var target string
	if len(parts) == 2 {
		target = strings.TrimSpace(parts[1])
	}

	banDuration, _ := strconv.Atoi(tags["ban-duration"])
	return event.TwitchEvent{
		Kind:           event.TwitchClearChat,
		Timestamp:      timestampFromTags(tags),
		ChannelName:    channel,
		TargetLogin:    strings.ToLower(target),
		TargetUserID:   tags["target-user-id"],
		BanDurationSec: banDuration,
	}, true
}

func parseHostTarget(rest string) (event.TwitchEvent, bool) {
	if !strings.HasPrefix(strings.ToUpper(rest), "HOSTTARGET #") {
		return event.TwitchEvent{}, false
	}
	rest = rest[len("HOSTTARGET #"):]
	idx := strings.Index(rest, " ")
	if idx == -1 {
		return event.TwitchEvent{}, false
	}
	channel := rest[:idx]
	params := strings.Fields(strings.TrimSpace(rest[idx+1:]))
	if len(params) == 0 {
		return event.TwitchEvent{}, false
	}
	hosted := strings.TrimPrefix(params[0], ":")
	var viewers int
	if len(params) > 1 {
		viewers, _ = strconv.Atoi(params[1])
	}
	return event.TwitchEvent{
		Kind:          event.TwitchHostTarget,
		Timestamp:     time.Now().UTC(),
		ChannelName:   channel,
		HostedChannel: hosted,
		HostViewers:   viewers,
	}, true
}

func extractUser(prefix string) string {
	if strings.HasPrefix(prefix, ":") {
		prefix = prefix[1:]
	}
	if idx := strings.Index(prefix, "!"); idx != -1 {
		return prefix[:idx]
	}
	return prefix
}

func unescapeIRC(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 's':
			b.WriteByte(' ')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case ':':
			b.WriteByte(';')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func splitList(s, sep string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
