// Package imap adapts a standard IMAP4rev1 mailbox to the out.MailboxDriver
// port. Grounded on the UID-based two-step search/fetch pattern and
// mail.CreateReader body parsing from the Smart-bill-manager email monitor
// reference implementation.
package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"subscan/core/domain"
	"subscan/core/port/out"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/sony/gobreaker"
)

const fetchChunkSize = 50

// Driver implements out.MailboxDriver against a generic IMAP server. Unlike
// Gmail's REST driver, an IMAP driver needs a live TCP connection per
// mailbox; connections are opened per call and closed immediately rather
// than held open, since chunk processing is pull/cursor-based rather than a
// standing IDLE session.
type Driver struct {
	host     string
	port     int
	breaker  *gobreaker.CircuitBreaker
	insecure bool
}

// NewDriver builds an IMAP MailboxDriver against one host:port. insecure
// mirrors the teacher reference's InsecureSkipVerify escape hatch for
// self-signed mail servers; it is off by default and only set from an
// explicit per-connection override.
func NewDriver(host string, port int, insecure bool) *Driver {
	return &Driver{
		host:     host,
		port:     port,
		insecure: insecure,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "imap-connect",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (d *Driver) dial(conn *domain.OAuthConnection) (*client.Client, error) {
	v, err := d.breaker.Execute(func() (interface{}, error) {
		addr := fmt.Sprintf("%s:%d", d.host, d.port)
		c, err := client.DialTLS(addr, &tls.Config{InsecureSkipVerify: d.insecure}) // #nosec G402 - opt-in only
		if err != nil {
			return nil, fmt.Errorf("imap: dial %s: %w", addr, err)
		}
		if err := c.Login(conn.Email, conn.AccessToken); err != nil {
			c.Logout()
			return nil, fmt.Errorf("imap: login: %w", err)
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*client.Client), nil
}

func (d *Driver) ListPage(ctx context.Context, conn *domain.OAuthConnection, q out.ListQuery) (out.ListPageResult, error) {
	c, err := d.dial(conn)
	if err != nil {
		return out.ListPageResult{}, err
	}
	defer c.Logout()

	if _, err := c.Select("INBOX", true); err != nil {
		return out.ListPageResult{}, fmt.Errorf("imap: select inbox: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	if q.DaysBack > 0 {
		criteria.Since = time.Now().AddDate(0, 0, -q.DaysBack)
	}

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return out.ListPageResult{}, fmt.Errorf("imap: uid search: %w", err)
	}

	offset := 0
	if q.Cursor != "" {
		if n, err := strconv.Atoi(q.Cursor); err == nil {
			offset = n
		}
	}
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = fetchChunkSize
	}

	end := offset + pageSize
	if end > len(uids) {
		end = len(uids)
	}
	if offset >= len(uids) {
		return out.ListPageResult{Done: true}, nil
	}

	ids := make([]string, 0, end-offset)
	for _, u := range uids[offset:end] {
		ids = append(ids, strconv.FormatUint(uint64(u), 10))
	}

	done := end >= len(uids)
	next := ""
	if !done {
		next = strconv.Itoa(end)
	}
	return out.ListPageResult{IDs: ids, NextCursor: next, Done: done}, nil
}

func (d *Driver) FetchMetadata(ctx context.Context, conn *domain.OAuthConnection, ids []string) ([]domain.MessageMeta, error) {
	c, err := d.dial(conn)
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	if _, err := c.Select("INBOX", true); err != nil {
		return nil, fmt.Errorf("imap: select inbox: %w", err)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(parseUIDs(ids)...)

	items := []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, imap.FetchRFC822Header}
	messages := make(chan *imap.Message, 32)
	errCh := make(chan error, 1)
	go func() { errCh <- c.UidFetch(seqSet, items, messages) }()

	var metas []domain.MessageMeta
	for msg := range messages {
		metas = append(metas, parseIMAPMeta(msg))
	}
	if err := <-errCh; err != nil {
		return nil, fmt.Errorf("imap: uid fetch: %w", err)
	}
	return metas, nil
}

func (d *Driver) FetchFull(ctx context.Context, conn *domain.OAuthConnection, id string) (*domain.MessageBody, error) {
	c, err := d.dial(conn)
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	if _, err := c.Select("INBOX", true); err != nil {
		return nil, fmt.Errorf("imap: select inbox: %w", err)
	}

	uids := parseUIDs([]string{id})
	if len(uids) == 0 {
		return nil, fmt.Errorf("imap: invalid message id %q", id)
	}
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids[0])

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{section.FetchItem()}
	messages := make(chan *imap.Message, 1)
	errCh := make(chan error, 1)
	go func() { errCh <- c.UidFetch(seqSet, items, messages) }()

	var body *domain.MessageBody
	for msg := range messages {
		r := msg.GetBody(section)
		if r == nil {
			continue
		}
		body = parseIMAPBody(r)
	}
	if err := <-errCh; err != nil {
		return nil, fmt.Errorf("imap: uid fetch body: %w", err)
	}
	if body == nil {
		return nil, fmt.Errorf("imap: no body for message %s", id)
	}
	return body, nil
}

func parseUIDs(ids []string) []uint32 {
	out := make([]uint32, 0, len(ids))
	for _, id := range ids {
		n, err := strconv.ParseUint(id, 10, 32)
		if err != nil {
			continue
		}
		out = append(out, uint32(n))
	}
	return out
}

func parseIMAPMeta(msg *imap.Message) domain.MessageMeta {
	meta := domain.MessageMeta{ID: strconv.FormatUint(uint64(msg.Uid), 10)}

	if env := msg.Envelope; env != nil {
		meta.Subject = strings.TrimSpace(env.Subject)
		if len(env.From) > 0 {
			meta.Headers.From = formatAddress(env.From[0])
			meta.SenderEmail, meta.SenderDomain = splitAddress(env.From[0])
		}
		if len(env.ReplyTo) > 0 {
			meta.Headers.ReplyTo = formatAddress(env.ReplyTo[0])
		}
		meta.DateMs = env.Date.UnixMilli()
	}

	for _, lit := range msg.Body {
		r := bodyReader(lit)
		if r == nil {
			continue
		}
		hdr, err := mail.CreateReader(r)
		if err != nil {
			continue
		}
		h := hdr.Header
		meta.Headers.ListUnsubscribe = h.Get("List-Unsubscribe")
		meta.Headers.ListID = h.Get("List-Id")
		meta.Headers.Precedence = h.Get("Precedence")
		meta.Headers.AutoSubmitted = h.Get("Auto-Submitted")
		meta.Headers.ReturnPath = h.Get("Return-Path")
	}

	return meta
}

// bodyReader adapts the imap.Literal the client returns for RFC822Header
// fetches into an io.Reader; the go-imap client already hands back
// io.Reader-compatible literals for BODY[]-style items.
func bodyReader(lit imap.Literal) io.Reader {
	if lit == nil {
		return nil
	}
	return lit
}

func formatAddress(a *imap.Address) string {
	if a == nil {
		return ""
	}
	if a.PersonalName != "" {
		return fmt.Sprintf("%s <%s@%s>", a.PersonalName, a.MailboxName, a.HostName)
	}
	return fmt.Sprintf("%s@%s", a.MailboxName, a.HostName)
}

func splitAddress(a *imap.Address) (email, domainPart string) {
	if a == nil {
		return "", ""
	}
	return strings.ToLower(a.MailboxName + "@" + a.HostName), strings.ToLower(a.HostName)
}

func parseIMAPBody(r io.Reader) *domain.MessageBody {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return nil
	}
	body := &domain.MessageBody{}
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			data := readLimited(p.Body, 512*1024)
			if strings.HasPrefix(ct, "text/html") && body.HTML == "" {
				body.HTML = data
			} else if strings.HasPrefix(ct, "text/plain") && body.Text == "" {
				body.Text = data
			}
		}
	}
	return body
}

func readLimited(r io.Reader, max int64) string {
	b, err := io.ReadAll(io.LimitReader(r, max))
	if err != nil {
		return ""
	}
	return string(b)
}

var _ out.MailboxDriver = (*Driver)(nil)
