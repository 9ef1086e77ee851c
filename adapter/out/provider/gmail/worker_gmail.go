// Package gmail adapts the Gmail REST API to the out.MailboxDriver port.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"subscan/core/domain"
	"subscan/core/port/out"
	"subscan/pkg/httputil"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Driver implements out.MailboxDriver for Gmail. One Driver is built per
// OAuth config; the per-request token comes from the domain.OAuthConnection
// passed into each call, so a single Driver serves every user's mailbox.
type Driver struct {
	oauthCfg *oauth2.Config
}

// NewDriver builds a Gmail MailboxDriver bound to one OAuth client config.
func NewDriver(oauthCfg *oauth2.Config) *Driver {
	return &Driver{oauthCfg: oauthCfg}
}

func (d *Driver) service(ctx context.Context, conn *domain.OAuthConnection) (*gmail.Service, error) {
	token := &oauth2.Token{
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		Expiry:       conn.ExpiresAt,
	}
	// Route the token refresh/API transport through the tuned Gmail HTTP
	// client (keep-alive pool sized for sustained list/get traffic) instead
	// of oauth2's bare http.DefaultClient.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httputil.GmailClient())
	client := d.oauthCfg.Client(ctx, token)
	svc, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("gmail: new service: %w", err)
	}
	return svc, nil
}

// gmailQuery renders ListQuery into the Gmail search-operator string.
func gmailQuery(q out.ListQuery) string {
	var b strings.Builder
	b.WriteString("in:anywhere ")
	if q.DaysBack > 0 {
		fmt.Fprintf(&b, "newer_than:%dd ", q.DaysBack)
	}
	switch q.QueryMode {
	case domain.QueryTransactions:
		b.WriteString("-category:social ")
		b.WriteString(`(subject:(receipt OR invoice OR renewal OR subscription OR payment OR billing) OR from:(noreply OR billing OR receipts)) `)
	case domain.QueryBroad:
		// no subject/from narrowing; rely on downstream classification
		b.WriteString("-in:chats ")
	}
	if !q.IncludePromotions {
		b.WriteString("-category:promotions ")
	}
	return strings.TrimSpace(b.String())
}

func (d *Driver) ListPage(ctx context.Context, conn *domain.OAuthConnection, q out.ListQuery) (out.ListPageResult, error) {
	svc, err := d.service(ctx, conn)
	if err != nil {
		return out.ListPageResult{}, err
	}

	req := svc.Users.Messages.List("me").Q(gmailQuery(q))
	if q.PageSize > 0 {
		req = req.MaxResults(int64(q.PageSize))
	}
	if q.Cursor != "" {
		req = req.PageToken(q.Cursor)
	}

	resp, err := req.Context(ctx).Do()
	if err != nil {
		return out.ListPageResult{}, fmt.Errorf("gmail: list messages: %w", err)
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}

	return out.ListPageResult{
		IDs:        ids,
		NextCursor: resp.NextPageToken,
		Done:       resp.NextPageToken == "",
	}, nil
}

// FetchMetadata fetches headers/snippet for a batch of ids, bounded to 5
// concurrent requests to stay under Gmail's per-user rate limit.
func (d *Driver) FetchMetadata(ctx context.Context, conn *domain.OAuthConnection, ids []string) ([]domain.MessageMeta, error) {
	svc, err := d.service(ctx, conn)
	if err != nil {
		return nil, err
	}

	const maxConcurrency = 5
	type result struct {
		index int
		meta  domain.MessageMeta
		ok    bool
	}

	results := make(chan result, len(ids))
	sem := make(chan struct{}, maxConcurrency)

	for i, id := range ids {
		go func(idx int, msgID string) {
			sem <- struct{}{}
			defer func() { <-sem }()

			msg, err := svc.Users.Messages.Get("me", msgID).Format("metadata").
				MetadataHeaders("From", "Subject", "Date", "List-Unsubscribe", "List-Id", "Precedence", "Auto-Submitted", "Reply-To", "Return-Path").
				Context(ctx).Do()
			if err != nil {
				results <- result{index: idx}
				return
			}
			results <- result{index: idx, meta: parseMeta(msg), ok: true}
		}(i, id)
	}

	metas := make([]domain.MessageMeta, len(ids))
	ok := make([]bool, len(ids))
	for range ids {
		r := <-results
		metas[r.index] = r.meta
		ok[r.index] = r.ok
	}

	out := make([]domain.MessageMeta, 0, len(ids))
	for i, m := range metas {
		if ok[i] {
			out = append(out, m)
		}
	}
	return out, nil
}

func (d *Driver) FetchFull(ctx context.Context, conn *domain.OAuthConnection, id string) (*domain.MessageBody, error) {
	svc, err := d.service(ctx, conn)
	if err != nil {
		return nil, err
	}

	msg, err := svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("gmail: get message %s: %w", id, err)
	}

	html, text := parseBody(msg.Payload)
	return &domain.MessageBody{Text: text, HTML: html}, nil
}

func parseMeta(msg *gmail.Message) domain.MessageMeta {
	var h domain.Headers
	if msg.Payload != nil {
		for _, header := range msg.Payload.Headers {
			switch header.Name {
			case "From":
				h.From = header.Value
			case "Reply-To":
				h.ReplyTo = header.Value
			case "Return-Path":
				h.ReturnPath = header.Value
			case "List-Unsubscribe":
				h.ListUnsubscribe = header.Value
			case "List-Id":
				h.ListID = header.Value
			case "Precedence":
				h.Precedence = header.Value
			case "Auto-Submitted":
				h.AutoSubmitted = header.Value
			}
		}
	}

	subject := ""
	if msg.Payload != nil {
		for _, header := range msg.Payload.Headers {
			if header.Name == "Subject" {
				subject = header.Value
			}
		}
	}

	senderEmail, senderDomain := splitSenderAddress(h.From)

	return domain.MessageMeta{
		ID:           msg.Id,
		SenderEmail:  senderEmail,
		SenderDomain: senderDomain,
		Subject:      subject,
		Snippet:      msg.Snippet,
		Headers:      h,
		DateMs:       msg.InternalDate,
	}
}

func splitSenderAddress(from string) (email, domainPart string) {
	start := strings.LastIndex(from, "<")
	end := strings.LastIndex(from, ">")
	addr := from
	if start >= 0 && end > start {
		addr = from[start+1 : end]
	}
	addr = strings.TrimSpace(addr)
	if at := strings.LastIndex(addr, "@"); at >= 0 {
		return strings.ToLower(addr), strings.ToLower(addr[at+1:])
	}
	return strings.ToLower(addr), ""
}

func parseBody(payload *gmail.MessagePart) (html, text string) {
	if payload == nil {
		return "", ""
	}
	if payload.MimeType == "text/html" && payload.Body != nil && payload.Body.Data != "" {
		if data, err := base64.URLEncoding.DecodeString(payload.Body.Data); err == nil {
			html = string(data)
		}
	}
	if payload.MimeType == "text/plain" && payload.Body != nil && payload.Body.Data != "" {
		if data, err := base64.URLEncoding.DecodeString(payload.Body.Data); err == nil {
			text = string(data)
		}
	}
	for _, part := range payload.Parts {
		h, t := parseBody(part)
		if html == "" && h != "" {
			html = h
		}
		if text == "" && t != "" {
			text = t
		}
	}
	return html, text
}

var _ out.MailboxDriver = (*Driver)(nil)
