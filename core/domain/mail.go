package domain

import "time"

// Headers carries the subset of RFC headers the pipeline cares about.
// Field names mirror the teacher's ProviderClassificationHeaders shape
// (List-Unsubscribe/List-Id/Precedence/Auto-Submitted), generalized here
// from dev-tool notification detection to bulk-marketing detection.
type Headers struct {
	From            string
	ReplyTo         string
	ReturnPath      string
	ListUnsubscribe string
	ListID          string
	Precedence      string
	AutoSubmitted   string
}

// MessageMeta is the output of a MailboxDriver fetchMetadata call: headers,
// subject and snippet only, no bodies.
type MessageMeta struct {
	ID           string
	SenderEmail  string
	SenderDomain string
	Subject      string
	Snippet      string
	Headers      Headers
	DateMs       int64
}

// MessageBody is the output of a MailboxDriver fetchFull call.
type MessageBody struct {
	Text string
	HTML string
}

// NormalizedMessage is one message surface as seen by A/B/C/D: metadata plus
// an optional fetched body and the link domains extracted from it.
type NormalizedMessage struct {
	Meta        MessageMeta
	Body        *MessageBody
	LinkDomains []string
	Date        time.Time
}
