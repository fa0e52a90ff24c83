// Package mailer builds the pre-filled mailto link for sending renamed
// invoices. mailto cannot attach files, so the body reminds the user to
// attach what they just downloaded; that limitation is inherent to the
// protocol, not something to work around here.
package mailer

import (
	"errors"
	"net/url"
	"strings"
)

// ErrNoRecipient is returned when the recipient address is missing.
var ErrNoRecipient = errors.New("recipient email required")

// ErrNoFiles is returned when no processed files exist to reference.
var ErrNoFiles = errors.New("no processed files to send")

const bodyText = "您好，\n\n附件為發票文件。\n\n此郵件由「智慧發票處理器」協助產生。請記得附上您剛剛下載的檔案。\n\n祝好。"

// Recipient is a preset address the UI can offer alongside free-form input.
type Recipient struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ComposeMailto returns a mailto URI with percent-encoded subject and body
// referencing the derived filenames.
func ComposeMailto(to string, filenames []string) (string, error) {
	if to == "" {
		return "", ErrNoRecipient
	}
	if len(filenames) == 0 {
		return "", ErrNoFiles
	}
	subject := "發票文件：" + strings.Join(filenames, "、")
	// url.Values encodes spaces as "+", which mail clients misread in mailto
	// links; PathEscape-style encoding via the Opaque form keeps %20.
	q := "subject=" + escape(subject) + "&body=" + escape(bodyText)
	return "mailto:" + to + "?" + q, nil
}

// escape mirrors JavaScript's encodeURIComponent closely enough for mail
// clients: query escaping with "+" rewritten to %20.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
