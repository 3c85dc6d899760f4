// Package gmail fetches messages from the Gmail API into the local
// store. It is a read-only collaborator of the rule engine: apart from
// caching the OAuth token it never writes anything back to Gmail.
package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/kskmr6390/email-rule-ops/model"
	"github.com/kskmr6390/email-rule-ops/progress"
	"github.com/kskmr6390/email-rule-ops/store"
)

const gmailUser = "me"

// Options configures the Gmail client.
type Options struct {
	CredentialsFile string
	TokenFile       string
}

// Client wraps an authenticated Gmail API service.
type Client struct {
	srv    *gmailapi.Service
	logger *slog.Logger
}

// NewClient builds an authenticated client. The OAuth token is cached in
// opts.TokenFile; when absent the user is walked through the
// installed-app authorization flow on the terminal.
func NewClient(ctx context.Context, opts Options, logger *slog.Logger) (*Client, error) {
	if opts.CredentialsFile == "" {
		return nil, fmt.Errorf("credentials file is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	b, err := os.ReadFile(opts.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read client secret file: %w", err)
	}
	oauthConfig, err := google.ConfigFromJSON(b, gmailapi.GmailModifyScope)
	if err != nil {
		return nil, fmt.Errorf("parse client secret file: %w", err)
	}

	httpClient, err := oauthClient(ctx, oauthConfig, opts.TokenFile)
	if err != nil {
		return nil, err
	}

	srv, err := gmailapi.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}

	return &Client{srv: srv, logger: logger}, nil
}

func oauthClient(ctx context.Context, config *oauth2.Config, tokenFile string) (*http.Client, error) {
	tok, err := tokenFromFile(tokenFile)
	if err != nil {
		tok, err = tokenFromWeb(ctx, config)
		if err != nil {
			return nil, err
		}
		if saveErr := saveToken(tokenFile, tok); saveErr != nil {
			return nil, saveErr
		}
	}
	return config.Client(ctx, tok), nil
}

func tokenFromWeb(ctx context.Context, config *oauth2.Config) (*oauth2.Token, error) {
	authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Printf("Go to the following link in your browser then type the authorization code:\n%v\n", authURL)

	var authCode string
	if _, err := fmt.Scan(&authCode); err != nil {
		return nil, fmt.Errorf("read authorization code: %w", err)
	}
	tok, err := config.Exchange(ctx, authCode)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	return tok, nil
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, err
	}
	return tok, nil
}

func saveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("save oauth token: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(token); err != nil {
		return fmt.Errorf("encode oauth token: %w", err)
	}
	return nil
}

// FetchAndStore pulls up to max INBOX messages and upserts each into the
// store. A message that fails to fetch or store is logged and skipped;
// the returned count covers only stored messages.
func (c *Client) FetchAndStore(ctx context.Context, st *store.Store, max int64, logLevel string) (int, error) {
	list, err := c.srv.Users.Messages.List(gmailUser).
		MaxResults(max).
		LabelIds("INBOX").
		Context(ctx).
		Do()
	if err != nil {
		return 0, fmt.Errorf("list messages: %w", err)
	}

	bar := progress.New(len(list.Messages), logLevel)
	defer bar.Stop()

	stored := 0
	for _, ref := range list.Messages {
		full, err := c.srv.Users.Messages.Get(gmailUser, ref.Id).
			Format("full").
			Context(ctx).
			Do()
		if err != nil {
			c.logger.Warn("fetch message failed", "messageID", ref.Id, "err", err)
			bar.Skipped(err)
			continue
		}

		msg := parseMessage(full)
		if err := st.UpsertMessage(ctx, msg); err != nil {
			c.logger.Warn("store message failed", "messageID", ref.Id, "err", err)
			bar.Skipped(err)
			continue
		}

		stored++
		bar.Stored(msg.ID)
		c.logger.Debug("stored message", "messageID", msg.ID, "from", msg.FromAddress, "subject", msg.Subject)
	}

	return stored, nil
}

// parseMessage converts a full-format Gmail message into a stored record.
func parseMessage(msg *gmailapi.Message) model.Message {
	out := model.Message{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
		Labels:   model.JoinLabels(msg.LabelIds),
		IsRead:   true,
	}

	for _, id := range msg.LabelIds {
		if id == "UNREAD" {
			out.IsRead = false
			break
		}
	}

	var dateHeader string
	if msg.Payload != nil {
		for _, header := range msg.Payload.Headers {
			switch header.Name {
			case "From":
				out.FromAddress = header.Value
			case "To":
				out.ToAddress = header.Value
			case "Subject":
				out.Subject = header.Value
			case "Date":
				dateHeader = header.Value
			}
		}
		out.MessageBody = extractBody(msg.Payload)
	}

	out.ReceivedAt = parseDate(dateHeader)
	return out
}

// parseDate parses an RFC 5322 date header, falling back to the current
// time when the header is absent or unparseable.
func parseDate(value string) time.Time {
	if value == "" {
		return time.Now().UTC()
	}
	if t, err := mail.ParseDate(value); err == nil {
		return t
	}
	for _, layout := range []string{time.RFC1123Z, time.RFC1123} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}

// extractBody walks the payload tree for a text/plain part, falling back
// to text/html when no plain text exists.
func extractBody(payload *gmailapi.MessagePart) string {
	if body := findPart(payload, "text/plain"); body != "" {
		return body
	}
	return findPart(payload, "text/html")
}

func findPart(part *gmailapi.MessagePart, mimeType string) string {
	if part == nil {
		return ""
	}
	if part.MimeType == mimeType && part.Body != nil && part.Body.Data != "" {
		data, err := base64.URLEncoding.DecodeString(part.Body.Data)
		if err == nil {
			return string(data)
		}
	}
	for _, child := range part.Parts {
		mt := strings.ToLower(child.MimeType)
		if strings.HasPrefix(mt, "text/") || strings.HasPrefix(mt, "multipart/") {
			if body := findPart(child, mimeType); body != "" {
				return body
			}
		}
	}
	return ""
}
