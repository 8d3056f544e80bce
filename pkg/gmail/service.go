package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	providerdomain "fintrack-backend/internal/provider/domain"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// defaultReceiptQuery biases an unqualified search toward commerce signals:
// receipt-ish subject keywords OR senders known to mail receipts.
const defaultReceiptQuery = `(subject:(receipt OR invoice OR "order confirmation" OR purchase OR payment) OR from:(amazon.com OR paypal.com OR stripe.com OR squareup.com OR uber.com OR walmart.com OR target.com OR bestbuy.com))`

// Service is the Gmail variant of the MailProvider capability set.
type Service struct {
	config   *oauth2.Config
	pageSize int
}

// NewService creates a Gmail adapter. The OAuth client settings are resolved
// once at process start and injected here.
func NewService(clientID, clientSecret, redirectURI string, pageSize int) *Service {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Service{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Endpoint:     google.Endpoint,
			Scopes: []string{
				gmail.GmailReadonlyScope,
				"openid",
				"email",
			},
		},
		pageSize: pageSize,
	}
}

// AuthCodeURL returns the consent URL that starts the OAuth flow. Offline
// access with forced consent so a refresh token is always issued.
func (s *Service) AuthCodeURL(state string) string {
	return s.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
}

// Authorize exchanges the OAuth code and resolves the mailbox address.
func (s *Service) Authorize(ctx context.Context, code string) (providerdomain.TokenBundle, string, error) {
	token, err := s.config.Exchange(ctx, code)
	if err != nil {
		return providerdomain.TokenBundle{}, "", classifyError(err)
	}

	bundle := providerdomain.TokenBundle{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}

	srv, err := s.gmailService(ctx, bundle)
	if err != nil {
		return providerdomain.TokenBundle{}, "", err
	}

	profile, err := srv.Users.GetProfile("me").Do()
	if err != nil {
		return providerdomain.TokenBundle{}, "", classifyError(err)
	}

	return bundle, profile.EmailAddress, nil
}

// Refresh trades the refresh token for a fresh access token. A rejected
// refresh token (revoked, or already rotated by a concurrent refresh)
// surfaces as ErrAuthExpired so callers never retry it.
func (s *Service) Refresh(ctx context.Context, tokens providerdomain.TokenBundle) (providerdomain.TokenBundle, error) {
	if tokens.RefreshToken == "" {
		return providerdomain.TokenBundle{}, providerdomain.ErrAuthExpired
	}

	source := s.config.TokenSource(ctx, &oauth2.Token{RefreshToken: tokens.RefreshToken})
	token, err := source.Token()
	if err != nil {
		return providerdomain.TokenBundle{}, classifyError(err)
	}

	return providerdomain.TokenBundle{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}, nil
}

// BuildSearchQuery composes the vendor query. Date bounds are appended to
// the receipt-biased default (or the explicit query), never substituted for
// it. Gmail's before: is exclusive, so the end bound shifts one day to stay
// inclusive.
func (s *Service) BuildSearchQuery(opts providerdomain.SearchOptions) string {
	query := opts.Query
	if query == "" {
		query = defaultReceiptQuery
	}

	if opts.DateRangeStart != nil {
		query += " after:" + opts.DateRangeStart.Format("2006/01/02")
	}
	if opts.DateRangeEnd != nil {
		query += " before:" + opts.DateRangeEnd.AddDate(0, 0, 1).Format("2006/01/02")
	}

	return query
}

// Search returns up to max message IDs, most recent first. Gmail caps
// MaxResults at 500; larger requests paginate with the page token.
func (s *Service) Search(ctx context.Context, tokens providerdomain.TokenBundle, query string, max int) ([]string, error) {
	srv, err := s.gmailService(ctx, tokens)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, max)
	pageToken := ""

	for len(ids) < max {
		perPage := int64(max - len(ids))
		if perPage > 500 {
			perPage = 500
		}

		call := srv.Users.Messages.List("me").Q(query).MaxResults(perPage)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, classifyError(err)
		}

		for _, msg := range resp.Messages {
			ids = append(ids, msg.Id)
			if len(ids) == max {
				break
			}
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}

	return ids, nil
}

// FetchMessage retrieves the full message and flattens it to the richest
// text part: text/html preferred, text/plain as fallback.
func (s *Service) FetchMessage(ctx context.Context, tokens providerdomain.TokenBundle, id string) (*providerdomain.Message, error) {
	srv, err := s.gmailService(ctx, tokens)
	if err != nil {
		return nil, err
	}

	msg, err := srv.Users.Messages.Get("me", id).Format("full").Do()
	if err != nil {
		return nil, classifyError(err)
	}

	body, isHTML := getMessageBody(msg.Payload)

	return &providerdomain.Message{
		ID:          msg.Id,
		Subject:     getHeader(msg.Payload.Headers, "Subject"),
		From:        getHeader(msg.Payload.Headers, "From"),
		Date:        time.Unix(msg.InternalDate/1000, 0),
		Body:        body,
		IsHTML:      isHTML,
		Attachments: getAttachments(msg.Payload),
	}, nil
}

// FetchAttachment retrieves one attachment's raw bytes on demand.
func (s *Service) FetchAttachment(ctx context.Context, tokens providerdomain.TokenBundle, messageID, attachmentID string) ([]byte, error) {
	srv, err := s.gmailService(ctx, tokens)
	if err != nil {
		return nil, err
	}

	part, err := srv.Users.Messages.Attachments.Get("me", messageID, attachmentID).Do()
	if err != nil {
		return nil, classifyError(err)
	}

	data, err := decodeBase64(part.Data)
	if err != nil {
		return nil, fmt.Errorf("unable to decode attachment data: %w", err)
	}
	return data, nil
}

// DefaultPageSize bounds a sync that requests no explicit limit.
func (s *Service) DefaultPageSize() int {
	return s.pageSize
}

func (s *Service) gmailService(ctx context.Context, tokens providerdomain.TokenBundle) (*gmail.Service, error) {
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tokens.AccessToken, TokenType: "Bearer"})
	srv, err := gmail.NewService(ctx, option.WithTokenSource(source))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}
	return srv, nil
}

// classifyError maps vendor faults onto the shared taxonomy: credential
// problems become ErrAuthExpired, everything else is retryable.
func classifyError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == 401 {
			return fmt.Errorf("%w: %v", providerdomain.ErrAuthExpired, err)
		}
		if gerr.Code == 403 && !strings.Contains(gerr.Message, "ateLimit") {
			return fmt.Errorf("%w: %v", providerdomain.ErrAuthExpired, err)
		}
		return fmt.Errorf("%w: %v", providerdomain.ErrProviderUnavailable, err)
	}

	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		if rerr.ErrorCode == "invalid_grant" || rerr.Response.StatusCode == 401 || rerr.Response.StatusCode == 400 {
			return fmt.Errorf("%w: %v", providerdomain.ErrAuthExpired, err)
		}
	}

	return fmt.Errorf("%w: %v", providerdomain.ErrProviderUnavailable, err)
}

// Helper functions

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, header := range headers {
		if header.Name == name {
			return header.Value
		}
	}
	return ""
}

func getMessageBody(payload *gmail.MessagePart) (string, bool) {
	// If the payload itself is the body
	if payload.Body != nil && payload.Body.Data != "" && len(payload.Parts) == 0 {
		if data, err := decodeBase64(payload.Body.Data); err == nil {
			return string(data), payload.MimeType == "text/html"
		}
	}

	var htmlBody string
	var plainBody string

	var findBody func(parts []*gmail.MessagePart)
	findBody = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			if part.MimeType == "text/html" {
				if part.Body != nil && part.Body.Data != "" {
					if data, err := decodeBase64(part.Body.Data); err == nil {
						htmlBody = string(data)
					}
				}
			} else if part.MimeType == "text/plain" {
				if part.Body != nil && part.Body.Data != "" {
					if data, err := decodeBase64(part.Body.Data); err == nil {
						plainBody = string(data)
					}
				}
			}

			if len(part.Parts) > 0 {
				findBody(part.Parts)
			}
		}
	}

	findBody(payload.Parts)

	if htmlBody != "" {
		return htmlBody, true
	}
	return plainBody, false
}

func getAttachments(payload *gmail.MessagePart) []providerdomain.AttachmentRef {
	var attachments []providerdomain.AttachmentRef

	var findAttachments func(parts []*gmail.MessagePart)
	findAttachments = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
				attachments = append(attachments, providerdomain.AttachmentRef{
					ID:       part.Body.AttachmentId,
					Filename: part.Filename,
					MimeType: part.MimeType,
					Size:     int64(part.Body.Size),
				})
			}

			if len(part.Parts) > 0 {
				findAttachments(part.Parts)
			}
		}
	}

	findAttachments(payload.Parts)
	return attachments
}

func decodeBase64(data string) ([]byte, error) {
	if decoded, err := base64.URLEncoding.DecodeString(data); err == nil {
		return decoded, nil
	}
	return base64.RawURLEncoding.DecodeString(data)
}
