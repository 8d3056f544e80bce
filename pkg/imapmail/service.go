package imapmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	providerdomain "fintrack-backend/internal/provider/domain"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
)

// receiptKeywords drive the default subject search for vendors without a
// query language.
var receiptKeywords = []string{"receipt", "invoice", "order", "purchase", "payment"}

// credentials is the vendor token payload. It rides inside the token
// bundle's access token slot, so it is encrypted at rest like any OAuth
// token and never leaves the adapter boundary.
type credentials struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Service is the IMAP variant of the MailProvider capability set. Password
// mailboxes have no refresh flow; each call dials, logs in and logs out.
type Service struct {
	pageSize int
}

func NewService(pageSize int) *Service {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Service{pageSize: pageSize}
}

// Authorize validates the credential payload by logging in once. The code
// is the base64 JSON credential the connect endpoint assembled.
func (s *Service) Authorize(ctx context.Context, code string) (providerdomain.TokenBundle, string, error) {
	raw, err := base64.StdEncoding.DecodeString(code)
	if err != nil {
		return providerdomain.TokenBundle{}, "", fmt.Errorf("invalid credential payload: %w", err)
	}

	var creds credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return providerdomain.TokenBundle{}, "", fmt.Errorf("invalid credential payload: %w", err)
	}
	if creds.Port == 0 {
		creds.Port = 993
	}

	c, err := s.login(creds)
	if err != nil {
		return providerdomain.TokenBundle{}, "", err
	}
	_ = c.Logout()

	stored, err := json.Marshal(creds)
	if err != nil {
		return providerdomain.TokenBundle{}, "", err
	}

	return providerdomain.TokenBundle{AccessToken: string(stored)}, creds.Username, nil
}

// BuildSearchQuery encodes options into the adapter's own compact query
// form: subject keywords plus optional since/until bounds.
func (s *Service) BuildSearchQuery(opts providerdomain.SearchOptions) string {
	query := opts.Query
	if query == "" {
		query = strings.Join(receiptKeywords, " ")
	}

	if opts.DateRangeStart != nil {
		query += " since:" + opts.DateRangeStart.Format("2006-01-02")
	}
	if opts.DateRangeEnd != nil {
		query += " until:" + opts.DateRangeEnd.Format("2006-01-02")
	}

	return query
}

// Search runs a UID search over INBOX and returns up to max UIDs, most
// recent first.
func (s *Service) Search(ctx context.Context, tokens providerdomain.TokenBundle, query string, max int) ([]string, error) {
	creds, err := parseTokens(tokens)
	if err != nil {
		return nil, err
	}

	c, err := s.login(creds)
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	if _, err := c.Select("INBOX", true); err != nil {
		return nil, fmt.Errorf("%w: %v", providerdomain.ErrProviderUnavailable, err)
	}

	uids, err := c.UidSearch(buildCriteria(query))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", providerdomain.ErrProviderUnavailable, err)
	}

	// UID search yields ascending order; the engine expects newest first.
	ids := make([]string, 0, max)
	for i := len(uids) - 1; i >= 0 && len(ids) < max; i-- {
		ids = append(ids, strconv.FormatUint(uint64(uids[i]), 10))
	}
	return ids, nil
}

// FetchMessage retrieves one message body and walks its MIME parts,
// preferring text/html over text/plain.
func (s *Service) FetchMessage(ctx context.Context, tokens providerdomain.TokenBundle, id string) (*providerdomain.Message, error) {
	creds, err := parseTokens(tokens)
	if err != nil {
		return nil, err
	}

	c, err := s.login(creds)
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	msg, body, err := fetchRaw(c, id)
	if err != nil {
		return nil, err
	}

	return parseMessage(id, msg, body), nil
}

// parseMessage walks the MIME parts, preferring text/html over text/plain.
// A body that fails to parse would fail identically on every retry, so the
// message falls back to its envelope headers instead of erroring.
func parseMessage(id string, msg *imap.Message, body io.Reader) *providerdomain.Message {
	result := &providerdomain.Message{ID: id}
	if msg.Envelope != nil {
		result.Subject = msg.Envelope.Subject
		result.Date = msg.Envelope.Date
		if len(msg.Envelope.From) > 0 {
			result.From = msg.Envelope.From[0].Address()
		}
	}

	reader, err := mail.CreateReader(body)
	if err != nil {
		log.Printf("[IMAP] message %s: unable to parse body, classifying on headers only: %v", id, err)
		return result
	}

	var htmlBody, plainBody string
	partIndex := 0

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		switch header := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := header.ContentType()
			data, _ := io.ReadAll(part.Body)
			if contentType == "text/html" {
				htmlBody = string(data)
			} else if contentType == "text/plain" && plainBody == "" {
				plainBody = string(data)
			}
		case *mail.AttachmentHeader:
			filename, _ := header.Filename()
			contentType, _, _ := header.ContentType()
			result.Attachments = append(result.Attachments, providerdomain.AttachmentRef{
				ID:       strconv.Itoa(partIndex),
				Filename: filename,
				MimeType: contentType,
			})
		}
		partIndex++
	}

	if htmlBody != "" {
		result.Body = htmlBody
		result.IsHTML = true
	} else {
		result.Body = plainBody
	}

	return result
}

// FetchAttachment re-reads the message and returns the bytes of the
// attachment at the referenced part index.
func (s *Service) FetchAttachment(ctx context.Context, tokens providerdomain.TokenBundle, messageID, attachmentID string) ([]byte, error) {
	creds, err := parseTokens(tokens)
	if err != nil {
		return nil, err
	}

	wanted, err := strconv.Atoi(attachmentID)
	if err != nil {
		return nil, fmt.Errorf("invalid attachment reference: %w", err)
	}

	c, err := s.login(creds)
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	_, body, err := fetchRaw(c, messageID)
	if err != nil {
		return nil, err
	}

	reader, err := mail.CreateReader(body)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to parse message %s: %v", providerdomain.ErrProviderUnavailable, messageID, err)
	}

	partIndex := 0
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		if partIndex == wanted {
			return io.ReadAll(part.Body)
		}
		partIndex++
	}

	return nil, fmt.Errorf("attachment %s not found in message %s", attachmentID, messageID)
}

func (s *Service) DefaultPageSize() int {
	return s.pageSize
}

func (s *Service) login(creds credentials) (*client.Client, error) {
	c, err := client.DialTLS(fmt.Sprintf("%s:%d", creds.Host, creds.Port), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", providerdomain.ErrProviderUnavailable, err)
	}

	if err := c.Login(creds.Username, creds.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("%w: %v", providerdomain.ErrAuthExpired, err)
	}

	return c, nil
}

func parseTokens(tokens providerdomain.TokenBundle) (credentials, error) {
	var creds credentials
	if err := json.Unmarshal([]byte(tokens.AccessToken), &creds); err != nil {
		return credentials{}, fmt.Errorf("%w: corrupt credential payload", providerdomain.ErrAuthExpired)
	}
	return creds, nil
}

func fetchRaw(c *client.Client, id string) (*imap.Message, io.Reader, error) {
	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid message id %q: %w", id, err)
	}

	if _, err := c.Select("INBOX", true); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", providerdomain.ErrProviderUnavailable, err)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uint32(uid))

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchEnvelope}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqSet, items, messages)
	}()

	msg := <-messages
	if err := <-done; err != nil {
		return nil, nil, fmt.Errorf("%w: %v", providerdomain.ErrProviderUnavailable, err)
	}
	if msg == nil {
		return nil, nil, fmt.Errorf("%w: message %s not found", providerdomain.ErrProviderUnavailable, id)
	}

	body := msg.GetBody(section)
	if body == nil {
		return nil, nil, fmt.Errorf("%w: empty body for message %s", providerdomain.ErrProviderUnavailable, id)
	}

	return msg, body, nil
}

// buildCriteria translates the compact query form into IMAP search
// criteria: OR-chained subject keywords plus date bounds. IMAP BEFORE is
// exclusive, so the until bound shifts one day to stay inclusive.
func buildCriteria(query string) *imap.SearchCriteria {
	criteria := imap.NewSearchCriteria()

	var keywords []string
	for _, field := range strings.Fields(query) {
		switch {
		case strings.HasPrefix(field, "since:"):
			if t, err := time.Parse("2006-01-02", strings.TrimPrefix(field, "since:")); err == nil {
				criteria.Since = t
			}
		case strings.HasPrefix(field, "until:"):
			if t, err := time.Parse("2006-01-02", strings.TrimPrefix(field, "until:")); err == nil {
				criteria.Before = t.AddDate(0, 0, 1)
			}
		default:
			keywords = append(keywords, field)
		}
	}

	if subjects := subjectCriteria(keywords); subjects != nil {
		criteria.Or = append(criteria.Or, subjects.Or...)
		if len(subjects.Or) == 0 {
			criteria.Header = subjects.Header
		}
	}

	return criteria
}

// subjectCriteria OR-chains one subject match per keyword.
func subjectCriteria(keywords []string) *imap.SearchCriteria {
	if len(keywords) == 0 {
		return nil
	}

	single := func(keyword string) *imap.SearchCriteria {
		c := imap.NewSearchCriteria()
		c.Header.Add("Subject", keyword)
		return c
	}

	node := single(keywords[0])
	for _, keyword := range keywords[1:] {
		combined := imap.NewSearchCriteria()
		combined.Or = append(combined.Or, [2]*imap.SearchCriteria{node, single(keyword)})
		node = combined
	}
	return node
}
