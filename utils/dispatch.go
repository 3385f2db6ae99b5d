package utils

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/badoux/checkmail"
	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"gopkg.in/gomail.v2"
	"gorm.io/gorm"

	"pipelinecrm/config"
	"pipelinecrm/models"
)

// ErrNoConnection is returned when neither the sending user nor the
// organization has a usable mail connection.
var ErrNoConnection = errors.New("no mail connection configured")

// OutgoingMail is a fully rendered message handed to the dispatch
// client. DelayDays is informational only; scheduling already happened
// before the message reaches the mailer.
type OutgoingMail struct {
	To        string
	Subject   string
	Body      string
	FromName  string
	FromEmail string
	DelayDays int
}

// Mailer dispatches rendered messages through a provider connection.
// It never writes send logs; callers own the audit trail.
type Mailer struct {
	DB         *gorm.DB
	HTTPClient *http.Client
	BaseURL    string // provider send API base, overridable in tests
}

func NewMailer(db *gorm.DB) *Mailer {
	return &Mailer{
		DB:         db,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		BaseURL:    config.AppConfig.MailProvider.BaseURL,
	}
}

// ResolveConnection finds the connection to send through: the user's own
// connection first, then the organization default, else ErrNoConnection.
func (m *Mailer) ResolveConnection(orgID uint, userID *uint) (*models.MailConnection, error) {
	var conn models.MailConnection

	if userID != nil {
		err := m.DB.Where("organization_id = ? AND user_id = ?", orgID, *userID).
			Order("created_at ASC").
			First(&conn).Error
		if err == nil {
			return &conn, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	err := m.DB.Where("organization_id = ? AND is_default = ?", orgID, true).
		Order("created_at ASC").
		First(&conn).Error
	if err == nil {
		return &conn, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoConnection
	}
	return nil, err
}

// Send dispatches msg through conn and returns the provider message id.
// No message id is ever returned alongside an error, so a "sent" log
// entry can only exist for a call that actually succeeded.
func (m *Mailer) Send(conn *models.MailConnection, msg OutgoingMail) (string, error) {
	log := logrus.WithFields(logrus.Fields{
		"connection_id": conn.ID,
		"provider":      conn.Provider,
		"to":            msg.To,
		"delay_days":    msg.DelayDays,
	})

	if err := checkmail.ValidateFormat(msg.To); err != nil {
		log.WithError(err).Warn("invalid recipient address")
		return "", fmt.Errorf("invalid recipient %q: %w", msg.To, err)
	}

	if msg.FromEmail == "" {
		msg.FromEmail = conn.FromEmail
	}
	if msg.FromName == "" {
		msg.FromName = conn.FromName
	}

	var (
		messageID string
		err       error
	)
	switch conn.Provider {
	case models.ProviderGoogle:
		messageID, err = m.sendViaProvider(conn, msg)
	case models.ProviderSMTP:
		messageID, err = m.sendViaSMTP(conn, msg)
	default:
		err = fmt.Errorf("unknown mail provider %q", conn.Provider)
	}

	if err != nil {
		log.WithError(err).Error("dispatch failed")
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("provider", conn.Provider)
			scope.SetExtra("connection_id", conn.ID)
			sentry.CaptureException(err)
		})
		m.DB.Model(&models.MailConnection{}).Where("id = ?", conn.ID).
			Update("last_error", err.Error())
		return "", err
	}

	log.WithField("message_id", messageID).Info("message dispatched")
	m.DB.Model(&models.MailConnection{}).Where("id = ?", conn.ID).
		Updates(map[string]interface{}{
			"last_error":   "",
			"last_used_at": time.Now(),
		})
	return messageID, nil
}

// sendViaProvider encodes the message in the provider transport format
// (RFC 2822 wrapped in base64url) and posts it to the send API.
func (m *Mailer) sendViaProvider(conn *models.MailConnection, msg OutgoingMail) (string, error) {
	token, err := m.freshToken(conn)
	if err != nil {
		return "", fmt.Errorf("refreshing provider token: %w", err)
	}

	raw := buildRawMessage(msg)
	payload, err := json.Marshal(map[string]string{
		"raw": base64.RawURLEncoding.EncodeToString([]byte(raw)),
	})
	if err != nil {
		return "", err
	}

	url := m.BaseURL + "/gmail/v1/users/me/messages/send"
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("provider returned %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("decoding provider response: %w", err)
	}
	if result.ID == "" {
		return "", errors.New("provider response missing message id")
	}
	return result.ID, nil
}

// freshToken decrypts the stored OAuth token and refreshes it through
// the OAuth endpoint when expired, persisting the rotated credentials.
func (m *Mailer) freshToken(conn *models.MailConnection) (string, error) {
	accessToken, err := Decrypt(conn.OAuthToken)
	if err != nil {
		return "", err
	}
	refreshToken, err := Decrypt(conn.OAuthRefreshToken)
	if err != nil {
		return "", err
	}
	if accessToken == "" && refreshToken == "" {
		return "", errors.New("connection has no OAuth credentials")
	}

	oauthCfg := &oauth2.Config{
		ClientID:     config.AppConfig.MailProvider.ClientID,
		ClientSecret: config.AppConfig.MailProvider.ClientSecret,
		Endpoint:     google.Endpoint,
	}

	current := &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Expiry:       conn.OAuthExpiry,
	}
	token, err := oauthCfg.TokenSource(context.Background(), current).Token()
	if err != nil {
		return "", err
	}

	if token.AccessToken != accessToken {
		encrypted, err := Encrypt(token.AccessToken)
		if err != nil {
			return "", err
		}
		if err := m.DB.Model(&models.MailConnection{}).Where("id = ?", conn.ID).
			Updates(map[string]interface{}{
				"oauth_token":  encrypted,
				"oauth_expiry": token.Expiry,
			}).Error; err != nil {
			return "", err
		}
	}
	return token.AccessToken, nil
}

func (m *Mailer) sendViaSMTP(conn *models.MailConnection, msg OutgoingMail) (string, error) {
	password, err := Decrypt(conn.SMTPPassword)
	if err != nil {
		return "", err
	}

	gm := gomail.NewMessage()
	gm.SetAddressHeader("From", msg.FromEmail, msg.FromName)
	gm.SetHeader("To", msg.To)
	gm.SetHeader("Subject", msg.Subject)
	gm.SetBody("text/plain", msg.Body)

	dialer := gomail.NewDialer(conn.SMTPHost, conn.SMTPPort, conn.SMTPUsername, password)
	if err := dialer.DialAndSend(gm); err != nil {
		return "", fmt.Errorf("smtp send failed: %w", err)
	}

	// SMTP has no provider-assigned id; synthesize one for the log
	return fmt.Sprintf("smtp-%d-%d", conn.ID, time.Now().UnixNano()), nil
}

// buildRawMessage assembles the RFC 2822 message body
func buildRawMessage(msg OutgoingMail) string {
	var buf bytes.Buffer
	if msg.FromName != "" {
		fmt.Fprintf(&buf, "From: %s <%s>\r\n", msg.FromName, msg.FromEmail)
	} else {
		fmt.Fprintf(&buf, "From: %s\r\n", msg.FromEmail)
	}
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", msg.Subject)
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(msg.Body)
	return buf.String()
}
