// Package telegram provides a minimal Telegram Bot API client covering
// what the order bot needs: long polling for updates, sending text and
// inline-keyboard messages, uploading photos, and acknowledging
// callback queries. It also translates raw updates into the
// dispatcher's normalized events.
//
// Reference: https://core.telegram.org/bots/api
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/procoder700/telegrambot/internal/dispatch"
)

const (
	// defaultBaseURL is the Bot API endpoint root.
	defaultBaseURL = "https://api.telegram.org"

	// defaultTimeout bounds ordinary API calls. Long polls get this on
	// top of their server-side hold time.
	defaultTimeout = 30 * time.Second

	// pollHoldSeconds is how long the server may hold a GetUpdates
	// call before returning an empty batch.
	pollHoldSeconds = 25
)

// Client talks to the Telegram Bot API for one bot token.
type Client struct {
	httpClient *http.Client
	token      string
	baseURL    string
}

var _ dispatch.Transport = (*Client)(nil)

// NewClient creates a Bot API client for the given bot token.
func NewClient(token string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: defaultTimeout + pollHoldSeconds*time.Second,
		},
		token:   token,
		baseURL: defaultBaseURL,
	}
}

// --- Wire types ---

// apiResponse is the Bot API envelope; Result holds the
// method-specific payload.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// Update is one inbound event from getUpdates.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

// Message is an inbound or outbound chat message.
type Message struct {
	MessageID int64       `json:"message_id"`
	From      *User       `json:"from,omitempty"`
	Chat      Chat        `json:"chat"`
	Text      string      `json:"text,omitempty"`
	Photo     []PhotoSize `json:"photo,omitempty"`
}

// User identifies a Telegram account.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

// Chat identifies a conversation.
type Chat struct {
	ID int64 `json:"id"`
}

// PhotoSize is one resolution of an uploaded photo. Telegram sends
// several, smallest first.
type PhotoSize struct {
	FileID string `json:"file_id"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// CallbackQuery is an inline keyboard button press.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    *User    `json:"from"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data,omitempty"`
}

type inlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type inlineKeyboardMarkup struct {
	InlineKeyboard [][]inlineKeyboardButton `json:"inline_keyboard"`
}

// --- Polling ---

// GetUpdates long-polls for updates after offset. An empty batch after
// the server-side hold is normal.
func (c *Client) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	payload := map[string]any{
		"offset":          offset,
		"timeout":         pollHoldSeconds,
		"allowed_updates": []string{"message", "callback_query"},
	}

	var updates []Update
	if err := c.call(ctx, "getUpdates", payload, &updates); err != nil {
		return nil, fmt.Errorf("get updates: %w", err)
	}
	return updates, nil
}

// Translate converts a raw update into a dispatcher event. The second
// return is false for updates the bot does not handle (edits, joins,
// messages without a sender).
func Translate(u Update) (dispatch.Event, bool) {
	switch {
	case u.CallbackQuery != nil && u.CallbackQuery.From != nil:
		cq := u.CallbackQuery
		ev := dispatch.Event{
			Kind:       dispatch.KindMenu,
			UserID:     strconv.FormatInt(cq.From.ID, 10),
			Data:       cq.Data,
			CallbackID: cq.ID,
		}
		if cq.Message != nil {
			ev.ChatID = cq.Message.Chat.ID
		}
		return ev, true

	case u.Message != nil && u.Message.From != nil:
		m := u.Message
		ev := dispatch.Event{
			UserID: strconv.FormatInt(m.From.ID, 10),
			ChatID: m.Chat.ID,
		}
		switch {
		case len(m.Photo) > 0:
			ev.Kind = dispatch.KindPhoto
			// Largest rendition carries the proof.
			ev.PhotoRef = m.Photo[len(m.Photo)-1].FileID
		case strings.HasPrefix(m.Text, "/start"):
			ev.Kind = dispatch.KindStart
		case m.Text != "":
			ev.Kind = dispatch.KindText
			ev.Text = m.Text
		default:
			return dispatch.Event{}, false
		}
		return ev, true
	}
	return dispatch.Event{}, false
}

// --- Outbound (dispatch.Transport) ---

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, chatID int64, text string) error {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if err := c.call(ctx, "sendMessage", payload, nil); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	return nil
}

// SendMenu sends a text message with an inline keyboard.
func (c *Client) SendMenu(ctx context.Context, chatID int64, text string, rows [][]dispatch.Button) error {
	keyboard := make([][]inlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]inlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, inlineKeyboardButton{Text: b.Label, CallbackData: b.Data})
		}
		keyboard = append(keyboard, buttons)
	}

	payload := map[string]any{
		"chat_id":      chatID,
		"text":         text,
		"reply_markup": inlineKeyboardMarkup{InlineKeyboard: keyboard},
	}
	if err := c.call(ctx, "sendMessage", payload, nil); err != nil {
		return fmt.Errorf("send menu: %w", err)
	}
	return nil
}

// SendArtifact uploads a generated image by its local file path.
func (c *Client) SendArtifact(ctx context.Context, chatID int64, ref, caption string) error {
	if err := c.sendPhotoFile(ctx, chatID, ref, caption); err != nil {
		return fmt.Errorf("send artifact: %w", err)
	}
	return nil
}

// AckMenuChoice answers a callback query so the client stops showing
// its progress spinner.
func (c *Client) AckMenuChoice(ctx context.Context, callbackID string) error {
	payload := map[string]any{"callback_query_id": callbackID}
	if err := c.call(ctx, "answerCallbackQuery", payload, nil); err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}
	return nil
}

// AnnounceChannel posts a message to the broadcast channel. Used for
// the startup welcome post.
func (c *Client) AnnounceChannel(ctx context.Context, channelID, text string) error {
	payload := map[string]any{
		"chat_id": channelID,
		"text":    text,
	}
	if err := c.call(ctx, "sendMessage", payload, nil); err != nil {
		return fmt.Errorf("announce channel: %w", err)
	}
	log.Info().Str("channelId", channelID).Msg("Channel announcement posted")
	return nil
}

// --- Internal helpers ---

// call sends a JSON-encoded Bot API request and unmarshals the result
// payload into out (when out is non-nil).
func (c *Client) call(ctx context.Context, method string, payload any, out any) error {
	startTime := time.Now()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		log.Debug().Str("method", method).Dur("duration", duration).Err(err).Msg("Bot API request failed")
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	log.Debug().Str("method", method).Int("statusCode", httpResp.StatusCode).Dur("duration", duration).Msg("Bot API response")

	return c.decode(httpResp, method, out)
}

// sendPhotoFile uploads a photo from disk via multipart/form-data.
func (c *Client) sendPhotoFile(ctx context.Context, chatID int64, path, caption string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open artifact %s: %w", path, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return fmt.Errorf("write field: %w", err)
	}
	if caption != "" {
		if err := w.WriteField("caption", caption); err != nil {
			return fmt.Errorf("write field: %w", err)
		}
	}
	part, err := w.CreateFormFile("photo", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("copy artifact: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish form: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendPhoto", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	return c.decode(httpResp, "sendPhoto", nil)
}

// decode parses the Bot API envelope and surfaces API-level errors.
func (c *Client) decode(httpResp *http.Response, method string, out any) error {
	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("parse response: %w (body: %s)", err, truncate(string(body), 200))
	}

	if !resp.OK {
		log.Error().
			Str("method", method).
			Int("errorCode", resp.ErrorCode).
			Str("description", resp.Description).
			Msg("Bot API error")
		return fmt.Errorf("Bot API error: %s (code %d)", resp.Description, resp.ErrorCode)
	}

	if out != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("parse result: %w", err)
		}
	}
	return nil
}

// truncate returns the first n characters of s, appending "..." if truncated.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
