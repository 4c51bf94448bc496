package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"carelink/internal/domain/entity"
	"carelink/pkg/errors"
	"carelink/pkg/protocol"
)

// HTTPFallback talks to the /v1 conversation API.
type HTTPFallback struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPFallback(baseURL, token string, timeout time.Duration) *HTTPFallback {
	return &HTTPFallback{
		baseURL: strings.TrimRight(baseURL, "/") + "/v1/conversations",
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (f *HTTPFallback) OpenDirect(ctx context.Context, participantID string) (*entity.Conversation, error) {
	var conv entity.Conversation
	body := map[string]string{"participant_id": participantID}
	if err := f.do(ctx, http.MethodPost, "/direct", body, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (f *HTTPFallback) OpenAppointment(ctx context.Context, appointmentID string) (*entity.Conversation, error) {
	var conv entity.Conversation
	body := map[string]string{"appointment_id": appointmentID}
	if err := f.do(ctx, http.MethodPost, "/appointment", body, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (f *HTTPFallback) Conversation(ctx context.Context, conversationID string) (*entity.Conversation, error) {
	var conv entity.Conversation
	if err := f.do(ctx, http.MethodGet, "/"+url.PathEscape(conversationID), nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (f *HTTPFallback) History(ctx context.Context, conversationID, cursor string, limit int) (*HistoryPage, error) {
	query := url.Values{}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	path := "/" + url.PathEscape(conversationID) + "/messages"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var page HistoryPage
	if err := f.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (f *HTTPFallback) Append(ctx context.Context, conversationID string, req protocol.SendData) (*entity.Message, error) {
	var msg entity.Message
	if err := f.do(ctx, http.MethodPost, "/"+url.PathEscape(conversationID)+"/messages", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (f *HTTPFallback) MarkRead(ctx context.Context, conversationID, messageID string) (*entity.ReadMarker, error) {
	var out struct {
		Marker *entity.ReadMarker `json:"marker"`
	}
	body := map[string]string{"message_id": messageID}
	if err := f.do(ctx, http.MethodPut, "/"+url.PathEscape(conversationID)+"/read", body, &out); err != nil {
		return nil, err
	}
	return out.Marker, nil
}

func (f *HTTPFallback) UnreadSummary(ctx context.Context) (*entity.UnreadSummary, error) {
	var summary entity.UnreadSummary
	if err := f.do(ctx, http.MethodGet, "/unread", nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

func (f *HTTPFallback) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errors.BadRequest("Invalid request body", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, f.baseURL+path, reader)
	if err != nil {
		return errors.BadRequest("Invalid request", err)
	}
	req.Header.Set("Authorization", "Bearer "+f.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return errors.Transient("Request failed", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return errors.Transient(fmt.Sprintf("Unreadable response (status %d)", resp.StatusCode), err)
	}

	if !env.Success {
		if env.Error == nil {
			return errors.New(errors.CodeInternal, http.StatusText(resp.StatusCode), resp.StatusCode, nil)
		}
		return errors.New(env.Error.Code, env.Error.Message, resp.StatusCode, nil)
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return errors.Internal("Unexpected response shape", err)
	}
	return nil
}
