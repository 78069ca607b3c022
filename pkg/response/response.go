// Package response encodes a CommandReply into the bytes, status and headers
// written back to the platform. It performs no I/O until Wire.WriteTo.
package response

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"

	"github.com/polisai/proxydrop/pkg/domain"
)

// Platform wire constants.
const (
	ResponseTypePong                     = 1
	ResponseTypeChannelMessageWithSource = 4
	MessageFlagEphemeral                 = 64

	ContentTypeJSON = "application/json;charset=UTF-8"
)

// Wire is an encoded HTTP response.
type Wire struct {
	Status int
	Header http.Header
	Body   []byte
}

// WriteTo writes the status, headers and body to w.
func (wr Wire) WriteTo(w http.ResponseWriter) error {
	for key, values := range wr.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(wr.Body)))
	w.WriteHeader(wr.Status)
	_, err := w.Write(wr.Body)
	return err
}

// AttachmentRef describes one uploaded file inside the message payload.
type AttachmentRef struct {
	ID          int    `json:"id"`
	Filename    string `json:"filename"`
	Description string `json:"description,omitempty"`
}

// MessageData is the message body of a channel-message response.
type MessageData struct {
	Content     string          `json:"content"`
	Flags       int             `json:"flags,omitempty"`
	Attachments []AttachmentRef `json:"attachments,omitempty"`
}

// InteractionResponse is the JSON payload returned for an interaction.
type InteractionResponse struct {
	Type int          `json:"type"`
	Data *MessageData `json:"data,omitempty"`
}

// File is one multipart file part.
type File struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Build encodes a reply.
func Build(reply domain.CommandReply) (Wire, error) {
	switch reply.Kind {
	case domain.ReplyPong:
		return EncodeJSON(http.StatusOK, InteractionResponse{Type: ResponseTypePong})
	case domain.ReplyEphemeral:
		return EncodeJSON(http.StatusOK, InteractionResponse{
			Type: ResponseTypeChannelMessageWithSource,
			Data: &MessageData{Content: reply.Text, Flags: MessageFlagEphemeral},
		})
	case domain.ReplyError:
		status := reply.Status
		if status == 0 {
			status = http.StatusBadRequest
		}
		return EncodeJSON(status, domain.ErrorResponse{Error: reply.Text})
	case domain.ReplyAttachment:
		if reply.Attachment == nil {
			return Wire{}, errors.New("attachment reply without attachment")
		}
		att := reply.Attachment
		payload := InteractionResponse{
			Type: ResponseTypeChannelMessageWithSource,
			Data: &MessageData{
				Content: reply.Text,
				Attachments: []AttachmentRef{{
					ID:          0,
					Filename:    att.Filename,
					Description: att.Description,
				}},
			},
		}
		return EncodeMultipart(payload, File{
			Filename:    att.Filename,
			ContentType: "text/plain",
			Content:     att.Content,
		})
	default:
		return Wire{}, fmt.Errorf("unknown reply kind %d", reply.Kind)
	}
}

// EncodeJSON serializes v as a JSON response with the given status.
func EncodeJSON(status int, v any) (Wire, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Wire{}, fmt.Errorf("encode json response: %w", err)
	}
	header := http.Header{}
	header.Set("Content-Type", ContentTypeJSON)
	return Wire{Status: status, Header: header, Body: body}, nil
}

// EncodeMultipart serializes payload into a payload_json part followed by one
// files[N] part per file. The boundary is random per call.
func EncodeMultipart(payload any, files ...File) (Wire, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return Wire{}, fmt.Errorf("encode payload_json: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreatePart(partHeader(`form-data; name="payload_json"`, "application/json"))
	if err != nil {
		return Wire{}, fmt.Errorf("create payload_json part: %w", err)
	}
	if _, err := part.Write(payloadJSON); err != nil {
		return Wire{}, fmt.Errorf("write payload_json part: %w", err)
	}

	for i, f := range files {
		contentType := f.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		disposition := fmt.Sprintf(`form-data; name="files[%d]"; filename=%q`, i, f.Filename)
		part, err := mw.CreatePart(partHeader(disposition, contentType))
		if err != nil {
			return Wire{}, fmt.Errorf("create files[%d] part: %w", i, err)
		}
		if _, err := part.Write(f.Content); err != nil {
			return Wire{}, fmt.Errorf("write files[%d] part: %w", i, err)
		}
	}

	if err := mw.Close(); err != nil {
		return Wire{}, fmt.Errorf("close multipart body: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", mw.FormDataContentType())
	return Wire{Status: http.StatusOK, Header: header, Body: buf.Bytes()}, nil
}

func partHeader(disposition, contentType string) textproto.MIMEHeader {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", disposition)
	h.Set("Content-Type", contentType)
	return h
}
