// SPDX-License-Identifier: MIT

// Package queue implements the managed-queue transport: a minimal
// SQS-compatible JSON-protocol client authenticated by sigv4, and the
// consumer loop that feeds delivered batches to the correlator.
package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/skillsift/matchtrail/internal/metrics"
	"github.com/skillsift/matchtrail/internal/sigv4"
)

// Message is one delivered queue entry.
type Message struct {
	ID            string
	ReceiptHandle string
	Body          []byte
	GroupID       string
	ReceiveCount  int
}

// ClientConfig configures the queue client.
type ClientConfig struct {
	QueueURL       string // main analytics queue
	DeadLetterURL  string // terminal destination for poison messages
	Region         string
	RequestTimeout time.Duration // per-call HTTP timeout
}

// Client talks the SQS JSON protocol directly over HTTP, signing each
// request with the injected authenticator.
type Client struct {
	cfg      ClientConfig
	signer   sigv4.Authenticator
	http     *http.Client
	endpoint string
	logger   zerolog.Logger
	now      func() time.Time
}

// NewClient builds a queue client. The service endpoint is derived from
// the queue URL's host.
func NewClient(cfg ClientConfig, signer sigv4.Authenticator, logger zerolog.Logger) (*Client, error) {
	if cfg.QueueURL == "" {
		return nil, fmt.Errorf("queue: empty queue URL")
	}
	u, err := url.Parse(cfg.QueueURL)
	if err != nil {
		return nil, fmt.Errorf("queue: parse queue URL: %w", err)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:      cfg,
		signer:   signer,
		http:     &http.Client{Timeout: timeout},
		endpoint: u.Scheme + "://" + u.Host + "/",
		logger:   logger,
		now:      time.Now,
	}, nil
}

type sendMessageInput struct {
	QueueURL               string `json:"QueueUrl"`
	MessageBody            string `json:"MessageBody"`
	MessageGroupID         string `json:"MessageGroupId,omitempty"`
	MessageDeduplicationID string `json:"MessageDeduplicationId,omitempty"`
}

type sendMessageOutput struct {
	MessageID string `json:"MessageId"`
}

// Send enqueues one message body with the given partition and
// deduplication keys. Exactly one attempt, no retry: redelivery concerns
// begin only after the queue has accepted a message.
func (c *Client) Send(ctx context.Context, body []byte, groupID, dedupID string) error {
	var out sendMessageOutput
	err := c.call(ctx, "SendMessage", sendMessageInput{
		QueueURL:               c.cfg.QueueURL,
		MessageBody:            string(body),
		MessageGroupID:         groupID,
		MessageDeduplicationID: dedupID,
	}, &out)
	if err != nil {
		return err
	}
	c.logger.Debug().
		Str("message_id", out.MessageID).
		Str("group_id", groupID).
		Msg("message enqueued")
	return nil
}

type receiveMessageInput struct {
	QueueURL             string   `json:"QueueUrl"`
	MaxNumberOfMessages  int      `json:"MaxNumberOfMessages"`
	WaitTimeSeconds      int      `json:"WaitTimeSeconds"`
	SystemAttributeNames []string `json:"MessageSystemAttributeNames"`
}

type receiveMessageOutput struct {
	Messages []struct {
		MessageID     string            `json:"MessageId"`
		ReceiptHandle string            `json:"ReceiptHandle"`
		Body          string            `json:"Body"`
		Attributes    map[string]string `json:"Attributes"`
	} `json:"Messages"`
}

// Receive long-polls for up to max messages (capped at 10 by the
// protocol), returning delivery metadata including the attempt count.
func (c *Client) Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	if max <= 0 || max > 10 {
		max = 10
	}
	var out receiveMessageOutput
	err := c.call(ctx, "ReceiveMessage", receiveMessageInput{
		QueueURL:             c.cfg.QueueURL,
		MaxNumberOfMessages:  max,
		WaitTimeSeconds:      int(wait.Seconds()),
		SystemAttributeNames: []string{"ApproximateReceiveCount", "MessageGroupId"},
	}, &out)
	if err != nil {
		return nil, err
	}

	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		count, _ := strconv.Atoi(m.Attributes["ApproximateReceiveCount"])
		if count < 1 {
			count = 1
		}
		msgs = append(msgs, Message{
			ID:            m.MessageID,
			ReceiptHandle: m.ReceiptHandle,
			Body:          []byte(m.Body),
			GroupID:       m.Attributes["MessageGroupId"],
			ReceiveCount:  count,
		})
	}
	metrics.ObserveReceiveBatchSize(len(msgs))
	return msgs, nil
}

type deleteMessageInput struct {
	QueueURL      string `json:"QueueUrl"`
	ReceiptHandle string `json:"ReceiptHandle"`
}

// Delete acknowledges a successfully processed message.
func (c *Client) Delete(ctx context.Context, receiptHandle string) error {
	return c.call(ctx, "DeleteMessage", deleteMessageInput{
		QueueURL:      c.cfg.QueueURL,
		ReceiptHandle: receiptHandle,
	}, nil)
}

type changeVisibilityInput struct {
	QueueURL          string `json:"QueueUrl"`
	ReceiptHandle     string `json:"ReceiptHandle"`
	VisibilityTimeout int    `json:"VisibilityTimeout"`
}

// Release zeroes a message's visibility timeout so the queue redelivers
// it promptly instead of waiting for the default timeout.
func (c *Client) Release(ctx context.Context, receiptHandle string) error {
	return c.call(ctx, "ChangeMessageVisibility", changeVisibilityInput{
		QueueURL:      c.cfg.QueueURL,
		ReceiptHandle: receiptHandle,
	}, nil)
}

// DeadLetter moves a poison message to the dead-letter queue and deletes
// it from the main queue. This is terminal: the message is never retried.
func (c *Client) DeadLetter(ctx context.Context, msg Message) error {
	if c.cfg.DeadLetterURL == "" {
		return fmt.Errorf("queue: no dead-letter queue configured")
	}
	err := c.call(ctx, "SendMessage", sendMessageInput{
		QueueURL:               c.cfg.DeadLetterURL,
		MessageBody:            string(msg.Body),
		MessageGroupID:         msg.GroupID,
		MessageDeduplicationID: msg.ID,
	}, nil)
	if err != nil {
		return fmt.Errorf("dead-letter send: %w", err)
	}
	if err := c.Delete(ctx, msg.ReceiptHandle); err != nil {
		return fmt.Errorf("dead-letter delete: %w", err)
	}
	metrics.IncDeadLettered()
	return nil
}

// call performs one signed JSON-protocol request against the service
// endpoint.
func (c *Client) call(ctx context.Context, action string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("queue %s: marshal: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("queue %s: build request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/x-amz-json-1.0")
	req.Header.Set("X-Amz-Target", "AmazonSQS."+action)

	if err := c.signer.Sign(req, payload, c.now()); err != nil {
		metrics.IncQueueRequest(action, "sign_error")
		return fmt.Errorf("queue %s: sign: %w", action, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.IncQueueRequest(action, "http_error")
		return fmt.Errorf("queue %s: %w", action, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		metrics.IncQueueRequest(action, "http_error")
		return fmt.Errorf("queue %s: read response: %w", action, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.IncQueueRequest(action, "status_error")
		return fmt.Errorf("queue %s: status %d: %s", action, resp.StatusCode, truncate(data, 256))
	}

	metrics.IncQueueRequest(action, "ok")
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("queue %s: decode response: %w", action, err)
		}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
