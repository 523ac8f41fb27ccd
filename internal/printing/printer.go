// Package printing builds receipt and report jobs and delivers them to a printer.
package printing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"tillpoint/backend/internal/domain"
)

var ErrDeliveryFailed = errors.New("print delivery failed")

type Printer interface {
	Print(ctx context.Context, job domain.PrintJob) error
}

// AgentPrinter posts jobs to the local receipt agent that owns the serial printer.
type AgentPrinter struct {
	baseURL string
	client  *http.Client
}

func NewAgentPrinter(baseURL string, timeout time.Duration) *AgentPrinter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AgentPrinter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *AgentPrinter) Print(ctx context.Context, job domain.PrintJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("%w: encode job: %v", ErrDeliveryFailed, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/print", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: agent returned %d: %s", ErrDeliveryFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// NetworkPrinter writes raw ESC/POS to a printer listening on TCP, e.g. "192.168.1.100:9100".
type NetworkPrinter struct {
	address string
	timeout time.Duration
}

func NewNetworkPrinter(address string) *NetworkPrinter {
	return &NetworkPrinter{
		address: address,
		timeout: 5 * time.Second,
	}
}

func (p *NetworkPrinter) Print(ctx context.Context, job domain.PrintJob) error {
	data, err := Encode(job)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	dialer := net.Dialer{Timeout: p.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.address)
	if err != nil {
		return fmt.Errorf("%w: connect %s: %v", ErrDeliveryFailed, p.address, err)
	}
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrDeliveryFailed, p.address, err)
	}
	return nil
}

// Encode renders a job the way the agent writes it: text, extra hex commands, feeds, then cut.
func Encode(job domain.PrintJob) ([]byte, error) {
	extra, err := DecodeHex(job.Hex)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(job.Text)
	buf.Write(extra)
	for i := 0; i < job.LineFeeds; i++ {
		buf.WriteByte(LF)
	}
	if job.Cut {
		buf.Write([]byte{GS, 'V', 0x00})
	}
	return buf.Bytes(), nil
}

// LogPrinter is used when no printer is configured.
type LogPrinter struct{}

func (LogPrinter) Print(_ context.Context, job domain.PrintJob) error {
	log.Printf("[printing] %s job: %d bytes text, %d hex chunks", job.Kind, len(job.Text), len(job.Hex))
	return nil
}
