// Package publisher handles publishing device discovery events to RabbitMQ.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/caihongdao/antbox-monitor/internal/scanner"
)

const (
	eventSource = "/collectors/antbox-scanner"

	TypeDeviceDiscovered = "antbox.device.discovered"
	TypeScanCompleted    = "antbox.scan.completed"

	routingDeviceDiscovered = "discovered.device"
	routingScanCompleted    = "scan.completed"
)

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends CloudEvents to RabbitMQ. It implements scanner.EventSink;
// progress updates are not published.
type Publisher struct {
	conn     *amqp.Connection
	channel  channel
	exchange string
	logger   *zap.SugaredLogger
}

// CloudEvent represents the CloudEvents 1.0 specification structure.
type CloudEvent struct {
	SpecVersion     string `json:"specversion"`
	Type            string `json:"type"`
	Source          string `json:"source"`
	ID              string `json:"id"`
	Time            string `json:"time"`
	DataContentType string `json:"datacontenttype"`
	Data            any    `json:"data"`
}

// DeviceDiscoveredData is the payload of a device discovered event.
type DeviceDiscoveredData struct {
	DeviceID   string           `json:"device_id"`
	ScanID     string           `json:"scan_id"`
	IP         string           `json:"ip"`
	Port       int              `json:"port"`
	DeviceType scanner.Category `json:"device_type"`
	Status     scanner.Status   `json:"status"`
	Info       scanner.Metadata `json:"info"`
	Reachable  bool             `json:"reachable"`
	DetectedAt string           `json:"detected_at"`
}

// ScanCompletedData is the payload of a scan completed event.
type ScanCompletedData struct {
	ScanID         string           `json:"scan_id"`
	Status         string           `json:"status"`
	StartIP        string           `json:"start_ip"`
	EndIP          string           `json:"end_ip"`
	Total          int              `json:"total"`
	Counters       scanner.Counters `json:"counters"`
	ElapsedSeconds float64          `json:"elapsed_seconds"`
}

// New creates a new Publisher connected to RabbitMQ.
func New(url, exchange string, logger *zap.SugaredLogger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	p := newWithChannel(ch, exchange, logger)
	p.conn = conn
	return p, nil
}

func newWithChannel(ch channel, exchange string, logger *zap.SugaredLogger) *Publisher {
	if exchange == "" {
		exchange = "discovery.events"
	}
	return &Publisher{
		channel:  ch,
		exchange: exchange,
		logger:   logger,
	}
}

// Close closes the RabbitMQ connection.
func (p *Publisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// HandleResult publishes a device discovered event.
func (p *Publisher) HandleResult(sessionID uint64, outcome scanner.ProbeOutcome) error {
	data := DeviceDiscoveredData{
		DeviceID:   uuid.New().String(),
		ScanID:     strconv.FormatUint(sessionID, 10),
		IP:         outcome.Address,
		Port:       outcome.Port,
		DeviceType: outcome.Category,
		Status:     outcome.Status,
		Info:       outcome.Metadata,
		Reachable:  outcome.Ping != nil && outcome.Ping.Success,
		DetectedAt: outcome.DetectedAt.UTC().Format(time.RFC3339),
	}

	return p.publish(p.createEvent(TypeDeviceDiscovered, data), routingDeviceDiscovered)
}

// HandleProgress is a no-op; progress is too chatty for the event bus.
func (p *Publisher) HandleProgress(scanner.ProgressSnapshot) error {
	return nil
}

// HandleSummary publishes a scan completed event.
func (p *Publisher) HandleSummary(summary scanner.Summary) error {
	data := ScanCompletedData{
		ScanID:         strconv.FormatUint(summary.SessionID, 10),
		Status:         string(summary.Status),
		StartIP:        summary.StartAddress,
		EndIP:          summary.EndAddress,
		Total:          summary.Total,
		Counters:       summary.Counters,
		ElapsedSeconds: summary.ElapsedSeconds,
	}

	return p.publish(p.createEvent(TypeScanCompleted, data), routingScanCompleted)
}

func (p *Publisher) createEvent(eventType string, data any) CloudEvent {
	return CloudEvent{
		SpecVersion:     "1.0",
		Type:            eventType,
		Source:          eventSource,
		ID:              uuid.New().String(),
		Time:            time.Now().UTC().Format(time.RFC3339),
		DataContentType: "application/json",
		Data:            data,
	}
}

func (p *Publisher) publish(event CloudEvent, routingKey string) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/cloudevents+json",
			Body:        body,
			MessageId:   event.ID,
			Timestamp:   time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}

	p.logger.Debugw("Event published",
		"type", event.Type,
		"id", event.ID,
		"routing_key", routingKey,
	)

	return nil
}
