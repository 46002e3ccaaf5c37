package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/google/uuid"

	"github.com/anthonian/aura-gateway/internal/config"
)

const receiveRetryDelay = time.Second

// sbSender is the subset of *azservicebus.Sender the driver uses.
type sbSender interface {
	SendMessage(ctx context.Context, message *azservicebus.Message, options *azservicebus.SendMessageOptions) error
	Close(ctx context.Context) error
}

// sbReceiver is the subset of *azservicebus.Receiver the driver uses.
type sbReceiver interface {
	ReceiveMessages(ctx context.Context, maxMessages int, options *azservicebus.ReceiveMessagesOptions) ([]*azservicebus.ReceivedMessage, error)
	CompleteMessage(ctx context.Context, message *azservicebus.ReceivedMessage, options *azservicebus.CompleteMessageOptions) error
	AbandonMessage(ctx context.Context, message *azservicebus.ReceivedMessage, options *azservicebus.AbandonMessageOptions) error
	DeadLetterMessage(ctx context.Context, message *azservicebus.ReceivedMessage, options *azservicebus.DeadLetterOptions) error
	Close(ctx context.Context) error
}

// ServiceBus is an Azure Service Bus driver using PeekLock receives.
type ServiceBus struct {
	opts   Options
	logger *slog.Logger

	client   *azservicebus.Client
	sender   sbSender
	receiver sbReceiver

	counters
}

// NewServiceBus connects with a connection string, or with the default Azure
// credential chain when only a namespace is configured.
func NewServiceBus(cfg config.ServiceBusConfig, opts Options, logger *slog.Logger) (*ServiceBus, error) {
	var (
		client *azservicebus.Client
		err    error
	)

	switch {
	case cfg.ConnectionString != "":
		client, err = azservicebus.NewClientFromConnectionString(cfg.ConnectionString, nil)
	case cfg.Namespace != "":
		cred, credErr := azidentity.NewDefaultAzureCredential(nil)
		if credErr != nil {
			return nil, fmt.Errorf("create azure credential: %w", credErr)
		}
		client, err = azservicebus.NewClient(cfg.Namespace, cred, nil)
	default:
		return nil, errors.New("service bus connection string or namespace is required")
	}
	if err != nil {
		return nil, fmt.Errorf("create service bus client: %w", err)
	}

	sender, err := client.NewSender(cfg.SenderQueue, nil)
	if err != nil {
		client.Close(context.Background())
		return nil, fmt.Errorf("create sender for %s: %w", cfg.SenderQueue, err)
	}

	receiver, err := client.NewReceiverForQueue(cfg.ReceiverQueue, &azservicebus.ReceiverOptions{
		ReceiveMode: azservicebus.ReceiveModePeekLock,
	})
	if err != nil {
		sender.Close(context.Background())
		client.Close(context.Background())
		return nil, fmt.Errorf("create receiver for %s: %w", cfg.ReceiverQueue, err)
	}

	sb := newServiceBus(sender, receiver, opts, logger)
	sb.client = client

	sb.logger.Info("service bus connected",
		"sender_queue", cfg.SenderQueue,
		"receiver_queue", cfg.ReceiverQueue,
	)
	return sb, nil
}

func newServiceBus(sender sbSender, receiver sbReceiver, opts Options, logger *slog.Logger) *ServiceBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &ServiceBus{
		opts:     opts.withDefaults(),
		logger:   logger,
		sender:   sender,
		receiver: receiver,
	}
}

// Send publishes body as a JSON message.
func (s *ServiceBus) Send(ctx context.Context, body []byte) error {
	err := s.sender.SendMessage(ctx, &azservicebus.Message{
		MessageID:   to.Ptr(uuid.NewString()),
		ContentType: to.Ptr("application/json"),
		Body:        body,
	}, nil)
	if err != nil {
		s.sendErrors.Add(1)
		return fmt.Errorf("service bus send: %w", err)
	}
	s.sent.Add(1)
	return nil
}

// Subscribe receives in batches sized to the free handler slots.
func (s *ServiceBus) Subscribe(ctx context.Context, handler Handler) error {
	d := newDispatcher(s.opts.Concurrency)
	defer d.wait()

	for {
		if !d.waitFree(ctx) {
			return nil
		}

		msgs, err := s.receiver.ReceiveMessages(ctx, d.free(), nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("service bus receive failed", "error", err)
			if !sleep(ctx, receiveRetryDelay) {
				return nil
			}
			continue
		}

		for _, rm := range msgs {
			if !d.acquire(ctx) {
				s.abandon(ctx, rm)
				continue
			}
			s.received.Add(1)

			msg := Message{
				ID:            rm.MessageID,
				Body:          rm.Body,
				DeliveryCount: int(rm.DeliveryCount),
			}
			d.run(func() {
				s.settle(ctx, rm, msg, handler(ctx, msg))
			})
		}
	}
}

func (s *ServiceBus) settle(ctx context.Context, rm *azservicebus.ReceivedMessage, msg Message, ok bool) {
	if ok {
		sctx, cancel := settleContext(ctx, s.opts.SettleTimeout)
		defer cancel()

		if err := s.receiver.CompleteMessage(sctx, rm, nil); err != nil {
			s.settleErrors.Add(1)
			s.logger.Warn("failed to complete message", "id", msg.ID, "error", err)
			return
		}
		s.completed.Add(1)
		return
	}

	if msg.DeliveryCount >= s.opts.MaxDeliveries {
		sctx, cancel := settleContext(ctx, s.opts.SettleTimeout)
		defer cancel()

		err := s.receiver.DeadLetterMessage(sctx, rm, &azservicebus.DeadLetterOptions{
			Reason:           to.Ptr("MaxDeliveriesExceeded"),
			ErrorDescription: to.Ptr(fmt.Sprintf("abandoned after %d deliveries", msg.DeliveryCount)),
		})
		if err != nil {
			s.settleErrors.Add(1)
			s.logger.Warn("failed to dead-letter message", "id", msg.ID, "error", err)
			return
		}
		s.deadLettered.Add(1)
		s.logger.Warn("message dead-lettered", "id", msg.ID, "deliveries", msg.DeliveryCount)
		return
	}

	s.abandon(ctx, rm)
}

func (s *ServiceBus) abandon(ctx context.Context, rm *azservicebus.ReceivedMessage) {
	sctx, cancel := settleContext(ctx, s.opts.SettleTimeout)
	defer cancel()

	if err := s.receiver.AbandonMessage(sctx, rm, nil); err != nil {
		s.settleErrors.Add(1)
		s.logger.Warn("failed to abandon message", "id", rm.MessageID, "error", err)
		return
	}
	s.abandoned.Add(1)
}

// Close closes the sender, the receiver and the client.
func (s *ServiceBus) Close(ctx context.Context) error {
	var errs []error
	if err := s.sender.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close sender: %w", err))
	}
	if err := s.receiver.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close receiver: %w", err))
	}
	if s.client != nil {
		if err := s.client.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close client: %w", err))
		}
	}
	s.logger.Info("service bus connection closed")
	return errors.Join(errs...)
}

// Stats returns current counters.
func (s *ServiceBus) Stats() Stats {
	return s.snapshot()
}
