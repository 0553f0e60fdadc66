package controller

import (
	"github.com/cenkalti/backoff/v4"
	"github.com/go-errors/errors"
	"github.com/the-lightning-land/lnshell/node"
	"sync"
	"time"
)

const eventClientBuffer = 32

type EventClient struct {
	Events     chan node.Event
	Id         uint32
	controller *Controller
	closeOnce  sync.Once
}

// runEvents drains the node's events until Shutdown. Every event,
// including the ones without a report, is acknowledged exactly once.
func (c *Controller) runEvents() {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	c.log.Debugf("Started event loop")

	for {
		for {
			select {
			case <-c.done:
				c.log.Debugf("Stopped event loop")
				return
			default:
			}

			event, err := c.node.NextEvent()
			if err != nil {
				c.log.Errorf("Could not get next event: %v", err)
				break
			}

			if event == nil {
				break
			}

			c.handleEvent(event)

			err = c.acknowledge(event)
			if errors.Is(err, node.ErrEventMismatch) {
				c.log.Warnf("Event %v was already acknowledged", event.EventType())
				continue
			}

			if err != nil {
				select {
				case <-c.done:
					// unacknowledged events are delivered again after restart
					c.log.Debugf("Stopped event loop with pending %v event", event.EventType())
				default:
					c.log.Errorf("Could not acknowledge %v event: %v", event.EventType(), err)
					c.printf("Event processing stopped, could not acknowledge event: %v", err)
				}
				return
			}
		}

		select {
		case <-c.done:
			c.log.Debugf("Stopped event loop")
			return
		case <-ticker.C:
		}
	}
}

func (c *Controller) acknowledge(event node.Event) error {
	op := func() error {
		err := c.node.EventHandled(event)
		if errors.Is(err, node.ErrEventMismatch) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		c.log.Warnf("Could not acknowledge %v event, retrying in %v: %v", event.EventType(), wait, err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = c.ackRetryTimeout

	return backoff.RetryNotify(op, backoff.WithContext(b, c.ctx), notify)
}

func (c *Controller) handleEvent(event node.Event) {
	switch e := event.(type) {
	case *node.PaymentReceived:
		c.printf("Received %d msats!", e.AmountMsat)
	case *node.PaymentClaimable:
		c.printf("Claimable payment: %v", e.PaymentHash)
	case *node.PaymentSuccessful:
		c.printf("Payment success! %v", e.PaymentID)
	case *node.PaymentFailed:
		c.printf("Payment failed :( %v", e.PaymentID)
		c.log.Debugf("Payment %v failed: %v", e.PaymentID, e.Reason)
	case *node.ChannelPending:
		c.printf("Channel Pending: %v", e.FundingTxo.Txid)
	case *node.ChannelReady:
		c.printf("Channel Ready: %v", e.ChannelID)
	default:
		c.log.Debugf("Ignoring %v event", event.EventType())
	}

	c.publish(event)
}

// SubscribeEvents returns a client receiving every handled event. Slow
// clients miss events instead of holding up the loop.
func (c *Controller) SubscribeEvents() *EventClient {
	client := &EventClient{
		Events:     make(chan node.Event, eventClientBuffer),
		controller: c,
	}

	c.eventClientMtx.Lock()
	defer c.eventClientMtx.Unlock()

	client.Id = c.nextEventClientID
	c.nextEventClientID++

	select {
	case <-c.done:
		client.close()
	default:
		c.eventClients[client.Id] = client
	}

	return client
}

func (c *Controller) publish(event node.Event) {
	c.eventClientMtx.Lock()
	defer c.eventClientMtx.Unlock()

	for _, client := range c.eventClients {
		select {
		case client.Events <- event:
		default:
			c.log.Warnf("Dropping %v event for slow client %v", event.EventType(), client.Id)
		}
	}
}

func (ec *EventClient) Cancel() {
	ec.controller.eventClientMtx.Lock()
	delete(ec.controller.eventClients, ec.Id)
	ec.controller.eventClientMtx.Unlock()

	ec.close()
}

func (ec *EventClient) close() {
	ec.closeOnce.Do(func() {
		close(ec.Events)
	})
}
