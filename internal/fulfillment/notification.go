package fulfillment

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

// NotificationStatus tracks staff handling of a notification.
type NotificationStatus string

const (
	NotificationUnread NotificationStatus = "unread"
	NotificationRead   NotificationStatus = "read"
	NotificationFixed  NotificationStatus = "fixed"
)

// OutOfStockNotification is the type recorded when a picker declares an item out of stock.
const OutOfStockNotification = "สินค้าหมด (X)"

// Notification is a staff-facing event raised from the picking floor.
type Notification struct {
	ID        uuid.UUID          `json:"id"`
	Type      string             `json:"type"`
	OrderID   string             `json:"order_id"`
	PickerID  string             `json:"picker_id"`
	Topic     string             `json:"topic,omitempty"`
	Status    NotificationStatus `json:"status"`
	IsRead    bool               `json:"is_read"`
	CreatedAt time.Time          `json:"created_at"`
}

// NotificationFilter narrows notification listing.
type NotificationFilter struct {
	Status   NotificationStatus
	PickerID string
	Limit    int
}

// Topic is a catalogued alert reason a picker can raise.
type Topic struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// NotificationSink delivers notifications out of band. Delivery failures never
// affect the status change that raised them.
type NotificationSink interface {
	Notify(ctx context.Context, n Notification) error
}

// NotificationStore persists notifications.
type NotificationStore interface {
	InsertNotification(ctx context.Context, n Notification) error
	ListNotifications(ctx context.Context, filter NotificationFilter) ([]Notification, error)
	UpdateNotificationStatus(ctx context.Context, id uuid.UUID, status NotificationStatus) error
	ListTopics(ctx context.Context) ([]Topic, error)
}

func newNotification(kind, orderID, pickerID, topic string, now time.Time) Notification {
	return Notification{
		ID:        uuid.New(),
		Type:      kind,
		OrderID:   orderID,
		PickerID:  pickerID,
		Topic:     topic,
		Status:    NotificationUnread,
		CreatedAt: now,
	}
}

// RaiseAlert lets a picker flag a problem on an order under a catalogued topic.
func (s *Service) RaiseAlert(ctx context.Context, actor shared.Actor, orderID, topic string) (Notification, error) {
	if err := s.authorize(ctx, actor, shared.PermFulfillmentPick); err != nil {
		return Notification{}, err
	}
	orderID = strings.TrimSpace(orderID)
	topic = strings.TrimSpace(topic)
	var errs shared.ValidationErrors
	if orderID == "" {
		errs = append(errs, shared.ValidationError{Field: "order_id", Reason: "is required"})
	}
	if topic == "" {
		errs = append(errs, shared.ValidationError{Field: "topic", Reason: "is required"})
	}
	if len(errs) > 0 {
		return Notification{}, errs
	}
	n := newNotification(topic, orderID, actor.ID, topic, s.now().UTC())
	s.notify(ctx, n)
	return n, nil
}

// Notifications lists staff notifications.
func (s *Service) Notifications(ctx context.Context, actor shared.Actor, filter NotificationFilter) ([]Notification, error) {
	if err := s.authorize(ctx, actor, shared.PermNotificationView); err != nil {
		return nil, err
	}
	if actor.Role == shared.RolePicker {
		filter.PickerID = actor.ID
	}
	return s.repo.ListNotifications(ctx, filter)
}

// MarkNotificationRead marks a notification as read.
func (s *Service) MarkNotificationRead(ctx context.Context, actor shared.Actor, id uuid.UUID) error {
	return s.setNotificationStatus(ctx, actor, id, NotificationRead)
}

// MarkNotificationFixed marks the underlying problem as handled.
func (s *Service) MarkNotificationFixed(ctx context.Context, actor shared.Actor, id uuid.UUID) error {
	return s.setNotificationStatus(ctx, actor, id, NotificationFixed)
}

// Topics returns the alert topic catalogue.
func (s *Service) Topics(ctx context.Context) ([]Topic, error) {
	return s.repo.ListTopics(ctx)
}

// Deliver persists a notification handed over by the sink.
func (s *Service) Deliver(ctx context.Context, n Notification) error {
	if n.ID == uuid.Nil {
		return shared.Invalid("id", "is required")
	}
	if n.Status == "" {
		n.Status = NotificationUnread
	}
	if err := s.repo.InsertNotification(ctx, n); err != nil {
		return err
	}
	s.refreshBadges(ctx)
	return nil
}

func (s *Service) setNotificationStatus(ctx context.Context, actor shared.Actor, id uuid.UUID, status NotificationStatus) error {
	if err := s.authorize(ctx, actor, shared.PermNotificationManage); err != nil {
		return err
	}
	if err := s.repo.UpdateNotificationStatus(ctx, id, status); err != nil {
		return err
	}
	s.refreshBadges(ctx)
	return nil
}
