package notification

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"kanshi/internal/model"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender sends notifications with the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool sends status change notifications on a fixed number of
// goroutines.
type WorkerPool struct {
	size    int
	jobs    chan model.StatusChange
	db      *gorm.DB
	webpush *webpush.Options
	sender  NotificationSender
	labels  model.Labels
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options, labels model.Labels) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	if labels == nil {
		labels = model.DefaultLabels
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan model.StatusChange, size*16),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		labels:  labels,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("Worker %d started", id)
	for {
		select {
		case change := <-wp.jobs:
			log.Printf("Worker %d processing %s -> %s", id, change.MachineID, change.Status)
			wp.sendNotificationsForChange(ctx, change)
		case <-ctx.Done():
			log.Printf("Worker %d shutting down", id)
			return
		}
	}
}

// Dispatch queues a status change. It never blocks the caller; when the
// queue is full the change is dropped and logged.
func (wp *WorkerPool) Dispatch(change model.StatusChange) {
	select {
	case wp.jobs <- change:
	default:
		log.Printf("Notification queue full; dropping %s -> %s", change.MachineID, change.Status)
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan model.StatusChange {
	return wp.jobs
}

// Message renders the notification text for a change.
func (wp *WorkerPool) Message(label string, status model.OperatingState) string {
	return fmt.Sprintf("%s の状態が「%s」になりました", label, wp.labels.Label(status))
}

func (wp *WorkerPool) sendNotificationsForChange(ctx context.Context, change model.StatusChange) {
	var subscriptions []model.PushSubscription
	err := wp.db.WithContext(ctx).
		Joins("JOIN subscription_machine_mapping smm ON smm.push_subscription_endpoint = push_subscriptions.endpoint").
		Where("smm.machine_id = ?", string(change.MachineID)).
		Find(&subscriptions).Error
	if err != nil {
		log.Printf("Error fetching subscriptions for machine %s: %v", change.MachineID, err)
		return
	}

	if len(subscriptions) == 0 {
		return
	}

	log.Printf("Sending %d notifications for machine %s", len(subscriptions), change.MachineID)

	var machine model.Machine
	machineLabel := string(change.MachineID)
	if err := wp.db.WithContext(ctx).
		Select("display_name").
		First(&machine, "id = ?", string(change.MachineID)).Error; err != nil {
		log.Printf("Error fetching machine %s: %v", change.MachineID, err)
	} else if machine.DisplayName != "" {
		machineLabel = machine.DisplayName
	}

	message := wp.Message(machineLabel, change.Status)
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, []byte(message))
	}
}

func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
