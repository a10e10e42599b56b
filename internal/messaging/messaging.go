package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	ClusterQueue    = "cluster_queue"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

type ClusterTaskPayload struct {
	JobId uuid.UUID
}

type Publisher interface {
	PublishClusterTask(ctx context.Context, payload ClusterTaskPayload) error

	Close()
}

type Reciever interface {
	Tasks() <-chan Task

	Close()
}
