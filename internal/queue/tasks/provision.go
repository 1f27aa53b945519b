package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/ryde/accounts/internal/services"
	appErr "github.com/ryde/accounts/pkg/errors"
	"github.com/ryde/accounts/pkg/logger"
)

// TypeProvisionUser re-runs provisioning for an identity whose session was
// activated without a confirmed user record.
const TypeProvisionUser = "user:provision"

// ProvisionPayload is the task payload for user provisioning.
type ProvisionPayload struct {
	Name               string  `json:"name"`
	Email              string  `json:"email"`
	ExternalIdentityID string  `json:"external_identity_id"`
	ProfileImageURL    *string `json:"profile_image_url,omitempty"`
}

// NewProvisionUserTask builds a retryable task; the identity id makes it
// unique while queued.
func NewProvisionUserTask(in services.CreateUserInput) (*asynq.Task, error) {
	pb, err := json.Marshal(ProvisionPayload{
		Name:               in.Name,
		Email:              in.Email,
		ExternalIdentityID: in.ExternalIdentityID,
		ProfileImageURL:    in.ProfileImageURL,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeProvisionUser, pb,
		asynq.MaxRetry(10),
		asynq.TaskID(TypeProvisionUser+":"+in.ExternalIdentityID),
		asynq.Retention(24*time.Hour),
	), nil
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// RetryQueue enqueues provisioning tasks on asynq.
type RetryQueue struct {
	client enqueuer
}

// NewRetryQueue wraps an asynq client, usually *asynq.Client.
func NewRetryQueue(client enqueuer) *RetryQueue {
	return &RetryQueue{client: client}
}

func (q *RetryQueue) EnqueueProvision(ctx context.Context, in services.CreateUserInput) error {
	task, err := NewProvisionUserTask(in)
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "encode provision task")
	}
	info, err := q.client.EnqueueContext(ctx, task)
	switch {
	case err == nil:
		logger.L().Info("provision task enqueued",
			zap.String("task_id", info.ID),
			zap.String("queue", info.Queue),
		)
		return nil
	case isDuplicate(err):
		logger.L().Info("provision task already queued", zap.String("external_identity_id", in.ExternalIdentityID))
		return nil
	default:
		return appErr.Wrap(err, appErr.CodeUnavailable, "enqueue provision task")
	}
}

func isDuplicate(err error) bool {
	return errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask)
}

// ProvisionTaskHandler handles user provisioning tasks.
type ProvisionTaskHandler struct {
	users services.UserService
}

func NewProvisionTaskHandler(users services.UserService) *ProvisionTaskHandler {
	return &ProvisionTaskHandler{users: users}
}

// HandleProvision treats an already provisioned user as success. Bad payloads
// and validation failures are not retried.
func (h *ProvisionTaskHandler) HandleProvision(ctx context.Context, t *asynq.Task) error {
	var p ProvisionPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		logger.L().Error("invalid provision task payload", zap.Error(err))
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}

	logger.L().Info("handling provision task", zap.String("external_identity_id", p.ExternalIdentityID))

	res, err := h.users.Provision(ctx, services.CreateUserInput{
		Name:               p.Name,
		Email:              p.Email,
		ExternalIdentityID: p.ExternalIdentityID,
		ProfileImageURL:    p.ProfileImageURL,
	})
	if err != nil {
		if appErr.IsCode(err, appErr.CodeInvalid) {
			logger.L().Error("provision task rejected", zap.Error(err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		logger.L().Warn("provision task failed, will retry", zap.Error(err))
		return err
	}

	logger.L().Info("provision task completed",
		zap.String("outcome", string(res.Outcome)),
		zap.Int64("user_id", res.User.ID),
	)
	return nil
}
