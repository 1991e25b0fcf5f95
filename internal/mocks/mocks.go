package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"support-console/internal/gateway"
	"support-console/internal/models"
)

type GatewayClientMock struct {
	mock.Mock
}

func (m *GatewayClientMock) ListSessions(ctx context.Context) ([]models.Session, error) {
	args := m.Called(ctx)
	var sessions []models.Session
	if val := args.Get(0); val != nil {
		sessions = val.([]models.Session)
	}
	return sessions, args.Error(1)
}

func (m *GatewayClientMock) ChatMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	args := m.Called(ctx, chatID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *GatewayClientMock) MarkRead(ctx context.Context, chatID string) error {
	args := m.Called(ctx, chatID)
	return args.Error(0)
}

func (m *GatewayClientMock) TimeoutStatus(ctx context.Context, chatID string) (models.TimeoutStatus, error) {
	args := m.Called(ctx, chatID)
	var status models.TimeoutStatus
	if val := args.Get(0); val != nil {
		status = val.(models.TimeoutStatus)
	}
	return status, args.Error(1)
}

func (m *GatewayClientMock) EndChat(ctx context.Context, chatID string) error {
	args := m.Called(ctx, chatID)
	return args.Error(0)
}

func (m *GatewayClientMock) CleanupSessions(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

var _ gateway.Client = (*GatewayClientMock)(nil)
