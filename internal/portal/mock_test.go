package portal

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// --- Session Mock ---

type mockSession struct {
	mock.Mock
}

func (m *mockSession) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *mockSession) WaitVisible(ctx context.Context, selector string) error {
	return m.Called(ctx, selector).Error(0)
}

func (m *mockSession) Focus(ctx context.Context, selector string) error {
	return m.Called(ctx, selector).Error(0)
}

func (m *mockSession) Type(ctx context.Context, selector, text string) error {
	return m.Called(ctx, selector, text).Error(0)
}

func (m *mockSession) Click(ctx context.Context, selector string) error {
	return m.Called(ctx, selector).Error(0)
}

func (m *mockSession) Text(ctx context.Context, selector string) (string, error) {
	args := m.Called(ctx, selector)
	return args.String(0), args.Error(1)
}

func (m *mockSession) Location(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockSession) ClearCookies(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockSession) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
