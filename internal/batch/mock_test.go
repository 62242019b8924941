package batch

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/credresolve/internal/browser"
	"github.com/sells-group/credresolve/internal/model"
)

// --- Launcher Mock ---

type mockLauncher struct {
	mock.Mock
}

func (m *mockLauncher) Acquire(ctx context.Context) (browser.Session, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(browser.Session), args.Error(1)
}

// --- Resolver Mock ---

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) Resolve(ctx context.Context, sess browser.Session, row model.CredentialRow) model.Outcome {
	return m.Called(ctx, sess, row).Get(0).(model.Outcome)
}

// --- Session Fake ---

// fakeSession only tracks Close; the resolver is mocked so no other method
// is reached.
type fakeSession struct {
	mu     sync.Mutex
	closes int
}

func (s *fakeSession) Navigate(context.Context, string) error       { return nil }
func (s *fakeSession) WaitVisible(context.Context, string) error    { return nil }
func (s *fakeSession) Focus(context.Context, string) error          { return nil }
func (s *fakeSession) Type(context.Context, string, string) error   { return nil }
func (s *fakeSession) Click(context.Context, string) error          { return nil }
func (s *fakeSession) Text(context.Context, string) (string, error) { return "", nil }
func (s *fakeSession) Location(context.Context) (string, error)     { return "", nil }
func (s *fakeSession) ClearCookies(context.Context) error           { return nil }

func (s *fakeSession) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSession) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// --- Pacer Fake ---

type fakePacer struct {
	mu       sync.Mutex
	admitted int
	delays   []bool
	delayErr error
}

func (p *fakePacer) Admit(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.admitted++
	return ctx.Err()
}

func (p *fakePacer) DelayBeforeNext(_ context.Context, isLastRow bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delays = append(p.delays, isLastRow)
	if !isLastRow {
		return p.delayErr
	}
	return nil
}
