package main

import (
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/credresolve/internal/batch"
	"github.com/sells-group/credresolve/internal/browser"
	"github.com/sells-group/credresolve/internal/config"
	"github.com/sells-group/credresolve/internal/pacing"
	"github.com/sells-group/credresolve/internal/portal"
	"github.com/sells-group/credresolve/internal/resilience"
)

// newLauncher returns the session launcher for the configured driver.
func newLauncher(c *config.Config) (browser.Launcher, error) {
	switch c.Browser.Driver {
	case config.DriverChrome:
		return browser.NewChromeLauncher(browser.ChromeOptions{
			Headless:  c.Browser.Headless,
			ExecPath:  c.Browser.ExecPath,
			UserAgent: c.Browser.UserAgent,
			Flags:     c.Browser.Flags,
		}), nil
	case config.DriverForm:
		return browser.NewFormLauncher(browser.FormOptions{
			UserAgent:         c.Browser.UserAgent,
			RequestsPerSecond: c.Browser.RequestsPerSecond,
			Timeout:           time.Duration(c.Portal.NavigationTimeoutSecs) * time.Second,
			CloudflareBypass:  c.Browser.CloudflareBypass,
		}), nil
	default:
		return nil, eris.Errorf("unknown browser driver %q", c.Browser.Driver)
	}
}

// initOrchestrator validates cfg for mode and wires the batch runner.
func initOrchestrator(mode string) (*batch.Orchestrator, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	launcher, err := newLauncher(cfg)
	if err != nil {
		return nil, err
	}

	zap.L().Info("batch runner ready",
		zap.String("driver", cfg.Browser.Driver),
		zap.String("login_url", cfg.Portal.LoginURL),
		zap.Int("logins_per_minute", cfg.Pacing.LoginsPerMinute),
	)

	return batch.New(
		launcher,
		portal.New(cfg.Portal),
		pacing.New(cfg.Pacing),
		resilience.FromSessionConfig(cfg.Session.AcquireAttempts, cfg.Session.AcquireBackoffMs),
	), nil
}
