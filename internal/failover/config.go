package failover

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// AbandonPolicy decides what happens to telemetry on the original primary
// when a promotion attempt fails.
type AbandonPolicy string

const (
	// AbandonResumeOriginal resumes telemetry on the original primary.
	AbandonResumeOriginal AbandonPolicy = "resume-original"
	// AbandonKeepPaused leaves it paused until a later promotion succeeds.
	AbandonKeepPaused AbandonPolicy = "keep-paused"
)

// ParseAbandonPolicy validates a configured policy name. The empty string
// selects AbandonResumeOriginal.
func ParseAbandonPolicy(s string) (AbandonPolicy, error) {
	switch p := AbandonPolicy(s); p {
	case "":
		return AbandonResumeOriginal, nil
	case AbandonResumeOriginal, AbandonKeepPaused:
		return p, nil
	default:
		return "", fmt.Errorf("unknown abandon policy %q", s)
	}
}

// Config holds the controller's tuning. Zero values are replaced by the
// defaults from DefaultConfig.
type Config struct {
	FailureThreshold uint          // consecutive primary-down ticks before acting
	Interval         time.Duration // pause between ticks
	ProbeTimeout     time.Duration // bound on one reachability probe
	AbandonPolicy    AbandonPolicy
	DrainTimeout     time.Duration // bound on one promotion protocol run
	PauseTimeout     time.Duration // share of DrainTimeout the pause on a down primary may use

	AlertSubject    string
	AlertBody       string
	AlertRecipients []string
}

// DefaultConfig returns the stock tuning: five one-second ticks before
// failover.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Interval:         time.Second,
		ProbeTimeout:     time.Second,
		AbandonPolicy:    AbandonResumeOriginal,
		DrainTimeout:     60 * time.Second,
		PauseTimeout:     5 * time.Second,
		AlertSubject:     "Management clusters are unreachable",
		AlertBody: "Both management cluster nodes are unreachable. " +
			"Automatic failover is not possible; investigate the data centres.",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold == 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.Interval == 0 {
		c.Interval = d.Interval
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	if c.AbandonPolicy == "" {
		c.AbandonPolicy = d.AbandonPolicy
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = d.DrainTimeout
	}
	if c.PauseTimeout == 0 {
		c.PauseTimeout = min(d.PauseTimeout, c.DrainTimeout/4)
	}
	if c.AlertSubject == "" {
		c.AlertSubject = d.AlertSubject
	}
	if c.AlertBody == "" {
		c.AlertBody = d.AlertBody
	}
	return c
}

func (c Config) validate() error {
	var errs []error
	if c.Interval < 0 {
		errs = append(errs, errors.New("interval must be positive"))
	}
	if c.ProbeTimeout < 0 {
		errs = append(errs, errors.New("probe timeout must be positive"))
	}
	if c.DrainTimeout < 0 {
		errs = append(errs, errors.New("drain timeout must be positive"))
	}
	if c.PauseTimeout < 0 {
		errs = append(errs, errors.New("pause timeout must be positive"))
	}
	if c.PauseTimeout >= c.DrainTimeout && c.DrainTimeout > 0 {
		errs = append(errs, fmt.Errorf("pause timeout %s leaves nothing of drain timeout %s for the promotion", c.PauseTimeout, c.DrainTimeout))
	}
	if _, err := ParseAbandonPolicy(string(c.AbandonPolicy)); err != nil {
		errs = append(errs, err)
	}
	return multierr.Combine(errs...)
}
