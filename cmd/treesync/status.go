package main

import (
	"errors"
	"fmt"

	"github.com/accelara/treesync/internal/health"
)

type statusCmd struct {
	Servers []string `name:"server" sep:"none" placeholder:"NAME=HOST:PORT" help:"Server to check, replaces the configured targets"`
	Watch   bool     `name:"watch" short:"w" help:"Keep checking until interrupted"`
}

func (c *statusCmd) Run(a *app) error {
	if len(c.Servers) > 0 {
		a.cfg.Status.Targets = c.Servers
	}
	targets, err := a.cfg.HealthTargets()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	checker := health.NewChecker(targets, a.cfg.Status.Timeout, a.bus, a.log)
	if c.Watch {
		return checker.Watch(a.ctx, a.cfg.Status.Interval, nil)
	}

	if rep := checker.Check(a.ctx); !rep.Online {
		return errors.New("no server is reachable")
	}
	return nil
}
