// Package service runs watch mode as a long-lived process under launchd or
// a terminal.
package service

import "context"

// Service defines the interface of a long-running process.
type Service interface {
	// Run starts the service. It blocks until the service is stopped.
	Run(ctx context.Context) error

	// Stop requests the service to stop.
	Stop() error

	// IsService returns true if started by the service manager.
	IsService() bool
}

// RunFunc is the main function that runs watch mode.
type RunFunc func(ctx context.Context) error

// ReloadFunc is called on SIGHUP.
type ReloadFunc func()
