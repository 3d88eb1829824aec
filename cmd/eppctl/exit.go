package main

import (
	"context"
	"errors"

	"github.com/danmuck/eppctl/internal/client"
	"github.com/danmuck/eppctl/internal/template"
)

const (
	exitOK       = 0
	exitFailure  = 1
	exitUsage    = 2
	exitTemplate = 3
	exitConnect  = 4
	exitTLS      = 5
	exitGreeting = 6
	exitSend     = 7
	exitReceive  = 8

	exitInterrupted = 130
)

type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }

func (e usageError) Unwrap() error { return e.err }

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	if errors.Is(err, context.Canceled) {
		return exitInterrupted
	}
	var ue usageError
	if errors.As(err, &ue) || errors.Is(err, template.ErrInvalidDefine) {
		return exitUsage
	}
	if errors.Is(err, template.ErrTemplateSource) {
		return exitTemplate
	}
	phase, ok := client.PhaseOf(err)
	if !ok {
		return exitFailure
	}
	switch phase {
	case client.PhaseConfig:
		return exitUsage
	case client.PhaseConnect:
		return exitConnect
	case client.PhaseTLS:
		return exitTLS
	case client.PhaseGreeting:
		return exitGreeting
	case client.PhaseSend:
		return exitSend
	case client.PhaseReceive:
		return exitReceive
	default:
		return exitFailure
	}
}
