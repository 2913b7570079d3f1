package main

import (
	"errors"

	"github.com/lox/nimrodsync/internal/config"
	"github.com/lox/nimrodsync/internal/pipeline"
)

const (
	exitFailure        = 1
	exitConfig         = 2
	exitInfrastructure = 3
)

func exitCode(err error) int {
	var verr *config.ValidationError
	switch {
	case errors.As(err, &verr):
		return exitConfig
	case errors.Is(err, pipeline.ErrInfrastructure):
		return exitInfrastructure
	}
	return exitFailure
}
