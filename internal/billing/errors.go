package billing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bher20/watermeter/internal/storage"
)

var (
	// ErrInvalidTariff marks a rejected tariff input (price, service type, date).
	ErrInvalidTariff = errors.New("invalid tariff")
	// ErrInvalidPeriod marks a billing period that cannot be computed.
	ErrInvalidPeriod = errors.New("invalid billing period")
	// ErrInvalidCalculation marks a calculation that fails its own invariants.
	ErrInvalidCalculation = errors.New("invalid payment calculation")

	// ErrTariffNotConfigured is returned when no tariff covers the instant.
	ErrTariffNotConfigured = errors.New("tariff not configured")
	// ErrTariffsIncomplete stops billing when any service lacks a tariff.
	ErrTariffsIncomplete = errors.New("tariffs incomplete")
)

// MissingTariffsError lists the services for which no tariff is in effect.
type MissingTariffsError struct {
	Services []storage.ServiceType
}

func (e *MissingTariffsError) Error() string {
	names := make([]string, len(e.Services))
	for i, s := range e.Services {
		names[i] = string(s)
	}
	return fmt.Sprintf("%v: no tariff for %s", ErrTariffsIncomplete, strings.Join(names, ", "))
}

func (e *MissingTariffsError) Is(target error) bool {
	return target == ErrTariffsIncomplete
}
