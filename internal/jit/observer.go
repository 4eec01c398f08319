package jit

import "github.com/vburojevic/jitctl/internal/domain"

// Observer receives the events of a run as they happen. Calls are made from
// the goroutine executing Run and must not block for long.
type Observer interface {
	StateChanged(*domain.StateChange)
	TunnelReady(*domain.TunnelReady)
	DebugServerReady(*domain.DebugServerReady)
	ProcessResolved(*domain.ProcessResolved)
	HelperChanged(*domain.HelperDebug)
}

// NopObserver ignores every event. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) StateChanged(*domain.StateChange)          {}
func (NopObserver) TunnelReady(*domain.TunnelReady)           {}
func (NopObserver) DebugServerReady(*domain.DebugServerReady) {}
func (NopObserver) ProcessResolved(*domain.ProcessResolved)   {}
func (NopObserver) HelperChanged(*domain.HelperDebug)         {}
