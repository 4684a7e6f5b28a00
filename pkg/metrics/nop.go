package metrics

import "MarketGuard/internal/domain/models"

// Nop discards every measurement. Used by tests and the stress CLI.
type Nop struct{}

func (Nop) RecordMessageSent(string, string)     {}
func (Nop) RecordError(string)                   {}
func (Nop) RecordLastPrice(string, float64)      {}
func (Nop) RecordLatency(string, float64)        {}
func (Nop) RecordCycle(*models.CycleResult)      {}
func (Nop) RecordFeedMismatch(string)            {}
func (Nop) RecordIncident(models.Classification) {}
func (Nop) RecordStress(*models.StressReport)    {}
