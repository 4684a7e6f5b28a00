package http

import (
	"time"

	xutil "MarketGuard/pkg/util"
)

// ParseTimeDefault reads a query timestamp, falling back to def.
func ParseTimeDefault(s string, def time.Time) time.Time { return xutil.ParseTimeDefault(s, def) }
