package mmpi

import "github.com/behrlich/mmpi/internal/constants"

// Re-exported tunables for callers that only import the root package.
const (
	MsgPayloadSizeBytes = constants.MsgPayloadSizeBytes
	MsgPoolSize         = constants.MsgPoolSize
	ConnectTimeout      = constants.ConnectTimeout
	FDProxyMaxClients   = constants.FDProxyMaxClients
	SpinYieldAfter      = constants.SpinYieldAfter
	WellKnownOwner      = constants.WellKnownOwner
)
