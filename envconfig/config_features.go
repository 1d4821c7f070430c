// config_features.go - queue sizing and profiling toggles.
//
// This module contains:
// - MaxQueue: configured mpsync pending marker queue depth
// - Profile: substage profiling toggle
package envconfig

// MaxQueue is the configured depth of the mpsync pending marker queue.
// Configurable via CALCSERVER_MAX_QUEUE. It is reported by AsMap only:
// mpsync does not read it, and its ChannelTransport links are buffered
// to depth 1 regardless.
var MaxQueue = Uint("CALCSERVER_MAX_QUEUE", 512)

// Profile is the substage wall-time profiling toggle.
// Configurable via CALCSERVER_PROFILE. It is reported by AsMap only:
// pipeline.Base.Substage records timings whether or not it is set.
var Profile = Bool("CALCSERVER_PROFILE")
