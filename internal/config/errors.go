// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "errors"

// ErrUnknownConfigField marks a timegate config file that names a key the
// daemon does not know, such as a misspelled "rebuild.minInterval". Loader
// wraps it so callers can match with errors.Is.
var ErrUnknownConfigField = errors.New("unknown config field")
