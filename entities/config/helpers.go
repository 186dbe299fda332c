//  _                          _
// | | _____  _____  ___  _ __| |_
// | |/ _ \ \/ / __|/ _ \| '__| __|
// | |  __/>  <\__ \ (_) | |  | |_
// |_|\___/_/\_\___/\___/|_|   \__|
//
//  Copyright © 2022 - 2026 Lexsort B.V. All rights reserved.
//
//  CONTACT: hello@lexsort.io
//

package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

func Enabled(value string) bool {
	switch strings.ToLower(value) {
	case "on", "enabled", "1", "true":
		return true
	default:
		return false
	}
}

// StoreOpTimeout bounds a single durable-store operation. Data transfers are
// streamed and sized by the input, so the default is generous.
func StoreOpTimeout() time.Duration {
	timeout := 30 * time.Second
	opt := os.Getenv("LEXSORT_STORE_TIMEOUT")
	if opt != "" {
		if parsed, err := time.ParseDuration(opt); err == nil {
			timeout = parsed
		} else {
			fmt.Printf("Invalid LEXSORT_STORE_TIMEOUT value: %s, using default %s\n", opt, timeout)
		}
	}
	return timeout
}
