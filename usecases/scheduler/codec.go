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

package scheduler

import (
	"github.com/vmihailenco/msgpack/v5"
)

func encodeRecord(rec *Record) ([]byte, error) {
	return msgpack.Marshal(rec)
}

func decodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func encodeRunPin(pin RunPin) ([]byte, error) {
	return msgpack.Marshal(&pin)
}

func decodeRunPin(data []byte) (*RunPin, error) {
	var pin RunPin
	if err := msgpack.Unmarshal(data, &pin); err != nil {
		return nil, err
	}
	return &pin, nil
}

// encodeJobKey prefixes job IDs so records and the run config never collide
// in a run bucket.
func encodeJobKey(id string) []byte {
	buf := make([]byte, 1, len(id)+1)
	buf[0] = eTypeJob
	return append(buf, id...)
}
