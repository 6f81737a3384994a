//go:build sonic

package wire

import (
	"github.com/bytedance/sonic"
)

// ConfigStd keeps []byte as padded base64 and map keys sorted, matching the
// default codec on the wire.
var marshal = sonic.ConfigStd.Marshal
var unmarshal = sonic.ConfigStd.Unmarshal
