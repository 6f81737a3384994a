//go:build !sonic

package wire

import (
	"github.com/goccy/go-json"
)

var marshal = json.Marshal
var unmarshal = json.Unmarshal
