package natives

import (
	"time"

	"github.com/ncruces/go-strftime"

	"embervm/internal/value"
)

// NewTimeModule binds time.now() (unix seconds) and time.format(ts, layout)
// using strftime-style format strings, the way a scripting-language stdlib
// typically exposes POSIX-familiar time formatting instead of Go's
// reference-time layout.
func NewTimeModule() *Module {
	m := NewModule("time")

	m.Register("now", 0, func(args []any) (any, error) {
		return value.NewInt(time.Now().Unix()), nil
	})

	m.Register("format", 2, func(args []any) (any, error) {
		ts := args[0].(value.Value)
		layout := args[1].(value.Value)
		layoutStr, _ := layout.AsString()
		t := time.Unix(ts.AsInt, 0).UTC()
		formatted := strftime.Format(layoutStr.String(), t)
		return value.NewRawString(formatted), nil
	})

	m.Register("sleep_ms", 1, func(args []any) (any, error) {
		ms := args[0].(value.Value)
		time.Sleep(time.Duration(ms.AsInt) * time.Millisecond)
		return value.NewNil(), nil
	})

	return m
}
