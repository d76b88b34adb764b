//go:build !cgo
// +build !cgo

package rfbadapter

func init() {
	DefaultFactory = func() (Adapter, error) {
		return nil, ErrAdapterUnavailable
	}
}
