package bbolt

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/uvensys/linkgate/lib/store"
)

func TestFactoryValid(t *testing.T) {
	for _, tt := range []struct {
		name   string
		config json.RawMessage
		err    error
	}{
		{
			name:   "ok",
			config: json.RawMessage(fmt.Sprintf(`{"path": %q}`, filepath.Join(t.TempDir(), "ok.bdb"))),
		},
		{
			name:   "missing path",
			config: json.RawMessage(`{}`),
			err:    store.ErrBadConfig,
		},
		{
			name:   "unparseable",
			config: json.RawMessage(`{`),
			err:    store.ErrBadConfig,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if err := (Factory{}).Valid(tt.config); !errors.Is(err, tt.err) {
				t.Logf("want: %v", tt.err)
				t.Logf("got:  %v", err)
				t.Error("wrong error")
			}
		})
	}
}
